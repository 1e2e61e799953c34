// Package sl содержит вспомогательные функции для работы с логгером slog.
package sl

import "log/slog"

// Err возвращает slog.Attr с ключом "error" и текстом ошибки.
// Для nil возвращается пустое значение, чтобы вызов был безопасен в defer-ветках.
//
// Пример:
//
//	log.Error("failed to apply intent", sl.Err(err))
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}

// Op возвращает атрибут с именем операции в формате "package.Func".
func Op(op string) slog.Attr {
	return slog.String("op", op)
}
