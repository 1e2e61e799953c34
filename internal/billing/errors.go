// Package billing переводит события платёжного провайдера (Stripe) в канонические
// намерения: проверяет подпись вебхука и сводит разнородные типы событий
// к Activate, Deactivate или Ignore.
package billing

import "errors"

var (
	// ErrAuthentication подпись вебхука отсутствует, повреждена или не совпадает.
	// Отвечаем провайдеру клиентской ошибкой, локально не повторяем.
	ErrAuthentication = errors.New("webhook signature verification failed")
	// ErrMissingMetadata в событии нет идентификатора пользователя там, где он обязан быть.
	// Отдаётся как серверная ошибка, чтобы провайдер повторил доставку.
	ErrMissingMetadata = errors.New("user id not found in subscription metadata")
	// ErrMissingReference у счёта или checkout-сессии нет ссылки на подписку
	// либо подписка не найдена у провайдера. Такое событие игнорируется.
	ErrMissingReference = errors.New("linked subscription reference not found")
)
