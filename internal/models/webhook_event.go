package models

import "time"

// WebhookEvent запись журнала входящих событий платёжного провайдера.
// Журнал служит для аудита и не влияет на повторную обработку.
type WebhookEvent struct {
	ID              int64
	EventID         string     // Идентификатор события у провайдера
	EventType       string     // Тип события, например invoice.paid
	Payload         []byte     // Исходное тело запроса
	DeliveryCount   int        // Сколько раз событие было доставлено
	Intent          string     // Итоговое намерение после нормализации
	ProcessedAt     *time.Time // Время последней обработки
	ProcessingError string     // Текст ошибки последней обработки
	CreatedAt       time.Time
}

// PlanChange публикуется в очередь после изменения тарифа пользователя.
type PlanChange struct {
	UserUID    string    `json:"user_uid"`
	Plan       *string   `json:"plan"`
	EventType  string    `json:"event_type"`
	OccurredAt time.Time `json:"occurred_at"`
}
