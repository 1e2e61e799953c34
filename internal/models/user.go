// Package models содержит доменные структуры сервиса: пользователя с его
// биллинговыми полями, сессию со снимком тарифа и служебные записи вебхуков.
package models

import "time"

// PlanEssential единственный платный тариф. Отсутствие тарифа хранится как NULL.
const PlanEssential = "essential"

// User представляет зарегистрированного пользователя.
//
// Plan и BillingSubscriptionID заполняются и очищаются только вместе:
// plan != nil тогда и только тогда, когда BillingSubscriptionID != nil.
type User struct {
	UUID                  string    // Уникальный идентификатор пользователя
	Email                 string    // Электронная почта (уникальная)
	PasswordHash          string    // bcrypt-хэш пароля
	Plan                  *string   // Активный тариф, nil: тарифа нет
	BillingCustomerID     *string   // Ссылка на покупателя у платёжного провайдера
	BillingSubscriptionID *string   // Ссылка на подписку у платёжного провайдера
	CreatedAt             time.Time // Дата регистрации
	UpdatedAt             time.Time // Дата последнего изменения
}

// HasPlan сообщает, есть ли у пользователя активный тариф.
func (u *User) HasPlan() bool {
	return u != nil && u.Plan != nil && *u.Plan != ""
}

// DummyUser используется для приёма данных регистрации и входа из JSON-запроса.
type DummyUser struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}
