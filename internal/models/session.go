package models

import "time"

// Session кешированная запись сессии со снимком тарифа пользователя.
//
// Снимок может отставать от users: вебхук меняет запись пользователя асинхронно,
// а сессия перечитывает её только при обновлении.
type Session struct {
	ID        string    `json:"id"`
	UserUID   string    `json:"user_uid"`
	Email     string    `json:"email"`
	Plan      *string   `json:"plan"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HasPlan сообщает, отражает ли снимок сессии активный тариф.
func (s *Session) HasPlan() bool {
	return s != nil && s.Plan != nil && *s.Plan != ""
}
