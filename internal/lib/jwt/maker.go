// Package jwt выпускает и проверяет подписанные токены сессий.
//
// Токен несёт только ссылку на запись сессии (session_id) и владельца (user_uid).
// Снимок тарифа хранится в самой записи сессии, поэтому токен не нужно
// перевыпускать при каждом изменении биллинга.
package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken возвращается для токенов с неверной подписью, истёкшим сроком
// или без обязательных полей.
var ErrInvalidToken = errors.New("invalid session token")

// SessionClaims описывает данные, которые хранятся в токене сессии.
type SessionClaims struct {
	SessionID string `json:"sid"` // Идентификатор записи сессии
	UserUID   string `json:"uid"` // Владелец сессии
	jwt.RegisteredClaims
}

// Maker подписывает и разбирает токены сессий секретным ключом HS256.
type Maker struct {
	secretKey []byte
	tokenTTL  time.Duration
}

// NewMaker создаёт Maker с секретом и временем жизни токена.
func NewMaker(secretKey string, ttl time.Duration) *Maker {
	return &Maker{
		secretKey: []byte(secretKey),
		tokenTTL:  ttl,
	}
}

// TTL возвращает время жизни выпускаемых токенов.
func (m *Maker) TTL() time.Duration {
	return m.tokenTTL
}

// GenerateToken выпускает токен для сессии sessionID пользователя userUID.
func (m *Maker) GenerateToken(sessionID, userUID string) (string, error) {
	const op = "jwt.GenerateToken"
	now := time.Now()
	claims := SessionClaims{
		SessionID: sessionID,
		UserUID:   userUID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userUID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenTTL)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secretKey)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return token, nil
}

// ParseToken проверяет подпись и срок действия токена и возвращает его claims.
func (m *Maker) ParseToken(tokenStr string) (*SessionClaims, error) {
	const op = "jwt.ParseToken"
	token, err := jwt.ParseWithClaims(tokenStr, &SessionClaims{}, func(_ *jwt.Token) (any, error) {
		return m.secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid || claims.SessionID == "" || claims.UserUID == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}
	return claims, nil
}
