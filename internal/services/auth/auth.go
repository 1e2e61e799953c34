// Package services содержит логику регистрации и входа пользователей.
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/magabrotheeeer/billing-sync/internal/lib/password"
	"github.com/magabrotheeeer/billing-sync/internal/models"
)

// ErrInvalidCredentials возвращается при неизвестном email или неверном пароле.
var ErrInvalidCredentials = errors.New("invalid credentials")

// UserRepository описывает контракт для работы с пользователями в базе данных.
type UserRepository interface {
	// CreateUser сохраняет нового пользователя без тарифа и возвращает его UID.
	CreateUser(ctx context.Context, email, passwordHash string) (string, error)

	// GetUserByEmail возвращает пользователя по email или ошибку, если не найден.
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
}

// SessionIssuer открывает сессию и подписывает её токен.
type SessionIssuer interface {
	Create(ctx context.Context, user *models.User) (*models.Session, error)
	Token(sess *models.Session) (string, error)
}

// AuthService отвечает за регистрацию и вход.
type AuthService struct {
	users    UserRepository
	sessions SessionIssuer
}

// NewAuthService создает новый экземпляр AuthService.
func NewAuthService(users UserRepository, sessions SessionIssuer) *AuthService {
	return &AuthService{
		users:    users,
		sessions: sessions,
	}
}

// Register создает нового пользователя без тарифа с хэшированием пароля.
func (s *AuthService) Register(ctx context.Context, email, rawPassword string) (string, error) {
	const op = "auth.Register"

	hashed, err := password.GetHash(rawPassword)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	uid, err := s.users.CreateUser(ctx, email, hashed)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return uid, nil
}

// Login проверяет пароль и открывает новую сессию со снимком тарифа.
func (s *AuthService) Login(ctx context.Context, email, rawPassword string) (*models.Session, string, error) {
	const op = "auth.Login"

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w: %w", op, ErrInvalidCredentials, err)
	}
	if err := password.CompareHash(user.PasswordHash, rawPassword); err != nil {
		return nil, "", fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}
	sess, err := s.sessions.Create(ctx, user)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", op, err)
	}
	token, err := s.sessions.Token(sess)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", op, err)
	}
	return sess, token, nil
}
