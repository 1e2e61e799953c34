// Package session выдаёт, проверяет и обновляет сессии пользователей.
// Сессия хранит снимок тарифа, который перечитывается из базы при обновлении.
//
// Сессию, удалённую после изменения тарифа, следующий запрос с тем же токеном
// пересобирает из записи пользователя и получает новый токен.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/billing-sync/internal/cache"
	"github.com/magabrotheeeer/billing-sync/internal/lib/jwt"
	"github.com/magabrotheeeer/billing-sync/internal/lib/sl"
	"github.com/magabrotheeeer/billing-sync/internal/models"
)

// ErrUnauthenticated возвращается для невалидного токена или удалённой сессии.
var ErrUnauthenticated = errors.New("unauthenticated")

// UserReader читает актуальную запись пользователя.
type UserReader interface {
	GetUser(ctx context.Context, userUID string) (*models.User, error)
}

// Store хранит сессии. Get для отсутствующей сессии возвращает
// cache.ErrSessionNotFound.
type Store interface {
	Save(ctx context.Context, sess *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	Update(ctx context.Context, sess *models.Session) error
	Delete(ctx context.Context, id, userUID string) error
	Invalidated(ctx context.Context, id string) (string, bool, error)
	ForgetInvalidated(ctx context.Context, id string) error
}

// TokenMaker подписывает и проверяет токены сессий.
type TokenMaker interface {
	GenerateToken(sessionID, userUID string) (string, error)
	ParseToken(token string) (*jwt.SessionClaims, error)
	TTL() time.Duration
}

// Service управляет сессиями.
type Service struct {
	users  UserReader
	store  Store
	tokens TokenMaker
	log    *slog.Logger
	now    func() time.Time
}

// New создаёт Service.
func New(log *slog.Logger, users UserReader, store Store, tokens TokenMaker) *Service {
	return &Service{
		users:  users,
		store:  store,
		tokens: tokens,
		log:    log,
		now:    time.Now,
	}
}

// Create открывает новую сессию со снимком текущего тарифа пользователя.
func (s *Service) Create(ctx context.Context, user *models.User) (*models.Session, error) {
	const op = "session.Create"

	now := s.now().UTC()
	sess := &models.Session{
		ID:        uuid.NewString(),
		UserUID:   user.UUID,
		Email:     user.Email,
		Plan:      user.Plan,
		CreatedAt: now,
		ExpiresAt: now.Add(s.tokens.TTL()),
	}
	if err := s.store.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sess, nil
}

// Token подписывает токен для сессии.
func (s *Service) Token(sess *models.Session) (string, error) {
	const op = "session.Token"

	token, err := s.tokens.GenerateToken(sess.ID, sess.UserUID)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return token, nil
}

// Authenticate проверяет токен и возвращает живую сессию. Если сессия была
// удалена после изменения тарифа, она пересобирается из записи пользователя;
// тогда вторым значением возвращается новый токен, иначе пустая строка.
func (s *Service) Authenticate(ctx context.Context, token string) (*models.Session, string, error) {
	const op = "session.Authenticate"

	claims, err := s.tokens.ParseToken(token)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w: %w", op, ErrUnauthenticated, err)
	}
	sess, err := s.store.Get(ctx, claims.SessionID)
	if errors.Is(err, cache.ErrSessionNotFound) {
		sess, err = s.restore(ctx, claims.SessionID, claims.UserUID)
		if err != nil {
			return nil, "", fmt.Errorf("%s: %w", op, err)
		}
		fresh, err := s.Token(sess)
		if err != nil {
			return nil, "", fmt.Errorf("%s: %w", op, err)
		}
		return sess, fresh, nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w: %w", op, ErrUnauthenticated, err)
	}
	if sess.UserUID != claims.UserUID {
		return nil, "", fmt.Errorf("%s: %w: session owner mismatch", op, ErrUnauthenticated)
	}
	return sess, "", nil
}

// Get перечитывает сессию вместе с актуальным тарифом пользователя. Если тариф
// в записи пользователя изменился, снимок сессии обновляется на месте. Сессия,
// удалённая после изменения тарифа, пересобирается под новым идентификатором.
func (s *Service) Get(ctx context.Context, id string) (*models.Session, error) {
	const op = "session.Get"

	sess, err := s.store.Get(ctx, id)
	if errors.Is(err, cache.ErrSessionNotFound) {
		sess, err = s.restore(ctx, id, "")
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return sess, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	user, err := s.users.GetUser(ctx, sess.UserUID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if samePlan(sess.Plan, user.Plan) {
		return sess, nil
	}
	sess.Plan = user.Plan
	if err := s.store.Update(ctx, sess); err != nil {
		s.log.Warn("failed to update session plan snapshot",
			sl.Op(op),
			slog.String("session_id", sess.ID),
			sl.Err(err),
		)
	}
	return sess, nil
}

// restore пересобирает сессию id, удалённую через инвалидацию. owner, если
// задан, должен совпасть с владельцем удалённой сессии.
func (s *Service) restore(ctx context.Context, id, owner string) (*models.Session, error) {
	const op = "session.restore"

	userUID, ok, err := s.store.Invalidated(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrUnauthenticated, cache.ErrSessionNotFound)
	}
	if owner != "" && owner != userUID {
		return nil, fmt.Errorf("%s: %w: session owner mismatch", op, ErrUnauthenticated)
	}

	user, err := s.users.GetUser(ctx, userUID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	fresh, err := s.Create(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := s.store.ForgetInvalidated(ctx, id); err != nil {
		s.log.Warn("failed to clear invalidation mark", sl.Op(op), slog.String("session_id", id), sl.Err(err))
	}
	s.log.Info("session rebuilt after invalidation",
		slog.String("user_uid", userUID),
		slog.String("session_id", fresh.ID),
	)
	return fresh, nil
}

func samePlan(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Refresh перечитывает пользователя и заменяет сессию новой с актуальным
// снимком тарифа. Старая сессия удаляется. Повторный вызов безопасен.
func (s *Service) Refresh(ctx context.Context, sess *models.Session) (*models.Session, error) {
	const op = "session.Refresh"

	user, err := s.users.GetUser(ctx, sess.UserUID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	fresh, err := s.Create(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := s.store.Delete(ctx, sess.ID, sess.UserUID); err != nil {
		s.log.Warn("failed to delete replaced session",
			sl.Op(op),
			slog.String("session_id", sess.ID),
			sl.Err(err),
		)
	}
	return fresh, nil
}
