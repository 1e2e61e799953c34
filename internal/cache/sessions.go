package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/magabrotheeeer/billing-sync/internal/models"
)

// ErrSessionNotFound возвращается, если сессии нет или срок её жизни истёк.
var ErrSessionNotFound = errors.New("session not found")

const (
	sessionKeyPrefix     = "session:"
	userSessionKeyPrefix = "user_sessions:"
	invalidatedKeyPrefix = "session_invalidated:"
)

// deleteUserSessions удаляет все сессии пользователя и сам индекс атомарно,
// чтобы сессия, созданная параллельно, не осталась без индекса. На месте каждой
// удалённой сессии остаётся метка с её остатком срока жизни: по ней следующий
// запрос с тем же токеном пересобирает сессию из записи пользователя.
//
// Скрипт обращается к ключам сессий, не перечисленным в KEYS, поэтому
// рассчитан на одиночный Redis, а не на Redis Cluster.
var deleteUserSessions = redis.NewScript(`
local ids = redis.call('SMEMBERS', KEYS[1])
local deleted = 0
for _, id in ipairs(ids) do
	local key = ARGV[1] .. id
	local ttl = redis.call('PTTL', key)
	if redis.call('DEL', key) == 1 then
		deleted = deleted + 1
		if ttl > 0 then
			redis.call('SET', ARGV[2] .. id, ARGV[3], 'PX', ttl)
		end
	end
end
redis.call('DEL', KEYS[1])
return deleted
`)

// SessionStore хранит сессии в Redis.
type SessionStore struct {
	cache *Cache
}

// NewSessionStore создаёт хранилище сессий поверх Cache.
func NewSessionStore(cache *Cache) *SessionStore {
	return &SessionStore{cache: cache}
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

func userSessionsKey(userUID string) string {
	return userSessionKeyPrefix + userUID
}

func invalidatedKey(id string) string {
	return invalidatedKeyPrefix + id
}

// Save сохраняет сессию до её ExpiresAt и добавляет её в индекс пользователя.
// Срок жизни индекса продлевается до срока самой новой сессии.
func (s *SessionStore) Save(ctx context.Context, sess *models.Session) error {
	const op = "cache.SessionStore.Save"
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("%s: session %s already expired", op, sess.ID)
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	indexKey := userSessionsKey(sess.UserUID)
	_, err = s.cache.Db.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKey(sess.ID), data, ttl)
		pipe.SAdd(ctx, indexKey, sess.ID)
		pipe.Expire(ctx, indexKey, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Get возвращает сессию по идентификатору.
func (s *SessionStore) Get(ctx context.Context, id string) (*models.Session, error) {
	const op = "cache.SessionStore.Get"
	var sess models.Session
	found, err := s.cache.Get(ctx, sessionKey(id), &sess)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !found {
		return nil, fmt.Errorf("%s: %w", op, ErrSessionNotFound)
	}
	return &sess, nil
}

// Update перезаписывает снимок существующей сессии, сохраняя её срок жизни.
// Удалённую или истёкшую сессию не воскрешает и возвращает ErrSessionNotFound.
func (s *SessionStore) Update(ctx context.Context, sess *models.Session) error {
	const op = "cache.SessionStore.Update"
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	ok, err := s.cache.Db.SetXX(ctx, sessionKey(sess.ID), data, redis.KeepTTL).Result()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return fmt.Errorf("%s: %w", op, ErrSessionNotFound)
	}
	return nil
}

// Delete удаляет одну сессию пользователя вместе с меткой инвалидации:
// такую сессию пересобрать уже нельзя.
func (s *SessionStore) Delete(ctx context.Context, id, userUID string) error {
	const op = "cache.SessionStore.Delete"
	_, err := s.cache.Db.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, sessionKey(id), invalidatedKey(id))
		pipe.SRem(ctx, userSessionsKey(userUID), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// DeleteByUser удаляет все сессии пользователя и возвращает число удалённых.
// Ноль удалённых сессий ошибкой не считается.
func (s *SessionStore) DeleteByUser(ctx context.Context, userUID string) (int, error) {
	const op = "cache.SessionStore.DeleteByUser"
	owner, err := json.Marshal(userUID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	deleted, err := deleteUserSessions.Run(ctx, s.cache.Db,
		[]string{userSessionsKey(userUID)},
		sessionKeyPrefix, invalidatedKeyPrefix, string(owner),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return deleted, nil
}

// Invalidated сообщает, была ли сессия id удалена через DeleteByUser, и
// возвращает UID её владельца. Метка живёт не дольше самой сессии.
func (s *SessionStore) Invalidated(ctx context.Context, id string) (string, bool, error) {
	const op = "cache.SessionStore.Invalidated"
	var userUID string
	found, err := s.cache.Get(ctx, invalidatedKey(id), &userUID)
	if err != nil {
		return "", false, fmt.Errorf("%s: %w", op, err)
	}
	return userUID, found, nil
}

// ForgetInvalidated снимает метку после того, как сессия пересобрана.
func (s *SessionStore) ForgetInvalidated(ctx context.Context, id string) error {
	const op = "cache.SessionStore.ForgetInvalidated"
	if err := s.cache.Invalidate(ctx, invalidatedKey(id)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
