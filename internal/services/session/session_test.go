package session_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/billing-sync/internal/cache"
	"github.com/magabrotheeeer/billing-sync/internal/gate"
	"github.com/magabrotheeeer/billing-sync/internal/lib/jwt"
	"github.com/magabrotheeeer/billing-sync/internal/models"
	"github.com/magabrotheeeer/billing-sync/internal/services/session"
)

type UserReaderMock struct {
	mock.Mock
}

func (m *UserReaderMock) GetUser(ctx context.Context, uid string) (*models.User, error) {
	args := m.Called(ctx, uid)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func setup(t *testing.T) (*session.Service, *UserReaderMock, *cache.SessionStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := cache.NewSessionStore(&cache.Cache{Db: client})
	users := new(UserReaderMock)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return session.New(log, users, store, jwt.NewMaker("secret", time.Hour)), users, store
}

func TestService_CreateAndAuthenticate(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := context.Background()

	sess, err := svc.Create(ctx, &models.User{UUID: "u1", Email: "u1@example.com"})
	require.NoError(t, err)
	assert.False(t, sess.HasPlan())
	assert.WithinDuration(t, time.Now().Add(time.Hour), sess.ExpiresAt, 5*time.Second)

	token, err := svc.Token(sess)
	require.NoError(t, err)

	got, rotated, err := svc.Authenticate(ctx, token)
	require.NoError(t, err)
	assert.Empty(t, rotated)
	assert.Equal(t, sess.ID, got.ID)
	assert.Equal(t, "u1", got.UserUID)
}

func TestService_AuthenticateFailures(t *testing.T) {
	svc, _, store := setup(t)
	ctx := context.Background()

	sess, err := svc.Create(ctx, &models.User{UUID: "u1"})
	require.NoError(t, err)
	token, err := svc.Token(sess)
	require.NoError(t, err)

	t.Run("garbage token", func(t *testing.T) {
		_, _, err := svc.Authenticate(ctx, "not-a-token")
		assert.ErrorIs(t, err, session.ErrUnauthenticated)
	})

	t.Run("foreign signature", func(t *testing.T) {
		foreign, err := jwt.NewMaker("other", time.Hour).GenerateToken(sess.ID, "u1")
		require.NoError(t, err)
		_, _, err = svc.Authenticate(ctx, foreign)
		assert.ErrorIs(t, err, session.ErrUnauthenticated)
	})

	t.Run("owner mismatch", func(t *testing.T) {
		forged, err := jwt.NewMaker("secret", time.Hour).GenerateToken(sess.ID, "u2")
		require.NoError(t, err)
		_, _, err = svc.Authenticate(ctx, forged)
		assert.ErrorIs(t, err, session.ErrUnauthenticated)
	})

	t.Run("deleted session", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, sess.ID, "u1"))
		_, _, err := svc.Authenticate(ctx, token)
		assert.ErrorIs(t, err, session.ErrUnauthenticated)
		assert.ErrorIs(t, err, cache.ErrSessionNotFound)
	})
}

func TestService_Refresh(t *testing.T) {
	svc, users, _ := setup(t)
	ctx := context.Background()

	old, err := svc.Create(ctx, &models.User{UUID: "u1"})
	require.NoError(t, err)

	plan, sub := models.PlanEssential, "sub_1"
	users.On("GetUser", mock.Anything, "u1").
		Return(&models.User{UUID: "u1", Plan: &plan, BillingSubscriptionID: &sub}, nil)

	fresh, err := svc.Refresh(ctx, old)
	require.NoError(t, err)
	assert.NotEqual(t, old.ID, fresh.ID)
	assert.True(t, fresh.HasPlan())

	_, err = svc.Get(ctx, old.ID)
	assert.ErrorIs(t, err, cache.ErrSessionNotFound, "replaced session is removed")

	again, err := svc.Refresh(ctx, fresh)
	require.NoError(t, err)
	assert.True(t, again.HasPlan())
}

func TestService_RefreshUserError(t *testing.T) {
	svc, users, store := setup(t)
	ctx := context.Background()

	old, err := svc.Create(ctx, &models.User{UUID: "u1"})
	require.NoError(t, err)

	dbErr := errors.New("db down")
	users.On("GetUser", mock.Anything, "u1").Return(nil, dbErr)

	_, err = svc.Refresh(ctx, old)
	assert.ErrorIs(t, err, dbErr)

	_, err = store.Get(ctx, old.ID)
	assert.NoError(t, err, "session survives a failed refresh")
}

func TestService_AuthenticateRebuildsInvalidatedSession(t *testing.T) {
	svc, users, store := setup(t)
	ctx := context.Background()

	old, err := svc.Create(ctx, &models.User{UUID: "u1"})
	require.NoError(t, err)
	token, err := svc.Token(old)
	require.NoError(t, err)

	plan := models.PlanEssential
	users.On("GetUser", mock.Anything, "u1").Return(&models.User{UUID: "u1", Plan: &plan}, nil)
	_, err = store.DeleteByUser(ctx, "u1")
	require.NoError(t, err)

	sess, fresh, err := svc.Authenticate(ctx, token)
	require.NoError(t, err)
	assert.NotEqual(t, old.ID, sess.ID)
	assert.True(t, sess.HasPlan(), "rebuilt from the user record")
	require.NotEmpty(t, fresh)

	got, rotated, err := svc.Authenticate(ctx, fresh)
	require.NoError(t, err)
	assert.Empty(t, rotated)
	assert.Equal(t, sess.ID, got.ID)

	_, _, err = svc.Authenticate(ctx, token)
	assert.ErrorIs(t, err, session.ErrUnauthenticated, "an invalidated session is rebuilt once")
}

func TestService_AuthenticateRebuildChecksOwner(t *testing.T) {
	svc, _, store := setup(t)
	ctx := context.Background()

	old, err := svc.Create(ctx, &models.User{UUID: "u1"})
	require.NoError(t, err)
	_, err = store.DeleteByUser(ctx, "u1")
	require.NoError(t, err)

	forged, err := jwt.NewMaker("secret", time.Hour).GenerateToken(old.ID, "u2")
	require.NoError(t, err)
	_, _, err = svc.Authenticate(ctx, forged)
	assert.ErrorIs(t, err, session.ErrUnauthenticated)
}

func TestService_GetReadsThroughPlan(t *testing.T) {
	svc, users, store := setup(t)
	ctx := context.Background()

	sess, err := svc.Create(ctx, &models.User{UUID: "u1"})
	require.NoError(t, err)

	plan := models.PlanEssential
	users.On("GetUser", mock.Anything, "u1").Return(&models.User{UUID: "u1", Plan: &plan}, nil)

	got, err := svc.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)
	assert.True(t, got.HasPlan())

	stored, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, stored.HasPlan(), "snapshot updated in place")
}

func TestService_GetRestoresInvalidatedSession(t *testing.T) {
	svc, users, store := setup(t)
	ctx := context.Background()

	old, err := svc.Create(ctx, &models.User{UUID: "u1"})
	require.NoError(t, err)
	plan := models.PlanEssential
	users.On("GetUser", mock.Anything, "u1").Return(&models.User{UUID: "u1", Plan: &plan}, nil)
	_, err = store.DeleteByUser(ctx, "u1")
	require.NoError(t, err)

	got, err := svc.Get(ctx, old.ID)
	require.NoError(t, err)
	assert.NotEqual(t, old.ID, got.ID)
	assert.True(t, got.HasPlan())
}

// lagUsers отдаёт тариф только начиная с from-го чтения, как реплика,
// догоняющая запись вебхука.
type lagUsers struct {
	mu    sync.Mutex
	calls int
	from  int
}

func (l *lagUsers) GetUser(_ context.Context, uid string) (*models.User, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	u := &models.User{UUID: uid}
	if l.calls >= l.from {
		plan := models.PlanEssential
		u.Plan = &plan
	}
	return u, nil
}

func gateOptions(attempts int) gate.Options {
	return gate.Options{
		RefreshTimeout: time.Second,
		SettleDelay:    5 * time.Millisecond,
		Attempts:       attempts,
		Multiplier:     1,
	}
}

func newServiceWith(t *testing.T, users session.UserReader) (*session.Service, *cache.SessionStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := cache.NewSessionStore(&cache.Cache{Db: client})
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return session.New(log, users, store, jwt.NewMaker("secret", time.Hour)), store
}

func TestGate_SettleRetriesSeeLatePlanWrite(t *testing.T) {
	// Чтения: Refresh, первая попытка без тарифа, вторая уже с тарифом.
	users := &lagUsers{from: 3}
	svc, _ := newServiceWith(t, users)
	ctx := context.Background()

	sess, err := svc.Create(ctx, &models.User{UUID: "u1"})
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	res := gate.New(svc, gateOptions(3), log).Check(ctx, sess, false)

	assert.Equal(t, gate.StateGranted, res.State)
	assert.True(t, res.Rotated)
	assert.True(t, res.Session.HasPlan())
	assert.Equal(t, 3, users.calls, "no further reads after the plan shows up")
}

func TestGate_SettleRetriesRedirectWithoutPlan(t *testing.T) {
	users := &lagUsers{from: 1 << 30}
	svc, _ := newServiceWith(t, users)
	ctx := context.Background()

	sess, err := svc.Create(ctx, &models.User{UUID: "u1"})
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	res := gate.New(svc, gateOptions(3), log).Check(ctx, sess, false)

	assert.Equal(t, gate.StateRedirecting, res.State)
	assert.Equal(t, 1+3, users.calls, "refresh plus one read-through per attempt")
}

func TestGate_SessionInvalidatedDuringSettle(t *testing.T) {
	users := &lagUsers{from: 1 << 30}
	svc, store := newServiceWith(t, users)
	ctx := context.Background()

	sess, err := svc.Create(ctx, &models.User{UUID: "u1"})
	require.NoError(t, err)

	// Вебхук пишет тариф и сбрасывает сессии, пока gate ждёт.
	src := &invalidatingSource{Service: svc, store: store, users: users}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	res := gate.New(src, gateOptions(2), log).Check(ctx, sess, true)

	require.Equal(t, gate.StateGranted, res.State)
	assert.True(t, res.Rotated)
	assert.True(t, res.Session.HasPlan())
}

// invalidatingSource после Refresh имитирует применение Activate: тариф
// появляется в записи пользователя, а все сессии удаляются.
type invalidatingSource struct {
	*session.Service
	store *cache.SessionStore
	users *lagUsers
}

func (s *invalidatingSource) Refresh(ctx context.Context, sess *models.Session) (*models.Session, error) {
	fresh, err := s.Service.Refresh(ctx, sess)
	if err != nil {
		return nil, err
	}
	s.users.mu.Lock()
	s.users.from = 0
	s.users.mu.Unlock()
	if _, err := s.store.DeleteByUser(ctx, sess.UserUID); err != nil {
		return nil, err
	}
	return fresh, nil
}
