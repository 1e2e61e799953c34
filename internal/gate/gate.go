// Package gate решает, пускать ли сессию на страницу, требующую тарифа.
//
// Gate явная машина состояний Unknown → Pending → Granted | Redirecting.
// Один экземпляр соответствует одному заходу на защищённую страницу:
// конечные состояния не меняются, а повторный вход во время проверки отклоняется.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/magabrotheeeer/billing-sync/internal/lib/sl"
	"github.com/magabrotheeeer/billing-sync/internal/models"
)

var (
	// ErrCheckInFlight возвращается при повторном Check, пока первый не завершён.
	ErrCheckInFlight = errors.New("gate check already in flight")
	// ErrRefreshFailure оборачивает ошибку обновления сессии. Только логируется.
	ErrRefreshFailure = errors.New("session refresh failed")
)

// State состояние проверки.
type State int

// Granted и Redirecting: конечные состояния.
const (
	StateUnknown State = iota
	StatePending
	StateGranted
	StateRedirecting
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateGranted:
		return "granted"
	case StateRedirecting:
		return "redirecting"
	default:
		return "unknown"
	}
}

// SessionSource обновляет и перечитывает сессии.
type SessionSource interface {
	// Refresh перечитывает пользователя в новую сессию.
	Refresh(ctx context.Context, sess *models.Session) (*models.Session, error)
	// Get перечитывает сессию вместе с текущим тарифом пользователя, так что
	// каждая попытка видит запись, сделанную после Refresh.
	Get(ctx context.Context, id string) (*models.Session, error)
}

// Options задают тайминги цикла обновления.
type Options struct {
	RefreshTimeout time.Duration // предел одного вызова Refresh
	SettleDelay    time.Duration // пауза перед первым перечитыванием
	Attempts       int           // число перечитываний
	Multiplier     float64       // рост паузы между перечитываниями
}

// DefaultOptions возвращает параметры по умолчанию.
func DefaultOptions() Options {
	return Options{
		RefreshTimeout: 5 * time.Second,
		SettleDelay:    time.Second,
		Attempts:       1,
		Multiplier:     2,
	}
}

// Result итог проверки.
type Result struct {
	State   State
	Session *models.Session // последняя известная сессия
	Rotated bool            // Session заменила исходную сессию
	Err     error           // ErrCheckInFlight для повторного входа
}

// Gate одна проверка доступа.
type Gate struct {
	source SessionSource
	opts   Options
	log    *slog.Logger

	mu     sync.Mutex
	state  State
	result Result
}

// New создаёт Gate в состоянии Unknown.
func New(source SessionSource, opts Options, log *slog.Logger) *Gate {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = DefaultOptions().RefreshTimeout
	}
	if opts.Multiplier < 1 {
		opts.Multiplier = 1
	}
	return &Gate{
		source: source,
		opts:   opts,
		log:    log,
	}
}

// State возвращает текущее состояние.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Check проводит проверку. forced запускает цикл обновления даже при
// наличии тарифа в снимке сессии.
func (g *Gate) Check(ctx context.Context, sess *models.Session, forced bool) Result {
	g.mu.Lock()
	switch g.state {
	case StateGranted, StateRedirecting:
		res := g.result
		g.mu.Unlock()
		return res
	case StatePending:
		g.mu.Unlock()
		return Result{State: StatePending, Err: ErrCheckInFlight}
	}
	if !forced && sess.HasPlan() {
		return g.finishLocked(Result{State: StateGranted, Session: sess})
	}
	g.state = StatePending
	g.mu.Unlock()

	res := g.cycle(ctx, sess)

	g.mu.Lock()
	return g.finishLocked(res)
}

func (g *Gate) finishLocked(res Result) Result {
	defer g.mu.Unlock()
	g.state = res.State
	g.result = res
	return res
}

func (g *Gate) cycle(ctx context.Context, sess *models.Session) Result {
	const op = "gate.cycle"
	log := g.log.With(sl.Op(op), slog.String("user_uid", sess.UserUID))

	delay := g.opts.SettleDelay
	current, err := g.refresh(ctx, sess)
	if err != nil {
		// Старому снимку после неудачного обновления не доверяем.
		log.Warn("session refresh failed, treating as no plan", sl.Err(err))
		_ = wait(ctx, delay)
		return g.outcome(StateRedirecting, sess, sess)
	}

	for attempt := 1; attempt <= g.opts.Attempts; attempt++ {
		if err := wait(ctx, delay); err != nil {
			log.Debug("settle wait cancelled", sl.Err(err))
			break
		}
		got, err := g.source.Get(ctx, current.ID)
		if err != nil {
			log.Debug("session re-read failed", slog.Int("attempt", attempt), sl.Err(err))
		} else {
			current = got
			if got.HasPlan() {
				return g.outcome(StateGranted, sess, current)
			}
		}
		delay = time.Duration(float64(delay) * g.opts.Multiplier)
	}
	return g.outcome(StateRedirecting, sess, current)
}

func (g *Gate) outcome(state State, original, current *models.Session) Result {
	return Result{
		State:   state,
		Session: current,
		Rotated: current.ID != original.ID,
	}
}

func (g *Gate) refresh(ctx context.Context, sess *models.Session) (*models.Session, error) {
	rctx, cancel := context.WithTimeout(ctx, g.opts.RefreshTimeout)
	defer cancel()

	fresh, err := g.source.Refresh(rctx, sess)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRefreshFailure, err)
	}
	if fresh == nil {
		return nil, fmt.Errorf("%w: empty session", ErrRefreshFailure)
	}
	return fresh, nil
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
