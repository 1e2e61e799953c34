// Package reconcile применяет канонические намерения к записи пользователя
// и сбрасывает его сессии. Это единственный писатель биллинговых полей.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/billing-sync/internal/billing"
	"github.com/magabrotheeeer/billing-sync/internal/lib/sl"
	"github.com/magabrotheeeer/billing-sync/internal/metrics"
	"github.com/magabrotheeeer/billing-sync/internal/models"
)

// UserRepository записывает тариф и ссылки на провайдера одним запросом.
// Возвращает число обновлённых строк.
type UserRepository interface {
	ActivatePlan(ctx context.Context, userUID, plan, subscriptionID, customerID string) (int64, error)
	DeactivatePlan(ctx context.Context, userUID string) (int64, error)
}

// SessionInvalidator удаляет все сессии пользователя.
type SessionInvalidator interface {
	DeleteByUser(ctx context.Context, userUID string) (int, error)
}

// Notifier публикует изменение тарифа для внешних подписчиков.
type Notifier interface {
	PublishPlanChange(ctx context.Context, change models.PlanChange) error
}

// Engine применяет намерения. Повторное применение того же намерения
// оставляет запись в том же состоянии и снова сбрасывает сессии.
type Engine struct {
	users    UserRepository
	sessions SessionInvalidator
	notifier Notifier
	metrics  *metrics.Metrics
	log      *slog.Logger
	now      func() time.Time
}

// Option настраивает Engine.
type Option func(*Engine)

// WithNotifier подключает публикацию изменений тарифа.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithMetrics подключает счётчики.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New создаёт Engine.
func New(log *slog.Logger, users UserRepository, sessions SessionInvalidator, opts ...Option) *Engine {
	e := &Engine{
		users:    users,
		sessions: sessions,
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply выполняет намерение. Ошибка записи или сброса сессий возвращается,
// чтобы провайдер повторил доставку; ошибка уведомления только логируется.
func (e *Engine) Apply(ctx context.Context, intent billing.Intent) error {
	const op = "reconcile.Apply"
	log := e.log.With(
		sl.Op(op),
		slog.String("intent", intent.Kind.String()),
		slog.String("user_uid", intent.UserUID),
		slog.String("event_type", intent.EventType),
	)

	var (
		rows int64
		err  error
		plan *string
	)
	switch intent.Kind {
	case billing.IntentActivate:
		p := models.PlanEssential
		plan = &p
		rows, err = e.users.ActivatePlan(ctx, intent.UserUID, p, intent.SubscriptionID, intent.CustomerID)
	case billing.IntentDeactivate:
		rows, err = e.users.DeactivatePlan(ctx, intent.UserUID)
	default:
		log.Debug("nothing to apply", slog.String("reason", intent.Reason))
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	e.metrics.PlanChanged(intent.Kind.String(), rows > 0)
	if rows == 0 {
		log.Warn("no user matched plan change")
	}

	deleted, err := e.sessions.DeleteByUser(ctx, intent.UserUID)
	if err != nil {
		return fmt.Errorf("%s: invalidate sessions: %w", op, err)
	}
	e.metrics.SessionsInvalidated(deleted)
	log.Info("plan change applied",
		slog.Int64("rows", rows),
		slog.Int("sessions_deleted", deleted),
	)

	if e.notifier != nil && rows > 0 {
		change := models.PlanChange{
			UserUID:    intent.UserUID,
			Plan:       plan,
			EventType:  intent.EventType,
			OccurredAt: e.now().UTC(),
		}
		if err := e.notifier.PublishPlanChange(ctx, change); err != nil {
			log.Warn("failed to publish plan change", sl.Err(err))
		}
	}
	return nil
}
