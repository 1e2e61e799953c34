// Package webhook обрабатывает доставку события платёжного провайдера:
// проверка подписи, журнал, нормализация и применение намерения.
package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/stripe/stripe-go/v82"

	"github.com/magabrotheeeer/billing-sync/internal/billing"
	"github.com/magabrotheeeer/billing-sync/internal/lib/sl"
	"github.com/magabrotheeeer/billing-sync/internal/metrics"
	"github.com/magabrotheeeer/billing-sync/internal/models"
)

// Verifier проверяет подпись тела запроса.
type Verifier interface {
	Verify(rawBody []byte, signatureHeader string) (stripe.Event, error)
}

// Normalizer сводит событие к намерению.
type Normalizer interface {
	Normalize(ctx context.Context, event stripe.Event) (billing.Intent, error)
}

// Applier применяет намерение к пользователю.
type Applier interface {
	Apply(ctx context.Context, intent billing.Intent) error
}

// AuditLog журнал входящих событий.
type AuditLog interface {
	RecordWebhookEvent(ctx context.Context, eventID, eventType string, payload []byte) (int, error)
	MarkWebhookProcessed(ctx context.Context, eventID, intent string, processingErr error) error
	GetWebhookEvent(ctx context.Context, eventID string) (*models.WebhookEvent, error)
}

// Processor связывает шаги обработки одной доставки.
type Processor struct {
	verifier   Verifier
	normalizer Normalizer
	applier    Applier
	audit      AuditLog
	metrics    *metrics.Metrics
	log        *slog.Logger
}

// New создаёт Processor. audit и m могут быть nil.
func New(log *slog.Logger, verifier Verifier, normalizer Normalizer, applier Applier, audit AuditLog, m *metrics.Metrics) *Processor {
	return &Processor{
		verifier:   verifier,
		normalizer: normalizer,
		applier:    applier,
		audit:      audit,
		metrics:    m,
		log:        log,
	}
}

// Process обрабатывает тело запроса. Ошибка, обёрнутая в billing.ErrAuthentication,
// означает невалидную подпись; любая другая ошибка должна привести к повторной доставке.
// Журнал не влияет на обработку: повторная доставка всегда применяется заново.
func (p *Processor) Process(ctx context.Context, rawBody []byte, signatureHeader string) (billing.Intent, error) {
	const op = "webhook.Process"
	start := time.Now()

	event, err := p.verifier.Verify(rawBody, signatureHeader)
	if err != nil {
		p.metrics.ObserveWebhook("unknown", billing.IntentIgnore.String(), "rejected", time.Since(start))
		return billing.Intent{}, fmt.Errorf("%s: %w", op, err)
	}

	log := p.log.With(
		sl.Op(op),
		slog.String("event_id", event.ID),
		slog.String("event_type", string(event.Type)),
	)
	p.record(ctx, log, event, rawBody)

	intent, err := p.normalizer.Normalize(ctx, event)
	if err == nil {
		err = p.applier.Apply(ctx, intent)
	}
	p.mark(ctx, log, event.ID, intent, err)

	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	p.metrics.ObserveWebhook(string(event.Type), intent.Kind.String(), outcome, time.Since(start))

	if err != nil {
		log.Error("failed to process webhook event", sl.Err(err))
		return intent, fmt.Errorf("%s: %w", op, err)
	}
	log.Info("webhook event processed", slog.String("intent", intent.Kind.String()))
	return intent, nil
}

func (p *Processor) record(ctx context.Context, log *slog.Logger, event stripe.Event, rawBody []byte) {
	if p.audit == nil {
		return
	}
	deliveries, err := p.audit.RecordWebhookEvent(ctx, event.ID, string(event.Type), rawBody)
	if err != nil {
		log.Warn("failed to record webhook event", sl.Err(err))
		return
	}
	if deliveries <= 1 {
		return
	}

	// Итог прошлой доставки ещё не перезаписан: mark вызывается после применения.
	prev, err := p.audit.GetWebhookEvent(ctx, event.ID)
	if err != nil {
		log.Warn("repeated delivery, previous outcome unknown",
			slog.Int("delivery_count", deliveries),
			sl.Err(err),
		)
		return
	}
	attrs := []any{
		slog.Int("delivery_count", deliveries),
		slog.String("previous_intent", prev.Intent),
	}
	if prev.ProcessedAt != nil {
		attrs = append(attrs, slog.Time("previous_processed_at", *prev.ProcessedAt))
	}
	if prev.ProcessingError != "" {
		attrs = append(attrs, slog.String("previous_error", prev.ProcessingError))
	}
	log.Info("repeated delivery", attrs...)
}

func (p *Processor) mark(ctx context.Context, log *slog.Logger, eventID string, intent billing.Intent, procErr error) {
	if p.audit == nil {
		return
	}
	if err := p.audit.MarkWebhookProcessed(ctx, eventID, intent.Kind.String(), procErr); err != nil {
		log.Warn("failed to mark webhook event", sl.Err(err))
	}
}
