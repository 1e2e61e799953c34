package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/magabrotheeeer/billing-sync/internal/models"
)

// RecordWebhookEvent записывает входящее событие в журнал. Повторная доставка
// того же события увеличивает счётчик доставок. Возвращает текущий счётчик.
func (s *Storage) RecordWebhookEvent(ctx context.Context, eventID, eventType string, payload []byte) (int, error) {
	const op = "storage.RecordWebhookEvent"

	var deliveries int
	query := `INSERT INTO billing_webhook_events (event_id, event_type, payload)
			  VALUES ($1, $2, $3)
			  ON CONFLICT (event_id) DO UPDATE
			  SET delivery_count = billing_webhook_events.delivery_count + 1
			  RETURNING delivery_count`
	if err := s.DB.QueryRowContext(ctx, query, eventID, eventType, string(payload)).Scan(&deliveries); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return deliveries, nil
}

// MarkWebhookProcessed сохраняет итог обработки события.
func (s *Storage) MarkWebhookProcessed(ctx context.Context, eventID, intent string, processingErr error) error {
	const op = "storage.MarkWebhookProcessed"

	var errText string
	if processingErr != nil {
		errText = processingErr.Error()
	}
	query := `UPDATE billing_webhook_events
			  SET intent = $1,
			      processing_error = $2,
			      processed_at = NOW()
			  WHERE event_id = $3`
	if _, err := s.DB.ExecContext(ctx, query, intent, errText, eventID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetWebhookEvent возвращает запись журнала по идентификатору события.
func (s *Storage) GetWebhookEvent(ctx context.Context, eventID string) (*models.WebhookEvent, error) {
	const op = "storage.GetWebhookEvent"

	query := `SELECT id, event_id, event_type, payload, delivery_count, intent,
			      processed_at, processing_error, created_at
			  FROM billing_webhook_events
			  WHERE event_id = $1`
	var (
		e           models.WebhookEvent
		payload     string
		processedAt sql.NullTime
	)
	err := s.DB.QueryRowContext(ctx, query, eventID).Scan(&e.ID, &e.EventID, &e.EventType, &payload,
		&e.DeliveryCount, &e.Intent, &processedAt, &e.ProcessingError, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrWebhookEventNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	e.Payload = []byte(payload)
	if processedAt.Valid {
		e.ProcessedAt = &processedAt.Time
	}
	return &e, nil
}
