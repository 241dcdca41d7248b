package store

import (
	"context"
	"database/sql"

	"order-management/internal/models"

	"github.com/jmoiron/sqlx"
)

// LockWebhookEvent acquires an exclusive row lock on a webhook event by
// its external event_id inside tx. Returns nil when unseen.
func (s *Store) LockWebhookEvent(ctx context.Context, tx *sqlx.Tx, eventID string) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	err := tx.GetContext(ctx, &event,
		"SELECT * FROM webhook_events WHERE event_id = $1 FOR UPDATE", eventID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// InsertWebhookEvent records first sight of an event_id inside tx. The
// conflict clause makes the insert safe against a concurrent first
// delivery of the same event.
func (s *Store) InsertWebhookEvent(ctx context.Context, tx *sqlx.Tx, ev *models.WebhookEvent) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO webhook_events (event_id, event_type, payload, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (event_id) DO NOTHING`,
		ev.EventID, ev.EventType, ev.Payload, ev.Status)
	return err
}

// MarkWebhookProcessed marks an event processed inside tx
func (s *Store) MarkWebhookProcessed(ctx context.Context, tx *sqlx.Tx, eventID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE webhook_events
		SET status = 'processed', processed_at = NOW()
		WHERE event_id = $1`, eventID)
	return err
}

// RecordWebhookFailure durably bumps the failure bookkeeping for an
// event. It runs on the pool, not in the business transaction, so the
// retry ledger survives a rollback. The upsert also covers the case
// where the event row itself was created inside the rolled-back
// transaction.
func (s *Store) RecordWebhookFailure(ctx context.Context, eventID, eventType string, payload []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_events (event_id, event_type, payload, status, retry_count)
		VALUES ($1, $2, $3, 'failed', 1)
		ON CONFLICT (event_id) DO UPDATE
		SET status = 'failed', retry_count = webhook_events.retry_count + 1`,
		eventID, eventType, payload)
	return err
}

// GetWebhookEvent retrieves an event by its external event_id, nil when absent
func (s *Store) GetWebhookEvent(ctx context.Context, eventID string) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	err := s.db.GetContext(ctx, &event,
		"SELECT * FROM webhook_events WHERE event_id = $1", eventID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// ListWebhookEvents retrieves events, optionally filtered by status
func (s *Store) ListWebhookEvents(ctx context.Context, status string, limit, offset int) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	if status != "" {
		err := s.db.SelectContext(ctx, &events, `
			SELECT * FROM webhook_events
			WHERE status = $1
			ORDER BY created_at DESC
			LIMIT $2 OFFSET $3`, status, limit, offset)
		return events, err
	}
	err := s.db.SelectContext(ctx, &events, `
		SELECT * FROM webhook_events
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	return events, err
}

// ListRetryableWebhooks returns failed events still under the retry
// ceiling, oldest first
func (s *Store) ListRetryableWebhooks(ctx context.Context, maxRetries, limit int) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	err := s.db.SelectContext(ctx, &events, `
		SELECT * FROM webhook_events
		WHERE status = 'failed' AND retry_count < $1
		ORDER BY created_at ASC
		LIMIT $2`, maxRetries, limit)
	return events, err
}
