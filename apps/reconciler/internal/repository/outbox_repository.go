package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"shield/apps/reconciler/internal/model"
)

const (
	OutboxAuditRecorded = "audit.recorded"
	OutboxIntentCreated = "intent.created"
	OutboxIntentUpdated = "intent.status_changed"
	OutboxNAVSnapshot   = "nav.snapshot"
)

type OutboxRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewOutboxRepository(db *sql.DB, logger *zap.Logger) *OutboxRepository {
	return &OutboxRepository{db: db, logger: logger}
}

// enqueue writes an outbox row inside the caller's transaction.
func enqueue(ctx context.Context, tx *sql.Tx, key, eventType, subject string, payload interface{}) error {
	blob, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal outbox payload: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO event_outbox (event_key, event_type, subject, status, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_key) DO NOTHING
	`, key, eventType, subject, model.OutboxStatusUnsent, blob)
	if err != nil {
		return fmt.Errorf("failed to store outbox event: %w", err)
	}
	return nil
}

// GetUnsentEventsForProcessing claims up to limit rows. Rows stuck in processing for longer
// than staleAfter (a publisher died mid-batch) are claimed again.
func (r *OutboxRepository) GetUnsentEventsForProcessing(ctx context.Context, limit int, staleAfter time.Duration) ([]model.OutboxEvent, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT event_key, event_type, subject, status, payload, created_at
		FROM event_outbox
		WHERE status = 'unsent'
			OR (status = 'processing' AND claimed_at < $2)
		ORDER BY created_at, event_key
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit, time.Now().Add(-staleAfter))
	if err != nil {
		return nil, fmt.Errorf("failed to query unsent events: %w", err)
	}
	defer rows.Close()

	var events []model.OutboxEvent
	for rows.Next() {
		var event model.OutboxEvent
		if err := rows.Scan(&event.EventKey, &event.EventType, &event.Subject, &event.Status, &event.Payload, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for _, event := range events {
		if _, err := tx.ExecContext(ctx, `
			UPDATE event_outbox
			SET status = 'processing', claimed_at = NOW()
			WHERE event_key = $1
		`, event.EventKey); err != nil {
			return nil, fmt.Errorf("failed to claim outbox event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	return events, nil
}

func (r *OutboxRepository) MarkEventAsSent(ctx context.Context, eventKey string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE event_outbox
		SET status = 'sent'
		WHERE event_key = $1
	`, eventKey)
	return err
}

func (r *OutboxRepository) MarkEventAsFailed(ctx context.Context, eventKey string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE event_outbox
		SET status = 'unsent', claimed_at = NULL
		WHERE event_key = $1 AND status = 'processing'
	`, eventKey)
	return err
}
