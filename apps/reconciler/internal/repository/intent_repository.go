package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"shield/apps/reconciler/internal/model"
)

var (
	ErrIntentNotFound    = errors.New("intent not found")
	ErrInvalidTransition = errors.New("invalid intent status transition")
)

const intentColumns = `intent_id, kind, user_address, asset, amount, locked_nav, expected_output, execution_fee,
	expires_at, status, block_number, tx_hash, execution_tx_hash, execution_attempted_at, created_at, updated_at`

type IntentRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewIntentRepository(db *sql.DB, logger *zap.Logger) *IntentRepository {
	return &IntentRepository{db: db, logger: logger}
}

type intentStatusMessage struct {
	IntentID        string             `json:"intent_id"`
	Kind            model.IntentKind   `json:"kind"`
	Status          model.IntentStatus `json:"status"`
	ExecutionTxHash *string            `json:"execution_tx_hash,omitempty"`
}

// CreateIntent inserts a PENDING intent. Replays of the same creation event leave the existing
// row untouched and report created=false.
func (r *IntentRepository) CreateIntent(ctx context.Context, intent model.Intent) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO intents (intent_id, kind, user_address, asset, amount, locked_nav, expected_output, execution_fee, expires_at, status, block_number, tx_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (intent_id) DO NOTHING
	`, intent.IntentID, intent.Kind, intent.UserAddress, intent.Asset, intent.Amount, intent.LockedNAV,
		intent.ExpectedOutput, intent.ExecutionFee, intent.ExpiresAt, model.IntentStatusPending, intent.BlockNumber, intent.TxHash)
	if err != nil {
		return false, fmt.Errorf("failed to insert intent: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	intent.Status = model.IntentStatusPending
	if err := enqueue(ctx, tx, "intent:"+intent.IntentID+":created", OutboxIntentCreated, intent.IntentID, intent); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit intent: %w", err)
	}

	r.logger.Info("Stored intent",
		zap.String("intent_id", intent.IntentID),
		zap.String("kind", string(intent.Kind)),
		zap.String("user_address", intent.UserAddress))
	return true, nil
}

func (r *IntentRepository) GetIntent(ctx context.Context, intentID string) (*model.Intent, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+intentColumns+` FROM intents WHERE intent_id = $1`, intentID)
	intent, err := scanIntent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrIntentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get intent: %w", err)
	}
	return intent, nil
}

func (r *IntentRepository) ListIntentsByStatus(ctx context.Context, status model.IntentStatus, limit int) ([]model.Intent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+intentColumns+`
		FROM intents
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list intents: %w", err)
	}
	defer rows.Close()

	intents := []model.Intent{}
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan intent: %w", err)
		}
		intents = append(intents, *intent)
	}
	return intents, rows.Err()
}

// UpdateIntentStatus moves a PENDING intent to a terminal status. It reports false when the
// intent is missing or already terminal; terminal rows are never rewritten.
func (r *IntentRepository) UpdateIntentStatus(ctx context.Context, intentID string, status model.IntentStatus, executionTxHash *string) (bool, error) {
	if !model.IntentStatusPending.CanTransitionTo(status) {
		return false, fmt.Errorf("%w: PENDING -> %s", ErrInvalidTransition, status)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var kind model.IntentKind
	err = tx.QueryRowContext(ctx, `
		UPDATE intents
		SET status = $2, execution_tx_hash = $3, updated_at = NOW()
		WHERE intent_id = $1 AND status = 'PENDING'
		RETURNING kind
	`, intentID, status, executionTxHash).Scan(&kind)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to update intent status: %w", err)
	}

	msg := intentStatusMessage{IntentID: intentID, Kind: kind, Status: status, ExecutionTxHash: executionTxHash}
	if err := enqueue(ctx, tx, "intent:"+intentID+":"+string(status), OutboxIntentUpdated, intentID, msg); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit intent status: %w", err)
	}

	r.logger.Info("Updated intent status", zap.String("intent_id", intentID), zap.String("status", string(status)))
	return true, nil
}

// MarkExecutionAttempt claims a PENDING intent for execution before anything is broadcast. It
// reports false when the intent is no longer pending or was already claimed, so an execution
// transaction is sent at most once even if recording its outcome later fails.
func (r *IntentRepository) MarkExecutionAttempt(ctx context.Context, intentID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE intents
		SET execution_attempted_at = NOW(), updated_at = NOW()
		WHERE intent_id = $1 AND status = 'PENDING' AND execution_attempted_at IS NULL
	`, intentID)
	if err != nil {
		return false, fmt.Errorf("failed to mark execution attempt: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

// ExpirePending marks every PENDING intent whose expiry is before now as EXPIRED. Intents with an
// execution attempt are left for the outcome to be recorded.
func (r *IntentRepository) ExpirePending(ctx context.Context, now time.Time) ([]string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		UPDATE intents
		SET status = 'EXPIRED', updated_at = NOW()
		WHERE status = 'PENDING' AND expires_at < $1 AND execution_attempted_at IS NULL
		RETURNING intent_id, kind
	`, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to expire intents: %w", err)
	}

	var expired []intentStatusMessage
	for rows.Next() {
		msg := intentStatusMessage{Status: model.IntentStatusExpired}
		if err := rows.Scan(&msg.IntentID, &msg.Kind); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan expired intent: %w", err)
		}
		expired = append(expired, msg)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(expired))
	for _, msg := range expired {
		if err := enqueue(ctx, tx, "intent:"+msg.IntentID+":EXPIRED", OutboxIntentUpdated, msg.IntentID, msg); err != nil {
			return nil, err
		}
		ids = append(ids, msg.IntentID)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit expiry: %w", err)
	}

	if len(ids) > 0 {
		r.logger.Info("Expired pending intents", zap.Int("count", len(ids)), zap.Strings("intent_ids", ids))
	}
	return ids, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanIntent(row rowScanner) (*model.Intent, error) {
	var intent model.Intent
	err := row.Scan(&intent.IntentID, &intent.Kind, &intent.UserAddress, &intent.Asset, &intent.Amount,
		&intent.LockedNAV, &intent.ExpectedOutput, &intent.ExecutionFee, &intent.ExpiresAt, &intent.Status,
		&intent.BlockNumber, &intent.TxHash, &intent.ExecutionTxHash, &intent.ExecutionAttemptedAt, &intent.CreatedAt, &intent.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &intent, nil
}
