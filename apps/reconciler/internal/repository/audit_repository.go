package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"shield/apps/reconciler/internal/model"
)

type AuditRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewAuditRepository(db *sql.DB, logger *zap.Logger) *AuditRepository {
	return &AuditRepository{db: db, logger: logger}
}

// StoreAuditRecord appends a record keyed by (tx_hash, log_index). Replays are ignored and
// report stored=false.
func (r *AuditRepository) StoreAuditRecord(ctx context.Context, record model.AuditRecord) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO event_audit (tx_hash, log_index, block_number, event_type, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tx_hash, log_index) DO NOTHING
	`, record.TxHash, record.LogIndex, record.BlockNumber, record.EventType, []byte(record.Payload))
	if err != nil {
		return false, fmt.Errorf("failed to store audit record: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	key := fmt.Sprintf("audit:%s:%d", record.TxHash, record.LogIndex)
	if err := enqueue(ctx, tx, key, OutboxAuditRecorded, record.TxHash, record); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit audit record: %w", err)
	}

	r.logger.Info("Stored audit record",
		zap.String("event_type", string(record.EventType)),
		zap.String("tx_hash", record.TxHash),
		zap.Uint("log_index", record.LogIndex))
	return true, nil
}

func (r *AuditRepository) GetAuditRecordsByTxHash(ctx context.Context, txHash string) ([]model.AuditRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT tx_hash, log_index, block_number, event_type, payload, created_at
		FROM event_audit
		WHERE tx_hash = $1
		ORDER BY log_index
	`, txHash)
	if err != nil {
		return nil, fmt.Errorf("failed to get audit records: %w", err)
	}
	defer rows.Close()

	records := []model.AuditRecord{}
	for rows.Next() {
		var record model.AuditRecord
		if err := rows.Scan(&record.TxHash, &record.LogIndex, &record.BlockNumber, &record.EventType, &record.Payload, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}
