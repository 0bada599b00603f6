package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"shield/apps/reconciler/internal/model"
)

type NAVRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewNAVRepository(db *sql.DB, logger *zap.Logger) *NAVRepository {
	return &NAVRepository{db: db, logger: logger}
}

func (r *NAVRepository) StoreSnapshot(ctx context.Context, snapshot model.NAVSnapshot) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO nav_snapshots (id, nav_per_token, total_managed_value, shield_supply, nav_timestamp, trigger, tx_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, snapshot.ID, snapshot.NAVPerToken, snapshot.TotalManagedValue, snapshot.ShieldSupply, snapshot.Timestamp, snapshot.Trigger, snapshot.TxHash)
	if err != nil {
		return fmt.Errorf("failed to store NAV snapshot: %w", err)
	}

	if err := enqueue(ctx, tx, "nav:"+snapshot.ID, OutboxNAVSnapshot, snapshot.ID, snapshot); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit NAV snapshot: %w", err)
	}

	r.logger.Info("Stored NAV snapshot",
		zap.String("id", snapshot.ID),
		zap.String("nav_per_token", snapshot.NAVPerToken),
		zap.Bool("submitted", snapshot.TxHash != nil))
	return nil
}

func (r *NAVRepository) ListSnapshots(ctx context.Context, limit int) ([]model.NAVSnapshot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, nav_per_token, total_managed_value, shield_supply, nav_timestamp, trigger, tx_hash, created_at
		FROM nav_snapshots
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list NAV snapshots: %w", err)
	}
	defer rows.Close()

	snapshots := []model.NAVSnapshot{}
	for rows.Next() {
		var s model.NAVSnapshot
		if err := rows.Scan(&s.ID, &s.NAVPerToken, &s.TotalManagedValue, &s.ShieldSupply, &s.Timestamp, &s.Trigger, &s.TxHash, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan NAV snapshot: %w", err)
		}
		snapshots = append(snapshots, s)
	}
	return snapshots, rows.Err()
}

func (r *NAVRepository) GetLatestSnapshot(ctx context.Context) (*model.NAVSnapshot, error) {
	var s model.NAVSnapshot
	err := r.db.QueryRowContext(ctx, `
		SELECT id, nav_per_token, total_managed_value, shield_supply, nav_timestamp, trigger, tx_hash, created_at
		FROM nav_snapshots
		ORDER BY created_at DESC
		LIMIT 1
	`).Scan(&s.ID, &s.NAVPerToken, &s.TotalManagedValue, &s.ShieldSupply, &s.Timestamp, &s.Trigger, &s.TxHash, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest NAV snapshot: %w", err)
	}
	return &s, nil
}
