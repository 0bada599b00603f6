package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"shield/apps/reconciler/internal/model"
)

var ErrCheckpointNotFound = errors.New("checkpoint not initialised")

// CheckpointRepository stores the poller's single crawler_state row.
type CheckpointRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewCheckpointRepository(db *sql.DB, logger *zap.Logger) *CheckpointRepository {
	return &CheckpointRepository{db: db, logger: logger}
}

func (c *CheckpointRepository) GetLastProcessedBlock(ctx context.Context) (uint64, error) {
	var block uint64
	err := c.db.QueryRowContext(ctx, `
		SELECT last_processed_block FROM crawler_state WHERE id = 1
	`).Scan(&block)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrCheckpointNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get last processed block: %w", err)
	}
	return block, nil
}

func (c *CheckpointRepository) GetCheckpoint(ctx context.Context) (*model.Checkpoint, error) {
	var cp model.Checkpoint
	err := c.db.QueryRowContext(ctx, `
		SELECT last_processed_block, updated_at FROM crawler_state WHERE id = 1
	`).Scan(&cp.LastProcessedBlock, &cp.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	return &cp, nil
}

// InitCheckpoint seeds the row on first start. An existing checkpoint is left alone.
func (c *CheckpointRepository) InitCheckpoint(ctx context.Context, block uint64) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO crawler_state (id, last_processed_block)
		VALUES (1, $1)
		ON CONFLICT (id) DO NOTHING
	`, block)
	if err != nil {
		return fmt.Errorf("failed to init checkpoint: %w", err)
	}
	return nil
}

// UpdateLastProcessedBlock never moves the checkpoint backwards.
func (c *CheckpointRepository) UpdateLastProcessedBlock(ctx context.Context, block uint64) error {
	res, err := c.db.ExecContext(ctx, `
		UPDATE crawler_state
		SET last_processed_block = $1, updated_at = NOW()
		WHERE id = 1 AND last_processed_block < $1
	`, block)
	if err != nil {
		return fmt.Errorf("failed to update last processed block: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		c.logger.Warn("Checkpoint not advanced", zap.Uint64("block", block))
	}
	return nil
}
