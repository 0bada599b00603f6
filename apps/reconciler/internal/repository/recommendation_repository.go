package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"shield/apps/reconciler/internal/model"
)

type RecommendationRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewRecommendationRepository(db *sql.DB, logger *zap.Logger) *RecommendationRepository {
	return &RecommendationRepository{db: db, logger: logger}
}

func (r *RecommendationRepository) StoreRecommendation(ctx context.Context, rec model.WeightRecommendation) error {
	weights, err := json.Marshal(rec.TargetWeights)
	if err != nil {
		return fmt.Errorf("failed to marshal target weights: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO weight_recommendations (id, regime, target_weights, source)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, rec.ID, rec.Regime, weights, rec.Source)
	if err != nil {
		return fmt.Errorf("failed to store recommendation: %w", err)
	}

	r.logger.Info("Stored weight recommendation", zap.String("id", rec.ID), zap.String("regime", rec.Regime), zap.String("source", rec.Source))
	return nil
}

// GetLatestRecommendation returns nil when nothing has been received yet.
func (r *RecommendationRepository) GetLatestRecommendation(ctx context.Context) (*model.WeightRecommendation, error) {
	var rec model.WeightRecommendation
	var weights []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT id, regime, target_weights, source, received_at
		FROM weight_recommendations
		ORDER BY received_at DESC
		LIMIT 1
	`).Scan(&rec.ID, &rec.Regime, &weights, &rec.Source, &rec.ReceivedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest recommendation: %w", err)
	}

	if err := json.Unmarshal(weights, &rec.TargetWeights); err != nil {
		return nil, fmt.Errorf("failed to decode target weights: %w", err)
	}
	return &rec, nil
}
