// Package weights validates and applies basket weight changes.
package weights

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"shield/apps/reconciler/internal/assets"
	"shield/apps/reconciler/internal/contracts"
	"shield/apps/reconciler/internal/model"
)

var (
	ErrInvalidTotalWeight = errors.New("basket weights must total 10000 bps")
	ErrIndexOutOfRange    = errors.New("basket index out of range")
	ErrNoRecommendation   = errors.New("no weight recommendation available")
)

// ValidateUpdate accepts a change of one entry from oldBps to newBps only if the basket still
// totals exactly 10000 bps afterwards. The sum is taken over big integers so no operand order
// can wrap.
func ValidateUpdate(currentTotal, oldBps, newBps uint64) error {
	total := new(big.Int).SetUint64(currentTotal)
	total.Sub(total, new(big.Int).SetUint64(oldBps))
	total.Add(total, new(big.Int).SetUint64(newBps))
	if total.Cmp(big.NewInt(assets.BasisPoints)) != 0 {
		return fmt.Errorf("%w: update would total %s", ErrInvalidTotalWeight, total)
	}
	return nil
}

// Change is one entry that differs between the on-chain basket and a target.
type Change struct {
	Index  uint64 `json:"basket_index"`
	OldBps uint64 `json:"old_weight_bps"`
	NewBps uint64 `json:"new_weight_bps"`
}

// Diff lists the entries whose target differs from current. Both slices are index-aligned
// with the on-chain basket.
func Diff(current, target []uint64) ([]Change, error) {
	if len(current) != len(target) {
		return nil, fmt.Errorf("target has %d entries, basket has %d", len(target), len(current))
	}
	changes := []Change{}
	for i := range current {
		if current[i] != target[i] {
			changes = append(changes, Change{Index: uint64(i), OldBps: current[i], NewBps: target[i]})
		}
	}
	return changes, nil
}

// Recommender is the advisory strategy: given a market regime, current weights and indicator
// readings it proposes target weights.
type Recommender interface {
	Recommend(ctx context.Context, regime string, current []uint64, indicators map[string]float64) ([]uint64, error)
}

type RecommendationStore interface {
	GetLatestRecommendation(ctx context.Context) (*model.WeightRecommendation, error)
}

// StoredRecommender serves the latest vector the advisory engine published.
type StoredRecommender struct {
	store RecommendationStore
}

func NewStoredRecommender(store RecommendationStore) *StoredRecommender {
	return &StoredRecommender{store: store}
}

func (r *StoredRecommender) Recommend(ctx context.Context, _ string, current []uint64, _ map[string]float64) ([]uint64, error) {
	rec, err := r.store.GetLatestRecommendation(ctx)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNoRecommendation
	}
	if len(rec.TargetWeights) != len(current) {
		return nil, fmt.Errorf("recommendation %s has %d entries, basket has %d", rec.ID, len(rec.TargetWeights), len(current))
	}
	return rec.TargetWeights, nil
}

type Chain interface {
	BasketLength(ctx context.Context) (uint64, error)
	BasketAllocation(ctx context.Context, index uint64) (*contracts.Allocation, error)
	TotalTargetWeights(ctx context.Context) (*big.Int, error)
	UpdateBasketWeight(ctx context.Context, index, newWeightBps uint64) (common.Hash, error)
}

type Updater struct {
	chain  Chain
	logger *zap.Logger
}

func NewUpdater(chain Chain, logger *zap.Logger) *Updater {
	return &Updater{chain: chain, logger: logger}
}

// CurrentWeights reads every basket entry's weight.
func (u *Updater) CurrentWeights(ctx context.Context) ([]uint64, error) {
	length, err := u.chain.BasketLength(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read basket length: %w", err)
	}
	weights := make([]uint64, length)
	for i := uint64(0); i < length; i++ {
		alloc, err := u.chain.BasketAllocation(ctx, i)
		if err != nil {
			return nil, fmt.Errorf("failed to read allocation %d: %w", i, err)
		}
		if alloc.WeightBps == nil || !alloc.WeightBps.IsUint64() {
			return nil, fmt.Errorf("%w: allocation %d weight %v out of range", ErrInvalidTotalWeight, i, alloc.WeightBps)
		}
		weights[i] = alloc.WeightBps.Uint64()
	}
	return weights, nil
}

// Apply validates a single-entry weight change against on-chain state and submits it.
func (u *Updater) Apply(ctx context.Context, index, newBps uint64) (common.Hash, error) {
	length, err := u.chain.BasketLength(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to read basket length: %w", err)
	}
	if index >= length {
		return common.Hash{}, fmt.Errorf("%w: %d >= %d", ErrIndexOutOfRange, index, length)
	}

	total, err := u.chain.TotalTargetWeights(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to read total target weights: %w", err)
	}
	alloc, err := u.chain.BasketAllocation(ctx, index)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to read allocation %d: %w", index, err)
	}

	if !total.IsUint64() || !alloc.WeightBps.IsUint64() {
		return common.Hash{}, fmt.Errorf("%w: on-chain weights out of range", ErrInvalidTotalWeight)
	}
	if err := ValidateUpdate(total.Uint64(), alloc.WeightBps.Uint64(), newBps); err != nil {
		u.logger.Warn("Rejected weight update",
			zap.Uint64("basket_index", index),
			zap.Uint64("old_weight_bps", alloc.WeightBps.Uint64()),
			zap.Uint64("new_weight_bps", newBps),
			zap.Uint64("current_total", total.Uint64()))
		return common.Hash{}, err
	}

	return u.chain.UpdateBasketWeight(ctx, index, newBps)
}
