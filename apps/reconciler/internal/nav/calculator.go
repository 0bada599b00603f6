// Package nav computes the basket's net asset value, signs it with the hot wallet and
// publishes it to the oracle.
package nav

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"shield/apps/reconciler/internal/assets"
	"shield/apps/reconciler/internal/contracts"
	"shield/apps/reconciler/internal/metrics"
	"shield/apps/reconciler/internal/model"
)

const (
	TriggerSchedule = "schedule"
	TriggerEvent    = "event"
	TriggerOperator = "operator"
)

// Chain is the on-chain surface the calculator reads from and submits to.
type Chain interface {
	BasketLength(ctx context.Context) (uint64, error)
	BasketAllocation(ctx context.Context, index uint64) (*contracts.Allocation, error)
	PositionCollateralValue(ctx context.Context, positionKey common.Hash) (*big.Int, error)
	StablecoinReserves(ctx context.Context) (*big.Int, error)
	TotalSupply(ctx context.Context) (*big.Int, error)
	SubmitNAV(ctx context.Context, navPerToken, totalManagedValue, shieldSupply *big.Int, timestamp uint64, signature []byte) (common.Hash, error)
}

type SnapshotStore interface {
	StoreSnapshot(ctx context.Context, snapshot model.NAVSnapshot) error
}

// Result is one calculator run. Skipped lists basket indexes left out of the total.
type Result struct {
	NAVPerToken       *big.Int
	TotalManagedValue *big.Int
	ShieldSupply      *big.Int
	Timestamp         uint64
	Skipped           []uint64
}

type Calculator struct {
	chain  Chain
	store  SnapshotStore
	key    *ecdsa.PrivateKey
	now    func() time.Time
	logger *zap.Logger
}

func NewCalculator(chain Chain, store SnapshotStore, key *ecdsa.PrivateKey, logger *zap.Logger) *Calculator {
	return &Calculator{
		chain:  chain,
		store:  store,
		key:    key,
		now:    time.Now,
		logger: logger,
	}
}

// ComputeNAV returns floor(totalManagedValue * 1e18 / shieldSupply), or 1e18 before any supply exists.
func ComputeNAV(totalManagedValue, shieldSupply *big.Int) *big.Int {
	if shieldSupply == nil || shieldSupply.Sign() == 0 {
		return new(big.Int).Set(assets.One)
	}
	nav := new(big.Int).Mul(totalManagedValue, assets.One)
	return nav.Quo(nav, shieldSupply)
}

// Calculate aggregates position values and reserves. A position or allocation that cannot be
// read is skipped; reserves, supply and basket length are required.
func (c *Calculator) Calculate(ctx context.Context) (*Result, error) {
	length, err := c.chain.BasketLength(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read basket length: %w", err)
	}

	total := new(big.Int)
	var skipped []uint64
	for i := uint64(0); i < length; i++ {
		alloc, err := c.chain.BasketAllocation(ctx, i)
		if err != nil {
			c.logger.Warn("Skipping basket entry, allocation unavailable", zap.Uint64("basket_index", i), zap.Error(err))
			skipped = append(skipped, i)
			continue
		}
		if alloc.PositionKey == (common.Hash{}) {
			continue
		}

		value, err := c.chain.PositionCollateralValue(ctx, alloc.PositionKey)
		if err != nil {
			c.logger.Warn("Skipping basket entry, position value unavailable",
				zap.Uint64("basket_index", i),
				zap.String("position_key", alloc.PositionKey.Hex()),
				zap.Error(err))
			skipped = append(skipped, i)
			continue
		}
		total.Add(total, assets.ToProtocol(value, assets.PositionDecimals))
	}

	reserves, err := c.chain.StablecoinReserves(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read stablecoin reserves: %w", err)
	}
	total.Add(total, assets.ToProtocol(reserves, assets.StablecoinDecimals))

	supply, err := c.chain.TotalSupply(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read total supply: %w", err)
	}

	return &Result{
		NAVPerToken:       ComputeNAV(total, supply),
		TotalManagedValue: total,
		ShieldSupply:      supply,
		Timestamp:         uint64(c.now().Unix()),
		Skipped:           skipped,
	}, nil
}

// Run calculates, signs and submits the NAV, then records a snapshot whether or not the
// submission went through.
func (c *Calculator) Run(ctx context.Context, trigger string) (*model.NAVSnapshot, error) {
	c.logger.Info("Running NAV calculation", zap.String("trigger", trigger))

	result, err := c.Calculate(ctx)
	if err != nil {
		metrics.NAVRuns.WithLabelValues("aborted").Inc()
		c.logger.Error("NAV calculation aborted", zap.Error(err))
		return nil, err
	}

	navFloat, _ := decimal.NewFromBigInt(result.NAVPerToken, -assets.ProtocolDecimals).Float64()
	metrics.LastNAVPerToken.Set(navFloat)

	c.logger.Info("Computed NAV",
		zap.String("nav_per_token", assets.FormatAmount(result.NAVPerToken, assets.ProtocolDecimals)),
		zap.String("total_managed_value", assets.FormatAmount(result.TotalManagedValue, assets.ProtocolDecimals)),
		zap.String("shield_supply", assets.FormatAmount(result.ShieldSupply, assets.ProtocolDecimals)),
		zap.Uint64s("skipped_entries", result.Skipped))

	snapshot := model.NAVSnapshot{
		ID:                uuid.New().String(),
		NAVPerToken:       result.NAVPerToken.String(),
		TotalManagedValue: result.TotalManagedValue.String(),
		ShieldSupply:      result.ShieldSupply.String(),
		Timestamp:         int64(result.Timestamp),
		Trigger:           trigger,
	}

	txHash, err := c.submit(ctx, result)
	if err != nil {
		metrics.NAVRuns.WithLabelValues("submit_failed").Inc()
		c.logger.Error("Failed to submit NAV", zap.Error(err))
	} else {
		metrics.NAVRuns.WithLabelValues("submitted").Inc()
		hex := txHash.Hex()
		snapshot.TxHash = &hex
	}

	if err := c.store.StoreSnapshot(ctx, snapshot); err != nil {
		c.logger.Error("Failed to store NAV snapshot", zap.String("id", snapshot.ID), zap.Error(err))
		return nil, err
	}

	return &snapshot, nil
}

func (c *Calculator) submit(ctx context.Context, result *Result) (common.Hash, error) {
	digest := Digest(result.NAVPerToken, result.TotalManagedValue, result.ShieldSupply, result.Timestamp)
	sig, err := Sign(digest, c.key)
	if err != nil {
		return common.Hash{}, err
	}
	return c.chain.SubmitNAV(ctx, result.NAVPerToken, result.TotalManagedValue, result.ShieldSupply, result.Timestamp, sig)
}
