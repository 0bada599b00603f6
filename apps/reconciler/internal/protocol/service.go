// Package protocol is the reconciler's single entry point to the on-chain protocol: typed
// reads through the contract bindings and writes through the hot wallet submitter.
package protocol

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"shield/apps/reconciler/internal/config"
	"shield/apps/reconciler/internal/contracts"
	"shield/apps/reconciler/internal/submitter"
)

// Submitter sends a built call and waits for a successful receipt.
type Submitter interface {
	Submit(ctx context.Context, call submitter.Call) (common.Hash, error)
}

type Service struct {
	vault     *contracts.VaultManager
	basket    *contracts.BasketManager
	positions *contracts.PositionReader
	oracle    *contracts.BasketOracle
	submitter Submitter
	// bounds every read; writes are bounded by the submitter
	rpcTimeout time.Duration
	logger     *zap.Logger
}

func NewService(cfg *config.Config, caller ethereum.ContractCaller, sub Submitter, logger *zap.Logger) (*Service, error) {
	vault, err := contracts.NewVaultManager(cfg.VaultManagerAddress)
	if err != nil {
		return nil, fmt.Errorf("vault manager binding: %w", err)
	}
	basket, err := contracts.NewBasketManager(cfg.BasketManagerAddress, caller)
	if err != nil {
		return nil, fmt.Errorf("basket manager binding: %w", err)
	}
	positions, err := contracts.NewPositionReader(cfg.PositionReaderAddress, caller)
	if err != nil {
		return nil, fmt.Errorf("position reader binding: %w", err)
	}
	oracle, err := contracts.NewBasketOracle(cfg.BasketOracleAddress)
	if err != nil {
		return nil, fmt.Errorf("basket oracle binding: %w", err)
	}

	return &Service{
		vault:      vault,
		basket:     basket,
		positions:  positions,
		oracle:     oracle,
		submitter:  sub,
		rpcTimeout: cfg.RPCTimeout,
		logger:     logger,
	}, nil
}

// DepositIntents returns the intent ids the basket manager recorded against a deposit.
func (s *Service) DepositIntents(ctx context.Context, depositID *big.Int) ([]common.Hash, error) {
	ctx, cancel := context.WithTimeout(ctx, s.rpcTimeout)
	defer cancel()

	pending, err := s.basket.PendingDeposit(ctx, depositID)
	if err != nil {
		return nil, err
	}
	return pending.IntentIDs, nil
}

func (s *Service) WithdrawalIntents(ctx context.Context, withdrawalID *big.Int) ([]common.Hash, error) {
	ctx, cancel := context.WithTimeout(ctx, s.rpcTimeout)
	defer cancel()

	pending, err := s.basket.PendingWithdrawal(ctx, withdrawalID)
	if err != nil {
		return nil, err
	}
	return pending.IntentIDs, nil
}

func (s *Service) ExecuteMintIntent(ctx context.Context, intentID common.Hash, depositID *big.Int) (common.Hash, error) {
	s.logger.Info("Executing mint intent", zap.String("intent_id", intentID.Hex()), zap.String("deposit_id", depositID.String()))
	data, err := s.vault.PackExecuteMintIntent(intentID, depositID)
	if err != nil {
		return common.Hash{}, err
	}
	return s.submitter.Submit(ctx, submitter.Call{Label: "execute_mint", To: s.vault.Address(), Data: data})
}

func (s *Service) ExecuteRedeemIntent(ctx context.Context, intentID common.Hash) (common.Hash, error) {
	s.logger.Info("Executing redeem intent", zap.String("intent_id", intentID.Hex()))
	data, err := s.vault.PackExecuteRedeemIntent(intentID)
	if err != nil {
		return common.Hash{}, err
	}
	return s.submitter.Submit(ctx, submitter.Call{Label: "execute_redeem", To: s.vault.Address(), Data: data})
}

func (s *Service) RebalancePositions(ctx context.Context) (common.Hash, error) {
	s.logger.Info("Triggering rebalance")
	data, err := s.basket.PackRebalancePositions()
	if err != nil {
		return common.Hash{}, err
	}
	return s.submitter.Submit(ctx, submitter.Call{Label: "rebalance", To: s.basket.Address(), Data: data})
}

func (s *Service) UpdateBasketWeight(ctx context.Context, index, newWeightBps uint64) (common.Hash, error) {
	s.logger.Info("Updating basket weight", zap.Uint64("basket_index", index), zap.Uint64("new_weight_bps", newWeightBps))
	data, err := s.basket.PackUpdateBasketWeight(index, newWeightBps)
	if err != nil {
		return common.Hash{}, err
	}
	return s.submitter.Submit(ctx, submitter.Call{Label: "update_weight", To: s.basket.Address(), Data: data})
}

func (s *Service) SubmitNAV(ctx context.Context, navPerToken, totalManagedValue, shieldSupply *big.Int, timestamp uint64, signature []byte) (common.Hash, error) {
	data, err := s.oracle.PackSubmitNAV(navPerToken, totalManagedValue, shieldSupply, timestamp, signature)
	if err != nil {
		return common.Hash{}, err
	}
	return s.submitter.Submit(ctx, submitter.Call{Label: "submit_nav", To: s.oracle.Address(), Data: data})
}

func (s *Service) BasketLength(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.rpcTimeout)
	defer cancel()
	return s.basket.BasketLength(ctx)
}

func (s *Service) BasketAllocation(ctx context.Context, index uint64) (*contracts.Allocation, error) {
	ctx, cancel := context.WithTimeout(ctx, s.rpcTimeout)
	defer cancel()
	return s.basket.BasketAllocation(ctx, index)
}

func (s *Service) TotalTargetWeights(ctx context.Context) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.rpcTimeout)
	defer cancel()
	return s.basket.TotalTargetWeights(ctx)
}

func (s *Service) StablecoinReserves(ctx context.Context) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.rpcTimeout)
	defer cancel()
	return s.basket.StablecoinReserves(ctx)
}

func (s *Service) TotalSupply(ctx context.Context) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.rpcTimeout)
	defer cancel()
	return s.basket.TotalSupply(ctx)
}

func (s *Service) PositionCollateralValue(ctx context.Context, positionKey common.Hash) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.rpcTimeout)
	defer cancel()
	return s.positions.PositionCollateralValue(ctx, positionKey)
}
