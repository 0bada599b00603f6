package events

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"shield/apps/reconciler/internal/contracts"
	"shield/apps/reconciler/internal/metrics"
)

var (
	ErrUnknownTopic = errors.New("unknown event topic")
	ErrMalformedLog = errors.New("malformed event log")
)

// Handlers receives decoded events. A returned error aborts the surrounding block.
type Handlers interface {
	HandleMintIntentCreated(ctx context.Context, e *MintIntentCreated) error
	HandleRedeemIntentCreated(ctx context.Context, e *RedeemIntentCreated) error
	HandleDepositProcessed(ctx context.Context, e *DepositProcessed) error
	HandleWithdrawalProcessed(ctx context.Context, e *WithdrawalProcessed) error
	HandleBasketAllocationUpdated(ctx context.Context, e *BasketAllocationUpdated) error
	HandleRebalanceExecuted(ctx context.Context, e *RebalanceExecuted) error
}

type decodeFunc func(log types.Log) (Event, error)
type handleFunc func(ctx context.Context, e Event) error

type registration struct {
	name     string
	contract common.Address
	decode   decodeFunc
	handle   handleFunc
}

// Dispatcher maps topic hashes to a schema and handler.
type Dispatcher struct {
	registry map[common.Hash]registration
	logger   *zap.Logger
}

func NewDispatcher(vaultManager, basketManager common.Address, handlers Handlers, logger *zap.Logger) (*Dispatcher, error) {
	vaultABI, err := abi.JSON(strings.NewReader(contracts.VaultManagerABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse vault manager ABI: %w", err)
	}
	basketABI, err := abi.JSON(strings.NewReader(contracts.BasketManagerABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse basket manager ABI: %w", err)
	}

	d := &Dispatcher{
		registry: make(map[common.Hash]registration),
		logger:   logger,
	}

	d.register(vaultABI, vaultManager, NameMintIntentCreated, decodeMintIntentCreated(vaultABI),
		func(ctx context.Context, e Event) error {
			return handlers.HandleMintIntentCreated(ctx, e.(*MintIntentCreated))
		})
	d.register(vaultABI, vaultManager, NameRedeemIntentCreated, decodeRedeemIntentCreated(vaultABI),
		func(ctx context.Context, e Event) error {
			return handlers.HandleRedeemIntentCreated(ctx, e.(*RedeemIntentCreated))
		})
	d.register(basketABI, basketManager, NameDepositProcessed, decodeDepositProcessed(basketABI),
		func(ctx context.Context, e Event) error {
			return handlers.HandleDepositProcessed(ctx, e.(*DepositProcessed))
		})
	d.register(basketABI, basketManager, NameWithdrawalProcessed, decodeWithdrawalProcessed(basketABI),
		func(ctx context.Context, e Event) error {
			return handlers.HandleWithdrawalProcessed(ctx, e.(*WithdrawalProcessed))
		})
	d.register(basketABI, basketManager, NameBasketAllocationUpdated, decodeBasketAllocationUpdated(basketABI),
		func(ctx context.Context, e Event) error {
			return handlers.HandleBasketAllocationUpdated(ctx, e.(*BasketAllocationUpdated))
		})
	d.register(basketABI, basketManager, NameRebalanceExecuted, decodeRebalanceExecuted(basketABI),
		func(ctx context.Context, e Event) error {
			return handlers.HandleRebalanceExecuted(ctx, e.(*RebalanceExecuted))
		})

	return d, nil
}

func (d *Dispatcher) register(parsed abi.ABI, contract common.Address, name string, decode decodeFunc, handle handleFunc) {
	d.registry[parsed.Events[name].ID] = registration{
		name:     name,
		contract: contract,
		decode:   decode,
		handle:   handle,
	}
}

// Topics lists every registered event signature, for log filters.
func (d *Dispatcher) Topics() []common.Hash {
	topics := make([]common.Hash, 0, len(d.registry))
	for topic := range d.registry {
		topics = append(topics, topic)
	}
	return topics
}

// Decode turns a log into a typed event. Logs from an unexpected emitter count as unknown.
func (d *Dispatcher) Decode(log types.Log) (Event, error) {
	if len(log.Topics) == 0 {
		return nil, ErrUnknownTopic
	}
	reg, ok := d.registry[log.Topics[0]]
	if !ok || reg.contract != log.Address {
		return nil, ErrUnknownTopic
	}
	return reg.decode(log)
}

// Dispatch decodes a log and runs its handler. Unknown topics and malformed payloads are
// skipped; only handler errors are returned.
func (d *Dispatcher) Dispatch(ctx context.Context, log types.Log) error {
	event, err := d.Decode(log)
	if errors.Is(err, ErrUnknownTopic) {
		return nil
	}
	if err != nil {
		name := d.registry[log.Topics[0]].name
		metrics.DecodeFailures.WithLabelValues(name).Inc()
		d.logger.Error("Failed to decode event",
			zap.String("event", name),
			zap.String("tx_hash", log.TxHash.Hex()),
			zap.Uint("log_index", log.Index),
			zap.Int("data_length", len(log.Data)),
			zap.String("raw_data", fmt.Sprintf("%x", log.Data)),
			zap.Error(err))
		return nil
	}

	metrics.EventsDecoded.WithLabelValues(event.EventName()).Inc()
	d.logger.Info("Found event",
		zap.String("event", event.EventName()),
		zap.String("tx_hash", log.TxHash.Hex()),
		zap.Uint64("block", log.BlockNumber),
		zap.Uint("log_index", log.Index))

	reg := d.registry[log.Topics[0]]
	if err := reg.handle(ctx, event); err != nil {
		return fmt.Errorf("failed to handle %s in tx %s: %w", reg.name, log.TxHash.Hex(), err)
	}
	return nil
}

func metaOf(log types.Log) LogMeta {
	return LogMeta{
		Contract:    log.Address,
		TxHash:      log.TxHash,
		BlockNumber: log.BlockNumber,
		LogIndex:    log.Index,
	}
}

func requireTopics(log types.Log, n int) error {
	if len(log.Topics) != n {
		return fmt.Errorf("%w: want %d topics, got %d", ErrMalformedLog, n, len(log.Topics))
	}
	return nil
}

func unpack(parsed abi.ABI, out interface{}, name string, data []byte) error {
	if err := parsed.UnpackIntoInterface(out, name, data); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedLog, err)
	}
	return nil
}

// Topics[1] is intentId, Topics[2] is user.
func decodeMintIntentCreated(parsed abi.ABI) decodeFunc {
	return func(log types.Log) (Event, error) {
		if err := requireTopics(log, 3); err != nil {
			return nil, err
		}
		var data struct {
			DepositAsset   common.Address
			DepositAmount  *big.Int
			LockedNAV      *big.Int
			ExpectedShield *big.Int
			ExecutionFee   *big.Int
			ExpiresAt      *big.Int
		}
		if err := unpack(parsed, &data, NameMintIntentCreated, log.Data); err != nil {
			return nil, err
		}
		return &MintIntentCreated{
			LogMeta:        metaOf(log),
			IntentID:       log.Topics[1],
			User:           common.BytesToAddress(log.Topics[2].Bytes()),
			DepositAsset:   data.DepositAsset,
			DepositAmount:  data.DepositAmount,
			LockedNAV:      data.LockedNAV,
			ExpectedShield: data.ExpectedShield,
			ExecutionFee:   data.ExecutionFee,
			ExpiresAt:      data.ExpiresAt,
		}, nil
	}
}

func decodeRedeemIntentCreated(parsed abi.ABI) decodeFunc {
	return func(log types.Log) (Event, error) {
		if err := requireTopics(log, 3); err != nil {
			return nil, err
		}
		var data struct {
			OutputAsset        common.Address
			ShieldAmount       *big.Int
			LockedNAV          *big.Int
			ExpectedStablecoin *big.Int
			ExecutionFee       *big.Int
			ExpiresAt          *big.Int
		}
		if err := unpack(parsed, &data, NameRedeemIntentCreated, log.Data); err != nil {
			return nil, err
		}
		return &RedeemIntentCreated{
			LogMeta:            metaOf(log),
			IntentID:           log.Topics[1],
			User:               common.BytesToAddress(log.Topics[2].Bytes()),
			OutputAsset:        data.OutputAsset,
			ShieldAmount:       data.ShieldAmount,
			LockedNAV:          data.LockedNAV,
			ExpectedStablecoin: data.ExpectedStablecoin,
			ExecutionFee:       data.ExecutionFee,
			ExpiresAt:          data.ExpiresAt,
		}, nil
	}
}

type processedData struct {
	Amount  *big.Int
	Success bool
}

// Topics[1] is the deposit/withdrawal id, Topics[2] is user.
func decodeDepositProcessed(parsed abi.ABI) decodeFunc {
	return func(log types.Log) (Event, error) {
		if err := requireTopics(log, 3); err != nil {
			return nil, err
		}
		var data processedData
		if err := unpack(parsed, &data, NameDepositProcessed, log.Data); err != nil {
			return nil, err
		}
		return &DepositProcessed{
			LogMeta:   metaOf(log),
			DepositID: log.Topics[1].Big(),
			User:      common.BytesToAddress(log.Topics[2].Bytes()),
			Amount:    data.Amount,
			Success:   data.Success,
		}, nil
	}
}

func decodeWithdrawalProcessed(parsed abi.ABI) decodeFunc {
	return func(log types.Log) (Event, error) {
		if err := requireTopics(log, 3); err != nil {
			return nil, err
		}
		var data processedData
		if err := unpack(parsed, &data, NameWithdrawalProcessed, log.Data); err != nil {
			return nil, err
		}
		return &WithdrawalProcessed{
			LogMeta:      metaOf(log),
			WithdrawalID: log.Topics[1].Big(),
			User:         common.BytesToAddress(log.Topics[2].Bytes()),
			Amount:       data.Amount,
			Success:      data.Success,
		}, nil
	}
}

func decodeBasketAllocationUpdated(parsed abi.ABI) decodeFunc {
	return func(log types.Log) (Event, error) {
		if err := requireTopics(log, 2); err != nil {
			return nil, err
		}
		var data struct {
			OldWeightBps *big.Int
			NewWeightBps *big.Int
		}
		if err := unpack(parsed, &data, NameBasketAllocationUpdated, log.Data); err != nil {
			return nil, err
		}
		return &BasketAllocationUpdated{
			LogMeta:      metaOf(log),
			BasketIndex:  log.Topics[1].Big(),
			OldWeightBps: data.OldWeightBps,
			NewWeightBps: data.NewWeightBps,
		}, nil
	}
}

// Topics[1] is fromToken, Topics[2] is toToken.
func decodeRebalanceExecuted(parsed abi.ABI) decodeFunc {
	return func(log types.Log) (Event, error) {
		if err := requireTopics(log, 3); err != nil {
			return nil, err
		}
		var data struct {
			Amount    *big.Int
			Timestamp *big.Int
		}
		if err := unpack(parsed, &data, NameRebalanceExecuted, log.Data); err != nil {
			return nil, err
		}
		return &RebalanceExecuted{
			LogMeta:   metaOf(log),
			FromToken: common.BytesToAddress(log.Topics[1].Bytes()),
			ToToken:   common.BytesToAddress(log.Topics[2].Bytes()),
			Amount:    data.Amount,
			Timestamp: data.Timestamp,
		}, nil
	}
}
