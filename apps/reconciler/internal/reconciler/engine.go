// Package reconciler drives intent state from decoded protocol events.
package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"shield/apps/reconciler/internal/assets"
	"shield/apps/reconciler/internal/events"
	"shield/apps/reconciler/internal/metrics"
	"shield/apps/reconciler/internal/model"
	"shield/apps/reconciler/internal/nav"
	"shield/apps/reconciler/internal/repository"
)

type Chain interface {
	DepositIntents(ctx context.Context, depositID *big.Int) ([]common.Hash, error)
	WithdrawalIntents(ctx context.Context, withdrawalID *big.Int) ([]common.Hash, error)
	ExecuteMintIntent(ctx context.Context, intentID common.Hash, depositID *big.Int) (common.Hash, error)
	ExecuteRedeemIntent(ctx context.Context, intentID common.Hash) (common.Hash, error)
	RebalancePositions(ctx context.Context) (common.Hash, error)
}

type IntentStore interface {
	CreateIntent(ctx context.Context, intent model.Intent) (bool, error)
	GetIntent(ctx context.Context, intentID string) (*model.Intent, error)
	UpdateIntentStatus(ctx context.Context, intentID string, status model.IntentStatus, executionTxHash *string) (bool, error)
	MarkExecutionAttempt(ctx context.Context, intentID string) (bool, error)
}

type AuditStore interface {
	StoreAuditRecord(ctx context.Context, record model.AuditRecord) (bool, error)
}

type NAVTrigger interface {
	Trigger(reason string)
}

// Engine implements events.Handlers. Handler errors are infrastructure failures that abort the
// current block; business mismatches are logged and swallowed, failed executions mark the
// intent FAILED.
type Engine struct {
	chain     Chain
	intents   IntentStore
	audit     AuditStore
	nav       NAVTrigger
	rebalance *Debouncer
	logger    *zap.Logger
}

var _ events.Handlers = (*Engine)(nil)

func NewEngine(chain Chain, intents IntentStore, audit AuditStore, navTrigger NAVTrigger, cooldown time.Duration, logger *zap.Logger) *Engine {
	e := &Engine{
		chain:   chain,
		intents: intents,
		audit:   audit,
		nav:     navTrigger,
		logger:  logger,
	}
	e.rebalance = NewDebouncer(cooldown, e.triggerRebalance)
	return e
}

// Close cancels a pending rebalance.
func (e *Engine) Close() {
	e.rebalance.Stop()
}

func (e *Engine) HandleMintIntentCreated(ctx context.Context, ev *events.MintIntentCreated) error {
	return e.createIntent(ctx, model.Intent{
		IntentID:       ev.IntentID.Hex(),
		Kind:           model.IntentKindMint,
		UserAddress:    ev.User.Hex(),
		Asset:          ev.DepositAsset.Hex(),
		Amount:         ev.DepositAmount.String(),
		LockedNAV:      ev.LockedNAV.String(),
		ExpectedOutput: ev.ExpectedShield.String(),
		ExecutionFee:   ev.ExecutionFee.String(),
		ExpiresAt:      unixSeconds(ev.ExpiresAt),
		BlockNumber:    ev.BlockNumber,
		TxHash:         ev.TxHash.Hex(),
	})
}

func (e *Engine) HandleRedeemIntentCreated(ctx context.Context, ev *events.RedeemIntentCreated) error {
	return e.createIntent(ctx, model.Intent{
		IntentID:       ev.IntentID.Hex(),
		Kind:           model.IntentKindRedeem,
		UserAddress:    ev.User.Hex(),
		Asset:          ev.OutputAsset.Hex(),
		Amount:         ev.ShieldAmount.String(),
		LockedNAV:      ev.LockedNAV.String(),
		ExpectedOutput: ev.ExpectedStablecoin.String(),
		ExecutionFee:   ev.ExecutionFee.String(),
		ExpiresAt:      unixSeconds(ev.ExpiresAt),
		BlockNumber:    ev.BlockNumber,
		TxHash:         ev.TxHash.Hex(),
	})
}

// unixSeconds saturates at MaxInt64 so a far-future uint256 deadline never wraps into the past.
func unixSeconds(v *big.Int) int64 {
	if !v.IsInt64() {
		if v.Sign() < 0 {
			return 0
		}
		return math.MaxInt64
	}
	return v.Int64()
}

func (e *Engine) createIntent(ctx context.Context, intent model.Intent) error {
	created, err := e.intents.CreateIntent(ctx, intent)
	if err != nil {
		return err
	}
	if !created {
		e.logger.Info("Intent already recorded", zap.String("intent_id", intent.IntentID))
		return nil
	}
	metrics.IntentTransitions.WithLabelValues(string(intent.Kind), string(model.IntentStatusPending)).Inc()
	return nil
}

type processedPayload struct {
	ID              string `json:"id"`
	User            string `json:"user"`
	Amount          string `json:"amount"`
	AmountFormatted string `json:"amount_formatted"`
	Success         bool   `json:"success"`
}

func (e *Engine) HandleDepositProcessed(ctx context.Context, ev *events.DepositProcessed) error {
	payload := processedPayload{
		ID:              ev.DepositID.String(),
		User:            ev.User.Hex(),
		Amount:          ev.Amount.String(),
		AmountFormatted: assets.FormatAmount(ev.Amount, assets.ProtocolDecimals),
		Success:         ev.Success,
	}
	if err := e.storeAudit(ctx, ev.LogMeta, model.AuditDepositProcessed, payload); err != nil {
		return err
	}
	if !ev.Success {
		e.logger.Warn("Deposit processing failed on chain, intent left pending", zap.String("deposit_id", payload.ID))
		return nil
	}

	ids, err := e.chain.DepositIntents(ctx, ev.DepositID)
	if err != nil {
		e.logger.Warn("Could not resolve deposit intents", zap.String("deposit_id", payload.ID), zap.Error(err))
		return nil
	}
	return e.execute(ctx, model.IntentKindMint, "deposit_id", ev.DepositID, ids)
}

func (e *Engine) HandleWithdrawalProcessed(ctx context.Context, ev *events.WithdrawalProcessed) error {
	payload := processedPayload{
		ID:              ev.WithdrawalID.String(),
		User:            ev.User.Hex(),
		Amount:          ev.Amount.String(),
		AmountFormatted: assets.FormatAmount(ev.Amount, assets.ProtocolDecimals),
		Success:         ev.Success,
	}
	if err := e.storeAudit(ctx, ev.LogMeta, model.AuditWithdrawalProcessed, payload); err != nil {
		return err
	}
	if !ev.Success {
		e.logger.Warn("Withdrawal processing failed on chain, intent left pending", zap.String("withdrawal_id", payload.ID))
		return nil
	}

	ids, err := e.chain.WithdrawalIntents(ctx, ev.WithdrawalID)
	if err != nil {
		e.logger.Warn("Could not resolve withdrawal intents", zap.String("withdrawal_id", payload.ID), zap.Error(err))
		return nil
	}
	return e.execute(ctx, model.IntentKindRedeem, "withdrawal_id", ev.WithdrawalID, ids)
}

// execute runs the first candidate intent. The cross-reference can list several ids; only the
// first is considered.
func (e *Engine) execute(ctx context.Context, kind model.IntentKind, refName string, ref *big.Int, candidates []common.Hash) error {
	refField := zap.String(refName, ref.String())
	if len(candidates) == 0 {
		e.logger.Warn("No intent linked to completed transfer", refField)
		return nil
	}
	if len(candidates) > 1 {
		e.logger.Warn("Multiple intents linked to transfer, using the first", refField, zap.Int("candidates", len(candidates)))
	}

	intentID := candidates[0]
	intent, err := e.intents.GetIntent(ctx, intentID.Hex())
	if errors.Is(err, repository.ErrIntentNotFound) {
		e.logger.Warn("Linked intent not found", refField, zap.String("intent_id", intentID.Hex()))
		return nil
	}
	if err != nil {
		return err
	}
	if intent.Status != model.IntentStatusPending {
		e.logger.Info("Linked intent not pending, skipping", refField, zap.String("intent_id", intent.IntentID), zap.String("status", string(intent.Status)))
		return nil
	}
	if intent.Kind != kind {
		e.logger.Warn("Linked intent has the wrong kind", refField, zap.String("intent_id", intent.IntentID), zap.String("kind", string(intent.Kind)))
		return nil
	}

	claimed, err := e.intents.MarkExecutionAttempt(ctx, intent.IntentID)
	if err != nil {
		return err
	}
	if !claimed {
		// a previous pass broadcast and then failed to record the outcome
		e.logger.Error("Execution already attempted for pending intent, needs reconciliation against chain",
			refField, zap.String("intent_id", intent.IntentID))
		return nil
	}

	var txHash common.Hash
	if kind == model.IntentKindMint {
		txHash, err = e.chain.ExecuteMintIntent(ctx, intentID, ref)
	} else {
		txHash, err = e.chain.ExecuteRedeemIntent(ctx, intentID)
	}

	var hashRef *string
	if txHash != (common.Hash{}) {
		h := txHash.Hex()
		hashRef = &h
	}

	if err != nil {
		e.logger.Error("Intent execution failed, marking FAILED", refField, zap.String("intent_id", intent.IntentID), zap.Error(err))
		return e.transition(ctx, intent, model.IntentStatusFailed, hashRef)
	}

	if err := e.transition(ctx, intent, model.IntentStatusProcessed, hashRef); err != nil {
		return err
	}
	e.nav.Trigger(nav.TriggerEvent)
	return nil
}

func (e *Engine) transition(ctx context.Context, intent *model.Intent, status model.IntentStatus, txHash *string) error {
	updated, err := e.intents.UpdateIntentStatus(ctx, intent.IntentID, status, txHash)
	if err != nil {
		return fmt.Errorf("failed to mark intent %s %s: %w", intent.IntentID, status, err)
	}
	if !updated {
		// expiry sweep or a concurrent writer got there first
		e.logger.Warn("Intent left pending state before update", zap.String("intent_id", intent.IntentID), zap.String("status", string(status)))
		return nil
	}
	metrics.IntentTransitions.WithLabelValues(string(intent.Kind), string(status)).Inc()
	return nil
}

type allocationPayload struct {
	BasketIndex  string `json:"basket_index"`
	OldWeightBps string `json:"old_weight_bps"`
	NewWeightBps string `json:"new_weight_bps"`
}

func (e *Engine) HandleBasketAllocationUpdated(ctx context.Context, ev *events.BasketAllocationUpdated) error {
	payload := allocationPayload{
		BasketIndex:  ev.BasketIndex.String(),
		OldWeightBps: ev.OldWeightBps.String(),
		NewWeightBps: ev.NewWeightBps.String(),
	}
	if err := e.storeAudit(ctx, ev.LogMeta, model.AuditBasketAllocationUpdated, payload); err != nil {
		return err
	}
	e.rebalance.Schedule()
	e.logger.Info("Rebalance scheduled", zap.String("basket_index", payload.BasketIndex))
	return nil
}

type rebalancePayload struct {
	FromToken string `json:"from_token"`
	ToToken   string `json:"to_token"`
	Amount    string `json:"amount"`
	Timestamp string `json:"timestamp"`
}

func (e *Engine) HandleRebalanceExecuted(ctx context.Context, ev *events.RebalanceExecuted) error {
	payload := rebalancePayload{
		FromToken: ev.FromToken.Hex(),
		ToToken:   ev.ToToken.Hex(),
		Amount:    ev.Amount.String(),
		Timestamp: ev.Timestamp.String(),
	}
	if err := e.storeAudit(ctx, ev.LogMeta, model.AuditRebalanceExecuted, payload); err != nil {
		return err
	}
	e.nav.Trigger(nav.TriggerEvent)
	return nil
}

func (e *Engine) storeAudit(ctx context.Context, meta events.LogMeta, eventType model.AuditEventType, payload interface{}) error {
	blob, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}

	stored, err := e.audit.StoreAuditRecord(ctx, model.AuditRecord{
		TxHash:      meta.TxHash.Hex(),
		LogIndex:    meta.LogIndex,
		BlockNumber: meta.BlockNumber,
		EventType:   eventType,
		Payload:     blob,
	})
	if err != nil {
		return err
	}
	if !stored {
		e.logger.Info("Audit record already stored", zap.String("event_type", string(eventType)), zap.String("tx_hash", meta.TxHash.Hex()), zap.Uint("log_index", meta.LogIndex))
	}
	return nil
}

func (e *Engine) triggerRebalance() {
	if _, err := e.chain.RebalancePositions(context.Background()); err != nil {
		e.logger.Error("Rebalance failed", zap.Error(err))
	}
}
