package reconciler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"shield/apps/reconciler/internal/events"
	"shield/apps/reconciler/internal/model"
	"shield/apps/reconciler/internal/repository"
	"shield/apps/reconciler/internal/submitter"
)

type memIntents struct {
	mu      sync.Mutex
	rows    map[string]*model.Intent
	history map[string][]model.IntentStatus
	// number of status updates that fail before one succeeds
	updateFailures int
}

func newMemIntents() *memIntents {
	return &memIntents{rows: make(map[string]*model.Intent), history: make(map[string][]model.IntentStatus)}
}

func (m *memIntents) CreateIntent(_ context.Context, intent model.Intent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[intent.IntentID]; ok {
		return false, nil
	}
	intent.Status = model.IntentStatusPending
	m.rows[intent.IntentID] = &intent
	m.history[intent.IntentID] = []model.IntentStatus{model.IntentStatusPending}
	return true, nil
}

func (m *memIntents) GetIntent(_ context.Context, id string) (*model.Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, repository.ErrIntentNotFound
	}
	c := *row
	return &c, nil
}

func (m *memIntents) UpdateIntentStatus(_ context.Context, id string, status model.IntentStatus, txHash *string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateFailures > 0 {
		m.updateFailures--
		return false, errors.New("connection reset")
	}
	row, ok := m.rows[id]
	if !ok || !row.Status.CanTransitionTo(status) {
		return false, nil
	}
	row.Status = status
	row.ExecutionTxHash = txHash
	m.history[id] = append(m.history[id], status)
	return true, nil
}

func (m *memIntents) MarkExecutionAttempt(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok || row.Status != model.IntentStatusPending || row.ExecutionAttemptedAt != nil {
		return false, nil
	}
	now := time.Now()
	row.ExecutionAttemptedAt = &now
	return true, nil
}

type memAudit struct {
	records map[string]model.AuditRecord
	err     error
}

func (m *memAudit) StoreAuditRecord(_ context.Context, r model.AuditRecord) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	key := fmt.Sprintf("%s:%d", r.TxHash, r.LogIndex)
	if _, ok := m.records[key]; ok {
		return false, nil
	}
	m.records[key] = r
	return true, nil
}

type fakeChain struct {
	mu          sync.Mutex
	deposits    map[int64][]common.Hash
	withdrawals map[int64][]common.Hash
	lookupErr   error
	executeErr  error
	minted      []common.Hash
	redeemed    []common.Hash
	rebalances  int
}

func (f *fakeChain) DepositIntents(_ context.Context, id *big.Int) ([]common.Hash, error) {
	return f.deposits[id.Int64()], f.lookupErr
}

func (f *fakeChain) WithdrawalIntents(_ context.Context, id *big.Int) ([]common.Hash, error) {
	return f.withdrawals[id.Int64()], f.lookupErr
}

func (f *fakeChain) ExecuteMintIntent(_ context.Context, id common.Hash, _ *big.Int) (common.Hash, error) {
	f.minted = append(f.minted, id)
	return common.HexToHash("0x7777"), f.executeErr
}

func (f *fakeChain) ExecuteRedeemIntent(_ context.Context, id common.Hash) (common.Hash, error) {
	f.redeemed = append(f.redeemed, id)
	return common.HexToHash("0x8888"), f.executeErr
}

func (f *fakeChain) RebalancePositions(context.Context) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rebalances++
	return common.Hash{}, nil
}

type countingTrigger struct {
	reasons []string
}

func (c *countingTrigger) Trigger(reason string) {
	c.reasons = append(c.reasons, reason)
}

type harness struct {
	engine  *Engine
	chain   *fakeChain
	intents *memIntents
	audit   *memAudit
	nav     *countingTrigger
}

func newHarness() *harness {
	h := &harness{
		chain:   &fakeChain{deposits: map[int64][]common.Hash{}, withdrawals: map[int64][]common.Hash{}},
		intents: newMemIntents(),
		audit:   &memAudit{records: map[string]model.AuditRecord{}},
		nav:     &countingTrigger{},
	}
	h.engine = NewEngine(h.chain, h.intents, h.audit, h.nav, 300*time.Second, zap.NewNop())
	return h
}

var (
	intentABC = common.HexToHash("0xabc")
	user      = common.HexToAddress("0xc3")
)

func e18(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func meta(tx string, idx uint) events.LogMeta {
	return events.LogMeta{TxHash: common.HexToHash(tx), LogIndex: idx, BlockNumber: 100}
}

func mintCreated(id common.Hash) *events.MintIntentCreated {
	return &events.MintIntentCreated{
		LogMeta:        meta("0x01", 0),
		IntentID:       id,
		User:           user,
		DepositAsset:   common.HexToAddress("0xd4"),
		DepositAmount:  e18(1000),
		LockedNAV:      e18(1),
		ExpectedShield: e18(1000),
		ExecutionFee:   big.NewInt(0),
		ExpiresAt:      big.NewInt(1700000000),
	}
}

func depositProcessed(id int64, success bool) *events.DepositProcessed {
	return &events.DepositProcessed{
		LogMeta:   meta("0x02", 1),
		DepositID: big.NewInt(id),
		User:      user,
		Amount:    e18(1000),
		Success:   success,
	}
}

func TestMintThenDepositProcessed(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.chain.deposits[7] = []common.Hash{intentABC}

	require.NoError(t, h.engine.HandleMintIntentCreated(ctx, mintCreated(intentABC)))
	require.NoError(t, h.engine.HandleDepositProcessed(ctx, depositProcessed(7, true)))

	intent, err := h.intents.GetIntent(ctx, intentABC.Hex())
	require.NoError(t, err)
	assert.Equal(t, model.IntentStatusProcessed, intent.Status)
	assert.Equal(t, common.HexToHash("0x7777").Hex(), *intent.ExecutionTxHash)
	assert.Equal(t, []common.Hash{intentABC}, h.chain.minted)
	assert.Equal(t, []string{"event"}, h.nav.reasons)
	assert.Len(t, h.audit.records, 1)
}

func TestExecutionFailureMarksFailed(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.chain.deposits[7] = []common.Hash{intentABC}
	h.chain.executeErr = fmt.Errorf("%w: 0x7777", submitter.ErrTxFailed)

	require.NoError(t, h.engine.HandleMintIntentCreated(ctx, mintCreated(intentABC)))
	require.NoError(t, h.engine.HandleDepositProcessed(ctx, depositProcessed(7, true)))

	intent, _ := h.intents.GetIntent(ctx, intentABC.Hex())
	assert.Equal(t, model.IntentStatusFailed, intent.Status)
	assert.Empty(t, h.nav.reasons)

	// a redelivered completion never re-executes a failed intent
	require.NoError(t, h.engine.HandleDepositProcessed(ctx, depositProcessed(7, true)))
	assert.Len(t, h.chain.minted, 1)
	assert.Equal(t, []model.IntentStatus{model.IntentStatusPending, model.IntentStatusFailed}, h.intents.history[intentABC.Hex()])
}

func TestOutcomeWriteFailureDoesNotReExecute(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.chain.deposits[7] = []common.Hash{intentABC}
	h.intents.updateFailures = 1

	require.NoError(t, h.engine.HandleMintIntentCreated(ctx, mintCreated(intentABC)))

	// the mint lands on chain but recording PROCESSED fails, so the block is replayed
	err := h.engine.HandleDepositProcessed(ctx, depositProcessed(7, true))
	assert.ErrorContains(t, err, "connection reset")
	require.NoError(t, h.engine.HandleDepositProcessed(ctx, depositProcessed(7, true)))

	assert.Len(t, h.chain.minted, 1, "executeMintIntent must be submitted once")
	intent, _ := h.intents.GetIntent(ctx, intentABC.Hex())
	assert.Equal(t, model.IntentStatusPending, intent.Status)
	assert.NotNil(t, intent.ExecutionAttemptedAt)
	assert.Empty(t, h.nav.reasons)
}

func TestFarFutureExpiryDoesNotWrap(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	maxUint256 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

	ev := mintCreated(intentABC)
	ev.ExpiresAt = maxUint256
	require.NoError(t, h.engine.HandleMintIntentCreated(ctx, ev))

	intent, err := h.intents.GetIntent(ctx, intentABC.Hex())
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), intent.ExpiresAt)

	assert.Equal(t, int64(1700000000), unixSeconds(big.NewInt(1700000000)))
	assert.Equal(t, int64(math.MaxInt64), unixSeconds(new(big.Int).Lsh(big.NewInt(1), 63)))
}

func TestDepositProcessedUnsuccessful(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.chain.deposits[7] = []common.Hash{intentABC}

	require.NoError(t, h.engine.HandleMintIntentCreated(ctx, mintCreated(intentABC)))
	require.NoError(t, h.engine.HandleDepositProcessed(ctx, depositProcessed(7, false)))

	intent, _ := h.intents.GetIntent(ctx, intentABC.Hex())
	assert.Equal(t, model.IntentStatusPending, intent.Status)
	assert.Empty(t, h.chain.minted)
	assert.Len(t, h.audit.records, 1, "audit record is kept for failed transfers")
}

func TestUnmatchedCompletionIsSkipped(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	// no cross-reference at all
	require.NoError(t, h.engine.HandleDepositProcessed(ctx, depositProcessed(9, true)))

	// cross-reference to an intent never seen
	h.chain.deposits[10] = []common.Hash{common.HexToHash("0xdead")}
	require.NoError(t, h.engine.HandleDepositProcessed(ctx, depositProcessed(10, true)))

	// lookup error is logged, not fatal
	h.chain.lookupErr = errors.New("execution reverted")
	require.NoError(t, h.engine.HandleDepositProcessed(ctx, depositProcessed(11, true)))

	assert.Empty(t, h.chain.minted)
}

func TestFirstCandidateWins(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	other := common.HexToHash("0xdef")
	h.chain.deposits[7] = []common.Hash{intentABC, other}

	require.NoError(t, h.engine.HandleMintIntentCreated(ctx, mintCreated(intentABC)))
	require.NoError(t, h.engine.HandleMintIntentCreated(ctx, mintCreated(other)))
	require.NoError(t, h.engine.HandleDepositProcessed(ctx, depositProcessed(7, true)))

	assert.Equal(t, []common.Hash{intentABC}, h.chain.minted)
	o, _ := h.intents.GetIntent(ctx, other.Hex())
	assert.Equal(t, model.IntentStatusPending, o.Status)
}

func TestRedeemFlow(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.chain.withdrawals[3] = []common.Hash{intentABC}

	require.NoError(t, h.engine.HandleRedeemIntentCreated(ctx, &events.RedeemIntentCreated{
		LogMeta:            meta("0x03", 0),
		IntentID:           intentABC,
		User:               user,
		OutputAsset:        common.HexToAddress("0xd4"),
		ShieldAmount:       e18(10),
		LockedNAV:          e18(1),
		ExpectedStablecoin: big.NewInt(10_000_000),
		ExecutionFee:       big.NewInt(0),
		ExpiresAt:          big.NewInt(1700000000),
	}))

	// a deposit pointing at a redeem intent is ignored
	h.chain.deposits[3] = []common.Hash{intentABC}
	require.NoError(t, h.engine.HandleDepositProcessed(ctx, depositProcessed(3, true)))
	assert.Empty(t, h.chain.minted)

	require.NoError(t, h.engine.HandleWithdrawalProcessed(ctx, &events.WithdrawalProcessed{
		LogMeta:      meta("0x04", 0),
		WithdrawalID: big.NewInt(3),
		User:         user,
		Amount:       e18(10),
		Success:      true,
	}))

	intent, _ := h.intents.GetIntent(ctx, intentABC.Hex())
	assert.Equal(t, model.IntentStatusProcessed, intent.Status)
	assert.Equal(t, []common.Hash{intentABC}, h.chain.redeemed)
}

func TestReplayIsIdempotent(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.chain.deposits[7] = []common.Hash{intentABC}

	for i := 0; i < 2; i++ {
		require.NoError(t, h.engine.HandleMintIntentCreated(ctx, mintCreated(intentABC)))
		require.NoError(t, h.engine.HandleDepositProcessed(ctx, depositProcessed(7, true)))
		require.NoError(t, h.engine.HandleRebalanceExecuted(ctx, &events.RebalanceExecuted{
			LogMeta: meta("0x05", 4), FromToken: user, ToToken: user, Amount: big.NewInt(1), Timestamp: big.NewInt(1),
		}))
	}

	assert.Len(t, h.intents.rows, 1)
	assert.Len(t, h.audit.records, 2)
	assert.Len(t, h.chain.minted, 1)
	assert.Equal(t, []model.IntentStatus{model.IntentStatusPending, model.IntentStatusProcessed}, h.intents.history[intentABC.Hex()])
}

func TestAuditFailureAbortsBlock(t *testing.T) {
	h := newHarness()
	h.audit.err = errors.New("db down")

	err := h.engine.HandleRebalanceExecuted(context.Background(), &events.RebalanceExecuted{
		LogMeta: meta("0x05", 0), Amount: big.NewInt(1), Timestamp: big.NewInt(1),
	})
	assert.ErrorContains(t, err, "db down")
	assert.Empty(t, h.nav.reasons)
}

func TestAllocationUpdatesDebounceRebalance(t *testing.T) {
	h := newHarness()
	clock := newFakeClock()
	h.engine.rebalance.afterFunc = clock.AfterFunc
	ctx := context.Background()

	alloc := func(idx uint) *events.BasketAllocationUpdated {
		return &events.BasketAllocationUpdated{
			LogMeta: meta("0x06", idx), BasketIndex: big.NewInt(0), OldWeightBps: big.NewInt(4000), NewWeightBps: big.NewInt(4500),
		}
	}

	require.NoError(t, h.engine.HandleBasketAllocationUpdated(ctx, alloc(0)))
	clock.Advance(10 * time.Second)
	require.NoError(t, h.engine.HandleBasketAllocationUpdated(ctx, alloc(1)))

	clock.Advance(299 * time.Second) // 300s after the first, 299s after the second
	assert.Equal(t, 0, h.chain.rebalances)

	clock.Advance(time.Second)
	assert.Equal(t, 1, h.chain.rebalances)

	clock.Advance(time.Hour)
	assert.Equal(t, 1, h.chain.rebalances)
	assert.Len(t, h.audit.records, 2)
}
