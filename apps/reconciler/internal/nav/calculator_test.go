package nav

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"shield/apps/reconciler/internal/assets"
	"shield/apps/reconciler/internal/contracts"
	"shield/apps/reconciler/internal/model"
)

type fakeChain struct {
	allocations  []*contracts.Allocation
	positions    map[common.Hash]*big.Int
	positionErrs map[common.Hash]error
	reserves     *big.Int
	supply       *big.Int
	reservesErr  error
	submitErr    error

	submitted []submission
}

type submission struct {
	nav, tmv, supply *big.Int
	timestamp        uint64
	sig              []byte
}

func (f *fakeChain) BasketLength(context.Context) (uint64, error) {
	return uint64(len(f.allocations)), nil
}

func (f *fakeChain) BasketAllocation(_ context.Context, i uint64) (*contracts.Allocation, error) {
	return f.allocations[i], nil
}

func (f *fakeChain) PositionCollateralValue(_ context.Context, key common.Hash) (*big.Int, error) {
	if err := f.positionErrs[key]; err != nil {
		return nil, err
	}
	return f.positions[key], nil
}

func (f *fakeChain) StablecoinReserves(context.Context) (*big.Int, error) {
	return f.reserves, f.reservesErr
}

func (f *fakeChain) TotalSupply(context.Context) (*big.Int, error) {
	return f.supply, nil
}

func (f *fakeChain) SubmitNAV(_ context.Context, nav, tmv, supply *big.Int, ts uint64, sig []byte) (common.Hash, error) {
	f.submitted = append(f.submitted, submission{nav, tmv, supply, ts, sig})
	if f.submitErr != nil {
		return common.Hash{}, f.submitErr
	}
	return common.HexToHash("0xbeef"), nil
}

type memStore struct {
	snapshots []model.NAVSnapshot
}

func (m *memStore) StoreSnapshot(_ context.Context, s model.NAVSnapshot) error {
	m.snapshots = append(m.snapshots, s)
	return nil
}

func units(n int64, decimals int) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), assets.Pow10(decimals))
}

func newTestCalculator(t *testing.T, chain *fakeChain) (*Calculator, *memStore) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	store := &memStore{}
	calc := NewCalculator(chain, store, key, zap.NewNop())
	calc.now = func() time.Time { return time.Unix(1700000000, 0) }
	return calc, store
}

func TestComputeNAV(t *testing.T) {
	v := units(1_000_000, 18)
	s := units(950_000, 18)

	nav := ComputeNAV(v, s)
	want, _ := new(big.Int).SetString("1052631578947368421", 10)
	assert.Equal(t, 0, want.Cmp(nav), "got %s", nav)

	assert.Equal(t, 0, assets.One.Cmp(ComputeNAV(v, big.NewInt(0))))
	assert.Equal(t, 0, assets.One.Cmp(ComputeNAV(big.NewInt(0), nil)))
}

func TestCalculate_NormalizesScales(t *testing.T) {
	keyA := common.HexToHash("0x0a")
	keyB := common.HexToHash("0x0b")
	chain := &fakeChain{
		allocations: []*contracts.Allocation{
			{PositionKey: keyA},
			{PositionKey: common.Hash{}}, // no position yet
			{PositionKey: keyB},
		},
		positions: map[common.Hash]*big.Int{
			keyA: units(600_000, 30),
			keyB: units(300_000, 30),
		},
		reserves: units(100_000, 6),
		supply:   units(950_000, 18),
	}
	calc, _ := newTestCalculator(t, chain)

	result, err := calc.Calculate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, units(1_000_000, 18).Cmp(result.TotalManagedValue))
	assert.Equal(t, "1052631578947368421", result.NAVPerToken.String())
	assert.Empty(t, result.Skipped)
}

func TestCalculate_SkipsUnreadablePosition(t *testing.T) {
	keyA := common.HexToHash("0x0a")
	keyB := common.HexToHash("0x0b")
	chain := &fakeChain{
		allocations:  []*contracts.Allocation{{PositionKey: keyA}, {PositionKey: keyB}},
		positions:    map[common.Hash]*big.Int{keyA: units(500, 30)},
		positionErrs: map[common.Hash]error{keyB: errors.New("reader reverted")},
		reserves:     units(500, 6),
		supply:       units(1000, 18),
	}
	calc, _ := newTestCalculator(t, chain)

	result, err := calc.Calculate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, result.Skipped)
	assert.Equal(t, 0, units(1000, 18).Cmp(result.TotalManagedValue))
	assert.Equal(t, 0, assets.One.Cmp(result.NAVPerToken))
}

func TestRun_SubmitsSignedNAV(t *testing.T) {
	chain := &fakeChain{reserves: units(1000, 6), supply: units(0, 18)}
	calc, store := newTestCalculator(t, chain)

	snapshot, err := calc.Run(context.Background(), TriggerEvent)
	require.NoError(t, err)

	require.Len(t, chain.submitted, 1)
	sub := chain.submitted[0]
	assert.Equal(t, 0, assets.One.Cmp(sub.nav), "empty supply bootstraps at 1.0")
	assert.Equal(t, uint64(1700000000), sub.timestamp)

	signer, err := Recover(Digest(sub.nav, sub.tmv, sub.supply, sub.timestamp), sub.sig)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(calc.key.PublicKey), signer)
	assert.Contains(t, []byte{27, 28}, sub.sig[64])

	require.Len(t, store.snapshots, 1)
	require.NotNil(t, snapshot.TxHash)
	assert.Equal(t, common.HexToHash("0xbeef").Hex(), *snapshot.TxHash)
	assert.Equal(t, TriggerEvent, snapshot.Trigger)
	assert.Equal(t, units(1000, 18).String(), snapshot.TotalManagedValue)
}

func TestRun_SubmitFailureStillRecordsSnapshot(t *testing.T) {
	chain := &fakeChain{reserves: units(1000, 6), supply: units(1000, 18), submitErr: errors.New("reverted")}
	calc, store := newTestCalculator(t, chain)

	snapshot, err := calc.Run(context.Background(), TriggerSchedule)
	require.NoError(t, err)
	require.Len(t, store.snapshots, 1)
	assert.Nil(t, snapshot.TxHash)
	assert.Nil(t, store.snapshots[0].TxHash)
}

func TestRun_AbortsWithoutReserves(t *testing.T) {
	chain := &fakeChain{reservesErr: errors.New("rpc timeout"), supply: units(1, 18)}
	calc, store := newTestCalculator(t, chain)

	_, err := calc.Run(context.Background(), TriggerSchedule)
	assert.ErrorContains(t, err, "rpc timeout")
	assert.Empty(t, store.snapshots)
	assert.Empty(t, chain.submitted)
}

func TestDigest_IsOrderSensitive(t *testing.T) {
	a := Digest(big.NewInt(1), big.NewInt(2), big.NewInt(3), 4)
	b := Digest(big.NewInt(2), big.NewInt(1), big.NewInt(3), 4)
	assert.NotEqual(t, a, b)

	packed := make([]byte, 0, 128)
	for _, v := range []int64{1, 2, 3, 4} {
		packed = append(packed, common.LeftPadBytes(big.NewInt(v).Bytes(), 32)...)
	}
	assert.Equal(t, crypto.Keccak256Hash(packed), a)
}
