package weights

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"shield/apps/reconciler/internal/contracts"
	"shield/apps/reconciler/internal/model"
)

func TestValidateUpdate(t *testing.T) {
	assert.ErrorIs(t, ValidateUpdate(10000, 4000, 4500), ErrInvalidTotalWeight)
	assert.NoError(t, ValidateUpdate(9500, 4000, 4500))
	assert.NoError(t, ValidateUpdate(10000, 4000, 4000))
	assert.ErrorIs(t, ValidateUpdate(3000, 4000, 4500), ErrInvalidTotalWeight)
	// an entry heavier than the reported total still passes when the result is 10000
	assert.NoError(t, ValidateUpdate(3000, 4000, 11000))
	assert.ErrorIs(t, ValidateUpdate(0, 1, 10000), ErrInvalidTotalWeight)
	assert.ErrorIs(t, ValidateUpdate(10000, 0, ^uint64(0)), ErrInvalidTotalWeight)
}

func TestDiff(t *testing.T) {
	changes, err := Diff([]uint64{4000, 3000, 3000}, []uint64{4000, 3500, 2500})
	require.NoError(t, err)
	assert.Equal(t, []Change{{Index: 1, OldBps: 3000, NewBps: 3500}, {Index: 2, OldBps: 3000, NewBps: 2500}}, changes)

	_, err = Diff([]uint64{1}, []uint64{1, 2})
	assert.Error(t, err)
}

type mockChain struct {
	mock.Mock
}

func (m *mockChain) BasketLength(ctx context.Context) (uint64, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *mockChain) BasketAllocation(ctx context.Context, index uint64) (*contracts.Allocation, error) {
	args := m.Called(ctx, index)
	return args.Get(0).(*contracts.Allocation), args.Error(1)
}

func (m *mockChain) TotalTargetWeights(ctx context.Context) (*big.Int, error) {
	args := m.Called(ctx)
	return args.Get(0).(*big.Int), args.Error(1)
}

func (m *mockChain) UpdateBasketWeight(ctx context.Context, index, newWeightBps uint64) (common.Hash, error) {
	args := m.Called(ctx, index, newWeightBps)
	return args.Get(0).(common.Hash), args.Error(1)
}

func TestApply_RejectsBadTotal(t *testing.T) {
	chain := &mockChain{}
	chain.On("BasketLength", mock.Anything).Return(uint64(2), nil)
	chain.On("TotalTargetWeights", mock.Anything).Return(big.NewInt(10000), nil)
	chain.On("BasketAllocation", mock.Anything, uint64(0)).Return(&contracts.Allocation{WeightBps: big.NewInt(4000)}, nil)

	_, err := NewUpdater(chain, zap.NewNop()).Apply(context.Background(), 0, 4500)
	assert.ErrorIs(t, err, ErrInvalidTotalWeight)
	chain.AssertNotCalled(t, "UpdateBasketWeight", mock.Anything, mock.Anything, mock.Anything)
}

func TestApply_SubmitsValidUpdate(t *testing.T) {
	chain := &mockChain{}
	chain.On("BasketLength", mock.Anything).Return(uint64(2), nil)
	chain.On("TotalTargetWeights", mock.Anything).Return(big.NewInt(9500), nil)
	chain.On("BasketAllocation", mock.Anything, uint64(1)).Return(&contracts.Allocation{WeightBps: big.NewInt(4000)}, nil)
	chain.On("UpdateBasketWeight", mock.Anything, uint64(1), uint64(4500)).Return(common.HexToHash("0x01"), nil)

	hash, err := NewUpdater(chain, zap.NewNop()).Apply(context.Background(), 1, 4500)
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0x01"), hash)
	chain.AssertExpectations(t)
}

func TestApply_IndexOutOfRange(t *testing.T) {
	chain := &mockChain{}
	chain.On("BasketLength", mock.Anything).Return(uint64(2), nil)

	_, err := NewUpdater(chain, zap.NewNop()).Apply(context.Background(), 2, 100)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestCurrentWeights(t *testing.T) {
	chain := &mockChain{}
	chain.On("BasketLength", mock.Anything).Return(uint64(2), nil)
	chain.On("BasketAllocation", mock.Anything, uint64(0)).Return(&contracts.Allocation{WeightBps: big.NewInt(6000)}, nil)
	chain.On("BasketAllocation", mock.Anything, uint64(1)).Return(&contracts.Allocation{WeightBps: big.NewInt(4000)}, nil)

	w, err := NewUpdater(chain, zap.NewNop()).CurrentWeights(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uint64{6000, 4000}, w)
}

func TestCurrentWeights_RejectsOversizedWeight(t *testing.T) {
	chain := &mockChain{}
	chain.On("BasketLength", mock.Anything).Return(uint64(2), nil)
	chain.On("BasketAllocation", mock.Anything, uint64(0)).Return(&contracts.Allocation{WeightBps: big.NewInt(6000)}, nil)
	chain.On("BasketAllocation", mock.Anything, uint64(1)).
		Return(&contracts.Allocation{WeightBps: new(big.Int).Lsh(big.NewInt(1), 64)}, nil)

	_, err := NewUpdater(chain, zap.NewNop()).CurrentWeights(context.Background())
	assert.ErrorIs(t, err, ErrInvalidTotalWeight)
}

type staticStore struct {
	rec *model.WeightRecommendation
}

func (s staticStore) GetLatestRecommendation(context.Context) (*model.WeightRecommendation, error) {
	return s.rec, nil
}

func TestStoredRecommender(t *testing.T) {
	r := NewStoredRecommender(staticStore{})
	_, err := r.Recommend(context.Background(), "neutral", []uint64{5000, 5000}, nil)
	assert.ErrorIs(t, err, ErrNoRecommendation)

	r = NewStoredRecommender(staticStore{rec: &model.WeightRecommendation{ID: "r1", TargetWeights: []uint64{7000, 3000}}})
	target, err := r.Recommend(context.Background(), "risk_on", []uint64{5000, 5000}, nil)
	require.NoError(t, err)
	assert.Equal(t, []uint64{7000, 3000}, target)

	_, err = r.Recommend(context.Background(), "risk_on", []uint64{10000}, nil)
	assert.Error(t, err)
}
