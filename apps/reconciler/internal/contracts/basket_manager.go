package contracts

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// PendingTransfer is the basket manager's record of a deposit or withdrawal awaiting intent execution.
type PendingTransfer struct {
	User      common.Address
	Amount    *big.Int
	IntentIDs []common.Hash
}

// Allocation is one basket entry. PositionKey is zero when the entry holds no position.
type Allocation struct {
	Token       common.Address
	WeightBps   *big.Int
	PositionKey common.Hash
}

type BasketManager struct {
	boundContract
}

func NewBasketManager(address common.Address, caller ethereum.ContractCaller) (*BasketManager, error) {
	b, err := newBoundContract(address, BasketManagerABI, caller)
	if err != nil {
		return nil, err
	}
	return &BasketManager{b}, nil
}

func (m *BasketManager) PendingDeposit(ctx context.Context, depositID *big.Int) (*PendingTransfer, error) {
	return m.pendingTransfer(ctx, "getPendingDeposit", depositID)
}

func (m *BasketManager) PendingWithdrawal(ctx context.Context, withdrawalID *big.Int) (*PendingTransfer, error) {
	return m.pendingTransfer(ctx, "getPendingWithdrawal", withdrawalID)
}

func (m *BasketManager) pendingTransfer(ctx context.Context, method string, id *big.Int) (*PendingTransfer, error) {
	out, err := m.call(ctx, method, id)
	if err != nil {
		return nil, err
	}
	if len(out) != 3 {
		return nil, fmt.Errorf("%w: %s returned %d values", ErrUnexpectedOutput, method, len(out))
	}

	user, ok1 := out[0].(common.Address)
	amount, ok2 := out[1].(*big.Int)
	rawIDs, ok3 := out[2].([][32]byte)
	if !ok1 || !ok2 || !ok3 {
		return nil, fmt.Errorf("%w: %s returned (%T, %T, %T)", ErrUnexpectedOutput, method, out[0], out[1], out[2])
	}

	ids := make([]common.Hash, len(rawIDs))
	for i, raw := range rawIDs {
		ids[i] = common.Hash(raw)
	}

	return &PendingTransfer{User: user, Amount: amount, IntentIDs: ids}, nil
}

func (m *BasketManager) BasketLength(ctx context.Context) (uint64, error) {
	n, err := m.callUint(ctx, "getBasketLength")
	if err != nil {
		return 0, err
	}
	if !n.IsUint64() {
		return 0, fmt.Errorf("%w: basket length %s overflows uint64", ErrUnexpectedOutput, n)
	}
	return n.Uint64(), nil
}

func (m *BasketManager) BasketAllocation(ctx context.Context, index uint64) (*Allocation, error) {
	out, err := m.call(ctx, "getBasketAllocation", new(big.Int).SetUint64(index))
	if err != nil {
		return nil, err
	}
	if len(out) != 3 {
		return nil, fmt.Errorf("%w: getBasketAllocation returned %d values", ErrUnexpectedOutput, len(out))
	}

	token, ok1 := out[0].(common.Address)
	weight, ok2 := out[1].(*big.Int)
	key, ok3 := out[2].([32]byte)
	if !ok1 || !ok2 || !ok3 {
		return nil, fmt.Errorf("%w: getBasketAllocation returned (%T, %T, %T)", ErrUnexpectedOutput, out[0], out[1], out[2])
	}

	return &Allocation{Token: token, WeightBps: weight, PositionKey: common.Hash(key)}, nil
}

func (m *BasketManager) TotalTargetWeights(ctx context.Context) (*big.Int, error) {
	return m.callUint(ctx, "totalTargetWeights")
}

// StablecoinReserves returns idle reserves at stablecoin scale (6 decimals).
func (m *BasketManager) StablecoinReserves(ctx context.Context) (*big.Int, error) {
	return m.callUint(ctx, "getStablecoinReserves")
}

// TotalSupply returns the shield token supply (18 decimals).
func (m *BasketManager) TotalSupply(ctx context.Context) (*big.Int, error) {
	return m.callUint(ctx, "totalSupply")
}

func (m *BasketManager) PackUpdateBasketWeight(index uint64, newWeightBps uint64) ([]byte, error) {
	return m.pack("updateBasketWeight", new(big.Int).SetUint64(index), new(big.Int).SetUint64(newWeightBps))
}

func (m *BasketManager) PackRebalancePositions() ([]byte, error) {
	return m.pack("rebalancePositions")
}
