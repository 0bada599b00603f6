package contracts

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

type PositionReader struct {
	boundContract
}

func NewPositionReader(address common.Address, caller ethereum.ContractCaller) (*PositionReader, error) {
	b, err := newBoundContract(address, PositionReaderABI, caller)
	if err != nil {
		return nil, err
	}
	return &PositionReader{b}, nil
}

// PositionCollateralValue returns the collateral value at position scale (30 decimals).
func (r *PositionReader) PositionCollateralValue(ctx context.Context, positionKey common.Hash) (*big.Int, error) {
	return r.callUint(ctx, "getPositionCollateralValue", [32]byte(positionKey))
}
