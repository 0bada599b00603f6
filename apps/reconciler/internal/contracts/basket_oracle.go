package contracts

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

type BasketOracle struct {
	boundContract
}

func NewBasketOracle(address common.Address) (*BasketOracle, error) {
	b, err := newBoundContract(address, BasketOracleABI, nil)
	if err != nil {
		return nil, err
	}
	return &BasketOracle{b}, nil
}

func (o *BasketOracle) PackSubmitNAV(navPerToken, totalManagedValue, shieldSupply *big.Int, timestamp uint64, signature []byte) ([]byte, error) {
	return o.pack("submitNAV", navPerToken, totalManagedValue, shieldSupply, new(big.Int).SetUint64(timestamp), signature)
}
