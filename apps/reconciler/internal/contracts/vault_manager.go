package contracts

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

type VaultManager struct {
	boundContract
}

func NewVaultManager(address common.Address) (*VaultManager, error) {
	b, err := newBoundContract(address, VaultManagerABI, nil)
	if err != nil {
		return nil, err
	}
	return &VaultManager{b}, nil
}

func (v *VaultManager) PackExecuteMintIntent(intentID common.Hash, depositID *big.Int) ([]byte, error) {
	return v.pack("executeMintIntent", [32]byte(intentID), depositID)
}

func (v *VaultManager) PackExecuteRedeemIntent(intentID common.Hash) ([]byte, error) {
	return v.pack("executeRedeemIntent", [32]byte(intentID))
}
