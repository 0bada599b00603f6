package nav

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
)

// Digest is keccak256 over the four values packed as 32-byte big-endian words, matching
// keccak256(abi.encodePacked(uint256,uint256,uint256,uint256)) on the oracle side.
func Digest(navPerToken, totalManagedValue, shieldSupply *big.Int, timestamp uint64) common.Hash {
	return crypto.Keccak256Hash(
		math.U256Bytes(new(big.Int).Set(navPerToken)),
		math.U256Bytes(new(big.Int).Set(totalManagedValue)),
		math.U256Bytes(new(big.Int).Set(shieldSupply)),
		math.U256Bytes(new(big.Int).SetUint64(timestamp)),
	)
}

// Sign produces a 65-byte personal_sign (EIP-191) signature over digest with v in {27, 28},
// the form ECDSA.recover expects after toEthSignedMessageHash.
func Sign(digest common.Hash, key *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(digest.Bytes()), key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign NAV digest: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// Recover returns the address that produced sig over digest.
func Recover(digest common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}
	normalized := make([]byte, len(sig))
	copy(normalized, sig)
	if normalized[crypto.RecoveryIDOffset] >= 27 {
		normalized[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(accounts.TextHash(digest.Bytes()), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
