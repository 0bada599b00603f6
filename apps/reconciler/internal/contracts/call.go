package contracts

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

var ErrUnexpectedOutput = errors.New("unexpected contract output")

// boundContract pairs a parsed ABI with a deployed address.
type boundContract struct {
	address common.Address
	abi     abi.ABI
	caller  ethereum.ContractCaller
}

func newBoundContract(address common.Address, abiJSON string, caller ethereum.ContractCaller) (boundContract, error) {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return boundContract{}, fmt.Errorf("failed to parse ABI: %w", err)
	}
	return boundContract{address: address, abi: parsed, caller: caller}, nil
}

func (b boundContract) Address() common.Address {
	return b.address
}

func (b boundContract) ABI() abi.ABI {
	return b.abi
}

// pack encodes calldata for a state-changing method.
func (b boundContract) pack(method string, args ...interface{}) ([]byte, error) {
	data, err := b.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s call: %w", method, err)
	}
	return data, nil
}

// call executes a view method against the latest block and returns its decoded outputs.
func (b boundContract) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	if b.caller == nil {
		return nil, fmt.Errorf("no caller bound for %s", method)
	}

	data, err := b.pack(method, args...)
	if err != nil {
		return nil, err
	}

	result, err := b.caller.CallContract(ctx, ethereum.CallMsg{
		To:   &b.address,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}

	out, err := b.abi.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s result: %w", method, err)
	}
	return out, nil
}

func (b boundContract) callUint(ctx context.Context, method string, args ...interface{}) (*big.Int, error) {
	out, err := b.call(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("%w: %s returned %d values", ErrUnexpectedOutput, method, len(out))
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: %s returned %T", ErrUnexpectedOutput, method, out[0])
	}
	return v, nil
}
