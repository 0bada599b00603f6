// Package submitter owns the hot wallet. Every outbound transaction goes through one Submitter
// so nonces are allocated by a single writer.
package submitter

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"shield/apps/reconciler/internal/metrics"
)

var (
	ErrTxFailed       = errors.New("transaction reverted")
	ErrReceiptTimeout = errors.New("timed out waiting for receipt")
)

const receiptPollInterval = 2 * time.Second

// Backend is the subset of ethclient.Client the submitter needs.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Call is a built contract call awaiting submission. Label names it in logs and metrics.
type Call struct {
	Label string
	To    common.Address
	Data  []byte
	Value *big.Int
}

type Submitter struct {
	backend        Backend
	key            *ecdsa.PrivateKey
	from           common.Address
	signer         types.Signer
	gasBumpPct     uint64
	receiptTimeout time.Duration
	// bounds the broadcast section and each receipt poll
	rpcTimeout   time.Duration
	pollInterval time.Duration
	logger       *zap.Logger

	// held from nonce read through broadcast
	mu sync.Mutex
}

func NewSubmitter(backend Backend, hexKey string, chainID int64, gasBumpPct uint64, receiptTimeout, rpcTimeout time.Duration, logger *zap.Logger) (*Submitter, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse hot wallet key: %w", err)
	}
	return newSubmitter(backend, key, chainID, gasBumpPct, receiptTimeout, rpcTimeout, logger), nil
}

func newSubmitter(backend Backend, key *ecdsa.PrivateKey, chainID int64, gasBumpPct uint64, receiptTimeout, rpcTimeout time.Duration, logger *zap.Logger) *Submitter {
	return &Submitter{
		backend:        backend,
		key:            key,
		from:           crypto.PubkeyToAddress(key.PublicKey),
		signer:         types.LatestSignerForChainID(big.NewInt(chainID)),
		gasBumpPct:     gasBumpPct,
		receiptTimeout: receiptTimeout,
		rpcTimeout:     rpcTimeout,
		pollInterval:   receiptPollInterval,
		logger:         logger,
	}
}

func (s *Submitter) Address() common.Address {
	return s.from
}

// PrivateKey exposes the hot wallet key to message signers (NAV attestations).
func (s *Submitter) PrivateKey() *ecdsa.PrivateKey {
	return s.key
}

// Submit broadcasts the call and blocks until its receipt is available. Only a receipt with
// successful status counts; anything else is returned as an error and never retried here.
func (s *Submitter) Submit(ctx context.Context, call Call) (common.Hash, error) {
	start := time.Now()

	tx, err := s.broadcast(ctx, call)
	if err != nil {
		metrics.TxSubmissions.WithLabelValues(call.Label, "error").Inc()
		return common.Hash{}, err
	}

	s.logger.Info("Transaction sent, waiting for receipt",
		zap.String("label", call.Label),
		zap.String("tx_hash", tx.Hash().Hex()),
		zap.Uint64("nonce", tx.Nonce()),
		zap.Uint64("gas", tx.Gas()))

	receipt, err := s.waitForReceipt(ctx, tx.Hash())
	metrics.TxDuration.WithLabelValues(call.Label).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.TxSubmissions.WithLabelValues(call.Label, "timeout").Inc()
		s.logger.Error("No receipt for transaction", zap.String("label", call.Label), zap.String("tx_hash", tx.Hash().Hex()), zap.Error(err))
		return tx.Hash(), err
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		metrics.TxSubmissions.WithLabelValues(call.Label, "failed").Inc()
		s.logger.Error("Transaction failed", zap.String("label", call.Label), zap.String("tx_hash", tx.Hash().Hex()), zap.Uint64("status", receipt.Status))
		return tx.Hash(), fmt.Errorf("%w: %s", ErrTxFailed, tx.Hash().Hex())
	}

	metrics.TxSubmissions.WithLabelValues(call.Label, "success").Inc()
	s.logger.Info("Transaction confirmed",
		zap.String("label", call.Label),
		zap.String("tx_hash", tx.Hash().Hex()),
		zap.Uint64("block", receipt.BlockNumber.Uint64()),
		zap.Uint64("gas_used", receipt.GasUsed))

	return tx.Hash(), nil
}

func (s *Submitter) broadcast(ctx context.Context, call Call) (*types.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// a hung node must not hold the nonce lock past the rpc timeout
	ctx, cancel := context.WithTimeout(ctx, s.rpcTimeout)
	defer cancel()

	nonce, err := s.backend.PendingNonceAt(ctx, s.from)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := s.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}

	value := call.Value
	if value == nil {
		value = big.NewInt(0)
	}

	to := call.To
	gas, err := s.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:     s.from,
		To:       &to,
		GasPrice: gasPrice,
		Value:    value,
		Data:     call.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to estimate gas for %s: %w", call.Label, err)
	}
	gas = gas * s.gasBumpPct / 100

	tx, err := types.SignTx(types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     call.Data,
	}), s.signer, s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := s.backend.SendTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("failed to send transaction: %w", err)
	}

	return tx, nil
}

func (s *Submitter) waitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, s.receiptTimeout)
	defer cancel()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := s.receipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			s.logger.Warn("Receipt lookup failed", zap.String("tx_hash", hash.Hex()), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", ErrReceiptTimeout, hash.Hex())
		case <-ticker.C:
		}
	}
}

func (s *Submitter) receipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, s.rpcTimeout)
	defer cancel()
	return s.backend.TransactionReceipt(ctx, hash)
}
