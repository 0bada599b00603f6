package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"shield/apps/reconciler/internal/config"
	"shield/apps/reconciler/internal/metrics"
	"shield/apps/reconciler/internal/repository"
)

var ErrCrawlerAlreadyRunning = errors.New("crawler already running")

// ChainReader is the subset of ethclient.Client the crawler needs.
type ChainReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BlockReceipts(ctx context.Context, blockNrOrHash rpc.BlockNumberOrHash) ([]*types.Receipt, error)
}

type CheckpointStore interface {
	GetLastProcessedBlock(ctx context.Context) (uint64, error)
	InitCheckpoint(ctx context.Context, block uint64) error
	UpdateLastProcessedBlock(ctx context.Context, block uint64) error
}

type Dispatcher interface {
	Dispatch(ctx context.Context, log types.Log) error
}

// BlockCrawler walks the chain one block at a time and hands every log emitted by a watched
// contract to the dispatcher. The checkpoint moves only after a block is fully dispatched.
type BlockCrawler struct {
	client       ChainReader
	checkpoints  CheckpointStore
	dispatcher   Dispatcher
	watched      map[common.Address]bool
	startBlock   uint64
	pollInterval time.Duration
	rpcTimeout   time.Duration
	errBackoff   backoff.BackOff
	running      atomic.Bool
	logger       *zap.Logger
}

func NewBlockCrawler(cfg *config.Config, client ChainReader, checkpoints CheckpointStore, dispatcher Dispatcher, logger *zap.Logger) *BlockCrawler {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = cfg.ErrorPollInterval
	eb.MaxInterval = cfg.MaxErrorPollInterval
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	eb.Reset()

	return &BlockCrawler{
		client:      client,
		checkpoints: checkpoints,
		dispatcher:  dispatcher,
		watched: map[common.Address]bool{
			cfg.VaultManagerAddress:  true,
			cfg.BasketManagerAddress: true,
		},
		startBlock:   cfg.StartBlock,
		pollInterval: cfg.PollInterval,
		rpcTimeout:   cfg.RPCTimeout,
		errBackoff:   eb,
		logger:       logger,
	}
}

// Start polls until ctx is cancelled. A block already being processed when ctx is cancelled
// runs to completion.
func (c *BlockCrawler) Start(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrCrawlerAlreadyRunning
	}
	defer c.running.Store(false)

	c.logger.Info("Starting block crawler...")

	for {
		wait := c.pollInterval
		if err := c.Tick(ctx); err != nil {
			metrics.PollErrors.Inc()
			wait = c.errBackoff.NextBackOff()
			c.logger.Error("Error processing blocks", zap.Error(err), zap.Duration("retry_in", wait))
		} else {
			c.errBackoff.Reset()
		}

		select {
		case <-ctx.Done():
			c.logger.Info("Block crawler stopped")
			return nil
		case <-time.After(wait):
		}
	}
}

// Tick processes every block between the checkpoint and the current head.
func (c *BlockCrawler) Tick(ctx context.Context) error {
	lastProcessed, err := c.resumeFrom(ctx)
	if err != nil {
		return err
	}

	head, err := c.head(ctx)
	if err != nil {
		return err
	}
	metrics.ChainHeadBlock.Set(float64(head))

	if head <= lastProcessed {
		return nil
	}

	c.logger.Info("Scanning blocks", zap.Uint64("start", lastProcessed+1), zap.Uint64("end", head))

	for b := lastProcessed + 1; b <= head; b++ {
		if ctx.Err() != nil {
			return nil
		}

		blockCtx := context.WithoutCancel(ctx)
		if err := c.processBlock(blockCtx, b); err != nil {
			return fmt.Errorf("failed to process block %d: %w", b, err)
		}
		if err := c.checkpoints.UpdateLastProcessedBlock(blockCtx, b); err != nil {
			return fmt.Errorf("failed to advance checkpoint to %d: %w", b, err)
		}

		metrics.BlocksProcessed.Inc()
		metrics.CheckpointBlock.Set(float64(b))
	}

	return nil
}

func (c *BlockCrawler) resumeFrom(ctx context.Context) (uint64, error) {
	last, err := c.checkpoints.GetLastProcessedBlock(ctx)
	if err == nil {
		return last, nil
	}
	if !errors.Is(err, repository.ErrCheckpointNotFound) {
		return 0, err
	}

	// first run: START_BLOCK is the first block to process, 0 means start at the head
	seed := c.startBlock
	if seed == 0 {
		if seed, err = c.head(ctx); err != nil {
			return 0, err
		}
	} else {
		seed--
	}

	if err := c.checkpoints.InitCheckpoint(ctx, seed); err != nil {
		return 0, err
	}
	c.logger.Info("Initialised checkpoint", zap.Uint64("block", seed))
	return c.checkpoints.GetLastProcessedBlock(ctx)
}

func (c *BlockCrawler) head(ctx context.Context) (uint64, error) {
	rpcCtx, cancel := context.WithTimeout(ctx, c.rpcTimeout)
	defer cancel()

	head, err := c.client.BlockNumber(rpcCtx)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest block: %w", err)
	}
	return head, nil
}

func (c *BlockCrawler) processBlock(ctx context.Context, number uint64) error {
	rpcCtx, cancel := context.WithTimeout(ctx, c.rpcTimeout)
	receipts, err := c.client.BlockReceipts(rpcCtx, rpc.BlockNumberOrHashWithNumber(rpc.BlockNumber(int64(number))))
	cancel()
	if err != nil {
		return fmt.Errorf("failed to get block receipts: %w", err)
	}

	for _, receipt := range receipts {
		if receipt.Status != types.ReceiptStatusSuccessful {
			continue
		}
		for _, log := range receipt.Logs {
			if !c.watched[log.Address] {
				continue
			}
			if err := c.dispatcher.Dispatch(ctx, *log); err != nil {
				return err
			}
		}
	}

	return nil
}
