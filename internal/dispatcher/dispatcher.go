// Package dispatcher applies fetched blocks to the store and the MMR strictly
// in height order.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	internalcommon "github.com/goran-ethernal/BlockIndexor/internal/common"
	"github.com/goran-ethernal/BlockIndexor/internal/logger"
	"github.com/goran-ethernal/BlockIndexor/internal/metrics"
	"github.com/goran-ethernal/BlockIndexor/internal/mmr"
	"github.com/goran-ethernal/BlockIndexor/internal/queue"
	"github.com/goran-ethernal/BlockIndexor/internal/reorg"
	"github.com/goran-ethernal/BlockIndexor/internal/retry"
	pkghandler "github.com/goran-ethernal/BlockIndexor/pkg/handler"
	"github.com/goran-ethernal/BlockIndexor/pkg/store"
	"github.com/goran-ethernal/BlockIndexor/pkg/types"
)

var (
	// ErrStartParentMismatch is returned when the first block does not link to the configured parent hash.
	ErrStartParentMismatch = errors.New("start block parent hash mismatch")

	// ErrLeafIndexMismatch is returned when an MMR append does not land on height - start.
	ErrLeafIndexMismatch = errors.New("mmr leaf index does not match block height")
)

// Fetcher is the part of the fetch worker pool the dispatcher drives.
type Fetcher interface {
	Start(ctx context.Context) error
	Stop(grace time.Duration)
	Reset(next uint64) error
	Advance(watermark uint64)
}

// ReorgHandler rolls back reorganized heights and returns the height to resume at.
type ReorgHandler interface {
	Handle(ctx context.Context, detected *reorg.ReorgDetectedError) (uint64, error)
}

// Config configures a Dispatcher.
type Config struct {
	StartHeight uint64

	// EndHeight is the last height to commit when Bounded is set.
	EndHeight uint64
	Bounded   bool

	// StartParentHash, when set, must be the parent of the block at StartHeight.
	StartParentHash *common.Hash

	MaxBatchSize  int
	ShutdownGrace time.Duration
}

// Dispatcher is the single writer of the store and the MMR. It drains the
// queue, parks out-of-order blocks until their predecessors arrive, verifies
// parent linkage and runs each block through handlers, commit and MMR append.
type Dispatcher struct {
	cfg      Config
	queue    *queue.BoundedQueue[*types.RawBlock]
	executor pkghandler.Executor
	store    store.Store
	mmr      *mmr.MerkleMountainRange
	fetcher  Fetcher
	reorg    ReorgHandler
	retry    *retry.Manager
	log      *logger.Logger

	state atomic.Int32
	next  atomic.Uint64

	// pending holds drained blocks above next, keyed by height
	pending map[uint64]*types.RawBlock
}

// New creates a dispatcher.
func New(
	cfg Config,
	q *queue.BoundedQueue[*types.RawBlock],
	executor pkghandler.Executor,
	s store.Store,
	accumulator *mmr.MerkleMountainRange,
	fetcher Fetcher,
	reorgHandler ReorgHandler,
	retryManager *retry.Manager,
	log *logger.Logger,
) *Dispatcher {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 16 //nolint:mnd
	}

	return &Dispatcher{
		cfg:      cfg,
		queue:    q,
		executor: executor,
		store:    s,
		mmr:      accumulator,
		fetcher:  fetcher,
		reorg:    reorgHandler,
		retry:    retryManager,
		log:      log.WithComponent(internalcommon.ComponentDispatcher),
		pending:  make(map[uint64]*types.RawBlock),
	}
}

// State returns the current state.
func (d *Dispatcher) State() State {
	return State(d.state.Load())
}

// Next returns the next height to commit.
func (d *Dispatcher) Next() uint64 {
	return d.next.Load()
}

func (d *Dispatcher) setState(s State) {
	d.state.Store(int32(s))
	StateLog(s)
}

// Run dispatches blocks until ctx is done, the end height is committed or a
// fatal error occurs. Cancellation is observed between blocks only, so a
// block is never left half applied. Run returns nil on a clean stop.
func (d *Dispatcher) Run(ctx context.Context) error {
	watermark, err := d.store.Watermark()
	if err != nil {
		d.setState(StateError)
		return fmt.Errorf("failed to read watermark: %w", err)
	}

	d.next.Store(watermark.Next(d.cfg.StartHeight))
	d.log.Infow("dispatcher started", "next_height", d.next.Load())

	for {
		if d.finished() {
			d.log.Infow("end height committed", "end_height", d.cfg.EndHeight)
			d.setState(StateStopped)
			return nil
		}

		d.setState(StateDraining)
		blocks, err := d.queue.TakeAll(ctx, d.cfg.MaxBatchSize)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrQueueClosed) {
				d.setState(StateStopped)
				return nil
			}
			d.setState(StateError)
			return fmt.Errorf("failed to drain queue: %w", err)
		}

		d.park(blocks)

		if err := d.drainPending(ctx); err != nil {
			var detected *reorg.ReorgDetectedError
			if errors.As(err, &detected) {
				if err := d.rollback(ctx, detected); err != nil {
					d.setState(StateError)
					return err
				}
				continue
			}

			if ctx.Err() != nil && errors.Is(err, context.Canceled) {
				d.setState(StateStopped)
				return nil
			}

			d.setState(StateError)
			metrics.ErrorInc(internalcommon.ComponentDispatcher, "fatal")
			d.log.Errorw("dispatcher failed", "height", d.next.Load(), "error", err)
			return err
		}

		if ctx.Err() != nil {
			d.setState(StateStopped)
			return nil
		}

		d.setState(StateIdle)
	}
}

func (d *Dispatcher) finished() bool {
	return d.cfg.Bounded && d.next.Load() > d.cfg.EndHeight
}

// park moves drained blocks into the reorder buffer, dropping heights that
// were already committed.
func (d *Dispatcher) park(blocks []*types.RawBlock) {
	next := d.next.Load()
	for _, block := range blocks {
		if block.Height < next {
			d.log.Debugw("dropping already committed block", "height", block.Height)
			continue
		}
		d.pending[block.Height] = block
	}

	ReorderBufferLog(len(d.pending))
}

// drainPending processes the contiguous run of buffered blocks starting at next.
func (d *Dispatcher) drainPending(ctx context.Context) error {
	start := time.Now()
	processed := 0

	for !d.finished() {
		height := d.next.Load()
		block, ok := d.pending[height]
		if !ok {
			break
		}
		delete(d.pending, height)

		if err := d.process(ctx, block); err != nil {
			return err
		}
		processed++

		if ctx.Err() != nil {
			break
		}
	}

	ReorderBufferLog(len(d.pending))

	if processed > 0 {
		if elapsed := time.Since(start).Seconds(); elapsed > 0 {
			metrics.IndexingRateLog(float64(processed) / elapsed)
		}
	}

	return nil
}

// process runs a single block through linkage check, handlers, commit and MMR append.
func (d *Dispatcher) process(ctx context.Context, block *types.RawBlock) error {
	start := time.Now()

	if err := d.checkLinkage(block); err != nil {
		return err
	}

	d.setState(StateExecuting)
	ops, err := d.execute(ctx, block)
	if err != nil {
		return err
	}

	// the block completes even if ctx is cancelled from here on
	finishCtx := context.WithoutCancel(ctx)

	d.setState(StateCommitting)
	if err := d.commit(finishCtx, block, ops); err != nil {
		return err
	}

	d.setState(StateAdvancing)
	if err := d.advance(block); err != nil {
		return err
	}

	metrics.BlockCommittedLog(block.Height, len(ops))
	metrics.BlockProcessingTimeLog(time.Since(start))

	d.log.Debugw("block committed",
		"height", block.Height,
		"hash", block.Hash.Hex(),
		"operations", len(ops),
	)

	return nil
}

func (d *Dispatcher) checkLinkage(block *types.RawBlock) error {
	if block.Height == d.cfg.StartHeight {
		if d.cfg.StartParentHash != nil && *d.cfg.StartParentHash != block.ParentHash {
			return fmt.Errorf("%w: expected %s, got %s at height %d",
				ErrStartParentMismatch, d.cfg.StartParentHash.Hex(), block.ParentHash.Hex(), block.Height)
		}
		return nil
	}

	stored, ok, err := d.store.HashAt(block.Height - 1)
	if err != nil {
		return fmt.Errorf("failed to get stored hash at %d: %w", block.Height-1, err)
	}
	if !ok {
		return fmt.Errorf("no stored hash at %d to link block %d", block.Height-1, block.Height)
	}

	if stored != block.ParentHash {
		return reorg.NewReorgError(block.Height,
			fmt.Sprintf("parent hash %s does not match stored hash %s", block.ParentHash.Hex(), stored.Hex()))
	}

	return nil
}

// execute runs every handler active at the block height, retrying handler
// failures unless they are fatal.
func (d *Dispatcher) execute(ctx context.Context, block *types.RawBlock) ([]types.EntityOperation, error) {
	var ops []types.EntityOperation

	for _, name := range d.executor.HandlersAt(block.Height) {
		var handlerOps []types.EntityOperation

		err := d.retry.RetryWithBackoff(ctx,
			func(int) error {
				out, err := d.executor.Execute(ctx, name, block)
				if err != nil {
					var handlerErr *types.HandlerError
					if errors.As(err, &handlerErr) && handlerErr.Fatal {
						return retry.Permanent(err)
					}
					return err
				}

				handlerOps = out
				return nil
			},
			func(attempt int, err error) {
				HandlerRetryInc()
				d.log.Warnw("handler failed",
					"handler", name,
					"height", block.Height,
					"attempt", attempt+1,
					"error", err,
				)
			},
			nil,
			d.retry.HandlerMaxAttempts(),
		)
		if err != nil {
			return nil, fmt.Errorf("handler %s at height %d: %w", name, block.Height, err)
		}

		ops = append(ops, handlerOps...)
	}

	return ops, nil
}

func (d *Dispatcher) commit(ctx context.Context, block *types.RawBlock, ops []types.EntityOperation) error {
	err := d.retry.Do(ctx, "store_commit", func() error {
		return d.store.Commit(ctx, block, ops)
	})
	if err != nil {
		return &types.StoreCommitError{Height: block.Height, Err: err}
	}

	return nil
}

// advance appends the block to the MMR, records the root and frees fetcher capacity.
func (d *Dispatcher) advance(block *types.RawBlock) error {
	leaf, err := d.mmr.Append(block.Hash)
	if err != nil {
		return fmt.Errorf("failed to append block %d to mmr: %w", block.Height, err)
	}

	if expected := block.Height - d.cfg.StartHeight; leaf != expected {
		return fmt.Errorf("%w: leaf %d for height %d, expected %d", ErrLeafIndexMismatch, leaf, block.Height, expected)
	}

	root, err := d.mmr.Root()
	if err != nil {
		return fmt.Errorf("failed to compute mmr root at %d: %w", block.Height, err)
	}

	if err := d.store.SetMMRRoot(block.Height, root); err != nil {
		return fmt.Errorf("failed to record mmr root at %d: %w", block.Height, err)
	}

	d.next.Store(block.Height + 1)
	d.fetcher.Advance(block.Height)

	return nil
}

// rollback stops fetching, discards every buffered block, truncates to the
// common ancestor and restarts fetching from the resume height.
func (d *Dispatcher) rollback(ctx context.Context, detected *reorg.ReorgDetectedError) error {
	d.setState(StateRollingBack)
	RollbackInc()

	d.fetcher.Stop(d.cfg.ShutdownGrace)
	dropped := d.queue.Clear()
	clear(d.pending)
	ReorderBufferLog(0)

	resume, err := d.reorg.Handle(context.WithoutCancel(ctx), detected)
	if err != nil {
		return fmt.Errorf("failed to roll back reorg at %d: %w", detected.Height, err)
	}

	d.next.Store(resume)

	if err := d.fetcher.Reset(resume); err != nil {
		return fmt.Errorf("failed to reset fetcher to %d: %w", resume, err)
	}

	if err := d.fetcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to restart fetcher: %w", err)
	}

	d.log.Infow("resumed after rollback",
		"resume_height", resume,
		"dropped_queued_blocks", dropped,
	)

	return nil
}
