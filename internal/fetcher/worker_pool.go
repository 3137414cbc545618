// Package fetcher runs the workers that fetch blocks ahead of the dispatcher.
package fetcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	internalcommon "github.com/goran-ethernal/BlockIndexor/internal/common"
	"github.com/goran-ethernal/BlockIndexor/internal/logger"
	"github.com/goran-ethernal/BlockIndexor/internal/queue"
	"github.com/goran-ethernal/BlockIndexor/internal/retry"
	"github.com/goran-ethernal/BlockIndexor/internal/rpc"
	"github.com/goran-ethernal/BlockIndexor/pkg/chain"
	"github.com/goran-ethernal/BlockIndexor/pkg/types"
	"golang.org/x/sync/errgroup"
)

// ErrRunning is returned by Start and Reset while the workers are running.
var ErrRunning = errors.New("worker pool is running")

// Config configures a WorkerPool.
type Config struct {
	Workers          int
	HeadPollInterval time.Duration
	Finality         types.BlockFinality

	// EndHeight is the last height to fetch when Bounded is set.
	EndHeight uint64
	Bounded   bool

	// FetchLogs attaches the logs of LogAddresses (all logs when empty) to every block.
	FetchLogs    bool
	LogAddresses []common.Address
}

// WorkerPool fetches blocks concurrently into a bounded queue. Heights are
// claimed from a shared cursor so each one is fetched exactly once, and a
// height is only claimed while it lies within queue capacity of the next
// height to commit and not above the chain head.
type WorkerPool struct {
	cfg    Config
	client chain.Client
	queue  *queue.BoundedQueue[*types.RawBlock]
	retry  *retry.Manager
	log    *logger.Logger

	// cursor is the next height to claim
	cursor atomic.Uint64
	// committedNext is the next height the dispatcher will commit
	committedNext atomic.Uint64
	head          atomic.Uint64
	headKnown     atomic.Bool

	notifyMu sync.Mutex
	notify   chan struct{}

	runMu      sync.Mutex
	running    bool
	stopClaims context.CancelFunc
	abortFetch context.CancelFunc
	done       chan struct{}
	errCh      chan error
}

// New creates a stopped worker pool.
func New(
	cfg Config,
	client chain.Client,
	q *queue.BoundedQueue[*types.RawBlock],
	retryManager *retry.Manager,
	log *logger.Logger,
) *WorkerPool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.HeadPollInterval <= 0 {
		cfg.HeadPollInterval = 2 * time.Second //nolint:mnd
	}
	if cfg.Finality == "" {
		cfg.Finality = types.FinalityFinalized
	}

	return &WorkerPool{
		cfg:    cfg,
		client: client,
		queue:  q,
		retry:  retryManager,
		log:    log.WithComponent(internalcommon.ComponentFetcher),
		notify: make(chan struct{}),
		errCh:  make(chan error, 1),
	}
}

// Errors delivers the error that ended the workers, such as a *types.FatalFetchError.
func (p *WorkerPool) Errors() <-chan error {
	return p.errCh
}

// Cursor returns the next height to be claimed.
func (p *WorkerPool) Cursor() uint64 {
	return p.cursor.Load()
}

// Head returns the last observed chain head and whether one was observed.
func (p *WorkerPool) Head() (uint64, bool) {
	return p.head.Load(), p.headKnown.Load()
}

// Reset moves the cursor and the commit position to next. The pool must be stopped.
func (p *WorkerPool) Reset(next uint64) error {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	if p.running {
		return ErrRunning
	}

	p.cursor.Store(next)
	p.committedNext.Store(next)
	CursorLog(next)

	return nil
}

// Advance records that every height up to watermark was committed, which
// frees queue capacity for further claims.
func (p *WorkerPool) Advance(watermark uint64) {
	p.committedNext.Store(watermark + 1)
	p.wake()
}

// Start launches the workers and the head poller. Fetching starts at the
// height given to the last Reset.
func (p *WorkerPool) Start(ctx context.Context) error {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	if p.running {
		return ErrRunning
	}

	fetchCtx, abortFetch := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(fetchCtx)
	// claims end on Stop or as soon as any worker fails
	claimCtx, stopClaims := context.WithCancel(gctx)

	p.running = true
	p.stopClaims = stopClaims
	p.abortFetch = abortFetch
	p.done = make(chan struct{})

	g.Go(func() error {
		p.pollHead(claimCtx)
		return nil
	})

	for i := range p.cfg.Workers {
		g.Go(func() error {
			return p.work(i, claimCtx, gctx)
		})
	}

	p.log.Infow("fetch workers started",
		"workers", p.cfg.Workers,
		"from_height", p.cursor.Load(),
		"finality", p.cfg.Finality,
	)

	done := p.done
	go func() {
		defer close(done)

		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			select {
			case p.errCh <- err:
			default:
			}
		}
	}()

	return nil
}

// Stop stops claiming new heights at once, lets in-flight fetches finish for
// up to grace and then abandons them. Blocks of abandoned fetches are not queued.
func (p *WorkerPool) Stop(grace time.Duration) {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	if !p.running {
		return
	}

	p.stopClaims()

	timer := time.NewTimer(grace)
	select {
	case <-p.done:
		timer.Stop()
	case <-timer.C:
		p.log.Warnw("abandoning in-flight fetches", "grace", grace)
		p.abortFetch()
		<-p.done
	}

	p.abortFetch()
	p.running = false

	p.log.Infow("fetch workers stopped", "cursor", p.cursor.Load())
}

func (p *WorkerPool) work(id int, claimCtx, fetchCtx context.Context) error {
	for {
		height, ok := p.claim(claimCtx)
		if !ok {
			return nil
		}

		block, err := p.fetch(fetchCtx, height)
		if err != nil {
			if fetchCtx.Err() != nil || errors.Is(err, retry.ErrStopped) {
				return nil
			}

			FetchErrorInc()
			p.log.Errorw("failed to fetch block", "worker", id, "height", height, "error", err)
			return &types.FatalFetchError{Height: height, Err: err}
		}

		if err := p.queue.Put(fetchCtx, block); err != nil {
			if fetchCtx.Err() != nil || errors.Is(err, queue.ErrQueueClosed) {
				return nil
			}
			return err
		}

		BlocksFetchedInc()
		QueueLenLog(p.queue.Len())
	}
}

// claim takes the next height once it is claimable, or reports false when ctx is done.
func (p *WorkerPool) claim(ctx context.Context) (uint64, bool) {
	for {
		wait := p.waitCh()

		height := p.cursor.Load()
		if p.claimable(height) {
			if p.cursor.CompareAndSwap(height, height+1) {
				CursorLog(height + 1)
				return height, true
			}
			continue
		}

		select {
		case <-ctx.Done():
			return 0, false
		case <-wait:
		}
	}
}

func (p *WorkerPool) claimable(height uint64) bool {
	if height >= p.committedNext.Load()+uint64(p.queue.Cap()) {
		return false
	}
	if p.cfg.Bounded && height > p.cfg.EndHeight {
		return false
	}

	return p.headKnown.Load() && height <= p.head.Load()
}

func (p *WorkerPool) fetch(ctx context.Context, height uint64) (*types.RawBlock, error) {
	var block *types.RawBlock

	err := p.retry.RetryWithBackoff(ctx,
		func(int) error {
			b, err := p.client.BlockByHeight(ctx, height)
			if err != nil {
				return classify(err)
			}

			if p.cfg.FetchLogs {
				logs, err := p.client.LogsByHash(ctx, b.Hash, p.cfg.LogAddresses)
				if err != nil {
					return classify(err)
				}
				b.Logs = logs
			}

			block = b
			return nil
		},
		func(attempt int, err error) {
			p.log.Debugw("fetch attempt failed", "height", height, "attempt", attempt+1, "error", err)
		},
		func(err error) {
			p.log.Warnw("fetch failed after all attempts", "height", height, "error", err)
		},
		p.retry.MaxAttempts(),
	)
	if err != nil {
		return nil, err
	}

	return block, nil
}

// classify marks errors that no other endpoint or attempt can fix as permanent.
func classify(err error) error {
	if types.IsTransient(err) || rpc.IsRetryable(err) {
		return err
	}

	return retry.Permanent(err)
}

func (p *WorkerPool) pollHead(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.HeadPollInterval)
	defer ticker.Stop()

	for {
		p.refreshHead(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *WorkerPool) refreshHead(ctx context.Context) {
	head, err := p.client.LatestHeight(ctx, p.cfg.Finality)
	if err != nil {
		if ctx.Err() == nil {
			p.log.Warnw("failed to poll chain head", "finality", p.cfg.Finality, "error", err)
		}
		return
	}

	if p.headKnown.Load() && p.head.Load() == head {
		return
	}

	p.head.Store(head)
	p.headKnown.Store(true)
	HeadLog(head)
	p.log.Debugw("chain head updated", "finality", p.cfg.Finality, "head", head)
	p.wake()
}

func (p *WorkerPool) waitCh() <-chan struct{} {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()

	return p.notify
}

// wake releases every worker waiting for a claim.
func (p *WorkerPool) wake() {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()

	close(p.notify)
	p.notify = make(chan struct{})
}
