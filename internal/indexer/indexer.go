// Package indexer wires the pipeline together and owns its lifecycle.
package indexer

import (
	"context"
	"errors"
	"fmt"

	internalcommon "github.com/goran-ethernal/BlockIndexor/internal/common"
	"github.com/goran-ethernal/BlockIndexor/internal/db"
	"github.com/goran-ethernal/BlockIndexor/internal/dispatcher"
	"github.com/goran-ethernal/BlockIndexor/internal/fetcher"
	"github.com/goran-ethernal/BlockIndexor/internal/handler"
	"github.com/goran-ethernal/BlockIndexor/internal/logger"
	"github.com/goran-ethernal/BlockIndexor/internal/metrics"
	"github.com/goran-ethernal/BlockIndexor/internal/mmr"
	"github.com/goran-ethernal/BlockIndexor/internal/queue"
	"github.com/goran-ethernal/BlockIndexor/internal/reorg"
	"github.com/goran-ethernal/BlockIndexor/internal/retry"
	"github.com/goran-ethernal/BlockIndexor/internal/rpc"
	"github.com/goran-ethernal/BlockIndexor/internal/store"
	"github.com/goran-ethernal/BlockIndexor/pkg/chain"
	"github.com/goran-ethernal/BlockIndexor/pkg/config"
	"github.com/goran-ethernal/BlockIndexor/pkg/types"
	"golang.org/x/sync/errgroup"
)

// Indexer fetches blocks, runs the configured handlers and keeps the store
// and the proof-of-index MMR in step with the chain.
type Indexer struct {
	cfg *config.Config
	log *logger.Logger

	client chain.Client
	// pool is set when the indexer dialed its own endpoints
	pool *rpc.Pool

	store       *store.SQLiteStore
	mmr         *mmr.MerkleMountainRange
	maintenance db.Maintenance
	retry       *retry.Manager
	executor    *handler.Executor
	queue       *queue.BoundedQueue[*types.RawBlock]
	fetcher     *fetcher.WorkerPool
	reorg       *reorg.Controller
	dispatcher  *dispatcher.Dispatcher
	metrics     *metrics.Server

	startHeight uint64
	endHeight   uint64
	bounded     bool
}

// New dials the configured endpoints and builds an indexer over them.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Indexer, error) {
	cfg.ApplyDefaults()

	pool, err := rpc.Dial(ctx, cfg.Network, log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to network: %w", err)
	}

	idx, err := NewWithClient(ctx, cfg, pool, log)
	if err != nil {
		pool.Close()
		return nil, err
	}
	idx.pool = pool

	return idx, nil
}

// NewWithClient builds an indexer on an existing chain client. It opens the
// store and the MMR, checks stored metadata against cfg and reconciles the
// MMR with the watermark.
func NewWithClient(ctx context.Context, cfg *config.Config, client chain.Client, log *logger.Logger) (*Indexer, error) {
	cfg.ApplyDefaults()

	executor, err := handler.NewExecutor(cfg.DataSources, log)
	if err != nil {
		return nil, fmt.Errorf("failed to build handlers: %w", err)
	}

	idx := &Indexer{
		cfg:         cfg,
		log:         log.WithComponent(internalcommon.ComponentIndexer),
		client:      client,
		executor:    executor,
		startHeight: cfg.StartHeight(),
		retry:       retry.NewManager(cfg.Retry, log),
	}
	idx.endHeight, idx.bounded = cfg.EndHeight()

	if err := idx.open(log); err != nil {
		idx.closeStorage()
		return nil, err
	}

	if err := idx.checkMetadata(ctx); err != nil {
		idx.closeStorage()
		return nil, err
	}

	if err := idx.reconcile(ctx); err != nil {
		idx.closeStorage()
		return nil, err
	}

	idx.build(log)

	return idx, nil
}

// open opens the store, the maintenance coordinator and the MMR backend.
func (i *Indexer) open(log *logger.Logger) error {
	s, err := store.Open(i.cfg.DB, store.Options{
		HistoryDepth:  i.cfg.Reorg.MaxDepth,
		HashCacheSize: i.cfg.DB.HashCacheSize,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	i.store = s

	i.maintenance = db.NewMaintenanceCoordinator(i.cfg.DB.Path, s.DB(), i.cfg.Maintenance, log)
	s.SetMaintenance(i.maintenance)

	var backend mmr.Db
	switch i.cfg.MMR.Backend {
	case config.MMRBackendFile:
		fileDb, err := mmr.OpenFileDb(i.cfg.MMR.Path)
		if err != nil {
			return fmt.Errorf("failed to open mmr file: %w", err)
		}
		backend = fileDb
	case config.MMRBackendMemory:
		backend = mmr.NewMemoryDb()
	default:
		backend = mmr.NewSQLDb(s.DB(), i.maintenance)
	}

	tree, err := mmr.New(backend, log)
	if err != nil {
		backend.Close()
		return fmt.Errorf("failed to load mmr: %w", err)
	}
	i.mmr = tree

	return nil
}

// build creates the pipeline components.
func (i *Indexer) build(log *logger.Logger) {
	i.queue = queue.New[*types.RawBlock](i.cfg.Fetcher.QueueCapacity)

	fetchLogs, addresses := i.executor.LogFilter()
	i.fetcher = fetcher.New(fetcher.Config{
		Workers:          i.cfg.Fetcher.Workers,
		HeadPollInterval: i.cfg.Fetcher.HeadPollInterval.Duration,
		Finality:         i.cfg.BlockFinality(),
		EndHeight:        i.endHeight,
		Bounded:          i.bounded,
		FetchLogs:        fetchLogs,
		LogAddresses:     addresses,
	}, i.client, i.queue, i.retry, log)

	i.reorg = reorg.NewController(i.store, i.client, i.mmr, i.retry, i.startHeight, i.cfg.Reorg.MaxDepth, log)

	// validated by config loading
	parentHash, _ := i.cfg.Dispatcher.ParentHash()

	i.dispatcher = dispatcher.New(dispatcher.Config{
		StartHeight:     i.startHeight,
		EndHeight:       i.endHeight,
		Bounded:         i.bounded,
		StartParentHash: parentHash,
		MaxBatchSize:    i.cfg.Dispatcher.MaxBatchSize,
		ShutdownGrace:   i.cfg.Fetcher.ShutdownGrace.Duration,
	}, i.queue, i.executor, i.store, i.mmr, i.fetcher, i.reorg, i.retry, log)

	if i.cfg.Metrics != nil {
		i.metrics = metrics.NewServer(i.cfg.Metrics, i.health, log.WithComponent(internalcommon.ComponentIndexer))
	}
}

// Store returns the entity store.
func (i *Indexer) Store() *store.SQLiteStore {
	return i.store
}

// MMR returns the proof-of-index accumulator.
func (i *Indexer) MMR() *mmr.MerkleMountainRange {
	return i.mmr
}

// Dispatcher returns the block dispatcher.
func (i *Indexer) Dispatcher() *dispatcher.Dispatcher {
	return i.dispatcher
}

func (i *Indexer) health() error {
	if state := i.dispatcher.State(); state == dispatcher.StateError {
		return fmt.Errorf("dispatcher is in %s state", state)
	}

	return nil
}

// Run indexes until ctx is done, the end height is committed or a fatal
// error occurs. A clean stop returns nil.
func (i *Indexer) Run(ctx context.Context) error {
	watermark, err := i.store.Watermark()
	if err != nil {
		return fmt.Errorf("failed to read watermark: %w", err)
	}

	next := watermark.Next(i.startHeight)
	if i.bounded && next > i.endHeight {
		i.log.Infow("nothing to index, end height already committed", "end_height", i.endHeight)
		return nil
	}

	if i.metrics != nil {
		if err := i.metrics.Start(ctx); err != nil {
			return err
		}
		defer func() {
			if err := i.metrics.Stop(context.WithoutCancel(ctx)); err != nil {
				i.log.Warnw("failed to stop metrics server", "error", err)
			}
		}()
	}

	if err := i.maintenance.Start(ctx); err != nil {
		return fmt.Errorf("failed to start maintenance: %w", err)
	}
	defer func() {
		if err := i.maintenance.Stop(); err != nil {
			i.log.Warnw("failed to stop maintenance", "error", err)
		}
	}()

	if i.pool != nil {
		i.pool.Start(ctx)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := i.fetcher.Reset(next); err != nil {
		return err
	}
	if err := i.fetcher.Start(runCtx); err != nil {
		return err
	}
	defer i.fetcher.Stop(i.cfg.Fetcher.ShutdownGrace.Duration)

	for _, component := range []string{
		internalcommon.ComponentIndexer,
		internalcommon.ComponentFetcher,
		internalcommon.ComponentDispatcher,
	} {
		metrics.ComponentHealthSet(component, true)
	}

	i.log.Infow("indexing started",
		"start_height", i.startHeight,
		"next_height", next,
		"end_height", i.endHeight,
		"bounded", i.bounded,
		"finality", i.cfg.BlockFinality(),
		"reorg_safe", i.cfg.BlockFinality().ReorgSafe(),
		"data_sources", len(i.cfg.DataSources),
	)

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		// a finished dispatcher ends the fetcher watch
		defer cancel()

		if err := i.dispatcher.Run(gctx); err != nil {
			metrics.ComponentHealthSet(internalcommon.ComponentDispatcher, false)
			return fmt.Errorf("dispatcher: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case err := <-i.fetcher.Errors():
			metrics.ComponentHealthSet(internalcommon.ComponentFetcher, false)
			return fmt.Errorf("fetcher: %w", err)
		}
	})

	if err := g.Wait(); err != nil {
		metrics.ComponentHealthSet(internalcommon.ComponentIndexer, false)
		i.log.Errorw("indexing stopped with error", "next_height", i.dispatcher.Next(), "error", err)
		return err
	}

	i.log.Infow("indexing stopped", "next_height", i.dispatcher.Next())

	return nil
}

// Close releases the store, the MMR and the dialed endpoints.
func (i *Indexer) Close() error {
	if i.retry != nil {
		i.retry.Stop()
	}

	if i.pool != nil {
		i.pool.Close()
	}

	return i.closeStorage()
}

func (i *Indexer) closeStorage() error {
	var errs []error

	if i.mmr != nil {
		errs = append(errs, i.mmr.Close())
		i.mmr = nil
	}

	if i.store != nil {
		errs = append(errs, i.store.Close())
		i.store = nil
	}

	return errors.Join(errs...)
}
