package indexer

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	internalcommon "github.com/goran-ethernal/BlockIndexor/internal/common"
	"github.com/goran-ethernal/BlockIndexor/internal/handler"
	"github.com/goran-ethernal/BlockIndexor/internal/logger"
	"github.com/goran-ethernal/BlockIndexor/internal/mmr"
	rpcmocks "github.com/goran-ethernal/BlockIndexor/internal/rpc/mocks"
	"github.com/goran-ethernal/BlockIndexor/pkg/config"
	"github.com/goran-ethernal/BlockIndexor/pkg/types"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const startHeight = 10

func blockHash(height uint64) common.Hash {
	return common.BigToHash(new(big.Int).SetUint64(height + 0xb10c))
}

// testChain serves a linear chain through a mocked client and counts block fetches.
type testChain struct {
	mu      sync.Mutex
	fetched map[uint64]int
	failAt  map[uint64]error
}

func (c *testChain) block(_ context.Context, height uint64) (*types.RawBlock, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.fetched == nil {
		c.fetched = make(map[uint64]int)
	}
	c.fetched[height]++

	if err := c.failAt[height]; err != nil {
		return nil, err
	}

	return &types.RawBlock{
		Height:     height,
		Hash:       blockHash(height),
		ParentHash: blockHash(height - 1),
		Timestamp:  1_700_000_000 + height,
	}, nil
}

func (c *testChain) fetchCount(height uint64) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.fetched[height]
}

func (c *testChain) client(t *testing.T, chainID int64) *rpcmocks.Client {
	t.Helper()

	client := rpcmocks.NewClient(t)
	client.On("ChainID", mock.Anything).Return(big.NewInt(chainID), nil).Maybe()
	client.On("HashAt", mock.Anything, mock.Anything).Return(func(_ context.Context, h uint64) (common.Hash, error) {
		return blockHash(h), nil
	}).Maybe()
	client.On("LatestHeight", mock.Anything, mock.Anything).Return(uint64(1000), nil).Maybe()
	client.On("BlockByHeight", mock.Anything, mock.Anything).Return(c.block).Maybe()

	return client
}

func testConfig(dir string, end uint64, backend string) *config.Config {
	return &config.Config{
		Network: config.NetworkConfig{
			Endpoints: []config.EndpointConfig{{Name: "test", URL: "http://localhost:8545"}},
		},
		Fetcher: config.FetcherConfig{
			Workers:          3,
			QueueCapacity:    4,
			HeadPollInterval: internalcommon.NewDuration(5 * time.Millisecond),
			ShutdownGrace:    internalcommon.NewDuration(time.Second),
		},
		Retry: config.RetryConfig{
			MaxAttempts:    2,
			InitialBackoff: internalcommon.NewDuration(time.Millisecond),
			MaxBackoff:     internalcommon.NewDuration(2 * time.Millisecond),
		},
		DB:  config.DatabaseConfig{Path: filepath.Join(dir, "indexer.db")},
		MMR: config.MMRConfig{Backend: backend, Path: filepath.Join(dir, "mmr.bin"), VerifyOnStartup: true},
		DataSources: []config.DataSourceConfig{
			{
				Name:       "blocks",
				Kind:       config.KindBlock,
				Handler:    handler.BlocksHandler,
				StartBlock: startHeight,
				EndBlock:   end,
			},
		},
	}
}

func runIndexer(t *testing.T, idx *Indexer) error {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := idx.Run(ctx)
	require.NoError(t, ctx.Err(), "indexer did not finish in time")

	return err
}

func requireIndexed(t *testing.T, idx *Indexer, to uint64) {
	t.Helper()

	wm, err := idx.Store().Watermark()
	require.NoError(t, err)
	require.True(t, wm.Processed)
	require.Equal(t, to, wm.Height)

	require.Equal(t, to-startHeight+1, idx.MMR().LeafCount())

	count, err := idx.Store().CountEntities(handler.EntityBlock)
	require.NoError(t, err)
	require.Equal(t, to-startHeight+1, count)

	recorded, ok, err := idx.Store().MMRRootAt(to)
	require.NoError(t, err)
	require.True(t, ok)
	root, err := idx.MMR().Root()
	require.NoError(t, err)
	require.Equal(t, recorded, root)

	for h := uint64(startHeight); h <= to; h++ {
		digest, err := idx.MMR().LeafDigestAt(h - startHeight)
		require.NoError(t, err)
		require.Equal(t, mmr.LeafDigest(blockHash(h)), digest)
	}
}

func TestIndexer_RunToEndHeight(t *testing.T) {
	backends := []string{config.MMRBackendSQLite, config.MMRBackendFile, config.MMRBackendMemory}

	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			chain := &testChain{}
			idx, err := NewWithClient(context.Background(), testConfig(t.TempDir(), 25, backend),
				chain.client(t, 1), logger.NewNopLogger())
			require.NoError(t, err)
			defer idx.Close()

			require.NoError(t, runIndexer(t, idx))
			requireIndexed(t, idx, 25)

			for h := uint64(startHeight); h <= 25; h++ {
				require.Equal(t, 1, chain.fetchCount(h), "height %d", h)
			}
			require.Zero(t, chain.fetchCount(26))
		})
	}
}

func TestIndexer_ResumesFromWatermark(t *testing.T) {
	dir := t.TempDir()
	chain := &testChain{}

	idx, err := NewWithClient(context.Background(), testConfig(dir, 15, config.MMRBackendSQLite), chain.client(t, 1), logger.NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, runIndexer(t, idx))
	require.NoError(t, idx.Close())

	idx, err = NewWithClient(context.Background(), testConfig(dir, 20, config.MMRBackendSQLite), chain.client(t, 1), logger.NewNopLogger())
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, runIndexer(t, idx))
	requireIndexed(t, idx, 20)

	for h := uint64(startHeight); h <= 20; h++ {
		require.Equal(t, 1, chain.fetchCount(h), "height %d fetched again after restart", h)
	}

	// nothing left to do
	require.NoError(t, runIndexer(t, idx))
}

func TestIndexer_ReconcileAfterCrash(t *testing.T) {
	tests := []struct {
		name   string
		adjust func(t *testing.T, tree *mmr.MerkleMountainRange)
	}{
		{
			name: "mmr behind watermark",
			adjust: func(t *testing.T, tree *mmr.MerkleMountainRange) {
				require.NoError(t, tree.Truncate(3))
			},
		},
		{
			name: "mmr ahead of watermark",
			adjust: func(t *testing.T, tree *mmr.MerkleMountainRange) {
				_, err := tree.Append(blockHash(18))
				require.NoError(t, err)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			chain := &testChain{}
			cfg := testConfig(dir, 17, config.MMRBackendFile)

			idx, err := NewWithClient(context.Background(), cfg, chain.client(t, 1), logger.NewNopLogger())
			require.NoError(t, err)
			require.NoError(t, runIndexer(t, idx))
			require.NoError(t, idx.Close())

			fileDb, err := mmr.OpenFileDb(cfg.MMR.Path)
			require.NoError(t, err)
			tree, err := mmr.New(fileDb, logger.NewNopLogger())
			require.NoError(t, err)
			tt.adjust(t, tree)
			require.NoError(t, tree.Close())

			idx, err = NewWithClient(context.Background(), testConfig(dir, 17, config.MMRBackendFile), chain.client(t, 1), logger.NewNopLogger())
			require.NoError(t, err)
			defer idx.Close()

			requireIndexed(t, idx, 17)
		})
	}
}

func TestIndexer_MetadataMismatch(t *testing.T) {
	dir := t.TempDir()
	chain := &testChain{}

	idx, err := NewWithClient(context.Background(), testConfig(dir, 12, config.MMRBackendSQLite), chain.client(t, 1), logger.NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, runIndexer(t, idx))
	require.NoError(t, idx.Close())

	tests := []struct {
		name    string
		chainID int64
		start   uint64
	}{
		{name: "different chain", chainID: 5, start: startHeight},
		{name: "different start height", chainID: 1, start: startHeight + 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(dir, 12, config.MMRBackendSQLite)
			cfg.DataSources[0].StartBlock = tt.start

			_, err := NewWithClient(context.Background(), cfg, chain.client(t, tt.chainID), logger.NewNopLogger())
			require.ErrorIs(t, err, ErrMetadataMismatch)
		})
	}
}

func TestIndexer_FatalFetchErrorStopsRun(t *testing.T) {
	chain := &testChain{failAt: map[uint64]error{13: errors.New("block body unavailable")}}

	idx, err := NewWithClient(context.Background(), testConfig(t.TempDir(), 20, config.MMRBackendSQLite),
		chain.client(t, 1), logger.NewNopLogger())
	require.NoError(t, err)
	defer idx.Close()

	err = runIndexer(t, idx)

	var fatal *types.FatalFetchError
	require.ErrorAs(t, err, &fatal)
	require.Equal(t, uint64(13), fatal.Height)

	// the failed height is never skipped
	wm, err := idx.Store().Watermark()
	require.NoError(t, err)
	if wm.Processed {
		require.Less(t, wm.Height, uint64(13))
	}
}

func TestIndexer_StopsOnCancel(t *testing.T) {
	chain := &testChain{}

	cfg := testConfig(t.TempDir(), 0, config.MMRBackendSQLite)
	idx, err := NewWithClient(context.Background(), cfg, chain.client(t, 1), logger.NewNopLogger())
	require.NoError(t, err)
	defer idx.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- idx.Run(ctx) }()

	require.Eventually(t, func() bool { return idx.Dispatcher().Next() > startHeight+5 }, 5*time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("indexer did not stop")
	}

	wm, err := idx.Store().Watermark()
	require.NoError(t, err)
	require.Equal(t, wm.Height-startHeight+1, idx.MMR().LeafCount())
}
