package fetcher

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	internalcommon "github.com/goran-ethernal/BlockIndexor/internal/common"
	"github.com/goran-ethernal/BlockIndexor/internal/logger"
	"github.com/goran-ethernal/BlockIndexor/internal/queue"
	"github.com/goran-ethernal/BlockIndexor/internal/retry"
	rpcmocks "github.com/goran-ethernal/BlockIndexor/internal/rpc/mocks"
	"github.com/goran-ethernal/BlockIndexor/pkg/config"
	"github.com/goran-ethernal/BlockIndexor/pkg/types"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func rawBlock(height uint64) *types.RawBlock {
	return &types.RawBlock{
		Height:     height,
		Hash:       common.BigToHash(new(big.Int).SetUint64(height + 1000)),
		ParentHash: common.BigToHash(new(big.Int).SetUint64(height + 999)),
	}
}

func testRetryManager(t *testing.T) *retry.Manager {
	t.Helper()

	m := retry.NewManager(config.RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    internalcommon.NewDuration(time.Millisecond),
		MaxBackoff:        internalcommon.NewDuration(5 * time.Millisecond),
		BackoffMultiplier: 2,
	}, logger.NewNopLogger())
	t.Cleanup(m.Stop)

	return m
}

// fetchCounter serves blocks and counts how often every height was requested.
type fetchCounter struct {
	mu    sync.Mutex
	calls map[uint64]int
}

func (c *fetchCounter) serve(_ context.Context, height uint64) (*types.RawBlock, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.calls == nil {
		c.calls = make(map[uint64]int)
	}
	c.calls[height]++

	return rawBlock(height), nil
}

func (c *fetchCounter) snapshot() map[uint64]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[uint64]int, len(c.calls))
	for k, v := range c.calls {
		out[k] = v
	}

	return out
}

func takeHeights(t *testing.T, q *queue.BoundedQueue[*types.RawBlock], n int) []uint64 {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var heights []uint64
	for len(heights) < n {
		block, err := q.Take(ctx)
		require.NoError(t, err)
		heights = append(heights, block.Height)
	}

	return heights
}

func TestWorkerPool_RespectsCapacityAndHead(t *testing.T) {
	client := rpcmocks.NewClient(t)
	counter := &fetchCounter{}

	client.On("LatestHeight", mock.Anything, types.FinalityFinalized).Return(uint64(15), nil).Maybe()
	client.On("BlockByHeight", mock.Anything, mock.Anything).Return(counter.serve).Maybe()

	q := queue.New[*types.RawBlock](4)
	pool := New(Config{Workers: 3, HeadPollInterval: 5 * time.Millisecond}, client, q, testRetryManager(t), logger.NewNopLogger())

	require.NoError(t, pool.Reset(10))
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop(time.Second)

	require.ElementsMatch(t, []uint64{10, 11, 12, 13}, takeHeights(t, q, 4))

	// nothing beyond committed + capacity is claimed
	require.Never(t, func() bool { return pool.Cursor() > 14 }, 50*time.Millisecond, 5*time.Millisecond)

	pool.Advance(13)
	require.ElementsMatch(t, []uint64{14, 15}, takeHeights(t, q, 2))

	// the head caps further claims
	require.Never(t, func() bool { return pool.Cursor() > 16 }, 50*time.Millisecond, 5*time.Millisecond)

	for height, calls := range counter.snapshot() {
		require.Equal(t, 1, calls, "height %d fetched more than once", height)
	}
}

func TestWorkerPool_StopsAtEndHeight(t *testing.T) {
	client := rpcmocks.NewClient(t)
	counter := &fetchCounter{}

	client.On("LatestHeight", mock.Anything, types.FinalitySafe).Return(uint64(1000), nil).Maybe()
	client.On("BlockByHeight", mock.Anything, mock.Anything).Return(counter.serve).Maybe()

	q := queue.New[*types.RawBlock](16)
	pool := New(Config{
		Workers:          2,
		HeadPollInterval: 5 * time.Millisecond,
		Finality:         types.FinalitySafe,
		EndHeight:        12,
		Bounded:          true,
	}, client, q, testRetryManager(t), logger.NewNopLogger())

	require.NoError(t, pool.Reset(10))
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop(time.Second)

	require.ElementsMatch(t, []uint64{10, 11, 12}, takeHeights(t, q, 3))
	require.Never(t, func() bool { return q.Len() > 0 }, 50*time.Millisecond, 5*time.Millisecond)
	require.Equal(t, uint64(13), pool.Cursor())
}

func TestWorkerPool_RetriesTransientErrors(t *testing.T) {
	client := rpcmocks.NewClient(t)

	client.On("LatestHeight", mock.Anything, types.FinalityFinalized).Return(uint64(5), nil).Maybe()
	client.On("BlockByHeight", mock.Anything, uint64(5)).
		Return(nil, &types.TransientFetchError{Endpoint: "primary", Err: errors.New("503")}).Once()
	client.On("BlockByHeight", mock.Anything, uint64(5)).Return(rawBlock(5), nil).Once()

	q := queue.New[*types.RawBlock](1)
	pool := New(Config{Workers: 1, HeadPollInterval: 5 * time.Millisecond}, client, q, testRetryManager(t), logger.NewNopLogger())

	require.NoError(t, pool.Reset(5))
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop(time.Second)

	require.Equal(t, []uint64{5}, takeHeights(t, q, 1))
}

func TestWorkerPool_FatalFetchError(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "permanent error", err: errors.New("invalid block")},
		{name: "retries exhausted", err: &types.TransientFetchError{Err: errors.New("timeout")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := rpcmocks.NewClient(t)

			client.On("LatestHeight", mock.Anything, types.FinalityFinalized).Return(uint64(7), nil).Maybe()
			client.On("BlockByHeight", mock.Anything, uint64(7)).Return(nil, tt.err)

			q := queue.New[*types.RawBlock](1)
			pool := New(Config{Workers: 1, HeadPollInterval: 5 * time.Millisecond}, client, q, testRetryManager(t), logger.NewNopLogger())

			require.NoError(t, pool.Reset(7))
			require.NoError(t, pool.Start(context.Background()))
			defer pool.Stop(time.Second)

			select {
			case err := <-pool.Errors():
				var fatal *types.FatalFetchError
				require.ErrorAs(t, err, &fatal)
				require.Equal(t, uint64(7), fatal.Height)
				require.ErrorIs(t, err, tt.err)
			case <-time.After(2 * time.Second):
				t.Fatal("expected a fatal fetch error")
			}

			require.Zero(t, q.Len())
		})
	}
}

func TestWorkerPool_FetchesLogs(t *testing.T) {
	client := rpcmocks.NewClient(t)
	token := common.HexToAddress("0x1111111111111111111111111111111111111111")
	logs := []gethtypes.Log{{Address: token, BlockNumber: 3}}

	client.On("LatestHeight", mock.Anything, types.FinalityFinalized).Return(uint64(3), nil).Maybe()
	client.On("BlockByHeight", mock.Anything, uint64(3)).Return(rawBlock(3), nil).Once()
	client.On("LogsByHash", mock.Anything, rawBlock(3).Hash, []common.Address{token}).Return(logs, nil).Once()

	q := queue.New[*types.RawBlock](1)
	pool := New(Config{
		Workers:          1,
		HeadPollInterval: 5 * time.Millisecond,
		FetchLogs:        true,
		LogAddresses:     []common.Address{token},
	}, client, q, testRetryManager(t), logger.NewNopLogger())

	require.NoError(t, pool.Reset(3))
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	block, err := q.Take(ctx)
	require.NoError(t, err)
	require.Equal(t, logs, block.Logs)
}

func TestWorkerPool_ResetAndRestart(t *testing.T) {
	client := rpcmocks.NewClient(t)
	counter := &fetchCounter{}

	client.On("LatestHeight", mock.Anything, types.FinalityFinalized).Return(uint64(100), nil).Maybe()
	client.On("BlockByHeight", mock.Anything, mock.Anything).Return(counter.serve).Maybe()

	q := queue.New[*types.RawBlock](2)
	pool := New(Config{Workers: 2, HeadPollInterval: 5 * time.Millisecond}, client, q, testRetryManager(t), logger.NewNopLogger())

	require.NoError(t, pool.Reset(20))
	require.NoError(t, pool.Start(context.Background()))
	require.ErrorIs(t, pool.Start(context.Background()), ErrRunning)
	require.ErrorIs(t, pool.Reset(0), ErrRunning)

	require.ElementsMatch(t, []uint64{20, 21}, takeHeights(t, q, 2))

	pool.Stop(time.Second)
	q.Clear()

	// a rollback rewinds the cursor below already fetched heights
	require.NoError(t, pool.Reset(18))
	require.Equal(t, uint64(18), pool.Cursor())
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop(time.Second)

	require.ElementsMatch(t, []uint64{18, 19}, takeHeights(t, q, 2))
}
