package reorg

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	internalcommon "github.com/goran-ethernal/BlockIndexor/internal/common"
	"github.com/goran-ethernal/BlockIndexor/internal/logger"
	"github.com/goran-ethernal/BlockIndexor/internal/mmr"
	"github.com/goran-ethernal/BlockIndexor/internal/retry"
	rpcmocks "github.com/goran-ethernal/BlockIndexor/internal/rpc/mocks"
	"github.com/goran-ethernal/BlockIndexor/internal/store"
	"github.com/goran-ethernal/BlockIndexor/pkg/config"
	"github.com/goran-ethernal/BlockIndexor/pkg/types"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const startHeight = 10

func hashOf(height uint64, fork byte) common.Hash {
	var h common.Hash
	new(big.Int).SetUint64(height).FillBytes(h[:31])
	h[31] = fork

	return h
}

type fixture struct {
	store  *store.SQLiteStore
	mmr    *mmr.MerkleMountainRange
	client *rpcmocks.Client
	ctrl   *Controller
}

// setupFixture indexes heights start..last of fork 0 and serves the canonical
// chain from the mock, which switches to fork 1 at forkHeight.
func setupFixture(t *testing.T, last, forkHeight, maxDepth uint64) *fixture {
	t.Helper()

	log := logger.NewNopLogger()

	s, err := store.Open(config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "store.db")}, store.Options{HistoryDepth: 128}, log)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })

	tree, err := mmr.New(mmr.NewMemoryDb(), log)
	require.NoError(t, err)

	ctx := context.Background()
	for h := uint64(startHeight); h <= last; h++ {
		block := &types.RawBlock{Height: h, Hash: hashOf(h, 0), ParentHash: hashOf(h-1, 0)}
		require.NoError(t, s.Commit(ctx, block, nil))

		_, err := tree.Append(block.Hash)
		require.NoError(t, err)

		root, err := tree.Root()
		require.NoError(t, err)
		require.NoError(t, s.SetMMRRoot(h, root))
	}

	client := rpcmocks.NewClient(t)
	client.On("HashAt", mock.Anything, mock.Anything).Return(func(_ context.Context, h uint64) (common.Hash, error) {
		if h >= forkHeight {
			return hashOf(h, 1), nil
		}
		return hashOf(h, 0), nil
	}).Maybe()

	retryManager := retry.NewManager(config.RetryConfig{
		MaxAttempts:    2,
		InitialBackoff: internalcommon.NewDuration(time.Millisecond),
		MaxBackoff:     internalcommon.NewDuration(time.Millisecond),
	}, log)
	t.Cleanup(retryManager.Stop)

	return &fixture{
		store:  s,
		mmr:    tree,
		client: client,
		ctrl:   NewController(s, client, tree, retryManager, startHeight, maxDepth, log),
	}
}

func TestController_FindCommonAncestor(t *testing.T) {
	tests := []struct {
		name       string
		forkHeight uint64
		maxDepth   uint64
		expected   Ancestor
		tooDeep    bool
	}{
		{name: "single block replaced", forkHeight: 15, maxDepth: 8, expected: Ancestor{Height: 14, Found: true}},
		{name: "two blocks replaced", forkHeight: 14, maxDepth: 8, expected: Ancestor{Height: 13, Found: true}},
		{name: "fork below start", forkHeight: 5, maxDepth: 8, expected: Ancestor{}},
		{name: "deeper than max depth", forkHeight: 12, maxDepth: 3, tooDeep: true},
		{name: "exactly max depth", forkHeight: 13, maxDepth: 3, expected: Ancestor{Height: 12, Found: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupFixture(t, 15, tt.forkHeight, tt.maxDepth)

			ancestor, err := f.ctrl.FindCommonAncestor(context.Background(), 15)
			if tt.tooDeep {
				require.ErrorIs(t, err, ErrReorgTooDeep)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tt.expected, ancestor)
		})
	}
}

func TestController_HandleResumesAfterAncestor(t *testing.T) {
	// blocks 10..15 are indexed, block 16 of the new fork points to a
	// different 15 and the chain agrees with the store up to 13
	f := setupFixture(t, 15, 14, DefaultMaxDepth)
	ctx := context.Background()

	rootAt13, ok, err := f.store.MMRRootAt(13)
	require.NoError(t, err)
	require.True(t, ok)

	resume, err := f.ctrl.Handle(ctx, &ReorgDetectedError{Height: 16, Details: "parent mismatch"})
	require.NoError(t, err)
	require.Equal(t, uint64(14), resume)

	wm, err := f.store.Watermark()
	require.NoError(t, err)
	require.Equal(t, uint64(13), wm.Height)

	_, ok, err = f.store.HashAt(14)
	require.NoError(t, err)
	require.False(t, ok)

	require.Equal(t, uint64(4), f.mmr.LeafCount())
	root, err := f.mmr.Root()
	require.NoError(t, err)
	require.Equal(t, rootAt13, root)
}

func TestController_HandleWholeRangeReplaced(t *testing.T) {
	f := setupFixture(t, 12, 0, DefaultMaxDepth)

	resume, err := f.ctrl.Handle(context.Background(), &ReorgDetectedError{Height: 13})
	require.NoError(t, err)
	require.Equal(t, uint64(startHeight), resume)

	wm, err := f.store.Watermark()
	require.NoError(t, err)
	require.False(t, wm.Processed)
	require.Zero(t, f.mmr.LeafCount())
}

func TestController_HandleTooDeepKeepsState(t *testing.T) {
	f := setupFixture(t, 15, 11, 2)

	_, err := f.ctrl.Handle(context.Background(), &ReorgDetectedError{Height: 16})
	require.ErrorIs(t, err, ErrReorgTooDeep)

	wm, err := f.store.Watermark()
	require.NoError(t, err)
	require.Equal(t, uint64(15), wm.Height)
	require.Equal(t, uint64(6), f.mmr.LeafCount())
}

func TestReorgDetectedError(t *testing.T) {
	err := NewReorgError(16, "parent mismatch")

	var detected *ReorgDetectedError
	require.ErrorAs(t, err, &detected)
	require.Equal(t, uint64(16), detected.Height)
	require.Contains(t, err.Error(), "block 16")
}
