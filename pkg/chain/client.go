package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/goran-ethernal/BlockIndexor/pkg/types"
)

// Client defines the chain operations the indexer needs from a node.
// Implementations must be safe for concurrent use.
type Client interface {
	// BlockByHeight retrieves the block at the given height, without logs.
	BlockByHeight(ctx context.Context, height uint64) (*types.RawBlock, error)

	// HashAt retrieves the canonical hash at the given height.
	HashAt(ctx context.Context, height uint64) (common.Hash, error)

	// LatestHeight returns the head height at the requested finality.
	LatestHeight(ctx context.Context, finality types.BlockFinality) (uint64, error)

	// LogsByHash retrieves the logs of a block, filtered by emitting addresses.
	// An empty address list returns every log of the block.
	LogsByHash(ctx context.Context, blockHash common.Hash, addresses []common.Address) ([]gethtypes.Log, error)

	// ChainID returns the chain identifier reported by the node.
	ChainID(ctx context.Context) (*big.Int, error)

	// Close closes the underlying connections.
	Close()
}
