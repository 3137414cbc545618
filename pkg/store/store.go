package store

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/BlockIndexor/pkg/types"
)

// Metadata keys persisted alongside indexed data.
const (
	MetaStartHeight = "start_height"
	MetaChainID     = "chain_id"
	MetaGenesisHash = "genesis_hash"
)

// Watermark is the persisted progress of the indexer.
type Watermark struct {
	// Height is the last processed height. Meaningful only when Processed is set.
	Height    uint64 `meddler:"last_processed_height"`
	Processed bool   `meddler:"processed"`
}

// Next returns the next height to process given the configured start height.
func (w Watermark) Next(startHeight uint64) uint64 {
	if !w.Processed {
		return startHeight
	}

	return w.Height + 1
}

// Store is the durable storage of entities, block hashes and progress.
type Store interface {
	// Commit applies ops for block and advances the watermark to block.Height
	// in a single transaction.
	Commit(ctx context.Context, block *types.RawBlock, ops []types.EntityOperation) error

	// HashAt returns the stored hash of a processed height.
	HashAt(height uint64) (common.Hash, bool, error)

	// Truncate removes every height >= fromHeight, restoring entity state and
	// moving the watermark back to fromHeight-1.
	Truncate(ctx context.Context, fromHeight uint64) error

	// Watermark returns the persisted progress.
	Watermark() (Watermark, error)

	// SetMMRRoot records the MMR root after the leaf for height was appended.
	SetMMRRoot(height uint64, root common.Hash) error

	// MMRRootAt returns the MMR root recorded for height.
	MMRRootAt(height uint64) (common.Hash, bool, error)

	GetMetadata(key string) (string, bool, error)
	SetMetadata(key, value string) error

	Close() error
}
