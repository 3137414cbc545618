package store

import (
	"github.com/ethereum/go-ethereum/common"
)

// BlockRecord is a processed block as kept in block_hashes.
type BlockRecord struct {
	Height     uint64       `meddler:"height"`
	Hash       common.Hash  `meddler:"hash,hash"`
	ParentHash common.Hash  `meddler:"parent_hash,hash"`
	Timestamp  uint64       `meddler:"timestamp"`
	MMRRoot    *common.Hash `meddler:"mmr_root,hash"`
}

type syncStateRow struct {
	ID                  int64  `meddler:"id,pk"`
	LastProcessedHeight uint64 `meddler:"last_processed_height"`
	Processed           bool   `meddler:"processed"`
	UpdatedAt           int64  `meddler:"updated_at"`
}

type entityRow struct {
	EntityType string `meddler:"entity_type"`
	ID         string `meddler:"id"`
	Data       string `meddler:"data"`
	Height     uint64 `meddler:"height"`
}

// historyRow holds the state of an entity before it was changed at Height.
type historyRow struct {
	Seq         int64   `meddler:"seq,pk"`
	Height      uint64  `meddler:"height"`
	EntityType  string  `meddler:"entity_type"`
	ID          string  `meddler:"id"`
	PrevExisted bool    `meddler:"prev_existed"`
	PrevData    *string `meddler:"prev_data"`
	PrevHeight  *uint64 `meddler:"prev_height"`
}

type metadataRow struct {
	Key   string `meddler:"key"`
	Value string `meddler:"value"`
}
