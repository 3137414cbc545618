package types

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// RawBlock is a block as fetched from the chain, together with the logs of the
// addresses the configured data sources watch. It is immutable once fetched.
type RawBlock struct {
	Height     uint64
	Hash       common.Hash
	ParentHash common.Hash
	Timestamp  uint64

	// Payload is the full block with transactions. It may be nil for blocks
	// built in tests or restored from the store.
	Payload *types.Block
	Logs    []types.Log
}

// NewRawBlock builds a RawBlock from a go-ethereum block.
func NewRawBlock(block *types.Block, logs []types.Log) *RawBlock {
	return &RawBlock{
		Height:     block.NumberU64(),
		Hash:       block.Hash(),
		ParentHash: block.ParentHash(),
		Timestamp:  block.Time(),
		Payload:    block,
		Logs:       logs,
	}
}

// Transactions returns the block transactions, or nil when no payload is attached.
func (b *RawBlock) Transactions() types.Transactions {
	if b.Payload == nil {
		return nil
	}

	return b.Payload.Transactions()
}

func (b *RawBlock) String() string {
	return fmt.Sprintf("block %d (%s)", b.Height, b.Hash.Hex())
}

// OpType is the kind of an entity operation.
type OpType uint8

const (
	// OpSet inserts or replaces an entity.
	OpSet OpType = iota
	// OpRemove deletes an entity.
	OpRemove
)

func (o OpType) String() string {
	switch o {
	case OpSet:
		return "set"
	case OpRemove:
		return "remove"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(o))
	}
}

// EntityOperation is a single write produced by a handler for a block.
// All operations of a block are applied atomically.
type EntityOperation struct {
	Type       OpType
	EntityType string
	ID         string
	Data       json.RawMessage
}

// SetEntity builds an OpSet operation, marshalling v as the entity data.
func SetEntity(entityType, id string, v any) (EntityOperation, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return EntityOperation{}, fmt.Errorf("failed to marshal entity %s/%s: %w", entityType, id, err)
	}

	return EntityOperation{
		Type:       OpSet,
		EntityType: entityType,
		ID:         id,
		Data:       data,
	}, nil
}

// RemoveEntity builds an OpRemove operation.
func RemoveEntity(entityType, id string) EntityOperation {
	return EntityOperation{
		Type:       OpRemove,
		EntityType: entityType,
		ID:         id,
	}
}
