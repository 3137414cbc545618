package mmr

import (
	"maps"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Db is the node storage behind a MerkleMountainRange. SetLeafLength is the
// commit point of an append: nodes written beyond the stored leaf length are
// ignored and overwritten later.
type Db interface {
	GetLeafLength() (uint64, error)
	SetLeafLength(leafLength uint64) error

	// GetNodes returns the nodes found at positions. Missing positions are absent from the map.
	GetNodes(positions []uint64) (map[uint64]common.Hash, error)
	SetNodes(nodes map[uint64]common.Hash) error

	Close() error
}

// Pruner is implemented by backends able to drop nodes after a truncation.
type Pruner interface {
	// DeleteFrom removes every node at position >= pos.
	DeleteFrom(pos uint64) error
}

// MemoryDb keeps nodes in memory.
type MemoryDb struct {
	mu         sync.RWMutex
	leafLength uint64
	nodes      map[uint64]common.Hash
}

var (
	_ Db     = (*MemoryDb)(nil)
	_ Pruner = (*MemoryDb)(nil)
)

func NewMemoryDb() *MemoryDb {
	return &MemoryDb{nodes: make(map[uint64]common.Hash)}
}

func (m *MemoryDb) GetLeafLength() (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.leafLength, nil
}

func (m *MemoryDb) SetLeafLength(leafLength uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.leafLength = leafLength

	return nil
}

func (m *MemoryDb) GetNodes(positions []uint64) (map[uint64]common.Hash, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[uint64]common.Hash, len(positions))
	for _, pos := range positions {
		if digest, ok := m.nodes[pos]; ok {
			out[pos] = digest
		}
	}

	return out, nil
}

func (m *MemoryDb) SetNodes(nodes map[uint64]common.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	maps.Copy(m.nodes, nodes)

	return nil
}

func (m *MemoryDb) DeleteFrom(pos uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for p := range m.nodes {
		if p >= pos {
			delete(m.nodes, p)
		}
	}

	return nil
}

func (m *MemoryDb) Close() error {
	return nil
}
