// Package mmr maintains the proof-of-index Merkle Mountain Range over
// processed block hashes.
package mmr

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	internalcommon "github.com/goran-ethernal/BlockIndexor/internal/common"
	"github.com/goran-ethernal/BlockIndexor/internal/logger"
)

// integrity checks load nodes in batches of this many positions
const integrityBatch = 4096

// LeafDigest is the leaf digest of a block hash.
func LeafDigest(blockHash common.Hash) common.Hash {
	return crypto.Keccak256Hash(blockHash[:])
}

// Merge is the digest of an internal node.
func Merge(left, right common.Hash) common.Hash {
	return crypto.Keccak256Hash(left[:], right[:])
}

// MerkleMountainRange is an append-only accumulator over block hashes.
// Append and Truncate are meant for a single writer; readers may run concurrently.
type MerkleMountainRange struct {
	mu        sync.RWMutex
	db        Db
	leafCount uint64
	log       *logger.Logger
}

// New loads a range from db.
func New(db Db, log *logger.Logger) (*MerkleMountainRange, error) {
	leafCount, err := db.GetLeafLength()
	if err != nil {
		return nil, fmt.Errorf("failed to read leaf length: %w", err)
	}

	m := &MerkleMountainRange{
		db:        db,
		leafCount: leafCount,
		log:       log.WithComponent(internalcommon.ComponentMMR),
	}
	LeafCountLog(leafCount)

	return m, nil
}

// LeafCount returns the number of leaves.
func (m *MerkleMountainRange) LeafCount() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.leafCount
}

// Append adds the leaf for blockHash and returns its leaf index.
func (m *MerkleMountainRange) Append(blockHash common.Hash) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	leafIndex := m.leafCount
	pos := mmrSize(leafIndex)

	current := LeafDigest(blockHash)
	nodes := map[uint64]common.Hash{pos: current}

	height := uint64(0)
	for posHeight(pos+1) > height {
		pos++
		leftPos := pos - parentOffset(height)

		left, err := m.node(leftPos)
		if err != nil {
			return 0, err
		}

		current = Merge(left, current)
		nodes[pos] = current
		height++
	}

	if err := m.db.SetNodes(nodes); err != nil {
		return 0, fmt.Errorf("failed to store nodes for leaf %d: %w", leafIndex, err)
	}

	if err := m.db.SetLeafLength(leafIndex + 1); err != nil {
		return 0, fmt.Errorf("failed to store leaf length %d: %w", leafIndex+1, err)
	}

	m.leafCount = leafIndex + 1
	LeafCountLog(m.leafCount)

	return leafIndex, nil
}

// Root returns the bagged root over every leaf.
func (m *MerkleMountainRange) Root() (common.Hash, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.rootAt(m.leafCount)
}

// RootAt returns the bagged root over the first leafCount leaves.
func (m *MerkleMountainRange) RootAt(leafCount uint64) (common.Hash, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.rootAt(leafCount)
}

func (m *MerkleMountainRange) rootAt(leafCount uint64) (common.Hash, error) {
	if leafCount == 0 {
		return common.Hash{}, ErrEmpty
	}
	if leafCount > m.leafCount {
		return common.Hash{}, fmt.Errorf("%w: root at %d leaves requested, have %d", ErrLeafOutOfRange, leafCount, m.leafCount)
	}

	peaks := peakPositions(mmrSize(leafCount))
	found, err := m.nodes(peaks)
	if err != nil {
		return common.Hash{}, err
	}

	digests := make([]common.Hash, len(peaks))
	for i, pos := range peaks {
		digests[i] = found[pos]
	}

	return bagPeaks(digests), nil
}

// bagPeaks folds peak digests from right to left.
func bagPeaks(peaks []common.Hash) common.Hash {
	acc := peaks[len(peaks)-1]
	for i := len(peaks) - 2; i >= 0; i-- {
		acc = Merge(peaks[i], acc)
	}

	return acc
}

// Truncate removes every leaf with index >= leafCount.
func (m *MerkleMountainRange) Truncate(leafCount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if leafCount >= m.leafCount {
		return nil
	}

	if err := m.db.SetLeafLength(leafCount); err != nil {
		return fmt.Errorf("failed to store leaf length %d: %w", leafCount, err)
	}

	removed := m.leafCount - leafCount
	m.leafCount = leafCount
	LeafCountLog(leafCount)

	if pruner, ok := m.db.(Pruner); ok {
		if err := pruner.DeleteFrom(mmrSize(leafCount)); err != nil {
			// nodes past the leaf length are unreachable and get overwritten by later appends
			m.log.Warnw("failed to prune truncated mmr nodes", "leaf_count", leafCount, "error", err)
		}
	}

	m.log.Infow("truncated merkle mountain range", "leaf_count", leafCount, "removed_leaves", removed)

	return nil
}

// CheckIntegrity recomputes every internal node from its children and
// returns an *IntegrityError on the first mismatch.
func (m *MerkleMountainRange) CheckIntegrity(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	size := mmrSize(m.leafCount)
	m.log.Infow("checking merkle mountain range integrity", "leaf_count", m.leafCount, "nodes", size)

	for start := uint64(0); start < size; start += integrityBatch {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := min(start+integrityBatch, size)

		positions := make([]uint64, 0, 2*(end-start))
		for pos := start; pos < end; pos++ {
			positions = append(positions, pos)
			if height := posHeight(pos); height > 0 {
				left, right := children(pos, height)
				if left < start {
					positions = append(positions, left)
				}
				if right < start {
					positions = append(positions, right)
				}
			}
		}

		found, err := m.nodes(positions)
		if err != nil {
			return err
		}

		for pos := start; pos < end; pos++ {
			height := posHeight(pos)
			if height == 0 {
				continue
			}

			left, right := children(pos, height)
			expected := Merge(found[left], found[right])
			if actual := found[pos]; actual != expected {
				IntegrityErrorInc()
				return &IntegrityError{Pos: pos, Expected: expected, Actual: actual, Details: "internal node does not match its children"}
			}
		}
	}

	return nil
}

// Close closes the underlying Db.
func (m *MerkleMountainRange) Close() error {
	return m.db.Close()
}

func (m *MerkleMountainRange) node(pos uint64) (common.Hash, error) {
	found, err := m.nodes([]uint64{pos})
	if err != nil {
		return common.Hash{}, err
	}

	return found[pos], nil
}

// nodes loads positions and fails if any of them is missing.
func (m *MerkleMountainRange) nodes(positions []uint64) (map[uint64]common.Hash, error) {
	found, err := m.db.GetNodes(positions)
	if err != nil {
		return nil, fmt.Errorf("failed to load nodes: %w", err)
	}

	for _, pos := range positions {
		if _, ok := found[pos]; !ok {
			return nil, &MissingNodeError{Pos: pos}
		}
	}

	return found, nil
}
