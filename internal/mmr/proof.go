package mmr

import (
	"fmt"
	"slices"

	"github.com/ethereum/go-ethereum/common"
)

// Proof is a multi-leaf inclusion proof against the root of the first
// LeafCount leaves.
type Proof struct {
	LeafCount uint64        `json:"leaf_count"`
	Items     []common.Hash `json:"items"`
}

type queuedNode struct {
	pos    uint64
	height uint64
	digest common.Hash
}

// LeafDigestAt returns the stored digest of the leaf at index.
func (m *MerkleMountainRange) LeafDigestAt(index uint64) (common.Hash, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if index >= m.leafCount {
		return common.Hash{}, fmt.Errorf("%w: leaf %d requested, have %d", ErrLeafOutOfRange, index, m.leafCount)
	}

	return m.node(leafIndexToPos(index))
}

// Proof builds the minimal proof that the given leaves are part of the range
// of the first leafCount leaves.
func (m *MerkleMountainRange) Proof(leafIndexes []uint64, leafCount uint64) (*Proof, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(leafIndexes) == 0 {
		return nil, fmt.Errorf("%w: no leaves requested", ErrInvalidProof)
	}
	if leafCount > m.leafCount {
		return nil, fmt.Errorf("%w: proof at %d leaves requested, have %d", ErrLeafOutOfRange, leafCount, m.leafCount)
	}

	positions := leafPositions(leafIndexes)
	for _, idx := range leafIndexes {
		if idx >= leafCount {
			return nil, fmt.Errorf("%w: leaf %d not below leaf count %d", ErrLeafOutOfRange, idx, leafCount)
		}
	}

	proof := &Proof{LeafCount: leafCount}
	rest := positions
	for _, peak := range peakPositions(mmrSize(leafCount)) {
		split := 0
		for split < len(rest) && rest[split] <= peak {
			split++
		}
		inPeak := rest[:split]
		rest = rest[split:]

		if len(inPeak) == 0 {
			digest, err := m.node(peak)
			if err != nil {
				return nil, err
			}
			proof.Items = append(proof.Items, digest)
			continue
		}

		if err := m.peakProof(proof, inPeak, peak); err != nil {
			return nil, err
		}
	}

	return proof, nil
}

// peakProof appends the siblings needed to climb from positions to peak.
func (m *MerkleMountainRange) peakProof(proof *Proof, positions []uint64, peak uint64) error {
	queue := make([]queuedNode, 0, len(positions))
	for _, pos := range positions {
		queue = append(queue, queuedNode{pos: pos})
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if cur.pos == peak {
			break
		}

		sibling, parent := family(cur.pos, cur.height)
		if len(queue) > 0 && queue[0].pos == sibling {
			queue = queue[1:]
		} else {
			digest, err := m.node(sibling)
			if err != nil {
				return err
			}
			proof.Items = append(proof.Items, digest)
		}

		if parent < peak {
			queue = append(queue, queuedNode{pos: parent, height: cur.height + 1})
		}
	}

	return nil
}

// VerifyProof checks proof against root for the given leaves, keyed by leaf
// index and holding block hashes. A proof that does not reproduce root
// yields an *IntegrityError.
func VerifyProof(root common.Hash, proof *Proof, leaves map[uint64]common.Hash) error {
	if proof == nil || len(leaves) == 0 {
		return fmt.Errorf("%w: nothing to verify", ErrInvalidProof)
	}

	indexes := make([]uint64, 0, len(leaves))
	for idx := range leaves {
		if idx >= proof.LeafCount {
			return fmt.Errorf("%w: leaf %d not below leaf count %d", ErrLeafOutOfRange, idx, proof.LeafCount)
		}
		indexes = append(indexes, idx)
	}
	slices.Sort(indexes)

	nodes := make([]queuedNode, len(indexes))
	for i, idx := range indexes {
		nodes[i] = queuedNode{pos: leafIndexToPos(idx), digest: LeafDigest(leaves[idx])}
	}

	items := proof.Items
	next := func() (common.Hash, error) {
		if len(items) == 0 {
			return common.Hash{}, fmt.Errorf("%w: not enough proof items", ErrInvalidProof)
		}
		item := items[0]
		items = items[1:]
		return item, nil
	}

	var peaks []common.Hash
	for _, peak := range peakPositions(mmrSize(proof.LeafCount)) {
		split := 0
		for split < len(nodes) && nodes[split].pos <= peak {
			split++
		}
		inPeak := nodes[:split]
		nodes = nodes[split:]

		var (
			digest common.Hash
			err    error
		)
		if len(inPeak) == 0 {
			digest, err = next()
		} else {
			digest, err = peakRoot(inPeak, peak, next)
		}
		if err != nil {
			return err
		}
		peaks = append(peaks, digest)
	}

	if len(items) != 0 {
		return fmt.Errorf("%w: %d unused proof items", ErrInvalidProof, len(items))
	}

	if computed := bagPeaks(peaks); computed != root {
		return &IntegrityError{
			Pos:      mmrSize(proof.LeafCount),
			Expected: root,
			Actual:   computed,
			Details:  "proof does not reproduce root",
		}
	}

	return nil
}

func peakRoot(queue []queuedNode, peak uint64, next func() (common.Hash, error)) (common.Hash, error) {
	queue = slices.Clone(queue)

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if cur.pos == peak {
			if len(queue) > 0 {
				return common.Hash{}, fmt.Errorf("%w: nodes left after reaching peak %d", ErrInvalidProof, peak)
			}
			return cur.digest, nil
		}

		sibling, parent := family(cur.pos, cur.height)

		var siblingDigest common.Hash
		if len(queue) > 0 && queue[0].pos == sibling {
			siblingDigest = queue[0].digest
			queue = queue[1:]
		} else {
			var err error
			if siblingDigest, err = next(); err != nil {
				return common.Hash{}, err
			}
		}

		var digest common.Hash
		if isRightChild(cur.pos, cur.height) {
			digest = Merge(siblingDigest, cur.digest)
		} else {
			digest = Merge(cur.digest, siblingDigest)
		}

		if parent > peak {
			return common.Hash{}, fmt.Errorf("%w: climbed past peak %d", ErrInvalidProof, peak)
		}
		queue = append(queue, queuedNode{pos: parent, height: cur.height + 1, digest: digest})
	}

	return common.Hash{}, fmt.Errorf("%w: peak %d not reached", ErrInvalidProof, peak)
}

// family returns the sibling and parent positions of the node at pos.
func family(pos, height uint64) (sibling, parent uint64) {
	if isRightChild(pos, height) {
		return pos - siblingOffset(height), pos + 1
	}

	return pos + siblingOffset(height), pos + parentOffset(height)
}

func isRightChild(pos, height uint64) bool {
	return posHeight(pos+1) > height
}

func leafPositions(leafIndexes []uint64) []uint64 {
	positions := make([]uint64, 0, len(leafIndexes))
	for _, idx := range leafIndexes {
		positions = append(positions, leafIndexToPos(idx))
	}
	slices.Sort(positions)

	return slices.Compact(positions)
}
