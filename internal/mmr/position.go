package mmr

import "math/bits"

// Positions are zero based indexes into the flat node sequence of the range,
// in the order nodes are appended.

// leafIndexToPos returns the position of the i-th leaf.
func leafIndexToPos(index uint64) uint64 {
	return mmrSize(index)
}

// mmrSize returns the number of nodes of a range with leafCount leaves.
func mmrSize(leafCount uint64) uint64 {
	return 2*leafCount - uint64(bits.OnesCount64(leafCount))
}

// posHeight returns the height of the node at pos, leaves being at height 0.
func posHeight(pos uint64) uint64 {
	pos++
	for !allOnes(pos) {
		pos = jumpLeft(pos)
	}

	return uint64(bits.Len64(pos)) - 1
}

func allOnes(n uint64) bool {
	return n != 0 && n&(n+1) == 0
}

// jumpLeft moves to the node at the same height in the leftmost perfect subtree.
func jumpLeft(pos uint64) uint64 {
	mostSignificant := uint64(1) << (bits.Len64(pos) - 1)
	return pos - (mostSignificant - 1)
}

func parentOffset(height uint64) uint64 {
	return 2 << height
}

func siblingOffset(height uint64) uint64 {
	return (2 << height) - 1
}

// peakPosByHeight returns the position of the peak of a perfect tree of the given height.
func peakPosByHeight(height uint64) uint64 {
	return (1 << (height + 1)) - 2
}

func leftPeakHeightPos(size uint64) (uint64, uint64) {
	height := uint64(1)
	prevPos := uint64(0)
	pos := peakPosByHeight(height)
	for pos < size {
		height++
		prevPos = pos
		pos = peakPosByHeight(height)
	}

	return height - 1, prevPos
}

func rightPeak(height, pos, size uint64) (uint64, uint64, bool) {
	pos += siblingOffset(height)
	for pos > size-1 {
		if height == 0 {
			return 0, 0, false
		}
		pos -= parentOffset(height - 1)
		height--
	}

	return height, pos, true
}

// peakPositions returns the peak positions of a range of the given size, left to right.
func peakPositions(size uint64) []uint64 {
	if size == 0 {
		return nil
	}

	height, pos := leftPeakHeightPos(size)
	peaks := []uint64{pos}
	for height > 0 {
		h, p, ok := rightPeak(height, pos, size)
		if !ok {
			break
		}
		height, pos = h, p
		peaks = append(peaks, pos)
	}

	return peaks
}

// children returns the positions of the children of the internal node at pos.
func children(pos, height uint64) (left, right uint64) {
	right = pos - 1
	left = pos - parentOffset(height-1)

	return left, right
}
