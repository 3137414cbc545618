package mmr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPosHeight(t *testing.T) {
	// 0 1 3 4 7 8 10 11 are leaves of the 8 leaf range
	//          14
	//       /      \
	//     6          13
	//    /  \       /   \
	//   2    5     9     12
	//  / \  / \   / \   /  \
	// 0  1 3   4 7   8 10  11
	expected := []uint64{0, 0, 1, 0, 0, 1, 2, 0, 0, 1, 0, 0, 1, 2, 3}
	for pos, want := range expected {
		require.Equal(t, want, posHeight(uint64(pos)), "position %d", pos)
	}
}

func TestLeafIndexToPos(t *testing.T) {
	expected := []uint64{0, 1, 3, 4, 7, 8, 10, 11, 15}
	for idx, want := range expected {
		require.Equal(t, want, leafIndexToPos(uint64(idx)), "leaf %d", idx)
	}
}

func TestMMRSize(t *testing.T) {
	tests := []struct {
		leaves uint64
		size   uint64
	}{
		{leaves: 0, size: 0},
		{leaves: 1, size: 1},
		{leaves: 2, size: 3},
		{leaves: 3, size: 4},
		{leaves: 4, size: 7},
		{leaves: 5, size: 8},
		{leaves: 7, size: 11},
		{leaves: 8, size: 15},
	}

	for _, tt := range tests {
		require.Equal(t, tt.size, mmrSize(tt.leaves), "%d leaves", tt.leaves)
	}
}

func TestPeakPositions(t *testing.T) {
	tests := []struct {
		size  uint64
		peaks []uint64
	}{
		{size: 0, peaks: nil},
		{size: 1, peaks: []uint64{0}},
		{size: 3, peaks: []uint64{2}},
		{size: 4, peaks: []uint64{2, 3}},
		{size: 7, peaks: []uint64{6}},
		{size: 8, peaks: []uint64{6, 7}},
		{size: 10, peaks: []uint64{6, 9}},
		{size: 11, peaks: []uint64{6, 9, 10}},
		{size: 15, peaks: []uint64{14}},
		{size: 19, peaks: []uint64{14, 17, 18}},
	}

	for _, tt := range tests {
		require.Equal(t, tt.peaks, peakPositions(tt.size), "size %d", tt.size)
	}
}

func TestFamily(t *testing.T) {
	tests := []struct {
		pos, height     uint64
		sibling, parent uint64
	}{
		{pos: 0, height: 0, sibling: 1, parent: 2},
		{pos: 1, height: 0, sibling: 0, parent: 2},
		{pos: 2, height: 1, sibling: 5, parent: 6},
		{pos: 5, height: 1, sibling: 2, parent: 6},
		{pos: 6, height: 2, sibling: 13, parent: 14},
		{pos: 10, height: 0, sibling: 11, parent: 12},
	}

	for _, tt := range tests {
		sibling, parent := family(tt.pos, tt.height)
		require.Equal(t, tt.sibling, sibling, "sibling of %d", tt.pos)
		require.Equal(t, tt.parent, parent, "parent of %d", tt.pos)
	}
}

func TestChildren(t *testing.T) {
	left, right := children(6, 2)
	require.Equal(t, uint64(2), left)
	require.Equal(t, uint64(5), right)

	left, right = children(14, 3)
	require.Equal(t, uint64(6), left)
	require.Equal(t, uint64(13), right)
}
