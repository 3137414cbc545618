package common

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseHeight(t *testing.T) {
	tests := []struct {
		input    string
		expected uint64
		wantErr  bool
	}{
		{input: "12345", expected: 12345},
		{input: "0x1a2b", expected: 0x1a2b},
		{input: "0X1A2B", expected: 0x1a2b},
		{input: " 42 ", expected: 42},
		{input: "0", expected: 0},
		{input: "18446744073709551615", expected: 1<<64 - 1},
		{input: "", wantErr: true},
		{input: "0x", wantErr: true},
		{input: "-1", wantErr: true},
		{input: "12ab", wantErr: true},
		{input: "18446744073709551616", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			h, err := ParseHeight(tt.input)
			if tt.wantErr {
				require.ErrorContains(t, err, "invalid block height")
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.expected, h)
		})
	}
}

func TestParseHeights(t *testing.T) {
	heights, err := ParseHeights([]string{"10", "0x10"})
	require.NoError(t, err)
	require.Equal(t, []uint64{10, 16}, heights)

	_, err = ParseHeights([]string{"10", "ten"})
	require.Error(t, err)
}

func TestBytesToMB(t *testing.T) {
	require.Equal(t, uint64(0), BytesToMB(1024*1024-1))
	require.Equal(t, uint64(3), BytesToMB(3*1024*1024+5))
}

func TestToLowerWithTrim(t *testing.T) {
	require.Equal(t, "debug", ToLowerWithTrim("  DeBuG \n"))
}
