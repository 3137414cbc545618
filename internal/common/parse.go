package common

import (
	"fmt"
	"strconv"
	"strings"
)

const bytesInMB = 1024 * 1024

// ParseHeight parses a block height given in decimal or as 0x-prefixed hex.
func ParseHeight(s string) (uint64, error) {
	str := strings.TrimSpace(s)
	base := 10

	if rest, ok := strings.CutPrefix(strings.ToLower(str), "0x"); ok {
		str = rest
		base = 16
	}

	height, err := strconv.ParseUint(str, base, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid block height %q: %w", s, err)
	}

	return height, nil
}

// ParseHeights parses every entry of values with ParseHeight.
func ParseHeights(values []string) ([]uint64, error) {
	heights := make([]uint64, 0, len(values))
	for _, v := range values {
		h, err := ParseHeight(v)
		if err != nil {
			return nil, err
		}
		heights = append(heights, h)
	}

	return heights, nil
}

func BytesToMB(bytes uint64) uint64 {
	return bytes / bytesInMB
}

func ToLowerWithTrim(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
