package types

import (
	"fmt"
	"strings"
)

// BlockFinality selects which head the fetcher follows.
type BlockFinality string

const (
	// FinalityFinalized follows the finalized head. Blocks below it never reorg.
	FinalityFinalized BlockFinality = "finalized"
	// FinalitySafe follows the safe head.
	FinalitySafe BlockFinality = "safe"
	// FinalityLatest follows the tip of the chain.
	FinalityLatest BlockFinality = "latest"
)

func (f BlockFinality) String() string {
	return string(f)
}

// IsValid reports whether f is one of the known finalities.
func (f BlockFinality) IsValid() bool {
	switch f {
	case FinalityFinalized, FinalitySafe, FinalityLatest:
		return true
	default:
		return false
	}
}

// ReorgSafe reports whether blocks at or below the followed head are final,
// so reorgs can only come from a misbehaving endpoint.
func (f BlockFinality) ReorgSafe() bool {
	return f == FinalityFinalized
}

// ParseBlockFinality parses s, ignoring case and surrounding whitespace.
func ParseBlockFinality(s string) (BlockFinality, error) {
	f := BlockFinality(strings.ToLower(strings.TrimSpace(s)))
	if !f.IsValid() {
		return "", fmt.Errorf("invalid block finality: %s (must be one of: finalized, safe, latest)", s)
	}

	return f, nil
}
