package reorg

import (
	"errors"
	"fmt"
)

// ErrReorgTooDeep is returned when no common ancestor is found within the configured depth.
var ErrReorgTooDeep = errors.New("reorg exceeds max depth")

// ReorgDetectedError is returned when the parent of a block does not match
// the stored hash of the previous height.
type ReorgDetectedError struct {
	Height  uint64
	Details string
}

func (e *ReorgDetectedError) Error() string {
	return fmt.Sprintf("reorg detected at block %d: %s", e.Height, e.Details)
}

// NewReorgError creates a new ReorgDetectedError.
func NewReorgError(height uint64, details string) error {
	return &ReorgDetectedError{
		Height:  height,
		Details: details,
	}
}
