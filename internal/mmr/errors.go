package mmr

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrLeafOutOfRange is returned when a leaf index or count exceeds the stored leaves.
	ErrLeafOutOfRange = errors.New("leaf out of range")

	// ErrEmpty is returned when a root is requested for an empty range.
	ErrEmpty = errors.New("merkle mountain range is empty")

	// ErrInvalidProof is returned when a proof does not have the expected shape.
	ErrInvalidProof = errors.New("invalid proof")
)

// IntegrityError reports a digest that does not match what it should be.
// It means stored proof history is corrupted and needs manual intervention.
type IntegrityError struct {
	Pos      uint64
	Expected common.Hash
	Actual   common.Hash
	Details  string
}

func (e *IntegrityError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("mmr integrity error at position %d: %s (expected %s, got %s)",
			e.Pos, e.Details, e.Expected.Hex(), e.Actual.Hex())
	}

	return fmt.Sprintf("mmr integrity error at position %d: expected %s, got %s",
		e.Pos, e.Expected.Hex(), e.Actual.Hex())
}

// MissingNodeError is returned when the Db does not have a node the range needs.
type MissingNodeError struct {
	Pos uint64
}

func (e *MissingNodeError) Error() string {
	return fmt.Sprintf("mmr node %d missing from storage", e.Pos)
}
