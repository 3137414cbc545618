// Package handler turns fetched blocks into entity operations through the
// handlers bound to each configured data source.
package handler

import (
	"context"
	"errors"
	"fmt"

	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/goran-ethernal/BlockIndexor/pkg/config"
	"github.com/goran-ethernal/BlockIndexor/pkg/types"
)

// Kind is what a handler receives. The set of kinds is closed.
type Kind uint8

const (
	KindBlock Kind = iota
	KindTransaction
	KindLog
)

func (k Kind) String() string {
	switch k {
	case KindBlock:
		return config.KindBlock
	case KindTransaction:
		return config.KindTransaction
	case KindLog:
		return config.KindLog
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// ParseKind parses a data source kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case config.KindBlock:
		return KindBlock, nil
	case config.KindTransaction:
		return KindTransaction, nil
	case config.KindLog:
		return KindLog, nil
	default:
		return 0, fmt.Errorf("invalid data source kind: %s (must be one of: block, transaction, log)", s)
	}
}

// Handler is one of BlockHandler, TransactionHandler or LogHandler.
type Handler interface {
	Kind() Kind
	sealed()
}

// BlockHandler receives every block of its data source.
type BlockHandler func(ctx context.Context, block *types.RawBlock) ([]types.EntityOperation, error)

// TransactionHandler receives every matching transaction of a block with its index.
type TransactionHandler func(
	ctx context.Context, block *types.RawBlock, tx *gethtypes.Transaction, index int,
) ([]types.EntityOperation, error)

// LogHandler receives every matching log of a block.
type LogHandler func(ctx context.Context, block *types.RawBlock, log *gethtypes.Log) ([]types.EntityOperation, error)

func (BlockHandler) Kind() Kind       { return KindBlock }
func (TransactionHandler) Kind() Kind { return KindTransaction }
func (LogHandler) Kind() Kind         { return KindLog }

func (BlockHandler) sealed()       {}
func (TransactionHandler) sealed() {}
func (LogHandler) sealed()         {}

type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Fatal marks a handler error as not worth retrying.
func Fatal(err error) error {
	if err == nil {
		return nil
	}

	return &fatalError{err: err}
}

// IsFatal reports whether err was marked with Fatal.
func IsFatal(err error) bool {
	var fatal *fatalError
	return errors.As(err, &fatal)
}
