package handler

import (
	"context"

	"github.com/goran-ethernal/BlockIndexor/pkg/types"
)

// Executor runs named handlers against blocks.
type Executor interface {
	// HandlersAt returns, in execution order, the handlers that apply to height.
	HandlersAt(height uint64) []string

	// Execute runs a single handler and returns the entity operations it produced.
	// Failures are reported as *types.HandlerError.
	Execute(ctx context.Context, handlerName string, block *types.RawBlock) ([]types.EntityOperation, error)
}
