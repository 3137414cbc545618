package handler

import (
	"context"
	"testing"

	"github.com/goran-ethernal/BlockIndexor/internal/logger"
	"github.com/goran-ethernal/BlockIndexor/pkg/config"
	"github.com/goran-ethernal/BlockIndexor/pkg/types"
	"github.com/stretchr/testify/require"
)

func noopBlockFactory(config.DataSourceConfig, *logger.Logger) (Handler, error) {
	return BlockHandler(func(context.Context, *types.RawBlock) ([]types.EntityOperation, error) {
		return nil, nil
	}), nil
}

func TestRegister(t *testing.T) {
	// Cannot use t.Parallel() because it modifies the global registry

	Register("Test-Handler", noopBlockFactory)
	t.Cleanup(func() {
		mu.Lock()
		defer mu.Unlock()
		delete(registry, "test-handler")
	})

	tests := []struct {
		name        string
		handlerType string
		found       bool
	}{
		{name: "exact lowercase", handlerType: "test-handler", found: true},
		{name: "mixed case lookup", handlerType: "TEST-Handler", found: true},
		{name: "unknown", handlerType: "missing", found: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.found, GetFactory(tt.handlerType) != nil)
		})
	}

	require.Contains(t, ListRegistered(), "test-handler")
	require.Contains(t, ListRegistered(), BlocksHandler)
	require.Contains(t, ListRegistered(), TransactionsHandler)
}

func TestCreate(t *testing.T) {
	h, err := Create(config.DataSourceConfig{Name: "b", Kind: config.KindBlock, Handler: "BLOCKS"}, logger.NewNopLogger())
	require.NoError(t, err)
	require.Equal(t, KindBlock, h.Kind())

	_, err = Create(config.DataSourceConfig{Name: "x", Handler: "does-not-exist"}, logger.NewNopLogger())
	require.ErrorContains(t, err, "unknown handler type")
}

func TestParseKind(t *testing.T) {
	for _, kind := range []Kind{KindBlock, KindTransaction, KindLog} {
		parsed, err := ParseKind(kind.String())
		require.NoError(t, err)
		require.Equal(t, kind, parsed)
	}

	_, err := ParseKind("receipt")
	require.Error(t, err)
}
