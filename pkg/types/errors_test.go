package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsTransient(t *testing.T) {
	base := errors.New("connection reset")

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "nil",
			err:  nil,
			want: false,
		},
		{
			name: "plain error",
			err:  base,
			want: false,
		},
		{
			name: "transient",
			err:  &TransientFetchError{Endpoint: "primary", Err: base},
			want: true,
		},
		{
			name: "wrapped transient",
			err:  fmt.Errorf("fetch block 10: %w", &TransientFetchError{Err: base}),
			want: true,
		},
		{
			name: "fatal fetch wrapping transient",
			err:  &FatalFetchError{Height: 10, Err: &TransientFetchError{Err: base}},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestErrorsUnwrap(t *testing.T) {
	base := errors.New("boom")

	require.ErrorIs(t, &FatalFetchError{Height: 1, Err: base}, base)
	require.ErrorIs(t, &HandlerError{Handler: "h", Height: 1, Err: base}, base)
	require.ErrorIs(t, &StoreCommitError{Height: 1, Err: base}, base)
	require.ErrorIs(t, &TransientFetchError{Err: base}, base)

	require.Contains(t, (&HandlerError{Handler: "h", Height: 7, Fatal: true, Err: base}).Error(), "fatal")
	require.Contains(t, (&FatalFetchError{Height: 42, Err: base}).Error(), "42")
}

func TestSetEntity(t *testing.T) {
	op, err := SetEntity("transfer", "0xabc-1", map[string]string{"from": "0x1"})
	require.NoError(t, err)
	require.Equal(t, OpSet, op.Type)
	require.Equal(t, "transfer", op.EntityType)
	require.JSONEq(t, `{"from":"0x1"}`, string(op.Data))

	rm := RemoveEntity("transfer", "0xabc-1")
	require.Equal(t, OpRemove, rm.Type)
	require.Nil(t, rm.Data)
	require.Equal(t, "remove", rm.Type.String())
}
