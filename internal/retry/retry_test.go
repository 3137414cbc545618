package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goran-ethernal/BlockIndexor/internal/common"
	"github.com/goran-ethernal/BlockIndexor/internal/logger"
	"github.com/goran-ethernal/BlockIndexor/pkg/config"
	"github.com/stretchr/testify/require"
)

func newTestManager(base, maxBackoff time.Duration) *Manager {
	return NewManager(config.RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    common.NewDuration(base),
		MaxBackoff:        common.NewDuration(maxBackoff),
		BackoffMultiplier: 2,
	}, logger.NewNopLogger())
}

func TestManager_Backoff(t *testing.T) {
	m := newTestManager(100*time.Millisecond, time.Second)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: 100 * time.Millisecond},
		{attempt: 1, want: 200 * time.Millisecond},
		{attempt: 2, want: 400 * time.Millisecond},
		{attempt: 3, want: 800 * time.Millisecond},
		{attempt: 4, want: time.Second},
		{attempt: 100, want: time.Second},
	}

	for _, tt := range tests {
		require.Equal(t, tt.want, m.Backoff(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestManager_RetryWithBackoff_Exhausted(t *testing.T) {
	m := newTestManager(time.Millisecond, 5*time.Millisecond)
	boom := errors.New("boom")

	var calls, onErrorCalls, onMaxCalls int
	var attempts []int

	err := m.RetryWithBackoff(context.Background(),
		func(attempt int) error {
			calls++
			attempts = append(attempts, attempt)
			return boom
		},
		func(int, error) { onErrorCalls++ },
		func(err error) {
			onMaxCalls++
			require.ErrorIs(t, err, boom)
		},
		3,
	)

	require.ErrorIs(t, err, ErrMaxAttempts)
	require.ErrorIs(t, err, boom)
	require.Equal(t, 3, calls)
	require.Equal(t, []int{0, 1, 2}, attempts)
	require.Equal(t, 3, onErrorCalls)
	require.Equal(t, 1, onMaxCalls)
}

func TestManager_RetryWithBackoff_SucceedsAfterFailures(t *testing.T) {
	m := newTestManager(time.Millisecond, 5*time.Millisecond)

	var onErrorCalls, onMaxCalls int
	err := m.RetryWithBackoff(context.Background(),
		func(attempt int) error {
			if attempt < 2 {
				return errors.New("transient")
			}
			return nil
		},
		func(int, error) { onErrorCalls++ },
		func(error) { onMaxCalls++ },
		5,
	)

	require.NoError(t, err)
	require.Equal(t, 2, onErrorCalls)
	require.Zero(t, onMaxCalls)
}

func TestManager_RetryWithBackoff_Permanent(t *testing.T) {
	m := newTestManager(time.Millisecond, 5*time.Millisecond)
	fatal := errors.New("fatal")

	var calls, onMaxCalls int
	err := m.RetryWithBackoff(context.Background(),
		func(int) error {
			calls++
			return Permanent(fatal)
		},
		nil,
		func(error) { onMaxCalls++ },
		5,
	)

	require.ErrorIs(t, err, fatal)
	require.NotErrorIs(t, err, ErrMaxAttempts)
	require.False(t, IsPermanent(err))
	require.Equal(t, 1, calls)
	require.Zero(t, onMaxCalls)
}

func TestManager_StopCancelsPendingWaits(t *testing.T) {
	m := newTestManager(time.Hour, time.Hour)

	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- m.RetryWithBackoff(context.Background(),
			func(int) error {
				calls.Add(1)
				return errors.New("down")
			},
			nil, nil, 10,
		)
	}()

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	m.Stop()

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrStopped)
	case <-time.After(time.Second):
		t.Fatal("retry did not stop")
	}
	require.Equal(t, int32(1), calls.Load())

	// no new attempts once stopped
	err := m.RetryWithBackoff(context.Background(), func(int) error { return nil }, nil, nil, 1)
	require.ErrorIs(t, err, ErrStopped)
	m.Stop()
}

func TestManager_ContextCancelled(t *testing.T) {
	m := newTestManager(time.Hour, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- m.RetryWithBackoff(ctx, func(int) error { return errors.New("down") }, nil, nil, 3)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("retry ignored context cancellation")
	}
}

func TestManager_Do(t *testing.T) {
	m := newTestManager(time.Millisecond, time.Millisecond)

	var calls int
	err := m.Do(context.Background(), "commit", func() error {
		calls++
		return errors.New("locked")
	})

	require.ErrorIs(t, err, ErrMaxAttempts)
	require.Equal(t, m.MaxAttempts(), calls)
}
