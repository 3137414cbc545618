// Package retry schedules operations with exponential backoff and cancels
// every pending wait on shutdown.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/goran-ethernal/BlockIndexor/internal/common"
	"github.com/goran-ethernal/BlockIndexor/internal/logger"
	"github.com/goran-ethernal/BlockIndexor/pkg/config"
)

var (
	// ErrMaxAttempts wraps the last error once every attempt failed.
	ErrMaxAttempts = errors.New("max attempts reached")

	// ErrStopped is returned when the manager is stopped while an operation is pending.
	ErrStopped = errors.New("retry manager stopped")
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. RetryWithBackoff returns the
// wrapped error immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}

	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Manager runs operations with exponential backoff: the wait after attempt i
// (zero based) is InitialBackoff * BackoffMultiplier^i, capped at MaxBackoff.
type Manager struct {
	cfg config.RetryConfig
	log *logger.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewManager creates a retry manager. Zero fields of cfg get their defaults.
func NewManager(cfg config.RetryConfig, log *logger.Logger) *Manager {
	cfg.ApplyDefaults()

	return &Manager{
		cfg:    cfg,
		log:    log.WithComponent(common.ComponentRetry),
		stopCh: make(chan struct{}),
	}
}

// MaxAttempts returns the configured attempt budget for fetches and commits.
func (m *Manager) MaxAttempts() int {
	return m.cfg.MaxAttempts
}

// HandlerMaxAttempts returns the configured attempt budget for handlers.
func (m *Manager) HandlerMaxAttempts() int {
	return m.cfg.HandlerMaxAttempts
}

// Backoff returns the wait after the given zero based attempt.
func (m *Manager) Backoff(attempt int) time.Duration {
	backoff := float64(m.cfg.InitialBackoff.Duration) * math.Pow(m.cfg.BackoffMultiplier, float64(attempt))
	if backoff > float64(m.cfg.MaxBackoff.Duration) || math.IsInf(backoff, 1) {
		return m.cfg.MaxBackoff.Duration
	}

	return time.Duration(backoff)
}

// RetryWithBackoff calls op until it succeeds, up to maxAttempts times.
// onError is called once per failed attempt and onMaxAttempts exactly once
// when every attempt failed; both may be nil. Errors wrapped with Permanent
// end the loop at once. After Stop, pending waits end with ErrStopped.
func (m *Manager) RetryWithBackoff(
	ctx context.Context,
	op func(attempt int) error,
	onError func(attempt int, err error),
	onMaxAttempts func(err error),
	maxAttempts int,
) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := range maxAttempts {
		if m.stopped() {
			return ErrStopped
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context cancelled before attempt %d: %w", attempt+1, err)
		}

		err := op(attempt)
		if err == nil {
			return nil
		}

		lastErr = err
		if onError != nil {
			onError(attempt, err)
		}

		if IsPermanent(err) {
			return errors.Unwrap(err)
		}

		if attempt == maxAttempts-1 {
			break
		}

		RetriesInc()

		wait := m.Backoff(attempt)
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-m.stopCh:
			timer.Stop()
			return ErrStopped
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("context cancelled during backoff (attempt %d/%d): %w", attempt+1, maxAttempts, ctx.Err())
		}
	}

	if onMaxAttempts != nil {
		onMaxAttempts(lastErr)
	}
	ExhaustedInc()

	return fmt.Errorf("%w (%d): %w", ErrMaxAttempts, maxAttempts, lastErr)
}

// Do retries fn with the configured attempt budget, logging each failure under operation.
func (m *Manager) Do(ctx context.Context, operation string, fn func() error) error {
	return m.RetryWithBackoff(ctx,
		func(int) error { return fn() },
		func(attempt int, err error) {
			m.log.Debugw("operation failed",
				"operation", operation,
				"attempt", attempt+1,
				"max_attempts", m.cfg.MaxAttempts,
				"error", err,
			)
		},
		func(err error) {
			m.log.Warnw("operation failed after all attempts",
				"operation", operation,
				"attempts", m.cfg.MaxAttempts,
				"error", err,
			)
		},
		m.cfg.MaxAttempts,
	)
}

// Stop cancels every pending backoff wait. It is safe to call more than once.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
}

func (m *Manager) stopped() bool {
	select {
	case <-m.stopCh:
		return true
	default:
		return false
	}
}
