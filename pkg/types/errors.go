package types

import (
	"errors"
	"fmt"
)

// TransientFetchError marks a fetch failure that is worth retrying
// (timeouts, rate limits, unavailable endpoints).
type TransientFetchError struct {
	Endpoint string
	Err      error
}

func (e *TransientFetchError) Error() string {
	if e.Endpoint == "" {
		return fmt.Sprintf("transient fetch error: %v", e.Err)
	}

	return fmt.Sprintf("transient fetch error on %s: %v", e.Endpoint, e.Err)
}

func (e *TransientFetchError) Unwrap() error {
	return e.Err
}

// FatalFetchError is returned when a height could not be fetched after all retries.
type FatalFetchError struct {
	Height uint64
	Err    error
}

func (e *FatalFetchError) Error() string {
	return fmt.Sprintf("failed to fetch block %d: %v", e.Height, e.Err)
}

func (e *FatalFetchError) Unwrap() error {
	return e.Err
}

// HandlerError is returned by handler execution. Fatal errors are not retried.
type HandlerError struct {
	Handler string
	Height  uint64
	Fatal   bool
	Err     error
}

func (e *HandlerError) Error() string {
	kind := "retryable"
	if e.Fatal {
		kind = "fatal"
	}

	return fmt.Sprintf("handler %s failed at block %d (%s): %v", e.Handler, e.Height, kind, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// StoreCommitError is returned when a block could not be committed after all retries.
type StoreCommitError struct {
	Height uint64
	Err    error
}

func (e *StoreCommitError) Error() string {
	return fmt.Sprintf("failed to commit block %d: %v", e.Height, e.Err)
}

func (e *StoreCommitError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is or wraps a TransientFetchError.
func IsTransient(err error) bool {
	var transient *TransientFetchError
	return errors.As(err, &transient)
}
