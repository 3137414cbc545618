// Package queue provides a bounded FIFO queue shared between fetch workers
// and the block dispatcher.
package queue

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrQueueFull is returned by non-blocking puts when there is not enough room.
	ErrQueueFull = errors.New("queue is full")

	// ErrBatchTooLarge is returned by PutAll when the batch can never fit.
	ErrBatchTooLarge = errors.New("batch exceeds queue capacity")

	// ErrQueueClosed is returned by every blocking call once the queue is closed.
	ErrQueueClosed = errors.New("queue is closed")
)

// BoundedQueue is a FIFO queue holding at most Cap() items.
// Put blocks while the queue is full, Take blocks while it is empty.
type BoundedQueue[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	closed   bool

	// changed is closed and replaced whenever the queue contents change,
	// waking every blocked producer and consumer.
	changed chan struct{}
}

// New creates a queue with the given capacity. Capacity must be positive.
func New[T any](capacity int) *BoundedQueue[T] {
	if capacity < 1 {
		capacity = 1
	}

	return &BoundedQueue[T]{
		items:    make([]T, 0, capacity),
		capacity: capacity,
		changed:  make(chan struct{}),
	}
}

// notifyLocked wakes all waiters. Callers must hold mu.
func (q *BoundedQueue[T]) notifyLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}

// Put appends item, blocking until there is room, the context is done or the queue is closed.
func (q *BoundedQueue[T]) Put(ctx context.Context, item T) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrQueueClosed
		}

		if len(q.items) < q.capacity {
			q.items = append(q.items, item)
			q.notifyLocked()
			q.mu.Unlock()
			return nil
		}

		wait := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wait:
		}
	}
}

// TryPut appends item without blocking.
func (q *BoundedQueue[T]) TryPut(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	if len(q.items) >= q.capacity {
		return ErrQueueFull
	}

	q.items = append(q.items, item)
	q.notifyLocked()

	return nil
}

// PutAll appends every item or none of them, without blocking.
func (q *BoundedQueue[T]) PutAll(items []T) error {
	if len(items) > q.capacity {
		return ErrBatchTooLarge
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	if len(q.items)+len(items) > q.capacity {
		return ErrQueueFull
	}

	if len(items) == 0 {
		return nil
	}

	q.items = append(q.items, items...)
	q.notifyLocked()

	return nil
}

// Take removes and returns the oldest item, blocking while the queue is empty.
func (q *BoundedQueue[T]) Take(ctx context.Context) (T, error) {
	items, err := q.TakeAll(ctx, 1)
	if err != nil {
		var zero T
		return zero, err
	}

	return items[0], nil
}

// TakeAll removes and returns up to limit of the oldest items, blocking while
// the queue is empty. It never returns an empty batch without an error.
// A limit of zero or less takes everything available.
func (q *BoundedQueue[T]) TakeAll(ctx context.Context, limit int) ([]T, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrQueueClosed
		}

		if n := len(q.items); n > 0 {
			if limit <= 0 || limit > n {
				limit = n
			}

			out := make([]T, limit)
			copy(out, q.items[:limit])

			var zero T
			for i := range limit {
				q.items[i] = zero
			}
			q.items = append(q.items[:0], q.items[limit:]...)

			q.notifyLocked()
			q.mu.Unlock()

			return out, nil
		}

		wait := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
	}
}

// Len returns the number of queued items.
func (q *BoundedQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}

// Cap returns the queue capacity.
func (q *BoundedQueue[T]) Cap() int {
	return q.capacity
}

// Clear drops every queued item and returns how many were dropped.
func (q *BoundedQueue[T]) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	clear(q.items)
	q.items = q.items[:0]
	q.notifyLocked()

	return n
}

// Close wakes every waiter with ErrQueueClosed. Queued items are discarded.
func (q *BoundedQueue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	clear(q.items)
	q.items = q.items[:0]
	q.notifyLocked()
}
