package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoundedQueue_FIFO(t *testing.T) {
	q := New[int](4)
	ctx := context.Background()

	for i := range 4 {
		require.NoError(t, q.Put(ctx, i))
	}
	require.Equal(t, 4, q.Len())

	for i := range 4 {
		v, err := q.Take(ctx)
		require.NoError(t, err)
		require.Equal(t, i, v)
	}
	require.Zero(t, q.Len())
}

func TestBoundedQueue_TryPut(t *testing.T) {
	q := New[int](2)

	require.NoError(t, q.TryPut(1))
	require.NoError(t, q.TryPut(2))
	require.ErrorIs(t, q.TryPut(3), ErrQueueFull)
	require.Equal(t, 2, q.Len())
}

func TestBoundedQueue_PutAll(t *testing.T) {
	tests := []struct {
		name     string
		prefill  []int
		batch    []int
		wantErr  error
		wantLen  int
		wantHead int
	}{
		{
			name:     "fits",
			prefill:  []int{1},
			batch:    []int{2, 3},
			wantLen:  3,
			wantHead: 1,
		},
		{
			name:     "does not fit leaves queue untouched",
			prefill:  []int{1, 2},
			batch:    []int{3, 4},
			wantErr:  ErrQueueFull,
			wantLen:  2,
			wantHead: 1,
		},
		{
			name:    "larger than capacity",
			batch:   []int{1, 2, 3, 4},
			wantErr: ErrBatchTooLarge,
			wantLen: 0,
		},
		{
			name:    "empty batch",
			batch:   nil,
			wantLen: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := New[int](3)
			require.NoError(t, q.PutAll(tt.prefill))

			err := q.PutAll(tt.batch)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}

			require.Equal(t, tt.wantLen, q.Len())
			if tt.wantLen > 0 {
				v, err := q.Take(context.Background())
				require.NoError(t, err)
				require.Equal(t, tt.wantHead, v)
			}
		})
	}
}

func TestBoundedQueue_TakeAll(t *testing.T) {
	q := New[int](8)
	ctx := context.Background()
	require.NoError(t, q.PutAll([]int{1, 2, 3, 4, 5}))

	batch, err := q.TakeAll(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, []int{1, 2}, batch)

	batch, err = q.TakeAll(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, []int{3, 4, 5}, batch)

	require.Zero(t, q.Len())
}

func TestBoundedQueue_TakeAllBlocksUntilItem(t *testing.T) {
	q := New[int](2)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan []int)
	go func() {
		batch, err := q.TakeAll(ctx, 10)
		if err != nil {
			close(done)
			return
		}
		done <- batch
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Put(ctx, 7))

	batch, ok := <-done
	require.True(t, ok)
	require.Equal(t, []int{7}, batch)
}

func TestBoundedQueue_PutBlocksWhileFull(t *testing.T) {
	q := New[int](1)
	ctx := context.Background()
	require.NoError(t, q.Put(ctx, 1))

	putDone := make(chan error, 1)
	go func() {
		putDone <- q.Put(ctx, 2)
	}()

	select {
	case <-putDone:
		t.Fatal("put should block while the queue is full")
	case <-time.After(30 * time.Millisecond):
	}
	require.Equal(t, 1, q.Len())

	v, err := q.Take(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, v)

	require.NoError(t, <-putDone)
	v, err = q.Take(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, v)
}

func TestBoundedQueue_ContextCancel(t *testing.T) {
	q := New[int](1)
	require.NoError(t, q.TryPut(1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, q.Put(ctx, 2), context.DeadlineExceeded)

	empty := New[int](1)
	ctx2, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()
	_, err := empty.Take(ctx2)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBoundedQueue_Close(t *testing.T) {
	q := New[int](1)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Take(ctx)
			errs <- err
		}()
	}

	time.Sleep(20 * time.Millisecond)
	q.Close()
	wg.Wait()
	close(errs)

	for err := range errs {
		require.ErrorIs(t, err, ErrQueueClosed)
	}

	require.ErrorIs(t, q.Put(ctx, 1), ErrQueueClosed)
	require.ErrorIs(t, q.TryPut(1), ErrQueueClosed)
	require.ErrorIs(t, q.PutAll([]int{1}), ErrQueueClosed)
}

func TestBoundedQueue_ClearUnblocksProducer(t *testing.T) {
	q := New[int](2)
	ctx := context.Background()
	require.NoError(t, q.PutAll([]int{1, 2}))

	putDone := make(chan error, 1)
	go func() {
		putDone <- q.Put(ctx, 3)
	}()

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 2, q.Clear())
	require.NoError(t, <-putDone)

	v, err := q.Take(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, v)
}

func TestBoundedQueue_NeverExceedsCapacity(t *testing.T) {
	const capacity = 5
	q := New[int](capacity)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for p := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 50 {
				if err := q.Put(ctx, p*100+i); err != nil {
					return
				}
				assert.LessOrEqual(t, q.Len(), capacity)
			}
		}()
	}

	received := 0
	for received < 200 {
		batch, err := q.TakeAll(ctx, 3)
		require.NoError(t, err)
		require.NotEmpty(t, batch)
		require.LessOrEqual(t, len(batch), 3)
		received += len(batch)
	}

	wg.Wait()
	require.Zero(t, q.Len())
	require.Equal(t, capacity, q.Cap())
}
