package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Submit ---

func TestWorkerPoolRunsSubmittedWork(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Shutdown()

	var ran atomic.Int64
	require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) error {
		ran.Add(1)
		return nil
	}))
	pool.Wait()

	assert.Equal(t, int64(1), ran.Load())
	assert.Equal(t, int64(1), pool.Metrics().Completed)
}

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	const size = 3
	pool := NewWorkerPool(size)
	defer pool.Shutdown()

	var current, peak atomic.Int64
	var mu sync.Mutex
	for i := 0; i < 12; i++ {
		require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) error {
			c := current.Add(1)
			mu.Lock()
			if c > peak.Load() {
				peak.Store(c)
			}
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			current.Add(-1)
			return nil
		}))
	}
	pool.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(size))
}

func TestWorkerPoolCountsFailures(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Shutdown()

	require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) error {
		return errors.New("handler blew up")
	}))
	require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) error {
		return nil
	}))
	pool.Wait()

	m := pool.Metrics()
	assert.Equal(t, int64(1), m.Failed)
	assert.Equal(t, int64(1), m.Completed)
}

func TestWorkerPoolRecoversPanics(t *testing.T) {
	pool := NewWorkerPool(1)
	defer pool.Shutdown()

	require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) error {
		panic("node handler panic")
	}))
	pool.Wait()

	m := pool.Metrics()
	assert.Equal(t, int64(1), m.Panics)
	assert.Equal(t, int64(1), m.Failed)
	assert.Equal(t, int64(0), m.Active)
}

func TestWorkerPoolSubmitRespectsContext(t *testing.T) {
	pool := NewWorkerPool(1)
	defer pool.Shutdown()

	release := make(chan struct{})
	require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) error {
		<-release
		return nil
	}))

	// The single slot is held, so this submit blocks until the context dies.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := pool.Submit(ctx, func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	pool.Wait()
}

// --- Shutdown ---

func TestWorkerPoolShutdownRejectsNewWork(t *testing.T) {
	pool := NewWorkerPool(2)
	pool.Shutdown()

	err := pool.Submit(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolShutdown)
}

func TestWorkerPoolShutdownWaitsForActiveWork(t *testing.T) {
	pool := NewWorkerPool(2)

	var finished atomic.Bool
	require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) error {
		time.Sleep(30 * time.Millisecond)
		finished.Store(true)
		return nil
	}))

	pool.Shutdown()
	assert.True(t, finished.Load())
}

func TestWorkerPoolShutdownIsIdempotent(t *testing.T) {
	pool := NewWorkerPool(1)
	pool.Shutdown()
	pool.Shutdown()
}
