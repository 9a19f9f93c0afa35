package jobs

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

func TestQueueRunsEveryJob(t *testing.T) {
	var (
		mu   sync.Mutex
		seen = map[int]bool{}
		wg   sync.WaitGroup
	)
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		defer wg.Done()
		mu.Lock()
		seen[job.Payload.(int)] = true
		mu.Unlock()
		return nil
	}, QueueConfig{Workers: 3, BufferSize: 30})
	q.Start(context.Background())
	defer q.Stop()

	for i := 0; i < 20; i++ {
		wg.Add(1)
		require.NoError(t, q.Enqueue(Job{Payload: i}))
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 20)
}

func TestFailedJobIsRetried(t *testing.T) {
	var calls atomic.Int32
	q := NewQueue("retry", func(ctx context.Context, job Job) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, QueueConfig{MaxRetries: 5, RetryDelay: time.Millisecond})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "j1"}))
	assert.Eventually(t, func() bool { return calls.Load() == 3 }, time.Second, time.Millisecond)
}

func TestNegativeRetriesDisableRetry(t *testing.T) {
	var calls atomic.Int32
	q := NewQueue("once", func(ctx context.Context, job Job) error {
		calls.Add(1)
		return errors.New("permanent")
	}, QueueConfig{MaxRetries: -1, RetryDelay: time.Millisecond})
	q.Start(context.Background())

	require.NoError(t, q.Enqueue(Job{ID: "j1"}))
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	q.Stop()
	assert.Equal(t, int32(1), calls.Load())
}

func TestPanickingHandlerDoesNotKillWorker(t *testing.T) {
	var calls atomic.Int32
	q := NewQueue("panic", func(ctx context.Context, job Job) error {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return nil
	}, QueueConfig{MaxRetries: -1})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "first"}))
	require.NoError(t, q.Enqueue(Job{ID: "second"}))
	assert.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, time.Millisecond)
}

func TestEnqueueRequiresStart(t *testing.T) {
	q := NewQueue("idle", func(context.Context, Job) error { return nil }, QueueConfig{})
	assert.Error(t, q.Enqueue(Job{}))
}
