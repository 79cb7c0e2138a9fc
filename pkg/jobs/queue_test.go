package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueProcessesJobs(t *testing.T) {
	var processed int32
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		atomic.AddInt32(&processed, 1)
		return nil
	}, QueueConfig{Workers: 2})
	q.Start(context.Background())
	defer q.Stop()

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(Job{Type: "delivery"}))
	}
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&processed) == 5 }, time.Second, 10*time.Millisecond)
}

func TestQueueRetriesThenDiscards(t *testing.T) {
	var attempts int32
	discarded := make(chan Job, 1)
	q := NewQueue("retry", func(ctx context.Context, job Job) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("provider down")
	}, QueueConfig{Workers: 1, MaxRetries: 2, RetryDelay: 5 * time.Millisecond, OnDiscard: func(j Job, err error) { discarded <- j }})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{Type: "email"}))
	select {
	case job := <-discarded:
		assert.Equal(t, 3, job.Attempt)
	case <-time.After(2 * time.Second):
		t.Fatal("job was not discarded")
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestEnqueueBeforeStartFails(t *testing.T) {
	q := NewQueue("idle", func(ctx context.Context, job Job) error { return nil }, QueueConfig{})
	assert.Error(t, q.Enqueue(Job{}))
}

func TestEnqueueFullBuffer(t *testing.T) {
	block := make(chan struct{})
	q := NewQueue("full", func(ctx context.Context, job Job) error {
		<-block
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 1})
	q.Start(context.Background())
	defer func() {
		close(block)
		q.Stop()
	}()

	require.NoError(t, q.Enqueue(Job{}))
	require.Eventually(t, func() bool { return q.Len() == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, q.Enqueue(Job{}))
	assert.ErrorIs(t, q.Enqueue(Job{}), ErrQueueFull)
}
