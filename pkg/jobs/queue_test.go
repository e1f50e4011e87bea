package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func waitIdle(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Wait(ctx))
}

func TestQueueProcessesJobs(t *testing.T) {
	var (
		mu      sync.Mutex
		batches []string
	)
	q := NewQueue("recalc", func(_ context.Context, job Job) error {
		mu.Lock()
		defer mu.Unlock()
		batches = append(batches, job.BatchCode)
		return nil
	}, QueueConfig{Workers: 2, Logger: zap.NewNop()})
	q.Start(context.Background())
	defer q.Stop()

	id, err := q.Enqueue("2024-T1", "manual")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	_, err = q.Enqueue("2024-T2", "manual")
	require.NoError(t, err)

	waitIdle(t, q)
	assert.ElementsMatch(t, []string{"2024-T1", "2024-T2"}, batches)
}

func TestQueueRetriesFailedJobs(t *testing.T) {
	var calls int
	q := NewQueue("recalc", func(_ context.Context, job Job) error {
		calls++
		if job.Attempt == 0 {
			return errors.New("db unavailable")
		}
		return nil
	}, QueueConfig{Workers: 1, MaxRetries: 2, RetryDelay: time.Millisecond})
	q.Start(context.Background())
	defer q.Stop()

	_, err := q.Enqueue("2024-T1", "scores updated")
	require.NoError(t, err)
	waitIdle(t, q)
	assert.Equal(t, 2, calls)
}

func TestQueueGivesUpAfterMaxRetries(t *testing.T) {
	var calls int
	q := NewQueue("recalc", func(context.Context, Job) error {
		calls++
		return errors.New("boom")
	}, QueueConfig{Workers: 1, MaxRetries: 1, RetryDelay: time.Millisecond})
	q.Start(context.Background())
	defer q.Stop()

	_, err := q.Enqueue("2024-T1", "manual")
	require.NoError(t, err)
	waitIdle(t, q)
	assert.Equal(t, 2, calls)
}

func TestQueueCoalescesQueuedBatch(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	q := NewQueue("recalc", func(_ context.Context, job Job) error {
		if job.BatchCode == "busy" {
			started <- struct{}{}
			<-release
		}
		return nil
	}, QueueConfig{Workers: 1})
	q.Start(context.Background())
	defer q.Stop()

	_, err := q.Enqueue("busy", "manual")
	require.NoError(t, err)
	<-started

	_, err = q.Enqueue("2024-T1", "manual")
	require.NoError(t, err)
	_, err = q.Enqueue("2024-T1", "manual")
	assert.ErrorIs(t, err, ErrAlreadyQueued)

	close(release)
	waitIdle(t, q)

	_, err = q.Enqueue("2024-T1", "again")
	assert.NoError(t, err)
	waitIdle(t, q)
}

func TestQueueRejectsBeforeStart(t *testing.T) {
	q := NewQueue("recalc", func(context.Context, Job) error { return nil }, QueueConfig{})
	_, err := q.Enqueue("2024-T1", "manual")
	assert.Error(t, err)
	assert.NoError(t, q.Wait(context.Background()))
}
