package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrAlreadyQueued is returned when a recalculation of the same batch is still waiting
// for a worker. The queued job will pick up the latest data when it runs.
var ErrAlreadyQueued = errors.New("batch already queued")

// Job is one requested batch recalculation.
type Job struct {
	ID        string
	BatchCode string
	Reason    string
	Attempt   int
	Enqueued  time.Time
}

// Handler processes a job.
type Handler func(context.Context, Job) error

// QueueConfig configures worker pool behaviour.
type QueueConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
	Logger     *zap.Logger
}

// Queue dispatches recalculation jobs to a fixed set of goroutines. Failed jobs are
// retried after RetryDelay until MaxRetries is exhausted.
type Queue struct {
	name    string
	handler Handler

	workers    int
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger

	jobs    chan Job
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool

	queued   map[string]struct{}
	inflight int
	idle     chan struct{}
}

// NewQueue builds a new queue with the provided handler.
func NewQueue(name string, handler Handler, cfg QueueConfig) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = cfg.Workers * 4
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Queue{
		name:       name,
		handler:    handler,
		workers:    cfg.Workers,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     cfg.Logger,
		jobs:       make(chan Job, cfg.BufferSize),
		queued:     map[string]struct{}{},
	}
}

// Start begins worker consumption. Safe to call once.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i + 1)
	}
	q.started = true
	q.logger.Sugar().Infow("queue started", "queue", q.name, "workers", q.workers)
}

// Stop cancels workers, waits for them to exit and discards jobs that never ran.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	q.cancel()
	q.mu.Unlock()
	q.wg.Wait()

	for {
		select {
		case job := <-q.jobs:
			q.logger.Sugar().Warnw("job dropped on shutdown", "queue", q.name, "job_id", job.ID, "batch", job.BatchCode)
			q.dequeued(job)
			q.finish()
		default:
			q.logger.Sugar().Infow("queue stopped", "queue", q.name)
			return
		}
	}
}

// Enqueue requests a recalculation of batchCode and returns the job ID.
func (q *Queue) Enqueue(batchCode, reason string) (string, error) {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return "", fmt.Errorf("queue %s not started", q.name)
	}
	if _, ok := q.queued[batchCode]; ok {
		q.mu.Unlock()
		return "", ErrAlreadyQueued
	}
	q.queued[batchCode] = struct{}{}
	q.inflight++
	if q.inflight == 1 {
		q.idle = make(chan struct{})
	}
	ctx := q.ctx
	q.mu.Unlock()

	job := Job{ID: uuid.NewString(), BatchCode: batchCode, Reason: reason, Enqueued: time.Now().UTC()}
	select {
	case <-ctx.Done():
		q.dequeued(job)
		q.finish()
		return "", fmt.Errorf("queue %s stopped: %w", q.name, ctx.Err())
	case q.jobs <- job:
		q.logger.Sugar().Debugw("job enqueued", "queue", q.name, "job_id", job.ID, "batch", batchCode, "reason", reason)
		return job.ID, nil
	}
}

// Wait blocks until every enqueued job has finished or ctx is done.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	if q.inflight == 0 {
		q.mu.Unlock()
		return nil
	}
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) worker(workerID int) {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case job := <-q.jobs:
			q.dequeued(job)
			err := q.handler(q.ctx, job)
			if err == nil {
				q.finish()
				continue
			}
			q.handleFailure(workerID, job, err)
		}
	}
}

func (q *Queue) handleFailure(workerID int, job Job, err error) {
	job.Attempt++
	if job.Attempt > q.maxRetries || q.ctx.Err() != nil {
		q.logger.Sugar().Errorw("job exceeded retries", "queue", q.name, "worker", workerID, "job_id", job.ID, "batch", job.BatchCode, "error", err)
		q.finish()
		return
	}
	q.logger.Sugar().Warnw("job failed, retrying", "queue", q.name, "worker", workerID, "job_id", job.ID, "batch", job.BatchCode, "attempt", job.Attempt, "error", err)

	go func(j Job) {
		timer := time.NewTimer(q.retryDelay)
		defer timer.Stop()
		select {
		case <-q.ctx.Done():
			q.finish()
			return
		case <-timer.C:
		}
		select {
		case <-q.ctx.Done():
			q.finish()
		case q.jobs <- j:
		}
	}(job)
}

// dequeued releases the batch for new requests once a worker has taken the job.
func (q *Queue) dequeued(job Job) {
	if job.Attempt > 0 {
		return
	}
	q.mu.Lock()
	delete(q.queued, job.BatchCode)
	q.mu.Unlock()
}

func (q *Queue) finish() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.inflight--
	if q.inflight == 0 {
		close(q.idle)
	}
}
