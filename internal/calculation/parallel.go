package calculation

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/sma-stats-engine/internal/models"
	appErrors "github.com/noah-isme/sma-stats-engine/pkg/errors"
)

// Partition is an independent unit of work, normally one school.
type Partition struct {
	Key     string
	Name    string
	Records []models.ScoreRecord
}

// PartitionFunc processes one partition. Errors are scoped to that partition.
type PartitionFunc func(ctx context.Context, p Partition) error

// PartitionOutcome reports how one partition ended.
type PartitionOutcome struct {
	Key     string
	Err     error
	Skipped bool
}

// PartitionBySchool groups records by school id, ordered by id.
func PartitionBySchool(records []models.ScoreRecord) []Partition {
	index := map[string]int{}
	var parts []Partition
	for _, r := range records {
		i, ok := index[r.SchoolID]
		if !ok {
			i = len(parts)
			index[r.SchoolID] = i
			parts = append(parts, Partition{Key: r.SchoolID, Name: r.SchoolName})
		}
		if parts[i].Name == "" {
			parts[i].Name = r.SchoolName
		}
		parts[i].Records = append(parts[i].Records, r)
	}
	sort.Slice(parts, func(a, b int) bool { return parts[a].Key < parts[b].Key })
	return parts
}

// ParallelExecutor runs partitions on a bounded worker pool. Cancellation is coarse:
// once ctx is done no further partition starts, but running ones finish.
type ParallelExecutor struct {
	workers int
	logger  *zap.Logger
}

// NewParallelExecutor builds an executor with at least one worker.
func NewParallelExecutor(workers int, logger *zap.Logger) *ParallelExecutor {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ParallelExecutor{workers: workers, logger: logger}
}

// Run blocks until every partition has finished or been skipped. Outcomes are
// returned in partition order.
func (e *ParallelExecutor) Run(ctx context.Context, parts []Partition, fn PartitionFunc) []PartitionOutcome {
	outcomes := make([]PartitionOutcome, len(parts))
	g := new(errgroup.Group)
	g.SetLimit(e.workers)

	for i := range parts {
		i := i
		outcomes[i].Key = parts[i].Key
		if ctx.Err() != nil {
			outcomes[i] = skipped(parts[i].Key, ctx.Err())
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				outcomes[i] = skipped(parts[i].Key, err)
				return nil
			}
			outcomes[i].Err = e.safeCall(ctx, parts[i], fn)
			return nil
		})
	}
	_ = g.Wait()

	var skippedCount int
	for _, o := range outcomes {
		if o.Skipped {
			skippedCount++
		}
	}
	if skippedCount > 0 {
		e.logger.Warn("partitions skipped after deadline",
			zap.Int("skipped", skippedCount),
			zap.Int("total", len(parts)),
		)
	}
	return outcomes
}

func (e *ParallelExecutor) safeCall(ctx context.Context, p Partition, fn PartitionFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("partition panicked", zap.String("partition", p.Key), zap.Any("panic", r))
			err = appErrors.Wrap(fmt.Errorf("panic: %v", r), appErrors.ErrInternal.Code, true, "partition calculation panicked")
		}
	}()
	return fn(ctx, p)
}

func skipped(key string, cause error) PartitionOutcome {
	return PartitionOutcome{
		Key:     key,
		Skipped: true,
		Err:     appErrors.Wrap(cause, appErrors.ErrDeadlineExceeded.Code, true, appErrors.ErrDeadlineExceeded.Message),
	}
}
