package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-stats-engine/internal/models"
	appErrors "github.com/noah-isme/sma-stats-engine/pkg/errors"
)

// DefaultResultTTL applies when no cache TTL is configured.
const DefaultResultTTL = 24 * time.Hour

// CacheRepository abstracts persistence for cached payloads.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// ResultCache keeps assembled entity results under stats:{batch}:{level}:{entity}.
// A recalculation drops every key of its batch before new results are written.
// A nil or repo-less cache is inert.
type ResultCache struct {
	repo    CacheRepository
	metrics *MetricsService
	ttl     time.Duration
	logger  *zap.Logger
}

// NewResultCache constructs the cache; repo may be nil when caching is disabled.
func NewResultCache(repo CacheRepository, metrics *MetricsService, ttl time.Duration, logger *zap.Logger) *ResultCache {
	if ttl <= 0 {
		ttl = DefaultResultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResultCache{repo: repo, metrics: metrics, ttl: ttl, logger: logger}
}

// Enabled indicates whether results are cached.
func (c *ResultCache) Enabled() bool {
	return c != nil && c.repo != nil
}

func (c *ResultCache) key(batchCode string, level models.EntityLevel, entityID string) string {
	return fmt.Sprintf("stats:%s:%s:%s", batchCode, level, entityID)
}

func (c *ResultCache) batchPattern(batchCode string) string {
	return fmt.Sprintf("stats:%s:*", batchCode)
}

// Lookup returns the cached result of an entity. Backend failures are logged and
// reported as a miss so that callers fall through to the store.
func (c *ResultCache) Lookup(ctx context.Context, batchCode string, level models.EntityLevel, entityID string) (*models.AggregationResult, bool) {
	if !c.Enabled() {
		return nil, false
	}
	key := c.key(batchCode, level, entityID)
	start := time.Now()
	var cached models.AggregationResult
	err := c.repo.Get(ctx, key, &cached)
	c.record(err == nil, time.Since(start))
	if err != nil {
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			c.logger.Warn("result cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	return &cached, true
}

// Store caches result under its entity key.
func (c *ResultCache) Store(ctx context.Context, result *models.AggregationResult) error {
	if !c.Enabled() || result == nil {
		return nil
	}
	key := c.key(result.BatchCode, result.Level, result.EntityID)
	start := time.Now()
	err := c.repo.Set(ctx, key, result, c.ttl)
	if c.metrics != nil {
		c.metrics.ObserveCacheWrite(time.Since(start))
	}
	if err != nil {
		c.logger.Warn("result cache write failed", zap.String("key", key), zap.Error(err))
	}
	return err
}

// InvalidateBatch removes every cached result of batchCode.
func (c *ResultCache) InvalidateBatch(ctx context.Context, batchCode string) error {
	if !c.Enabled() {
		return nil
	}
	pattern := c.batchPattern(batchCode)
	if err := c.repo.DeleteByPattern(ctx, pattern); err != nil {
		return fmt.Errorf("invalidate %s: %w", pattern, err)
	}
	return nil
}

func (c *ResultCache) record(hit bool, d time.Duration) {
	if c.metrics != nil {
		c.metrics.RecordCacheOperation(hit, d)
	}
}
