package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/sma-stats-engine/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots.
type MetricsService struct {
	registry            *prometheus.Registry
	handler             http.Handler
	requestDuration     *prometheus.HistogramVec
	calculationDuration *prometheus.HistogramVec
	entityTotal         *prometheus.CounterVec
	rowsTotal           prometheus.Counter
	batchDuration       prometheus.Histogram
	budgetOverruns      prometheus.Counter
	cacheLatency        prometheus.Observer
	cacheWrite          prometheus.Observer
	cacheHitRatio       prometheus.Gauge
	cacheHits           prometheus.Counter
	cacheMisses         prometheus.Counter
	dbQueryDuration     *prometheus.HistogramVec

	cacheHitCount        uint64
	cacheMissCount       uint64
	calcCount            uint64
	calcFailures         uint64
	calcDurationTotal    uint64
	rowsCount            uint64
	completedCount       uint64
	partialCount         uint64
	failedCount          uint64
	overrunCount         uint64
	dbQueryCount         uint64
	dbQueryDurationTotal uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of ops HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	calculationDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stats_calculation_duration_seconds",
		Help:    "Duration of strategy calculations",
		Buckets: prometheus.DefBuckets,
	}, []string{"strategy", "outcome"})

	entityTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stats_entities_total",
		Help: "Aggregated entities by level and status",
	}, []string{"level", "status"})

	rowsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stats_rows_processed_total",
		Help: "Score rows loaded for aggregation",
	})

	batchDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "stats_batch_duration_seconds",
		Help:    "Duration of complete batch recalculations",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 15, 30, 60, 120},
	})

	budgetOverruns := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stats_batch_budget_overruns_total",
		Help: "Batches that exceeded their performance budget",
	})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "db_query_duration_seconds",
		Help:    "Duration of database queries",
		Buckets: prometheus.DefBuckets,
	}, []string{"query"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, calculationDuration, entityTotal, rowsTotal, batchDuration, budgetOverruns,
		cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses, dbQueryDuration, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:            registry,
		handler:             handler,
		requestDuration:     requestDuration,
		calculationDuration: calculationDuration,
		entityTotal:         entityTotal,
		rowsTotal:           rowsTotal,
		batchDuration:       batchDuration,
		budgetOverruns:      budgetOverruns,
		cacheLatency:        cacheLatency,
		cacheWrite:          cacheWrite,
		cacheHitRatio:       cacheHitRatio,
		cacheHits:           cacheHits,
		cacheMisses:         cacheMisses,
		dbQueryDuration:     dbQueryDuration,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records ops endpoint metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(method, path, fmt.Sprintf("%d", status)).Observe(duration.Seconds())
}

// ObserveCalculation records one strategy run. It satisfies calculation.Observer.
func (m *MetricsService) ObserveCalculation(strategy string, rows int, duration time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		atomic.AddUint64(&m.calcFailures, 1)
	}
	m.calculationDuration.WithLabelValues(strategy, outcome).Observe(duration.Seconds())
	atomic.AddUint64(&m.calcCount, 1)
	atomic.AddUint64(&m.calcDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordEntity counts an assembled entity by level and status.
func (m *MetricsService) RecordEntity(level models.EntityLevel, status models.EntityStatus) {
	if m == nil {
		return
	}
	m.entityTotal.WithLabelValues(string(level), string(status)).Inc()
	switch status {
	case models.StatusCompleted:
		atomic.AddUint64(&m.completedCount, 1)
	case models.StatusPartial:
		atomic.AddUint64(&m.partialCount, 1)
	default:
		atomic.AddUint64(&m.failedCount, 1)
	}
}

// ObserveBatch records a finished batch and whether it overran its budget.
func (m *MetricsService) ObserveBatch(rows int, duration, budget time.Duration) {
	if m == nil {
		return
	}
	m.rowsTotal.Add(float64(rows))
	atomic.AddUint64(&m.rowsCount, uint64(rows))
	m.batchDuration.Observe(duration.Seconds())
	if budget > 0 && duration > budget {
		m.budgetOverruns.Inc()
		atomic.AddUint64(&m.overrunCount, 1)
	}
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	if m.cacheLatency != nil {
		m.cacheLatency.Observe(duration.Seconds())
	}
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	total := hits + misses
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil || m.cacheWrite == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveDBQuery records database query timing.
func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(label).Observe(duration.Seconds())
	atomic.AddUint64(&m.dbQueryCount, 1)
	atomic.AddUint64(&m.dbQueryDurationTotal, uint64(duration.Nanoseconds()))
}

// Snapshot returns aggregated metrics for logs and the ops endpoint.
func (m *MetricsService) Snapshot() models.EngineMetrics {
	if m == nil {
		return models.EngineMetrics{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	calcs := atomic.LoadUint64(&m.calcCount)
	calcDuration := atomic.LoadUint64(&m.calcDurationTotal)
	dbCount := atomic.LoadUint64(&m.dbQueryCount)
	dbDuration := atomic.LoadUint64(&m.dbQueryDurationTotal)

	var cacheRatio float64
	if total := hits + misses; total > 0 {
		cacheRatio = float64(hits) / float64(total)
	}

	var avgCalcMs float64
	if calcs > 0 {
		avgCalcMs = float64(calcDuration) / float64(calcs) / float64(time.Millisecond)
	}

	var avgDBMs float64
	if dbCount > 0 {
		avgDBMs = float64(dbDuration) / float64(dbCount) / float64(time.Millisecond)
	}

	return models.EngineMetrics{
		CacheHitRatio:                cacheRatio,
		CacheHits:                    hits,
		CacheMisses:                  misses,
		Calculations:                 calcs,
		CalculationFailures:          atomic.LoadUint64(&m.calcFailures),
		AverageCalculationDurationMs: avgCalcMs,
		RowsProcessed:                atomic.LoadUint64(&m.rowsCount),
		EntitiesCompleted:            atomic.LoadUint64(&m.completedCount),
		EntitiesPartial:              atomic.LoadUint64(&m.partialCount),
		EntitiesFailed:               atomic.LoadUint64(&m.failedCount),
		BudgetOverruns:               atomic.LoadUint64(&m.overrunCount),
		DBQueryCount:                 dbCount,
		AverageDBQueryDurationMs:     avgDBMs,
		Goroutines:                   runtime.NumGoroutine(),
		GeneratedAt:                  time.Now().UTC(),
	}
}
