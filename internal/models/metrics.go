package models

import "time"

// EngineMetrics is a point-in-time summary of engine instrumentation.
type EngineMetrics struct {
	CacheHitRatio                float64   `json:"cache_hit_ratio"`
	CacheHits                    uint64    `json:"cache_hits"`
	CacheMisses                  uint64    `json:"cache_misses"`
	Calculations                 uint64    `json:"calculations"`
	CalculationFailures          uint64    `json:"calculation_failures"`
	AverageCalculationDurationMs float64   `json:"average_calculation_duration_ms"`
	RowsProcessed                uint64    `json:"rows_processed"`
	EntitiesCompleted            uint64    `json:"entities_completed"`
	EntitiesPartial              uint64    `json:"entities_partial"`
	EntitiesFailed               uint64    `json:"entities_failed"`
	BudgetOverruns               uint64    `json:"budget_overruns"`
	DBQueryCount                 uint64    `json:"db_query_count"`
	AverageDBQueryDurationMs     float64   `json:"average_db_query_duration_ms"`
	Goroutines                   int       `json:"goroutines"`
	GeneratedAt                  time.Time `json:"generated_at"`
}
