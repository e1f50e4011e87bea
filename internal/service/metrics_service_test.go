package service

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-stats-engine/internal/calculation"
	"github.com/noah-isme/sma-stats-engine/internal/models"
)

var _ calculation.Observer = (*MetricsService)(nil)

func TestMetricsSnapshotAggregatesEngineActivity(t *testing.T) {
	m := NewMetricsService()
	m.ObserveCalculation(calculation.StrategyBasic, 100, 2*time.Millisecond, nil)
	m.ObserveCalculation(calculation.StrategyPercentiles, 100, 4*time.Millisecond, errors.New("boom"))
	m.RecordEntity(models.LevelRegion, models.StatusCompleted)
	m.RecordEntity(models.LevelSchool, models.StatusPartial)
	m.RecordEntity(models.LevelSchool, models.StatusFailed)
	m.ObserveBatch(250, 6*time.Second, 5*time.Second)
	m.ObserveBatch(10, time.Second, 5*time.Second)

	snap := m.Snapshot()
	assert.EqualValues(t, 2, snap.Calculations)
	assert.EqualValues(t, 1, snap.CalculationFailures)
	assert.InDelta(t, 3.0, snap.AverageCalculationDurationMs, 1e-9)
	assert.EqualValues(t, 260, snap.RowsProcessed)
	assert.EqualValues(t, 1, snap.EntitiesCompleted)
	assert.EqualValues(t, 1, snap.EntitiesPartial)
	assert.EqualValues(t, 1, snap.EntitiesFailed)
	assert.EqualValues(t, 1, snap.BudgetOverruns)
}

func TestMetricsHandlerServesCollectors(t *testing.T) {
	m := NewMetricsService()
	m.ObserveCalculation(calculation.StrategyDifficulty, 5, time.Millisecond, nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "stats_calculation_duration_seconds")

	var nilMetrics *MetricsService
	rec = httptest.NewRecorder()
	nilMetrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Zero(t, nilMetrics.Snapshot().Calculations)
}
