package calculation

import (
	"fmt"
	"math"

	"github.com/noah-isme/sma-stats-engine/internal/models"
	appErrors "github.com/noah-isme/sma-stats-engine/pkg/errors"
)

// Percentile reports floor-rank percentiles, the interquartile range and Tukey outliers.
// The floor-rank convention matches the reference spreadsheets and must not be
// replaced with interpolation.
type Percentile struct{}

// FloorPercentile returns the value at floor(n*p/100) of an ascending slice, clamped to [0, n-1].
func FloorPercentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	idx := int(math.Floor(float64(n) * p / 100))
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return sorted[idx]
}

// PercentileKey names a percentile metric, e.g. P90.
func PercentileKey(p int) string {
	return fmt.Sprintf("P%d", p)
}

// ValidateInput requires scores and percentiles within [0,100].
func (Percentile) ValidateInput(records []models.ScoreRecord, cfg Config) bool {
	for _, p := range cfg.Percentiles {
		if p < 0 || p > 100 {
			return false
		}
	}
	return hasValues(records, cfg)
}

// Calculate sorts the full dataset once; percentiles are never merged from chunks.
func (Percentile) Calculate(records []models.ScoreRecord, cfg Config) (*models.CalculationResult, error) {
	sorted := sortedValues(records, cfg)
	if len(sorted) == 0 {
		return nil, appErrors.Clone(appErrors.ErrInvalidInput, "percentiles need at least one score")
	}
	requested := cfg.Percentiles
	if len(requested) == 0 {
		requested = DefaultPercentiles
	}

	res := models.NewCalculationResult(StrategyPercentiles)
	res.Metrics["count"] = float64(len(sorted))
	for _, p := range requested {
		res.Metrics[PercentileKey(p)] = FloorPercentile(sorted, float64(p))
	}

	q1 := FloorPercentile(sorted, 25)
	q3 := FloorPercentile(sorted, 75)
	iqr := q3 - q1
	low, high := q1-1.5*iqr, q3+1.5*iqr
	var below, above int
	for _, v := range sorted {
		switch {
		case v < low:
			below++
		case v > high:
			above++
		}
	}
	res.Metrics["iqr"] = iqr
	res.Metrics["outlier_low_bound"] = low
	res.Metrics["outlier_high_bound"] = high
	res.Metrics["outliers_below"] = float64(below)
	res.Metrics["outliers_above"] = float64(above)
	return res, nil
}
