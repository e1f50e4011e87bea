package calculation

import (
	"github.com/montanaflynn/stats"

	"github.com/noah-isme/sma-stats-engine/internal/models"
	appErrors "github.com/noah-isme/sma-stats-engine/pkg/errors"
)

// BasicStatistics reports the descriptive statistics of the targeted score.
type BasicStatistics struct{}

// ValidateInput requires at least one non-missing score.
func (BasicStatistics) ValidateInput(records []models.ScoreRecord, cfg Config) bool {
	return hasValues(records, cfg)
}

// Calculate runs the partial and finalize steps over the whole dataset.
func (s BasicStatistics) Calculate(records []models.ScoreRecord, cfg Config) (*models.CalculationResult, error) {
	p, err := s.Partial(records, cfg)
	if err != nil {
		return nil, err
	}
	return s.Finalize(p, cfg)
}

// Partial keeps the chunk moments plus its sorted values for median and mode.
func (BasicStatistics) Partial(records []models.ScoreRecord, cfg Config) (Partial, error) {
	sorted := sortedValues(records, cfg)
	return Partial{Moments: NewMoments(sorted), Sorted: sorted}, nil
}

// Finalize derives every field from merged moments and the merged sorted sequence.
func (BasicStatistics) Finalize(p Partial, _ Config) (*models.CalculationResult, error) {
	if p.Moments.N == 0 {
		return nil, appErrors.Clone(appErrors.ErrInvalidInput, "basic statistics need at least one score")
	}
	res := models.NewCalculationResult(StrategyBasic)
	describe(res.Metrics, p.Moments, p.Sorted)
	return res, nil
}

// describe writes the basic statistics suite into metrics.
func describe(metrics map[string]float64, m Moments, sorted []float64) {
	metrics["count"] = float64(m.N)
	metrics["sum"] = m.Sum
	metrics["mean"] = m.Mean
	metrics["std"] = m.StdDev()
	metrics["variance"] = m.Variance()
	metrics["min"] = m.Min
	metrics["max"] = m.Max
	metrics["range"] = m.Max - m.Min
	metrics["skewness"] = m.Skewness()
	metrics["kurtosis"] = m.Kurtosis()
	if len(sorted) > 0 {
		if median, err := stats.Median(sorted); err == nil {
			metrics["median"] = median
		}
		metrics["mode"] = modeOf(sorted)
	}
}

// modeOf returns the smallest most frequent value of an ascending slice.
func modeOf(sorted []float64) float64 {
	modes, err := stats.Mode(sorted)
	if err != nil || len(modes) == 0 {
		// every value is unique, so each one is a mode
		return sorted[0]
	}
	best := modes[0]
	for _, v := range modes[1:] {
		if v < best {
			best = v
		}
	}
	return best
}
