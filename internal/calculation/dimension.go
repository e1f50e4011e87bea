package calculation

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/noah-isme/sma-stats-engine/internal/models"
	appErrors "github.com/noah-isme/sma-stats-engine/pkg/errors"
)

// Correlation strength labels.
const (
	CorrelationWeak     = "weak"
	CorrelationModerate = "moderate"
	CorrelationStrong   = "strong"
)

// minCorrelationPairs is the smallest paired sample a coefficient is reported for.
const minCorrelationPairs = 3

// CorrelationStrength labels the absolute value of a Pearson coefficient.
func CorrelationStrength(r float64) string {
	a := math.Abs(r)
	switch {
	case a < 0.3:
		return CorrelationWeak
	case a < 0.7:
		return CorrelationModerate
	default:
		return CorrelationStrong
	}
}

// DimensionScore resolves one student's score for a dimension: the precomputed value
// when present, otherwise the weighted mean of the answered constituent questions.
func DimensionScore(r models.ScoreRecord, dim models.DimensionMapping) (float64, bool) {
	if v, ok := r.Dimension(dim.DimensionID); ok {
		return v, true
	}
	xs := make([]float64, 0, len(dim.QuestionIDs))
	ws := make([]float64, 0, len(dim.QuestionIDs))
	for _, q := range dim.QuestionIDs {
		v, ok := r.Question(q)
		w := dim.QuestionWeight(q)
		if !ok || w <= 0 {
			continue
		}
		xs = append(xs, v)
		ws = append(ws, w)
	}
	if len(xs) == 0 {
		return 0, false
	}
	return stat.Mean(xs, ws), true
}

// DimensionAggregator computes per-dimension statistics and cross-dimension correlations.
type DimensionAggregator struct{}

// ValidateInput requires rows and at least one configured dimension.
func (DimensionAggregator) ValidateInput(records []models.ScoreRecord, cfg Config) bool {
	return len(records) > 0 && len(cfg.Dimensions) > 0
}

// Calculate needs aligned per-student columns for correlations, so it runs single pass.
func (DimensionAggregator) Calculate(records []models.ScoreRecord, cfg Config) (*models.CalculationResult, error) {
	res := models.NewCalculationResult(StrategyDimensions)
	columns := make(map[string][]float64, len(cfg.Dimensions))
	var rates, weights []float64

	for _, dim := range cfg.Dimensions {
		col := make([]float64, len(records))
		present := make([]float64, 0, len(records))
		for i, r := range records {
			if v, ok := DimensionScore(r, dim); ok {
				col[i] = v
				present = append(present, v)
			} else {
				col[i] = math.NaN()
			}
		}
		if len(present) == 0 {
			res.Warn(models.WarningNoData, fmt.Sprintf("dimension %s has no scores", dim.DimensionID), 0)
			continue
		}
		sort.Float64s(present)

		ds := models.DimensionStatistics{
			DimensionID:   dim.DimensionID,
			DimensionName: dim.DisplayName(),
			MaxScore:      dim.MaxScore,
			Weight:        dim.EffectiveWeight(),
			Metrics:       map[string]float64{},
		}
		describe(ds.Metrics, NewMoments(present), present)
		ds.WeightedMean = ds.Mean() * ds.Weight
		if dim.MaxScore > 0 {
			ds.ScoreRate = clamp01(ds.Mean() / dim.MaxScore)
			rates = append(rates, ds.ScoreRate)
			weights = append(weights, ds.Weight)
		}
		if alpha, ok := dimensionReliability(records, dim); ok {
			ds.Reliability = &alpha
		}
		res.Dimensions = append(res.Dimensions, ds)
		columns[dim.DimensionID] = col
	}

	if len(res.Dimensions) == 0 {
		return nil, appErrors.Clone(appErrors.ErrInvalidInput, "no configured dimension has scores")
	}
	res.Metrics["dimension_count"] = float64(len(res.Dimensions))
	// weighted_score_rate combines dimensions on a common 0-1 scale.
	if len(rates) > 0 {
		res.Metrics["weighted_score_rate"] = stat.Mean(rates, weights)
	}

	for i := 0; i < len(res.Dimensions); i++ {
		for j := i + 1; j < len(res.Dimensions); j++ {
			a, b := res.Dimensions[i].DimensionID, res.Dimensions[j].DimensionID
			if c, ok := pearson(columns[a], columns[b]); ok {
				c.DimensionA, c.DimensionB = a, b
				res.Correlations = append(res.Correlations, c)
			}
		}
	}
	return res, nil
}

func pearson(a, b []float64) (models.DimensionCorrelation, bool) {
	xs := make([]float64, 0, len(a))
	ys := make([]float64, 0, len(b))
	for i := range a {
		if math.IsNaN(a[i]) || math.IsNaN(b[i]) {
			continue
		}
		xs = append(xs, a[i])
		ys = append(ys, b[i])
	}
	if len(xs) < minCorrelationPairs {
		return models.DimensionCorrelation{}, false
	}
	r := stat.Correlation(xs, ys, nil)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return models.DimensionCorrelation{}, false
	}
	return models.DimensionCorrelation{Coefficient: r, Strength: CorrelationStrength(r), Pairs: len(xs)}, true
}

func dimensionReliability(records []models.ScoreRecord, dim models.DimensionMapping) (float64, bool) {
	if len(dim.QuestionIDs) < 2 {
		return 0, false
	}
	matrix := make([][]float64, 0, len(records))
	for _, r := range records {
		row := make([]float64, 0, len(dim.QuestionIDs))
		for _, q := range dim.QuestionIDs {
			v, ok := r.Question(q)
			if !ok {
				break
			}
			row = append(row, v)
		}
		if len(row) == len(dim.QuestionIDs) {
			matrix = append(matrix, row)
		}
	}
	return CronbachAlpha(matrix)
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
