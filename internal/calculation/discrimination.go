package calculation

import (
	"fmt"
	"math"

	"github.com/noah-isme/sma-stats-engine/internal/models"
	appErrors "github.com/noah-isme/sma-stats-engine/pkg/errors"
)

// Discrimination bands.
const (
	DiscriminationExcellent  = "excellent"
	DiscriminationGood       = "good"
	DiscriminationAcceptable = "acceptable"
	DiscriminationPoor       = "poor"
)

// smallSample is the population below which group statistics are flagged as unreliable.
const smallSample = 10

// DiscriminationLevel classifies a discrimination index.
func DiscriminationLevel(d float64) string {
	switch {
	case d >= 0.4:
		return DiscriminationExcellent
	case d >= 0.3:
		return DiscriminationGood
	case d >= 0.2:
		return DiscriminationAcceptable
	default:
		return DiscriminationPoor
	}
}

// GroupSize returns ceil(n*fraction), at least 1 and at most n. The epsilon keeps
// products such as 100*0.27 from rounding up past the exact integer.
func GroupSize(n int, fraction float64) int {
	if n <= 0 {
		return 0
	}
	g := int(math.Ceil(float64(n)*fraction - 1e-9))
	if g < 1 {
		g = 1
	}
	if g > n {
		g = n
	}
	return g
}

// Discrimination compares the means of the top and bottom score groups.
type Discrimination struct{}

func groupFraction(cfg Config) float64 {
	if cfg.GroupFraction == 0 {
		return DefaultGroupFraction
	}
	return cfg.GroupFraction
}

// ValidateInput requires scores, a positive max score and a fraction in (0, 0.5].
func (Discrimination) ValidateInput(records []models.ScoreRecord, cfg Config) bool {
	f := groupFraction(cfg)
	if f <= 0 || f > 0.5 {
		return false
	}
	return hasValues(records, cfg) && datasetMax(records, cfg) > 0
}

// Calculate needs the full ordering of scores, so it always runs single pass.
func (Discrimination) Calculate(records []models.ScoreRecord, cfg Config) (*models.CalculationResult, error) {
	sorted := sortedValues(records, cfg)
	max := datasetMax(records, cfg)
	if len(sorted) == 0 || max <= 0 {
		return nil, appErrors.Clone(appErrors.ErrInvalidInput, "discrimination needs scores and a positive max score")
	}

	n := len(sorted)
	g := GroupSize(n, groupFraction(cfg))

	// ascending slice: bottom group at the front, top group at the back
	bottom := NewMoments(sorted[:g])
	top := NewMoments(sorted[n-g:])
	index := (top.Mean - bottom.Mean) / max

	res := models.NewCalculationResult(StrategyDiscrimination)
	res.Metrics["count"] = float64(n)
	res.Metrics["group_size"] = float64(g)
	res.Metrics["top_mean"] = top.Mean
	res.Metrics["bottom_mean"] = bottom.Mean
	res.Metrics["max_score"] = max
	res.Metrics["discrimination_index"] = index
	res.Labels["discrimination_level"] = DiscriminationLevel(index)

	if 2*g > n {
		res.Warn(models.WarningGroupOverlap, fmt.Sprintf("top and bottom groups of %d overlap in %d scores", g, n), 2*g-n)
	}
	if n < smallSample {
		res.Warn(models.WarningSmallSample, fmt.Sprintf("discrimination computed from %d scores", n), n)
	}
	return res, nil
}
