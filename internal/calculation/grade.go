package calculation

import (
	"github.com/noah-isme/sma-stats-engine/internal/models"
	appErrors "github.com/noah-isme/sma-stats-engine/pkg/errors"
)

// Grade bands in reporting order.
const (
	GradeExcellent = "excellent"
	GradeGood      = "good"
	GradePass      = "pass"
	GradeFail      = "fail"
)

// GradeBands lists the bands from best to worst.
var GradeBands = []string{GradeExcellent, GradeGood, GradePass, GradeFail}

// rateEpsilon absorbs representation error so that 60/100 lands on the pass boundary.
const rateEpsilon = 1e-9

// GradeBand classifies a score rate with the given thresholds. Lower bounds are inclusive.
func GradeBand(rate float64, t models.GradeThresholds) string {
	switch {
	case rate+rateEpsilon >= t.Excellent:
		return GradeExcellent
	case rate+rateEpsilon >= t.Good:
		return GradeGood
	case rate+rateEpsilon >= t.Pass:
		return GradePass
	default:
		return GradeFail
	}
}

// GradeDistribution counts records per grade band using each record's grade level.
type GradeDistribution struct{}

// ValidateInput requires at least one score with a positive max score.
func (GradeDistribution) ValidateInput(records []models.ScoreRecord, cfg Config) bool {
	for _, r := range records {
		if _, ok := cfg.score(r); ok && cfg.maxScore(r) > 0 {
			return true
		}
	}
	return false
}

// Calculate runs the partial and finalize steps over the whole dataset.
func (s GradeDistribution) Calculate(records []models.ScoreRecord, cfg Config) (*models.CalculationResult, error) {
	p, err := s.Partial(records, cfg)
	if err != nil {
		return nil, err
	}
	return s.Finalize(p, cfg)
}

// Partial counts band membership; counts merge by addition.
func (GradeDistribution) Partial(records []models.ScoreRecord, cfg Config) (Partial, error) {
	grades := cfg.Grades
	if grades == (models.GradeScheme{}) {
		grades = models.DefaultGradeScheme()
	}
	counts := make(map[string]int, len(GradeBands))
	for _, r := range records {
		score, ok := cfg.score(r)
		max := cfg.maxScore(r)
		if !ok || max <= 0 {
			continue
		}
		counts[GradeBand(score/max, grades.For(r.GradeLevel))]++
	}
	return Partial{Counts: counts}, nil
}

// Finalize converts band counts into percentages that sum to one.
func (GradeDistribution) Finalize(p Partial, _ Config) (*models.CalculationResult, error) {
	var total int
	for _, band := range GradeBands {
		total += p.Counts[band]
	}
	if total == 0 {
		return nil, appErrors.Clone(appErrors.ErrInvalidInput, "grade distribution needs at least one rated score")
	}
	res := models.NewCalculationResult(StrategyGradeDistribution)
	res.Metrics["count"] = float64(total)
	for _, band := range GradeBands {
		c := p.Counts[band]
		pct := float64(c) / float64(total)
		res.Bands = append(res.Bands, models.BandCount{Band: band, Count: c, Percentage: pct})
		res.Metrics[band+"_rate"] = pct
	}
	return res, nil
}
