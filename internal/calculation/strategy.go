package calculation

import (
	"math"
	"sort"

	"github.com/noah-isme/sma-stats-engine/internal/models"
)

// Registered strategy names.
const (
	StrategyBasic             = "basic_statistics"
	StrategyPercentiles       = "percentiles"
	StrategyDifficulty        = "difficulty"
	StrategyDiscrimination    = "discrimination"
	StrategyGradeDistribution = "grade_distribution"
	StrategyDimensions        = "dimension_aggregation"
	StrategyFrequency         = "frequency_analysis"
)

// Strategy is a stateless calculator. Implementations never mutate records.
type Strategy interface {
	Calculate(records []models.ScoreRecord, cfg Config) (*models.CalculationResult, error)
	ValidateInput(records []models.ScoreRecord, cfg Config) bool
}

// Accumulator is a strategy whose work can be split into chunk partials and merged.
type Accumulator interface {
	Strategy
	Partial(records []models.ScoreRecord, cfg Config) (Partial, error)
	Finalize(p Partial, cfg Config) (*models.CalculationResult, error)
}

// Config is the immutable per-call configuration. It is passed by value and its
// slices and maps are treated as read-only.
type Config struct {
	// MaxScore overrides the per-record max score when positive.
	MaxScore float64
	// QuestionID switches every score-based strategy from the total score to this question.
	QuestionID    string
	Percentiles   []int
	GroupFraction float64
	Grades        models.GradeScheme
	Dimensions    []models.DimensionMapping
	Scale         *models.ScaleConfig
	DropAbsent    bool
}

// DefaultPercentiles are reported when none are configured.
var DefaultPercentiles = []int{10, 25, 50, 75, 90}

// DefaultGroupFraction is the classic 27% item-analysis group size.
const DefaultGroupFraction = 0.27

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		Percentiles:   append([]int(nil), DefaultPercentiles...),
		GroupFraction: DefaultGroupFraction,
		Grades:        models.DefaultGradeScheme(),
		DropAbsent:    true,
	}
}

// ForQuestion returns a copy of cfg targeting a single question.
func (c Config) ForQuestion(questionID string, maxScore float64) Config {
	c.QuestionID = questionID
	c.MaxScore = maxScore
	return c
}

// score extracts the targeted score of a record.
func (c Config) score(r models.ScoreRecord) (float64, bool) {
	var (
		v  float64
		ok bool
	)
	if c.QuestionID != "" {
		v, ok = r.Question(c.QuestionID)
	} else {
		v, ok = r.Total()
	}
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// maxScore resolves the maximum attainable score of a record.
func (c Config) maxScore(r models.ScoreRecord) float64 {
	if c.MaxScore > 0 {
		return c.MaxScore
	}
	if c.QuestionID != "" {
		return 0
	}
	return r.MaxScore
}

// values returns the targeted scores, skipping missing ones.
func values(records []models.ScoreRecord, cfg Config) []float64 {
	out := make([]float64, 0, len(records))
	for _, r := range records {
		if v, ok := cfg.score(r); ok {
			out = append(out, v)
		}
	}
	return out
}

// sortedValues returns the targeted scores in ascending order.
func sortedValues(records []models.ScoreRecord, cfg Config) []float64 {
	out := values(records, cfg)
	sort.Float64s(out)
	return out
}

// datasetMax returns the largest max score over the records.
func datasetMax(records []models.ScoreRecord, cfg Config) float64 {
	if cfg.MaxScore > 0 {
		return cfg.MaxScore
	}
	var max float64
	for _, r := range records {
		if m := cfg.maxScore(r); m > max {
			max = m
		}
	}
	return max
}

func hasValues(records []models.ScoreRecord, cfg Config) bool {
	for _, r := range records {
		if _, ok := cfg.score(r); ok {
			return true
		}
	}
	return false
}
