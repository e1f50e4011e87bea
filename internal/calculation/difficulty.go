package calculation

import (
	"github.com/noah-isme/sma-stats-engine/internal/models"
	appErrors "github.com/noah-isme/sma-stats-engine/pkg/errors"
)

// Difficulty bands.
const (
	DifficultyEasy   = "easy"
	DifficultyMedium = "medium"
	DifficultyHard   = "hard"
)

// DifficultyLevel classifies a difficulty coefficient.
func DifficultyLevel(d float64) string {
	switch {
	case d > 0.7:
		return DifficultyEasy
	case d >= 0.3:
		return DifficultyMedium
	default:
		return DifficultyHard
	}
}

// Difficulty computes mean(score) / max_score.
type Difficulty struct{}

// ValidateInput requires scores and a positive max score.
func (Difficulty) ValidateInput(records []models.ScoreRecord, cfg Config) bool {
	return hasValues(records, cfg) && datasetMax(records, cfg) > 0
}

// Calculate runs the partial and finalize steps over the whole dataset.
func (s Difficulty) Calculate(records []models.ScoreRecord, cfg Config) (*models.CalculationResult, error) {
	p, err := s.Partial(records, cfg)
	if err != nil {
		return nil, err
	}
	return s.Finalize(p, cfg)
}

// Partial keeps count, sum and the largest max score of the chunk.
func (Difficulty) Partial(records []models.ScoreRecord, cfg Config) (Partial, error) {
	return Partial{Moments: NewMoments(values(records, cfg)), MaxScore: datasetMax(records, cfg)}, nil
}

// Finalize divides the merged mean by the max score.
func (Difficulty) Finalize(p Partial, _ Config) (*models.CalculationResult, error) {
	if p.Moments.N == 0 || p.MaxScore <= 0 {
		return nil, appErrors.Clone(appErrors.ErrInvalidInput, "difficulty needs scores and a positive max score")
	}
	d := p.Moments.Mean / p.MaxScore
	res := models.NewCalculationResult(StrategyDifficulty)
	res.Metrics["count"] = float64(p.Moments.N)
	res.Metrics["mean"] = p.Moments.Mean
	res.Metrics["max_score"] = p.MaxScore
	res.Metrics["difficulty"] = d
	res.Labels["difficulty_level"] = DifficultyLevel(d)
	return res, nil
}
