package calculation

import (
	"sort"

	"github.com/noah-isme/sma-stats-engine/internal/models"
	appErrors "github.com/noah-isme/sma-stats-engine/pkg/errors"
)

// FrequencyAnalysis counts raw survey responses per option for every question.
// It expects untransformed responses.
type FrequencyAnalysis struct{}

// ValidateInput requires rows carrying question responses.
func (FrequencyAnalysis) ValidateInput(records []models.ScoreRecord, _ Config) bool {
	for _, r := range records {
		if len(r.QuestionScores) > 0 {
			return true
		}
	}
	return false
}

type questionTally struct {
	counts  map[int]int
	valid   int
	missing int
}

// Calculate builds per-question and per-dimension option distributions.
func (FrequencyAnalysis) Calculate(records []models.ScoreRecord, cfg Config) (*models.CalculationResult, error) {
	questions := questionOrder(records, cfg)
	if len(questions) == 0 {
		return nil, appErrors.Clone(appErrors.ErrInvalidInput, "frequency analysis needs question responses")
	}

	var levels map[int]bool
	if cfg.Scale != nil && len(cfg.Scale.ForwardMap) > 0 {
		levels = make(map[int]bool, len(cfg.Scale.ForwardMap))
		for level := range cfg.Scale.ForwardMap {
			levels[level] = true
		}
	}

	tallies := make(map[string]*questionTally, len(questions))
	for _, q := range questions {
		tallies[q] = &questionTally{counts: map[int]int{}}
	}
	for _, r := range records {
		for _, q := range questions {
			t := tallies[q]
			v, answered := r.Question(q)
			option, ok := models.ResponseLevel(v)
			if !answered || !ok || (levels != nil && !levels[option]) {
				t.missing++
				continue
			}
			t.counts[option]++
			t.valid++
		}
	}

	total := len(records)
	res := models.NewCalculationResult(StrategyFrequency)
	var answered int
	for _, q := range questions {
		t := tallies[q]
		answered += t.valid
		res.Questions = append(res.Questions, models.QuestionFrequency{
			QuestionID:   q,
			Options:      optionCounts(t.counts, levels, cfg.Scale, total, t.valid),
			Total:        total,
			Valid:        t.valid,
			Missing:      t.missing,
			ResponseRate: ratio(t.valid, total),
		})
	}

	for _, dim := range frequencyDimensions(cfg) {
		pooled := map[int]int{}
		var valid int
		for _, q := range dim.questions {
			t, ok := tallies[q]
			if !ok {
				continue
			}
			for option, c := range t.counts {
				pooled[option] += c
			}
			valid += t.valid
		}
		res.DimensionOptions = append(res.DimensionOptions, models.DimensionFrequency{
			DimensionID: dim.id,
			Options:     optionCounts(pooled, levels, cfg.Scale, valid, valid),
			Valid:       valid,
		})
	}

	res.Metrics["respondents"] = float64(total)
	res.Metrics["question_count"] = float64(len(questions))
	res.Metrics["response_rate"] = ratio(answered, total*len(questions))
	return res, nil
}

func optionCounts(counts map[int]int, levels map[int]bool, scale *models.ScaleConfig, total, valid int) []models.OptionCount {
	options := make([]int, 0, len(counts))
	if levels != nil {
		for level := range levels {
			options = append(options, level)
		}
	} else {
		for option := range counts {
			options = append(options, option)
		}
	}
	sort.Ints(options)

	out := make([]models.OptionCount, 0, len(options))
	for _, option := range options {
		oc := models.OptionCount{
			Option:          option,
			Count:           counts[option],
			Percentage:      ratio(counts[option], total),
			ValidPercentage: ratio(counts[option], valid),
		}
		if scale != nil {
			oc.Label = scale.Label(option)
		}
		out = append(out, oc)
	}
	return out
}

// questionOrder lists questions by first appearance, then configured questions never answered.
func questionOrder(records []models.ScoreRecord, cfg Config) []string {
	seen := map[string]bool{}
	var order []string
	add := func(q string) {
		if q != "" && !seen[q] {
			seen[q] = true
			order = append(order, q)
		}
	}
	for _, r := range records {
		for _, q := range r.QuestionScores {
			add(q.QuestionID)
		}
	}
	for _, dim := range frequencyDimensions(cfg) {
		for _, q := range dim.questions {
			add(q)
		}
	}
	return order
}

type dimensionQuestions struct {
	id        string
	questions []string
}

func frequencyDimensions(cfg Config) []dimensionQuestions {
	var out []dimensionQuestions
	seen := map[string]bool{}
	if cfg.Scale != nil {
		for _, id := range cfg.Scale.DimensionIDs() {
			seen[id] = true
			out = append(out, dimensionQuestions{id: id, questions: cfg.Scale.Dimensions[id].Questions()})
		}
	}
	for _, dim := range cfg.Dimensions {
		if seen[dim.DimensionID] {
			continue
		}
		out = append(out, dimensionQuestions{id: dim.DimensionID, questions: dim.QuestionIDs})
	}
	return out
}

func ratio(part, whole int) float64 {
	if whole <= 0 {
		return 0
	}
	return float64(part) / float64(whole)
}
