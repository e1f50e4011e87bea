package service

import (
	"sort"
	"strconv"
	"strings"

	"github.com/montanaflynn/stats"

	"github.com/noah-isme/sma-stats-engine/internal/calculation"
	"github.com/noah-isme/sma-stats-engine/internal/dto"
	"github.com/noah-isme/sma-stats-engine/internal/models"
	appErrors "github.com/noah-isme/sma-stats-engine/pkg/errors"
	"github.com/noah-isme/sma-stats-engine/pkg/precision"
)

// RankingService orders sibling entities by a metric or a weighted set of metrics.
type RankingService struct{}

// NewRankingService constructs the ranking service.
func NewRankingService() *RankingService {
	return &RankingService{}
}

// DenseRank sorts entries by value descending and assigns dense ranks: equal values
// (compared after rounding to two decimals) share a rank and the next distinct value
// takes the following rank, so [80, 80, 75] ranks [1, 1, 2]. Ties are ordered by
// entity id so the result does not depend on input order. The input is not modified.
func (s *RankingService) DenseRank(entries []models.RankingEntry) []models.RankingEntry {
	ranked := make([]models.RankingEntry, len(entries))
	for i, e := range entries {
		e.Value = precision.RankValue(e.Value)
		ranked[i] = e
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Value != ranked[j].Value {
			return ranked[i].Value > ranked[j].Value
		}
		return ranked[i].EntityID < ranked[j].EntityID
	})

	rank := 0
	for i := range ranked {
		if i == 0 || ranked[i].Value != ranked[i-1].Value {
			rank++
		}
		ranked[i].Rank = rank
	}
	return ranked
}

// RankOf returns the rank of entityID in ranked entries.
func RankOf(ranked []models.RankingEntry, entityID string) (int, bool) {
	for _, e := range ranked {
		if e.EntityID == entityID {
			return e.Rank, true
		}
	}
	return 0, false
}

// Ranking fields a school can be ordered by.
const (
	RankFieldAvgScore      = "avg_score"
	RankFieldExcellentRate = "excellent_rate"
	RankFieldPassRate      = "pass_rate"
)

// Rank categories by percentile position.
const (
	RankTop10        = "top_10_percent"
	RankTop25        = "top_25_percent"
	RankAboveAverage = "above_average"
	RankBelowAverage = "below_average"
	RankBottom25     = "bottom_25_percent"
)

// RankWeight is one field of a composite ranking.
type RankWeight struct {
	Field  string  `json:"field"`
	Weight float64 `json:"weight"`
}

// DefaultRankWeights ranks by the subject mean alone.
func DefaultRankWeights() []RankWeight {
	return []RankWeight{{Field: RankFieldAvgScore, Weight: 1}}
}

// ParseRankWeights reads "field" or "field:weight" items. A lone field gets weight 1.
func ParseRankWeights(items []string) ([]RankWeight, error) {
	var out []RankWeight
	for _, item := range items {
		field, raw, hasWeight := strings.Cut(strings.TrimSpace(item), ":")
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		if !knownRankField(field) {
			return nil, appErrors.Clonef(appErrors.ErrValidation, "unknown ranking field %q", field)
		}
		w := RankWeight{Field: field, Weight: 1}
		if hasWeight {
			v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
			if err != nil || v <= 0 {
				return nil, appErrors.Clonef(appErrors.ErrValidation, "invalid weight for ranking field %q", field)
			}
			w.Weight = v
		}
		out = append(out, w)
	}
	if len(out) == 0 {
		return DefaultRankWeights(), nil
	}
	return out, nil
}

func knownRankField(field string) bool {
	switch field {
	case RankFieldAvgScore, RankFieldExcellentRate, RankFieldPassRate:
		return true
	}
	return false
}

// RankCandidate is one sibling entity with the calculation results of a subject.
type RankCandidate struct {
	EntityID   string
	EntityName string
	Results    map[string]*models.CalculationResult
}

// RankFieldValue extracts a ranking field from calculation results. Pass rate counts
// every band at or above pass.
func RankFieldValue(results map[string]*models.CalculationResult, field string) (float64, bool) {
	metric := func(strategy, name string) (float64, bool) {
		v, err := results[strategy].Metric(name)
		return v, err == nil
	}
	switch field {
	case RankFieldAvgScore:
		return metric(calculation.StrategyBasic, "mean")
	case RankFieldExcellentRate:
		return metric(calculation.StrategyGradeDistribution, calculation.GradeExcellent+"_rate")
	case RankFieldPassRate:
		var sum float64
		for _, band := range []string{calculation.GradeExcellent, calculation.GradeGood, calculation.GradePass} {
			v, ok := metric(calculation.StrategyGradeDistribution, band+"_rate")
			if !ok {
				return 0, false
			}
			sum += v
		}
		return sum, true
	}
	return 0, false
}

// Rank orders candidates by the weighted fields. A single field drops candidates
// lacking it; a composite counts a missing field as zero and drops only candidates
// with no field at all.
func (s *RankingService) Rank(candidates []RankCandidate, weights []RankWeight) []models.RankingEntry {
	if len(weights) == 0 {
		weights = DefaultRankWeights()
	}
	entries := make([]models.RankingEntry, 0, len(candidates))
	for _, c := range candidates {
		var value float64
		var found int
		for _, w := range weights {
			v, ok := RankFieldValue(c.Results, w.Field)
			if !ok {
				continue
			}
			if len(weights) > 1 {
				v *= w.Weight
			}
			value += v
			found++
		}
		if found == 0 {
			continue
		}
		entries = append(entries, models.RankingEntry{EntityID: c.EntityID, EntityName: c.EntityName, Value: value})
	}
	return s.Position(s.DenseRank(entries))
}

// Position annotates ranked entries with their percentile position, the share of
// entities at or below the rank, and the matching category.
func (s *RankingService) Position(ranked []models.RankingEntry) []models.RankingEntry {
	total := len(ranked)
	for i := range ranked {
		pct := float64(total-ranked[i].Rank+1) / float64(total)
		ranked[i].Percentile = precision.PercentOf(pct)
		ranked[i].Category = rankCategory(pct)
	}
	return ranked
}

func rankCategory(pct float64) string {
	switch {
	case pct >= 0.9:
		return RankTop10
	case pct >= 0.75:
		return RankTop25
	case pct >= 0.5:
		return RankAboveAverage
	case pct >= 0.25:
		return RankBelowAverage
	default:
		return RankBottom25
	}
}

// Distribution slices ranked entries by list position: [0,10%), [0,25%), [25%,75%)
// and [75%,100%], with bounds truncated to whole entries.
func (s *RankingService) Distribution(ranked []models.RankingEntry) *dto.RankDistribution {
	if len(ranked) == 0 {
		return nil
	}
	values := make([]float64, len(ranked))
	for i, e := range ranked {
		values[i] = e.Value
	}
	d := &dto.RankDistribution{Total: len(ranked)}
	d.Mean, _ = stats.Mean(values)
	d.Median, _ = stats.Median(values)
	d.Min, _ = stats.Min(values)
	d.Max, _ = stats.Max(values)
	if len(values) > 1 {
		d.StdDev, _ = stats.StandardDeviationSample(values)
	}
	for _, v := range []*float64{&d.Mean, &d.Median, &d.StdDev, &d.Min, &d.Max} {
		*v = precision.Round(*v, 2)
	}

	slice := func(from, to float64) []string {
		start, end := int(from*float64(len(ranked))), int(to*float64(len(ranked)))
		ids := make([]string, 0, end-start)
		for _, e := range ranked[start:end] {
			ids = append(ids, e.EntityID)
		}
		return ids
	}
	d.Top10 = slice(0, 0.1)
	d.Top25 = slice(0, 0.25)
	d.Middle50 = slice(0.25, 0.75)
	d.Bottom25 = slice(0.75, 1)
	return d
}
