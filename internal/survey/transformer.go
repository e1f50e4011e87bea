package survey

import (
	"fmt"

	"github.com/montanaflynn/stats"

	"github.com/noah-isme/sma-stats-engine/internal/models"
	appErrors "github.com/noah-isme/sma-stats-engine/pkg/errors"
)

// Rules are the respondent quality heuristics.
type Rules struct {
	// StraightLineMax is the longest run of identical consecutive answers tolerated.
	StraightLineMax int
	// CompletionMin is the minimum share of expected questions that must be answered.
	CompletionMin float64
	// VarianceThreshold flags respondents whose answers barely vary.
	VarianceThreshold float64
}

// DefaultRules mirror the questionnaire quality rules used in production.
func DefaultRules() Rules {
	return Rules{StraightLineMax: 10, CompletionMin: 0.8, VarianceThreshold: 0.1}
}

// TransformedRecord is a copy of a survey row with normalized scores and quality flags.
type TransformedRecord struct {
	Record     models.ScoreRecord
	Flags      []models.QualityWarning
	Answered   int
	Expected   int
	OutOfRange int
}

// Flagged reports whether any quality heuristic fired.
func (t TransformedRecord) Flagged() bool {
	return len(t.Flags) > 0
}

// Transformer converts raw Likert responses into normalized scores.
type Transformer struct {
	scale    models.ScaleConfig
	rules    Rules
	expected []string
}

// NewTransformer validates the scale and builds a transformer. expected lists every
// question of the instrument and drives the completion ratio; when empty the
// questions present on each row are used.
func NewTransformer(scale models.ScaleConfig, rules Rules, expected []string) (*Transformer, error) {
	if scale.ScaleLevel < 2 || len(scale.ForwardMap) == 0 {
		return nil, appErrors.Clonef(appErrors.ErrValidation, "scale %q needs at least two levels", scale.InstrumentType)
	}
	if len(scale.ReverseMap) == 0 {
		scale.ReverseMap = models.ReverseOf(scale.ForwardMap, scale.ScaleLevel)
	}
	if rules.StraightLineMax <= 0 {
		rules.StraightLineMax = DefaultRules().StraightLineMax
	}
	if len(expected) == 0 {
		for _, id := range scale.DimensionIDs() {
			expected = append(expected, scale.Dimensions[id].Questions()...)
		}
	}
	return &Transformer{scale: scale, rules: rules, expected: expected}, nil
}

// Scale returns the scale used by the transformer.
func (t *Transformer) Scale() models.ScaleConfig {
	return t.scale
}

// Transform maps one row. The input is never modified: the returned record is a deep copy
// whose question scores are normalized, whose dimension scores are the mean of the
// answered questions of each dimension, and whose total is the mean normalized score.
func (t *Transformer) Transform(rec models.ScoreRecord) TransformedRecord {
	out := rec.Clone()
	result := TransformedRecord{Expected: len(t.expected)}

	normalized := make(map[string]float64, len(out.QuestionScores))
	raw := make([]float64, 0, len(out.QuestionScores))
	runs := make([]*float64, 0, len(out.QuestionScores))

	for i, q := range out.QuestionScores {
		if q.Score == nil {
			runs = append(runs, nil)
			continue
		}
		level, isLevel := models.ResponseLevel(*q.Score)
		v, ok := 0.0, false
		if isLevel {
			v, ok = t.scale.Normalize(q.QuestionID, level)
		}
		if !ok {
			out.QuestionScores[i].Score = nil
			result.OutOfRange++
			runs = append(runs, nil)
			continue
		}
		out.QuestionScores[i].Score = models.Float(v)
		normalized[q.QuestionID] = v
		raw = append(raw, float64(level))
		runs = append(runs, models.Float(float64(level)))
	}
	result.Answered = len(raw)
	if result.Expected == 0 {
		result.Expected = len(out.QuestionScores)
	}

	out.DimensionScores = nil
	for _, id := range t.scale.DimensionIDs() {
		var sum float64
		var n int
		for _, q := range t.scale.Dimensions[id].Questions() {
			if v, ok := normalized[q]; ok {
				sum += v
				n++
			}
		}
		if n > 0 {
			out.DimensionScores = append(out.DimensionScores, models.DimensionScore{DimensionID: id, Score: sum / float64(n)})
		}
	}

	if len(normalized) > 0 {
		var sum float64
		for _, v := range normalized {
			sum += v
		}
		out.TotalScore = models.Float(sum / float64(len(normalized)))
	} else {
		out.TotalScore = nil
	}
	out.MaxScore = t.scale.MaxNormalized()

	result.Record = out
	result.Flags = t.quality(rec, runs, raw, result)
	return result
}

// TransformAll maps every row.
func (t *Transformer) TransformAll(records []models.ScoreRecord) []TransformedRecord {
	out := make([]TransformedRecord, 0, len(records))
	for _, r := range records {
		out = append(out, t.Transform(r))
	}
	return out
}

func (t *Transformer) quality(rec models.ScoreRecord, runs []*float64, raw []float64, tr TransformedRecord) []models.QualityWarning {
	var flags []models.QualityWarning
	flag := func(code, msg string, count int) {
		flags = append(flags, models.QualityWarning{
			Code:      code,
			Message:   msg,
			Count:     count,
			SubjectID: rec.SubjectID,
			StudentID: rec.StudentID,
		})
	}

	if longest := longestRun(runs); longest > t.rules.StraightLineMax {
		flag(models.WarningStraightLining, fmt.Sprintf("%d identical consecutive answers", longest), longest)
	}
	if tr.Expected > 0 {
		completion := float64(tr.Answered) / float64(tr.Expected)
		if completion < t.rules.CompletionMin {
			flag(models.WarningLowCompletion, fmt.Sprintf("answered %d of %d questions", tr.Answered, tr.Expected), tr.Answered)
		}
	}
	if len(raw) >= 2 {
		if variance, err := stats.PopulationVariance(raw); err == nil && variance < t.rules.VarianceThreshold {
			flag(models.WarningLowVariance, fmt.Sprintf("response variance %.3f", variance), len(raw))
		}
	}
	return flags
}

// longestRun counts the longest streak of equal consecutive answers; a missing answer breaks a streak.
func longestRun(values []*float64) int {
	var longest, current int
	var prev *float64
	for _, v := range values {
		switch {
		case v == nil:
			current = 0
		case prev != nil && *prev == *v:
			current++
		default:
			current = 1
		}
		if current > longest {
			longest = current
		}
		prev = v
	}
	return longest
}

// Filter returns the transformed rows to aggregate. Flagged rows are kept unless
// includeFlagged is false.
func Filter(rows []TransformedRecord, includeFlagged bool) []models.ScoreRecord {
	out := make([]models.ScoreRecord, 0, len(rows))
	for _, r := range rows {
		if !includeFlagged && r.Flagged() {
			continue
		}
		out = append(out, r.Record)
	}
	return out
}

// FilterRaw applies the same flag decision to the untransformed rows. raw and
// transformed must be index aligned, as TransformAll returns them.
func FilterRaw(raw []models.ScoreRecord, transformed []TransformedRecord, includeFlagged bool) []models.ScoreRecord {
	out := make([]models.ScoreRecord, 0, len(raw))
	for i, r := range raw {
		if !includeFlagged && i < len(transformed) && transformed[i].Flagged() {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Summarize collapses per-row flags into one warning per code.
func Summarize(rows []TransformedRecord, subjectID string) []models.QualityWarning {
	counts := map[string]int{}
	var order []string
	var outOfRange int
	for _, r := range rows {
		outOfRange += r.OutOfRange
		for _, f := range r.Flags {
			if _, seen := counts[f.Code]; !seen {
				order = append(order, f.Code)
			}
			counts[f.Code]++
		}
	}
	out := make([]models.QualityWarning, 0, len(order)+1)
	for _, code := range order {
		out = append(out, models.QualityWarning{
			Code:      code,
			Message:   fmt.Sprintf("%d respondents flagged for %s", counts[code], code),
			Count:     counts[code],
			SubjectID: subjectID,
		})
	}
	if outOfRange > 0 {
		out = append(out, models.QualityWarning{
			Code:      models.WarningOutOfRange,
			Message:   fmt.Sprintf("%d responses outside the scale were excluded", outOfRange),
			Count:     outOfRange,
			SubjectID: subjectID,
		})
	}
	return out
}
