package models

import (
	"math"
	"sort"
)

// QuestionWeight overrides the default weight of 1.0 for a question inside a dimension.
type QuestionWeight struct {
	QuestionID string  `json:"question_id" mapstructure:"question_id" validate:"required"`
	Weight     float64 `json:"weight" mapstructure:"weight" validate:"gte=0"`
}

// DimensionMapping groups the questions that make up one dimension of a subject.
type DimensionMapping struct {
	DimensionID   string           `json:"dimension_id" mapstructure:"dimension_id" validate:"required"`
	DimensionName string           `json:"dimension_name" mapstructure:"dimension_name"`
	QuestionIDs   []string         `json:"question_ids" mapstructure:"question_ids"`
	Weights       []QuestionWeight `json:"weights" mapstructure:"weights" validate:"dive"`
	MaxScore      float64          `json:"max_score" mapstructure:"max_score" validate:"gt=0"`
	Weight        float64          `json:"weight" mapstructure:"weight" validate:"gte=0"`
}

// QuestionWeight returns the configured weight of questionID, defaulting to 1.
func (d DimensionMapping) QuestionWeight(questionID string) float64 {
	for _, w := range d.Weights {
		if w.QuestionID == questionID {
			return w.Weight
		}
	}
	return 1
}

// EffectiveWeight is the weight of the dimension inside its subject. Zero means
// unset and weighs 1.
func (d DimensionMapping) EffectiveWeight() float64 {
	if d.Weight > 0 {
		return d.Weight
	}
	return 1
}

// DisplayName falls back to the id when no name was configured.
func (d DimensionMapping) DisplayName() string {
	if d.DimensionName != "" {
		return d.DimensionName
	}
	return d.DimensionID
}

// ScaleDimension lists the forward and reverse scored questions of a survey dimension.
type ScaleDimension struct {
	ForwardQuestions []string `json:"forward_questions"`
	ReverseQuestions []string `json:"reverse_questions"`
}

// Questions returns forward questions followed by reverse questions.
func (d ScaleDimension) Questions() []string {
	out := make([]string, 0, len(d.ForwardQuestions)+len(d.ReverseQuestions))
	out = append(out, d.ForwardQuestions...)
	return append(out, d.ReverseQuestions...)
}

// ScaleConfig describes a Likert instrument.
type ScaleConfig struct {
	InstrumentType string                    `json:"instrument_type"`
	ScaleLevel     int                       `json:"scale_level"`
	ForwardMap     map[int]float64           `json:"forward_map"`
	ReverseMap     map[int]float64           `json:"reverse_map"`
	Dimensions     map[string]ScaleDimension `json:"dimensions"`
	OptionLabels   map[int]string            `json:"option_labels,omitempty"`
}

// Instrument types known to the label catalogue.
const (
	InstrumentLikert4 = "likert_4"
	InstrumentLikert5 = "likert_5"
	InstrumentScale10 = "scale_10"
)

var defaultOptionLabels = map[string]map[int]string{
	InstrumentLikert4: {1: "strongly_disagree", 2: "disagree", 3: "agree", 4: "strongly_agree"},
	InstrumentLikert5: {1: "strongly_disagree", 2: "disagree", 3: "neutral", 4: "agree", 5: "strongly_agree"},
}

// NewLikertScale builds a scale whose forward map is the identity over 1..level.
func NewLikertScale(instrumentType string, level int) ScaleConfig {
	forward := make(map[int]float64, level)
	for r := 1; r <= level; r++ {
		forward[r] = float64(r)
	}
	scale := ScaleConfig{
		InstrumentType: instrumentType,
		ScaleLevel:     level,
		ForwardMap:     forward,
		ReverseMap:     ReverseOf(forward, level),
		Dimensions:     map[string]ScaleDimension{},
	}
	if labels, ok := defaultOptionLabels[instrumentType]; ok {
		scale.OptionLabels = labels
	}
	return scale
}

// ReverseOf mirrors a forward map so that reverse[r] = forward[level+1-r].
func ReverseOf(forward map[int]float64, level int) map[int]float64 {
	reverse := make(map[int]float64, len(forward))
	for r := 1; r <= level; r++ {
		if v, ok := forward[level+1-r]; ok {
			reverse[r] = v
		}
	}
	return reverse
}

// IsReverse reports whether questionID is reverse scored in any dimension.
func (s ScaleConfig) IsReverse(questionID string) bool {
	for _, dim := range s.Dimensions {
		for _, q := range dim.ReverseQuestions {
			if q == questionID {
				return true
			}
		}
	}
	return false
}

// ResponseLevel reports the option a raw response selects. Fractional and
// non-finite values select no option.
func ResponseLevel(v float64) (int, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
		return 0, false
	}
	return int(v), true
}

// Normalize maps a raw response onto the scale. Unknown levels are reported as not ok.
func (s ScaleConfig) Normalize(questionID string, raw int) (float64, bool) {
	table := s.ForwardMap
	if s.IsReverse(questionID) {
		table = s.ReverseMap
	}
	v, ok := table[raw]
	return v, ok
}

// MaxNormalized returns the largest score the forward map can produce.
func (s ScaleConfig) MaxNormalized() float64 {
	var max float64
	for _, v := range s.ForwardMap {
		if v > max {
			max = v
		}
	}
	return max
}

// Levels returns the response levels in ascending order.
func (s ScaleConfig) Levels() []int {
	levels := make([]int, 0, len(s.ForwardMap))
	for level := range s.ForwardMap {
		levels = append(levels, level)
	}
	sort.Ints(levels)
	return levels
}

// Label returns the option label for level, if any.
func (s ScaleConfig) Label(level int) string {
	if s.OptionLabels == nil {
		return ""
	}
	return s.OptionLabels[level]
}

// DimensionIDs returns the dimension ids in a stable order.
func (s ScaleConfig) DimensionIDs() []string {
	ids := make([]string, 0, len(s.Dimensions))
	for id := range s.Dimensions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GradeThresholds are the score-rate lower bounds of the excellent, good and pass bands.
type GradeThresholds struct {
	Excellent float64 `json:"excellent" mapstructure:"excellent" validate:"gt=0,lte=1"`
	Good      float64 `json:"good" mapstructure:"good" validate:"gt=0,lte=1"`
	Pass      float64 `json:"pass" mapstructure:"pass" validate:"gt=0,lte=1"`
}

// GradeScheme selects thresholds by grade level.
type GradeScheme struct {
	Primary GradeThresholds `json:"primary" mapstructure:"primary"`
	Middle  GradeThresholds `json:"middle" mapstructure:"middle"`
}

// DefaultGradeScheme returns the primary (1-6) and middle (7-9) school bands.
func DefaultGradeScheme() GradeScheme {
	return GradeScheme{
		Primary: GradeThresholds{Excellent: 0.85, Good: 0.70, Pass: 0.60},
		Middle:  GradeThresholds{Excellent: 0.80, Good: 0.70, Pass: 0.60},
	}
}

// KnownGradeLevel reports whether level has its own band set (1-6 primary, 7-9 middle).
func KnownGradeLevel(level int) bool {
	return level >= 1 && level <= 9
}

// For returns the thresholds for a grade level. Levels outside 1-9 fall back to the
// nearest band set; validation reports them as unknown_grade_level.
func (g GradeScheme) For(level int) GradeThresholds {
	if level >= 7 {
		return g.Middle
	}
	return g.Primary
}

// QuestionConfig carries per-question metadata needed for item analysis.
type QuestionConfig struct {
	QuestionID string  `json:"question_id" mapstructure:"question_id" validate:"required"`
	MaxScore   float64 `json:"max_score" mapstructure:"max_score" validate:"gte=0"`
}

// SubjectConfig is the calculation configuration for one subject of a batch.
type SubjectConfig struct {
	SubjectID   string             `json:"subject_id" validate:"required"`
	SubjectName string             `json:"subject_name"`
	MaxScore    float64            `json:"max_score" validate:"gte=0"`
	Questions   []QuestionConfig   `json:"questions" validate:"dive"`
	Dimensions  []DimensionMapping `json:"dimensions" validate:"dive"`
	Scale       *ScaleConfig       `json:"scale,omitempty"`
}

// QuestionMax returns the configured maximum of questionID.
func (s SubjectConfig) QuestionMax(questionID string) (float64, bool) {
	for _, q := range s.Questions {
		if q.QuestionID == questionID && q.MaxScore > 0 {
			return q.MaxScore, true
		}
	}
	return 0, false
}

// Bundle is the immutable configuration snapshot used for one calculation run.
type Bundle struct {
	Version  string          `json:"version"`
	Subjects []SubjectConfig `json:"subjects" validate:"dive"`
	Grades   GradeScheme     `json:"grades"`
}

// Subject looks up the configuration of subjectID.
func (b Bundle) Subject(subjectID string) (SubjectConfig, bool) {
	for _, s := range b.Subjects {
		if s.SubjectID == subjectID {
			return s, true
		}
	}
	return SubjectConfig{}, false
}
