package models

import (
	"time"

	"github.com/noah-isme/sma-stats-engine/internal/dto"
	appErrors "github.com/noah-isme/sma-stats-engine/pkg/errors"
)

// Warning codes recorded as data quality warnings.
const (
	WarningRejectedRow     = "rejected_row"
	WarningOutOfRange      = "out_of_range"
	WarningLowCompleteness = "low_completeness"
	WarningStraightLining  = "straight_lining"
	WarningLowCompletion   = "low_completion"
	WarningLowVariance     = "low_variance"
	WarningGroupOverlap    = "group_overlap"
	WarningSmallSample     = "small_sample"
	WarningNoData          = "no_data"
	WarningUnknownDim      = "unknown_dimension"
	WarningSkipped         = "strategy_skipped"
	WarningGradeLevel      = "unknown_grade_level"
)

// QualityWarning is a data quality issue recorded alongside results. It never aborts a calculation.
type QualityWarning struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Count     int    `json:"count,omitempty"`
	SubjectID string `json:"subject_id,omitempty"`
	StudentID string `json:"student_id,omitempty"`
}

// BandCount is the population of one category band.
type BandCount struct {
	Band       string  `json:"band"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// DimensionStatistics holds the basic statistics suite of one dimension.
type DimensionStatistics struct {
	DimensionID   string             `json:"dimension_id"`
	DimensionName string             `json:"dimension_name"`
	MaxScore      float64            `json:"max_score"`
	ScoreRate     float64            `json:"score_rate"`
	Weight        float64            `json:"weight"`
	WeightedMean  float64            `json:"weighted_mean"`
	Metrics       map[string]float64 `json:"metrics"`
	Reliability   *float64           `json:"reliability,omitempty"`
}

// Mean returns the dimension average.
func (d DimensionStatistics) Mean() float64 {
	return d.Metrics["mean"]
}

// DimensionCorrelation is the Pearson coefficient between two dimensions.
type DimensionCorrelation struct {
	DimensionA  string  `json:"dimension_a"`
	DimensionB  string  `json:"dimension_b"`
	Coefficient float64 `json:"coefficient"`
	Strength    string  `json:"strength"`
	Pairs       int     `json:"pairs"`
}

// OptionCount is the frequency of one response option.
type OptionCount struct {
	Option          int     `json:"option"`
	Label           string  `json:"label,omitempty"`
	Count           int     `json:"count"`
	Percentage      float64 `json:"percentage"`
	ValidPercentage float64 `json:"valid_percentage"`
}

// QuestionFrequency is the option distribution of one question.
type QuestionFrequency struct {
	QuestionID   string        `json:"question_id"`
	Options      []OptionCount `json:"options"`
	Total        int           `json:"total"`
	Valid        int           `json:"valid"`
	Missing      int           `json:"missing"`
	ResponseRate float64       `json:"response_rate"`
}

// DimensionFrequency is the option distribution pooled across a dimension's questions.
type DimensionFrequency struct {
	DimensionID string        `json:"dimension_id"`
	Options     []OptionCount `json:"options"`
	Valid       int           `json:"valid"`
}

// CalculationResult is the complete output of one strategy run.
type CalculationResult struct {
	Strategy         string                 `json:"strategy"`
	Metrics          map[string]float64     `json:"metrics"`
	Labels           map[string]string      `json:"labels,omitempty"`
	Bands            []BandCount            `json:"bands,omitempty"`
	Dimensions       []DimensionStatistics  `json:"dimensions,omitempty"`
	Correlations     []DimensionCorrelation `json:"correlations,omitempty"`
	Questions        []QuestionFrequency    `json:"questions,omitempty"`
	DimensionOptions []DimensionFrequency   `json:"dimension_options,omitempty"`
	Warnings         []QualityWarning       `json:"warnings,omitempty"`
}

// NewCalculationResult returns an empty result for strategy.
func NewCalculationResult(strategy string) *CalculationResult {
	return &CalculationResult{
		Strategy: strategy,
		Metrics:  map[string]float64{},
		Labels:   map[string]string{},
	}
}

// Metric returns a named metric or a missing-field error.
func (r *CalculationResult) Metric(name string) (float64, error) {
	if r == nil {
		return 0, appErrors.Clonef(appErrors.ErrMissingField, "result missing, field %q unavailable", name)
	}
	v, ok := r.Metrics[name]
	if !ok {
		return 0, appErrors.Clonef(appErrors.ErrMissingField, "strategy %s did not produce %q", r.Strategy, name)
	}
	return v, nil
}

// Label returns a named label or a missing-field error.
func (r *CalculationResult) Label(name string) (string, error) {
	if r == nil {
		return "", appErrors.Clonef(appErrors.ErrMissingField, "result missing, label %q unavailable", name)
	}
	v, ok := r.Labels[name]
	if !ok {
		return "", appErrors.Clonef(appErrors.ErrMissingField, "strategy %s did not produce label %q", r.Strategy, name)
	}
	return v, nil
}

// Warn appends a quality warning.
func (r *CalculationResult) Warn(code, message string, count int) {
	r.Warnings = append(r.Warnings, QualityWarning{Code: code, Message: message, Count: count})
}

// EntityLevel is the hierarchy level an aggregation belongs to.
type EntityLevel string

const (
	LevelRegion EntityLevel = "region"
	LevelSchool EntityLevel = "school"
)

// RegionEntityID identifies the region-level entity of a batch.
const RegionEntityID = "region"

// EntityStatus reports how much of an entity could be calculated.
type EntityStatus string

const (
	StatusCompleted EntityStatus = "completed"
	StatusPartial   EntityStatus = "partial"
	StatusFailed    EntityStatus = "failed"
)

// EntityError describes why a subject of an entity could not be calculated.
type EntityError struct {
	SubjectID string `json:"subject_id,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// AggregationResult is the assembled result of one (batch, level, entity). It is replaced wholesale on recalculation.
type AggregationResult struct {
	ID           string            `db:"id" json:"id"`
	RunID        string            `db:"run_id" json:"run_id"`
	BatchCode    string            `db:"batch_code" json:"batch_code"`
	Level        EntityLevel       `db:"level" json:"level"`
	EntityID     string            `db:"entity_id" json:"entity_id"`
	EntityName   string            `db:"entity_name" json:"entity_name"`
	Status       EntityStatus      `db:"status" json:"status"`
	Report       *dto.EntityReport `json:"report"`
	Warnings     []QualityWarning  `json:"warnings,omitempty"`
	Errors       []EntityError     `json:"errors,omitempty"`
	CalculatedAt time.Time         `db:"calculated_at" json:"calculated_at"`
	DurationMS   int64             `db:"duration_ms" json:"duration_ms"`
}

// RankingEntry is one ranked entity.
type RankingEntry struct {
	EntityID   string  `json:"entity_id"`
	EntityName string  `json:"entity_name"`
	Value      float64 `json:"value"`
	Rank       int     `json:"rank"`
	Percentile float64 `json:"percentile,omitempty"`
	Category   string  `json:"category,omitempty"`
}

// EntityOutcome summarises one entity inside a batch status.
type EntityOutcome struct {
	Level      EntityLevel   `json:"level"`
	EntityID   string        `json:"entity_id"`
	EntityName string        `json:"entity_name"`
	Status     EntityStatus  `json:"status"`
	Errors     []EntityError `json:"errors,omitempty"`
}

// BatchStatus surfaces the mixture of completed, partial and failed entities of one run.
type BatchStatus struct {
	RunID      string          `json:"run_id"`
	BatchCode  string          `json:"batch_code"`
	Status     EntityStatus    `json:"status"`
	Completed  int             `json:"completed"`
	Partial    int             `json:"partial"`
	Failed     int             `json:"failed"`
	Rows       int             `json:"rows"`
	Entities   []EntityOutcome `json:"entities"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

// Record adds an entity outcome and updates the counters.
func (b *BatchStatus) Record(outcome EntityOutcome) {
	b.Entities = append(b.Entities, outcome)
	switch outcome.Status {
	case StatusCompleted:
		b.Completed++
	case StatusPartial:
		b.Partial++
	default:
		b.Failed++
	}
}

// Finalize derives the overall status from the recorded entities.
func (b *BatchStatus) Finalize(at time.Time) {
	b.FinishedAt = at
	switch {
	case len(b.Entities) == 0 || b.Failed == len(b.Entities):
		b.Status = StatusFailed
	case b.Completed == len(b.Entities):
		b.Status = StatusCompleted
	default:
		b.Status = StatusPartial
	}
}
