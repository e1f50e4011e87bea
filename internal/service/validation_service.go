package service

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-stats-engine/internal/models"
	appErrors "github.com/noah-isme/sma-stats-engine/pkg/errors"
)

// DefaultCompletenessWarn is the completeness ratio below which a warning is recorded.
const DefaultCompletenessWarn = 0.8

// ValidationOptions configures one validation pass.
type ValidationOptions struct {
	CompletenessWarn float64
	// Subject supplies question maxima and the dimensions rows may reference.
	Subject *models.SubjectConfig
}

// ValidationStats summarises a validation pass.
type ValidationStats struct {
	TotalRows     int     `json:"total_rows"`
	AcceptedRows  int     `json:"accepted_rows"`
	RejectedRows  int     `json:"rejected_rows"`
	OutOfRange    int     `json:"out_of_range"`
	ScoresPresent int     `json:"scores_present"`
	ScoresTotal   int     `json:"scores_total"`
	Completeness  float64 `json:"completeness"`
}

// ValidationReport is the outcome of validating a dataset. Only structural problems make it invalid.
type ValidationReport struct {
	IsValid  bool                    `json:"is_valid"`
	Errors   []string                `json:"errors,omitempty"`
	Warnings []models.QualityWarning `json:"warnings,omitempty"`
	Stats    ValidationStats         `json:"stats"`
	// Accepted holds the rows fit for calculation; out-of-range values are cleared to missing.
	Accepted []models.ScoreRecord `json:"-"`
}

// Err returns a structural input error when the report is invalid.
func (r ValidationReport) Err() error {
	if r.IsValid {
		return nil
	}
	return appErrors.Clone(appErrors.ErrStructuralInput, strings.Join(r.Errors, "; "))
}

// ValidationService checks datasets before calculation. It is a pure function over its input.
type ValidationService struct {
	validate *validator.Validate
	logger   *zap.Logger
}

// NewValidationService constructs the data validator.
func NewValidationService(logger *zap.Logger) *ValidationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ValidationService{validate: validator.New(), logger: logger}
}

var requiredColumns = []struct {
	name string
	get  func(models.ScoreRecord) string
}{
	{"student_id", func(r models.ScoreRecord) string { return r.StudentID }},
	{"school_id", func(r models.ScoreRecord) string { return r.SchoolID }},
	{"subject_id", func(r models.ScoreRecord) string { return r.SubjectID }},
}

// Validate inspects rows and returns a report. Rows failing field validation are
// rejected with a warning; scores outside [0, max] are excluded from statistics.
func (s *ValidationService) Validate(rows []models.ScoreRecord, opts ValidationOptions) ValidationReport {
	report := ValidationReport{IsValid: true, Stats: ValidationStats{TotalRows: len(rows)}}
	if opts.CompletenessWarn <= 0 {
		opts.CompletenessWarn = DefaultCompletenessWarn
	}

	if len(rows) == 0 {
		report.IsValid = false
		report.Errors = append(report.Errors, "dataset has no rows")
		return report
	}
	for _, col := range requiredColumns {
		present := false
		for _, r := range rows {
			if col.get(r) != "" {
				present = true
				break
			}
		}
		if !present {
			report.IsValid = false
			report.Errors = append(report.Errors, fmt.Sprintf("required column %s is missing", col.name))
		}
	}
	if !report.IsValid {
		return report
	}

	tally := newWarningTally()
	report.Accepted = make([]models.ScoreRecord, 0, len(rows))
	for _, r := range rows {
		if err := s.validate.Struct(r); err != nil {
			report.Stats.RejectedRows++
			tally.add(models.WarningRejectedRow, fmt.Sprintf("row %s rejected: %s", r.StudentID, firstFieldError(err)))
			continue
		}
		cleaned, issues := s.checkRow(r, opts.Subject, tally)
		report.Stats.OutOfRange += issues
		if !cleaned.IsAbsent() {
			present, total := countScores(cleaned)
			report.Stats.ScoresPresent += present
			report.Stats.ScoresTotal += total
		}
		report.Accepted = append(report.Accepted, cleaned)
	}
	report.Stats.AcceptedRows = len(report.Accepted)

	if report.Stats.ScoresTotal > 0 {
		report.Stats.Completeness = float64(report.Stats.ScoresPresent) / float64(report.Stats.ScoresTotal)
		if report.Stats.Completeness < opts.CompletenessWarn {
			tally.add(models.WarningLowCompleteness, fmt.Sprintf("completeness %.3f below %.3f", report.Stats.Completeness, opts.CompletenessWarn))
		}
	}

	subjectID := ""
	if opts.Subject != nil {
		subjectID = opts.Subject.SubjectID
	}
	report.Warnings = tally.warnings(subjectID)
	return report
}

// totalMax is the bound the calculation divides by: the configured subject maximum
// when there is one, else the row's own.
func totalMax(r models.ScoreRecord, subject *models.SubjectConfig) float64 {
	if subject != nil && subject.MaxScore > 0 {
		return subject.MaxScore
	}
	return r.MaxScore
}

func fallbackBands(level int) string {
	if level >= 7 {
		return "middle"
	}
	return "primary"
}

// checkRow clears out-of-range scores and unknown dimensions on a copy of r.
func (s *ValidationService) checkRow(r models.ScoreRecord, subject *models.SubjectConfig, tally *warningTally) (models.ScoreRecord, int) {
	var issues int
	out := r
	cloned := false
	ensureClone := func() {
		if !cloned {
			out = r.Clone()
			cloned = true
		}
	}

	if v, ok := r.Total(); ok && !r.IsAbsent() && !r.SubjectType.IsSurvey() {
		max := totalMax(r, subject)
		if v < 0 || (max > 0 && v > max) {
			ensureClone()
			out.TotalScore = nil
			issues++
			tally.add(models.WarningOutOfRange, fmt.Sprintf("total score %.2f outside [0, %.2f]", v, max))
		}
	}

	if !r.SubjectType.IsSurvey() && !models.KnownGradeLevel(r.GradeLevel) {
		tally.add(models.WarningGradeLevel, fmt.Sprintf("grade level %d has no grade bands, %s bands used", r.GradeLevel, fallbackBands(r.GradeLevel)))
	}

	if !r.SubjectType.IsSurvey() {
		for i, q := range r.QuestionScores {
			if q.Score == nil {
				continue
			}
			max := 0.0
			if subject != nil {
				max, _ = subject.QuestionMax(q.QuestionID)
			}
			if *q.Score < 0 || (max > 0 && *q.Score > max) {
				ensureClone()
				out.QuestionScores[i].Score = nil
				issues++
				tally.add(models.WarningOutOfRange, fmt.Sprintf("question %s score %.2f outside [0, %.2f]", q.QuestionID, *q.Score, max))
			}
		}
	}

	if len(r.DimensionScores) > 0 {
		known := map[string]bool{}
		if subject != nil {
			for _, d := range subject.Dimensions {
				known[d.DimensionID] = true
			}
		}
		seen := map[string]bool{}
		kept := make([]models.DimensionScore, 0, len(r.DimensionScores))
		for _, d := range r.DimensionScores {
			if seen[d.DimensionID] || (subject != nil && !known[d.DimensionID]) {
				tally.add(models.WarningUnknownDim, fmt.Sprintf("dimension score %s dropped", d.DimensionID))
				continue
			}
			seen[d.DimensionID] = true
			kept = append(kept, d)
		}
		if len(kept) != len(r.DimensionScores) {
			ensureClone()
			out.DimensionScores = kept
		}
	}
	return out, issues
}

func countScores(r models.ScoreRecord) (present, total int) {
	if !r.SubjectType.IsSurvey() {
		total++
		if r.TotalScore != nil {
			present++
		}
	}
	for _, q := range r.QuestionScores {
		total++
		if q.Score != nil {
			present++
		}
	}
	return present, total
}

func firstFieldError(err error) string {
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag())
	}
	return err.Error()
}

// warningTally collapses repeated warnings into one entry per code.
type warningTally struct {
	order   []string
	counts  map[string]int
	samples map[string]string
}

func newWarningTally() *warningTally {
	return &warningTally{counts: map[string]int{}, samples: map[string]string{}}
}

func (t *warningTally) add(code, sample string) {
	if _, ok := t.counts[code]; !ok {
		t.order = append(t.order, code)
		t.samples[code] = sample
	}
	t.counts[code]++
}

func (t *warningTally) warnings(subjectID string) []models.QualityWarning {
	out := make([]models.QualityWarning, 0, len(t.order))
	for _, code := range t.order {
		msg := t.samples[code]
		if n := t.counts[code]; n > 1 {
			msg = fmt.Sprintf("%s (and %d more)", msg, n-1)
		}
		out = append(out, models.QualityWarning{Code: code, Message: msg, Count: t.counts[code], SubjectID: subjectID})
	}
	return out
}
