package models

// SubjectType classifies how a subject is scored.
type SubjectType string

const (
	SubjectTypeExam        SubjectType = "exam"
	SubjectTypeInteractive SubjectType = "interactive"
	SubjectTypeSurvey      SubjectType = "survey"
)

// IsSurvey reports whether responses are Likert answers rather than earned points.
func (t SubjectType) IsSurvey() bool {
	return t == SubjectTypeSurvey
}

// AbsentSentinel marks a student who did not sit the assessment.
const AbsentSentinel = -1.0

// QuestionScore is one entry of the ordered per-question score list. A nil Score is a missing answer.
type QuestionScore struct {
	QuestionID string   `json:"question_id" validate:"required"`
	Score      *float64 `json:"score"`
}

// DimensionScore is a precomputed per-student score for one dimension.
type DimensionScore struct {
	DimensionID string  `json:"dimension_id" validate:"required"`
	Score       float64 `json:"score"`
}

// ScoreRecord is one student's result for one subject. Records are owned by the caller and never mutated.
type ScoreRecord struct {
	StudentID       string           `db:"student_id" json:"student_id" validate:"required"`
	SchoolID        string           `db:"school_id" json:"school_id" validate:"required"`
	SchoolName      string           `db:"school_name" json:"school_name"`
	SubjectID       string           `db:"subject_id" json:"subject_id" validate:"required"`
	SubjectName     string           `db:"subject_name" json:"subject_name"`
	SubjectType     SubjectType      `db:"subject_type" json:"subject_type" validate:"required,oneof=exam interactive survey"`
	TotalScore      *float64         `db:"total_score" json:"total_score"`
	MaxScore        float64          `db:"max_score" json:"max_score" validate:"gte=0"`
	QuestionScores  []QuestionScore  `json:"question_scores" validate:"dive"`
	DimensionScores []DimensionScore `json:"dimension_scores" validate:"dive"`
	GradeLevel      int              `db:"grade_level" json:"grade_level" validate:"gte=0,lte=12"`
	Absent          bool             `db:"absent" json:"absent"`
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

// Question returns the score recorded for questionID.
func (r ScoreRecord) Question(questionID string) (float64, bool) {
	for _, q := range r.QuestionScores {
		if q.QuestionID == questionID {
			if q.Score == nil {
				return 0, false
			}
			return *q.Score, true
		}
	}
	return 0, false
}

// Dimension returns the precomputed score for dimensionID.
func (r ScoreRecord) Dimension(dimensionID string) (float64, bool) {
	for _, d := range r.DimensionScores {
		if d.DimensionID == dimensionID {
			return d.Score, true
		}
	}
	return 0, false
}

// Total returns the total score when present.
func (r ScoreRecord) Total() (float64, bool) {
	if r.TotalScore == nil {
		return 0, false
	}
	return *r.TotalScore, true
}

// IsAbsent reports whether the row is an absent or sentinel row.
func (r ScoreRecord) IsAbsent() bool {
	if r.Absent {
		return true
	}
	return r.TotalScore != nil && *r.TotalScore == AbsentSentinel
}

// Clone returns a deep copy so transformations never alias caller-owned slices.
func (r ScoreRecord) Clone() ScoreRecord {
	out := r
	if r.TotalScore != nil {
		out.TotalScore = Float(*r.TotalScore)
	}
	if r.QuestionScores != nil {
		out.QuestionScores = make([]QuestionScore, len(r.QuestionScores))
		for i, q := range r.QuestionScores {
			out.QuestionScores[i] = QuestionScore{QuestionID: q.QuestionID}
			if q.Score != nil {
				out.QuestionScores[i].Score = Float(*q.Score)
			}
		}
	}
	if r.DimensionScores != nil {
		out.DimensionScores = append([]DimensionScore(nil), r.DimensionScores...)
	}
	return out
}
