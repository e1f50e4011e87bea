package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-stats-engine/internal/models"
)

// ScoreRepository reads score rows from PostgreSQL.
type ScoreRepository struct {
	db *sqlx.DB
}

// NewScoreRepository constructs the repository.
func NewScoreRepository(db *sqlx.DB) *ScoreRepository {
	return &ScoreRepository{db: db}
}

type scoreRow struct {
	StudentID       string   `db:"student_id"`
	SchoolID        string   `db:"school_id"`
	SchoolName      string   `db:"school_name"`
	SubjectID       string   `db:"subject_id"`
	SubjectName     string   `db:"subject_name"`
	SubjectType     string   `db:"subject_type"`
	TotalScore      *float64 `db:"total_score"`
	MaxScore        float64  `db:"max_score"`
	QuestionScores  []byte   `db:"question_scores"`
	DimensionScores []byte   `db:"dimension_scores"`
	GradeLevel      int      `db:"grade_level"`
	Absent          bool     `db:"absent"`
}

func (r scoreRow) record() (models.ScoreRecord, error) {
	rec := models.ScoreRecord{
		StudentID:   r.StudentID,
		SchoolID:    r.SchoolID,
		SchoolName:  r.SchoolName,
		SubjectID:   r.SubjectID,
		SubjectName: r.SubjectName,
		SubjectType: models.SubjectType(r.SubjectType),
		TotalScore:  r.TotalScore,
		MaxScore:    r.MaxScore,
		GradeLevel:  r.GradeLevel,
		Absent:      r.Absent,
	}
	if len(r.QuestionScores) > 0 {
		if err := json.Unmarshal(r.QuestionScores, &rec.QuestionScores); err != nil {
			return rec, fmt.Errorf("decode question scores of %s/%s: %w", r.StudentID, r.SubjectID, err)
		}
	}
	if len(r.DimensionScores) > 0 {
		if err := json.Unmarshal(r.DimensionScores, &rec.DimensionScores); err != nil {
			return rec, fmt.Errorf("decode dimension scores of %s/%s: %w", r.StudentID, r.SubjectID, err)
		}
	}
	return rec, nil
}

// LoadScores returns every row of a batch ordered by school, subject and student.
func (r *ScoreRepository) LoadScores(ctx context.Context, batchCode string) ([]models.ScoreRecord, error) {
	const query = `SELECT student_id, school_id, school_name, subject_id, subject_name, subject_type, total_score, max_score,
question_scores, dimension_scores, grade_level, absent
FROM score_records WHERE batch_code = $1
ORDER BY school_id, subject_id, student_id`
	var rows []scoreRow
	if err := r.db.SelectContext(ctx, &rows, query, batchCode); err != nil {
		return nil, fmt.Errorf("load scores: %w", err)
	}
	records := make([]models.ScoreRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.record()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}
