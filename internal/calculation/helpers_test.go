package calculation

import (
	"fmt"

	"github.com/noah-isme/sma-stats-engine/internal/models"
)

func scoreRecords(max float64, scores ...float64) []models.ScoreRecord {
	out := make([]models.ScoreRecord, 0, len(scores))
	for i, s := range scores {
		out = append(out, models.ScoreRecord{
			StudentID:   fmt.Sprintf("stu-%03d", i),
			SchoolID:    "sch-1",
			SubjectID:   "math",
			SubjectType: models.SubjectTypeExam,
			TotalScore:  models.Float(s),
			MaxScore:    max,
			GradeLevel:  8,
		})
	}
	return out
}

func questions(pairs ...interface{}) []models.QuestionScore {
	out := make([]models.QuestionScore, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		q := models.QuestionScore{QuestionID: pairs[i].(string)}
		switch v := pairs[i+1].(type) {
		case float64:
			q.Score = models.Float(v)
		case int:
			q.Score = models.Float(float64(v))
		}
		out = append(out, q)
	}
	return out
}

// spread produces a deterministic, non-trivial sample of n scores.
func spread(n int) []float64 {
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = float64((i*37)%101) + 0.25*float64(i%7)
	}
	return out
}
