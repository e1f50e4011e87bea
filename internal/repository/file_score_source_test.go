package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-stats-engine/internal/models"
	appErrors "github.com/noah-isme/sma-stats-engine/pkg/errors"
)

func TestFileScoreSourceCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scores.csv")
	content := "batch_code,student_id,school_id,school_name,subject_id,subject_type,total_score,max_score,grade_level,absent,q:q1,q:q2,dim:algebra\n" +
		"2024-T1,s1,sch-1,Alpha,math,exam,88.5,100,8,,9,,4\n" +
		"2024-T1,s2,sch-1,Alpha,math,,-1,100,8,yes,,,\n" +
		"2024-T2,s3,sch-2,Beta,math,exam,70,100,8,,7,6,3\n" +
		",,,,,,,,,,,,\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	records, err := NewFileScoreSource(path, zap.NewNop()).LoadScores(context.Background(), "2024-T1")
	require.NoError(t, err)
	require.Len(t, records, 2)

	first := records[0]
	assert.Equal(t, 88.5, *first.TotalScore)
	assert.Equal(t, 8, first.GradeLevel)
	require.Len(t, first.QuestionScores, 2)
	assert.Equal(t, 9.0, *first.QuestionScores[0].Score)
	assert.Nil(t, first.QuestionScores[1].Score)
	assert.Equal(t, []models.DimensionScore{{DimensionID: "algebra", Score: 4}}, first.DimensionScores)

	second := records[1]
	assert.True(t, second.IsAbsent())
	assert.Equal(t, models.SubjectTypeExam, second.SubjectType)
}

func TestFileScoreSourceWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scores.xlsx")
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]interface{}{"student_id", "school_id", "subject_id", "subject_type", "q:q1", "q:q2"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]interface{}{"s1", "sch-1", "attitude", "survey", 4, 2}))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	records, err := NewFileScoreSource(path, nil).LoadScores(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.SubjectTypeSurvey, records[0].SubjectType)
	assert.Nil(t, records[0].TotalScore)
	q2, ok := records[0].Question("q2")
	require.True(t, ok)
	assert.Equal(t, 2.0, q2)
}

func TestParseScoreTableStructuralErrors(t *testing.T) {
	_, err := ParseScoreTable(nil, "")
	assert.ErrorIs(t, err, appErrors.ErrStructuralInput)

	_, err = ParseScoreTable([][]string{{"student_id", "subject_id"}, {"s1", "math"}}, "")
	assert.ErrorIs(t, err, appErrors.ErrStructuralInput)
	assert.ErrorContains(t, err, "school_id")

	_, err = NewFileScoreSource("scores.json", nil).LoadScores(context.Background(), "")
	assert.ErrorIs(t, err, appErrors.ErrStructuralInput)
}
