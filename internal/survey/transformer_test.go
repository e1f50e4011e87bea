package survey

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-stats-engine/internal/models"
	appErrors "github.com/noah-isme/sma-stats-engine/pkg/errors"
)

func likert(t *testing.T) models.ScaleConfig {
	t.Helper()
	scale := models.NewLikertScale(models.InstrumentLikert5, 5)
	scale.Dimensions["interest"] = models.ScaleDimension{
		ForwardQuestions: []string{"q1", "q2"},
		ReverseQuestions: []string{"q3"},
	}
	scale.Dimensions["confidence"] = models.ScaleDimension{ForwardQuestions: []string{"q4"}}
	return scale
}

func answers(values ...interface{}) []models.QuestionScore {
	out := make([]models.QuestionScore, 0, len(values))
	for i, v := range values {
		q := models.QuestionScore{QuestionID: fmt.Sprintf("q%d", i+1)}
		if f, ok := v.(float64); ok {
			q.Score = models.Float(f)
		} else if n, ok := v.(int); ok {
			q.Score = models.Float(float64(n))
		}
		out = append(out, q)
	}
	return out
}

func TestReverseScoringSymmetry(t *testing.T) {
	scale := models.NewLikertScale(models.InstrumentLikert5, 5)
	for r := 1; r <= 5; r++ {
		assert.Equal(t, 6.0, scale.ForwardMap[r]+scale.ReverseMap[r], "r=%d", r)
	}
}

func TestTransformNormalizesAndAveragesDimensions(t *testing.T) {
	tr, err := NewTransformer(likert(t), DefaultRules(), nil)
	require.NoError(t, err)

	rec := models.ScoreRecord{StudentID: "s1", SubjectID: "survey", SubjectType: models.SubjectTypeSurvey,
		QuestionScores: answers(4, 2, 1, 5)}
	out := tr.Transform(rec)

	got, ok := out.Record.Question("q3")
	require.True(t, ok)
	assert.Equal(t, 5.0, got, "reverse scored")

	interest, ok := out.Record.Dimension("interest")
	require.True(t, ok)
	assert.InDelta(t, (4.0+2.0+5.0)/3.0, interest, 1e-12)

	confidence, ok := out.Record.Dimension("confidence")
	require.True(t, ok)
	assert.Equal(t, 5.0, confidence)

	assert.Equal(t, 5.0, out.Record.MaxScore)
	assert.InDelta(t, 4.0, *out.Record.TotalScore, 1e-12)
	assert.False(t, out.Flagged())

	raw, _ := rec.Question("q3")
	assert.Equal(t, 1.0, raw, "input record untouched")
	assert.Nil(t, rec.DimensionScores)
}

func TestTransformExcludesMissingAndOutOfRange(t *testing.T) {
	tr, err := NewTransformer(likert(t), Rules{StraightLineMax: 10, CompletionMin: 0.5, VarianceThreshold: 0}, nil)
	require.NoError(t, err)

	out := tr.Transform(models.ScoreRecord{StudentID: "s2", QuestionScores: answers(5, nil, 7, 3.5)})

	interest, ok := out.Record.Dimension("interest")
	require.True(t, ok)
	assert.Equal(t, 5.0, interest, "only q1 counts")
	_, ok = out.Record.Dimension("confidence")
	assert.False(t, ok, "fractional answer is excluded, not defaulted")
	assert.Equal(t, 2, out.OutOfRange)
	assert.Equal(t, 1, out.Answered)

	codes := flagCodes(out.Flags)
	assert.Contains(t, codes, models.WarningLowCompletion)
}

func TestQualityHeuristics(t *testing.T) {
	scale := models.NewLikertScale(models.InstrumentLikert5, 5)
	expected := make([]string, 12)
	values := make([]interface{}, 12)
	for i := range expected {
		expected[i] = fmt.Sprintf("q%d", i+1)
		values[i] = 3
	}
	tr, err := NewTransformer(scale, DefaultRules(), expected)
	require.NoError(t, err)

	out := tr.Transform(models.ScoreRecord{StudentID: "flat", QuestionScores: answers(values...)})
	codes := flagCodes(out.Flags)
	assert.Contains(t, codes, models.WarningStraightLining)
	assert.Contains(t, codes, models.WarningLowVariance)
	assert.NotContains(t, codes, models.WarningLowCompletion)
	assert.Equal(t, "flat", out.Flags[0].StudentID)
}

func TestLongestRunBreaksOnMissing(t *testing.T) {
	one, two := models.Float(1), models.Float(2)
	assert.Equal(t, 3, longestRun([]*float64{one, one, one, nil, one, two}))
	assert.Equal(t, 0, longestRun(nil))
}

func TestFilterAndSummarize(t *testing.T) {
	rows := []TransformedRecord{
		{Record: models.ScoreRecord{StudentID: "a"}},
		{Record: models.ScoreRecord{StudentID: "b"}, Flags: []models.QualityWarning{{Code: models.WarningLowVariance}}},
		{Record: models.ScoreRecord{StudentID: "c"}, OutOfRange: 2, Flags: []models.QualityWarning{{Code: models.WarningLowVariance}}},
	}
	assert.Len(t, Filter(rows, true), 3)
	kept := Filter(rows, false)
	require.Len(t, kept, 1)
	assert.Equal(t, "a", kept[0].StudentID)

	summary := Summarize(rows, "survey")
	require.Len(t, summary, 2)
	assert.Equal(t, models.WarningLowVariance, summary[0].Code)
	assert.Equal(t, 2, summary[0].Count)
	assert.Equal(t, models.WarningOutOfRange, summary[1].Code)
}

func TestNewTransformerRejectsDegenerateScale(t *testing.T) {
	_, err := NewTransformer(models.ScaleConfig{ScaleLevel: 1}, DefaultRules(), nil)
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func flagCodes(flags []models.QualityWarning) []string {
	out := make([]string, 0, len(flags))
	for _, f := range flags {
		out = append(out, f.Code)
	}
	return out
}

func TestFilterRawKeepsRespondentsAligned(t *testing.T) {
	raw := []models.ScoreRecord{{StudentID: "a"}, {StudentID: "b"}, {StudentID: "c"}}
	transformed := []TransformedRecord{
		{Record: raw[0]},
		{Record: raw[1], Flags: []models.QualityWarning{{Code: models.WarningLowVariance}}},
		{Record: raw[2]},
	}
	assert.Len(t, FilterRaw(raw, transformed, true), 3)
	kept := FilterRaw(raw, transformed, false)
	require.Len(t, kept, 2)
	assert.Equal(t, "a", kept[0].StudentID)
	assert.Equal(t, "c", kept[1].StudentID)
}
