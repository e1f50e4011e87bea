package service

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-stats-engine/internal/calculation"
	"github.com/noah-isme/sma-stats-engine/internal/dto"
	"github.com/noah-isme/sma-stats-engine/internal/models"
	appErrors "github.com/noah-isme/sma-stats-engine/pkg/errors"
)

func examSubject(t *testing.T) SubjectCalculation {
	t.Helper()
	registry, err := calculation.NewDefaultRegistry()
	require.NoError(t, err)
	engine := calculation.NewEngine(registry)

	var rows []models.ScoreRecord
	for i, v := range []float64{55, 62.25, 70, 71.5, 78, 80, 84.125, 88, 91, 97} {
		r := examRow(fmt.Sprintf("s%02d", i), "a", v)
		r.QuestionScores = []models.QuestionScore{{QuestionID: "q1", Score: models.Float(v / 10)}}
		rows = append(rows, r)
	}
	names := []string{calculation.StrategyBasic, calculation.StrategyDifficulty, calculation.StrategyPercentiles,
		calculation.StrategyGradeDistribution, calculation.StrategyDiscrimination}
	results, err := engine.CalculateAll(names, rows, calculation.DefaultConfig())
	require.NoError(t, err)

	itemCfg := calculation.DefaultConfig().ForQuestion("q1", 10)
	diff, err := engine.Calculate(calculation.StrategyDifficulty, rows, itemCfg)
	require.NoError(t, err)
	disc, err := engine.Calculate(calculation.StrategyDiscrimination, rows, itemCfg)
	require.NoError(t, err)

	return SubjectCalculation{
		SubjectID:   "math",
		SubjectName: "Mathematics",
		Type:        models.SubjectTypeInteractive,
		Results:     results,
		Items:       []ItemCalculation{{QuestionID: "q1", Difficulty: diff, Discrimination: disc}, {QuestionID: "q2"}},
		SchoolRankings: []models.RankingEntry{
			{EntityID: "a", EntityName: "Alpha", Value: 77.654, Rank: 1},
		},
	}
}

func TestAssembleBuildsRoundedReport(t *testing.T) {
	svc := NewAssemblerService("", zap.NewNop())
	report, err := svc.Assemble(EntityMeta{BatchCode: "2024-T1", Level: models.LevelRegion, EntityID: models.RegionEntityID}, []SubjectCalculation{examSubject(t)})
	require.NoError(t, err)

	assert.Equal(t, DefaultSchemaVersion, report.SchemaVersion)
	require.Len(t, report.Subjects, 1)
	subject := report.Subjects[0]
	assert.Equal(t, dto.SubjectTypeExam, subject.Type, "interactive is reported as exam")
	assert.Equal(t, 10, subject.StudentCount)
	assert.Equal(t, 77.7, subject.Metrics.Avg)
	assert.Equal(t, 97.0, subject.Metrics.Max)
	assert.Equal(t, 0.777, subject.Metrics.Difficulty)
	assert.Equal(t, 77.7, subject.SchoolRankings[0].Avg)
	assert.Equal(t, 80.0, subject.Percentiles["P50"])
	require.NotNil(t, subject.Discrimination)
	assert.Equal(t, 3, subject.Discrimination.GroupSize)

	var sum float64
	for _, b := range subject.GradeDistribution {
		sum += b.Percentage
	}
	assert.InDelta(t, 1.0, sum, 0.01)

	require.Len(t, subject.Items, 1, "items without results are skipped")
	assert.Equal(t, "q1", subject.Items[0].QuestionID)
}

func TestAssembleMissingRequiredMetricFails(t *testing.T) {
	svc := NewAssemblerService("v9", nil)
	sc := examSubject(t)
	delete(sc.Results[calculation.StrategyBasic].Metrics, "std")

	_, err := svc.Assemble(EntityMeta{BatchCode: "b"}, []SubjectCalculation{sc})
	assert.ErrorIs(t, err, appErrors.ErrMissingField)

	sc = examSubject(t)
	delete(sc.Results, calculation.StrategyDifficulty)
	_, err = svc.Assemble(EntityMeta{BatchCode: "b"}, []SubjectCalculation{sc})
	assert.ErrorIs(t, err, appErrors.ErrMissingField)
}

func TestAssembleQuestionnaireDimensions(t *testing.T) {
	alpha := 0.81234
	freq := models.NewCalculationResult(calculation.StrategyFrequency)
	freq.Questions = []models.QuestionFrequency{{QuestionID: "q1", Missing: 1, Options: []models.OptionCount{{Option: 1, Count: 1, ValidPercentage: 1.0 / 3.0}, {Option: 2, Count: 2, ValidPercentage: 2.0 / 3.0}}}}
	freq.DimensionOptions = []models.DimensionFrequency{{DimensionID: "interest", Options: []models.OptionCount{{Option: 2, Count: 3, ValidPercentage: 1}}}}

	basic := models.NewCalculationResult(calculation.StrategyBasic)
	for k, v := range map[string]float64{"count": 3, "mean": 3.3333, "std": 0.5, "max": 4, "min": 3} {
		basic.Metrics[k] = v
	}
	difficulty := models.NewCalculationResult(calculation.StrategyDifficulty)
	difficulty.Metrics["difficulty"] = 0.66666
	dims := models.NewCalculationResult(calculation.StrategyDimensions)
	dims.Dimensions = []models.DimensionStatistics{
		{DimensionID: "motivation", DimensionName: "Motivation", ScoreRate: 0.5, Metrics: map[string]float64{"mean": 2.5}},
		{DimensionID: "interest", DimensionName: "Interest", ScoreRate: 0.73333, Weight: 2, WeightedMean: 7.33332, Metrics: map[string]float64{"mean": 3.66666}, Reliability: &alpha},
	}
	dims.Metrics["weighted_score_rate"] = 0.65555

	svc := NewAssemblerService("v1.2", nil)
	report, err := svc.Assemble(EntityMeta{BatchCode: "b", Level: models.LevelSchool, EntityID: "a"}, []SubjectCalculation{{
		SubjectID: "survey", Type: models.SubjectTypeSurvey,
		Results:   map[string]*models.CalculationResult{calculation.StrategyBasic: basic, calculation.StrategyDifficulty: difficulty, calculation.StrategyDimensions: dims},
		Frequency: freq, DimensionRanks: map[string]int{"interest": 2},
	}})
	require.NoError(t, err)

	subject := report.Subjects[0]
	assert.Equal(t, dto.SubjectTypeQuestionnaire, subject.Type)
	require.Len(t, subject.Dimensions, 2)
	interest := subject.Dimensions[0]
	assert.Equal(t, "interest", interest.Code)
	assert.Equal(t, 3.7, interest.Avg)
	assert.Equal(t, 0.733, interest.ScoreRate)
	assert.Equal(t, 2.0, interest.Weight)
	assert.Equal(t, 7.3, interest.WeightedAvg)
	require.NotNil(t, subject.DimensionIndex)
	assert.Equal(t, 0.656, *subject.DimensionIndex)
	assert.Equal(t, 0.812, *interest.Reliability)
	assert.Equal(t, 2, *interest.Rank)
	assert.Equal(t, 100.0, interest.OptionDistribution[0].Percentage)
	assert.Nil(t, subject.Dimensions[1].Rank)

	require.Len(t, subject.Questions, 1)
	assert.Equal(t, 33.33, subject.Questions[0].OptionDistribution[0].Percentage)
	assert.Equal(t, 66.67, subject.Questions[0].OptionDistribution[1].Percentage)
}

func TestNormalizeReportIsIdempotentAndRoundTrips(t *testing.T) {
	svc := NewAssemblerService("", nil)
	report, err := svc.Assemble(EntityMeta{BatchCode: "b", Level: models.LevelRegion, EntityID: models.RegionEntityID}, []SubjectCalculation{examSubject(t)})
	require.NoError(t, err)

	first, err := json.Marshal(report)
	require.NoError(t, err)
	NormalizeReport(report)
	second, err := json.Marshal(report)
	require.NoError(t, err)
	assert.JSONEq(t, string(first), string(second))

	var decoded dto.EntityReport
	require.NoError(t, json.Unmarshal(first, &decoded))
	assert.Equal(t, *report, decoded)
}
