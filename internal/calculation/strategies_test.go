package calculation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-stats-engine/internal/models"
)

func TestFloorPercentile(t *testing.T) {
	sorted := []float64{60, 70, 80, 85, 90, 95}
	assert.Equal(t, 85.0, FloorPercentile(sorted, 50))
	assert.Equal(t, 60.0, FloorPercentile(sorted, 10))
	assert.Equal(t, 95.0, FloorPercentile(sorted, 90))
	assert.Equal(t, 95.0, FloorPercentile(sorted, 100), "index clamps to n-1")
	assert.Equal(t, 60.0, FloorPercentile(sorted, 0))
}

func TestPercentileStrategyMonotonic(t *testing.T) {
	cfg := DefaultConfig()
	res, err := Percentile{}.Calculate(scoreRecords(100, 95, 60, 85, 70, 90, 80), cfg)
	require.NoError(t, err)

	assert.Equal(t, 85.0, res.Metrics["P50"])
	prev := res.Metrics[PercentileKey(cfg.Percentiles[0])]
	for _, p := range cfg.Percentiles[1:] {
		cur := res.Metrics[PercentileKey(p)]
		assert.GreaterOrEqual(t, cur, prev, "P%d", p)
		prev = cur
	}
	assert.Equal(t, res.Metrics["P75"]-res.Metrics["P25"], res.Metrics["iqr"])
}

func TestPercentileFlagsOutliers(t *testing.T) {
	res, err := Percentile{}.Calculate(scoreRecords(100, 50, 51, 52, 53, 54, 55, 56, 57, 58, 2), DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Metrics["outliers_below"])
	assert.Equal(t, 0.0, res.Metrics["outliers_above"])
}

func TestBasicStatistics(t *testing.T) {
	res, err := BasicStatistics{}.Calculate(scoreRecords(100, 2, 4, 4, 4, 5, 5, 7, 9), DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, 8.0, res.Metrics["count"])
	assert.Equal(t, 5.0, res.Metrics["mean"])
	assert.Equal(t, 4.5, res.Metrics["median"])
	assert.Equal(t, 4.0, res.Metrics["mode"])
	assert.InDelta(t, 2.138089935, res.Metrics["std"], 1e-6)
	assert.InDelta(t, 32.0/7.0, res.Metrics["variance"], 1e-9)
	assert.Equal(t, 7.0, res.Metrics["range"])
}

func TestBasicStatisticsSkipsMissingScores(t *testing.T) {
	records := scoreRecords(100, 10, 20)
	records = append(records, models.ScoreRecord{StudentID: "blank", MaxScore: 100})
	res, err := BasicStatistics{}.Calculate(records, DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, 2.0, res.Metrics["count"])
	assert.Equal(t, 15.0, res.Metrics["mean"], "missing values are excluded, never zeroed")
}

func TestDifficultyBands(t *testing.T) {
	res, err := Difficulty{}.Calculate(scoreRecords(100, 60, 70, 80), DefaultConfig())
	require.NoError(t, err)
	assert.InDelta(t, 0.7, res.Metrics["difficulty"], 1e-12)
	assert.Equal(t, DifficultyMedium, res.Labels["difficulty_level"])

	assert.Equal(t, DifficultyEasy, DifficultyLevel(0.71))
	assert.Equal(t, DifficultyMedium, DifficultyLevel(0.3))
	assert.Equal(t, DifficultyHard, DifficultyLevel(0.29))
}

func TestDiscriminationTenScores(t *testing.T) {
	records := scoreRecords(100, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100)
	res, err := Discrimination{}.Calculate(records, DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, 3.0, res.Metrics["group_size"])
	assert.Equal(t, 90.0, res.Metrics["top_mean"])
	assert.Equal(t, 20.0, res.Metrics["bottom_mean"])
	assert.InDelta(t, 0.70, res.Metrics["discrimination_index"], 1e-12)
	assert.Equal(t, DiscriminationExcellent, res.Labels["discrimination_level"])
	assert.Empty(t, res.Warnings)
}

func TestDiscriminationSmallSampleOverlaps(t *testing.T) {
	res, err := Discrimination{}.Calculate(scoreRecords(10, 4, 8, 6), Config{GroupFraction: 0.5})
	require.NoError(t, err)

	assert.Equal(t, 2.0, res.Metrics["group_size"])
	codes := make([]string, 0, len(res.Warnings))
	for _, w := range res.Warnings {
		codes = append(codes, w.Code)
	}
	assert.Contains(t, codes, models.WarningGroupOverlap)
	assert.Contains(t, codes, models.WarningSmallSample)
}

func TestDiscriminationSingleScore(t *testing.T) {
	res, err := Discrimination{}.Calculate(scoreRecords(10, 7), DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Metrics["discrimination_index"])
	assert.Equal(t, DiscriminationPoor, res.Labels["discrimination_level"])
}

func TestGroupSizeUsesCeiling(t *testing.T) {
	assert.Equal(t, 3, GroupSize(10, 0.27))
	assert.Equal(t, 27, GroupSize(100, 0.27))
	assert.Equal(t, 1, GroupSize(1, 0.27))
	assert.Equal(t, 2, GroupSize(4, 0.27))
	assert.Equal(t, 0, GroupSize(0, 0.27))
}

func TestDiscriminationRejectsFraction(t *testing.T) {
	assert.False(t, Discrimination{}.ValidateInput(scoreRecords(100, 1, 2), Config{GroupFraction: 0.6}))
	assert.True(t, Discrimination{}.ValidateInput(scoreRecords(100, 1, 2), Config{GroupFraction: 0.5}))
}

func TestDiscriminationLevels(t *testing.T) {
	assert.Equal(t, DiscriminationExcellent, DiscriminationLevel(0.4))
	assert.Equal(t, DiscriminationGood, DiscriminationLevel(0.3))
	assert.Equal(t, DiscriminationAcceptable, DiscriminationLevel(0.2))
	assert.Equal(t, DiscriminationPoor, DiscriminationLevel(0.19))
}

func TestGradeDistributionBoundaries(t *testing.T) {
	primary := models.DefaultGradeScheme().Primary
	middle := models.DefaultGradeScheme().Middle

	assert.Equal(t, GradePass, GradeBand(0.60, primary))
	assert.Equal(t, GradeFail, GradeBand(0.5999, primary))
	assert.Equal(t, GradeGood, GradeBand(0.70, primary))
	assert.Equal(t, GradeGood, GradeBand(0.82, primary))
	assert.Equal(t, GradeExcellent, GradeBand(0.82, middle))
	assert.Equal(t, GradeExcellent, GradeBand(0.85, primary))
}

func TestGradeDistributionSumsToOne(t *testing.T) {
	records := scoreRecords(100, 60, 59, 70, 80, 85, 95, 10, 66, 73)
	records[0].GradeLevel = 3
	records[4].GradeLevel = 3

	res, err := GradeDistribution{}.Calculate(records, DefaultConfig())
	require.NoError(t, err)
	require.Len(t, res.Bands, 4)

	var sum float64
	counts := map[string]int{}
	for _, b := range res.Bands {
		sum += b.Percentage
		counts[b.Band] = b.Count
	}
	assert.InDelta(t, 1.0, sum, 0.01)
	// 80 in grade 8 and 85 in grade 3 are excellent, 95 too
	assert.Equal(t, 3, counts[GradeExcellent])
	assert.Equal(t, 2, counts[GradeGood])
	assert.Equal(t, 2, counts[GradePass])
	assert.Equal(t, 2, counts[GradeFail])
}

func TestDimensionAggregator(t *testing.T) {
	dims := []models.DimensionMapping{
		{DimensionID: "algebra", QuestionIDs: []string{"q1", "q2"}, MaxScore: 10,
			Weights: []models.QuestionWeight{{QuestionID: "q2", Weight: 3}}},
		{DimensionID: "geometry", DimensionName: "Geometry", QuestionIDs: []string{"q3"}, MaxScore: 10},
	}
	records := []models.ScoreRecord{
		{StudentID: "a", QuestionScores: questions("q1", 2, "q2", 6, "q3", 4)},
		{StudentID: "b", QuestionScores: questions("q1", 4, "q2", 8, "q3", 6)},
		{StudentID: "c", QuestionScores: questions("q1", 10, "q2", 10, "q3", 9)},
		{StudentID: "d", QuestionScores: questions("q1", 1, "q2", nil, "q3", 2)},
	}

	res, err := DimensionAggregator{}.Calculate(records, Config{Dimensions: dims})
	require.NoError(t, err)
	require.Len(t, res.Dimensions, 2)

	algebra := res.Dimensions[0]
	assert.Equal(t, "algebra", algebra.DimensionName)
	// weighted means: a=(2+18)/4=5, b=(4+24)/4=7, c=10, d=1 (q2 missing)
	assert.InDelta(t, 5.75, algebra.Mean(), 1e-9)
	assert.InDelta(t, 0.575, algebra.ScoreRate, 1e-9)

	require.Len(t, res.Correlations, 1)
	corr := res.Correlations[0]
	assert.Equal(t, "algebra", corr.DimensionA)
	assert.Equal(t, "geometry", corr.DimensionB)
	assert.Greater(t, corr.Coefficient, 0.9)
	assert.Equal(t, CorrelationStrong, corr.Strength)
	assert.Equal(t, 4, corr.Pairs)
}

func TestDimensionScorePrefersPrecomputed(t *testing.T) {
	dim := models.DimensionMapping{DimensionID: "d1", QuestionIDs: []string{"q1"}, MaxScore: 5}
	r := models.ScoreRecord{
		QuestionScores:  questions("q1", 1),
		DimensionScores: []models.DimensionScore{{DimensionID: "d1", Score: 4}},
	}
	v, ok := DimensionScore(r, dim)
	require.True(t, ok)
	assert.Equal(t, 4.0, v)
}

func TestDimensionScoreRateIsClamped(t *testing.T) {
	dims := []models.DimensionMapping{{DimensionID: "d1", MaxScore: 5}}
	records := []models.ScoreRecord{{DimensionScores: []models.DimensionScore{{DimensionID: "d1", Score: 7}}}}
	res, err := DimensionAggregator{}.Calculate(records, Config{Dimensions: dims})
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Dimensions[0].ScoreRate)
}

func TestCronbachAlpha(t *testing.T) {
	matrix := [][]float64{
		{1, 1, 2},
		{2, 2, 2},
		{3, 3, 4},
		{4, 4, 4},
		{5, 5, 5},
	}
	alpha, ok := CronbachAlpha(matrix)
	require.True(t, ok)
	assert.Greater(t, alpha, 0.9)
	assert.LessOrEqual(t, alpha, 1.0)

	_, ok = CronbachAlpha([][]float64{{1, 2}})
	assert.False(t, ok)
}

func TestFrequencyAnalysis(t *testing.T) {
	scale := models.NewLikertScale(models.InstrumentLikert5, 5)
	scale.Dimensions["engagement"] = models.ScaleDimension{ForwardQuestions: []string{"q1"}, ReverseQuestions: []string{"q2"}}
	records := []models.ScoreRecord{
		{StudentID: "a", QuestionScores: questions("q1", 5, "q2", 1)},
		{StudentID: "b", QuestionScores: questions("q1", 5, "q2", nil)},
		{StudentID: "c", QuestionScores: questions("q1", 3, "q2", 9)},
		{StudentID: "d", QuestionScores: questions("q1", 4, "q2", 2)},
	}

	res, err := FrequencyAnalysis{}.Calculate(records, Config{Scale: &scale})
	require.NoError(t, err)
	require.Len(t, res.Questions, 2)

	q1 := res.Questions[0]
	assert.Equal(t, "q1", q1.QuestionID)
	assert.Equal(t, 4, q1.Valid)
	assert.Equal(t, 0, q1.Missing)
	require.Len(t, q1.Options, 5)
	assert.Equal(t, 2, q1.Options[4].Count)
	assert.Equal(t, 0.5, q1.Options[4].Percentage)
	assert.Equal(t, "strongly_agree", q1.Options[4].Label)

	q2 := res.Questions[1]
	assert.Equal(t, 2, q2.Valid)
	assert.Equal(t, 2, q2.Missing, "missing and out-of-scale responses")
	assert.Equal(t, 0.25, q2.Options[0].Percentage)
	assert.Equal(t, 0.5, q2.Options[0].ValidPercentage)

	require.Len(t, res.DimensionOptions, 1)
	assert.Equal(t, 6, res.DimensionOptions[0].Valid)
	assert.InDelta(t, 0.75, res.Metrics["response_rate"], 1e-12)
}

func TestFrequencyAnalysisTreatsFractionalResponsesAsMissing(t *testing.T) {
	scale := models.NewLikertScale(models.InstrumentLikert5, 5)
	records := []models.ScoreRecord{
		{StudentID: "a", QuestionScores: questions("q1", 2.6)},
		{StudentID: "b", QuestionScores: questions("q1", 3)},
		{StudentID: "c", QuestionScores: questions("q1", 3.0)},
	}

	for name, cfg := range map[string]Config{"scaled": {Scale: &scale}, "unscaled": {}} {
		res, err := FrequencyAnalysis{}.Calculate(records, cfg)
		require.NoError(t, err, name)
		q1 := res.Questions[0]
		assert.Equal(t, 2, q1.Valid, name)
		assert.Equal(t, 1, q1.Missing, name)
		for _, o := range q1.Options {
			if o.Option == 3 {
				assert.Equal(t, 2, o.Count, name)
			}
		}
	}
}

func TestDimensionAggregatorAppliesDimensionWeights(t *testing.T) {
	dims := []models.DimensionMapping{
		{DimensionID: "algebra", QuestionIDs: []string{"q1", "q2"}, MaxScore: 10, Weight: 3,
			Weights: []models.QuestionWeight{{QuestionID: "q2", Weight: 3}}},
		{DimensionID: "geometry", QuestionIDs: []string{"q3"}, MaxScore: 10},
	}
	records := []models.ScoreRecord{
		{StudentID: "a", QuestionScores: questions("q1", 2, "q2", 6, "q3", 4)},
		{StudentID: "b", QuestionScores: questions("q1", 4, "q2", 8, "q3", 6)},
		{StudentID: "c", QuestionScores: questions("q1", 10, "q2", 10, "q3", 9)},
		{StudentID: "d", QuestionScores: questions("q1", 1, "q2", nil, "q3", 2)},
	}

	res, err := DimensionAggregator{}.Calculate(records, Config{Dimensions: dims})
	require.NoError(t, err)
	algebra, geometry := res.Dimensions[0], res.Dimensions[1]
	assert.Equal(t, 3.0, algebra.Weight)
	assert.InDelta(t, 17.25, algebra.WeightedMean, 1e-9)
	assert.Equal(t, 1.0, geometry.Weight, "unset weight counts once")
	assert.InDelta(t, 5.25, geometry.WeightedMean, 1e-9)
	// (0.575*3 + 0.525*1) / 4
	assert.InDelta(t, 0.5625, res.Metrics["weighted_score_rate"], 1e-9)
}
