package service

import (
	"sort"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-stats-engine/internal/calculation"
	"github.com/noah-isme/sma-stats-engine/internal/dto"
	"github.com/noah-isme/sma-stats-engine/internal/models"
	appErrors "github.com/noah-isme/sma-stats-engine/pkg/errors"
	"github.com/noah-isme/sma-stats-engine/pkg/precision"
)

// DefaultSchemaVersion is the report contract version emitted when none is configured.
const DefaultSchemaVersion = "v1.2"

// EntityMeta identifies the entity a report is assembled for.
type EntityMeta struct {
	BatchCode  string
	Level      models.EntityLevel
	EntityID   string
	EntityName string
}

// ItemCalculation holds the item analysis of one exam question.
type ItemCalculation struct {
	QuestionID     string
	Difficulty     *models.CalculationResult
	Discrimination *models.CalculationResult
}

// SubjectCalculation gathers everything calculated for one subject of an entity.
type SubjectCalculation struct {
	SubjectID   string
	SubjectName string
	Type        models.SubjectType
	// Results is keyed by strategy name.
	Results map[string]*models.CalculationResult
	// Frequency is the option distribution over raw survey responses.
	Frequency *models.CalculationResult
	Items     []ItemCalculation
	// SchoolRankings is set on region-level subjects. Entry values are in RankField
	// units; SchoolAverages carries each school's mean for the avg column.
	SchoolRankings   []models.RankingEntry
	SchoolAverages   map[string]float64
	RankField        string
	RankDistribution *dto.RankDistribution
	// RegionRank and TotalSchools are set on school-level subjects.
	RegionRank     *int
	TotalSchools   *int
	RankPosition   *models.RankingEntry
	DimensionRanks map[string]int
}

// AssemblerService maps strategy results onto the versioned report contract.
type AssemblerService struct {
	schemaVersion string
	logger        *zap.Logger
}

// NewAssemblerService constructs the assembler.
func NewAssemblerService(schemaVersion string, logger *zap.Logger) *AssemblerService {
	if schemaVersion == "" {
		schemaVersion = DefaultSchemaVersion
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssemblerService{schemaVersion: schemaVersion, logger: logger}
}

// SchemaVersion returns the emitted schema version.
func (s *AssemblerService) SchemaVersion() string {
	return s.schemaVersion
}

// NewReport returns an empty report for meta.
func (s *AssemblerService) NewReport(meta EntityMeta) *dto.EntityReport {
	return &dto.EntityReport{
		SchemaVersion: s.schemaVersion,
		BatchCode:     meta.BatchCode,
		Level:         string(meta.Level),
		EntityID:      meta.EntityID,
		EntityName:    meta.EntityName,
		Subjects:      []dto.SubjectReport{},
	}
}

// Assemble builds a complete report. A subject that lacks a required metric fails the whole call.
func (s *AssemblerService) Assemble(meta EntityMeta, subjects []SubjectCalculation) (*dto.EntityReport, error) {
	report := s.NewReport(meta)
	for _, sc := range subjects {
		subject, err := s.BuildSubject(sc)
		if err != nil {
			return nil, err
		}
		report.Subjects = append(report.Subjects, subject)
	}
	NormalizeReport(report)
	return report, nil
}

// BuildSubject maps one subject. Values are left unrounded; NormalizeReport applies the precision rules.
func (s *AssemblerService) BuildSubject(sc SubjectCalculation) (dto.SubjectReport, error) {
	out := dto.SubjectReport{
		SubjectID:   sc.SubjectID,
		SubjectName: sc.SubjectName,
		Type:        ReportSubjectType(sc.Type),
	}

	basic := sc.Results[calculation.StrategyBasic]
	metrics := map[string]*float64{
		"count": nil, "mean": nil, "std": nil, "max": nil, "min": nil,
	}
	for name := range metrics {
		v, err := basic.Metric(name)
		if err != nil {
			return out, appErrors.Clonef(appErrors.ErrMissingField, "subject %s: %s", sc.SubjectID, err.Error())
		}
		metrics[name] = &v
	}
	difficulty, err := sc.Results[calculation.StrategyDifficulty].Metric("difficulty")
	if err != nil {
		return out, appErrors.Clonef(appErrors.ErrMissingField, "subject %s: %s", sc.SubjectID, err.Error())
	}

	out.StudentCount = int(*metrics["count"])
	out.Metrics = dto.SubjectMetrics{
		Avg:        *metrics["mean"],
		StdDev:     *metrics["std"],
		Max:        *metrics["max"],
		Min:        *metrics["min"],
		Difficulty: difficulty,
	}

	byAvg := sc.RankField == "" || sc.RankField == RankFieldAvgScore
	for _, e := range sc.SchoolRankings {
		row := dto.SchoolRanking{
			SchoolID:   e.EntityID,
			SchoolName: e.EntityName,
			Avg:        e.Value,
			Rank:       e.Rank,
			Percentile: e.Percentile,
			Category:   e.Category,
		}
		if !byAvg {
			value := e.Value
			row.RankValue = &value
			row.Avg = sc.SchoolAverages[e.EntityID]
		}
		out.SchoolRankings = append(out.SchoolRankings, row)
	}
	if len(sc.SchoolRankings) > 0 {
		out.RankField = sc.RankField
		out.RankDistribution = sc.RankDistribution
	}
	out.RegionRank = sc.RegionRank
	out.TotalSchools = sc.TotalSchools
	if p := sc.RankPosition; p != nil {
		pct := p.Percentile
		out.RankPercentile = &pct
		out.RankCategory = p.Category
	}

	if res, ok := sc.Results[calculation.StrategyPercentiles]; ok && res != nil {
		out.Percentiles = map[string]float64{}
		for key, v := range res.Metrics {
			if len(key) > 1 && key[0] == 'P' {
				out.Percentiles[key] = v
			}
		}
	}

	if res, ok := sc.Results[calculation.StrategyGradeDistribution]; ok && res != nil {
		for _, b := range res.Bands {
			out.GradeDistribution = append(out.GradeDistribution, dto.GradeBand{Band: b.Band, Count: b.Count, Percentage: b.Percentage})
		}
	}

	if res, ok := sc.Results[calculation.StrategyDiscrimination]; ok && res != nil {
		index, err := res.Metric("discrimination_index")
		if err != nil {
			return out, err
		}
		level, err := res.Label("discrimination_level")
		if err != nil {
			return out, err
		}
		out.Discrimination = &dto.Discrimination{Index: index, Level: level, GroupSize: int(res.Metrics["group_size"])}
	}

	if res, ok := sc.Results[calculation.StrategyDimensions]; ok && res != nil {
		out.Dimensions = s.dimensions(res, sc)
		if v, ok := res.Metrics["weighted_score_rate"]; ok {
			out.DimensionIndex = &v
		}
	}

	if sc.Frequency != nil {
		for _, q := range sc.Frequency.Questions {
			out.Questions = append(out.Questions, dto.QuestionReport{
				QuestionID:         q.QuestionID,
				Missing:            q.Missing,
				OptionDistribution: optionShares(q.Options),
			})
		}
	}

	for _, item := range sc.Items {
		ir, err := itemReport(item)
		if err != nil {
			s.logger.Debug("item analysis skipped", zap.String("subject_id", sc.SubjectID), zap.String("question_id", item.QuestionID), zap.Error(err))
			continue
		}
		out.Items = append(out.Items, ir)
	}
	return out, nil
}

func (s *AssemblerService) dimensions(res *models.CalculationResult, sc SubjectCalculation) []dto.DimensionReport {
	pooled := map[string][]models.OptionCount{}
	if sc.Frequency != nil {
		for _, d := range sc.Frequency.DimensionOptions {
			pooled[d.DimensionID] = d.Options
		}
	}
	out := make([]dto.DimensionReport, 0, len(res.Dimensions))
	for _, d := range res.Dimensions {
		dr := dto.DimensionReport{
			Code:        d.DimensionID,
			Name:        d.DimensionName,
			Avg:         d.Mean(),
			ScoreRate:   d.ScoreRate,
			Weight:      d.Weight,
			WeightedAvg: d.WeightedMean,
			Reliability: d.Reliability,
		}
		if rank, ok := sc.DimensionRanks[d.DimensionID]; ok {
			r := rank
			dr.Rank = &r
		}
		if opts, ok := pooled[d.DimensionID]; ok {
			dr.OptionDistribution = optionShares(opts)
		}
		out = append(out, dr)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// optionShares reports option percentages relative to the valid responses.
func optionShares(options []models.OptionCount) []dto.OptionShare {
	out := make([]dto.OptionShare, 0, len(options))
	for _, o := range options {
		out = append(out, dto.OptionShare{Option: o.Option, Label: o.Label, Count: o.Count, Percentage: o.ValidPercentage * 100})
	}
	return out
}

func itemReport(item ItemCalculation) (dto.ItemReport, error) {
	ir := dto.ItemReport{QuestionID: item.QuestionID}
	var err error
	if ir.Avg, err = item.Difficulty.Metric("mean"); err != nil {
		return ir, err
	}
	if ir.Difficulty, err = item.Difficulty.Metric("difficulty"); err != nil {
		return ir, err
	}
	if ir.DifficultyLevel, err = item.Difficulty.Label("difficulty_level"); err != nil {
		return ir, err
	}
	if ir.Discrimination, err = item.Discrimination.Metric("discrimination_index"); err != nil {
		return ir, err
	}
	if ir.DiscriminationLevel, err = item.Discrimination.Label("discrimination_level"); err != nil {
		return ir, err
	}
	return ir, nil
}

// ReportSubjectType maps a subject type onto the report vocabulary.
func ReportSubjectType(t models.SubjectType) string {
	if t.IsSurvey() {
		return dto.SubjectTypeQuestionnaire
	}
	return dto.SubjectTypeExam
}

// NormalizeReport applies the precision rules to every numeric field in place:
// scores to one decimal, rates and grade-band ratios to three, option percentages
// to two on a 0-100 scale. Applying it twice changes nothing.
func NormalizeReport(r *dto.EntityReport) {
	if r == nil {
		return
	}
	for i := range r.Subjects {
		s := &r.Subjects[i]
		s.Metrics.Avg = precision.Score(s.Metrics.Avg)
		s.Metrics.StdDev = precision.Score(s.Metrics.StdDev)
		s.Metrics.Max = precision.Score(s.Metrics.Max)
		s.Metrics.Min = precision.Score(s.Metrics.Min)
		s.Metrics.Difficulty = precision.Rate(s.Metrics.Difficulty)

		for j := range s.SchoolRankings {
			row := &s.SchoolRankings[j]
			row.Avg = precision.Score(row.Avg)
			row.Percentile = precision.Percent(row.Percentile)
			if row.RankValue != nil {
				v := precision.RankValue(*row.RankValue)
				row.RankValue = &v
			}
		}
		if s.RankPercentile != nil {
			v := precision.Percent(*s.RankPercentile)
			s.RankPercentile = &v
		}
		for k, v := range s.Percentiles {
			s.Percentiles[k] = precision.Score(v)
		}
		for j := range s.GradeDistribution {
			s.GradeDistribution[j].Percentage = precision.Rate(s.GradeDistribution[j].Percentage)
		}
		if s.Discrimination != nil {
			s.Discrimination.Index = precision.Rate(s.Discrimination.Index)
		}
		if s.DimensionIndex != nil {
			v := precision.Rate(*s.DimensionIndex)
			s.DimensionIndex = &v
		}
		for j := range s.Dimensions {
			d := &s.Dimensions[j]
			d.Avg = precision.Score(d.Avg)
			d.WeightedAvg = precision.Score(d.WeightedAvg)
			d.ScoreRate = precision.Rate(d.ScoreRate)
			if d.Reliability != nil {
				v := precision.Rate(*d.Reliability)
				d.Reliability = &v
			}
			normalizeShares(d.OptionDistribution)
		}
		for j := range s.Questions {
			normalizeShares(s.Questions[j].OptionDistribution)
		}
		for j := range s.Items {
			it := &s.Items[j]
			it.Avg = precision.Score(it.Avg)
			it.Difficulty = precision.Rate(it.Difficulty)
			it.Discrimination = precision.Rate(it.Discrimination)
		}
	}
}

func normalizeShares(shares []dto.OptionShare) {
	for i := range shares {
		shares[i].Percentage = precision.Percent(shares[i].Percentage)
	}
}
