package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-stats-engine/internal/calculation"
	"github.com/noah-isme/sma-stats-engine/internal/dto"
	"github.com/noah-isme/sma-stats-engine/internal/models"
	"github.com/noah-isme/sma-stats-engine/internal/survey"
	appErrors "github.com/noah-isme/sma-stats-engine/pkg/errors"
)

// ScoreSource loads the score rows of a batch.
type ScoreSource interface {
	LoadScores(ctx context.Context, batchCode string) ([]models.ScoreRecord, error)
}

// ResultStore persists assembled results. Replace swaps the stored result of an
// entity wholesale, keeping the previous one as history.
type ResultStore interface {
	Replace(ctx context.Context, result *models.AggregationResult) error
	Find(ctx context.Context, batchCode string, level models.EntityLevel, entityID string) (*models.AggregationResult, error)
}

// RankingExporter publishes region rankings once a batch has been stored.
type RankingExporter interface {
	ExportRankings(ctx context.Context, result *models.AggregationResult) ([]string, error)
}

// AggregationOptions tune a batch run.
type AggregationOptions struct {
	Workers int
	// BatchDeadline bounds the calculation phase; zero disables it.
	BatchDeadline    time.Duration
	Percentiles      []int
	GroupFraction    float64
	DropAbsent       bool
	CompletenessWarn float64
	SurveyRules      survey.Rules
	IncludeFlagged   bool
	// RankWeights selects the school ranking fields; empty ranks by average.
	RankWeights []RankWeight
}

// DefaultAggregationOptions returns the production defaults.
func DefaultAggregationOptions() AggregationOptions {
	return AggregationOptions{
		Workers:          4,
		Percentiles:      append([]int(nil), calculation.DefaultPercentiles...),
		GroupFraction:    calculation.DefaultGroupFraction,
		DropAbsent:       true,
		CompletenessWarn: DefaultCompletenessWarn,
		SurveyRules:      survey.DefaultRules(),
		IncludeFlagged:   true,
		RankWeights:      DefaultRankWeights(),
	}
}

// PerformanceBudget is the expected duration of a batch by size. Overruns are logged and counted.
func PerformanceBudget(rows int) time.Duration {
	switch {
	case rows <= 10000:
		return 5 * time.Second
	case rows <= 50000:
		return 15 * time.Second
	default:
		return 30 * time.Second
	}
}

const regionPartitionKey = "region"

// AggregationService recalculates every entity of a batch: the region and each school.
type AggregationService struct {
	source    ScoreSource
	store     ResultStore
	bundle    models.Bundle
	engine    *calculation.Engine
	executor  *calculation.ParallelExecutor
	validator *ValidationService
	ranking   *RankingService
	assembler *AssemblerService
	cache     *ResultCache
	metrics   *MetricsService
	exporter  RankingExporter
	opts      AggregationOptions
	logger    *zap.Logger
}

// NewAggregationService wires the orchestrator.
func NewAggregationService(source ScoreSource, store ResultStore, bundle models.Bundle, engine *calculation.Engine, assembler *AssemblerService, cache *ResultCache, metrics *MetricsService, opts AggregationOptions, logger *zap.Logger) *AggregationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if assembler == nil {
		assembler = NewAssemblerService(DefaultSchemaVersion, logger)
	}
	return &AggregationService{
		source:    source,
		store:     store,
		bundle:    bundle,
		engine:    engine,
		executor:  calculation.NewParallelExecutor(opts.Workers, logger),
		validator: NewValidationService(logger),
		ranking:   NewRankingService(),
		assembler: assembler,
		cache:     cache,
		metrics:   metrics,
		opts:      opts,
		logger:    logger,
	}
}

// SetExporter enables ranking export after each run.
func (s *AggregationService) SetExporter(exporter RankingExporter) {
	s.exporter = exporter
}

type subjectRun struct {
	config    models.SubjectConfig
	kind      models.SubjectType
	results   map[string]*models.CalculationResult
	frequency *models.CalculationResult
	items     []ItemCalculation
	warnings  []models.QualityWarning
	err       error
}

func (r *subjectRun) ok() bool {
	return r != nil && r.err == nil
}

func (r *subjectRun) mean() (float64, bool) {
	if !r.ok() {
		return 0, false
	}
	v, err := r.results[calculation.StrategyBasic].Metric("mean")
	return v, err == nil
}

type entityRun struct {
	meta     EntityMeta
	subjects []*subjectRun
	bySubj   map[string]*subjectRun
	duration time.Duration
	err      error
	// rankings filled in after every partition has finished
	schoolRankings map[string]*subjectRanking
	rankPositions  map[string]models.RankingEntry
	totalSchools   map[string]int
	dimensionRanks map[string]map[string]int
}

// subjectRanking is the region view of one subject's school ranking.
type subjectRanking struct {
	entries      []models.RankingEntry
	averages     map[string]float64
	field        string
	distribution *dto.RankDistribution
}

// rankFieldName labels a ranking: the field itself, or "composite" for weighted fields.
func rankFieldName(weights []RankWeight) string {
	if len(weights) == 1 {
		return weights[0].Field
	}
	return "composite"
}

// Run recalculates batchCode. Failures are scoped to the entity they occur in; the
// returned status reports the mix of completed, partial and failed entities. Only a
// failure to load the batch is returned as an error.
func (s *AggregationService) Run(ctx context.Context, batchCode string) (*models.BatchStatus, error) {
	started := time.Now()
	status := &models.BatchStatus{RunID: uuid.NewString(), BatchCode: batchCode, StartedAt: started.UTC()}
	logger := s.logger.With(zap.String("batch_code", batchCode), zap.String("run_id", status.RunID))

	loadStart := time.Now()
	records, err := s.source.LoadScores(ctx, batchCode)
	s.metrics.ObserveDBQuery("load_scores", time.Since(loadStart))
	if err != nil {
		logger.Error("load scores failed", zap.Error(err))
		return nil, err
	}
	status.Rows = len(records)
	budget := PerformanceBudget(len(records))
	logger.Info("batch recalculation started", zap.Int("rows", len(records)), zap.Duration("budget", budget))

	if err := s.cache.InvalidateBatch(ctx, batchCode); err != nil {
		logger.Warn("cache invalidation failed", zap.Error(err))
	}

	calcCtx := ctx
	if s.opts.BatchDeadline > 0 {
		var cancel context.CancelFunc
		calcCtx, cancel = context.WithTimeout(ctx, s.opts.BatchDeadline)
		defer cancel()
	}

	runs := s.calculate(calcCtx, batchCode, records)
	s.rank(runs)

	for _, run := range runs {
		result := s.assemble(status.RunID, run)
		if err := s.persist(ctx, result); err != nil {
			logger.Error("persist result failed", zap.String("entity_id", result.EntityID), zap.Error(err))
			result.Status = models.StatusFailed
			result.Errors = append(result.Errors, subjectError("", err))
		}
		s.metrics.RecordEntity(result.Level, result.Status)
		status.Record(models.EntityOutcome{
			Level:      result.Level,
			EntityID:   result.EntityID,
			EntityName: result.EntityName,
			Status:     result.Status,
			Errors:     result.Errors,
		})
		if result.Level == models.LevelRegion && result.Status != models.StatusFailed && s.exporter != nil {
			if files, err := s.exporter.ExportRankings(ctx, result); err != nil {
				logger.Warn("ranking export failed", zap.Error(err))
			} else {
				logger.Info("rankings exported", zap.Strings("files", files))
			}
		}
	}

	status.Finalize(time.Now().UTC())
	elapsed := time.Since(started)
	s.metrics.ObserveBatch(len(records), elapsed, budget)
	if elapsed > budget {
		logger.Warn("batch exceeded performance budget", zap.Duration("elapsed", elapsed), zap.Duration("budget", budget))
	}
	logger.Info("batch recalculation finished",
		zap.String("status", string(status.Status)),
		zap.Int("completed", status.Completed),
		zap.Int("partial", status.Partial),
		zap.Int("failed", status.Failed),
		zap.Duration("elapsed", elapsed),
	)
	return status, nil
}

// Result returns a stored entity result, reading through the cache.
func (s *AggregationService) Result(ctx context.Context, batchCode string, level models.EntityLevel, entityID string) (*models.AggregationResult, error) {
	if cached, hit := s.cache.Lookup(ctx, batchCode, level, entityID); hit {
		return cached, nil
	}
	result, err := s.store.Find(ctx, batchCode, level, entityID)
	if err != nil {
		return nil, err
	}
	_ = s.cache.Store(ctx, result)
	return result, nil
}

// calculate runs the region and every school as independent partitions.
func (s *AggregationService) calculate(ctx context.Context, batchCode string, records []models.ScoreRecord) []*entityRun {
	schools := calculation.PartitionBySchool(records)
	parts := make([]calculation.Partition, 0, len(schools)+1)
	parts = append(parts, calculation.Partition{Key: regionPartitionKey, Name: models.RegionEntityID, Records: records})
	for _, p := range schools {
		p.Key = "school:" + p.Key
		parts = append(parts, p)
	}

	runs := make([]*entityRun, len(parts))
	index := make(map[string]int, len(parts))
	for i, p := range parts {
		index[p.Key] = i
		meta := EntityMeta{BatchCode: batchCode, Level: models.LevelSchool, EntityID: p.Key[len("school:"):], EntityName: p.Name}
		if p.Key == regionPartitionKey {
			meta = EntityMeta{BatchCode: batchCode, Level: models.LevelRegion, EntityID: models.RegionEntityID, EntityName: models.RegionEntityID}
		}
		runs[i] = &entityRun{meta: meta}
	}

	outcomes := s.executor.Run(ctx, parts, func(ctx context.Context, p calculation.Partition) error {
		run := runs[index[p.Key]]
		start := time.Now()
		run.subjects, run.bySubj = s.calculateEntity(ctx, p.Records, run.meta.Level == models.LevelRegion)
		run.duration = time.Since(start)
		return nil
	})
	for _, o := range outcomes {
		if o.Err != nil {
			runs[index[o.Key]].err = o.Err
		}
	}
	return runs
}

func (s *AggregationService) calculateEntity(ctx context.Context, rows []models.ScoreRecord, withItems bool) ([]*subjectRun, map[string]*subjectRun) {
	groups := map[string][]models.ScoreRecord{}
	var ids []string
	for _, r := range rows {
		if _, ok := groups[r.SubjectID]; !ok {
			ids = append(ids, r.SubjectID)
		}
		groups[r.SubjectID] = append(groups[r.SubjectID], r)
	}
	sort.Strings(ids)

	subjects := make([]*subjectRun, 0, len(ids))
	bySubj := make(map[string]*subjectRun, len(ids))
	for _, id := range ids {
		var run *subjectRun
		if err := ctx.Err(); err != nil {
			cfg, kind := s.subjectConfig(id, groups[id])
			run = &subjectRun{config: cfg, kind: kind, err: appErrors.Wrap(err, appErrors.ErrDeadlineExceeded.Code, true, "batch deadline exceeded before subject was calculated")}
		} else {
			run = s.calculateSubject(id, groups[id], withItems)
		}
		subjects = append(subjects, run)
		bySubj[id] = run
	}
	return subjects, bySubj
}

func (s *AggregationService) subjectConfig(subjectID string, rows []models.ScoreRecord) (models.SubjectConfig, models.SubjectType) {
	cfg, ok := s.bundle.Subject(subjectID)
	if !ok {
		cfg = models.SubjectConfig{SubjectID: subjectID}
	}
	kind := models.SubjectTypeExam
	for _, r := range rows {
		if cfg.SubjectName == "" && r.SubjectName != "" {
			cfg.SubjectName = r.SubjectName
		}
		if r.SubjectType != "" {
			kind = r.SubjectType
			break
		}
	}
	if cfg.SubjectName == "" {
		cfg.SubjectName = subjectID
	}
	return cfg, kind
}

func (s *AggregationService) baseConfig(subject models.SubjectConfig) calculation.Config {
	cfg := calculation.DefaultConfig()
	cfg.MaxScore = subject.MaxScore
	if len(s.opts.Percentiles) > 0 {
		cfg.Percentiles = s.opts.Percentiles
	}
	if s.opts.GroupFraction > 0 {
		cfg.GroupFraction = s.opts.GroupFraction
	}
	if s.bundle.Grades != (models.GradeScheme{}) {
		cfg.Grades = s.bundle.Grades
	}
	cfg.Dimensions = subject.Dimensions
	cfg.Scale = subject.Scale
	cfg.DropAbsent = s.opts.DropAbsent
	return cfg
}

func (s *AggregationService) calculateSubject(subjectID string, rows []models.ScoreRecord, withItems bool) *subjectRun {
	subject, kind := s.subjectConfig(subjectID, rows)
	run := &subjectRun{config: subject, kind: kind}

	report := s.validator.Validate(rows, ValidationOptions{CompletenessWarn: s.opts.CompletenessWarn, Subject: &subject})
	run.warnings = append(run.warnings, report.Warnings...)
	if err := report.Err(); err != nil {
		run.err = err
		return run
	}

	cfg := s.baseConfig(subject)
	prepared, responses := report.Accepted, report.Accepted
	if kind.IsSurvey() {
		var err error
		if prepared, responses, err = s.prepareSurvey(run, &cfg, report.Accepted); err != nil {
			run.err = err
			return run
		}
	}

	required := []string{calculation.StrategyBasic, calculation.StrategyDifficulty}
	results, err := s.engine.CalculateAll(required, prepared, cfg)
	if err != nil {
		run.err = err
		return run
	}
	run.results = results

	optional := []string{calculation.StrategyPercentiles}
	if !kind.IsSurvey() {
		optional = append(optional, calculation.StrategyGradeDistribution, calculation.StrategyDiscrimination)
	}
	if len(cfg.Dimensions) > 0 {
		optional = append(optional, calculation.StrategyDimensions)
	}
	for _, name := range optional {
		res, err := s.engine.Calculate(name, prepared, cfg)
		if err != nil {
			run.warn(models.WarningSkipped, fmt.Sprintf("%s skipped: %v", name, err))
			continue
		}
		run.results[name] = res
	}

	if kind.IsSurvey() {
		freq, err := s.engine.Calculate(calculation.StrategyFrequency, responses, cfg)
		if err != nil {
			run.warn(models.WarningSkipped, fmt.Sprintf("%s skipped: %v", calculation.StrategyFrequency, err))
		} else {
			run.frequency = freq
		}
	}

	if withItems && !kind.IsSurvey() {
		run.items = s.itemAnalysis(run, prepared, cfg)
	}

	for _, res := range run.results {
		for _, w := range res.Warnings {
			w.SubjectID = subjectID
			run.warnings = append(run.warnings, w)
		}
	}
	return run
}

// prepareSurvey normalizes raw responses and narrows cfg to the transformed scale.
// It returns the transformed rows and the raw rows of the same respondents.
func (s *AggregationService) prepareSurvey(run *subjectRun, cfg *calculation.Config, rows []models.ScoreRecord) ([]models.ScoreRecord, []models.ScoreRecord, error) {
	if run.config.Scale == nil {
		return nil, nil, appErrors.Clonef(appErrors.ErrValidation, "survey subject %s has no scale configured", run.config.SubjectID)
	}
	var expected []string
	for _, q := range run.config.Questions {
		expected = append(expected, q.QuestionID)
	}
	transformer, err := survey.NewTransformer(*run.config.Scale, s.opts.SurveyRules, expected)
	if err != nil {
		return nil, nil, err
	}
	transformed := transformer.TransformAll(rows)
	run.warnings = append(run.warnings, survey.Summarize(transformed, run.config.SubjectID)...)

	scale := transformer.Scale()
	cfg.Scale = &scale
	cfg.MaxScore = 0
	if len(cfg.Dimensions) == 0 {
		for _, id := range scale.DimensionIDs() {
			cfg.Dimensions = append(cfg.Dimensions, models.DimensionMapping{
				DimensionID: id,
				QuestionIDs: scale.Dimensions[id].Questions(),
				MaxScore:    scale.MaxNormalized(),
			})
		}
	}
	return survey.Filter(transformed, s.opts.IncludeFlagged), survey.FilterRaw(rows, transformed, s.opts.IncludeFlagged), nil
}

func (s *AggregationService) itemAnalysis(run *subjectRun, rows []models.ScoreRecord, cfg calculation.Config) []ItemCalculation {
	items := make([]ItemCalculation, 0, len(run.config.Questions))
	for _, q := range run.config.Questions {
		if q.MaxScore <= 0 {
			continue
		}
		itemCfg := cfg.ForQuestion(q.QuestionID, q.MaxScore)
		diff, err := s.engine.Calculate(calculation.StrategyDifficulty, rows, itemCfg)
		if err != nil {
			run.warn(models.WarningSkipped, fmt.Sprintf("item %s skipped: %v", q.QuestionID, err))
			continue
		}
		disc, err := s.engine.Calculate(calculation.StrategyDiscrimination, rows, itemCfg)
		if err != nil {
			run.warn(models.WarningSkipped, fmt.Sprintf("item %s skipped: %v", q.QuestionID, err))
			continue
		}
		items = append(items, ItemCalculation{QuestionID: q.QuestionID, Difficulty: diff, Discrimination: disc})
	}
	return items
}

func (r *subjectRun) warn(code, msg string) {
	r.warnings = append(r.warnings, models.QualityWarning{Code: code, Message: msg, Count: 1, SubjectID: r.config.SubjectID})
}

// rank orders the schools of each subject by the configured ranking fields and each
// school's dimensions against the same dimension in sibling schools.
func (s *AggregationService) rank(runs []*entityRun) {
	var region *entityRun
	var schools []*entityRun
	for _, run := range runs {
		if run.meta.Level == models.LevelRegion {
			region = run
		} else {
			schools = append(schools, run)
		}
	}

	subjectIDs := map[string]bool{}
	for _, school := range schools {
		for id := range school.bySubj {
			subjectIDs[id] = true
		}
	}

	weights := s.opts.RankWeights
	if len(weights) == 0 {
		weights = DefaultRankWeights()
	}
	for id := range subjectIDs {
		var candidates []RankCandidate
		averages := map[string]float64{}
		dims := map[string][]models.RankingEntry{}
		for _, school := range schools {
			if school.err != nil {
				continue
			}
			run := school.bySubj[id]
			mean, ok := run.mean()
			if !ok {
				continue
			}
			averages[school.meta.EntityID] = mean
			candidates = append(candidates, RankCandidate{EntityID: school.meta.EntityID, EntityName: school.meta.EntityName, Results: run.results})
			if res, ok := run.results[calculation.StrategyDimensions]; ok {
				for _, d := range res.Dimensions {
					dims[d.DimensionID] = append(dims[d.DimensionID], models.RankingEntry{EntityID: school.meta.EntityID, Value: d.Mean()})
				}
			}
		}

		ranked := s.ranking.Rank(candidates, weights)
		if region != nil && region.err == nil {
			if region.schoolRankings == nil {
				region.schoolRankings = map[string]*subjectRanking{}
			}
			region.schoolRankings[id] = &subjectRanking{
				entries:      ranked,
				averages:     averages,
				field:        rankFieldName(weights),
				distribution: s.ranking.Distribution(ranked),
			}
		}
		for _, school := range schools {
			for _, e := range ranked {
				if e.EntityID != school.meta.EntityID {
					continue
				}
				if school.rankPositions == nil {
					school.rankPositions = map[string]models.RankingEntry{}
					school.totalSchools = map[string]int{}
				}
				school.rankPositions[id] = e
				school.totalSchools[id] = len(ranked)
			}
		}

		for dimID, dimEntries := range dims {
			dimRanked := s.ranking.DenseRank(dimEntries)
			for _, school := range schools {
				if rank, ok := RankOf(dimRanked, school.meta.EntityID); ok {
					if school.dimensionRanks == nil {
						school.dimensionRanks = map[string]map[string]int{}
					}
					if school.dimensionRanks[id] == nil {
						school.dimensionRanks[id] = map[string]int{}
					}
					school.dimensionRanks[id][dimID] = rank
				}
			}
		}
	}
}

func (s *AggregationService) assemble(runID string, run *entityRun) *models.AggregationResult {
	result := &models.AggregationResult{
		ID:           uuid.NewString(),
		RunID:        runID,
		BatchCode:    run.meta.BatchCode,
		Level:        run.meta.Level,
		EntityID:     run.meta.EntityID,
		EntityName:   run.meta.EntityName,
		Report:       s.assembler.NewReport(run.meta),
		CalculatedAt: time.Now().UTC(),
		DurationMS:   run.duration.Milliseconds(),
	}

	if run.err != nil {
		result.Status = models.StatusFailed
		result.Errors = append(result.Errors, subjectError("", run.err))
		return result
	}

	for _, subj := range run.subjects {
		result.Warnings = append(result.Warnings, subj.warnings...)
		if subj.err != nil {
			result.Errors = append(result.Errors, subjectError(subj.config.SubjectID, subj.err))
			continue
		}
		sc := SubjectCalculation{
			SubjectID:      subj.config.SubjectID,
			SubjectName:    subj.config.SubjectName,
			Type:           subj.kind,
			Results:        subj.results,
			Frequency:      subj.frequency,
			Items:          subj.items,
			DimensionRanks: run.dimensionRanks[subj.config.SubjectID],
		}
		if r := run.schoolRankings[subj.config.SubjectID]; r != nil {
			sc.SchoolRankings, sc.SchoolAverages = r.entries, r.averages
			sc.RankField, sc.RankDistribution = r.field, r.distribution
		}
		if pos, ok := run.rankPositions[subj.config.SubjectID]; ok {
			rank, total := pos.Rank, run.totalSchools[subj.config.SubjectID]
			sc.RegionRank, sc.TotalSchools, sc.RankPosition = &rank, &total, &pos
		}
		built, err := s.assembler.BuildSubject(sc)
		if err != nil {
			result.Errors = append(result.Errors, subjectError(subj.config.SubjectID, err))
			continue
		}
		result.Report.Subjects = append(result.Report.Subjects, built)
	}
	NormalizeReport(result.Report)

	switch {
	case len(result.Report.Subjects) == 0:
		result.Status = models.StatusFailed
		if len(result.Errors) == 0 {
			result.Errors = append(result.Errors, models.EntityError{Code: appErrors.ErrInvalidInput.Code, Message: "entity has no subjects"})
		}
	case len(result.Errors) > 0:
		result.Status = models.StatusPartial
	default:
		result.Status = models.StatusCompleted
	}
	return result
}

func subjectError(subjectID string, err error) models.EntityError {
	return models.EntityError{SubjectID: subjectID, Code: appErrors.FromError(err).Code, Message: err.Error()}
}

func (s *AggregationService) persist(ctx context.Context, result *models.AggregationResult) error {
	start := time.Now()
	err := s.store.Replace(ctx, result)
	s.metrics.ObserveDBQuery("replace_result", time.Since(start))
	if err != nil {
		return err
	}
	_ = s.cache.Store(ctx, result)
	return nil
}
