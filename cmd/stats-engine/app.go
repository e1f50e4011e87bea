package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-stats-engine/internal/calculation"
	"github.com/noah-isme/sma-stats-engine/internal/handler"
	"github.com/noah-isme/sma-stats-engine/internal/models"
	"github.com/noah-isme/sma-stats-engine/internal/repository"
	"github.com/noah-isme/sma-stats-engine/internal/service"
	"github.com/noah-isme/sma-stats-engine/internal/survey"
	"github.com/noah-isme/sma-stats-engine/pkg/cache"
	"github.com/noah-isme/sma-stats-engine/pkg/config"
	"github.com/noah-isme/sma-stats-engine/pkg/database"
	"github.com/noah-isme/sma-stats-engine/pkg/storage"
)

type resultBackend interface {
	service.ResultStore
	ListByBatch(ctx context.Context, batchCode string) ([]models.AggregationResult, error)
}

// app holds the wired engine and everything that must be closed on exit.
type app struct {
	aggregation *service.AggregationService
	exports     *service.ExportService
	metrics     *service.MetricsService
	checks      map[string]handler.ReadinessCheck
	closers     []func() error
	logger      *zap.Logger
}

func newApp(ctx context.Context, cfg *config.Config, logr *zap.Logger) (*app, error) {
	a := &app{
		metrics: service.NewMetricsService(),
		checks:  map[string]handler.ReadinessCheck{},
		logger:  logr,
	}
	ready := false
	defer func() {
		if !ready {
			a.Close()
		}
	}()

	bundle, err := config.LoadBundle(cfg.Source.BundleFile)
	if err != nil {
		return nil, fmt.Errorf("load bundle %s: %w", cfg.Source.BundleFile, err)
	}
	logr.Info("calculation bundle loaded", zap.String("version", bundle.Version), zap.Int("subjects", len(bundle.Subjects)))

	var files *storage.LocalStorage
	localFiles := func() (*storage.LocalStorage, error) {
		if files != nil {
			return files, nil
		}
		var err error
		files, err = storage.NewLocalStorage(cfg.Export.StorageDir)
		return files, err
	}

	var (
		source  service.ScoreSource
		results resultBackend
	)
	switch cfg.Source.Kind {
	case config.SourcePostgres:
		db, err := database.NewPostgres(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		a.checks["postgres"] = db.PingContext
		source = repository.NewScoreRepository(db)
		results = repository.NewAggregationRepository(db)
	case config.SourceFile:
		if cfg.Source.File == "" {
			return nil, fmt.Errorf("SOURCE_FILE is required when SOURCE_KIND=%s", config.SourceFile)
		}
		fs, err := localFiles()
		if err != nil {
			return nil, err
		}
		source = repository.NewFileScoreSource(cfg.Source.File, logr)
		results = repository.NewJSONResultStore(fs)
	default:
		return nil, fmt.Errorf("unknown SOURCE_KIND %q", cfg.Source.Kind)
	}

	var cacheRepo service.CacheRepository
	if cfg.Cache.Enabled {
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, result cache disabled", zap.Error(err))
		} else {
			repo := repository.NewCacheRepository(client, logr)
			a.closers = append(a.closers, repo.Close)
			a.checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
			cacheRepo = repo
		}
	}
	resultCache := service.NewResultCache(cacheRepo, a.metrics, cfg.Cache.TTL, logr)

	registry, err := calculation.NewDefaultRegistry()
	if err != nil {
		return nil, err
	}
	engine := calculation.NewEngine(registry,
		calculation.WithChunkProcessor(calculation.NewChunkProcessor(registry, cfg.Engine.ChunkSize, cfg.Engine.ChunkThreshold)),
		calculation.WithObserver(a.metrics),
		calculation.WithLogger(logr),
	)

	opts, err := aggregationOptions(cfg)
	if err != nil {
		return nil, err
	}
	a.aggregation = service.NewAggregationService(
		source,
		results,
		bundle,
		engine,
		service.NewAssemblerService(cfg.Engine.SchemaVersion, logr),
		resultCache,
		a.metrics,
		opts,
		logr,
	)

	if cfg.Export.Enabled {
		fs, err := localFiles()
		if err != nil {
			return nil, err
		}
		a.exports, err = service.NewExportService(results, fs, service.ExportConfig{
			Formats:   cfg.Export.Formats,
			Retention: cfg.Export.Retention,
		}, logr)
		if err != nil {
			return nil, err
		}
		if _, err := a.exports.Cleanup(); err != nil {
			logr.Warn("export cleanup failed", zap.Error(err))
		}
		a.aggregation.SetExporter(a.exports)
	}
	ready = true
	return a, nil
}

func aggregationOptions(cfg *config.Config) (service.AggregationOptions, error) {
	opts := service.DefaultAggregationOptions()
	if cfg.Engine.Workers > 0 {
		opts.Workers = cfg.Engine.Workers
	}
	opts.BatchDeadline = cfg.Engine.BatchDeadline
	if len(cfg.Engine.Percentiles) > 0 {
		opts.Percentiles = cfg.Engine.Percentiles
	}
	if cfg.Engine.GroupFraction > 0 {
		opts.GroupFraction = cfg.Engine.GroupFraction
	}
	opts.DropAbsent = cfg.Engine.DropAbsentSentinel
	if cfg.Validation.CompletenessWarn > 0 {
		opts.CompletenessWarn = cfg.Validation.CompletenessWarn
	}
	opts.SurveyRules = survey.Rules{
		StraightLineMax:   cfg.Survey.StraightLineMax,
		CompletionMin:     cfg.Survey.CompletionMin,
		VarianceThreshold: cfg.Survey.VarianceThreshold,
	}
	opts.IncludeFlagged = cfg.Survey.IncludeFlagged
	weights, err := service.ParseRankWeights(cfg.Engine.RankFields)
	if err != nil {
		return opts, err
	}
	opts.RankWeights = weights
	return opts, nil
}

// Close releases connections in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
}
