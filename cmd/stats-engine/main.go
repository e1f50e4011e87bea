package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-stats-engine/internal/handler"
	"github.com/noah-isme/sma-stats-engine/internal/middleware"
	"github.com/noah-isme/sma-stats-engine/internal/models"
	"github.com/noah-isme/sma-stats-engine/pkg/config"
	"github.com/noah-isme/sma-stats-engine/pkg/jobs"
	"github.com/noah-isme/sma-stats-engine/pkg/logger"
	reqidmiddleware "github.com/noah-isme/sma-stats-engine/pkg/middleware/requestid"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-bundle path] [-source file] BATCH_CODE...\n", os.Args[0])
		flag.PrintDefaults()
	}
	bundlePath := flag.String("bundle", "", "calculation bundle file, overrides BUNDLE_FILE")
	sourceFile := flag.String("source", "", "score file (.xlsx or .csv); switches SOURCE_KIND to file")
	flag.Parse()

	batches := flag.Args()
	if len(batches) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *bundlePath != "" {
		cfg.Source.BundleFile = *bundlePath
	}
	if *sourceFile != "" {
		cfg.Source.Kind = config.SourceFile
		cfg.Source.File = *sourceFile
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, logr, batches)
	stop()
	if err != nil {
		logr.Error("stats engine finished with errors", zap.Error(err))
		_ = logr.Sync()
		os.Exit(1)
	}
	_ = logr.Sync()
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger, batches []string) error {
	app, err := newApp(ctx, cfg, logr)
	if err != nil {
		return err
	}
	defer app.Close()

	srv := opsServer(cfg, logr, app)
	go func() {
		logr.Sugar().Infow("ops server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Errorw("ops server failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	outcomes := newOutcomes()
	queue := jobs.NewQueue("recalculation", func(ctx context.Context, job jobs.Job) error {
		status, err := app.aggregation.Run(ctx, job.BatchCode)
		if err != nil {
			return err
		}
		outcomes.record(status)
		if app.exports != nil {
			if files, err := app.exports.ExportBatchSummary(ctx, job.BatchCode); err != nil {
				logr.Warn("batch summary export failed", zap.String("batch_code", job.BatchCode), zap.Error(err))
			} else if len(files) > 0 {
				logr.Info("batch summary exported", zap.String("batch_code", job.BatchCode), zap.Strings("files", files))
			}
		}
		return nil
	}, jobs.QueueConfig{
		Workers:    cfg.Jobs.Workers,
		MaxRetries: cfg.Jobs.Retries,
		RetryDelay: cfg.Jobs.RetryDelay,
		Logger:     logr,
	})
	queue.Start(ctx)
	defer queue.Stop()

	for _, batch := range batches {
		if _, err := queue.Enqueue(batch, "cli"); err != nil {
			if errors.Is(err, jobs.ErrAlreadyQueued) {
				logr.Warn("duplicate batch argument ignored", zap.String("batch_code", batch))
				continue
			}
			return err
		}
	}
	if err := queue.Wait(ctx); err != nil {
		return fmt.Errorf("interrupted: %w", err)
	}
	return outcomes.verdict(batches)
}

func opsServer(cfg *config.Config, logr *zap.Logger, app *app) *http.Server {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(middleware.Metrics(app.metrics))
	handler.NewOpsHandler(app.metrics, app.checks, logr).Register(r)

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.OpsPort),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// outcomes collects the final status of every batch run by the queue.
type outcomes struct {
	mu       sync.Mutex
	statuses map[string]*models.BatchStatus
}

func newOutcomes() *outcomes {
	return &outcomes{statuses: map[string]*models.BatchStatus{}}
}

func (o *outcomes) record(status *models.BatchStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses[status.BatchCode] = status
}

// verdict fails when a batch never produced a status or every entity of it failed.
// Partial batches are reported through their stored results and do not fail the run.
func (o *outcomes) verdict(batches []string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	var failed []string
	for _, batch := range batches {
		status, ok := o.statuses[batch]
		if !ok || status.Status == models.StatusFailed {
			failed = append(failed, batch)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	sort.Strings(failed)
	return fmt.Errorf("batches failed: %s", strings.Join(dedupe(failed), ", "))
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || s != sorted[i-1] {
			out = append(out, s)
		}
	}
	return out
}
