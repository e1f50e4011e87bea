package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-stats-engine/internal/dto"
	"github.com/noah-isme/sma-stats-engine/internal/models"
	"github.com/noah-isme/sma-stats-engine/pkg/export"
)

type resultLister interface {
	ListByBatch(ctx context.Context, batchCode string) ([]models.AggregationResult, error)
}

type reportStorage interface {
	Save(name string, data []byte) (string, error)
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	Formats []string
	// Retention removes exported files older than this on Cleanup; zero keeps everything.
	Retention time.Duration
}

// ExportService renders ranking and batch summary reports and stores the files.
type ExportService struct {
	results   resultLister
	storage   reportStorage
	renderers []export.Renderer
	cfg       ExportConfig
	logger    *zap.Logger
	now       func() time.Time
}

// NewExportService constructs an ExportService. Formats default to CSV.
func NewExportService(results resultLister, storage reportStorage, cfg ExportConfig, logger *zap.Logger) (*ExportService, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.Formats) == 0 {
		cfg.Formats = []string{string(export.FormatCSV)}
	}
	renderers := make([]export.Renderer, 0, len(cfg.Formats))
	for _, f := range cfg.Formats {
		r, err := export.NewRenderer(export.Format(strings.ToLower(f)))
		if err != nil {
			return nil, err
		}
		renderers = append(renderers, r)
	}
	return &ExportService{
		results:   results,
		storage:   storage,
		renderers: renderers,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// ExportRankings writes the per-subject school rankings of a region result.
func (s *ExportService) ExportRankings(ctx context.Context, result *models.AggregationResult) ([]string, error) {
	if result == nil || result.Report == nil {
		return nil, fmt.Errorf("ranking export needs an assembled report")
	}
	dataset := RankingDataset(result.Report)
	if len(dataset.Rows) == 0 {
		s.logger.Debug("no rankings to export", zap.String("batch_code", result.BatchCode))
		return nil, nil
	}
	return s.write(ctx, "rankings", result.BatchCode, dataset)
}

// ExportBatchSummary writes one line per stored entity of a batch.
func (s *ExportService) ExportBatchSummary(ctx context.Context, batchCode string) ([]string, error) {
	if s.results == nil {
		return nil, fmt.Errorf("batch summary export needs a result store")
	}
	results, err := s.results.ListByBatch(ctx, batchCode)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return s.write(ctx, "summary", batchCode, SummaryDataset(batchCode, results))
}

// Cleanup removes exports older than the configured retention.
func (s *ExportService) Cleanup() ([]string, error) {
	if s.cfg.Retention <= 0 {
		return nil, nil
	}
	deleted, err := s.storage.CleanupOlderThan(s.cfg.Retention)
	if err != nil {
		return nil, err
	}
	if len(deleted) > 0 {
		s.logger.Info("expired exports removed", zap.Int("files", len(deleted)))
	}
	return deleted, nil
}

func (s *ExportService) write(ctx context.Context, kind, batchCode string, dataset export.Dataset) ([]string, error) {
	stamp := s.now().UTC().Format("20060102_150405")
	batchPart := sanitizeFilename(batchCode)
	files := make([]string, 0, len(s.renderers))
	for _, r := range s.renderers {
		if err := ctx.Err(); err != nil {
			return files, err
		}
		payload, err := r.Render(dataset)
		if err != nil {
			return files, fmt.Errorf("render %s %s: %w", kind, r.Format(), err)
		}
		name := fmt.Sprintf("%s/%s_%s_%s.%s", batchPart, kind, batchPart, stamp, r.Format())
		rel, err := s.storage.Save(name, payload)
		if err != nil {
			return files, err
		}
		files = append(files, rel)
	}
	return files, nil
}

// RankingDataset flattens the school rankings of every subject of a report.
func RankingDataset(report *dto.EntityReport) export.Dataset {
	dataset := export.Dataset{
		Title:   fmt.Sprintf("School Rankings %s", report.BatchCode),
		Headers: []string{"Subject ID", "Subject", "Rank", "School ID", "School", "Average"},
	}
	for _, subject := range report.Subjects {
		for _, r := range subject.SchoolRankings {
			dataset.Append(
				subject.SubjectID,
				subject.SubjectName,
				strconv.Itoa(r.Rank),
				r.SchoolID,
				r.SchoolName,
				strconv.FormatFloat(r.Avg, 'f', 1, 64),
			)
		}
	}
	return dataset
}

// SummaryDataset lists the status of every entity of a batch.
func SummaryDataset(batchCode string, results []models.AggregationResult) export.Dataset {
	dataset := export.Dataset{
		Title:   fmt.Sprintf("Batch Summary %s", batchCode),
		Headers: []string{"Level", "Entity ID", "Entity", "Status", "Subjects", "Errors", "Calculated At"},
	}
	for _, res := range results {
		subjects := 0
		if res.Report != nil {
			subjects = len(res.Report.Subjects)
		}
		dataset.Append(
			string(res.Level),
			res.EntityID,
			res.EntityName,
			string(res.Status),
			strconv.Itoa(subjects),
			strconv.Itoa(len(res.Errors)),
			res.CalculatedAt.UTC().Format(time.RFC3339),
		)
	}
	return dataset
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}
