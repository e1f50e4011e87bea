package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-stats-engine/internal/dto"
	"github.com/noah-isme/sma-stats-engine/internal/models"
	"github.com/noah-isme/sma-stats-engine/pkg/storage"
)

type stubLister struct {
	results []models.AggregationResult
}

func (s stubLister) ListByBatch(context.Context, string) ([]models.AggregationResult, error) {
	return s.results, nil
}

func regionResult() *models.AggregationResult {
	return &models.AggregationResult{
		BatchCode: "2024/T1",
		Level:     models.LevelRegion,
		EntityID:  models.RegionEntityID,
		Status:    models.StatusCompleted,
		Report: &dto.EntityReport{
			BatchCode: "2024/T1",
			Subjects: []dto.SubjectReport{
				{SubjectID: "math", SubjectName: "Mathematics", SchoolRankings: []dto.SchoolRanking{
					{SchoolID: "a", SchoolName: "School a", Avg: 81.3, Rank: 1},
					{SchoolID: "b", SchoolName: "School b", Avg: 51.3, Rank: 2},
				}},
				{SubjectID: "attitude", SubjectName: "Learning attitude"},
			},
		},
	}
}

func newExportServiceForTest(t *testing.T, formats ...string) (*ExportService, *storage.LocalStorage) {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	lister := stubLister{results: []models.AggregationResult{*regionResult()}}
	svc, err := NewExportService(lister, store, ExportConfig{Formats: formats, Retention: time.Hour}, zap.NewNop())
	require.NoError(t, err)
	svc.now = func() time.Time { return time.Date(2024, 6, 1, 8, 30, 0, 0, time.UTC) }
	return svc, store
}

func TestExportRankingsWritesEveryFormat(t *testing.T) {
	svc, store := newExportServiceForTest(t, "csv", "XLSX", "pdf")

	files, err := svc.ExportRankings(context.Background(), regionResult())
	require.NoError(t, err)
	assert.Equal(t, []string{
		"2024-T1/rankings_2024-T1_20240601_083000.csv",
		"2024-T1/rankings_2024-T1_20240601_083000.xlsx",
		"2024-T1/rankings_2024-T1_20240601_083000.pdf",
	}, files)

	data, err := store.Read(files[0])
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "math,Mathematics,1,a,School a,81.3", lines[1])
}

func TestExportRankingsWithoutRankings(t *testing.T) {
	svc, _ := newExportServiceForTest(t)
	res := regionResult()
	res.Report.Subjects = res.Report.Subjects[1:]

	files, err := svc.ExportRankings(context.Background(), res)
	require.NoError(t, err)
	assert.Empty(t, files)

	_, err = svc.ExportRankings(context.Background(), &models.AggregationResult{})
	assert.Error(t, err)
}

func TestExportBatchSummary(t *testing.T) {
	svc, store := newExportServiceForTest(t)

	files, err := svc.ExportBatchSummary(context.Background(), "2024/T1")
	require.NoError(t, err)
	require.Len(t, files, 1)

	data, err := store.Read(files[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "region,region,,completed,2,0,")
}

func TestNewExportServiceRejectsUnknownFormat(t *testing.T) {
	_, err := NewExportService(nil, nil, ExportConfig{Formats: []string{"docx"}}, nil)
	assert.Error(t, err)
}
