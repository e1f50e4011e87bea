package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, 9090, cfg.OpsPort)
	assert.Equal(t, 10000, cfg.Engine.ChunkSize)
	assert.Equal(t, 50000, cfg.Engine.ChunkThreshold)
	assert.Equal(t, "v1.2", cfg.Engine.SchemaVersion)
	assert.Equal(t, []int{10, 25, 50, 75, 90}, cfg.Engine.Percentiles)
	assert.Zero(t, cfg.Engine.BatchDeadline)
	assert.True(t, cfg.Engine.DropAbsentSentinel)
	assert.Equal(t, SourcePostgres, cfg.Source.Kind)
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, []string{"csv"}, cfg.Export.Formats)
	assert.Equal(t, 720*time.Hour, cfg.Export.Retention)
}

func TestLoadFromEnvironment(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("ENGINE_WORKERS", "8")
	t.Setenv("ENGINE_BATCH_DEADLINE", "45s")
	t.Setenv("ENGINE_PERCENTILES", "5, 95, x")
	t.Setenv("DISCRIMINATION_GROUP_FRACTION", "0.33")
	t.Setenv("SOURCE_KIND", "FILE")
	t.Setenv("EXPORT_FORMATS", "csv, pdf")
	t.Setenv("JOBS_RETRY_DELAY", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Engine.Workers)
	assert.Equal(t, 45*time.Second, cfg.Engine.BatchDeadline)
	assert.Equal(t, []int{5, 95}, cfg.Engine.Percentiles)
	assert.Equal(t, 0.33, cfg.Engine.GroupFraction)
	assert.Equal(t, SourceFile, cfg.Source.Kind)
	assert.Equal(t, []string{"csv", "pdf"}, cfg.Export.Formats)
	assert.Equal(t, 5*time.Second, cfg.Jobs.RetryDelay)
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
