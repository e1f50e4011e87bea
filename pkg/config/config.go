package config

import (
	"errors"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	SourcePostgres = "postgres"
	SourceFile     = "file"
)

type Config struct {
	Env     string
	OpsPort int

	Database   DatabaseConfig
	Redis      RedisConfig
	Log        LogConfig
	Cache      CacheConfig
	Engine     EngineConfig
	Validation ValidationConfig
	Survey     SurveyConfig
	Source     SourceConfig
	Export     ExportConfig
	Jobs       JobsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type LogConfig struct {
	Level  string
	Format string
}

// CacheConfig governs the aggregation result cache.
type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

// EngineConfig tunes chunking, parallelism and the batch deadline.
type EngineConfig struct {
	ChunkSize          int
	ChunkThreshold     int
	Workers            int
	BatchDeadline      time.Duration
	SchemaVersion      string
	GroupFraction      float64
	Percentiles        []int
	DropAbsentSentinel bool
	// RankFields are "field" or "field:weight" items, e.g. avg_score:0.4,pass_rate:0.6.
	RankFields []string
}

// ValidationConfig holds the data validator thresholds.
type ValidationConfig struct {
	CompletenessWarn float64
}

// SurveyConfig holds the questionnaire quality rules.
type SurveyConfig struct {
	StraightLineMax   int
	CompletionMin     float64
	VarianceThreshold float64
	IncludeFlagged    bool
}

// SourceConfig selects where score rows and the calculation bundle come from.
type SourceConfig struct {
	Kind       string
	File       string
	BundleFile string
}

// ExportConfig toggles ranking report export after each run.
type ExportConfig struct {
	Enabled    bool
	StorageDir string
	Formats    []string
	Retention  time.Duration
}

// JobsConfig configures the recalculation queue.
type JobsConfig struct {
	Workers    int
	Retries    int
	RetryDelay time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.OpsPort = v.GetInt("OPS_PORT")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Cache = CacheConfig{
		Enabled: v.GetBool("CACHE_ENABLED"),
		TTL:     parseDuration(v.GetString("CACHE_TTL"), 24*time.Hour),
	}

	cfg.Engine = EngineConfig{
		ChunkSize:          v.GetInt("ENGINE_CHUNK_SIZE"),
		ChunkThreshold:     v.GetInt("ENGINE_CHUNK_THRESHOLD"),
		Workers:            v.GetInt("ENGINE_WORKERS"),
		BatchDeadline:      parseDuration(v.GetString("ENGINE_BATCH_DEADLINE"), 0),
		SchemaVersion:      v.GetString("ENGINE_SCHEMA_VERSION"),
		GroupFraction:      v.GetFloat64("DISCRIMINATION_GROUP_FRACTION"),
		Percentiles:        parseInts(v.GetString("ENGINE_PERCENTILES")),
		DropAbsentSentinel: v.GetBool("ENGINE_DROP_ABSENT"),
		RankFields:         splitAndTrim(v.GetString("ENGINE_RANK_FIELDS")),
	}

	cfg.Validation = ValidationConfig{
		CompletenessWarn: v.GetFloat64("VALIDATION_COMPLETENESS_WARN"),
	}

	cfg.Survey = SurveyConfig{
		StraightLineMax:   v.GetInt("SURVEY_STRAIGHT_LINE_MAX"),
		CompletionMin:     v.GetFloat64("SURVEY_COMPLETION_MIN"),
		VarianceThreshold: v.GetFloat64("SURVEY_VARIANCE_THRESHOLD"),
		IncludeFlagged:    v.GetBool("SURVEY_INCLUDE_FLAGGED"),
	}

	cfg.Source = SourceConfig{
		Kind:       strings.ToLower(v.GetString("SOURCE_KIND")),
		File:       v.GetString("SOURCE_FILE"),
		BundleFile: v.GetString("BUNDLE_FILE"),
	}

	cfg.Export = ExportConfig{
		Enabled:    v.GetBool("EXPORT_ENABLED"),
		StorageDir: v.GetString("EXPORT_DIR"),
		Formats:    splitAndTrim(v.GetString("EXPORT_FORMATS")),
		Retention:  parseDuration(v.GetString("EXPORT_RETENTION"), 0),
	}

	cfg.Jobs = JobsConfig{
		Workers:    v.GetInt("JOBS_WORKERS"),
		Retries:    v.GetInt("JOBS_RETRIES"),
		RetryDelay: parseDuration(v.GetString("JOBS_RETRY_DELAY"), 5*time.Second),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("OPS_PORT", 9090)

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "edu_stats")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("CACHE_ENABLED", false)
	v.SetDefault("CACHE_TTL", "24h")

	v.SetDefault("ENGINE_CHUNK_SIZE", 10000)
	v.SetDefault("ENGINE_CHUNK_THRESHOLD", 50000)
	v.SetDefault("ENGINE_WORKERS", 4)
	v.SetDefault("ENGINE_BATCH_DEADLINE", "")
	v.SetDefault("ENGINE_SCHEMA_VERSION", "v1.2")
	v.SetDefault("ENGINE_PERCENTILES", "10,25,50,75,90")
	v.SetDefault("ENGINE_DROP_ABSENT", true)
	v.SetDefault("ENGINE_RANK_FIELDS", "avg_score")
	v.SetDefault("DISCRIMINATION_GROUP_FRACTION", 0.27)

	v.SetDefault("VALIDATION_COMPLETENESS_WARN", 0.8)

	v.SetDefault("SURVEY_STRAIGHT_LINE_MAX", 10)
	v.SetDefault("SURVEY_COMPLETION_MIN", 0.8)
	v.SetDefault("SURVEY_VARIANCE_THRESHOLD", 0.1)
	v.SetDefault("SURVEY_INCLUDE_FLAGGED", true)

	v.SetDefault("SOURCE_KIND", SourcePostgres)
	v.SetDefault("SOURCE_FILE", "")
	v.SetDefault("BUNDLE_FILE", "./bundle.yaml")

	v.SetDefault("EXPORT_ENABLED", false)
	v.SetDefault("EXPORT_DIR", "./exports")
	v.SetDefault("EXPORT_FORMATS", "csv")
	v.SetDefault("EXPORT_RETENTION", "720h")

	v.SetDefault("JOBS_WORKERS", 1)
	v.SetDefault("JOBS_RETRIES", 2)
	v.SetDefault("JOBS_RETRY_DELAY", "5s")
}

func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func parseInts(raw string) []int {
	parts := splitAndTrim(raw)
	result := make([]int, 0, len(parts))
	for _, part := range parts {
		if n, err := strconv.Atoi(part); err == nil {
			result = append(result, n)
		}
	}
	return result
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
