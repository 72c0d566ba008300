// Package config provides configuration for the memory subsystem. Settings
// come from an optional YAML file layered under environment variables with
// the AGENT_ prefix, with sensible defaults for everything.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all settings for the memory daemon.
type Config struct {
	Storage       StorageConfig       `yaml:"storage"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	ShortTerm     ShortTermConfig     `yaml:"short_term"`
	Window        WindowConfig        `yaml:"window"`
	LongTerm      LongTermConfig      `yaml:"long_term"`
	Consolidation ConsolidationConfig `yaml:"consolidation"`
	Cleanup       CleanupConfig       `yaml:"cleanup"`
	Backup        BackupConfig        `yaml:"backup"`
}

// StorageConfig selects and locates the long-term index backend.
type StorageConfig struct {
	// Engine is the index backend: sqlite, chromem, or postgres
	// (default: sqlite).
	Engine string `yaml:"engine"`

	// DataPath is the data directory for file-backed engines
	// (default: ./data).
	DataPath string `yaml:"data_path"`

	// PostgresDSN is the connection string for the postgres engine.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// EmbeddingConfig tunes the embedder and its resilience wrapper.
type EmbeddingConfig struct {
	// Dimensions is the embedding vector length (default: 384).
	Dimensions int `yaml:"dimensions"`

	// RequestsPerSecond rate-limits embedding calls. Zero disables the
	// limiter.
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	// Burst is the limiter's burst size (default: 1 when limited).
	Burst int `yaml:"burst"`

	// MaxFailures opens the circuit breaker after this many consecutive
	// failures (default: 3).
	MaxFailures int `yaml:"max_failures"`

	// OpenTimeout is how long the breaker stays open (default: 30s).
	OpenTimeout string `yaml:"open_timeout"`

	// CallTimeout bounds a single embedding call (default: 10s).
	CallTimeout string `yaml:"call_timeout"`
}

// ShortTermConfig sizes the short-term cache.
type ShortTermConfig struct {
	// Capacity bounds the cache (default: 100).
	Capacity int `yaml:"capacity"`

	// TTL is the default entry lifetime (default: 1h).
	TTL string `yaml:"ttl"`
}

// WindowConfig sizes the context window.
type WindowConfig struct {
	// Capacity is the rolling window length (default: 20).
	Capacity int `yaml:"capacity"`

	// HistoryCapacity bounds the retained history (default: 100).
	HistoryCapacity int `yaml:"history_capacity"`
}

// LongTermConfig tunes the long-term store.
type LongTermConfig struct {
	// MinSimilarity is the default search similarity floor (default: 0.25).
	MinSimilarity float64 `yaml:"min_similarity"`

	// OpTimeout bounds a single backend call (default: 10s).
	OpTimeout string `yaml:"op_timeout"`
}

// ConsolidationConfig tunes the promotion cycle.
type ConsolidationConfig struct {
	// Interval is how often the cycle runs (default: 1m).
	Interval string `yaml:"interval"`

	// ImportanceThreshold promotes entries scoring strictly above it
	// (default: 0.7).
	ImportanceThreshold float64 `yaml:"importance_threshold"`

	// AccessCountThreshold promotes entries read strictly more often
	// (default: 5).
	AccessCountThreshold int `yaml:"access_count_threshold"`

	// MaxAge promotes entries older than it when importance is above
	// AgedImportanceFloor (defaults: 24h, 0.3).
	MaxAge              string  `yaml:"max_age"`
	AgedImportanceFloor float64 `yaml:"aged_importance_floor"`
}

// CleanupConfig tunes the cleanup cycle.
type CleanupConfig struct {
	// Interval is how often the cycle runs (default: 10m).
	Interval string `yaml:"interval"`

	// RetentionAge is how long long-term entries are kept (default: 2160h,
	// 90 days).
	RetentionAge string `yaml:"retention_age"`

	// RetentionImportanceFloor additionally drops never-accessed entries
	// below it. Zero disables the criterion.
	RetentionImportanceFloor float64 `yaml:"retention_importance_floor"`
}

// BackupConfig tunes scheduled snapshots.
type BackupConfig struct {
	// Enabled turns on the scheduled backup loop (default: false).
	Enabled bool `yaml:"enabled"`

	// Interval is the time between snapshots (default: 24h).
	Interval string `yaml:"interval"`

	// Path is the snapshot directory (default: ./backups).
	Path string `yaml:"path"`

	// Retention keep-counts per age tier.
	RetentionHourly  int `yaml:"retention_hourly"`
	RetentionDaily   int `yaml:"retention_daily"`
	RetentionWeekly  int `yaml:"retention_weekly"`
	RetentionMonthly int `yaml:"retention_monthly"`
}

// Load builds the configuration: defaults, then the YAML file at path if
// given, then AGENT_-prefixed environment variables on top.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Storage: StorageConfig{
			Engine:   "sqlite",
			DataPath: "./data",
		},
		Embedding: EmbeddingConfig{
			Dimensions:  384,
			MaxFailures: 3,
			OpenTimeout: "30s",
			CallTimeout: "10s",
		},
		ShortTerm: ShortTermConfig{
			Capacity: 100,
			TTL:      "1h",
		},
		Window: WindowConfig{
			Capacity:        20,
			HistoryCapacity: 100,
		},
		LongTerm: LongTermConfig{
			MinSimilarity: 0.25,
			OpTimeout:     "10s",
		},
		Consolidation: ConsolidationConfig{
			Interval:             "1m",
			ImportanceThreshold:  0.7,
			AccessCountThreshold: 5,
			MaxAge:               "24h",
			AgedImportanceFloor:  0.3,
		},
		Cleanup: CleanupConfig{
			Interval:     "10m",
			RetentionAge: "2160h",
		},
		Backup: BackupConfig{
			Interval:         "24h",
			Path:             "./backups",
			RetentionHourly:  24,
			RetentionDaily:   7,
			RetentionWeekly:  4,
			RetentionMonthly: 12,
		},
	}
}

func applyEnv(cfg *Config) {
	cfg.Storage.Engine = getEnv("AGENT_STORAGE_ENGINE", cfg.Storage.Engine)
	cfg.Storage.DataPath = getEnv("AGENT_DATA_PATH", cfg.Storage.DataPath)
	cfg.Storage.PostgresDSN = getEnv("AGENT_POSTGRES_DSN", cfg.Storage.PostgresDSN)

	cfg.Embedding.Dimensions = getEnvInt("AGENT_EMBEDDING_DIMENSIONS", cfg.Embedding.Dimensions)
	cfg.Embedding.RequestsPerSecond = getEnvFloat("AGENT_EMBEDDING_RPS", cfg.Embedding.RequestsPerSecond)
	cfg.Embedding.Burst = getEnvInt("AGENT_EMBEDDING_BURST", cfg.Embedding.Burst)
	cfg.Embedding.MaxFailures = getEnvInt("AGENT_EMBEDDING_MAX_FAILURES", cfg.Embedding.MaxFailures)
	cfg.Embedding.OpenTimeout = getEnv("AGENT_EMBEDDING_OPEN_TIMEOUT", cfg.Embedding.OpenTimeout)
	cfg.Embedding.CallTimeout = getEnv("AGENT_EMBEDDING_CALL_TIMEOUT", cfg.Embedding.CallTimeout)

	cfg.ShortTerm.Capacity = getEnvInt("AGENT_SHORT_TERM_CAPACITY", cfg.ShortTerm.Capacity)
	cfg.ShortTerm.TTL = getEnv("AGENT_SHORT_TERM_TTL", cfg.ShortTerm.TTL)

	cfg.Window.Capacity = getEnvInt("AGENT_WINDOW_CAPACITY", cfg.Window.Capacity)
	cfg.Window.HistoryCapacity = getEnvInt("AGENT_WINDOW_HISTORY_CAPACITY", cfg.Window.HistoryCapacity)

	cfg.LongTerm.MinSimilarity = getEnvFloat("AGENT_MIN_SIMILARITY", cfg.LongTerm.MinSimilarity)
	cfg.LongTerm.OpTimeout = getEnv("AGENT_LONG_TERM_OP_TIMEOUT", cfg.LongTerm.OpTimeout)

	cfg.Consolidation.Interval = getEnv("AGENT_CONSOLIDATION_INTERVAL", cfg.Consolidation.Interval)
	cfg.Consolidation.ImportanceThreshold = getEnvFloat("AGENT_CONSOLIDATION_IMPORTANCE", cfg.Consolidation.ImportanceThreshold)
	cfg.Consolidation.AccessCountThreshold = getEnvInt("AGENT_CONSOLIDATION_ACCESS_COUNT", cfg.Consolidation.AccessCountThreshold)
	cfg.Consolidation.MaxAge = getEnv("AGENT_CONSOLIDATION_MAX_AGE", cfg.Consolidation.MaxAge)
	cfg.Consolidation.AgedImportanceFloor = getEnvFloat("AGENT_CONSOLIDATION_AGED_FLOOR", cfg.Consolidation.AgedImportanceFloor)

	cfg.Cleanup.Interval = getEnv("AGENT_CLEANUP_INTERVAL", cfg.Cleanup.Interval)
	cfg.Cleanup.RetentionAge = getEnv("AGENT_RETENTION_AGE", cfg.Cleanup.RetentionAge)
	cfg.Cleanup.RetentionImportanceFloor = getEnvFloat("AGENT_RETENTION_IMPORTANCE_FLOOR", cfg.Cleanup.RetentionImportanceFloor)

	cfg.Backup.Enabled = getEnvBool("AGENT_BACKUP_ENABLED", cfg.Backup.Enabled)
	cfg.Backup.Interval = getEnv("AGENT_BACKUP_INTERVAL", cfg.Backup.Interval)
	cfg.Backup.Path = getEnv("AGENT_BACKUP_PATH", cfg.Backup.Path)
	cfg.Backup.RetentionHourly = getEnvInt("AGENT_BACKUP_RETENTION_HOURLY", cfg.Backup.RetentionHourly)
	cfg.Backup.RetentionDaily = getEnvInt("AGENT_BACKUP_RETENTION_DAILY", cfg.Backup.RetentionDaily)
	cfg.Backup.RetentionWeekly = getEnvInt("AGENT_BACKUP_RETENTION_WEEKLY", cfg.Backup.RetentionWeekly)
	cfg.Backup.RetentionMonthly = getEnvInt("AGENT_BACKUP_RETENTION_MONTHLY", cfg.Backup.RetentionMonthly)
}

func (c *Config) validate() error {
	switch c.Storage.Engine {
	case "sqlite", "chromem", "postgres":
	default:
		return fmt.Errorf("config: unknown storage engine %q", c.Storage.Engine)
	}
	if c.Storage.Engine == "postgres" && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("config: postgres engine requires AGENT_POSTGRES_DSN")
	}
	if c.Embedding.Dimensions < 1 {
		return fmt.Errorf("config: embedding dimensions must be positive")
	}
	if c.Embedding.MaxFailures < 0 {
		return fmt.Errorf("config: embedding max_failures must not be negative")
	}
	for _, d := range []struct {
		name  string
		value string
	}{
		{"embedding.open_timeout", c.Embedding.OpenTimeout},
		{"embedding.call_timeout", c.Embedding.CallTimeout},
		{"short_term.ttl", c.ShortTerm.TTL},
		{"long_term.op_timeout", c.LongTerm.OpTimeout},
		{"consolidation.interval", c.Consolidation.Interval},
		{"consolidation.max_age", c.Consolidation.MaxAge},
		{"cleanup.interval", c.Cleanup.Interval},
		{"cleanup.retention_age", c.Cleanup.RetentionAge},
		{"backup.interval", c.Backup.Interval},
	} {
		if _, err := time.ParseDuration(d.value); err != nil {
			return fmt.Errorf("config: invalid duration for %s: %q", d.name, d.value)
		}
	}
	return nil
}

// Duration parses a duration field that validate has already checked.
func Duration(value string) time.Duration {
	d, _ := time.ParseDuration(value)
	return d
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value, also on parse failure.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default
// value, also on parse failure.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default
// value. Recognizes true/1/yes and false/0/no, case-insensitive.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}
