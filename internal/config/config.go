package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every knob the hoard core recognizes. Values come from an
// optional YAML file with environment-variable overrides applied on top.
type Config struct {
	Storage    StorageConfig    `yaml:"storage"`
	Database   DatabaseConfig   `yaml:"database"`
	Server     ServerConfig     `yaml:"server"`
	Worker     WorkerConfig     `yaml:"worker"`
	Duplicates DuplicatesConfig `yaml:"duplicates"`
	Memory     MemoryConfig     `yaml:"memory"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Sync       SyncConfig       `yaml:"sync"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type StorageConfig struct {
	DBPath string `yaml:"db_path"`
}

type DatabaseConfig struct {
	BusyTimeoutMS  int `yaml:"busy_timeout_ms"`
	LockTimeoutMS  int `yaml:"lock_timeout_ms"`
	RetryBudgetMS  int `yaml:"retry_budget_ms"`
	RetryBackoffMS int `yaml:"retry_backoff_ms"`
}

type ServerConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

type WorkerConfig struct {
	LeaseTTLMS     int `yaml:"lease_ttl_ms"`
	PollIntervalMS int `yaml:"poll_interval_ms"`
}

type DuplicatesConfig struct {
	Threshold float64 `yaml:"threshold"`
}

type MemoryConfig struct {
	DefaultTTLDays int `yaml:"default_ttl_days"`
}

type EmbeddingConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
}

type SyncConfig struct {
	IntervalMinutes int      `yaml:"interval_minutes"`
	WatchPaths      []string `yaml:"watch_paths"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load reads the config file (if present), applies env overrides, expands
// the database path, and validates the result.
func Load() (*Config, error) {
	cfg := defaults()

	path := envStr("HOARD_CONFIG", defaultConfigPath())
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	cfg.applyEnv()

	expanded, err := expandHome(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("expand db path: %w", err)
	}
	cfg.Storage.DBPath = expanded

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Storage: StorageConfig{DBPath: "~/.hoard/hoard.db"},
		Database: DatabaseConfig{
			BusyTimeoutMS:  5000,
			LockTimeoutMS:  30000,
			RetryBudgetMS:  30000,
			RetryBackoffMS: 50,
		},
		Server:     ServerConfig{Host: "127.0.0.1", Port: 7141},
		Worker:     WorkerConfig{LeaseTTLMS: 30000, PollIntervalMS: 1000},
		Duplicates: DuplicatesConfig{Threshold: 0.85},
		Memory:     MemoryConfig{DefaultTTLDays: 30},
		Embedding: EmbeddingConfig{
			Endpoint:  "http://localhost:11434",
			Model:     "nomic-embed-text",
			Dimension: 768,
		},
		Sync:    SyncConfig{IntervalMinutes: 0},
		Logging: LoggingConfig{Level: "info"},
	}
}

func (c *Config) applyEnv() {
	c.Storage.DBPath = envStr("HOARD_DB_PATH", c.Storage.DBPath)
	c.Database.BusyTimeoutMS = envInt("HOARD_BUSY_TIMEOUT_MS", c.Database.BusyTimeoutMS)
	c.Database.LockTimeoutMS = envInt("HOARD_LOCK_TIMEOUT_MS", c.Database.LockTimeoutMS)
	c.Database.RetryBudgetMS = envInt("HOARD_RETRY_BUDGET_MS", c.Database.RetryBudgetMS)
	c.Database.RetryBackoffMS = envInt("HOARD_RETRY_BACKOFF_MS", c.Database.RetryBackoffMS)
	c.Server.Host = envStr("HOARD_HOST", c.Server.Host)
	c.Server.Port = envInt("HOARD_PORT", c.Server.Port)
	c.Server.APIKey = envStr("HOARD_API_KEY", c.Server.APIKey)
	c.Worker.LeaseTTLMS = envInt("HOARD_LEASE_TTL_MS", c.Worker.LeaseTTLMS)
	c.Worker.PollIntervalMS = envInt("HOARD_WORKER_POLL_MS", c.Worker.PollIntervalMS)
	c.Duplicates.Threshold = envFloat("HOARD_DUP_THRESHOLD", c.Duplicates.Threshold)
	c.Memory.DefaultTTLDays = envInt("HOARD_DEFAULT_TTL_DAYS", c.Memory.DefaultTTLDays)
	c.Embedding.Endpoint = envStr("HOARD_EMBED_ENDPOINT", c.Embedding.Endpoint)
	c.Embedding.Model = envStr("HOARD_EMBED_MODEL", c.Embedding.Model)
	c.Embedding.Dimension = envInt("HOARD_EMBED_DIM", c.Embedding.Dimension)
	c.Sync.IntervalMinutes = envInt("HOARD_SYNC_INTERVAL_MIN", c.Sync.IntervalMinutes)
	if v := os.Getenv("HOARD_SYNC_WATCH"); v != "" {
		c.Sync.WatchPaths = splitPaths(v)
	}
	c.Logging.Level = envStr("HOARD_LOG_LEVEL", c.Logging.Level)
}

func (c *Config) validate() error {
	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path must not be empty")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Database.BusyTimeoutMS < 0 {
		return fmt.Errorf("database.busy_timeout_ms must not be negative, got %d", c.Database.BusyTimeoutMS)
	}
	if c.Database.LockTimeoutMS < 1 {
		return fmt.Errorf("database.lock_timeout_ms must be positive, got %d", c.Database.LockTimeoutMS)
	}
	if c.Duplicates.Threshold < 0 || c.Duplicates.Threshold > 1 {
		return fmt.Errorf("duplicates.threshold must be in [0,1], got %f", c.Duplicates.Threshold)
	}
	if c.Worker.LeaseTTLMS < 1 {
		return fmt.Errorf("worker.lease_ttl_ms must be positive, got %d", c.Worker.LeaseTTLMS)
	}
	if c.Embedding.Dimension < 1 {
		return fmt.Errorf("embedding.dimension must be positive, got %d", c.Embedding.Dimension)
	}
	return nil
}

// Duration accessors keep time math out of callers.

func (c *Config) BusyTimeout() time.Duration  { return time.Duration(c.Database.BusyTimeoutMS) * time.Millisecond }
func (c *Config) LockTimeout() time.Duration  { return time.Duration(c.Database.LockTimeoutMS) * time.Millisecond }
func (c *Config) RetryBudget() time.Duration  { return time.Duration(c.Database.RetryBudgetMS) * time.Millisecond }
func (c *Config) RetryBackoff() time.Duration { return time.Duration(c.Database.RetryBackoffMS) * time.Millisecond }
func (c *Config) LeaseTTL() time.Duration     { return time.Duration(c.Worker.LeaseTTLMS) * time.Millisecond }
func (c *Config) WorkerPoll() time.Duration   { return time.Duration(c.Worker.PollIntervalMS) * time.Millisecond }

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".hoard", "config.yaml")
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

func splitPaths(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
