package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOARD_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 7141 || cfg.Server.Host != "127.0.0.1" {
		t.Errorf("server defaults = %s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.Database.BusyTimeoutMS != 5000 || cfg.Database.LockTimeoutMS != 30000 {
		t.Errorf("database defaults = %+v", cfg.Database)
	}
	if cfg.Duplicates.Threshold != 0.85 {
		t.Errorf("threshold = %f", cfg.Duplicates.Threshold)
	}
	if cfg.Memory.DefaultTTLDays != 30 {
		t.Errorf("ttl days = %d", cfg.Memory.DefaultTTLDays)
	}
	if cfg.Embedding.Model != "nomic-embed-text" || cfg.Embedding.Dimension != 768 {
		t.Errorf("embedding defaults = %+v", cfg.Embedding)
	}
	if !filepath.IsAbs(cfg.Storage.DBPath) {
		t.Errorf("db path not expanded: %s", cfg.Storage.DBPath)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
storage:
  db_path: ` + filepath.Join(dir, "custom.db") + `
server:
  port: 9999
  api_key: secret
database:
  lock_timeout_ms: 1500
sync:
  interval_minutes: 15
  watch_paths:
    - /notes/a
    - /notes/b
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("HOARD_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9999 || cfg.Server.APIKey != "secret" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Database.LockTimeoutMS != 1500 {
		t.Errorf("lock timeout = %d", cfg.Database.LockTimeoutMS)
	}
	// Untouched keys keep their defaults.
	if cfg.Database.BusyTimeoutMS != 5000 {
		t.Errorf("busy timeout = %d, want default", cfg.Database.BusyTimeoutMS)
	}
	if len(cfg.Sync.WatchPaths) != 2 || cfg.Sync.IntervalMinutes != 15 {
		t.Errorf("sync = %+v", cfg.Sync)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HOARD_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("HOARD_DB_PATH", "/tmp/override.db")
	t.Setenv("HOARD_PORT", "8181")
	t.Setenv("HOARD_DUP_THRESHOLD", "0.9")
	t.Setenv("HOARD_SYNC_WATCH", "/a, /b ,,")
	t.Setenv("HOARD_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.DBPath != "/tmp/override.db" {
		t.Errorf("db path = %s", cfg.Storage.DBPath)
	}
	if cfg.Server.Port != 8181 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Duplicates.Threshold != 0.9 {
		t.Errorf("threshold = %f", cfg.Duplicates.Threshold)
	}
	if len(cfg.Sync.WatchPaths) != 2 {
		t.Errorf("watch paths = %v", cfg.Sync.WatchPaths)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %s", cfg.Logging.Level)
	}
}

func TestEnvWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9000\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("HOARD_CONFIG", path)
	t.Setenv("HOARD_PORT", "9001")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9001 {
		t.Errorf("port = %d, want env override", cfg.Server.Port)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty db path", func(c *Config) { c.Storage.DBPath = "" }},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }},
		{"port zero", func(c *Config) { c.Server.Port = 0 }},
		{"negative busy timeout", func(c *Config) { c.Database.BusyTimeoutMS = -1 }},
		{"zero lock timeout", func(c *Config) { c.Database.LockTimeoutMS = 0 }},
		{"threshold above one", func(c *Config) { c.Duplicates.Threshold = 1.5 }},
		{"zero lease ttl", func(c *Config) { c.Worker.LeaseTTLMS = 0 }},
		{"zero embedding dim", func(c *Config) { c.Embedding.Dimension = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaults()
			tc.mutate(cfg)
			if err := cfg.validate(); err == nil {
				t.Error("validate passed, want error")
			}
		})
	}
}

func TestDurationAccessors(t *testing.T) {
	cfg := defaults()
	if cfg.BusyTimeout() != 5*time.Second {
		t.Errorf("busy = %s", cfg.BusyTimeout())
	}
	if cfg.LockTimeout() != 30*time.Second {
		t.Errorf("lock = %s", cfg.LockTimeout())
	}
	if cfg.RetryBackoff() != 50*time.Millisecond {
		t.Errorf("backoff = %s", cfg.RetryBackoff())
	}
	if cfg.LeaseTTL() != 30*time.Second {
		t.Errorf("lease = %s", cfg.LeaseTTL())
	}
	if cfg.WorkerPoll() != time.Second {
		t.Errorf("poll = %s", cfg.WorkerPoll())
	}
}

func TestSplitPaths(t *testing.T) {
	got := splitPaths(" /a ,, /b,")
	if len(got) != 2 || got[0] != "/a" || got[1] != "/b" {
		t.Errorf("splitPaths = %v", got)
	}
	if splitPaths("") != nil {
		t.Error("splitPaths(\"\") should be nil")
	}
}
