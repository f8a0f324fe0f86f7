package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Scraper.Concurrency != 5 || cfg.Scraper.RequestsPerMinute != 120 {
		t.Fatalf("unexpected scraper defaults: %+v", cfg.Scraper)
	}
	if cfg.Storage.Backend != BackendMemory || cfg.Archive.Backend != ArchiveNone {
		t.Fatalf("unexpected backend defaults: %s/%s", cfg.Storage.Backend, cfg.Archive.Backend)
	}
	defaults := cfg.ScheduleDefaults()
	if defaults.DailyTime != "06:00" || defaults.WeeklyDay != "monday" || defaults.WeeklyTime != "08:00" || defaults.Timezone != "UTC" {
		t.Fatalf("unexpected schedule defaults: %+v", defaults)
	}
	if cfg.Scraper.Retry.MaxRetries != 3 {
		t.Fatalf("expected 3 retries by default, got %d", cfg.Scraper.Retry.MaxRetries)
	}
	window, err := cfg.FailureWindow()
	if err != nil || window != 24*time.Hour {
		t.Fatalf("expected 24h failure window, got %v (%v)", window, err)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  api_key: secret
schedule:
  daily_time: "07:15"
  weekly_day: friday
  timezone: America/New_York
scraper:
  concurrency: 3
  requests_per_minute: 60
  blocked_hosts: ["x.com", "facebook.com"]
  retry:
    max_retries: 5
    base_delay_ms: 200
    max_delay_ms: 2000
storage:
  backend: postgres
  dsn: postgres://localhost/topicwatch
archive:
  backend: local
  local_dir: /tmp/digests
logging:
  development: true
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 || cfg.Server.APIKey != "secret" {
		t.Fatalf("expected server overrides to apply: %+v", cfg.Server)
	}
	if cfg.Schedule.DailyTime != "07:15" || cfg.Schedule.WeeklyDay != "friday" || cfg.Schedule.Timezone != "America/New_York" {
		t.Fatalf("expected schedule overrides to apply: %+v", cfg.Schedule)
	}
	if cfg.Schedule.WeeklyTime != "08:00" {
		t.Fatalf("expected weekly time default to survive, got %q", cfg.Schedule.WeeklyTime)
	}
	if cfg.Scraper.Concurrency != 3 || len(cfg.Scraper.BlockedHosts) != 2 {
		t.Fatalf("expected scraper overrides to apply: %+v", cfg.Scraper)
	}
	base, maxDelay := cfg.Scraper.Retry.RetryDelays()
	if cfg.Scraper.Retry.MaxRetries != 5 || base != 200*time.Millisecond || maxDelay != 2*time.Second {
		t.Fatalf("unexpected retry config: %+v", cfg.Scraper.Retry)
	}
	if cfg.Storage.Backend != BackendPostgres || cfg.Archive.LocalDir != "/tmp/digests" {
		t.Fatalf("expected storage overrides to apply: %+v %+v", cfg.Storage, cfg.Archive)
	}
	if !cfg.Logging.Development {
		t.Fatalf("expected development logging")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TOPICWATCH_SERVER_PORT", "7070")
	t.Setenv("TOPICWATCH_MODEL_API_KEY", "sk-test")
	t.Setenv("TOPICWATCH_SCRAPER_CONCURRENCY", "9")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Fatalf("expected port 7070, got %d", cfg.Server.Port)
	}
	if cfg.Model.APIKey != "sk-test" {
		t.Fatalf("expected model key from env, got %q", cfg.Model.APIKey)
	}
	if cfg.Scraper.Concurrency != 9 {
		t.Fatalf("expected concurrency 9, got %d", cfg.Scraper.Concurrency)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := validConfig()
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "invalid daily time", mutate: func(c *Config) { c.Schedule.DailyTime = "25:00" }, want: "schedule.daily_time"},
		{name: "invalid weekday", mutate: func(c *Config) { c.Schedule.WeeklyDay = "someday" }, want: "schedule.weekly_day"},
		{name: "invalid timezone", mutate: func(c *Config) { c.Schedule.Timezone = "Mars/Base" }, want: "schedule.timezone"},
		{name: "invalid failure window", mutate: func(c *Config) { c.Schedule.FailureWindow = "soon" }, want: "schedule.failure_window"},
		{name: "invalid concurrency", mutate: func(c *Config) { c.Scraper.Concurrency = 0 }, want: "scraper.concurrency"},
		{name: "invalid rate", mutate: func(c *Config) { c.Scraper.RequestsPerMinute = 0 }, want: "scraper.requests_per_minute"},
		{name: "negative retries", mutate: func(c *Config) { c.Scraper.Retry.MaxRetries = -1 }, want: "scraper.retry.max_retries"},
		{
			name: "headless missing max parallel",
			mutate: func(c *Config) {
				c.Headless.Enabled = true
				c.Headless.MaxParallel = 0
			},
			want: "headless.max_parallel",
		},
		{
			name: "postgres without dsn",
			mutate: func(c *Config) {
				c.Storage.Backend = BackendPostgres
				c.Storage.DSN = ""
			},
			want: "storage.dsn",
		},
		{name: "unknown storage", mutate: func(c *Config) { c.Storage.Backend = "sqlite" }, want: "storage.backend"},
		{name: "gcs without bucket", mutate: func(c *Config) { c.Archive.Backend = ArchiveGCS }, want: "archive.gcs_bucket"},
		{name: "pubsub without project", mutate: func(c *Config) { c.PubSub.Enabled = true }, want: "pubsub.project_id"},
		{name: "sample ratio", mutate: func(c *Config) { c.Telemetry.SampleRatio = 2 }, want: "telemetry.sample_ratio"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func validConfig() Config {
	return Config{
		Server: ServerConfig{Port: 8080},
		Schedule: ScheduleConfig{
			DailyTime:     "06:00",
			WeeklyDay:     "monday",
			WeeklyTime:    "08:00",
			Timezone:      "UTC",
			FailureWindow: "24h",
		},
		Scraper: ScraperConfig{
			Concurrency:         5,
			RequestsPerMinute:   120,
			FetchTimeoutSeconds: 20,
			Retry:               RetryConfig{MaxRetries: 3},
		},
		Storage:   StorageConfig{Backend: BackendMemory, MaxConnLife: "30m"},
		Archive:   ArchiveConfig{Backend: ArchiveNone},
		Telemetry: TelemetryConfig{SampleRatio: 0.1},
	}
}
