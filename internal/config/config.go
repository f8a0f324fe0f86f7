// Package config loads and validates topicwatch configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/topicwatch/internal/schedule"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Archive backends.
const (
	ArchiveNone  = "none"
	ArchiveLocal = "local"
	ArchiveGCS   = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	Scraper   ScraperConfig   `mapstructure:"scraper"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Model     ModelConfig     `mapstructure:"model"`
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
	Digest    DigestConfig    `mapstructure:"digest"`
	Email     EmailConfig     `mapstructure:"email"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Broadcast BroadcastConfig `mapstructure:"broadcast"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	// SeedFile lists topics to set up at start when absent.
	SeedFile string `mapstructure:"seed_file"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int    `mapstructure:"port"`
	APIKey                 string `mapstructure:"api_key"`
	RequestTimeoutSeconds  int    `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ScheduleConfig holds schedule defaults and health thresholds.
type ScheduleConfig struct {
	DailyTime     string `mapstructure:"daily_time"`
	WeeklyDay     string `mapstructure:"weekly_day"`
	WeeklyTime    string `mapstructure:"weekly_time"`
	Timezone      string `mapstructure:"timezone"`
	FailureWindow string `mapstructure:"failure_window"`
	DegradedAfter int    `mapstructure:"degraded_after"`
}

// ScraperConfig governs fetch fan-out, pacing and retries.
type ScraperConfig struct {
	Concurrency         int      `mapstructure:"concurrency"`
	RequestsPerMinute   int      `mapstructure:"requests_per_minute"`
	MaxItems            int      `mapstructure:"max_items"`
	FetchTimeoutSeconds int      `mapstructure:"fetch_timeout_seconds"`
	UserAgent           string   `mapstructure:"user_agent"`
	RespectRobots       bool     `mapstructure:"respect_robots"`
	MaxBodyBytes        int      `mapstructure:"max_body_bytes"`
	PerHostRPS          float64  `mapstructure:"per_host_rps"`
	PerHostBurst        int      `mapstructure:"per_host_burst"`
	BlockedHosts        []string `mapstructure:"blocked_hosts"`
	Retry               RetryConfig `mapstructure:"retry"`
}

// RetryConfig is the exponential backoff shared by outbound clients.
type RetryConfig struct {
	MaxRetries  int `mapstructure:"max_retries"`
	BaseDelayMs int `mapstructure:"base_delay_ms"`
	MaxDelayMs  int `mapstructure:"max_delay_ms"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled            bool `mapstructure:"enabled"`
	MaxParallel        int  `mapstructure:"max_parallel"`
	NavTimeoutSec      int  `mapstructure:"nav_timeout_seconds"`
	PromotionThreshold int  `mapstructure:"promotion_threshold"`
	PerRun             int  `mapstructure:"per_run"`
}

// ModelConfig points at a chat-completions endpoint. An empty API key
// leaves analysis and digests on their fallbacks.
type ModelConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// AnalysisConfig tunes article scoring.
type AnalysisConfig struct {
	BatchSize       int     `mapstructure:"batch_size"`
	MinImportance   int     `mapstructure:"min_importance"`
	HighImportance  int     `mapstructure:"high_importance"`
	MaxArticles     int     `mapstructure:"max_articles"`
	Temperature     float64 `mapstructure:"temperature"`
	MaxOutputTokens int     `mapstructure:"max_output_tokens"`
}

// DigestConfig tunes the weekly digest.
type DigestConfig struct {
	TopStories      int     `mapstructure:"top_stories"`
	HighImportance  int     `mapstructure:"high_importance"`
	Brand           string  `mapstructure:"brand"`
	DashboardURL    string  `mapstructure:"dashboard_url"`
	Temperature     float64 `mapstructure:"temperature"`
	MaxOutputTokens int     `mapstructure:"max_output_tokens"`
}

// EmailConfig configures the Resend client. An empty API key skips delivery.
type EmailConfig struct {
	APIKey         string  `mapstructure:"api_key"`
	BaseURL        string  `mapstructure:"base_url"`
	From           string  `mapstructure:"from"`
	ReplyTo        string  `mapstructure:"reply_to"`
	PerSecond      float64 `mapstructure:"per_second"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
}

// StorageConfig selects the repository backend.
type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	DSN         string `mapstructure:"dsn"`
	MaxConns    int32  `mapstructure:"max_conns"`
	MinConns    int32  `mapstructure:"min_conns"`
	MaxConnLife string `mapstructure:"max_conn_lifetime"`
}

// ArchiveConfig selects where weekly digests are archived.
type ArchiveConfig struct {
	Backend   string `mapstructure:"backend"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSPrefix string `mapstructure:"gcs_prefix"`
}

// PubSubConfig announces finished runs on Pub/Sub when enabled.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProgressConfig tunes the event hub.
type ProgressConfig struct {
	BufferSize     int `mapstructure:"buffer_size"`
	MaxBatchEvents int `mapstructure:"max_batch_events"`
	MaxBatchWaitMs int `mapstructure:"max_batch_wait_ms"`
	SinkTimeoutMs  int `mapstructure:"sink_timeout_ms"`
}

// BroadcastConfig tunes live subscriptions.
type BroadcastConfig struct {
	BufferSize          int `mapstructure:"buffer_size"`
	PingIntervalSeconds int `mapstructure:"ping_interval_seconds"`
	TimeoutSeconds      int `mapstructure:"timeout_seconds"`
}

// TelemetryConfig toggles tracing.
type TelemetryConfig struct {
	TracingEnabled bool    `mapstructure:"tracing_enabled"`
	ServiceName    string  `mapstructure:"service_name"`
	SampleRatio    float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TOPICWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("server.shutdown_timeout_seconds", 30)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("schedule.daily_time", "06:00")
	v.SetDefault("schedule.weekly_day", "monday")
	v.SetDefault("schedule.weekly_time", "08:00")
	v.SetDefault("schedule.timezone", "UTC")
	v.SetDefault("schedule.failure_window", "24h")
	v.SetDefault("schedule.degraded_after", 5)
	v.SetDefault("scraper.concurrency", 5)
	v.SetDefault("scraper.requests_per_minute", 120)
	v.SetDefault("scraper.max_items", 10)
	v.SetDefault("scraper.fetch_timeout_seconds", 20)
	v.SetDefault("scraper.user_agent", "topicwatch/1.0 (+https://github.com/JakeFAU/topicwatch)")
	v.SetDefault("scraper.respect_robots", true)
	v.SetDefault("scraper.max_body_bytes", 5*1024*1024)
	v.SetDefault("scraper.per_host_rps", 1.0)
	v.SetDefault("scraper.per_host_burst", 2)
	v.SetDefault("scraper.blocked_hosts", []string{})
	v.SetDefault("scraper.retry.max_retries", 3)
	v.SetDefault("scraper.retry.base_delay_ms", 1000)
	v.SetDefault("scraper.retry.max_delay_ms", 10000)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.promotion_threshold", 60)
	v.SetDefault("headless.per_run", 5)
	v.SetDefault("model.base_url", "https://api.openai.com/v1")
	v.SetDefault("model.api_key", "")
	v.SetDefault("model.model", "gpt-4o-mini")
	v.SetDefault("model.timeout_seconds", 60)
	v.SetDefault("analysis.batch_size", 10)
	v.SetDefault("analysis.min_importance", 60)
	v.SetDefault("analysis.high_importance", 70)
	v.SetDefault("analysis.max_articles", 50)
	v.SetDefault("analysis.temperature", 0.4)
	v.SetDefault("analysis.max_output_tokens", 1500)
	v.SetDefault("digest.top_stories", 15)
	v.SetDefault("digest.high_importance", 80)
	v.SetDefault("digest.brand", "topicwatch")
	v.SetDefault("digest.dashboard_url", "")
	v.SetDefault("digest.temperature", 0.5)
	v.SetDefault("digest.max_output_tokens", 4000)
	v.SetDefault("email.api_key", "")
	v.SetDefault("email.base_url", "https://api.resend.com")
	v.SetDefault("email.from", "topicwatch <digest@topicwatch.dev>")
	v.SetDefault("email.reply_to", "")
	v.SetDefault("email.per_second", 2.0)
	v.SetDefault("email.timeout_seconds", 15)
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.max_conns", 8)
	v.SetDefault("storage.min_conns", 0)
	v.SetDefault("storage.max_conn_lifetime", "30m")
	v.SetDefault("archive.backend", ArchiveNone)
	v.SetDefault("archive.local_dir", "data/digests")
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("archive.gcs_prefix", "topicwatch/")
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "topicwatch-runs")
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.max_batch_events", 64)
	v.SetDefault("progress.max_batch_wait_ms", 250)
	v.SetDefault("progress.sink_timeout_ms", 5000)
	v.SetDefault("broadcast.buffer_size", 256)
	v.SetDefault("broadcast.ping_interval_seconds", 30)
	v.SetDefault("broadcast.timeout_seconds", 35)
	v.SetDefault("telemetry.tracing_enabled", false)
	v.SetDefault("telemetry.service_name", "topicwatch")
	v.SetDefault("telemetry.sample_ratio", 0.1)
	v.SetDefault("seed_file", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 {
		errs = append(errs, errors.New("server.port must be > 0"))
	}
	if _, _, err := schedule.ParseClock(c.Schedule.DailyTime); err != nil {
		errs = append(errs, fmt.Errorf("schedule.daily_time: %w", err))
	}
	if _, _, err := schedule.ParseClock(c.Schedule.WeeklyTime); err != nil {
		errs = append(errs, fmt.Errorf("schedule.weekly_time: %w", err))
	}
	if _, ok := schedule.ParseWeekday(c.Schedule.WeeklyDay); !ok {
		errs = append(errs, fmt.Errorf("schedule.weekly_day %q is not a weekday", c.Schedule.WeeklyDay))
	}
	if _, err := schedule.LoadLocation(c.Schedule.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("schedule.timezone: %w", err))
	}
	if _, err := c.FailureWindow(); err != nil {
		errs = append(errs, err)
	}
	if c.Scraper.Concurrency <= 0 {
		errs = append(errs, errors.New("scraper.concurrency must be > 0"))
	}
	if c.Scraper.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("scraper.requests_per_minute must be > 0"))
	}
	if c.Scraper.FetchTimeoutSeconds <= 0 {
		errs = append(errs, errors.New("scraper.fetch_timeout_seconds must be > 0"))
	}
	if c.Scraper.Retry.MaxRetries < 0 {
		errs = append(errs, errors.New("scraper.retry.max_retries must be >= 0"))
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		errs = append(errs, errors.New("headless.max_parallel must be > 0 when headless is enabled"))
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if strings.TrimSpace(c.Storage.DSN) == "" {
			errs = append(errs, errors.New("storage.dsn is required for the postgres backend"))
		}
		if _, err := time.ParseDuration(c.Storage.MaxConnLife); err != nil {
			errs = append(errs, fmt.Errorf("storage.max_conn_lifetime: %w", err))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q must be memory or postgres", c.Storage.Backend))
	}
	switch c.Archive.Backend {
	case ArchiveNone:
	case ArchiveLocal:
		if strings.TrimSpace(c.Archive.LocalDir) == "" {
			errs = append(errs, errors.New("archive.local_dir is required for the local archive"))
		}
	case ArchiveGCS:
		if strings.TrimSpace(c.Archive.GCSBucket) == "" {
			errs = append(errs, errors.New("archive.gcs_bucket is required for the gcs archive"))
		}
	default:
		errs = append(errs, fmt.Errorf("archive.backend %q must be none, local or gcs", c.Archive.Backend))
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		errs = append(errs, errors.New("pubsub.project_id and pubsub.topic_name are required when pubsub is enabled"))
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		errs = append(errs, errors.New("telemetry.sample_ratio must be within [0,1]"))
	}
	return errors.Join(errs...)
}

// FailureWindow parses schedule.failure_window.
func (c Config) FailureWindow() (time.Duration, error) {
	d, err := time.ParseDuration(c.Schedule.FailureWindow)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("schedule.failure_window %q must be a positive duration", c.Schedule.FailureWindow)
	}
	return d, nil
}

// ScheduleDefaults returns the defaults applied to new topic schedules.
func (c Config) ScheduleDefaults() schedule.Defaults {
	return schedule.Defaults{
		DailyTime:  c.Schedule.DailyTime,
		WeeklyDay:  c.Schedule.WeeklyDay,
		WeeklyTime: c.Schedule.WeeklyTime,
		Timezone:   c.Schedule.Timezone,
	}
}

// RetryDelays converts the retry settings to durations.
func (r RetryConfig) RetryDelays() (base, maxDelay time.Duration) {
	return time.Duration(r.BaseDelayMs) * time.Millisecond, time.Duration(r.MaxDelayMs) * time.Millisecond
}

// Seconds converts a whole-second setting to a duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// Millis converts a millisecond setting to a duration.
func Millis(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
