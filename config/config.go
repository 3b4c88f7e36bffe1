package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Worker    WorkerConfig    `yaml:"worker"`
	Scraper   ScraperConfig   `yaml:"scraper"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Ops       OpsConfig       `yaml:"ops"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Level string `yaml:"level"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// WorkerConfig holds the polling processor configuration.
type WorkerConfig struct {
	// PoolSize caps how many hotels are processed concurrently, which caps
	// the number of live browser sessions.
	PoolSize             int           `yaml:"pool_size"`
	TickSeconds          int           `yaml:"tick_seconds"`
	SearchTimeoutSeconds int           `yaml:"search_timeout_seconds"`
	PageTimeoutSeconds   int           `yaml:"page_timeout_seconds"`
	StaleSearchSeconds   int           `yaml:"stale_search_seconds"`
	StaleLockSeconds     int           `yaml:"stale_lock_seconds"`
	// CancelPollMs is how often a running search re-reads its status to
	// notice an operator cancel.
	CancelPollMs  int           `yaml:"cancel_poll_ms"`
	MaxRetries    int           `yaml:"max_retries"`
	Tick          time.Duration `yaml:"-"`
	SearchTimeout time.Duration `yaml:"-"`
	PageTimeout   time.Duration `yaml:"-"`
	StaleSearch   time.Duration `yaml:"-"`
	StaleLock     time.Duration `yaml:"-"`
	CancelPoll    time.Duration `yaml:"-"`
}

// ScraperConfig holds browser and pacing settings shared by all adapters.
type ScraperConfig struct {
	Headless  bool   `yaml:"headless"`
	UserAgent string `yaml:"user_agent"`
	// MinDelayMs is the mandatory floor between page loads against the same
	// host; JitterMs adds a random 0..N ms on top of it.
	MinDelayMs int `yaml:"min_delay_ms"`
	JitterMs   int `yaml:"jitter_ms"`
}

// SchedulerConfig holds the cron-rule scheduler configuration.
type SchedulerConfig struct {
	Enabled           bool          `yaml:"enabled"`
	TickSeconds       int           `yaml:"tick_seconds"`
	DefaultWindowDays int           `yaml:"default_window_days"`
	Tick              time.Duration `yaml:"-"`
}

// OpsConfig holds the read-only operational HTTP surface configuration.
type OpsConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
}

// Load reads the configuration from the given path and applies defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills in zero values with sane defaults. Exposed so tests can
// build configs without a YAML file.
func (cfg *Config) ApplyDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.MaxOpenConns <= 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns <= 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetimeMinutes <= 0 {
		cfg.Database.ConnMaxLifetimeMinutes = 30
	}

	if cfg.Worker.PoolSize <= 0 {
		cfg.Worker.PoolSize = 2
	}
	if cfg.Worker.TickSeconds <= 0 {
		cfg.Worker.TickSeconds = 30
	}
	if cfg.Worker.SearchTimeoutSeconds <= 0 {
		cfg.Worker.SearchTimeoutSeconds = 1800
	}
	if cfg.Worker.PageTimeoutSeconds <= 0 {
		cfg.Worker.PageTimeoutSeconds = 60
	}
	if cfg.Worker.StaleSearchSeconds <= 0 {
		cfg.Worker.StaleSearchSeconds = 3600
	}
	if cfg.Worker.StaleLockSeconds <= 0 {
		cfg.Worker.StaleLockSeconds = 900
	}
	if cfg.Worker.CancelPollMs <= 0 {
		cfg.Worker.CancelPollMs = 5000
	}
	if cfg.Worker.MaxRetries <= 0 {
		cfg.Worker.MaxRetries = 3
	}
	cfg.Worker.Tick = time.Duration(cfg.Worker.TickSeconds) * time.Second
	cfg.Worker.SearchTimeout = time.Duration(cfg.Worker.SearchTimeoutSeconds) * time.Second
	cfg.Worker.PageTimeout = time.Duration(cfg.Worker.PageTimeoutSeconds) * time.Second
	cfg.Worker.StaleSearch = time.Duration(cfg.Worker.StaleSearchSeconds) * time.Second
	cfg.Worker.StaleLock = time.Duration(cfg.Worker.StaleLockSeconds) * time.Second
	cfg.Worker.CancelPoll = time.Duration(cfg.Worker.CancelPollMs) * time.Millisecond

	if cfg.Scraper.UserAgent == "" {
		cfg.Scraper.UserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	}
	if cfg.Scraper.MinDelayMs <= 0 {
		cfg.Scraper.MinDelayMs = 2000
	}
	if cfg.Scraper.JitterMs < 0 {
		cfg.Scraper.JitterMs = 0
	}

	if cfg.Scheduler.TickSeconds <= 0 {
		cfg.Scheduler.TickSeconds = 60
	}
	if cfg.Scheduler.DefaultWindowDays <= 0 {
		cfg.Scheduler.DefaultWindowDays = 7
	}
	cfg.Scheduler.Tick = time.Duration(cfg.Scheduler.TickSeconds) * time.Second

	if cfg.Ops.Port <= 0 {
		cfg.Ops.Port = 8090
	}
	if cfg.Ops.RateLimitPerSec <= 0 {
		cfg.Ops.RateLimitPerSec = 10
	}
}
