package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall agent configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Student  StudentConfig  `yaml:"student"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Grace    GraceConfig    `yaml:"grace"`
	Sync     SyncConfig     `yaml:"sync"`
	Database DatabaseConfig `yaml:"database"`
}

// ServerConfig holds the local status API configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// UpstreamConfig describes the attendance server this agent reports to.
type UpstreamConfig struct {
	BaseURL        string            `yaml:"base_url"`
	TimeoutSeconds int               `yaml:"timeout_seconds"`
	Headers        map[string]string `yaml:"headers"`
	Timeout        time.Duration     `yaml:"-"`
}

// StudentConfig identifies the student this device tracks.
type StudentConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Semester string `yaml:"semester"`
	Branch   string `yaml:"branch"`
}

// MonitorConfig holds the presence poll loop configuration. The loop is on
// unless explicitly disabled.
type MonitorConfig struct {
	Disabled       bool          `yaml:"disabled"`
	PollIntervalMs int           `yaml:"poll_interval_ms"`
	PollInterval   time.Duration `yaml:"-"`
	Interface      string        `yaml:"interface"`
}

// GraceConfig holds the disconnect grace period configuration. The grace
// window is on unless explicitly disabled.
type GraceConfig struct {
	Disabled    bool          `yaml:"disabled"`
	DurationSec int           `yaml:"duration_sec"`
	Duration    time.Duration `yaml:"-"`
}

// SyncConfig holds the offline queue flush configuration.
type SyncConfig struct {
	FlushIntervalSec int           `yaml:"flush_interval_sec"`
	FlushInterval    time.Duration `yaml:"-"`
}

// DatabaseConfig holds the local durable storage configuration.
type DatabaseConfig struct {
	Driver       string `yaml:"driver"` // "sqlite" (default) or "postgres"
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
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
		return nil, err
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills in defaults for unset or invalid values.
func (cfg *Config) ApplyDefaults() {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8991
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 60
	}

	if cfg.Upstream.TimeoutSeconds <= 0 {
		cfg.Upstream.TimeoutSeconds = 30
	}
	cfg.Upstream.Timeout = time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second

	// The original call sites disagreed on 2s/3s/5s; 5s is the documented default.
	if cfg.Monitor.PollIntervalMs <= 0 {
		cfg.Monitor.PollIntervalMs = 5000
	}
	cfg.Monitor.PollInterval = time.Duration(cfg.Monitor.PollIntervalMs) * time.Millisecond

	if cfg.Grace.DurationSec <= 0 {
		cfg.Grace.DurationSec = 120
	}
	cfg.Grace.Duration = time.Duration(cfg.Grace.DurationSec) * time.Second

	if cfg.Sync.FlushIntervalSec <= 0 {
		cfg.Sync.FlushIntervalSec = 60
	}
	cfg.Sync.FlushInterval = time.Duration(cfg.Sync.FlushIntervalSec) * time.Second

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "attendance.db"
	}
	if cfg.Database.MaxOpenConns <= 0 {
		cfg.Database.MaxOpenConns = 1
	}
	if cfg.Database.MaxIdleConns <= 0 {
		cfg.Database.MaxIdleConns = 1
	}
}
