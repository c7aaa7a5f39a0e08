// Package config loads issuesync configuration from file, environment, and
// flags via viper.
//
// Precedence, highest first: command-line flags, ISSUESYNC_* environment
// variables, the config file, built-in defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full issuesync configuration.
type Config struct {
	// Enabled gates all synchronization. When false the daemon refuses
	// to start and sync commands exit without contacting the remote.
	Enabled bool `mapstructure:"enabled"`

	// Query selects the remote records to pull (JQL).
	Query string `mapstructure:"query"`

	// SyncInterval is the period between automatic sync cycles.
	SyncInterval time.Duration `mapstructure:"sync_interval"`

	// MaxResults bounds the page size of remote searches.
	MaxResults int `mapstructure:"max_results"`

	// BatchSize bounds how many queued changes are pushed per batch.
	BatchSize int `mapstructure:"batch_size"`

	// Bidirectional enables pushing local changes to the remote.
	Bidirectional bool `mapstructure:"bidirectional"`

	// ConflictResolution is one of "local", "remote", "manual".
	ConflictResolution string `mapstructure:"conflict_resolution"`

	Remote    RemoteConfig    `mapstructure:"remote"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Paths     PathsConfig     `mapstructure:"paths"`
	Daemon    DaemonConfig    `mapstructure:"daemon"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Log       LogConfig       `mapstructure:"log"`
	Suggest   SuggestConfig   `mapstructure:"suggest"`
}

// RemoteConfig identifies the remote issue tracker.
type RemoteConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Token   string `mapstructure:"token"`
}

// RateLimitConfig bounds outbound request rate.
type RateLimitConfig struct {
	MaxRequests int           `mapstructure:"max_requests"`
	TimeWindow  time.Duration `mapstructure:"time_window"`

	// Adaptive enables multiplicative ceiling adjustment from observed
	// request outcomes.
	Adaptive bool `mapstructure:"adaptive"`
}

// RetryConfig tunes retry and circuit breaking for remote calls.
type RetryConfig struct {
	MaxRetries        int           `mapstructure:"max_retries"`
	BaseDelay         time.Duration `mapstructure:"base_delay"`
	MaxDelay          time.Duration `mapstructure:"max_delay"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
	Jitter            bool          `mapstructure:"jitter"`
	BreakerThreshold  int           `mapstructure:"breaker_threshold"`
	BreakerTimeout    time.Duration `mapstructure:"breaker_timeout"`
}

// PathsConfig locates local state on disk.
type PathsConfig struct {
	RecordsDir  string `mapstructure:"records_dir"`
	IndexPath   string `mapstructure:"index_path"`
	QueuePath   string `mapstructure:"queue_path"`
	MappingPath string `mapstructure:"mapping_path"`
}

// DaemonConfig tunes the background loop.
type DaemonConfig struct {
	DebounceWindow time.Duration `mapstructure:"debounce_window"`
	SyncOnStart    bool          `mapstructure:"sync_on_start"`
}

// DashboardConfig controls the WebSocket observability server.
type DashboardConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LogConfig controls the daemon's rotating log file.
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// SuggestConfig controls AI-assisted conflict resolution hints.
type SuggestConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Model   string `mapstructure:"model"`
}

// setDefaults registers every default value on the given viper instance.
func setDefaults(v *viper.Viper) {
	v.SetDefault("enabled", true)
	v.SetDefault("query", "")
	v.SetDefault("sync_interval", 5*time.Minute)
	v.SetDefault("max_results", 50)
	v.SetDefault("batch_size", 10)
	v.SetDefault("bidirectional", true)
	v.SetDefault("conflict_resolution", "manual")

	v.SetDefault("rate_limit.max_requests", 10)
	v.SetDefault("rate_limit.time_window", time.Minute)
	v.SetDefault("rate_limit.adaptive", true)

	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.base_delay", 500*time.Millisecond)
	v.SetDefault("retry.max_delay", 30*time.Second)
	v.SetDefault("retry.backoff_multiplier", 2.0)
	v.SetDefault("retry.jitter", true)
	v.SetDefault("retry.breaker_threshold", 5)
	v.SetDefault("retry.breaker_timeout", time.Minute)

	v.SetDefault("paths.records_dir", ".issuesync/records")
	v.SetDefault("paths.index_path", ".issuesync/index.db")
	v.SetDefault("paths.queue_path", ".issuesync/queue.db")
	v.SetDefault("paths.mapping_path", "")

	v.SetDefault("daemon.debounce_window", 2*time.Second)
	v.SetDefault("daemon.sync_on_start", true)

	v.SetDefault("dashboard.enabled", false)
	v.SetDefault("dashboard.port", 8385)

	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 30)

	v.SetDefault("suggest.enabled", false)
	v.SetDefault("suggest.model", "claude-sonnet-4-20250514")
}

// Load reads configuration from the given file (optional), the environment,
// and defaults. An empty path searches the working directory and
// $HOME/.config/issuesync for issuesync.yaml.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ISSUESYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("issuesync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/issuesync")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
			// No config file is fine; defaults and env apply.
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges and cross-field consistency.
func (c *Config) Validate() error {
	switch c.ConflictResolution {
	case "local", "remote", "manual":
	default:
		return fmt.Errorf("conflict_resolution must be local, remote, or manual, got %q", c.ConflictResolution)
	}

	if c.MaxResults <= 0 {
		return fmt.Errorf("max_results must be positive, got %d", c.MaxResults)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.RateLimit.MaxRequests <= 0 {
		return fmt.Errorf("rate_limit.max_requests must be positive, got %d", c.RateLimit.MaxRequests)
	}
	if c.RateLimit.TimeWindow <= 0 {
		return fmt.Errorf("rate_limit.time_window must be positive, got %v", c.RateLimit.TimeWindow)
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative, got %d", c.Retry.MaxRetries)
	}
	if c.Retry.BackoffMultiplier < 1 {
		return fmt.Errorf("retry.backoff_multiplier must be at least 1, got %v", c.Retry.BackoffMultiplier)
	}
	if c.SyncInterval < 0 {
		return fmt.Errorf("sync_interval must not be negative, got %v", c.SyncInterval)
	}
	return nil
}
