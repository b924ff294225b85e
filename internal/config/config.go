// Package config loads worker settings from a YAML file, CONTRACTWORKER_*
// environment variables and command-line flags, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, with dots in keys
// replaced by underscores: CONTRACTWORKER_QUEUE_CONCURRENCY.
const EnvPrefix = "CONTRACTWORKER"

// Config is the complete worker configuration.
type Config struct {
	// Database is the SQLite document store path.
	Database  string          `mapstructure:"database"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Cascade   CascadeConfig   `mapstructure:"cascade"`
	Log       LogConfig       `mapstructure:"log"`
}

// QueueConfig tunes the job consumer.
type QueueConfig struct {
	Concurrency  int           `mapstructure:"concurrency"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Retries      int           `mapstructure:"retries"`
	RetryDelay   time.Duration `mapstructure:"retry_delay"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	// LockTimeout frees a claimed job whose worker stopped reporting.
	LockTimeout time.Duration `mapstructure:"lock_timeout"`
	// PostgresDSN moves the job table to PostgreSQL when set.
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

// SchedulerConfig tunes the interval-trigger tick loop.
type SchedulerConfig struct {
	TickInterval time.Duration `mapstructure:"tick_interval"`
}

// CascadeConfig bounds inline sync-trigger execution.
type CascadeConfig struct {
	MaxSteps int `mapstructure:"max_steps"`
}

// LogConfig selects the log level: debug, info, warn or error.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database", "contractworker.db")
	v.SetDefault("queue.concurrency", 1)
	v.SetDefault("queue.poll_interval", time.Second)
	v.SetDefault("queue.retries", 10)
	v.SetDefault("queue.retry_delay", time.Second)
	v.SetDefault("queue.max_attempts", 25)
	v.SetDefault("queue.lock_timeout", 5*time.Minute)
	v.SetDefault("queue.postgres_dsn", "")
	v.SetDefault("scheduler.tick_interval", time.Second)
	v.SetDefault("cascade.max_steps", 100)
	v.SetDefault("log.level", "info")
}

// New returns a viper instance with defaults and environment overrides
// installed. Flags can be bound to it before Load.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the YAML file at path, if any, into v and decodes the
// result.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the worker cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Database == "" {
		errs = append(errs, errors.New("database is required"))
	}
	if c.Queue.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("queue.concurrency must be positive, got %d", c.Queue.Concurrency))
	}
	if c.Queue.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("queue.poll_interval must be positive, got %s", c.Queue.PollInterval))
	}
	if c.Queue.Retries <= 0 {
		errs = append(errs, fmt.Errorf("queue.retries must be positive, got %d", c.Queue.Retries))
	}
	if c.Queue.RetryDelay <= 0 {
		errs = append(errs, fmt.Errorf("queue.retry_delay must be positive, got %s", c.Queue.RetryDelay))
	}
	if c.Queue.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("queue.max_attempts must be positive, got %d", c.Queue.MaxAttempts))
	}
	if c.Queue.LockTimeout <= 0 {
		errs = append(errs, fmt.Errorf("queue.lock_timeout must be positive, got %s", c.Queue.LockTimeout))
	}
	if c.Scheduler.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.tick_interval must be positive, got %s", c.Scheduler.TickInterval))
	}
	if c.Cascade.MaxSteps <= 0 {
		errs = append(errs, fmt.Errorf("cascade.max_steps must be positive, got %d", c.Cascade.MaxSteps))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// SlogLevel parses the configured level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
