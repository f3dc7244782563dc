package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	Trace     TraceConfig
	Store     StoreConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8000"`
	Host            string        `envconfig:"HOST" default:"0.0.0.0"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"20"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"40"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// TraceConfig holds run and collection settings.
type TraceConfig struct {
	SettleWindow     time.Duration `envconfig:"TRACE_SETTLE_WINDOW" default:"100ms"`
	RunTimeout       time.Duration `envconfig:"TRACE_RUN_TIMEOUT" default:"10s"`
	MaxCallStackSize int           `envconfig:"TRACE_MAX_CALL_STACK" default:"1024"`
}

// StoreConfig selects where the editor text is kept.
type StoreConfig struct {
	Driver string `envconfig:"STORE_DRIVER" default:"memory"` // "memory" or "sqlite"
	DSN    string `envconfig:"STORE_DSN" default:"looptrace.db"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8000",
			Host:            "0.0.0.0",
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 20,
			Burst:             40,
			Enabled:           true,
		},
		Trace: TraceConfig{
			SettleWindow:     100 * time.Millisecond,
			RunTimeout:       10 * time.Second,
			MaxCallStackSize: 1024,
		},
		Store: StoreConfig{
			Driver: "memory",
			DSN:    "looptrace.db",
		},
	}
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Trace.SettleWindow <= 0 {
		errs = append(errs, fmt.Errorf("TRACE_SETTLE_WINDOW must be positive, got %s", c.Trace.SettleWindow))
	}
	if c.Trace.RunTimeout <= c.Trace.SettleWindow {
		errs = append(errs, fmt.Errorf("TRACE_RUN_TIMEOUT (%s) must exceed TRACE_SETTLE_WINDOW (%s)", c.Trace.RunTimeout, c.Trace.SettleWindow))
	}
	if c.Trace.MaxCallStackSize < 0 {
		errs = append(errs, fmt.Errorf("TRACE_MAX_CALL_STACK must not be negative, got %d", c.Trace.MaxCallStackSize))
	}
	switch c.Store.Driver {
	case "memory", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver))
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		errs = append(errs, errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive when rate limiting is enabled"))
	}
	return errors.Join(errs...)
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}
