// Package config loads pieceserver's runtime configuration from
// environment variables (with an optional local .env file), the same
// layered approach the teacher's ws/config.go uses.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all server configuration. Tags follow caarlos0/env:
// env is the variable name, envDefault the fallback when unset.
type Config struct {
	// Transport
	Addr     string `env:"PS_ADDR" envDefault:":3002"`
	DocsRoot string `env:"PS_DOCS_ROOT" envDefault:"./docs"`

	// Clustering (optional; empty disables cross-instance fan-out)
	NATSURL    string `env:"PS_NATS_URL" envDefault:""`
	InstanceID string `env:"PS_INSTANCE_ID" envDefault:""`

	// Auth (opaque bearer-token check; core never inspects claims)
	JWTSecret    string `env:"PS_JWT_SECRET" envDefault:""`
	RequireAuth  bool   `env:"PS_REQUIRE_AUTH" envDefault:"false"`

	// Capacity
	MaxConnections int `env:"PS_MAX_CONNECTIONS" envDefault:"500"`
	MaxGoroutines  int `env:"PS_MAX_GOROUTINES" envDefault:"4000"`

	// Per-connection rate limiting (golang.org/x/time/rate)
	MaxMessagesPerSec float64 `env:"PS_MAX_MSG_RATE" envDefault:"50"`
	MessageBurst      int     `env:"PS_MSG_BURST" envDefault:"100"`

	// CPU safety thresholds (percent of host CPU, gopsutil-sampled)
	CPURejectThreshold float64 `env:"PS_CPU_REJECT_THRESHOLD" envDefault:"85.0"`
	CPUPauseThreshold  float64 `env:"PS_CPU_PAUSE_THRESHOLD" envDefault:"90.0"`

	// Monitoring
	MetricsAddr     string        `env:"PS_METRICS_ADDR" envDefault:":9095"`
	MetricsInterval time.Duration `env:"PS_METRICS_INTERVAL" envDefault:"15s"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// Load reads configuration from a local .env file (if present) and
// then from the process environment, which always takes precedence.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment variables only")
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Validate rejects configurations that would produce confusing
// runtime behavior rather than failing fast at startup.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("PS_ADDR is required")
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("PS_MAX_CONNECTIONS must be > 0, got %d", c.MaxConnections)
	}
	if c.CPURejectThreshold < 0 || c.CPURejectThreshold > 100 {
		return fmt.Errorf("PS_CPU_REJECT_THRESHOLD must be 0-100, got %.1f", c.CPURejectThreshold)
	}
	if c.CPUPauseThreshold < c.CPURejectThreshold {
		return fmt.Errorf("PS_CPU_PAUSE_THRESHOLD (%.1f) must be >= PS_CPU_REJECT_THRESHOLD (%.1f)",
			c.CPUPauseThreshold, c.CPURejectThreshold)
	}
	if c.RequireAuth && c.JWTSecret == "" {
		return fmt.Errorf("PS_REQUIRE_AUTH is set but PS_JWT_SECRET is empty")
	}
	valid := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !valid[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error (got %q)", c.LogLevel)
	}
	return nil
}

// LogFields logs the loaded configuration once at startup.
func (c *Config) LogFields(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Str("addr", c.Addr).
		Str("docs_root", c.DocsRoot).
		Bool("clustered", c.NATSURL != "").
		Bool("require_auth", c.RequireAuth).
		Int("max_connections", c.MaxConnections).
		Int("max_goroutines", c.MaxGoroutines).
		Float64("max_msg_rate", c.MaxMessagesPerSec).
		Float64("cpu_reject_threshold", c.CPURejectThreshold).
		Float64("cpu_pause_threshold", c.CPUPauseThreshold).
		Dur("metrics_interval", c.MetricsInterval).
		Msg("configuration loaded")
}
