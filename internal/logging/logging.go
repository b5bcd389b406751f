// Package logging builds the process-wide zerolog.Logger, matching
// the teacher's internal/shared/monitoring/logger.go: JSON by default,
// a console writer when LOG_FORMAT is "pretty" or "text". The
// ENVIRONMENT setting does not affect the format.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/pieceserver/pieceserver/internal/config"
)

// New builds a logger per cfg.LogLevel / cfg.LogFormat.
func New(cfg *config.Config) zerolog.Logger {
	var output io.Writer = os.Stdout

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.LogFormat == "pretty" || cfg.LogFormat == "text" {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	return zerolog.New(output).
		With().
		Timestamp().
		Str("service", "pieceserver").
		Str("instance", cfg.InstanceID).
		Logger()
}
