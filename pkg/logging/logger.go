// Package logging configures the process-wide zerolog logger for the mensa
// client. Its Config doubles as the "log" section of the configuration file.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Accepted level names. "warning" is accepted as an alias of "warn".
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// consoleTimeFormat keeps pretty output short enough for a terminal.
const consoleTimeFormat = "15:04:05"

// Config holds logger configuration.
type Config struct {
	// Level is the minimum level to output (default: info)
	Level string `mapstructure:"level" yaml:"level"`

	// Pretty switches from JSON lines to human-readable console output
	Pretty bool `mapstructure:"pretty" yaml:"pretty"`

	// Output receives the log lines (default: os.Stderr)
	Output io.Writer `mapstructure:"-" yaml:"-"`
}

// DefaultConfig returns JSON logging at info level on stderr.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Output: os.Stderr,
	}
}

// Validate reports an unknown level.
func (c Config) Validate() error {
	if _, err := ParseLevel(c.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// Setup configures the global logger from cfg and returns it. An invalid
// level falls back to info.
func Setup(cfg Config) zerolog.Logger {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: consoleTimeFormat}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger
	return logger
}

// ParseLevel converts a level name to a zerolog.Level. The empty string
// means info.
func ParseLevel(level string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case LevelDebug:
		return zerolog.DebugLevel, nil
	case LevelInfo, "":
		return zerolog.InfoLevel, nil
	case LevelWarn, "warning":
		return zerolog.WarnLevel, nil
	case LevelError:
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.InfoLevel, fmt.Errorf("unknown level %q (want debug, info, warn or error)", level)
	}
}

// NewLogger returns the global logger tagged with component.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Cache hits and stored responses (url, size)
//   - Outgoing requests (conditional or not)
//   - Rate limiter delays
//
// Info: Normal operation events
//   - Cache misses and revalidations
//   - Unconditional fallbacks after a failed revalidation
//   - Cache cleared, server startup/shutdown
//
// Warn: Warning conditions that don't prevent operation
//   - Cache probe failures (treated as miss)
//   - Failed timestamp refresh after 304
//   - Transport failures and retry exhaustion
//
// Error: Error conditions requiring attention
//   - Failed top-level commands
//   - Configuration errors
//
// Context Fields:
//   - component: emitting package (fetch-client, http-requester, ...)
//   - url: requested URL
//   - etag: validator sent or received
//   - size: payload size in bytes
//   - page: page number in batch fetches
//   - host: upstream host for rate limiting
