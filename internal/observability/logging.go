package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// LogLevelEnv overrides the configured log level when set.
const LogLevelEnv = "LYRAE_LOG_LEVEL"

// NewLogger creates a structured JSON logger on stdout with a component
// field. The level comes from LYRAE_LOG_LEVEL, defaulting to info.
func NewLogger(component string) zerolog.Logger {
	return NewLoggerWithLevel(component, ParseLevel(os.Getenv(LogLevelEnv)))
}

// NewLoggerWithLevel creates a logger with an explicit level.
func NewLoggerWithLevel(component string, level zerolog.Level) zerolog.Logger {
	return newLogger(os.Stdout, component, level)
}

// NewConfiguredLogger uses the configured level unless LYRAE_LOG_LEVEL is
// set.
func NewConfiguredLogger(component, configured string) zerolog.Logger {
	if env := os.Getenv(LogLevelEnv); env != "" {
		configured = env
	}
	return NewLoggerWithLevel(component, ParseLevel(configured))
}

func newLogger(w io.Writer, component string, level zerolog.Level) zerolog.Logger {
	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

// ParseLevel maps a level name to a zerolog level; unknown names are info.
func ParseLevel(s string) zerolog.Level {
	switch s {
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}
