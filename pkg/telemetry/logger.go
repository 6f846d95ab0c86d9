package telemetry

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// loggerContextKey is the context key for logger instances.
type loggerContextKey struct{}

// NewLogger creates the root logger from configuration. Console format
// is the default because the arena is an interactive program; json is
// for running it under a supervisor.
func NewLogger(cfg *Config) zerolog.Logger {
	var writer io.Writer = os.Stderr
	if cfg.LogFormat == "console" {
		writer = zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.Kitchen,
		}
	}

	logger := zerolog.New(writer).With().Timestamp().Logger()
	return logger.Level(parseLogLevel(cfg.LogLevel))
}

// WithLogger adds the logger to the context.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, logger)
}

// LoggerFromContext retrieves the logger from the context, falling back
// to a disabled logger so callers never nil-check.
func LoggerFromContext(ctx context.Context) zerolog.Logger {
	if l, ok := ctx.Value(loggerContextKey{}).(zerolog.Logger); ok {
		return l
	}
	return zerolog.New(nil).Level(zerolog.Disabled)
}

func parseLogLevel(level string) zerolog.Level {
	switch level {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
