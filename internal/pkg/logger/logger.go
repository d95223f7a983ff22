package logger

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config represents logger configuration
type Config struct {
	Level       string // debug, info, warn, error, fatal
	Environment string // development, production, test
	Service     string // added as the "service" field on every entry
	Output      io.Writer
}

// Init configures the global zerolog logger.
func Init(cfg Config) {
	zerolog.TimeFieldFormat = time.RFC3339

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	switch cfg.Environment {
	case "test":
		zerolog.SetGlobalLevel(zerolog.Disabled)
		log.Logger = zerolog.New(io.Discard)
		return
	case "development", "dev":
		// Pretty console output for development
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	ctx := zerolog.New(out).With().Timestamp()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	log.Logger = ctx.Caller().Logger()
}

type contextKey string

const ContextKey contextKey = "logger"

// FromContext returns the request logger or the global logger
func FromContext(ctx context.Context) *zerolog.Logger {
	if logger, ok := ctx.Value(ContextKey).(*zerolog.Logger); ok && logger != nil {
		return logger
	}
	return &log.Logger
}

// WithContext returns a context carrying logger
func WithContext(ctx context.Context, logger *zerolog.Logger) context.Context {
	return context.WithValue(ctx, ContextKey, logger)
}
