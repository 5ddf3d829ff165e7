// Package logctx carries loggers through context.Context.
//
// The merge pipeline enriches the logger once per input and per stage:
//
//	ctx = logctx.WithInput(ctx, i, path)
//	log := logctx.FromContext(ctx)
//
// When a context carries no logger, the global pkg/logging logger is used.
package logctx

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/eunmann/bdf-merge/pkg/logging"
)

type loggerKey struct{}

// WithLogger returns a context carrying logger.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext returns the context's logger, or the global logger.
func FromContext(ctx context.Context) zerolog.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerKey{}).(zerolog.Logger); ok {
			return logger
		}
	}
	return *logging.L()
}

// WithStr adds a string field to the context's logger.
func WithStr(ctx context.Context, key, value string) context.Context {
	return WithLogger(ctx, FromContext(ctx).With().Str(key, value).Logger())
}

// WithInt adds an int field to the context's logger.
func WithInt(ctx context.Context, key string, value int) context.Context {
	return WithLogger(ctx, FromContext(ctx).With().Int(key, value).Logger())
}

// WithInput tags the context's logger with the input being processed.
func WithInput(ctx context.Context, index int, path string) context.Context {
	logger := FromContext(ctx).With().
		Int("input_index", index).
		Str("input", path).
		Logger()
	return WithLogger(ctx, logger)
}
