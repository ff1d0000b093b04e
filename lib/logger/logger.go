// Package logger provides the process-wide slog setup and request-scoped
// logger propagation through context.
package logger

import (
	"context"
	"log/slog"
	"os"
)

type ctxKey struct{}

// New creates the JSON logger used by every binary in this repo.
func New(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
}

// AddToContext attaches a logger to the context so handlers and managers can
// retrieve it with FromContext.
func AddToContext(ctx context.Context, log *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, log)
}

// FromContext returns the logger attached to the context, or the process
// default when none is attached.
func FromContext(ctx context.Context) *slog.Logger {
	if log, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return log
	}
	return slog.Default()
}
