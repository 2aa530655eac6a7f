// Package logging provides structured logging for the scanner.
package logging

import (
	"context"
	"log/slog"
	"os"
)

type contextKey string

const (
	scanIDKey contextKey = "scan_id"
	loggerKey contextKey = "logger"
)

// New creates a structured logger at the given level and format
// ("json" or "text").
func New(level string, format string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// WithScanID tags the context with the in-flight scan's ID.
func WithScanID(ctx context.Context, scanID string) context.Context {
	return context.WithValue(ctx, scanIDKey, scanID)
}

// ScanID extracts the scan ID from context, or "".
func ScanID(ctx context.Context) string {
	if id, ok := ctx.Value(scanIDKey).(string); ok {
		return id
	}
	return ""
}

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext extracts the logger from context, or returns the default.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// L returns the context's logger annotated with the scan ID when present.
func L(ctx context.Context) *slog.Logger {
	logger := FromContext(ctx)
	if id := ScanID(ctx); id != "" {
		return logger.With("scan_id", id)
	}
	return logger
}
