// Package observability provides structured logging, Prometheus metrics,
// and health checking for the service.
package observability

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/meridianhq/meridian/pkg/contextkeys"
)

// Logger wraps slog with JSON output and field-chaining helpers.
type Logger struct {
	slog  *slog.Logger
	level slog.Level
}

// NewLogger creates a JSON logger at the given level. Level is one of
// debug, info, warn, error (case-insensitive); unknown values mean info.
func NewLogger(level string) *Logger {
	lvl := parseLevel(level)
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return &Logger{slog: slog.New(handler), level: lvl}
}

// NewTestLogger returns a logger that discards nothing but writes to stderr
// at debug level, for use in tests.
func NewTestLogger() *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	return &Logger{slog: slog.New(handler), level: slog.LevelDebug}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithField returns a logger with the field attached to every record.
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{slog: l.slog.With(key, value), level: l.level}
}

// WithFields returns a logger with all fields attached.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &Logger{slog: l.slog.With(args...), level: l.level}
}

// WithError returns a logger with the error attached under "error".
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithField("error", err.Error())
}

// WithContext returns a logger annotated with request-scoped identifiers
// found in the context.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	out := l
	if id := contextkeys.RequestID(ctx); id != "" {
		out = out.WithField("request_id", id)
	}
	return out
}

func (l *Logger) Debug(msg string, args ...any) { l.slog.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.slog.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.slog.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.slog.Error(msg, args...) }

// IntoContext stores the logger in the context for retrieval by FromContext.
func (l *Logger) IntoContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, contextkeys.LoggerKey, l)
}

// FromContext returns the request-scoped logger, or a default info-level
// logger when none was stored.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(contextkeys.LoggerKey).(*Logger); ok {
		return l
	}
	return NewLogger("info")
}
