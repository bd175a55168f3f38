// Package observability provides structured logging and metrics collection.
//
// Logger wraps log/slog with component-scoped context fields.
// MetricsCollector collects run statistics: task durations, oracle latency,
// satisfaction scores and scheduler counters.
package observability

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Logger wraps slog with a persistent component name.
type Logger struct {
	mu        sync.RWMutex
	inner     *slog.Logger
	component string
	fields    []slog.Attr
}

// NewLogger creates a structured JSON logger for a component.
// Output defaults to os.Stderr if w is nil.
func NewLogger(component string, w io.Writer) *Logger {
	return NewLoggerWithLevel(component, w, slog.LevelDebug)
}

// NewLoggerWithLevel creates a JSON logger that drops records below level.
func NewLoggerWithLevel(component string, w io.Writer, level slog.Level) *Logger {
	if w == nil {
		w = os.Stderr
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		inner:     slog.New(handler),
		component: component,
	}
}

// NewLoggerWithHandler creates a logger with a custom slog handler.
func NewLoggerWithHandler(component string, h slog.Handler) *Logger {
	return &Logger{
		inner:     slog.New(h),
		component: component,
	}
}

// Discard returns a logger that writes nowhere. Handy for tests and for
// collaborators constructed without a logger.
func Discard() *Logger {
	return NewLoggerWithLevel("discard", io.Discard, slog.LevelError+1)
}

// ParseLevel maps a config string to a slog level. Unknown values map to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// Component returns a logger for another component sharing the same handler.
func (l *Logger) Component(name string) *Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return &Logger{
		inner:     l.inner,
		component: name,
		fields:    l.fields,
	}
}

// With returns a new Logger with additional persistent fields.
func (l *Logger) With(key string, value any) *Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	fields := make([]slog.Attr, 0, len(l.fields)+1)
	fields = append(fields, l.fields...)
	fields = append(fields, slog.Any(key, value))
	return &Logger{
		inner:     l.inner.With(slog.Any(key, value)),
		component: l.component,
		fields:    fields,
	}
}

func (l *Logger) attrs(args []any) []any {
	return append([]any{slog.String("component", l.component)}, args...)
}

// Debug logs at DEBUG level.
func (l *Logger) Debug(msg string, args ...any) {
	l.inner.Debug(msg, l.attrs(args)...)
}

// Info logs at INFO level.
func (l *Logger) Info(msg string, args ...any) {
	l.inner.Info(msg, l.attrs(args)...)
}

// Warn logs at WARN level.
func (l *Logger) Warn(msg string, args ...any) {
	l.inner.Warn(msg, l.attrs(args)...)
}

// Error logs at ERROR level.
func (l *Logger) Error(msg string, args ...any) {
	l.inner.Error(msg, l.attrs(args)...)
}

// TaskEvent logs a task lifecycle event (enqueued, started, completed, failed).
func (l *Logger) TaskEvent(event, taskID string, args ...any) {
	allArgs := append([]any{
		slog.String("component", l.component),
		slog.String("event", event),
		slog.String("task_id", taskID),
	}, args...)
	l.inner.Info("task", allArgs...)
}

// PhaseChange logs a project phase transition.
func (l *Logger) PhaseChange(from, to string, completion float64, args ...any) {
	allArgs := append([]any{
		slog.String("component", l.component),
		slog.String("from", from),
		slog.String("to", to),
		slog.Float64("completion_pct", completion),
	}, args...)
	l.inner.Info("phase", allArgs...)
}

// Fallback logs an oracle soft failure that was recovered with a
// deterministic fallback value.
func (l *Logger) Fallback(stage string, reason error, args ...any) {
	msg := ""
	if reason != nil {
		msg = reason.Error()
	}
	allArgs := append([]any{
		slog.String("component", l.component),
		slog.String("stage", stage),
		slog.String("reason", msg),
	}, args...)
	l.inner.Warn("fallback", allArgs...)
}

// ComponentName returns the component associated with this logger.
func (l *Logger) ComponentName() string {
	return l.component
}
