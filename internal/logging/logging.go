// Package logging provides structured logging for runstore.
//
// This package wraps the standard library's log/slog package so that every
// component logs the same way. Logs go to stderr because the CLI reserves
// stdout for query results.
//
// Usage:
//
//	// Initialize at startup
//	logging.Init(slog.LevelInfo, false) // Text format
//	logging.Init(slog.LevelDebug, true) // JSON format
//
//	// Get a component logger
//	var log = logging.Component("container")
//	log.Warn("field skipped", "field", name, "reason", "conversion", "error", err)
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger is the global logger instance.
var Logger *slog.Logger

// Init initializes the global logger with the specified level and format.
// If jsonFormat is true, logs are output as JSON; otherwise, human-readable text.
func Init(level slog.Level, jsonFormat bool) {
	InitWriter(os.Stderr, level, jsonFormat)
}

// InitWriter is Init with an explicit destination.
func InitWriter(w io.Writer, level slog.Level, jsonFormat bool) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	if jsonFormat {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	InitWithHandler(handler)
}

// InitWithHandler initializes the global logger with a custom handler.
// This is useful for testing or custom output destinations.
func InitWithHandler(handler slog.Handler) {
	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

// ParseLevel maps a config string (debug, info, warn, error) to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// With returns a new logger with additional attributes.
// These attributes are included in every log entry from the returned logger.
func With(args ...any) *slog.Logger {
	return logger().With(args...)
}

// Component returns a logger for a specific component.
// The component name is added as an attribute to all log entries.
//
// Component loggers resolve the global logger on every call, so package-level
// component loggers created before Init still honour the configured handler.
func Component(name string) *slog.Logger {
	return slog.New(&componentHandler{name: name})
}

// WithContext returns a logger that includes run-scoped context values.
func WithContext(ctx context.Context) *slog.Logger {
	l := logger()

	if number, ok := ctx.Value(contextKeyRunNumber).(string); ok {
		l = l.With("run_number", number)
	}
	if device, ok := ctx.Value(contextKeyDevice).(string); ok {
		l = l.With("device", device)
	}
	if op, ok := ctx.Value(contextKeyOperation).(string); ok {
		l = l.With("operation", op)
	}

	return l
}

// Context key types for type-safe context value extraction.
type contextKey int

const (
	contextKeyRunNumber contextKey = iota
	contextKeyDevice
	contextKeyOperation
)

// ContextWithRunNumber adds the allocated run number to the context for logging.
func ContextWithRunNumber(ctx context.Context, number string) context.Context {
	return context.WithValue(ctx, contextKeyRunNumber, number)
}

// ContextWithDevice adds the device under test to the context for logging.
func ContextWithDevice(ctx context.Context, device string) context.Context {
	return context.WithValue(ctx, contextKeyDevice, device)
}

// ContextWithOperation adds an operation name to the context for logging.
func ContextWithOperation(ctx context.Context, op string) context.Context {
	return context.WithValue(ctx, contextKeyOperation, op)
}

func logger() *slog.Logger {
	if Logger == nil {
		Init(slog.LevelInfo, false)
	}
	return Logger
}

// componentHandler forwards to the current global handler with a fixed
// component attribute.
type componentHandler struct {
	name  string
	attrs []slog.Attr
	group string
}

func (h *componentHandler) target() slog.Handler {
	base := logger().Handler().WithAttrs([]slog.Attr{slog.String("component", h.name)})
	if len(h.attrs) > 0 {
		base = base.WithAttrs(h.attrs)
	}
	if h.group != "" {
		base = base.WithGroup(h.group)
	}
	return base
}

func (h *componentHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return logger().Handler().Enabled(ctx, level)
}

func (h *componentHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.target().Handle(ctx, r)
}

func (h *componentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &next
}

func (h *componentHandler) WithGroup(name string) slog.Handler {
	if h.group != "" {
		// nested groups are flattened
		name = h.group + "." + name
	}
	next := *h
	next.group = name
	return &next
}

// =============================================================================
// Convenience Functions
// =============================================================================

// Debug logs at debug level.
func Debug(msg string, args ...any) {
	logger().Debug(msg, args...)
}

// Info logs at info level.
func Info(msg string, args ...any) {
	logger().Info(msg, args...)
}

// Warn logs at warning level.
func Warn(msg string, args ...any) {
	logger().Warn(msg, args...)
}

// Error logs at error level.
func Error(msg string, args ...any) {
	logger().Error(msg, args...)
}
