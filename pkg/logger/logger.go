// Package logger provides the structured logger used across the registry.
// It is a thin wrapper over logrus that pins the field names and formats the
// service emits.
package logger

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// LoggingConfig configures a Logger.
type LoggingConfig struct {
	Level  string // debug, info, warn, error
	Format string // text or json
	Output string // stdout, stderr
}

// Logger is a component-scoped logrus entry.
type Logger struct {
	*logrus.Entry
}

type traceKey struct{}

// New builds a Logger from configuration.
func New(cfg LoggingConfig) *Logger {
	base := logrus.New()

	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	if strings.EqualFold(cfg.Format, "json") {
		base.SetFormatter(&logrus.JSONFormatter{})
	} else {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	base.SetOutput(outputFor(cfg.Output))
	return &Logger{Entry: logrus.NewEntry(base)}
}

// NewDefault returns an info-level text logger tagged with the component name.
func NewDefault(component string) *Logger {
	return New(LoggingConfig{Level: "info", Format: "text"}).Named(component)
}

// FromLogrus wraps an existing logrus logger, typically a test logger.
func FromLogrus(l *logrus.Logger) *Logger {
	return &Logger{Entry: logrus.NewEntry(l)}
}

// Named returns a child logger tagged with a component field.
func (l *Logger) Named(component string) *Logger {
	if component == "" {
		return l
	}
	return &Logger{Entry: l.Entry.WithField("component", component)}
}

// With returns a child logger carrying the given fields.
func (l *Logger) With(fields map[string]interface{}) *Logger {
	return &Logger{Entry: l.Entry.WithFields(fields)}
}

// WithTraceID stores a trace id in the context for WithContext to pick up.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// TraceID returns the trace id stored in ctx, if any.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok {
		return v
	}
	return ""
}

// WithContext returns an entry annotated with the trace id carried by ctx.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Entry.WithContext(ctx)
	if id := TraceID(ctx); id != "" {
		entry = entry.WithField("trace_id", id)
	}
	return entry
}

func outputFor(name string) io.Writer {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "stderr":
		return os.Stderr
	case "discard":
		return io.Discard
	default:
		return os.Stdout
	}
}
