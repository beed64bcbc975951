package logger

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNamedAndTraceFields(t *testing.T) {
	base, hook := test.NewNullLogger()
	log := FromLogrus(base).Named("engine")

	ctx := WithTraceID(context.Background(), "trace-1")
	log.WithContext(ctx).WithField("verb", "deposit").Info("committed")

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "committed", entry.Message)
	assert.Equal(t, "engine", entry.Data["component"])
	assert.Equal(t, "trace-1", entry.Data["trace_id"])
	assert.Equal(t, "deposit", entry.Data["verb"])
}

func TestWithoutTraceID(t *testing.T) {
	base, hook := test.NewNullLogger()
	FromLogrus(base).WithContext(context.Background()).Warn("plain")

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	_, ok := entry.Data["trace_id"]
	assert.False(t, ok)
	assert.Equal(t, "", TraceID(context.Background()))
}

func TestWithFields(t *testing.T) {
	base, hook := test.NewNullLogger()
	FromLogrus(base).With(map[string]interface{}{"payer": "alice"}).Info("x")
	assert.Equal(t, "alice", hook.LastEntry().Data["payer"])
}

func TestNewParsesLevelAndFormat(t *testing.T) {
	l := New(LoggingConfig{Level: "debug", Format: "json", Output: "discard"})
	assert.Equal(t, logrus.DebugLevel, l.Logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, l.Logger.Formatter)

	fallback := New(LoggingConfig{Level: "loud", Output: "discard"})
	assert.Equal(t, logrus.InfoLevel, fallback.Logger.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, fallback.Logger.Formatter)
}

func TestNamedEmptyKeepsLogger(t *testing.T) {
	l := New(LoggingConfig{Output: "discard"})
	assert.Same(t, l, l.Named(""))
}
