package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"DEBUG", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"WARNING", zapcore.WarnLevel},
		{"ERROR", zapcore.ErrorLevel},
		{"", zapcore.ErrorLevel},
		{"verbose", zapcore.ErrorLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestTemporalAdapter(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	adapter := NewTemporal(zap.New(core))

	adapter.Info("workflow started", "WorkflowID", "lookup-tasks", "Attempt", 1)
	adapter.With("TaskID", "abc").(*TemporalAdapter).Error("activity failed", "error", "boom")

	entries := logs.All()
	if assert.Len(t, entries, 2) {
		assert.Equal(t, "workflow started", entries[0].Message)
		assert.Equal(t, "lookup-tasks", entries[0].ContextMap()["WorkflowID"])
		assert.Equal(t, int64(1), entries[0].ContextMap()["Attempt"])

		assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
		assert.Equal(t, "abc", entries[1].ContextMap()["TaskID"])
	}
}
