package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"INFO", zapcore.InfoLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"", zapcore.InfoLevel},
		{"verbose", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLogLevel(tt.in))
		})
	}
}

func TestLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	log := newWithSink("debug", FormatJSON, zapcore.AddSync(&buf))

	log.Named("room_service").
		ForRoom("submitVote", "ABC234", "").
		WithError(errors.New("boom")).
		Warn("Room operation failed")
	require.NoError(t, log.Sync())

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "room_service", entry["logger"])
	assert.Equal(t, "submitVote", entry["op"])
	assert.Equal(t, "ABC234", entry["room_code"])
	assert.Equal(t, "boom", entry["error"])
	assert.NotContains(t, entry, "participant_id")
}

func TestLogger_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log := newWithSink("warn", FormatJSON, zapcore.AddSync(&buf))

	log.Info("dropped")
	log.Warn("kept")
	require.NoError(t, log.Sync())

	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "kept")
}

func TestLogger_ConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	log := newWithSink("info", "Console", zapcore.AddSync(&buf))

	log.WithField("room_code", "ABC234").Info("Room created")
	require.NoError(t, log.Sync())

	line := buf.String()
	assert.False(t, strings.HasPrefix(line, "{"))
	assert.Contains(t, line, "Room created")
	assert.Contains(t, line, "ABC234")
}
