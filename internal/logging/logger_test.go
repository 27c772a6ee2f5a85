package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	return m
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "info", Format: "json", Output: &buf})

	logger.Info("Backup completed", "collection", "polls", "size", 1024, "took", 2*time.Second)

	m := decodeLine(t, &buf)
	assert.Equal(t, "info", m["level"])
	assert.Equal(t, "Backup completed", m["message"])
	assert.Equal(t, "polls", m["collection"])
	assert.EqualValues(t, 1024, m["size"])
	assert.Equal(t, "2s", m["took"])
	assert.Contains(t, m, "time")
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "warn", Format: "json", Output: &buf})

	logger.Info("hidden")
	assert.Zero(t, buf.Len())

	logger.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestNew_Console(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Format: "console", Output: &buf})

	logger.Info("hello", "collection", "polls")
	assert.Contains(t, buf.String(), "hello")
	assert.Contains(t, buf.String(), "collection=")
}

func TestSlogHandler_WithAttrsAndGroups(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewSlogHandler(zerolog.New(&buf)))

	logger.With("component", "archive-store").
		WithGroup("archive").
		Error("Delete failed", "name", "polls_2024061-1.json", "error", errors.New("busy"))

	m := decodeLine(t, &buf)
	assert.Equal(t, "error", m["level"])
	assert.Equal(t, "archive-store", m["component"])
	assert.Equal(t, "polls_2024061-1.json", m["archive.name"])
	assert.Equal(t, "busy", m["archive.error"])
}

func TestSlogHandler_NestedGroupAttr(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewSlogHandler(zerolog.New(&buf)))

	logger.Info("prune", slog.Group("policy", "by", "count", "value", 3))

	m := decodeLine(t, &buf)
	assert.Equal(t, "count", m["policy.by"])
	assert.EqualValues(t, 3, m["policy.value"])
}

func TestSlogHandler_Enabled(t *testing.T) {
	tests := []struct {
		name  string
		level zerolog.Level
		slog  slog.Level
		want  bool
	}{
		{"debug enables debug", zerolog.DebugLevel, slog.LevelDebug, true},
		{"info disables debug", zerolog.InfoLevel, slog.LevelDebug, false},
		{"info enables warn", zerolog.InfoLevel, slog.LevelWarn, true},
		{"error disables warn", zerolog.ErrorLevel, slog.LevelWarn, false},
		{"disabled disables error", zerolog.Disabled, slog.LevelError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewSlogHandler(zerolog.New(nil).Level(tt.level))
			assert.Equal(t, tt.want, h.Enabled(t.Context(), tt.slog))
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("bogus"))
	assert.Equal(t, zerolog.Disabled, ParseLevel("off"))
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	assert.False(t, logger.Enabled(t.Context(), slog.LevelError))
	logger.Error("nothing")
}
