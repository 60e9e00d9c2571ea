package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelFromString(t *testing.T) {
	cases := map[string]slog.Level{
		"error":    slog.LevelError,
		" WARN ":   slog.LevelWarn,
		"warning":  slog.LevelWarn,
		"info":     slog.LevelInfo,
		"debug":    slog.LevelDebug,
		"":         slog.LevelDebug,
		"verbose?": slog.LevelDebug,
	}
	for in, want := range cases {
		assert.Equal(t, want, levelFromString(in), in)
	}
}

func TestNewWriterFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriter(&buf, "warn").With("component", "relevance")

	logger.Info("batch scored")
	logger.Warn("batch skipped", "size", 10)

	out := buf.String()
	assert.NotContains(t, out, "batch scored")
	assert.Contains(t, out, "batch skipped")
	assert.Contains(t, out, "component=relevance")
	assert.Contains(t, out, "size=10")
}
