// ABOUTME: Tests for log level parsing and the text and JSON slog handlers
// ABOUTME: Color output is disabled so assertions can match plain text

package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chatrelay/internal/config"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
}

func TestSetupLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "info", Format: "json"}, &buf)

	logger.Debug("hidden")
	logger.Info("turn finished", "conversation_id", "c-1")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "turn finished", rec["msg"])
	assert.Equal(t, "c-1", rec["conversation_id"])
}

func TestColorHandler(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "debug"}, &buf)

	logger.With("component", "gateway").WithGroup("turn").Warn("slow", "ms", 1200)

	out := buf.String()
	assert.Contains(t, out, "WRN slow")
	assert.Contains(t, out, "component=gateway")
	assert.Contains(t, out, "turn.ms=1200")
}
