package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info")
	logger.Debug("hidden")
	logger.Info("queued", "job_id", "j-1")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "queued", line["msg"])
	assert.Equal(t, "j-1", line["job_id"])
}

func TestFatal(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info")

	assert.NotPanics(t, func() { Fatal(logger, nil, "fine") })
	assert.Panics(t, func() { Fatal(logger, errors.New("boom"), "Failed to connect") })
	assert.Contains(t, buf.String(), "Failed to connect")
}
