package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		" warn": slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestTextHandlerFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := New(&buf, Options{Level: "warn"})
	require.NoError(t, err)
	defer closer.Close()

	logger.Info("hidden")
	logger.Warn("shown", "phase", "idle-ready")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "phase=idle-ready")
}

func TestJSONHandler(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := New(&buf, Options{Level: "debug", Format: "json", AddSource: true})
	require.NoError(t, err)
	defer closer.Close()

	logger.Debug("routed", "message_type", "auth-response")
	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "routed", rec["msg"])
	assert.Equal(t, "auth-response", rec["message_type"])
	assert.Contains(t, rec["source"], "logging_test.go:")
}

func TestRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.log")
	logger, closer, err := New(nil, Options{Level: "info", File: path, MaxSizeMB: 1})
	require.NoError(t, err)

	logger.Info("written to file")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
}

func TestUnknownFormat(t *testing.T) {
	_, _, err := New(&bytes.Buffer{}, Options{Level: "info", Format: "xml"})
	assert.Error(t, err)
}
