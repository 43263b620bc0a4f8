package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandlerRenamesKeysAndMasksSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, slog.LevelDebug))
	logger.Debug("admin call", slog.String("authorization", "Bearer abc"), slog.String("method", "module_setPaused"), slog.String("token", ""))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "admin call", line["message"])
	require.Equal(t, "DEBUG", line["severity"])
	require.Contains(t, line, "timestamp")
	require.Equal(t, RedactedValue, line["authorization"])
	require.Equal(t, "", line["token"])
	require.Equal(t, "module_setPaused", line["method"])
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	require.Equal(t, slog.LevelError, ParseLevel("error"))
	require.Equal(t, slog.LevelInfo, ParseLevel(""))
}

func TestSetupWithFileSink(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	logger := SetupWithOptions("custodyd", "test", Options{File: filepath.Join(t.TempDir(), "node.log"), MaxSizeMB: 1})
	require.NotNil(t, logger)
	require.Same(t, logger.Handler(), slog.Default().Handler())
}

func TestSensitiveKeysSorted(t *testing.T) {
	keys := SensitiveKeys()
	require.Contains(t, keys, "passphrase")
	require.IsIncreasing(t, keys)
}
