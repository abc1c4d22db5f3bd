package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "warn", JSON: true, Output: &buf, Component: "purge"})
	require.NoError(t, err)
	defer logger.Close()

	logger.Info().Msg("hidden")
	logger.Warn().Str("path", "/data/x").Msg("shown")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "purge", entry["component"])
	assert.Equal(t, "/data/x", entry["path"])
	assert.Equal(t, "shown", entry["message"])
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Options{Level: "loud"})
	require.Error(t, err)
}

func TestNewWritesLogFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	var console bytes.Buffer

	logger, err := New(Options{Directory: dir, Output: &console})
	require.NoError(t, err)
	logger.Info().Msg("run started")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(filepath.Join(dir, logFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"run started"`)
	assert.Contains(t, console.String(), "run started")
}

func TestRotateLogsIfNeeded(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	logPath := filepath.Join(dir, logFile)

	stale := filepath.Join(dir, logFile+".20250101-000000")
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o644))
	require.NoError(t, os.Chtimes(stale, now.AddDate(0, 0, -60), now.AddDate(0, 0, -60)))

	require.NoError(t, os.WriteFile(logPath, []byte("current"), 0o644))
	old := now.AddDate(0, 0, -31)
	require.NoError(t, os.Chtimes(logPath, old, old))

	rotateLogsIfNeeded(logPath, 30, now)

	_, err := os.Stat(logPath)
	assert.True(t, os.IsNotExist(err), "current log should have been rotated away")
	rotated, err := os.Stat(logPath + "." + old.Local().Format("20060102-150405"))
	require.NoError(t, err, "rotated copy should exist")
	assert.True(t, rotated.ModTime().Equal(now), "rotated copy is kept for a full period")
	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err), "rotated copies past the cutoff are removed")
}

func TestRotateLogsKeepsFreshLog(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, logFile)
	require.NoError(t, os.WriteFile(logPath, []byte("fresh"), 0o644))

	rotateLogsIfNeeded(logPath, 30, time.Now())

	_, err := os.Stat(logPath)
	assert.NoError(t, err)
}
