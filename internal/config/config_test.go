package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDecodeAppliesDefaults(t *testing.T) {
	cfg, err := decode(strings.NewReader("root_path: /srv/incoming\n"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/srv/incoming", cfg.RootPath)
	assert.Equal(t, uint32(DefaultMinAgeMinutes), cfg.MinAgeMinutes)
	assert.False(t, cfg.DeleteEnabled, "deletion must be opt-in")
	assert.False(t, cfg.ContinueOnListError)
	assert.Equal(t, DefaultHistoryRetentionDays, cfg.HistoryRetentionDays)
	assert.Equal(t, DefaultRotationDays, cfg.Logging.RotationDays)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 5*time.Second, cfg.NFSProbeTimeout())
	assert.False(t, cfg.Daemon())
}

func TestDecodeKeepsExplicitZeroAge(t *testing.T) {
	cfg, err := decode(strings.NewReader("root_path: /srv\nmin_age_minutes: 0\ndelete_enabled: true\n"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, uint32(0), cfg.MinAgeMinutes)
	assert.True(t, cfg.DeleteEnabled)
}

func TestDecodeEmptyDocument(t *testing.T) {
	cfg, err := decode(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, uint32(DefaultMinAgeMinutes), cfg.MinAgeMinutes)
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	_, err := decode(strings.NewReader("root_path: /srv\nmin_age_minute: 5\n"))
	require.Error(t, err)
}

func TestDecodeRejectsNegativeAge(t *testing.T) {
	_, err := decode(strings.NewReader("root_path: /srv\nmin_age_minutes: -5\n"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"missing root", func(c *Config) { c.RootPath = "" }, ErrNoRoot},
		{"blank root", func(c *Config) { c.RootPath = "   " }, ErrNoRoot},
		{"bad schedule", func(c *Config) { c.Schedule = "every minute" }, errInvalidSchedule},
		{"negative port", func(c *Config) { c.Prometheus.Port = -1 }, errInvalidPort},
		{"huge port", func(c *Config) { c.Prometheus.Port = 70000 }, errInvalidPort},
		{"cpu over 100", func(c *Config) { c.ResourceLimits.MaxCPUPercent = 150 }, errInvalidCPU},
		{"negative retention", func(c *Config) { c.HistoryRetentionDays = -1 }, errNegativeDays},
		{"valid schedule", func(c *Config) { c.Schedule = "*/15 * * * *" }, nil},
		{"descriptor schedule", func(c *Config) { c.Schedule = "@hourly" }, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.RootPath = "/srv/incoming"
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, IsValidationError(err))
		})
	}
}

func TestValidateNormalizesRoot(t *testing.T) {
	cfg := Default()
	cfg.RootPath = "/srv/./incoming/../incoming/"
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "/srv/incoming", cfg.RootPath)

	cfg = Default()
	cfg.RootPath = "relative/dir"
	require.NoError(t, cfg.Validate())
	assert.True(t, filepath.IsAbs(cfg.RootPath))
}

func TestLoadAndValidate(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
root_path: /srv/incoming
min_age_minutes: 120
delete_enabled: true
schedule: "0 3 * * *"
database_path: /var/lib/stale-purge/history.db
prometheus:
  port: 9102
logging:
  level: debug
resource_limits:
  max_cpu_percent: 25
protected_paths:
  - /srv/incoming/keep/
`)

	cfg, err := LoadAndValidate(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(120), cfg.MinAgeMinutes)
	assert.True(t, cfg.DeleteEnabled)
	assert.True(t, cfg.Daemon())
	assert.Equal(t, ":9102", cfg.PrometheusAddress())
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 25.0, cfg.ResourceLimits.MaxCPUPercent)
	assert.Equal(t, []string{"/srv/incoming/keep"}, cfg.ProtectedPaths)

	_, err = LoadAndValidate(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestWatcherReloadsOnChange(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dir := t.TempDir()
	path := writeConfig(t, dir, "root_path: /srv/a\nmin_age_minutes: 10\n")

	w, err := NewWatcher(path, 20*time.Millisecond)
	require.NoError(t, err)
	w.Prepare = func(c *Config) { c.DeleteEnabled = true }

	var mu sync.Mutex
	var reloaded []*Config
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- w.Watch(ctx, func(c *Config, err error) {
			if err != nil {
				return
			}
			mu.Lock()
			reloaded = append(reloaded, c)
			mu.Unlock()
		})
	}()

	// Give the watch loop a moment to start before writing.
	time.Sleep(50 * time.Millisecond)
	writeConfig(t, dir, "root_path: /srv/b\nmin_age_minutes: 30\n")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(reloaded) > 0
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	last := reloaded[len(reloaded)-1]
	assert.Equal(t, "/srv/b", last.RootPath)
	assert.Equal(t, uint32(30), last.MinAgeMinutes)
	assert.True(t, last.DeleteEnabled, "Prepare overrides must be re-applied")
}

func TestWatcherReportsInvalidReload(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dir := t.TempDir()
	path := writeConfig(t, dir, "root_path: /srv/a\n")

	w, err := NewWatcher(path, 20*time.Millisecond)
	require.NoError(t, err)

	errs := make(chan error, 8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- w.Watch(ctx, func(c *Config, err error) {
			if err != nil {
				errs <- err
			}
		})
	}()

	time.Sleep(50 * time.Millisecond)
	writeConfig(t, dir, "min_age_minutes: 5\n")

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrNoRoot)
	case <-time.After(5 * time.Second):
		t.Fatal("expected a validation error from the reload")
	}

	cancel()
	require.NoError(t, <-done)
}
