package scheduler

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"stale-purge/internal/config"
	"stale-purge/internal/database"
	"stale-purge/internal/purge"
	"stale-purge/internal/safety"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func writeAged(t *testing.T, path string, age time.Duration) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0o644))
	mtime := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func testConfig(t *testing.T, root string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.RootPath = root
	cfg.MinAgeMinutes = 60
	cfg.DeleteEnabled = true
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestRunOnceDeletesStaleEntries(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "spool")
	writeAged(t, filepath.Join(root, "old.log"), 90*time.Minute)
	writeAged(t, filepath.Join(root, "sub", "young.log"), 10*time.Minute)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0o755))

	cfg := testConfig(t, root)
	cfg.DatabasePath = filepath.Join(base, "state", "history.db")
	cfg.StatePath = filepath.Join(base, "state", "last-run.json")

	db, err := database.NewPurgeDB(cfg.DatabasePath)
	require.NoError(t, err)
	defer db.Close()

	var out bytes.Buffer
	r := NewRunner(cfg, Options{Stdout: &out, Logger: zerolog.Nop(), DB: db})

	report, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	require.NotNil(t, report)

	want := strings.Join([]string{
		"",
		"Root path: " + root,
		"Min file age : 60 mins",
		"Delete Mode: true",
		"",
		"Directory deleted: " + filepath.Join(root, "empty"),
		"File deleted: " + filepath.Join(root, "old.log"),
		"File not old enough to be deleted: " + filepath.Join(root, "sub", "young.log"),
		"Failed to delete all files/directories within directory: " + filepath.Join(root, "sub"),
		"All files deleted: false",
		"",
	}, "\n")
	assert.Equal(t, want, out.String())

	assert.False(t, report.AllCleared)
	assert.Equal(t, "not_cleared", report.Result)
	assert.Equal(t, 4, report.Entries)
	assert.Zero(t, report.Failures)
	assert.Equal(t, int64(len("payload")), report.BytesRemoved)
	assert.NotEmpty(t, report.RunID)
	assert.NoError(t, r.Health())

	assert.NoFileExists(t, filepath.Join(root, "old.log"))
	assert.NoDirExists(t, filepath.Join(root, "empty"))
	assert.FileExists(t, filepath.Join(root, "sub", "young.log"))

	state, err := LoadState(cfg.StatePath)
	require.NoError(t, err)
	assert.Equal(t, report.RunID, state.RunID)
	assert.Equal(t, "not_cleared", state.Result)

	runs, err := db.GetRecentRuns(5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, report.RunID, runs[0].ID)
	require.NotNil(t, runs[0].AllCleared)
	assert.False(t, *runs[0].AllCleared)

	events, err := db.GetEventsByRun(report.RunID)
	require.NoError(t, err)
	require.Len(t, events, 4)
	assert.Equal(t, "directory_deleted", events[0].Outcome)
	assert.Equal(t, "directory_not_cleared", events[3].Outcome)
}

func TestRunOnceDryRunLeavesTree(t *testing.T) {
	root := t.TempDir()
	writeAged(t, filepath.Join(root, "a", "old.log"), 2*time.Hour)

	cfg := testConfig(t, root)
	cfg.DeleteEnabled = false

	var out bytes.Buffer
	report, err := NewRunner(cfg, Options{Stdout: &out}).RunOnce(context.Background())
	require.NoError(t, err)

	assert.True(t, report.AllCleared)
	assert.Equal(t, "cleared", report.Result)
	assert.Contains(t, out.String(), "Delete Mode: false\n")
	assert.Contains(t, out.String(), "File deleted: "+filepath.Join(root, "a", "old.log")+"\n")
	assert.Contains(t, out.String(), "Directory deleted: "+filepath.Join(root, "a")+"\n")
	assert.True(t, strings.HasSuffix(out.String(), "All files deleted: true\n"))
	assert.FileExists(t, filepath.Join(root, "a", "old.log"))
}

func TestRunOnceRejectsProtectedRoot(t *testing.T) {
	cfg := testConfig(t, "/etc")

	var out bytes.Buffer
	report, err := NewRunner(cfg, Options{Stdout: &out}).RunOnce(context.Background())
	require.Error(t, err)
	assert.Nil(t, report)
	assert.True(t, safety.IsViolation(err))
	assert.Empty(t, out.String(), "nothing is printed for a refused root")
}

func TestRunOnceMissingRootFails(t *testing.T) {
	root := filepath.Join(t.TempDir(), "missing")
	cfg := testConfig(t, root)

	var out bytes.Buffer
	r := NewRunner(cfg, Options{Stdout: &out})
	report, err := r.RunOnce(context.Background())
	require.Error(t, err)
	assert.True(t, purge.IsListError(err))
	require.NotNil(t, report)
	assert.Equal(t, "error", report.Result)
	assert.False(t, report.AllCleared)
	assert.True(t, strings.HasSuffix(out.String(), "An error occurred while deleting files.\n"))
	assert.Error(t, r.Health())
}

func TestRunOnceShieldsProtectedSubtree(t *testing.T) {
	root := t.TempDir()
	keep := filepath.Join(root, "keep")
	writeAged(t, filepath.Join(keep, "report.csv"), 3*time.Hour)
	writeAged(t, filepath.Join(root, "old.log"), 3*time.Hour)

	cfg := testConfig(t, root)
	cfg.ProtectedPaths = []string{keep}

	var out bytes.Buffer
	report, err := NewRunner(cfg, Options{Stdout: &out}).RunOnce(context.Background())
	require.NoError(t, err)

	assert.False(t, report.AllCleared)
	assert.Equal(t, 1, report.Failures)
	assert.Contains(t, out.String(), "Failed to delete file: "+filepath.Join(keep, "report.csv")+"\n")
	assert.Contains(t, out.String(), "Failed to delete all files/directories within directory: "+keep+"\n")
	assert.FileExists(t, filepath.Join(keep, "report.csv"))
	assert.NoFileExists(t, filepath.Join(root, "old.log"))
}

func TestRunOnceCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRunner(testConfig(t, t.TempDir()), Options{Stdout: &bytes.Buffer{}}).RunOnce(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunHonoursTrigger(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	root := t.TempDir()
	out := &syncBuffer{}
	r := NewRunner(testConfig(t, root), Options{Stdout: out})

	runs := func() int { return strings.Count(out.String(), "All files deleted: ") }

	trigger := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, trigger) }()

	require.Eventually(t, func() bool { return runs() == 1 }, 5*time.Second, 10*time.Millisecond, "initial run")

	writeAged(t, filepath.Join(root, "late.log"), 2*time.Hour)
	trigger <- struct{}{}
	require.Eventually(t, func() bool { return runs() == 2 }, 5*time.Second, 10*time.Millisecond, "triggered run")
	assert.NoFileExists(t, filepath.Join(root, "late.log"))

	cancel()
	err := <-done
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRunOnSchedule(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	cfg := testConfig(t, t.TempDir())
	cfg.Schedule = "@every 1s"
	require.NoError(t, cfg.Validate())

	out := &syncBuffer{}
	r := NewRunner(cfg, Options{Stdout: out})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, nil) }()

	require.Eventually(t, func() bool {
		return strings.Count(out.String(), "All files deleted: ") >= 2
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestRunRejectsBadSchedule(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	cfg.Schedule = "not a schedule"

	err := NewRunner(cfg, Options{Stdout: &bytes.Buffer{}}).Run(context.Background(), nil)
	assert.Error(t, err)
}

func TestSetConfigAppliesToNextRun(t *testing.T) {
	root := t.TempDir()
	writeAged(t, filepath.Join(root, "mid.log"), 30*time.Minute)

	var out bytes.Buffer
	r := NewRunner(testConfig(t, root), Options{Stdout: &out})

	report, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, report.AllCleared)

	next := testConfig(t, root)
	next.MinAgeMinutes = 15
	r.SetConfig(next)

	report, err = r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, report.AllCleared)
	assert.NoFileExists(t, filepath.Join(root, "mid.log"))
}

func TestStateRoundTripIsAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	require.NoError(t, WriteState(path, &Report{RunID: "one", Result: "cleared"}))
	require.NoError(t, WriteState(path, &Report{RunID: "two", Result: "error", Error: "boom"}))

	got, err := LoadState(path)
	require.NoError(t, err)
	assert.Equal(t, "two", got.RunID)
	assert.Equal(t, "boom", got.Error)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files are left behind")
}
