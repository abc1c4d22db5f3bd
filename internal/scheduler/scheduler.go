package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"stale-purge/internal/config"
	"stale-purge/internal/database"
	"stale-purge/internal/disk"
	"stale-purge/internal/fsops"
	"stale-purge/internal/limiter"
	"stale-purge/internal/metrics"
	"stale-purge/internal/purge"
	"stale-purge/internal/safety"
)

// Options wires a Runner to its collaborators. Zero values pick the
// real filesystem, stdout and a disabled logger.
type Options struct {
	FS     fsops.FS
	Stdout io.Writer
	Logger zerolog.Logger
	DB     *database.PurgeDB
}

// Runner executes purges of the configured root, one at a time.
type Runner struct {
	fs     fsops.FS
	stdout io.Writer
	logger zerolog.Logger
	db     *database.PurgeDB
	now    func() time.Time

	cfgMu sync.RWMutex
	cfg   *config.Config

	runMu sync.Mutex

	healthMu sync.RWMutex
	lastErr  error
}

// NewRunner creates a runner for cfg, which must already be validated.
func NewRunner(cfg *config.Config, opts Options) *Runner {
	metrics.Init()

	r := &Runner{
		fs:     opts.FS,
		stdout: opts.Stdout,
		logger: opts.Logger,
		db:     opts.DB,
		now:    time.Now,
		cfg:    cfg,
	}
	if r.fs == nil {
		r.fs = fsops.OSFS{}
	}
	if r.stdout == nil {
		r.stdout = os.Stdout
	}
	return r
}

// SetConfig swaps the configuration used by the next run.
func (r *Runner) SetConfig(cfg *config.Config) {
	r.cfgMu.Lock()
	defer r.cfgMu.Unlock()
	r.cfg = cfg
}

func (r *Runner) config() *config.Config {
	r.cfgMu.RLock()
	defer r.cfgMu.RUnlock()
	return r.cfg
}

// Health returns the error of the last run, or nil. Runs that finished with
// entries left behind are healthy: that is the normal result of young files.
func (r *Runner) Health() error {
	r.healthMu.RLock()
	defer r.healthMu.RUnlock()
	return r.lastErr
}

func (r *Runner) setHealth(err error) {
	r.healthMu.Lock()
	defer r.healthMu.Unlock()
	r.lastErr = err
}

// RunOnce performs a single purge and returns its report. The error is
// non-nil when the root was refused, the mount looked stale, or the
// traversal aborted; in the last case the report is returned as well.
func (r *Runner) RunOnce(ctx context.Context) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.runMu.Lock()
	defer r.runMu.Unlock()

	cfg := r.config()
	if cfg == nil {
		return nil, errors.New("nil config")
	}

	runID := uuid.NewString()
	root := cfg.RootPath
	logger := r.logger.With().Str("run_id", runID).Str("root", root).Logger()
	start := r.now()

	validator := safety.NewValidator(cfg.AllowedRoots, protectedPaths(cfg))
	if err := validator.ValidateRoot(root); err != nil {
		logger.Error().Err(err).Msg("root rejected by safety validator")
		metrics.RecordRun(metrics.ResultRejected, false, r.now().Sub(start))
		r.setHealth(err)
		return nil, fmt.Errorf("validate root: %w", err)
	}

	if err := disk.ProbeMount(ctx, root, cfg.NFSProbeTimeout()); err != nil && errors.Is(err, disk.ErrStaleMount) {
		logger.Error().Err(err).Msg("root is on an unresponsive mount")
		metrics.ErrorsTotal.Inc()
		metrics.RecordRun(metrics.ResultError, false, r.now().Sub(start))
		r.setHealth(err)
		return nil, err
	}

	report := &Report{
		RunID:               runID,
		Root:                root,
		MinAgeMinutes:       cfg.MinAgeMinutes,
		DeleteEnabled:       cfg.DeleteEnabled,
		ContinueOnListError: cfg.ContinueOnListError,
		StartedAt:           start,
	}
	if u, err := disk.GetDiskUsage(root); err == nil {
		report.FreeBytesBefore = u.FreeBytes
	} else {
		logger.Debug().Err(err).Msg("disk usage unavailable before run")
	}

	opts := purge.Options{
		MinAgeMinutes:       cfg.MinAgeMinutes,
		DeleteEnabled:       cfg.DeleteEnabled,
		ContinueOnListError: cfg.ContinueOnListError,
	}

	status := purge.NewStatusWriter(r.stdout)
	status.Header(root, opts)

	tally := purge.NewTally()
	observers := []purge.Observer{status, purge.NewLogObserver(logger), metrics.Observer{}, tally}

	var recorder *database.EventRecorder
	if r.db != nil {
		rec, err := r.startHistory(runID, root, opts)
		if err != nil {
			logger.Warn().Err(err).Msg("purge history disabled for this run")
			metrics.ErrorsTotal.Inc()
		} else {
			recorder = rec
			observers = append(observers, recorder)
		}
	}

	engine := purge.NewEngine(validator.Guard(r.fs, root), purge.Observers(observers...))
	engine.SetClock(r.now)
	if cfg.ResourceLimits.MaxCPUPercent > 0 {
		engine.SetThrottler(limiter.NewCPULimiter(cfg.ResourceLimits.MaxCPUPercent))
	}

	logger.Info().
		Uint32("min_age_minutes", opts.MinAgeMinutes).
		Bool("delete_enabled", opts.DeleteEnabled).
		Bool("continue_on_list_error", opts.ContinueOnListError).
		Msg("purge started")

	cleared, purgeErr := engine.Purge(root, opts)

	result := metrics.ResultCleared
	switch {
	case purgeErr != nil:
		status.Failure()
		result = metrics.ResultError
		cleared = false
		metrics.ErrorsTotal.Inc()
	case !cleared:
		status.Summary(false)
		result = metrics.ResultNotCleared
	default:
		status.Summary(true)
	}

	report.FinishedAt = r.now()
	report.DurationSeconds = report.FinishedAt.Sub(start).Seconds()
	report.AllCleared = cleared
	report.Result = result
	report.Entries = tally.Total()
	report.Failures = tally.Failures()
	report.BytesRemoved = tally.BytesRemoved
	if purgeErr != nil {
		report.Error = purgeErr.Error()
	}

	if u, err := disk.GetDiskUsage(root); err == nil {
		report.FreeBytesAfter = u.FreeBytes
		metrics.UpdateDiskMetrics(root, u)
	}

	if recorder != nil {
		r.finishHistory(logger, recorder, report, purgeErr, cfg.HistoryRetentionDays)
	}

	metrics.RecordRun(result, cleared, report.FinishedAt.Sub(start))

	if cfg.StatePath != "" {
		if err := WriteState(cfg.StatePath, report); err != nil {
			logger.Warn().Err(err).Str("state_path", cfg.StatePath).Msg("failed to write state file")
			metrics.ErrorsTotal.Inc()
		}
	}

	event := logger.Info()
	if purgeErr != nil {
		event = logger.Error().Err(purgeErr)
	}
	event.
		Bool("all_cleared", cleared).
		Int("entries", report.Entries).
		Int("failures", report.Failures).
		Int64("bytes_removed", report.BytesRemoved).
		Float64("duration_seconds", report.DurationSeconds).
		Msg("purge finished")

	r.setHealth(purgeErr)
	return report, purgeErr
}

func (r *Runner) startHistory(runID, root string, opts purge.Options) (*database.EventRecorder, error) {
	if err := r.db.StartRun(runID, root, opts); err != nil {
		return nil, err
	}
	return r.db.Recorder(runID)
}

func (r *Runner) finishHistory(logger zerolog.Logger, rec *database.EventRecorder, report *Report, purgeErr error, retentionDays int) {
	if err := rec.Close(); err != nil {
		logger.Warn().Err(err).Msg("some purge events were not recorded")
		metrics.ErrorsTotal.Inc()
	}

	err := r.db.FinishRun(report.RunID, database.RunSummary{
		AllCleared:   report.AllCleared,
		Result:       report.Result,
		Entries:      report.Entries,
		Failures:     report.Failures,
		BytesRemoved: report.BytesRemoved,
		Err:          purgeErr,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("failed to finish run record")
		metrics.ErrorsTotal.Inc()
	}

	if retentionDays > 0 {
		pruned, err := r.db.DeleteOldRecords(retentionDays)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to prune purge history")
			metrics.ErrorsTotal.Inc()
		} else if pruned > 0 {
			logger.Info().Int64("records", pruned).Int("retention_days", retentionDays).Msg("pruned purge history")
		}
	}
}

// protectedPaths adds the runner's own files to the configured protected paths.
func protectedPaths(cfg *config.Config) []string {
	out := append([]string(nil), cfg.ProtectedPaths...)
	if cfg.DatabasePath != "" {
		out = append(out, cfg.DatabasePath, cfg.DatabasePath+"-wal", cfg.DatabasePath+"-shm")
	}
	if cfg.StatePath != "" {
		out = append(out, cfg.StatePath)
	}
	if cfg.Logging.Directory != "" {
		out = append(out, cfg.Logging.Directory)
	}
	return out
}

// Run purges once immediately and then on every cron tick and every value
// received from trigger, until ctx is cancelled. Requests that arrive while
// a purge is in progress are coalesced into one follow-up run. An empty
// schedule leaves only the trigger.
func (r *Runner) Run(ctx context.Context, trigger <-chan struct{}) error {
	cfg := r.config()
	if cfg == nil {
		return errors.New("nil config")
	}

	pending := make(chan struct{}, 1)
	request := func() {
		select {
		case pending <- struct{}{}:
		default:
		}
	}

	c := cron.New()
	if cfg.Schedule != "" {
		if _, err := c.AddFunc(cfg.Schedule, request); err != nil {
			return fmt.Errorf("failed to schedule purge %q: %w", cfg.Schedule, err)
		}
		c.Start()
		r.logger.Info().Str("schedule", cfg.Schedule).Msg("purge scheduler started")
	}
	defer func() {
		<-c.Stop().Done()
	}()

	request()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("scheduler shutting down")
			return ctx.Err()
		case <-trigger:
			r.logger.Info().Msg("purge triggered")
			request()
		case <-pending:
			if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error().Err(err).Msg("purge run failed")
			}
		}
	}
}
