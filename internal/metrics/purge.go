package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"stale-purge/internal/purge"
)

// Run results recorded in RunsTotal.
const (
	ResultCleared    = "cleared"
	ResultNotCleared = "not_cleared"
	ResultError      = "error"
	ResultRejected   = "rejected"
)

// Purge subsystem metrics
var (
	// PurgeDuration tracks how long purge runs take
	PurgeDuration prometheus.Histogram

	// EntriesTotal counts visited entries by outcome and dry-run flag
	EntriesTotal *prometheus.CounterVec

	// BytesRemovedTotal tracks bytes of regular files actually unlinked
	BytesRemovedTotal prometheus.Counter

	// RemovedFileSize tracks the size distribution of removed files
	RemovedFileSize prometheus.Histogram

	// RunsTotal counts purge runs by result
	RunsTotal *prometheus.CounterVec

	// LastRunTimestamp records Unix timestamp of the last finished run
	LastRunTimestamp prometheus.Gauge

	// LastRunCleared is 1 when the last run cleared the whole tree
	LastRunCleared prometheus.Gauge
)

func initPurgeMetrics() {
	PurgeDuration = NewDurationHistogram(
		"stalepurge_run_duration_seconds",
		"Duration of purge runs in seconds.",
	)

	EntriesTotal = NewCounterVec(
		"stalepurge_entries_total",
		"Entries visited by purge runs, by outcome.",
		[]string{"outcome", "simulated"},
	)

	BytesRemovedTotal = NewBytesCounter(
		"stalepurge_bytes_removed_total",
		"Total bytes of files removed.",
	)

	RemovedFileSize = NewBytesHistogram(
		"stalepurge_removed_file_size_bytes",
		"Size distribution of removed files in bytes.",
	)

	RunsTotal = NewCounterVec(
		"stalepurge_runs_total",
		"Purge runs by result.",
		[]string{"result"},
	)

	LastRunTimestamp = NewGauge(
		"stalepurge_last_run_timestamp",
		"Timestamp of the last purge run (Unix epoch seconds).",
	)

	LastRunCleared = NewGauge(
		"stalepurge_last_run_cleared",
		"Whether the last purge run cleared every entry (1) or not (0).",
	)
}

func registerPurgeMetrics() {
	prometheus.MustRegister(PurgeDuration)
	prometheus.MustRegister(EntriesTotal)
	prometheus.MustRegister(BytesRemovedTotal)
	prometheus.MustRegister(RemovedFileSize)
	prometheus.MustRegister(RunsTotal)
	prometheus.MustRegister(LastRunTimestamp)
	prometheus.MustRegister(LastRunCleared)
}

// Observer feeds engine events into the purge metrics. Init must have run.
type Observer struct{}

func (Observer) Observe(ev purge.Event) {
	EntriesTotal.WithLabelValues(ev.Outcome.String(), strconv.FormatBool(ev.Simulated)).Inc()
	if ev.Outcome == purge.FileDeleted && !ev.Simulated && ev.Size > 0 {
		BytesRemovedTotal.Add(float64(ev.Size))
		RemovedFileSize.Observe(float64(ev.Size))
	}
}

// RecordRun stores the result of a finished run.
func RecordRun(result string, cleared bool, duration time.Duration) {
	RunsTotal.WithLabelValues(result).Inc()
	PurgeDuration.Observe(duration.Seconds())
	LastRunTimestamp.Set(float64(time.Now().Unix()))
	if cleared {
		LastRunCleared.Set(1)
	} else {
		LastRunCleared.Set(0)
	}
}
