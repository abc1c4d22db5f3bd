package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"stale-purge/internal/disk"
)

// Daemon subsystem metrics
var (
	// ErrorsTotal tracks errors outside the per-entry outcomes
	ErrorsTotal prometheus.Counter

	// ConfigReloadsTotal counts config file reloads by result
	ConfigReloadsTotal *prometheus.CounterVec

	// FreeSpacePercent tracks free space percentage of the filesystem holding the root
	FreeSpacePercent *prometheus.GaugeVec

	// PathFreeBytes tracks free space available on the filesystem containing the root
	PathFreeBytes *prometheus.GaugeVec

	// PathTotalBytes tracks total capacity of the filesystem containing the root
	PathTotalBytes *prometheus.GaugeVec
)

func initDaemonMetrics() {
	ErrorsTotal = NewCounter(
		"stalepurge_daemon_errors_total",
		"Total number of errors encountered by the daemon.",
	)

	ConfigReloadsTotal = NewCounterVec(
		"stalepurge_config_reloads_total",
		"Config file reloads by result.",
		[]string{"result"},
	)

	FreeSpacePercent = NewSizeGaugeVec(
		"stalepurge_free_space_percent",
		"Free space percentage on the filesystem holding the purge root.",
		[]string{"path"},
	)

	PathFreeBytes = NewSizeGaugeVec(
		"stalepurge_path_free_bytes",
		"Free space available on the filesystem containing this path.",
		[]string{"path"},
	)

	PathTotalBytes = NewSizeGaugeVec(
		"stalepurge_path_total_bytes",
		"Total capacity of the filesystem containing this path.",
		[]string{"path"},
	)
}

func registerDaemonMetrics() {
	prometheus.MustRegister(ErrorsTotal)
	prometheus.MustRegister(ConfigReloadsTotal)
	prometheus.MustRegister(FreeSpacePercent)
	prometheus.MustRegister(PathFreeBytes)
	prometheus.MustRegister(PathTotalBytes)
}

// UpdateDiskMetrics publishes filesystem capacity figures for path.
func UpdateDiskMetrics(path string, u disk.Usage) {
	FreeSpacePercent.WithLabelValues(path).Set(u.FreePercent())
	PathFreeBytes.WithLabelValues(path).Set(float64(u.FreeBytes))
	PathTotalBytes.WithLabelValues(path).Set(float64(u.TotalBytes))
}
