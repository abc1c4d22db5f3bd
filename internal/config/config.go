package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const (
	DefaultMinAgeMinutes        = 60
	DefaultRotationDays         = 30
	DefaultHistoryRetentionDays = 90
	DefaultNFSTimeoutSeconds    = 5
)

type PrometheusCfg struct {
	Port int `yaml:"port" json:"port"` // 0 disables the metrics server
}

type LoggingCfg struct {
	Level        string `yaml:"level" json:"level"`                 // zerolog level name (default: info)
	Directory    string `yaml:"directory" json:"directory"`         // Optional directory for cleanup.log
	RotationDays int    `yaml:"rotation_days" json:"rotation_days"` // Days to keep logs before rotation
	JSON         bool   `yaml:"json" json:"json"`                   // Emit JSON instead of console output on stderr
}

type ResourceLimits struct {
	MaxCPUPercent float64 `yaml:"max_cpu_percent" json:"max_cpu_percent"` // 0 disables throttling
}

type Config struct {
	RootPath            string `yaml:"root_path" json:"root_path"`
	MinAgeMinutes       uint32 `yaml:"min_age_minutes" json:"min_age_minutes"`
	DeleteEnabled       bool   `yaml:"delete_enabled" json:"delete_enabled"`
	ContinueOnListError bool   `yaml:"continue_on_list_error" json:"continue_on_list_error"`

	Schedule             string         `yaml:"schedule" json:"schedule"`                             // Cron expression for daemon mode
	DatabasePath         string         `yaml:"database_path" json:"database_path"`                   // Empty disables purge history
	HistoryRetentionDays int            `yaml:"history_retention_days" json:"history_retention_days"` // History rows older than this are pruned
	StatePath            string         `yaml:"state_path" json:"state_path"`                         // Optional last-run JSON file
	NFSTimeout           int            `yaml:"nfs_timeout_seconds" json:"nfs_timeout_seconds"`       // Timeout for the stale NFS probe
	ProtectedPaths       []string       `yaml:"protected_paths" json:"protected_paths"`
	AllowedRoots         []string       `yaml:"allowed_roots" json:"allowed_roots"`
	Prometheus           PrometheusCfg  `yaml:"prometheus" json:"prometheus"`
	Logging              LoggingCfg     `yaml:"logging" json:"logging"`
	ResourceLimits       ResourceLimits `yaml:"resource_limits" json:"resource_limits"`
}

// ErrNoRoot is returned by Validate when no root path was given.
var ErrNoRoot = errors.New("a root path must be specified")

var (
	errInvalidSchedule = errors.New("invalid cron schedule")
	errInvalidPort     = errors.New("prometheus port must be between 0 and 65535")
	errInvalidCPU      = errors.New("max_cpu_percent must be between 0 and 100")
	errNegativeDays    = errors.New("retention days cannot be negative")
)

// IsValidationError reports whether err came from validating configuration values.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrNoRoot) ||
		errors.Is(err, errInvalidSchedule) ||
		errors.Is(err, errInvalidPort) ||
		errors.Is(err, errInvalidCPU) ||
		errors.Is(err, errNegativeDays)
}

// Default returns a configuration with every default applied and no root path.
func Default() *Config {
	return &Config{
		MinAgeMinutes:        DefaultMinAgeMinutes,
		HistoryRetentionDays: DefaultHistoryRetentionDays,
		NFSTimeout:           DefaultNFSTimeoutSeconds,
		Logging: LoggingCfg{
			Level:        "info",
			RotationDays: DefaultRotationDays,
		},
	}
}

// Load reads a YAML file on top of Default(). The result is not validated:
// callers apply flag overrides first and then call Validate.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	return decode(f)
}

// LoadAndValidate is Load followed by Validate.
func LoadAndValidate(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	// Defaults first so that explicit zero values in the file survive decoding.
	cfg := Default()
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return cfg, nil
}

// Validate checks required fields, normalizes paths and fills remaining defaults.
func (c *Config) Validate() error {
	return c.validateAndDefault()
}

func (c *Config) validateAndDefault() error {
	if strings.TrimSpace(c.RootPath) == "" {
		return ErrNoRoot
	}

	root, err := filepath.Abs(c.RootPath)
	if err != nil {
		return fmt.Errorf("resolve root path %q: %w", c.RootPath, err)
	}
	c.RootPath = filepath.Clean(root)

	if c.Schedule != "" {
		if _, err := cron.ParseStandard(c.Schedule); err != nil {
			return fmt.Errorf("%w %q: %v", errInvalidSchedule, c.Schedule, err)
		}
	}

	if c.Prometheus.Port < 0 || c.Prometheus.Port > 65535 {
		return errInvalidPort
	}

	if c.ResourceLimits.MaxCPUPercent < 0 || c.ResourceLimits.MaxCPUPercent > 100 {
		return errInvalidCPU
	}

	if c.HistoryRetentionDays < 0 || c.Logging.RotationDays < 0 {
		return errNegativeDays
	}
	if c.HistoryRetentionDays == 0 {
		c.HistoryRetentionDays = DefaultHistoryRetentionDays
	}
	if c.Logging.RotationDays == 0 {
		c.Logging.RotationDays = DefaultRotationDays
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	if c.NFSTimeout <= 0 {
		c.NFSTimeout = DefaultNFSTimeoutSeconds
	}

	for i, p := range c.ProtectedPaths {
		c.ProtectedPaths[i] = filepath.Clean(p)
	}
	for i, p := range c.AllowedRoots {
		c.AllowedRoots[i] = filepath.Clean(p)
	}

	return nil
}

func (c *Config) NFSProbeTimeout() time.Duration {
	return time.Duration(c.NFSTimeout) * time.Second
}

func (c *Config) PrometheusAddress() string {
	return fmt.Sprintf(":%d", c.Prometheus.Port)
}

// Daemon reports whether purges should repeat on a schedule.
func (c *Config) Daemon() bool {
	return c.Schedule != ""
}
