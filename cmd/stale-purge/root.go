package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"stale-purge/internal/config"
	"stale-purge/internal/database"
	"stale-purge/internal/exitcodes"
	"stale-purge/internal/logging"
	"stale-purge/internal/metrics"
	"stale-purge/internal/scheduler"
)

// Version is set at build time.
var Version = "dev"

// helpAliases are accepted in addition to -h and --help.
var helpAliases = map[string]bool{"-help": true, "-?": true, "/?": true}

type cliFlags struct {
	path            string
	minAge          uint32
	deleteMode      bool
	configPath      string
	continueOnError bool
	daemon          bool
	schedule        string
	dbPath          string
	statePath       string
	metricsPort     int
	logLevel        string
	logJSON         bool
}

func run(args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(normalizeArgs(args))

	err := cmd.ExecuteContext(context.Background())
	code := exitcodes.For(err)
	if err != nil {
		if errors.Is(err, config.ErrNoRoot) {
			fmt.Fprintln(stderr, "[ERROR] A root path must be specified.")
		} else {
			fmt.Fprintf(stderr, "[ERROR] %v\n", err)
		}
		if code == exitcodes.InvalidConfig {
			fmt.Fprintln(stderr)
			fmt.Fprint(stderr, cmd.UsageString())
		}
	}
	return code
}

// normalizeArgs rewrites the single-dash help spellings, which pflag would
// otherwise read as clusters of short flags.
func normalizeArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		if helpAliases[a] {
			a = "--help"
		}
		out[i] = a
	}
	return out
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	f := &cliFlags{}

	cmd := &cobra.Command{
		Use:   "stale-purge -p <root> [-m <minutes>] [-d]",
		Short: "Recursively remove files that have not been modified recently",
		Long: `Recursively deletes all files and directories within the specified root
directory that have not been modified for at least the minimum file age.
Child directories are only deleted if every file and directory within them
was deleted. The root directory itself is never deleted.

Without -d nothing is removed: the same report is printed as if it had been.`,
		Version:       Version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return execute(cmd.Context(), cmd.Flags(), f, stdout, stderr)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return exitcodes.WithCode(exitcodes.InvalidConfig, err)
	})

	flags := cmd.Flags()
	flags.StringVarP(&f.path, "path", "p", "", "root directory to purge")
	flags.Uint32VarP(&f.minAge, "min-age", "m", config.DefaultMinAgeMinutes, "minimum minutes since last modification before a file is deleted")
	flags.BoolVarP(&f.deleteMode, "delete", "d", false, "actually delete; without it only the report is printed")
	flags.StringVarP(&f.configPath, "config", "c", "", "YAML configuration file")
	flags.BoolVar(&f.continueOnError, "continue-on-error", false, "report unreadable directories and keep going instead of aborting")
	flags.BoolVar(&f.daemon, "daemon", false, "keep running and purge on the schedule, on POST /trigger or on SIGUSR1")
	flags.StringVar(&f.schedule, "schedule", "", "cron expression for daemon mode, e.g. \"*/30 * * * *\"")
	flags.StringVar(&f.dbPath, "db", "", "SQLite file for purge history")
	flags.StringVar(&f.statePath, "state", "", "JSON file holding the report of the last run")
	flags.IntVar(&f.metricsPort, "metrics-port", 0, "serve /metrics, /health and /trigger on this port in daemon mode")
	flags.StringVar(&f.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.BoolVar(&f.logJSON, "log-json", false, "write logs to stderr as JSON")

	return cmd
}

// buildConfig loads the config file (if any) and applies explicitly set flags on top.
func buildConfig(fs *pflag.FlagSet, f *cliFlags) (*config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		loaded, err := config.Load(f.configPath)
		if err != nil {
			return nil, exitcodes.WithCode(exitcodes.InvalidConfig, err)
		}
		cfg = loaded
	}

	applyOverrides(fs, f, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, exitcodes.WithCode(exitcodes.InvalidConfig, err)
	}
	return cfg, nil
}

func applyOverrides(fs *pflag.FlagSet, f *cliFlags, cfg *config.Config) {
	if fs.Changed("path") {
		cfg.RootPath = f.path
	}
	if fs.Changed("min-age") {
		cfg.MinAgeMinutes = f.minAge
	}
	if fs.Changed("delete") {
		cfg.DeleteEnabled = f.deleteMode
	}
	if fs.Changed("continue-on-error") {
		cfg.ContinueOnListError = f.continueOnError
	}
	if fs.Changed("schedule") {
		cfg.Schedule = f.schedule
	}
	if fs.Changed("db") {
		cfg.DatabasePath = f.dbPath
	}
	if fs.Changed("state") {
		cfg.StatePath = f.statePath
	}
	if fs.Changed("metrics-port") {
		cfg.Prometheus.Port = f.metricsPort
	}
	if fs.Changed("log-level") {
		cfg.Logging.Level = f.logLevel
	}
	if fs.Changed("log-json") {
		cfg.Logging.JSON = f.logJSON
	}
}

func execute(ctx context.Context, fs *pflag.FlagSet, f *cliFlags, stdout, stderr io.Writer) error {
	cfg, err := buildConfig(fs, f)
	if err != nil {
		return err
	}

	logOpts := logging.FromConfig(cfg.Logging)
	logOpts.Output = stderr
	logOpts.Component = "stale-purge"
	logger, err := logging.New(logOpts)
	if err != nil {
		return exitcodes.WithCode(exitcodes.InvalidConfig, err)
	}
	defer logger.Close()

	var db *database.PurgeDB
	if cfg.DatabasePath != "" {
		db, err = database.NewPurgeDB(cfg.DatabasePath)
		if err != nil {
			return exitcodes.WithCode(exitcodes.RuntimeError, err)
		}
		defer func() {
			if err := db.Close(); err != nil {
				logger.Error().Err(err).Msg("failed to close database")
			}
		}()
	}

	runner := scheduler.NewRunner(cfg, scheduler.Options{
		Stdout: stdout,
		Logger: logger.Logger,
		DB:     db,
	})

	if !f.daemon && !cfg.Daemon() {
		_, err := runner.RunOnce(ctx)
		return err
	}
	return runDaemon(ctx, cfg, fs, f, runner, logger)
}

func runDaemon(ctx context.Context, cfg *config.Config, fs *pflag.FlagSet, f *cliFlags, runner *scheduler.Runner, logger *logging.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	trigger := make(chan struct{}, 1)

	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, syscall.SIGUSR1)
	defer signal.Stop(usr1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-usr1:
				select {
				case trigger <- struct{}{}:
				default:
				}
			}
		}
	}()

	metrics.SetHealthCheck(runner.Health)
	if cfg.Prometheus.Port > 0 {
		metrics.StartServer(cfg.PrometheusAddress(), trigger, logger.Logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			metrics.Shutdown(shutdownCtx, logger.Logger)
		}()
	}

	if f.configPath != "" {
		watcher, err := config.NewWatcher(f.configPath, 250*time.Millisecond)
		if err != nil {
			logger.Warn().Err(err).Msg("config reload disabled")
		} else {
			watcher.Prepare = func(c *config.Config) { applyOverrides(fs, f, c) }
			go func() {
				_ = watcher.Watch(ctx, func(next *config.Config, err error) {
					if err != nil {
						logger.Warn().Err(err).Str("config", f.configPath).Msg("ignoring invalid config reload")
						metrics.ConfigReloadsTotal.WithLabelValues("error").Inc()
						return
					}
					if next.Schedule != cfg.Schedule {
						logger.Warn().Str("schedule", next.Schedule).Msg("schedule changes take effect after a restart")
					}
					runner.SetConfig(next)
					metrics.ConfigReloadsTotal.WithLabelValues("ok").Inc()
					logger.Info().Str("config", f.configPath).Msg("configuration reloaded")
				})
			}()
		}
	}

	logger.Info().
		Str("version", Version).
		Str("root", cfg.RootPath).
		Str("schedule", cfg.Schedule).
		Msg("stale-purge daemon starting")

	err := runner.Run(ctx, trigger)
	if errors.Is(err, context.Canceled) {
		logger.Info().Msg("stale-purge daemon stopped")
		return nil
	}
	return err
}
