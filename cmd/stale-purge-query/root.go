package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"stale-purge/internal/database"
	"stale-purge/internal/exitcodes"
	"stale-purge/internal/purge"
	"stale-purge/internal/scheduler"
)

const defaultDBPath = "/var/lib/stale-purge/history.db"

type app struct {
	dbPath     string
	jsonOutput bool
	out        io.Writer
	db         *database.PurgeDB
}

func run(args []string, stdout, stderr io.Writer) int {
	cmd, a := newRootCmd(stdout)
	cmd.SetArgs(args)
	cmd.SetErr(stderr)

	err := cmd.Execute()
	if closeErr := a.close(); err == nil {
		err = closeErr
	}
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
	}
	return exitcodes.For(err)
}

func newRootCmd(stdout io.Writer) (*cobra.Command, *app) {
	a := &app{out: stdout}

	cmd := &cobra.Command{
		Use:           "stale-purge-query",
		Short:         "Query the stale-purge history database",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open()
		},
	}
	cmd.SetOut(stdout)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return exitcodes.WithCode(exitcodes.InvalidConfig, err)
	})

	cmd.PersistentFlags().StringVar(&a.dbPath, "db", defaultDBPath, "path to the purge history database")
	cmd.PersistentFlags().BoolVar(&a.jsonOutput, "json", false, "output in JSON format")

	cmd.AddCommand(
		a.recentCmd(),
		a.statsCmd(),
		a.outcomeCmd(),
		a.actionCmd(),
		a.pathCmd(),
		a.largestCmd(),
		a.runsCmd(),
		a.runCmd(),
		a.dbStatsCmd(),
		a.maintainCmd(),
		a.lastCmd(),
	)
	return cmd, a
}

func (a *app) open() error {
	if a.db != nil {
		return nil
	}
	// Queries never create a database: a mistyped --db must not leave one behind.
	if _, err := os.Stat(a.dbPath); err != nil {
		return exitcodes.WithCode(exitcodes.RuntimeError, fmt.Errorf("database %s: %w", a.dbPath, err))
	}
	db, err := database.NewPurgeDB(a.dbPath)
	if err != nil {
		return exitcodes.WithCode(exitcodes.RuntimeError, fmt.Errorf("failed to open database %s: %w", a.dbPath, err))
	}
	a.db = db
	return nil
}

func (a *app) close() error {
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	if err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// limitArg parses an optional positive count argument.
func limitArg(args []string, def int) (int, error) {
	if len(args) == 0 {
		return def, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n <= 0 {
		return 0, exitcodes.WithCode(exitcodes.InvalidConfig, fmt.Errorf("invalid count %q", args[0]))
	}
	return n, nil
}

func (a *app) recentCmd() *cobra.Command {
	var offset int
	cmd := &cobra.Command{
		Use:   "recent [N]",
		Short: "Show the N most recent events",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			limit, err := limitArg(args, 20)
			if err != nil {
				return err
			}
			records, total, err := a.db.GetRecentEventsPaginated(limit, offset)
			if err != nil {
				return fmt.Errorf("failed to get recent events: %w", err)
			}
			if a.jsonOutput {
				return a.printJSON(map[string]any{"total": total, "offset": offset, "events": records})
			}
			fmt.Fprintf(a.out, "Showing %d of %d events (offset %d)\n\n", len(records), total, offset)
			a.printRecords(records)
			return nil
		},
	}
	cmd.Flags().IntVar(&offset, "offset", 0, "skip this many events")
	return cmd
}

func (a *app) statsCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show purge statistics",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if days <= 0 {
				return exitcodes.WithCode(exitcodes.InvalidConfig, errors.New("--days must be positive"))
			}
			stats, err := a.db.GetEventStats(days)
			if err != nil {
				return fmt.Errorf("failed to get statistics: %w", err)
			}
			if a.jsonOutput {
				return a.printJSON(stats)
			}

			w := a.out
			fmt.Fprintf(w, "Purge Statistics (Last %d days)\n", days)
			fmt.Fprintf(w, "Period: %s to %s\n\n", stats.StartDate.Format("2006-01-02"), stats.EndDate.Format("2006-01-02"))
			fmt.Fprintf(w, "Runs:             %d\n", stats.Runs)
			fmt.Fprintf(w, "Removed:          %d\n", stats.Removed)
			fmt.Fprintf(w, "Dry-run matches:  %d\n", stats.Simulated)
			fmt.Fprintf(w, "Skipped:          %d\n", stats.Skipped)
			fmt.Fprintf(w, "Errors:           %d\n", stats.Errors)
			fmt.Fprintf(w, "Space Freed:      %s\n", formatBytes(stats.BytesRemoved))
			if stats.LastRunCleared != nil {
				fmt.Fprintf(w, "Last run cleared: %t\n", *stats.LastRunCleared)
			}
			fmt.Fprintln(w)

			if len(stats.ByOutcome) > 0 {
				fmt.Fprintln(w, "By Outcome:")
				for _, o := range purge.AllOutcomes() {
					if n, ok := stats.ByOutcome[o.String()]; ok {
						fmt.Fprintf(w, "  %-25s %d\n", o.String(), n)
					}
				}
				fmt.Fprintln(w)
			}

			if len(stats.ByAction) > 0 {
				fmt.Fprintln(w, "By Action:")
				for _, action := range []string{"DELETE", "DRY_RUN", "SKIP", "ERROR"} {
					if n, ok := stats.ByAction[action]; ok {
						fmt.Fprintf(w, "  %-25s %d\n", action, n)
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "number of days to aggregate")
	return cmd
}

func (a *app) outcomeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "outcome <label>",
		Short: "Show events with one outcome (e.g. file_deleted, directory_not_cleared)",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			o, ok := purge.ParseOutcome(args[0])
			if !ok {
				return exitcodes.WithCode(exitcodes.InvalidConfig, fmt.Errorf("unknown outcome %q", args[0]))
			}
			records, err := a.db.GetEventsByOutcome(o.String())
			if err != nil {
				return fmt.Errorf("failed to query by outcome: %w", err)
			}
			return a.showRecords(fmt.Sprintf("Events with outcome: %s", o), records)
		},
	}
}

func (a *app) actionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "action <DELETE|DRY_RUN|SKIP|ERROR>",
		Short: "Show events with one action",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			action := strings.ToUpper(args[0])
			records, err := a.db.GetEventsByAction(action)
			if err != nil {
				return fmt.Errorf("failed to query by action: %w", err)
			}
			return a.showRecords(fmt.Sprintf("Records with action: %s", action), records)
		},
	}
}

func (a *app) pathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path <pattern>",
		Short: "Show events whose path matches a SQL LIKE pattern",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			records, err := a.db.GetEventsByPath(args[0])
			if err != nil {
				return fmt.Errorf("failed to query by path: %w", err)
			}
			return a.showRecords(fmt.Sprintf("Events matching path pattern: %s", args[0]), records)
		},
	}
}

func (a *app) largestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "largest [N]",
		Short: "Show the N largest removed files",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			limit, err := limitArg(args, 10)
			if err != nil {
				return err
			}
			records, err := a.db.GetLargestRemovals(limit)
			if err != nil {
				return fmt.Errorf("failed to get largest removals: %w", err)
			}
			return a.showRecords(fmt.Sprintf("Largest %d removals:", limit), records)
		},
	}
}

func (a *app) runsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "runs [N]",
		Short: "Show the N most recent purge runs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			limit, err := limitArg(args, 10)
			if err != nil {
				return err
			}
			runs, err := a.db.GetRecentRuns(limit)
			if err != nil {
				return fmt.Errorf("failed to get runs: %w", err)
			}
			if a.jsonOutput {
				return a.printJSON(runs)
			}
			a.printRuns(runs)
			return nil
		},
	}
}

func (a *app) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <run-id>",
		Short: "Show every event of one run in traversal order",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			records, err := a.db.GetEventsByRun(args[0])
			if err != nil {
				return fmt.Errorf("failed to query run: %w", err)
			}
			return a.showRecords(fmt.Sprintf("Events of run: %s", args[0]), records)
		},
	}
}

func (a *app) dbStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dbstats",
		Short: "Show database size and record counts",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			stats, err := a.db.GetDatabaseStats()
			if err != nil {
				return fmt.Errorf("failed to get database stats: %w", err)
			}
			if a.jsonOutput {
				return a.printJSON(stats)
			}
			fmt.Fprintf(a.out, "Database:     %s\n", a.dbPath)
			fmt.Fprintf(a.out, "Size:         %s\n", formatBytes(stats.SizeBytes))
			fmt.Fprintf(a.out, "Runs:         %d\n", stats.TotalRuns)
			fmt.Fprintf(a.out, "Events:       %d\n", stats.TotalEvents)
			if stats.OldestRecord != nil && stats.NewestRecord != nil {
				fmt.Fprintf(a.out, "Oldest run:   %s\n", stats.OldestRecord.Local().Format("2006-01-02 15:04:05"))
				fmt.Fprintf(a.out, "Newest run:   %s\n", stats.NewestRecord.Local().Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}

func (a *app) maintainCmd() *cobra.Command {
	var pruneDays int
	var vacuum bool
	cmd := &cobra.Command{
		Use:   "maintain",
		Short: "Prune old history and optionally vacuum the database",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if pruneDays < 0 {
				return exitcodes.WithCode(exitcodes.InvalidConfig, errors.New("--prune-days cannot be negative"))
			}
			if pruneDays > 0 {
				n, err := a.db.DeleteOldRecords(pruneDays)
				if err != nil {
					return fmt.Errorf("failed to prune history: %w", err)
				}
				fmt.Fprintf(a.out, "Pruned %d records older than %d days\n", n, pruneDays)
			}
			if vacuum {
				if err := a.db.Vacuum(); err != nil {
					return fmt.Errorf("failed to vacuum database: %w", err)
				}
				fmt.Fprintln(a.out, "Database vacuumed")
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&pruneDays, "prune-days", 0, "delete events older than this many days (0 keeps everything)")
	cmd.Flags().BoolVar(&vacuum, "vacuum", false, "reclaim free pages after pruning")
	return cmd
}

// lastCmd reads the state file and needs no database.
func (a *app) lastCmd() *cobra.Command {
	var statePath string
	cmd := &cobra.Command{
		Use:   "last",
		Short: "Show the report of the last run from the state file",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(_ *cobra.Command, _ []string) error {
			report, err := scheduler.LoadState(statePath)
			if err != nil {
				return exitcodes.WithCode(exitcodes.RuntimeError, err)
			}
			if a.jsonOutput {
				return a.printJSON(report)
			}
			w := a.out
			fmt.Fprintf(w, "Run:          %s\n", report.RunID)
			fmt.Fprintf(w, "Root:         %s\n", report.Root)
			fmt.Fprintf(w, "Finished:     %s\n", report.FinishedAt.Local().Format("2006-01-02 15:04:05"))
			fmt.Fprintf(w, "Delete mode:  %t\n", report.DeleteEnabled)
			fmt.Fprintf(w, "Result:       %s\n", report.Result)
			fmt.Fprintf(w, "All cleared:  %t\n", report.AllCleared)
			fmt.Fprintf(w, "Entries:      %d (%d failures)\n", report.Entries, report.Failures)
			fmt.Fprintf(w, "Bytes:        %s\n", formatBytes(report.BytesRemoved))
			if report.Error != "" {
				fmt.Fprintf(w, "Error:        %s\n", report.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&statePath, "state", "/var/lib/stale-purge/state.json", "path to the state file")
	return cmd
}

func (a *app) showRecords(title string, records []database.EventRecord) error {
	if a.jsonOutput {
		return a.printJSON(records)
	}
	fmt.Fprintf(a.out, "%s\n\n", title)
	a.printRecords(records)
	return nil
}

func (a *app) printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(a.out, string(data))
	return err
}

func (a *app) printRecords(records []database.EventRecord) {
	if len(records) == 0 {
		fmt.Fprintln(a.out, "No records found")
		return
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTimestamp\tAction\tOutcome\tSize\tPath")
	_, _ = fmt.Fprintln(w, "--\t---------\t------\t-------\t----\t----")

	for _, r := range records {
		timestamp := r.Timestamp.Local().Format("2006-01-02 15:04:05")
		size := "-"
		if r.ObjectType == "file" {
			size = formatBytes(r.Size)
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, timestamp, r.Action, r.Outcome, size, r.Path)
	}
	_ = w.Flush()
}

func (a *app) printRuns(runs []database.RunRecord) {
	if len(runs) == 0 {
		fmt.Fprintln(a.out, "No runs found")
		return
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "Run\tStarted\tMode\tResult\tEntries\tFailures\tBytes\tRoot")
	_, _ = fmt.Fprintln(w, "---\t-------\t----\t------\t-------\t--------\t-----\t----")

	for _, r := range runs {
		mode := "dry-run"
		if r.DeleteEnabled {
			mode = "delete"
		}
		result := r.Result
		if result == "" {
			result = "running"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			r.ID, r.StartedAt.Local().Format("2006-01-02 15:04:05"), mode, result,
			r.Entries, r.Failures, formatBytes(r.BytesRemoved), r.Root)
	}
	_ = w.Flush()
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
