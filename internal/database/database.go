package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"stale-purge/internal/purge"
)

const schemaVersion = 1

// PurgeDB manages the SQLite database holding purge history
type PurgeDB struct {
	db  *sql.DB
	now func() time.Time
}

// EventRecord is one stored engine event
type EventRecord struct {
	ID           int64
	RunID        string
	Timestamp    time.Time
	Action       string
	Outcome      string
	Path         string
	FileName     string
	ObjectType   string
	Size         int64
	AgeMinutes   *int64 // nil when the age was unknown
	Simulated    bool
	ErrorMessage string
}

// RunRecord is one stored purge run
type RunRecord struct {
	ID                  string
	Root                string
	MinAgeMinutes       uint32
	DeleteEnabled       bool
	ContinueOnListError bool
	StartedAt           time.Time
	FinishedAt          *time.Time
	AllCleared          *bool
	Result              string
	Entries             int
	Failures            int
	BytesRemoved        int64
	ErrorMessage        string
}

// RunSummary carries the totals written when a run finishes
type RunSummary struct {
	AllCleared   bool
	Result       string
	Entries      int
	Failures     int
	BytesRemoved int64
	Err          error
}

// NewPurgeDB creates a new database connection and initializes schema
func NewPurgeDB(dbPath string) (*PurgeDB, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	// _loc=auto parses DATETIME columns back into time.Time; the busy timeout
	// lets the query CLI read while a daemon is writing.
	db, err := sql.Open("sqlite3", "file:"+dbPath+"?_loc=auto&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err != nil {
			db.Close()
		}
	}()

	// A real statement (unlike Ping) makes SQLite create the file now.
	if _, err = db.Exec("SELECT 1"); err != nil {
		return nil, fmt.Errorf("failed to initialize database (check permissions on %s): %w", dbPath, err)
	}

	if _, err = db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err = db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}

	pdb := &PurgeDB{db: db, now: time.Now}
	if err = pdb.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return pdb, nil
}

// initSchema creates tables and indexes if they don't exist
func (d *PurgeDB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS purge_runs (
		id TEXT PRIMARY KEY,
		root TEXT NOT NULL,
		min_age_minutes INTEGER NOT NULL,
		delete_enabled INTEGER NOT NULL,
		continue_on_list_error INTEGER NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		all_cleared INTEGER,
		result TEXT NOT NULL DEFAULT 'running',
		entries INTEGER NOT NULL DEFAULT 0,
		failures INTEGER NOT NULL DEFAULT 0,
		bytes_removed INTEGER NOT NULL DEFAULT 0,
		error_message TEXT
	);

	CREATE TABLE IF NOT EXISTS purge_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES purge_runs(id) ON DELETE CASCADE,
		timestamp DATETIME NOT NULL,
		action TEXT NOT NULL,
		outcome TEXT NOT NULL,
		path TEXT NOT NULL,
		file_name TEXT,
		object_type TEXT NOT NULL,
		size INTEGER NOT NULL DEFAULT 0,
		age_minutes INTEGER,
		simulated INTEGER NOT NULL,
		error_message TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON purge_runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_events_run_id ON purge_events(run_id);
	CREATE INDEX IF NOT EXISTS idx_events_timestamp ON purge_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_events_action ON purge_events(action);
	CREATE INDEX IF NOT EXISTS idx_events_outcome ON purge_events(outcome);
	CREATE INDEX IF NOT EXISTS idx_events_path ON purge_events(path);
	CREATE INDEX IF NOT EXISTS idx_events_size ON purge_events(size);

	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := d.db.Exec(schema); err != nil {
		return err
	}
	_, err := d.db.Exec("INSERT OR IGNORE INTO schema_version (version) VALUES (?)", schemaVersion)
	return err
}

// timestamp returns the current time in UTC so that stored values order lexically.
func (d *PurgeDB) timestamp() time.Time {
	return d.now().UTC()
}

// StartRun inserts a run row in the running state.
func (d *PurgeDB) StartRun(runID, root string, opts purge.Options) error {
	_, err := d.db.Exec(`
	INSERT INTO purge_runs (
		id, root, min_age_minutes, delete_enabled, continue_on_list_error, started_at
	) VALUES (?, ?, ?, ?, ?, ?)
	`, runID, root, opts.MinAgeMinutes, opts.DeleteEnabled, opts.ContinueOnListError, d.timestamp())
	if err != nil {
		return fmt.Errorf("start run %s: %w", runID, err)
	}
	return nil
}

// FinishRun stores the totals of a finished run.
func (d *PurgeDB) FinishRun(runID string, s RunSummary) error {
	var errMsg sql.NullString
	if s.Err != nil {
		errMsg = sql.NullString{String: s.Err.Error(), Valid: true}
	}

	res, err := d.db.Exec(`
	UPDATE purge_runs
	SET finished_at = ?, all_cleared = ?, result = ?, entries = ?, failures = ?,
	    bytes_removed = ?, error_message = ?
	WHERE id = ?
	`, d.timestamp(), s.AllCleared, s.Result, s.Entries, s.Failures, s.BytesRemoved, errMsg, runID)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish run %s: %w", runID, sql.ErrNoRows)
	}
	return nil
}

const insertEvent = `
	INSERT INTO purge_events (
		run_id, timestamp, action, outcome, path, file_name, object_type,
		size, age_minutes, simulated, error_message
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

func eventArgs(runID string, ts time.Time, ev purge.Event) []any {
	var age sql.NullInt64
	if ev.AgeMinutes >= 0 {
		age = sql.NullInt64{Int64: ev.AgeMinutes, Valid: true}
	}
	var errMsg sql.NullString
	if ev.Err != nil {
		errMsg = sql.NullString{String: ev.Err.Error(), Valid: true}
	}
	return []any{
		runID, ts, ev.Action(), ev.Outcome.String(), ev.Path, filepath.Base(ev.Path),
		ev.Outcome.ObjectType(), ev.Size, age, ev.Simulated, errMsg,
	}
}

// RecordEvent inserts a single engine event for runID.
func (d *PurgeDB) RecordEvent(runID string, ev purge.Event) error {
	_, err := d.db.Exec(insertEvent, eventArgs(runID, d.timestamp(), ev)...)
	return err
}

// EventRecorder writes every observed event of one run inside a single
// transaction. Close commits whatever was recorded.
type EventRecorder struct {
	d     *PurgeDB
	runID string
	tx    *sql.Tx
	stmt  *sql.Stmt
	count int
	err   error
}

// Recorder opens a transaction for the events of runID.
func (d *PurgeDB) Recorder(runID string) (*EventRecorder, error) {
	tx, err := d.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin event transaction: %w", err)
	}
	stmt, err := tx.Prepare(insertEvent)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("prepare event insert: %w", err)
	}
	return &EventRecorder{d: d, runID: runID, tx: tx, stmt: stmt}, nil
}

// Observe implements purge.Observer. After the first failed insert the
// remaining events are dropped and the error is reported by Close.
func (r *EventRecorder) Observe(ev purge.Event) {
	if r.err != nil {
		return
	}
	if _, err := r.stmt.Exec(eventArgs(r.runID, r.d.timestamp(), ev)...); err != nil {
		r.err = fmt.Errorf("record event %s: %w", ev.Path, err)
		return
	}
	r.count++
}

// Count returns the number of events written so far.
func (r *EventRecorder) Count() int {
	return r.count
}

// Close commits the transaction and returns the first insert error, if any.
func (r *EventRecorder) Close() error {
	if r.tx == nil {
		return r.err
	}
	r.stmt.Close()
	err := r.tx.Commit()
	r.tx = nil
	return errors.Join(r.err, err)
}

// Close closes the database connection
func (d *PurgeDB) Close() error {
	return d.db.Close()
}

// Vacuum optimizes the database (run periodically)
func (d *PurgeDB) Vacuum() error {
	_, err := d.db.Exec("VACUUM")
	return err
}

// DatabaseStats describes the size and span of the stored history
type DatabaseStats struct {
	TotalRuns    int64
	TotalEvents  int64
	SizeBytes    int64
	OldestRecord *time.Time
	NewestRecord *time.Time
}

// GetDatabaseStats returns database statistics
func (d *PurgeDB) GetDatabaseStats() (*DatabaseStats, error) {
	stats := &DatabaseStats{}

	if err := d.db.QueryRow("SELECT COUNT(*) FROM purge_runs").Scan(&stats.TotalRuns); err != nil {
		return nil, err
	}
	if err := d.db.QueryRow("SELECT COUNT(*) FROM purge_events").Scan(&stats.TotalEvents); err != nil {
		return nil, err
	}

	var pageCount, pageSize int64
	if err := d.db.QueryRow("PRAGMA page_count").Scan(&pageCount); err != nil {
		return nil, err
	}
	if err := d.db.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return nil, err
	}
	stats.SizeBytes = pageCount * pageSize

	// Aggregates lose the column type, so the driver hands back strings.
	var oldest, newest sql.NullString
	err := d.db.QueryRow("SELECT MIN(started_at), MAX(started_at) FROM purge_runs").Scan(&oldest, &newest)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	stats.OldestRecord = parseSQLiteTime(oldest)
	stats.NewestRecord = parseSQLiteTime(newest)

	return stats, nil
}

var sqliteTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05-07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
}

func parseSQLiteTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	for _, layout := range sqliteTimeLayouts {
		if t, err := time.Parse(layout, s.String); err == nil {
			return &t
		}
	}
	return nil
}
