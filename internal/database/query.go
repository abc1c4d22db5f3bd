package database

import (
	"database/sql"
	"time"
)

const eventColumns = `
	id, run_id, timestamp, action, outcome, path, file_name, object_type,
	size, age_minutes, simulated, error_message
	`

// GetRecentEvents returns the N most recent events
func (d *PurgeDB) GetRecentEvents(limit int) ([]EventRecord, error) {
	return d.queryEvents(`SELECT `+eventColumns+` FROM purge_events
	ORDER BY timestamp DESC, id DESC
	LIMIT ?`, limit)
}

// GetEventsByDateRange returns events within a time range
func (d *PurgeDB) GetEventsByDateRange(start, end time.Time) ([]EventRecord, error) {
	return d.queryEvents(`SELECT `+eventColumns+` FROM purge_events
	WHERE timestamp BETWEEN ? AND ?
	ORDER BY timestamp DESC, id DESC`, start.UTC(), end.UTC())
}

// GetEventsByRun returns the events of one run in the order they were emitted
func (d *PurgeDB) GetEventsByRun(runID string) ([]EventRecord, error) {
	return d.queryEvents(`SELECT `+eventColumns+` FROM purge_events
	WHERE run_id = ?
	ORDER BY id ASC`, runID)
}

// GetEventsByOutcome returns events filtered by outcome label
func (d *PurgeDB) GetEventsByOutcome(outcome string) ([]EventRecord, error) {
	return d.queryEvents(`SELECT `+eventColumns+` FROM purge_events
	WHERE outcome = ?
	ORDER BY timestamp DESC, id DESC`, outcome)
}

// GetEventsByAction returns events filtered by action type
func (d *PurgeDB) GetEventsByAction(action string) ([]EventRecord, error) {
	return d.queryEvents(`SELECT `+eventColumns+` FROM purge_events
	WHERE action = ?
	ORDER BY timestamp DESC, id DESC`, action)
}

// GetEventsByPath returns events whose path matches a LIKE pattern
func (d *PurgeDB) GetEventsByPath(pathPattern string) ([]EventRecord, error) {
	return d.queryEvents(`SELECT `+eventColumns+` FROM purge_events
	WHERE path LIKE ?
	ORDER BY timestamp DESC, id DESC`, pathPattern)
}

// GetLargestRemovals returns the N largest files actually removed
func (d *PurgeDB) GetLargestRemovals(limit int) ([]EventRecord, error) {
	return d.queryEvents(`SELECT `+eventColumns+` FROM purge_events
	WHERE action = 'DELETE' AND object_type = 'file'
	ORDER BY size DESC
	LIMIT ?`, limit)
}

// GetRecentEventsPaginated returns a page of recent events plus the total count
func (d *PurgeDB) GetRecentEventsPaginated(limit, offset int) ([]EventRecord, int, error) {
	var total int
	if err := d.db.QueryRow("SELECT COUNT(*) FROM purge_events").Scan(&total); err != nil {
		return nil, 0, err
	}

	records, err := d.queryEvents(`SELECT `+eventColumns+` FROM purge_events
	ORDER BY timestamp DESC, id DESC
	LIMIT ? OFFSET ?`, limit, offset)
	return records, total, err
}

// GetTotalBytesRemoved returns total bytes of files removed in a time range
func (d *PurgeDB) GetTotalBytesRemoved(start, end time.Time) (int64, error) {
	var total int64
	err := d.db.QueryRow(`
	SELECT COALESCE(SUM(size), 0)
	FROM purge_events
	WHERE action = 'DELETE' AND object_type = 'file' AND timestamp BETWEEN ? AND ?
	`, start.UTC(), end.UTC()).Scan(&total)
	return total, err
}

// GetCountByOutcome returns the number of events per outcome since a point in time
func (d *PurgeDB) GetCountByOutcome(since time.Time) (map[string]int, error) {
	return d.countBy("outcome", since)
}

// GetCountByAction returns the number of events per action since a point in time
func (d *PurgeDB) GetCountByAction(since time.Time) (map[string]int, error) {
	return d.countBy("action", since)
}

// countBy groups events on column, which must be a trusted column name.
func (d *PurgeDB) countBy(column string, since time.Time) (map[string]int, error) {
	rows, err := d.db.Query(`
	SELECT `+column+`, COUNT(*)
	FROM purge_events
	WHERE timestamp >= ?
	GROUP BY `+column, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return nil, err
		}
		counts[key] = count
	}
	return counts, rows.Err()
}

// EventStats holds aggregated statistics
type EventStats struct {
	Runs           int
	Removed        int
	Simulated      int
	Skipped        int
	Errors         int
	BytesRemoved   int64
	ByOutcome      map[string]int
	ByAction       map[string]int
	StartDate      time.Time
	EndDate        time.Time
	LastRunCleared *bool
}

// GetEventStats returns statistics for the last days days
func (d *PurgeDB) GetEventStats(days int) (*EventStats, error) {
	now := d.now()
	since := now.AddDate(0, 0, -days)

	stats := &EventStats{StartDate: since, EndDate: now}

	err := d.db.QueryRow(`
		SELECT
			COUNT(CASE WHEN action = 'DELETE' THEN 1 END),
			COUNT(CASE WHEN action = 'DRY_RUN' THEN 1 END),
			COUNT(CASE WHEN action = 'SKIP' THEN 1 END),
			COUNT(CASE WHEN action = 'ERROR' THEN 1 END)
		FROM purge_events
		WHERE timestamp >= ?
	`, since.UTC()).Scan(&stats.Removed, &stats.Simulated, &stats.Skipped, &stats.Errors)
	if err != nil {
		return nil, err
	}

	if err := d.db.QueryRow("SELECT COUNT(*) FROM purge_runs WHERE started_at >= ?", since.UTC()).Scan(&stats.Runs); err != nil {
		return nil, err
	}

	if stats.BytesRemoved, err = d.GetTotalBytesRemoved(since, now); err != nil {
		return nil, err
	}
	if stats.ByOutcome, err = d.GetCountByOutcome(since); err != nil {
		return nil, err
	}
	if stats.ByAction, err = d.GetCountByAction(since); err != nil {
		return nil, err
	}

	runs, err := d.GetRecentRuns(1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 1 {
		stats.LastRunCleared = runs[0].AllCleared
	}

	return stats, nil
}

// GetRecentRuns returns the N most recently started runs
func (d *PurgeDB) GetRecentRuns(limit int) ([]RunRecord, error) {
	rows, err := d.db.Query(`
	SELECT id, root, min_age_minutes, delete_enabled, continue_on_list_error,
	       started_at, finished_at, all_cleared, result, entries, failures,
	       bytes_removed, error_message
	FROM purge_runs
	ORDER BY started_at DESC
	LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var r RunRecord
		var finished sql.NullTime
		var cleared sql.NullBool
		var errMsg sql.NullString

		err := rows.Scan(
			&r.ID, &r.Root, &r.MinAgeMinutes, &r.DeleteEnabled, &r.ContinueOnListError,
			&r.StartedAt, &finished, &cleared, &r.Result, &r.Entries, &r.Failures,
			&r.BytesRemoved, &errMsg,
		)
		if err != nil {
			return nil, err
		}
		if finished.Valid {
			r.FinishedAt = &finished.Time
		}
		if cleared.Valid {
			r.AllCleared = &cleared.Bool
		}
		r.ErrorMessage = errMsg.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// DeleteOldRecords removes runs and events older than the given number of days
func (d *PurgeDB) DeleteOldRecords(olderThanDays int) (int64, error) {
	cutoff := d.now().AddDate(0, 0, -olderThanDays).UTC()

	tx, err := d.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.Exec("DELETE FROM purge_events WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, err
	}
	events, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	// Only runs with no remaining events go, so a long run straddling the
	// cutoff keeps its header.
	res, err = tx.Exec(`
	DELETE FROM purge_runs
	WHERE started_at < ?
	  AND NOT EXISTS (SELECT 1 FROM purge_events e WHERE e.run_id = purge_runs.id)
	`, cutoff)
	if err != nil {
		return 0, err
	}
	runs, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return events + runs, nil
}

// queryEvents is a helper function to execute queries and scan results
func (d *PurgeDB) queryEvents(query string, args ...any) ([]EventRecord, error) {
	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []EventRecord
	for rows.Next() {
		var r EventRecord
		var fileName, errMsg sql.NullString
		var age sql.NullInt64

		err := rows.Scan(
			&r.ID, &r.RunID, &r.Timestamp, &r.Action, &r.Outcome, &r.Path, &fileName,
			&r.ObjectType, &r.Size, &age, &r.Simulated, &errMsg,
		)
		if err != nil {
			return nil, err
		}

		r.FileName = fileName.String
		r.ErrorMessage = errMsg.String
		if age.Valid {
			r.AgeMinutes = &age.Int64
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
