package scheduler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
)

// Report summarizes one purge run. It is also the content of the state file.
type Report struct {
	RunID               string    `json:"run_id"`
	Root                string    `json:"root"`
	MinAgeMinutes       uint32    `json:"min_age_minutes"`
	DeleteEnabled       bool      `json:"delete_enabled"`
	ContinueOnListError bool      `json:"continue_on_list_error"`
	StartedAt           time.Time `json:"started_at"`
	FinishedAt          time.Time `json:"finished_at"`
	DurationSeconds     float64   `json:"duration_seconds"`
	AllCleared          bool      `json:"all_cleared"`
	Result              string    `json:"result"`
	Entries             int       `json:"entries"`
	Failures            int       `json:"failures"`
	// BytesRemoved counts files removed, or that would have been in a dry run.
	BytesRemoved    int64  `json:"bytes_removed"`
	FreeBytesBefore int64  `json:"free_bytes_before,omitempty"`
	FreeBytesAfter  int64  `json:"free_bytes_after,omitempty"`
	Error           string `json:"error,omitempty"`
}

// WriteState atomically replaces path with the JSON form of report.
func WriteState(path string, report *Report) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	pendingFile, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("create pending state file: %w", err)
	}
	defer pendingFile.Cleanup()

	enc := json.NewEncoder(pendingFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("write state: %w", err)
	}

	// fsync + rename
	if err := pendingFile.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace state file: %w", err)
	}
	return nil
}

// LoadState reads a state file written by WriteState.
func LoadState(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("decode state file %s: %w", path, err)
	}
	return &report, nil
}
