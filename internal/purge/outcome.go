package purge

// Outcome is the terminal state of a single visited entry.
type Outcome int

const (
	FileDeleted Outcome = iota + 1
	FileSkippedTooYoung
	FileDeleteFailed
	DirectoryDeleted
	DirectoryNotCleared
	DirectoryDeleteFailed
	// DirectoryUnreadable is only produced when listing failures are
	// converted into a local outcome instead of aborting the purge.
	DirectoryUnreadable
)

var outcomeLabels = map[Outcome]string{
	FileDeleted:           "file_deleted",
	FileSkippedTooYoung:   "file_too_young",
	FileDeleteFailed:      "file_delete_failed",
	DirectoryDeleted:      "directory_deleted",
	DirectoryNotCleared:   "directory_not_cleared",
	DirectoryDeleteFailed: "directory_delete_failed",
	DirectoryUnreadable:   "directory_unreadable",
}

var outcomeMessages = map[Outcome]string{
	FileDeleted:           "File deleted",
	FileSkippedTooYoung:   "File not old enough to be deleted",
	FileDeleteFailed:      "Failed to delete file",
	DirectoryDeleted:      "Directory deleted",
	DirectoryNotCleared:   "Failed to delete all files/directories within directory",
	DirectoryDeleteFailed: "Failed to delete directory",
	DirectoryUnreadable:   "Failed to read directory",
}

// AllOutcomes lists every outcome in declaration order.
func AllOutcomes() []Outcome {
	return []Outcome{
		FileDeleted,
		FileSkippedTooYoung,
		FileDeleteFailed,
		DirectoryDeleted,
		DirectoryNotCleared,
		DirectoryDeleteFailed,
		DirectoryUnreadable,
	}
}

// String returns a stable snake_case label used in logs, metrics and history.
func (o Outcome) String() string {
	if l, ok := outcomeLabels[o]; ok {
		return l
	}
	return "unknown"
}

// Message is the human-readable prefix of the status line.
func (o Outcome) Message() string {
	if m, ok := outcomeMessages[o]; ok {
		return m
	}
	return "Unknown outcome"
}

// Cleared reports whether the entry no longer blocks its parent's removal.
func (o Outcome) Cleared() bool {
	return o == FileDeleted || o == DirectoryDeleted
}

// Failed reports whether the outcome is an action failure rather than a policy skip.
func (o Outcome) Failed() bool {
	switch o {
	case FileDeleteFailed, DirectoryDeleteFailed, DirectoryUnreadable:
		return true
	}
	return false
}

// IsDir reports whether the outcome belongs to the directory branch.
func (o Outcome) IsDir() bool {
	switch o {
	case DirectoryDeleted, DirectoryNotCleared, DirectoryDeleteFailed, DirectoryUnreadable:
		return true
	}
	return false
}

// ObjectType returns "directory" or "file".
func (o Outcome) ObjectType() string {
	if o.IsDir() {
		return "directory"
	}
	return "file"
}

// ParseOutcome maps a label produced by String back to its Outcome.
func ParseOutcome(label string) (Outcome, bool) {
	for o, l := range outcomeLabels {
		if l == label {
			return o, true
		}
	}
	return 0, false
}
