package purge

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"stale-purge/internal/fsops"
)

// ErrListDirectory wraps every failure to list a directory's children.
var ErrListDirectory = errors.New("list directory")

// Options controls a single purge invocation. It is never mutated during the recursion.
type Options struct {
	MinAgeMinutes uint32
	DeleteEnabled bool
	// ContinueOnListError turns an unreadable subdirectory into a
	// DirectoryUnreadable outcome instead of aborting the whole purge.
	ContinueOnListError bool
}

// Throttler is called once per visited entry.
type Throttler interface {
	Throttle()
}

// Engine walks a tree depth-first, removing stale files and then every
// directory whose whole subtree was cleared.
type Engine struct {
	fs       fsops.FS
	observer Observer
	throttle Throttler
	now      func() time.Time
}

// NewEngine creates an engine over fsys. observer may be nil.
func NewEngine(fsys fsops.FS, observer Observer) *Engine {
	if observer == nil {
		observer = Observers()
	}
	return &Engine{
		fs:       fsys,
		observer: observer,
		now:      time.Now,
	}
}

// SetClock replaces the wall clock used for age checks
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// SetThrottler installs a per-entry throttle (nil disables throttling)
func (e *Engine) SetThrottler(t Throttler) {
	e.throttle = t
}

// Purge visits every entry beneath root and reports whether all of them
// were removed (or would have been, when deletion is disabled). root itself
// is never removed. A listing failure aborts the purge with an error wrapping
// ErrListDirectory unless opts.ContinueOnListError is set; failures to list
// root itself are always returned.
func (e *Engine) Purge(root string, opts Options) (bool, error) {
	return e.purgeDir(filepath.Clean(root), opts)
}

func (e *Engine) purgeDir(dir string, opts Options) (bool, error) {
	// ReadDir returns only after the listing handle is closed, so nothing
	// below removes entries while the directory is still open.
	entries, err := e.fs.ReadDir(dir)
	if err != nil {
		return false, fmt.Errorf("%w %s: %w", ErrListDirectory, dir, err)
	}

	allCleared := true
	for _, entry := range entries {
		if e.throttle != nil {
			e.throttle.Throttle()
		}

		path := filepath.Join(dir, entry.Name())
		var ev Event
		if entry.IsDir() {
			ev, err = e.purgeChildDir(path, opts)
			if err != nil {
				return false, err
			}
		} else {
			ev = e.purgeFile(path, opts)
		}

		e.observer.Observe(ev)
		if !ev.Outcome.Cleared() {
			allCleared = false
		}
	}
	return allCleared, nil
}

func (e *Engine) purgeChildDir(path string, opts Options) (Event, error) {
	ev := Event{Path: path, AgeMinutes: -1, Simulated: !opts.DeleteEnabled}

	cleared, err := e.purgeDir(path, opts)
	if err != nil {
		// Deeper failures were already converted at their own level, so err
		// here always concerns path itself.
		if !opts.ContinueOnListError {
			return ev, err
		}
		ev.Outcome = DirectoryUnreadable
		ev.Err = err
		return ev, nil
	}

	if !cleared {
		ev.Outcome = DirectoryNotCleared
		return ev, nil
	}

	if opts.DeleteEnabled {
		if err := e.fs.RemoveDir(path); err != nil {
			ev.Outcome = DirectoryDeleteFailed
			ev.Err = err
			return ev, nil
		}
	}
	ev.Outcome = DirectoryDeleted
	return ev, nil
}

func (e *Engine) purgeFile(path string, opts Options) Event {
	ev := Event{Path: path, AgeMinutes: -1, Simulated: !opts.DeleteEnabled}

	info, err := e.fs.Lstat(path)
	if err != nil {
		// Unreadable metadata never qualifies an entry for removal.
		ev.Outcome = FileSkippedTooYoung
		ev.Err = err
		return ev
	}
	ev.Size = info.Size()

	now := e.now()
	if age, ok := AgeMinutes(info.ModTime(), now); ok {
		ev.AgeMinutes = age
	}
	if !IsOldEnough(info.ModTime(), now, opts.MinAgeMinutes) {
		ev.Outcome = FileSkippedTooYoung
		return ev
	}

	if opts.DeleteEnabled {
		if err := e.fs.RemoveFile(path); err != nil {
			ev.Outcome = FileDeleteFailed
			ev.Err = err
			return ev
		}
	}
	ev.Outcome = FileDeleted
	return ev
}

// IsListError reports whether err came from a failed directory listing.
func IsListError(err error) bool {
	return errors.Is(err, ErrListDirectory)
}
