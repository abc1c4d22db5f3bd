package purge

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Event describes what happened to one visited entry.
type Event struct {
	Path    string
	Outcome Outcome
	Size    int64
	// AgeMinutes is -1 when the age was not evaluated or could not be read.
	AgeMinutes int64
	// Simulated is true when removal was skipped because deletion is disabled.
	Simulated bool
	Err       error
}

// Line renders the status line for the event.
func (e Event) Line() string {
	return fmt.Sprintf("%s: %s", e.Outcome.Message(), e.Path)
}

// Action maps the outcome onto the DELETE / DRY_RUN / SKIP / ERROR vocabulary
// used by the deletion history.
func (e Event) Action() string {
	switch {
	case e.Outcome.Cleared() && e.Simulated:
		return "DRY_RUN"
	case e.Outcome.Cleared():
		return "DELETE"
	case e.Outcome.Failed():
		return "ERROR"
	default:
		return "SKIP"
	}
}

// Observer receives one event per visited entry, in visit order.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

type multiObserver []Observer

func (m multiObserver) Observe(e Event) {
	for _, o := range m {
		o.Observe(e)
	}
}

// Observers fans events out to every non-nil observer in order.
func Observers(obs ...Observer) Observer {
	out := make(multiObserver, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}

// Tally counts outcomes across a purge.
type Tally struct {
	Counts       map[Outcome]int
	BytesRemoved int64
}

func NewTally() *Tally {
	return &Tally{Counts: make(map[Outcome]int)}
}

func (t *Tally) Observe(e Event) {
	t.Counts[e.Outcome]++
	if e.Outcome == FileDeleted {
		t.BytesRemoved += e.Size
	}
}

// Total returns the number of visited entries.
func (t *Tally) Total() int {
	n := 0
	for _, c := range t.Counts {
		n += c
	}
	return n
}

// Failures returns the number of entries whose removal failed.
func (t *Tally) Failures() int {
	n := 0
	for o, c := range t.Counts {
		if o.Failed() {
			n += c
		}
	}
	return n
}

// LogObserver writes every event to a structured logger.
type LogObserver struct {
	logger zerolog.Logger
}

func NewLogObserver(logger zerolog.Logger) *LogObserver {
	return &LogObserver{logger: logger}
}

func (o *LogObserver) Observe(e Event) {
	var ev *zerolog.Event
	switch {
	case e.Outcome.Failed():
		ev = o.logger.Warn().Err(e.Err)
	case e.Outcome.Cleared():
		ev = o.logger.Info()
	default:
		ev = o.logger.Debug()
	}

	ev = ev.Str("path", e.Path).
		Str("outcome", e.Outcome.String()).
		Str("action", e.Action()).
		Str("object", e.Outcome.ObjectType()).
		Bool("simulated", e.Simulated)
	if !e.Outcome.IsDir() {
		ev = ev.Int64("size", e.Size)
	}
	if e.AgeMinutes >= 0 {
		ev = ev.Int64("age_minutes", e.AgeMinutes)
	}
	ev.Msg(e.Outcome.Message())
}
