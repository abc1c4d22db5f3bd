package purge

import (
	"fmt"
	"io"
)

// StatusWriter renders the line-oriented audit trail: a header, one line
// per visited entry, then a summary or a failure notice.
type StatusWriter struct {
	w io.Writer
}

func NewStatusWriter(w io.Writer) *StatusWriter {
	return &StatusWriter{w: w}
}

// Header prints the resolved invocation before the purge starts.
func (s *StatusWriter) Header(root string, opts Options) {
	fmt.Fprintln(s.w)
	fmt.Fprintf(s.w, "Root path: %s\n", root)
	fmt.Fprintf(s.w, "Min file age : %d mins\n", opts.MinAgeMinutes)
	fmt.Fprintf(s.w, "Delete Mode: %t\n", opts.DeleteEnabled)
	fmt.Fprintln(s.w)
}

func (s *StatusWriter) Observe(e Event) {
	fmt.Fprintln(s.w, e.Line())
}

func (s *StatusWriter) Summary(allCleared bool) {
	fmt.Fprintf(s.w, "All files deleted: %t\n", allCleared)
}

func (s *StatusWriter) Failure() {
	fmt.Fprintln(s.w, "An error occurred while deleting files.")
}
