// Package event defines the event stream emitted by a single dispatch run:
// a monotonically sequenced series of start/output/status/error/complete
// events delivered over one channel owned by that run's caller.
package event

import "time"

// Kind identifies what an Event carries.
type Kind string

const (
	// KindStart is emitted once, immediately after the child process
	// starts.
	KindStart Kind = "start"
	// KindOutput is emitted for each line of merged stdout/stderr
	// captured from the child process.
	KindOutput Kind = "output"
	// KindStatus is emitted when the supervisor's view of the job's
	// state changes (e.g. "running" -> "stalled").
	KindStatus Kind = "status"
	// KindError is emitted when the run ends abnormally. It precedes
	// the terminal KindComplete event.
	KindError Kind = "error"
	// KindComplete is the terminal event for a run; exactly one is
	// emitted per stream, always last.
	KindComplete Kind = "complete"
)

// Event is a single entry in a dispatch run's event stream. Seq is
// assigned in strictly increasing order starting at 1 by the Stream that
// produced the event, so consumers can detect gaps or reordering.
type Event struct {
	Kind      Kind
	Seq       uint64
	JobID     string
	Timestamp time.Time
	// Line holds the captured output text for KindOutput events.
	Line string
	// Status holds the job status name for KindStatus events.
	Status string
	// Err holds the terminal error, if any, for KindError/KindComplete
	// events. Nil for a successful completion.
	Err error
}

// IsTerminal reports whether this event kind ends the stream.
func (k Kind) IsTerminal() bool {
	return k == KindComplete
}
