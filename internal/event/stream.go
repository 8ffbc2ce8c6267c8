package event

import (
	"sync/atomic"
	"time"
)

// Stream is the event channel owned by a single dispatch run. Exactly one
// producer (the Process Supervisor) emits into it and exactly one
// consumer drains it; it is not a shared bus, so one agent's noisy output
// can never interleave with another's events.
type Stream struct {
	jobID string
	seq   atomic.Uint64
	ch    chan Event
}

// NewStream creates a Stream for jobID with the given channel buffer
// size. A buffer of 0 makes emission synchronous with consumption.
func NewStream(jobID string, buffer int) *Stream {
	return &Stream{
		jobID: jobID,
		ch:    make(chan Event, buffer),
	}
}

// Events returns the receive-only channel consumers should range over.
// The channel is closed after a terminal event (KindComplete) is sent.
func (s *Stream) Events() <-chan Event {
	return s.ch
}

// Start emits the stream's KindStart event.
func (s *Stream) Start() {
	s.emit(Event{Kind: KindStart})
}

// Output emits a KindOutput event carrying one captured line.
func (s *Stream) Output(line string) {
	s.emit(Event{Kind: KindOutput, Line: line})
}

// Status emits a KindStatus event carrying the job's new status name.
func (s *Stream) Status(status string) {
	s.emit(Event{Kind: KindStatus, Status: status})
}

// Error emits a non-terminal KindError event. Callers still must call
// Complete afterward to close the stream.
func (s *Stream) Error(err error) {
	s.emit(Event{Kind: KindError, Err: err})
}

// Complete emits the terminal KindComplete event and closes the channel.
// err is nil for a successful run. Complete must be called exactly once;
// calling it twice panics on the closed channel send, which is
// intentional: it signals a supervisor bug rather than silently hiding one.
func (s *Stream) Complete(err error) {
	s.CompleteWithStatus("", err)
}

// CompleteWithStatus is Complete plus an outcome label (e.g. "success",
// "failed", "cancelled", "token_limit") carried on the terminal event's
// Status field.
func (s *Stream) CompleteWithStatus(status string, err error) {
	s.emit(Event{Kind: KindComplete, Status: status, Err: err})
	close(s.ch)
}

func (s *Stream) emit(e Event) {
	e.JobID = s.jobID
	e.Seq = s.seq.Add(1)
	e.Timestamp = time.Now()
	s.ch <- e
}
