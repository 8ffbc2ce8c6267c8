// Package dispatch implements the Process Supervisor and the Dispatch Job
// Store: launching one AI CLI child process per job, streaming its output,
// enforcing timeouts and cancellation, and classifying the outcome.
package dispatch

import (
	"sync/atomic"
	"time"
)

// JobId uniquely identifies a DispatchJob within one Store.
type JobId string

// BatchId identifies one parallel batch; used to derive worktree branch
// names elsewhere in the system.
type BatchId string

// Provider identifies which CLI produced a DispatchResult.
type Provider string

const (
	ProviderPrimary   Provider = "primary"
	ProviderFallbackA Provider = "fallback_A"
	ProviderFallbackB Provider = "fallback_B"
)

// Status is the coarse-grained lifecycle state of a DispatchJob.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Phase is the fine-grained lifecycle state of a DispatchJob.
type Phase string

const (
	PhaseQueued     Phase = "queued"
	PhaseLaunching  Phase = "launching"
	PhaseRunning    Phase = "running"
	PhaseVerifying  Phase = "verifying"
	PhaseComplete   Phase = "complete"
	PhaseFailed     Phase = "failed"
	PhaseCancelled  Phase = "cancelled"
	PhaseCancelling Phase = "cancelling"
)

// DispatchJob is one record of one primary or fallback launch, owned
// exclusively by the Store that created it.
//
// Invariant: Done implies Status is Succeeded or Failed. FinishedAt is set
// if and only if Done is true, and StartedAt <= FinishedAt. Once Done,
// Result/OutputTail/LogFile are immutable.
type DispatchJob struct {
	JobID         JobId
	Provider      Provider
	CreatedAt     time.Time
	StartedAt     *time.Time
	FinishedAt    *time.Time
	Status        Status
	Phase         Phase
	Message       string
	PromptPreview string
	LogFile       string
	OutputTail    []string
	Result        *DispatchResult
	Done          bool
}

// Snapshot returns a deep-enough copy of the job so callers never observe
// or mutate a store's internal state directly.
func (j *DispatchJob) Snapshot() *DispatchJob {
	if j == nil {
		return nil
	}
	cp := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		cp.FinishedAt = &t
	}
	if j.OutputTail != nil {
		cp.OutputTail = append([]string(nil), j.OutputTail...)
	}
	if j.Result != nil {
		r := *j.Result
		cp.Result = &r
	}
	return &cp
}

// DispatchResult is the classified outcome of one Process Supervisor run.
type DispatchResult struct {
	Success           bool
	SessionID         string
	OutputFile        string
	Output            string
	RawOutput         string
	Error             string
	ErrorCode         string
	TokenLimitReached bool
	Cancelled         bool
	Provider          Provider
}

// CancelSignal is a settable-once, cheaply pollable cancellation flag
// shared between a batch's orchestrator and every supervisor it owns.
type CancelSignal struct {
	flag atomic.Bool
}

// NewCancelSignal returns an unset CancelSignal.
func NewCancelSignal() *CancelSignal {
	return &CancelSignal{}
}

// Cancel sets the signal. Safe to call more than once or concurrently.
func (c *CancelSignal) Cancel() {
	c.flag.Store(true)
}

// Cancelled reports whether Cancel has been called.
func (c *CancelSignal) Cancelled() bool {
	return c.flag.Load()
}
