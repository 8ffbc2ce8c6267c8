package dispatch

import (
	"testing"
	"time"
)

func TestDispatchJob_Snapshot_DeepCopiesMutableFields(t *testing.T) {
	started := time.Now()
	job := &DispatchJob{
		JobID:      JobId("j1"),
		StartedAt:  &started,
		OutputTail: []string{"line one"},
		Result:     &DispatchResult{Success: true, Output: "hello"},
	}

	snap := job.Snapshot()

	*snap.StartedAt = started.Add(time.Hour)
	snap.OutputTail[0] = "mutated"
	snap.Result.Output = "mutated"

	if job.StartedAt.Equal(*snap.StartedAt) {
		t.Error("mutating snapshot's StartedAt leaked into the original")
	}
	if job.OutputTail[0] == "mutated" {
		t.Error("mutating snapshot's OutputTail leaked into the original")
	}
	if job.Result.Output == "mutated" {
		t.Error("mutating snapshot's Result leaked into the original")
	}
}

func TestDispatchJob_Snapshot_Nil(t *testing.T) {
	var job *DispatchJob
	if job.Snapshot() != nil {
		t.Error("Snapshot of a nil job should return nil")
	}
}

func TestCancelSignal_SettableOnce(t *testing.T) {
	c := NewCancelSignal()
	if c.Cancelled() {
		t.Fatal("new signal should not be cancelled")
	}
	c.Cancel()
	if !c.Cancelled() {
		t.Fatal("expected cancelled after Cancel()")
	}
	c.Cancel() // idempotent
	if !c.Cancelled() {
		t.Fatal("expected still cancelled after second Cancel()")
	}
}
