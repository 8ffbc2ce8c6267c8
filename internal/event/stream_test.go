package event

import (
	"errors"
	"testing"
)

func TestStream_EmitsInSequenceOrder(t *testing.T) {
	s := NewStream("job-1", 8)

	s.Start()
	s.Output("line one")
	s.Status("running")
	s.Complete(nil)

	var got []Event
	for e := range s.Events() {
		got = append(got, e)
	}

	if len(got) != 4 {
		t.Fatalf("got %d events, want 4", len(got))
	}

	wantKinds := []Kind{KindStart, KindOutput, KindStatus, KindComplete}
	for i, e := range got {
		if e.Kind != wantKinds[i] {
			t.Errorf("event %d kind = %s, want %s", i, e.Kind, wantKinds[i])
		}
		if e.Seq != uint64(i+1) {
			t.Errorf("event %d seq = %d, want %d", i, e.Seq, i+1)
		}
		if e.JobID != "job-1" {
			t.Errorf("event %d JobID = %q, want job-1", i, e.JobID)
		}
	}
}

func TestStream_ErrorThenComplete(t *testing.T) {
	s := NewStream("job-2", 8)
	cause := errors.New("boom")

	s.Start()
	s.Error(cause)
	s.Complete(cause)

	var last Event
	for e := range s.Events() {
		last = e
	}

	if last.Kind != KindComplete {
		t.Fatalf("last event kind = %s, want complete", last.Kind)
	}
	if !errors.Is(last.Err, cause) {
		t.Errorf("last.Err = %v, want %v", last.Err, cause)
	}
}

func TestStream_ClosesChannelAfterComplete(t *testing.T) {
	s := NewStream("job-3", 1)
	s.Complete(nil)

	first, ok := <-s.Events()
	if !ok || first.Kind != KindComplete {
		t.Fatalf("expected to receive the complete event, got %+v, ok=%v", first, ok)
	}

	_, ok = <-s.Events()
	if ok {
		t.Fatal("expected channel closed after complete event drained")
	}
}

func TestStream_CompleteWithStatus_CarriesLabel(t *testing.T) {
	s := NewStream("job-4", 4)
	s.Start()
	s.CompleteWithStatus("token_limit", nil)

	var last Event
	for e := range s.Events() {
		last = e
	}
	if last.Status != "token_limit" {
		t.Errorf("last.Status = %q, want token_limit", last.Status)
	}
}

func TestKind_IsTerminal(t *testing.T) {
	if !KindComplete.IsTerminal() {
		t.Error("KindComplete should be terminal")
	}
	for _, k := range []Kind{KindStart, KindOutput, KindStatus, KindError} {
		if k.IsTerminal() {
			t.Errorf("%s should not be terminal", k)
		}
	}
}
