package orchestrator

import (
	"context"
	"testing"

	"github.com/cantina-run/cantina/internal/logging"
)

// TestRunOneAgent_CommitsWorktreeRegardlessOfDispatchOutcome exercises the
// Lost-Work Rule at the unit level: commitAgentWork must run even when the
// dispatch itself fails (here, the fake worktree path does not exist on
// disk, so launching /bin/sh in it fails), since a failed agent may still
// have left real file changes behind that the merge/conflict step needs
// to see.
func TestRunOneAgent_CommitsWorktreeRegardlessOfDispatchOutcome(t *testing.T) {
	wt := newFakeWorktree()
	o := newTestOrchestrator(wt)
	o.dispatchCfg.PrimaryCLI = "/bin/sh"

	state := newTestBatchState()
	w := work(1, 1, 0, "", "")
	w.prompt = "irrelevant"

	o.runOneAgent(context.Background(), state, w, "HEAD", nil, logging.NopLogger())

	if w.worktreePath == "" {
		t.Fatal("expected a worktree to have been created")
	}

	var staged, committed bool
	for _, c := range wt.calls {
		if c == "stage_in "+w.worktreePath {
			staged = true
		}
		if c == "commit_in "+w.worktreePath {
			committed = true
		}
	}
	if !staged || !committed {
		t.Errorf("expected stage+commit in the agent's worktree, calls = %v", wt.calls)
	}

	snap := state.snapshot()
	slot := snap.Agents[state.slotIndexByTask[0]]
	if slot.Status != SlotFailed {
		t.Errorf("expected the slot to be marked failed since the CLI cannot launch in the fake worktree path, got %q", slot.Status)
	}
}

func TestRunOneAgent_CancelledBeforeDispatchNeverCreatesWorktree(t *testing.T) {
	wt := newFakeWorktree()
	o := newTestOrchestrator(wt)
	state := newTestBatchState()
	state.cancel.Cancel()

	w := work(1, 1, 0, "", "")
	o.runOneAgent(context.Background(), state, w, "HEAD", nil, logging.NopLogger())

	if len(wt.calls) != 0 {
		t.Errorf("expected no worktree operations once cancelled, got %v", wt.calls)
	}
	snap := state.snapshot()
	if snap.Agents[state.slotIndexByTask[0]].Status != SlotCancelled {
		t.Error("expected the slot to be marked cancelled")
	}
}

func TestRunPhaseAgents_DispatchesEveryUnit(t *testing.T) {
	wt := newFakeWorktree()
	o := newTestOrchestrator(wt)
	o.dispatchCfg.PrimaryCLI = "/bin/sh"
	state := newTestBatchState()

	units := []*agentWork{
		work(1, 1, 0, "", ""),
		work(1, 2, 1, "", ""),
		work(1, 3, 2, "", ""),
	}
	for _, u := range units {
		u.prompt = "x"
	}

	o.runPhaseAgents(context.Background(), state, units, "HEAD", 2, nil, logging.NopLogger())

	// All three must have been dispatched (worktree created) by the time
	// runPhaseAgents returns, regardless of the concurrency bound.
	created := 0
	for _, c := range wt.calls {
		if len(c) > 7 && c[:7] == "create " {
			created++
		}
	}
	if created != 3 {
		t.Errorf("created %d worktrees, want 3", created)
	}
}
