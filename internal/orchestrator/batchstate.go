package orchestrator

import (
	"strconv"
	"sync"
	"time"

	"github.com/cantina-run/cantina/internal/dispatch"
	"github.com/cantina-run/cantina/internal/plan"
)

// batchState is the orchestrator's exclusively-owned record for one
// batch: its cancel signal and its mutable ParallelBatchStatus, guarded
// by one mutex so GetStatus readers never observe a torn update.
type batchState struct {
	mu     sync.Mutex
	cancel *dispatch.CancelSignal
	status ParallelBatchStatus

	slotIndexByTask map[int]int
}

func newBatchState(batchID dispatch.BatchId, execPlan *plan.ExecutionPlan) *batchState {
	return &batchState{
		cancel: dispatch.NewCancelSignal(),
		status: ParallelBatchStatus{
			BatchID:     batchID,
			Phase:       BatchQueued,
			PlanSummary: execPlan.Summary,
		},
	}
}

// seedSlots installs the initial slot set (spec.md §4.5.2) and builds the
// task_index -> slice-index lookup used by every later mutation.
func (b *batchState) seedSlots(execPlan *plan.ExecutionPlan, tasks []plan.Task) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.status.Agents = buildInitialSlots(execPlan, tasks)
	b.slotIndexByTask = make(map[int]int, len(b.status.Agents))
	for i, s := range b.status.Agents {
		b.slotIndexByTask[s.TaskIndex] = i
	}
}

func (b *batchState) setStarted(t time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status.StartedAt = &t
	b.status.Phase = BatchRunning
}

func (b *batchState) setFinished(t time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status.FinishedAt = &t
}

func (b *batchState) setPhase(phase BatchPhase) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status.Phase = phase
}

func (b *batchState) setCurrentPhase(phaseID int, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status.CurrentPhaseID = phaseID
	b.status.CurrentPhaseName = name
}

func (b *batchState) setError(msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status.Error = msg
}

// fail records a precondition-check failure: phase=failed and the given
// error message, matching spec.md §4.5.1's refusal contract.
func (b *batchState) fail(msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status.Phase = BatchFailed
	b.status.Error = msg
}

func (b *batchState) setVerification(v *plan.VerificationResult) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status.Verification = v
}

func (b *batchState) setFinalizeMessage(msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status.FinalizeMessage = msg
}

func (b *batchState) appendMerge(record MergeRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status.MergeResults = append(b.status.MergeResults, record)
}

// markAgentResult updates every slot owned by w to status, recording the
// worktree path/branch/error. StartedAt is set when a slot first moves
// from pending to running; FinishedAt when it becomes succeeded, failed,
// or cancelled.
func (b *batchState) markAgentResult(w *agentWork, status SlotStatus, path, branch, errMsg string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	for _, ti := range w.taskIndices {
		idx, ok := b.slotIndexByTask[ti]
		if !ok {
			continue
		}
		slot := &b.status.Agents[idx]
		if slot.Status == SlotPending && status == SlotRunning {
			slot.StartedAt = &now
		}
		slot.Status = status
		if path != "" {
			slot.WorktreePath = path
		}
		if branch != "" {
			slot.Branch = branch
		}
		slot.Error = errMsg
		if status == SlotSucceeded || status == SlotFailed || status == SlotCancelled {
			slot.FinishedAt = &now
		}
	}
}

// cancelAllPending marks every still-pending slot cancelled, for agents
// that never got a chance to start because the batch was cancelled
// between phases (spec.md §4.5.7: "agents that were pending become
// cancelled").
func (b *batchState) cancelAllPending() {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	for i := range b.status.Agents {
		if b.status.Agents[i].Status == SlotPending {
			b.status.Agents[i].Status = SlotCancelled
			b.status.Agents[i].FinishedAt = &now
		}
	}
}

func (b *batchState) anyAgentFailed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.status.Agents {
		if s.Status == SlotFailed {
			return true
		}
	}
	return false
}

// agentStatuses converts the current slots into the roster the
// verification prompt treats as ground truth (spec.md §4.4.3).
func (b *batchState) agentStatuses() []plan.AgentStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]plan.AgentStatus, 0, len(b.status.Agents))
	for _, s := range b.status.Agents {
		out = append(out, plan.AgentStatus{
			TaskText: s.TaskText,
			Status:   string(s.Status),
			Error:    s.Error,
			GroupID:  strconv.Itoa(s.GroupID),
			PhaseID:  strconv.Itoa(s.PhaseID),
		})
	}
	return out
}

// snapshot returns a deep-enough copy for external callers.
func (b *batchState) snapshot() *ParallelBatchStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	cp := b.status
	cp.Agents = append([]AgentSlot(nil), b.status.Agents...)
	cp.MergeResults = append([]MergeRecord(nil), b.status.MergeResults...)
	if b.status.StartedAt != nil {
		t := *b.status.StartedAt
		cp.StartedAt = &t
	}
	if b.status.FinishedAt != nil {
		t := *b.status.FinishedAt
		cp.FinishedAt = &t
	}
	return &cp
}
