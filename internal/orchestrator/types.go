// Package orchestrator implements the Parallel Orchestrator: it executes
// an ExecutionPlan end-to-end across one or more phases, each phase
// dispatching a bounded-concurrency pool of agent work units into
// isolated git worktrees, merging their branches back into the main
// branch in a deterministic order, and recording a ParallelBatchStatus
// for the whole run.
package orchestrator

import (
	"sort"
	"time"

	"github.com/cantina-run/cantina/internal/dispatch"
	"github.com/cantina-run/cantina/internal/plan"
	"github.com/cantina-run/cantina/internal/worktree"
)

// BatchPhase is the overall lifecycle state of one parallel batch.
type BatchPhase string

const (
	BatchQueued     BatchPhase = "queued"
	BatchRunning    BatchPhase = "running"
	BatchVerifying  BatchPhase = "verifying"
	BatchFinalizing BatchPhase = "finalizing"
	BatchComplete   BatchPhase = "complete"
	BatchFailed     BatchPhase = "failed"
	BatchCancelled  BatchPhase = "cancelled"
)

// SlotStatus is the lifecycle state of one AgentSlot.
type SlotStatus string

const (
	SlotPending   SlotStatus = "pending"
	SlotRunning   SlotStatus = "running"
	SlotSucceeded SlotStatus = "succeeded"
	SlotFailed    SlotStatus = "failed"
	SlotCancelled SlotStatus = "cancelled"
	SlotSkipped   SlotStatus = "skipped"
)

// AgentSlot is one task_index's view of the batch: exactly one slot
// exists per unique task_index referenced across the plan's phases.
type AgentSlot struct {
	TaskIndex    int
	TaskText     string
	Prompt       string
	GroupID      int
	PhaseID      int
	Status       SlotStatus
	WorktreePath string
	Branch       string
	StartedAt    *time.Time
	FinishedAt   *time.Time
	Error        string
}

// MergeRecord is one agent branch's merge outcome, in the order it was
// applied.
type MergeRecord struct {
	PhaseID          int
	GroupID          int
	TaskIndex        int
	Branch           string
	Success          bool
	ConflictFiles    []string
	ResolutionMethod worktree.ResolutionMethod
	Message          string
}

// ParallelBatchStatus is the complete, point-in-time snapshot of one
// batch's execution. Callers receive a copy; mutating it has no effect
// on the orchestrator's own state.
type ParallelBatchStatus struct {
	BatchID          dispatch.BatchId
	Phase            BatchPhase
	CurrentPhaseID   int
	CurrentPhaseName string
	Agents           []AgentSlot
	MergeResults     []MergeRecord
	Verification     *plan.VerificationResult
	FinalizeMessage  string
	PlanSummary      string
	StartedAt        *time.Time
	FinishedAt       *time.Time
	Error            string
}

// agentWork is one schedulable work unit within a phase: one
// AgentAssignment, executed as a single dispatch in a single worktree.
// An assignment covering several task_indices shares one worktree/branch
// and one commit, keyed by its lowest task_index, since the indices share
// one agent_prompt and must land as a single unit of work for the
// Lost-Work Rule to hold.
type agentWork struct {
	phaseID      int
	groupID      int
	taskIndices  []int
	repTaskIndex int
	prompt       string

	worktreePath string
	branch       string
	succeeded    bool
	cancelled    bool
}

// buildAgentWork produces one agentWork per agent assignment in phase.
func buildAgentWork(phase plan.ExecutionPhase) []*agentWork {
	out := make([]*agentWork, 0, len(phase.Agents))
	for _, a := range phase.Agents {
		out = append(out, &agentWork{
			phaseID:      phase.PhaseID,
			groupID:      a.AgentID,
			taskIndices:  append([]int(nil), a.TaskIndices...),
			repTaskIndex: minInt(a.TaskIndices),
			prompt:       a.AgentPrompt,
		})
	}
	return out
}

func minInt(values []int) int {
	if len(values) == 0 {
		return 0
	}
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

// sortedPhases returns execPlan's phases in ascending phase_id order,
// without mutating the plan.
func sortedPhases(execPlan *plan.ExecutionPlan) []plan.ExecutionPhase {
	phases := append([]plan.ExecutionPhase(nil), execPlan.Phases...)
	sort.Slice(phases, func(i, j int) bool { return phases[i].PhaseID < phases[j].PhaseID })
	return phases
}

// buildInitialSlots implements slot construction (spec.md §4.5.2): one
// AgentSlot per unique task_index across all phases, first occurrence
// wins, ordered by (phase_id, group_id, task_index).
func buildInitialSlots(execPlan *plan.ExecutionPlan, tasks []plan.Task) []AgentSlot {
	seen := make(map[int]bool)
	var slots []AgentSlot

	for _, phase := range sortedPhases(execPlan) {
		for _, a := range phase.Agents {
			for _, ti := range a.TaskIndices {
				if seen[ti] {
					continue
				}
				seen[ti] = true

				text := ""
				if ti >= 0 && ti < len(tasks) {
					text = tasks[ti].Text
				}
				slots = append(slots, AgentSlot{
					TaskIndex: ti,
					TaskText:  text,
					Prompt:    a.AgentPrompt,
					GroupID:   a.AgentID,
					PhaseID:   phase.PhaseID,
					Status:    SlotPending,
				})
			}
		}
	}

	sort.Slice(slots, func(i, j int) bool {
		if slots[i].PhaseID != slots[j].PhaseID {
			return slots[i].PhaseID < slots[j].PhaseID
		}
		if slots[i].GroupID != slots[j].GroupID {
			return slots[i].GroupID < slots[j].GroupID
		}
		return slots[i].TaskIndex < slots[j].TaskIndex
	})

	return slots
}
