package orchestrator

import (
	"testing"

	"github.com/cantina-run/cantina/internal/plan"
)

func samplePlan() *plan.ExecutionPlan {
	return &plan.ExecutionPlan{
		Summary: "two phases",
		Phases: []plan.ExecutionPhase{
			{
				PhaseID:  1,
				Name:     "phase one",
				Parallel: true,
				Agents: []plan.AgentAssignment{
					{AgentID: 1, TaskIndices: []int{0}, AgentPrompt: "do task 0"},
					{AgentID: 2, TaskIndices: []int{1, 2}, AgentPrompt: "do tasks 1 and 2"},
				},
			},
			{
				PhaseID:  2,
				Name:     "phase two",
				Parallel: false,
				Agents: []plan.AgentAssignment{
					{AgentID: 3, TaskIndices: []int{3}, AgentPrompt: "do task 3"},
				},
			},
		},
	}
}

func sampleTasks() []plan.Task {
	return []plan.Task{
		{Text: "task zero"},
		{Text: "task one"},
		{Text: "task two"},
		{Text: "task three"},
	}
}

func TestBuildInitialSlots_OneSlotPerUniqueTaskIndex(t *testing.T) {
	slots := buildInitialSlots(samplePlan(), sampleTasks())
	if len(slots) != 4 {
		t.Fatalf("got %d slots, want 4", len(slots))
	}

	wantOrder := []int{0, 1, 2, 3}
	for i, s := range slots {
		if s.TaskIndex != wantOrder[i] {
			t.Errorf("slot %d: task_index = %d, want %d", i, s.TaskIndex, wantOrder[i])
		}
		if s.Status != SlotPending {
			t.Errorf("slot %d: status = %q, want pending", i, s.Status)
		}
	}

	if slots[1].GroupID != 2 || slots[2].GroupID != 2 {
		t.Errorf("task indices 1 and 2 should share group_id 2 (one assignment, two indices)")
	}
	if slots[1].TaskText != "task one" {
		t.Errorf("task_text = %q, want %q", slots[1].TaskText, "task one")
	}
}

func TestBuildInitialSlots_DuplicateTaskIndexFirstOccurrenceWins(t *testing.T) {
	execPlan := &plan.ExecutionPlan{
		Phases: []plan.ExecutionPhase{
			{PhaseID: 1, Agents: []plan.AgentAssignment{{AgentID: 1, TaskIndices: []int{0}, AgentPrompt: "first"}}},
			{PhaseID: 2, Agents: []plan.AgentAssignment{{AgentID: 2, TaskIndices: []int{0}, AgentPrompt: "second"}}},
		},
	}

	slots := buildInitialSlots(execPlan, []plan.Task{{Text: "only task"}})
	if len(slots) != 1 {
		t.Fatalf("got %d slots, want 1 (task_index 0 seen twice)", len(slots))
	}
	if slots[0].PhaseID != 1 || slots[0].Prompt != "first" {
		t.Errorf("expected the first occurrence (phase 1) to win, got phase=%d prompt=%q", slots[0].PhaseID, slots[0].Prompt)
	}
}

func TestBuildAgentWork_KeyedByLowestTaskIndex(t *testing.T) {
	phase := samplePlan().Phases[0]
	work := buildAgentWork(phase)
	if len(work) != 2 {
		t.Fatalf("got %d work units, want 2 (one per assignment)", len(work))
	}
	if work[1].repTaskIndex != 1 {
		t.Errorf("repTaskIndex = %d, want 1 (min of [1,2])", work[1].repTaskIndex)
	}
	if len(work[1].taskIndices) != 2 {
		t.Errorf("expected the multi-index assignment to keep both indices, got %v", work[1].taskIndices)
	}
}

func TestSortedPhases_DoesNotMutatePlanAndSortsAscending(t *testing.T) {
	execPlan := &plan.ExecutionPlan{
		Phases: []plan.ExecutionPhase{
			{PhaseID: 2},
			{PhaseID: 1},
		},
	}
	sorted := sortedPhases(execPlan)
	if sorted[0].PhaseID != 1 || sorted[1].PhaseID != 2 {
		t.Errorf("sortedPhases order = %v, want ascending", sorted)
	}
	if execPlan.Phases[0].PhaseID != 2 {
		t.Error("sortedPhases must not mutate the original plan's phase order")
	}
}
