package orchestrator

import (
	"fmt"
	"sort"

	"github.com/cantina-run/cantina/internal/logging"
	"github.com/cantina-run/cantina/internal/worktree"
)

// mainBranch is the branch every agent branch merges back into.
const mainBranch = "main"

// mergePhase merges every agentWork's branch into the main branch in
// ascending (phase_id, group_id, task_index) order (spec.md §4.5.3's
// deterministic merge ordering, §8's "merge order determinism" property).
// A conflict on one branch aborts only that merge; remaining branches are
// still processed. Returns false if any merge in the phase conflicted or
// otherwise failed.
func (o *Orchestrator) mergePhase(state *batchState, work []*agentWork, watcher *concurrentEditWatcher, logger *logging.Logger) bool {
	ordered := append([]*agentWork(nil), work...)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].phaseID != ordered[j].phaseID {
			return ordered[i].phaseID < ordered[j].phaseID
		}
		if ordered[i].groupID != ordered[j].groupID {
			return ordered[i].groupID < ordered[j].groupID
		}
		return ordered[i].repTaskIndex < ordered[j].repTaskIndex
	})

	allOK := true

	for _, w := range ordered {
		if w.cancelled || w.worktreePath == "" {
			continue
		}

		agentLogger := logger.WithAgent(w.phaseID, w.groupID, w.repTaskIndex)

		if _, _, err := o.wt.RemoveWorktree(w.worktreePath, true); err != nil {
			agentLogger.Warn("failed to remove worktree before merge", "error", err.Error())
		}

		success, message, conflicts, err := o.wt.MergeBranch(w.branch, mainBranch)
		record := MergeRecord{
			PhaseID:       w.phaseID,
			GroupID:       w.groupID,
			TaskIndex:     w.repTaskIndex,
			Branch:        w.branch,
			Success:       success,
			ConflictFiles: conflicts,
			Message:       message,
		}

		if !success {
			allOK = false
			record.ResolutionMethod = worktree.ResolutionConflict
			if err != nil {
				record.Message = err.Error()
			}
			agentLogger.Warn("merge conflict, continuing with remaining branches", "branch", w.branch, "conflict_files", conflicts)
			state.appendMerge(record)
			continue
		}

		record.ResolutionMethod = worktree.ResolutionClean
		if watcher != nil {
			if hints := watcher.collisions(w.repTaskIndex); len(hints) > 0 {
				record.Message = fmt.Sprintf("%s (also touched by other agents: %v)", record.Message, hints)
			}
		}
		state.appendMerge(record)

		if err := o.wt.DeleteBranch(w.branch); err != nil {
			agentLogger.Warn("failed to delete merged branch", "branch", w.branch, "error", err.Error())
		}
	}

	return allOK
}
