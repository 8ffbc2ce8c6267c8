package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/cantina-run/cantina/internal/logging"
	"github.com/cantina-run/cantina/internal/plan"
)

// RoadmapUpdater is the external collaborator finalize asks to mark a
// task complete once its agent slot has succeeded, whether or not every
// merge in the batch was clean. It is intentionally
// the only contact point between this package and however a caller
// chooses to parse and persist its own task list; the orchestrator knows
// nothing about that format.
type RoadmapUpdater interface {
	// MarkComplete attempts to match taskText against the caller's
	// pending items and, on a match, marks it done. matched reports
	// whether a pending item was found, regardless of whether marking
	// it complete also succeeded.
	MarkComplete(ctx context.Context, taskText string) (matched bool, err error)
}

// finalize implements spec.md §4.5.5: commit any stray uncommitted
// changes left on the main branch after all merges, then best-effort
// fuzzy-match each succeeded task's text against the roadmap.
func (o *Orchestrator) finalize(state *batchState, tasks []plan.Task, logger *logging.Logger) {
	var parts []string

	clean, err := o.wt.IsWorkingTreeClean()
	if err != nil {
		logger.Warn("failed to check main tree before finalize commit", "error", err.Error())
	} else if !clean {
		if serr := o.wt.StageAll(); serr != nil {
			logger.Warn("failed to stage stray changes", "error", serr.Error())
		} else {
			committed, sha, cerr := o.wt.Commit(fmt.Sprintf("Finalize batch %s", state.status.BatchID))
			if cerr != nil {
				logger.Warn("failed to commit stray changes", "error", cerr.Error())
			} else if committed {
				parts = append(parts, fmt.Sprintf("committed stray changes as %s", sha))
			}
		}
	}

	if o.roadmap != nil {
		marked := 0
		for _, slot := range state.snapshot().Agents {
			if slot.Status != SlotSucceeded {
				continue
			}
			matched, merr := o.roadmap.MarkComplete(context.Background(), slot.TaskText)
			if merr != nil {
				logger.Warn("roadmap update failed", "task", slot.TaskText, "error", merr.Error())
				continue
			}
			if matched {
				marked++
			}
		}
		if marked > 0 {
			parts = append(parts, fmt.Sprintf("marked %d roadmap item(s) complete", marked))
		}
	}

	if len(parts) == 0 {
		parts = append(parts, "nothing to finalize")
	}
	state.setFinalizeMessage(strings.Join(parts, "; "))
}
