package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cantina-run/cantina/internal/dispatch"
	"github.com/cantina-run/cantina/internal/logging"
	"github.com/cantina-run/cantina/internal/plan"
)

// runBatch drives one batch's whole lifecycle: phases in ascending
// phase_id order, then verification, then finalization. It always runs
// cleanup on the way out, whatever the outcome, per spec.md §4.5.6.
func (o *Orchestrator) runBatch(ctx context.Context, state *batchState, tasks []plan.Task, execPlan *plan.ExecutionPlan, maxParallel int) {
	logger := o.logger.WithBatch(string(state.status.BatchID))

	state.setStarted(time.Now())

	defer func() {
		logger.WithPhase("cleanup").Info("cleaning up batch worktrees")
		if _, err := o.wt.CleanupBatch(string(state.status.BatchID)); err != nil {
			logger.WithPhase("cleanup").Warn("cleanup_batch failed", "error", err.Error())
		}
		state.setFinished(time.Now())
	}()

	var watcher *concurrentEditWatcher
	if o.orchCfg.WatchForConcurrentEdits {
		watcher = newConcurrentEditWatcher(logger)
		defer watcher.close()
	}

	mergeFailed := false
	for _, phase := range sortedPhases(execPlan) {
		if state.cancel.Cancelled() {
			break
		}

		state.setCurrentPhase(phase.PhaseID, phase.Name)
		phaseLogger := logger.WithPhase("execution").With("phase_id", phase.PhaseID, "phase_name", phase.Name)

		baseRef, err := o.wt.CurrentRef()
		if err != nil {
			phaseLogger.Error("failed to resolve base ref", "error", err.Error())
			state.setError(fmt.Sprintf("failed to resolve base ref for phase %d: %v", phase.PhaseID, err))
			break
		}

		work := buildAgentWork(phase)
		concurrency := 1
		if phase.Parallel {
			concurrency = maxParallel
		}
		o.runPhaseAgents(ctx, state, work, baseRef, concurrency, watcher, phaseLogger)

		if state.cancel.Cancelled() {
			break
		}

		if !o.mergePhase(state, work, watcher, logger.WithPhase("merge")) {
			state.setPhase(BatchFailed)
			mergeFailed = true
		}
	}

	if state.cancel.Cancelled() {
		state.cancelAllPending()
		state.setPhase(BatchCancelled)
		return
	}

	state.setPhase(BatchVerifying)
	verLogger := logger.WithPhase("verification")
	verification, verr := plan.VerifyCompletion(
		ctx,
		o.planStore,
		o.dispatchCfg,
		state.cancel,
		o.projectPath,
		execPlan,
		nil,
		state.agentStatuses(),
	)
	if verr != nil {
		verLogger.Warn("verification dispatch failed, recording and continuing", "error", verr.Error())
	} else {
		state.setVerification(verification)
	}

	state.setPhase(BatchFinalizing)
	o.finalize(state, tasks, logger.WithPhase("finalize"))

	if state.status.Phase == BatchFinalizing {
		if mergeFailed || state.anyAgentFailed() {
			state.setPhase(BatchFailed)
		} else {
			state.setPhase(BatchComplete)
		}
	}
}

// runPhaseAgents runs every agentWork in phase through a chan
// struct{}-backed semaphore sized to concurrency, per spec.md §5's
// bounded worker-pool model, and waits for all of them before returning.
func (o *Orchestrator) runPhaseAgents(
	ctx context.Context,
	state *batchState,
	work []*agentWork,
	baseRef string,
	concurrency int,
	watcher *concurrentEditWatcher,
	logger *logging.Logger,
) {
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for _, w := range work {
		if state.cancel.Cancelled() {
			state.markAgentResult(w, SlotCancelled, "", "", "batch cancelled before dispatch")
			w.cancelled = true
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(w *agentWork) {
			defer wg.Done()
			defer func() { <-sem }()
			o.runOneAgent(ctx, state, w, baseRef, watcher, logger)
		}(w)
	}

	wg.Wait()
}

// runOneAgent implements one agent's work unit (spec.md §4.5.3): cancel
// check, worktree creation, dispatch, and commit-before-any-later-removal.
func (o *Orchestrator) runOneAgent(
	ctx context.Context,
	state *batchState,
	w *agentWork,
	baseRef string,
	watcher *concurrentEditWatcher,
	logger *logging.Logger,
) {
	agentLogger := logger.WithAgent(w.phaseID, w.groupID, w.repTaskIndex)

	if state.cancel.Cancelled() {
		state.markAgentResult(w, SlotCancelled, "", "", "batch cancelled")
		w.cancelled = true
		return
	}

	state.markAgentResult(w, SlotRunning, "", "", "")

	info, err := o.wt.CreateWorktree(string(state.status.BatchID), w.repTaskIndex, baseRef)
	if err != nil {
		msg := fmt.Sprintf("failed to create worktree: %v", err)
		agentLogger.Error("worktree creation failed", "error", err.Error())
		state.markAgentResult(w, SlotFailed, "", "", msg)
		return
	}
	w.worktreePath = info.Path
	w.branch = info.Branch
	state.markAgentResult(w, SlotRunning, info.Path, info.Branch, "")

	if watcher != nil {
		watcher.watch(info.Path, w.repTaskIndex)
	}

	job, jerr := o.dispatchStore.Create(w.prompt, o.projectPath)
	if jerr != nil {
		msg := fmt.Sprintf("failed to create dispatch job: %v", jerr)
		agentLogger.Error("dispatch job creation failed", "error", jerr.Error())
		o.commitAgentWork(state, w, agentLogger)
		state.markAgentResult(w, SlotFailed, "", "", msg)
		return
	}

	started := time.Now()
	running := dispatch.StatusRunning
	runningPhase := dispatch.PhaseRunning
	_ = o.dispatchStore.Update(job.JobID, dispatch.Patch{StartedAt: &started, Status: &running, Phase: &runningPhase})

	result, rerr := dispatch.Run(ctx, dispatch.Spec{
		JobID:        job.JobID,
		Command:      o.dispatchCfg.PrimaryCLI,
		Args:         []string{"--permission-mode", "acceptEdits", "-p", w.prompt},
		Cwd:          info.Path,
		LogFile:      o.agentLogPath(state.status.BatchID, w.repTaskIndex),
		StripEnv:     []string{"ANTHROPIC_API_KEY"},
		TotalTimeout: o.orchCfg.AgentTotalTimeout(),
		StallTimeout: o.dispatchCfg.PrimaryStallTimeout(),
		Cancel:       state.cancel,
		Provider:     dispatch.ProviderPrimary,
	})

	finished := time.Now()
	done := true
	if rerr != nil {
		status := dispatch.StatusFailed
		phase := dispatch.PhaseFailed
		msgs := rerr.Error()
		_ = o.dispatchStore.Update(job.JobID, dispatch.Patch{FinishedAt: &finished, Status: &status, Phase: &phase, Message: &msgs, Done: &done})
		agentLogger.Error("dispatch rejected its spec", "error", rerr.Error())
		o.commitAgentWork(state, w, agentLogger)
		state.markAgentResult(w, SlotFailed, "", "", msgs)
		return
	}

	status := dispatch.StatusFailed
	phase := dispatch.PhaseFailed
	if result.Success {
		status = dispatch.StatusSucceeded
		phase = dispatch.PhaseComplete
	}
	_ = o.dispatchStore.Update(job.JobID, dispatch.Patch{FinishedAt: &finished, Status: &status, Phase: &phase, Result: result, Done: &done})

	o.commitAgentWork(state, w, agentLogger)

	if result.Cancelled {
		state.markAgentResult(w, SlotCancelled, "", "", result.Error)
		w.cancelled = true
		return
	}
	if !result.Success {
		state.markAgentResult(w, SlotFailed, "", "", result.Error)
		return
	}

	w.succeeded = true
	state.markAgentResult(w, SlotSucceeded, "", "", "")
}

// commitAgentWork stages and commits every change in w's worktree,
// unconditionally on dispatch outcome. This must run before any later
// RemoveWorktree call: `git worktree remove` silently discards
// uncommitted changes, so a crashed or failed agent's partial work would
// otherwise be lost rather than surfaced for the merge/conflict step.
func (o *Orchestrator) commitAgentWork(state *batchState, w *agentWork, logger *logging.Logger) {
	if w.worktreePath == "" {
		return
	}
	if err := o.wt.StageAllIn(w.worktreePath); err != nil {
		logger.Warn("failed to stage agent work", "error", err.Error())
		return
	}
	committed, sha, err := o.wt.CommitIn(w.worktreePath, fmt.Sprintf("Agent work for batch %s", state.status.BatchID))
	if err != nil {
		logger.Warn("failed to commit agent work", "error", err.Error())
		return
	}
	if committed {
		logger.Info("committed agent work", "sha", sha)
	}
}
