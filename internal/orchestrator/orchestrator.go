package orchestrator

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/cantina-run/cantina/internal/cantinaerrors"
	"github.com/cantina-run/cantina/internal/config"
	"github.com/cantina-run/cantina/internal/dispatch"
	"github.com/cantina-run/cantina/internal/logging"
	"github.com/cantina-run/cantina/internal/plan"
	"github.com/cantina-run/cantina/internal/worktree"
)

// Orchestrator owns every in-flight and completed parallel batch for one
// project: it is the sole writer of each batch's ParallelBatchStatus and
// the sole caller into the worktree manager and the dispatch/plan job
// stores for that batch's lifetime.
type Orchestrator struct {
	mu      sync.Mutex
	batches map[dispatch.BatchId]*batchState

	wt            worktree.GitWorktreeOperations
	dispatchStore *dispatch.Store
	planStore     *dispatch.Store
	dispatchCfg   config.DispatchConfig
	orchCfg       config.OrchestratorConfig
	logger        *logging.Logger
	roadmap       RoadmapUpdater
	projectPath   string
	logDir        string
}

// New constructs an Orchestrator. roadmap may be nil, in which case
// finalize's task-completion matching is skipped entirely.
func New(
	wt worktree.GitWorktreeOperations,
	dispatchStore *dispatch.Store,
	planStore *dispatch.Store,
	dispatchCfg config.DispatchConfig,
	orchCfg config.OrchestratorConfig,
	logger *logging.Logger,
	roadmap RoadmapUpdater,
	projectPath string,
	logDir string,
) *Orchestrator {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Orchestrator{
		batches:       make(map[dispatch.BatchId]*batchState),
		wt:            wt,
		dispatchStore: dispatchStore,
		planStore:     planStore,
		dispatchCfg:   dispatchCfg,
		orchCfg:       orchCfg,
		logger:        logger,
		roadmap:       roadmap,
		projectPath:   projectPath,
		logDir:        logDir,
	}
}

// GenerateBatchID returns a fresh "batch-<12 hex chars>" id. A timestamp
// suffix is used as a last-resort fallback if the system's random source
// is unavailable.
func (o *Orchestrator) GenerateBatchID() dispatch.BatchId {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return dispatch.BatchId(fmt.Sprintf("batch-%d", time.Now().UnixNano()))
	}
	return dispatch.BatchId(fmt.Sprintf("batch-%s", hex.EncodeToString(buf)))
}

// ExecutePlan runs the precondition checks (spec.md §4.5.1) synchronously
// and, if they pass, starts the batch's phase loop in the background.
// Callers poll GetStatus for progress.
func (o *Orchestrator) ExecutePlan(
	ctx context.Context,
	batchID dispatch.BatchId,
	tasks []plan.Task,
	execPlan *plan.ExecutionPlan,
	maxParallel int,
) error {
	state := newBatchState(batchID, execPlan)
	state.seedSlots(execPlan, tasks)

	o.mu.Lock()
	o.batches[batchID] = state
	o.mu.Unlock()

	logger := o.logger.WithBatch(string(batchID)).WithPhase("precondition")

	clean, err := o.wt.IsWorkingTreeClean()
	if err != nil {
		msg := fmt.Sprintf("failed to check working tree: %v", err)
		state.fail(msg)
		return cantinaerrors.NewOrchestratorError(msg, err).WithBatch(string(batchID))
	}
	if !clean {
		dirty, _ := o.wt.GetDirtyFiles()
		msg := fmt.Sprintf("uncommitted changes: %v", dirty)
		state.fail(msg)
		logger.Warn("refusing to start batch on dirty tree", "dirty_files", dirty)
		return cantinaerrors.NewOrchestratorError(msg, nil).WithBatch(string(batchID))
	}

	if _, err := o.wt.CleanupOrphans(); err != nil {
		logger.Warn("cleanup_orphans failed, continuing", "error", err.Error())
	}

	if maxParallel < 1 || maxParallel > 8 {
		maxParallel = o.orchCfg.DefaultMaxParallel
	}

	go o.runBatch(ctx, state, tasks, execPlan, maxParallel)
	return nil
}

// GetStatus returns a point-in-time snapshot of batchID's status.
func (o *Orchestrator) GetStatus(batchID dispatch.BatchId) (*ParallelBatchStatus, bool) {
	o.mu.Lock()
	state, ok := o.batches[batchID]
	o.mu.Unlock()
	if !ok {
		return nil, false
	}
	return state.snapshot(), true
}

// CancelBatch sets batchID's cancel flag. It returns false if the batch id
// is unknown; idempotent otherwise, per spec.md §4.5.7.
func (o *Orchestrator) CancelBatch(batchID dispatch.BatchId) bool {
	o.mu.Lock()
	state, ok := o.batches[batchID]
	o.mu.Unlock()
	if !ok {
		return false
	}
	state.cancel.Cancel()
	return true
}

func (o *Orchestrator) agentLogPath(batchID dispatch.BatchId, repTaskIndex int) string {
	return filepath.Join(o.logDir, "orchestrator", string(batchID), fmt.Sprintf("agent-%d.log", repTaskIndex))
}
