package cmd

import (
	"os"
	"path/filepath"

	"github.com/cantina-run/cantina/internal/config"
	"github.com/cantina-run/cantina/internal/dispatch"
	"github.com/cantina-run/cantina/internal/logging"
	"github.com/cantina-run/cantina/internal/orchestrator"
	"github.com/cantina-run/cantina/internal/worktree"
)

// resolveProjectPath resolves the --project flag to an absolute path.
func resolveProjectPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return abs, nil
}

// runtimeDir is where cantina keeps per-project state: agent/plan job
// logs, batch status snapshots, and cancel-request markers.
func runtimeDir(projectPath string) string {
	return filepath.Join(projectPath, ".cantina")
}

func statusPath(projectPath string, batchID dispatch.BatchId) string {
	return filepath.Join(runtimeDir(projectPath), "status", string(batchID)+".json")
}

func cancelRequestPath(projectPath string, batchID dispatch.BatchId) string {
	return filepath.Join(runtimeDir(projectPath), "cancel", string(batchID))
}

// buildOrchestrator wires the config, dispatch stores, worktree manager,
// and logger for one project into a ready-to-use Orchestrator.
func buildOrchestrator(projectPath string) (*orchestrator.Orchestrator, *logging.Logger, error) {
	cfg := config.Get()
	logDir := filepath.Join(runtimeDir(projectPath), "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, nil, err
	}

	logger, err := logging.NewLogger(runtimeDir(projectPath), cfg.Logging.Level)
	if err != nil {
		return nil, nil, err
	}

	wt, err := worktree.NewFromConfig(projectPath, cfg.Worktree)
	if err != nil {
		return nil, nil, err
	}
	wt.SetLogger(logger)

	agentStore := dispatch.NewStore("agent", logDir, cfg.Dispatch.JobStoreCap)
	planStore := dispatch.NewNonEvictingStore("plan", logDir)

	orch := orchestrator.New(
		wt,
		agentStore,
		planStore,
		cfg.Dispatch,
		cfg.Orchestrator,
		logger,
		nil,
		projectPath,
		logDir,
	)
	return orch, logger, nil
}

// buildPlanStore returns a standalone plan-job store for commands (like
// plan) that dispatch a planning prompt without running a full batch.
func buildPlanStore(projectPath string) (*dispatch.Store, error) {
	logDir := filepath.Join(runtimeDir(projectPath), "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, err
	}
	return dispatch.NewNonEvictingStore("plan", logDir), nil
}
