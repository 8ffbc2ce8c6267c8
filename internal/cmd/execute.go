package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cantina-run/cantina/internal/dispatch"
	"github.com/cantina-run/cantina/internal/orchestrator"
	"github.com/spf13/cobra"
)

var (
	executeTasksFile   string
	executePlanFile    string
	executeProjectPath string
	executeMaxParallel int
	executeBatchID     string
	executePollEvery   time.Duration
)

var executeCmd = &cobra.Command{
	Use:   "execute",
	Short: "Run an execution plan's phases as parallel agent batches",
	Long: `Execute runs the precondition checks, then dispatches each phase's
agents into isolated worktrees, merges their branches back, and polls to
completion, printing a status line per tick. The batch's status
snapshot is written to disk after every tick so "cantina status" and
"cantina cancel" can observe and steer a batch from another invocation.`,
	RunE: runExecute,
}

func init() {
	executeCmd.Flags().StringVar(&executeTasksFile, "tasks", "", "path to the JSON tasks file used to build the plan (required)")
	executeCmd.Flags().StringVar(&executePlanFile, "plan", "plan.json", "path to the execution plan produced by \"cantina plan\"")
	executeCmd.Flags().StringVar(&executeProjectPath, "project", ".", "path to the target git project")
	executeCmd.Flags().IntVar(&executeMaxParallel, "max-parallel", 0, "max concurrent agents per phase (0 uses the configured default)")
	executeCmd.Flags().StringVar(&executeBatchID, "batch-id", "", "batch id to use (default: generated)")
	executeCmd.Flags().DurationVar(&executePollEvery, "poll-every", 2*time.Second, "status polling interval")
	_ = executeCmd.MarkFlagRequired("tasks")
}

func runExecute(cmd *cobra.Command, args []string) error {
	projectPath, err := resolveProjectPath(executeProjectPath)
	if err != nil {
		return err
	}

	tasks, err := loadTasks(executeTasksFile)
	if err != nil {
		return err
	}
	execPlan, err := loadExecutionPlan(executePlanFile)
	if err != nil {
		return err
	}

	orch, logger, err := buildOrchestrator(projectPath)
	if err != nil {
		return err
	}
	defer logger.Close()

	batchID := dispatch.BatchId(executeBatchID)
	if batchID == "" {
		batchID = orch.GenerateBatchID()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := orch.ExecutePlan(ctx, batchID, tasks, execPlan, executeMaxParallel); err != nil {
		return fmt.Errorf("starting batch %s: %w", batchID, err)
	}
	fmt.Printf("started batch %s\n", batchID)

	ticker := time.NewTicker(executePollEvery)
	defer ticker.Stop()

	for range ticker.C {
		status, ok := orch.GetStatus(batchID)
		if !ok {
			return fmt.Errorf("batch %s disappeared", batchID)
		}
		if err := writeStatusSnapshot(projectPath, status); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to write status snapshot: %v\n", err)
		}
		fmt.Printf("[%s] phase=%s current=%q\n", batchID, status.Phase, status.CurrentPhaseName)

		if cancelRequested(projectPath, batchID) {
			orch.CancelBatch(batchID)
		}

		if isTerminal(status.Phase) {
			if status.Phase == orchestrator.BatchFailed {
				return fmt.Errorf("batch %s failed: %s", batchID, status.Error)
			}
			return nil
		}
	}
	return nil
}

func isTerminal(phase orchestrator.BatchPhase) bool {
	switch phase {
	case orchestrator.BatchComplete, orchestrator.BatchFailed, orchestrator.BatchCancelled:
		return true
	default:
		return false
	}
}

func writeStatusSnapshot(projectPath string, status *orchestrator.ParallelBatchStatus) error {
	path := statusPath(projectPath, status.BatchID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

func cancelRequested(projectPath string, batchID dispatch.BatchId) bool {
	_, err := os.Stat(cancelRequestPath(projectPath, batchID))
	return err == nil
}
