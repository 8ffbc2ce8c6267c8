package cmd

import (
	"fmt"

	"github.com/cantina-run/cantina/internal/config"
	"github.com/cantina-run/cantina/internal/worktree"
	"github.com/spf13/cobra"
)

var (
	cleanupProjectPath string
	cleanupBatchID     string
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove orphaned or batch-scoped worktrees and branches",
	Long: `Cleanup removes worktrees/branches left behind by a batch. With
--batch-id it removes only that batch's worktrees; otherwise it sweeps
every worktree under the configured worktree root whose branch carries
the configured prefix, without checking whether any process still uses
it, mirroring the orphan sweep ExecutePlan runs
automatically before starting a new batch.`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().StringVar(&cleanupProjectPath, "project", ".", "path to the target git project")
	cleanupCmd.Flags().StringVar(&cleanupBatchID, "batch-id", "", "limit cleanup to a single batch id")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	projectPath, err := resolveProjectPath(cleanupProjectPath)
	if err != nil {
		return err
	}

	cfg := config.Get()
	wt, err := worktree.NewFromConfig(projectPath, cfg.Worktree)
	if err != nil {
		return err
	}

	if cleanupBatchID != "" {
		n, err := wt.CleanupBatch(cleanupBatchID)
		if err != nil {
			return fmt.Errorf("cleaning up batch %s: %w", cleanupBatchID, err)
		}
		fmt.Printf("removed %d worktree(s) for batch %s\n", n, cleanupBatchID)
		return nil
	}

	n, err := wt.CleanupOrphans()
	if err != nil {
		return fmt.Errorf("cleaning up orphans: %w", err)
	}
	fmt.Printf("removed %d orphaned worktree(s)\n", n)
	return nil
}
