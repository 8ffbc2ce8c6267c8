package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cantina-run/cantina/internal/dispatch"
	"github.com/spf13/cobra"
)

var cancelProjectPath string

var cancelCmd = &cobra.Command{
	Use:   "cancel <batch-id>",
	Short: "Request cancellation of a running batch",
	Long: `Cancel leaves a cancel-request marker for the given batch id. A
live "execute" invocation for that batch picks the marker up on its
next poll tick and calls CancelBatch, after which any pending agent
slots are marked cancelled (spec.md §4.5.7); running agents are sent
SIGTERM, then SIGKILL after a 5s grace, and the batch skips its
remaining merges, verification and finalization before its worktrees
and branches are removed.`,
	Args: cobra.ExactArgs(1),
	RunE: runCancel,
}

func init() {
	cancelCmd.Flags().StringVar(&cancelProjectPath, "project", ".", "path to the target git project")
}

func runCancel(cmd *cobra.Command, args []string) error {
	projectPath, err := resolveProjectPath(cancelProjectPath)
	if err != nil {
		return err
	}
	batchID := dispatch.BatchId(args[0])

	path := cancelRequestPath(projectPath, batchID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte{}, 0o644); err != nil {
		return err
	}

	fmt.Printf("cancel requested for batch %s\n", batchID)
	return nil
}
