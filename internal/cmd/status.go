package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/cantina-run/cantina/internal/dispatch"
	"github.com/cantina-run/cantina/internal/orchestrator"
	"github.com/spf13/cobra"
)

var statusProjectPath string

var statusCmd = &cobra.Command{
	Use:   "status <batch-id>",
	Short: "Print the last recorded status for a batch",
	Long: `Status reads the most recent snapshot an "execute" run wrote to
disk for the given batch id and prints it as JSON. A batch only has a
snapshot once its execute invocation has completed at least one poll
tick.`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusProjectPath, "project", ".", "path to the target git project")
}

func runStatus(cmd *cobra.Command, args []string) error {
	projectPath, err := resolveProjectPath(statusProjectPath)
	if err != nil {
		return err
	}
	batchID := dispatch.BatchId(args[0])

	raw, err := os.ReadFile(statusPath(projectPath, batchID))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("no status recorded for batch %s", batchID)
		}
		return err
	}

	var status orchestrator.ParallelBatchStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return fmt.Errorf("parsing status snapshot: %w", err)
	}

	pretty, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(pretty))
	return nil
}
