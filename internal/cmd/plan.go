package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/cantina-run/cantina/internal/config"
	"github.com/cantina-run/cantina/internal/dispatch"
	"github.com/cantina-run/cantina/internal/plan"
	"github.com/spf13/cobra"
)

var (
	planTasksFile      string
	planMilestoneTitle string
	planOutFile        string
	planProjectPath    string
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Generate an execution plan for a set of tasks",
	Long: `Plan dispatches the planning agent over a milestone's tasks and
writes the resulting execution plan as JSON, ready to be handed to
"cantina execute".`,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVar(&planTasksFile, "tasks", "", "path to a JSON tasks file (required)")
	planCmd.Flags().StringVar(&planMilestoneTitle, "milestone", "", "milestone title shown to the planning agent")
	planCmd.Flags().StringVar(&planOutFile, "out", "plan.json", "path to write the resulting execution plan")
	planCmd.Flags().StringVar(&planProjectPath, "project", ".", "path to the target git project")
	_ = planCmd.MarkFlagRequired("tasks")
}

func runPlan(cmd *cobra.Command, args []string) error {
	tasks, err := loadTasks(planTasksFile)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		return fmt.Errorf("%s contains no tasks", planTasksFile)
	}

	projectPath, err := resolveProjectPath(planProjectPath)
	if err != nil {
		return err
	}

	store, err := buildPlanStore(projectPath)
	if err != nil {
		return err
	}

	cfg := config.Get()
	execPlan, err := plan.CreatePlan(
		context.Background(),
		store,
		cfg.Dispatch,
		dispatch.NewCancelSignal(),
		projectPath,
		tasks,
		planMilestoneTitle,
		nil,
		nil,
		"",
	)
	if err != nil {
		return fmt.Errorf("creating plan: %w", err)
	}

	if len(execPlan.Warnings) > 0 {
		for _, w := range execPlan.Warnings {
			fmt.Fprintf(os.Stderr, "warning: %s\n", w)
		}
	}

	if err := writeExecutionPlan(planOutFile, execPlan); err != nil {
		return fmt.Errorf("writing plan: %w", err)
	}

	fmt.Printf("wrote execution plan (%d phases, %d estimated agents) to %s\n",
		len(execPlan.Phases), execPlan.EstimatedTotalAgents, planOutFile)
	return nil
}
