package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/cantina-run/cantina/internal/plan"
)

// taskFile is the on-disk shape tasks are authored in: a JSON array of
// {"text": "...", "prompt": "..."} objects. Prompt is optional and
// defaults to text.
type taskFile struct {
	Text   string `json:"text"`
	Prompt string `json:"prompt"`
}

func loadTasks(path string) ([]plan.Task, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tasks file: %w", err)
	}
	var entries []taskFile
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parsing tasks file %s: %w", path, err)
	}
	tasks := make([]plan.Task, 0, len(entries))
	for _, e := range entries {
		prompt := e.Prompt
		if prompt == "" {
			prompt = e.Text
		}
		tasks = append(tasks, plan.Task{Text: e.Text, Prompt: prompt})
	}
	return tasks, nil
}

func loadExecutionPlan(path string) (*plan.ExecutionPlan, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan file: %w", err)
	}
	var execPlan plan.ExecutionPlan
	if err := json.Unmarshal(raw, &execPlan); err != nil {
		return nil, fmt.Errorf("parsing plan file %s: %w", path, err)
	}
	return &execPlan, nil
}

func writeExecutionPlan(path string, execPlan *plan.ExecutionPlan) error {
	raw, err := json.MarshalIndent(execPlan, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}
