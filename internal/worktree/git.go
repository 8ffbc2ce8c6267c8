package worktree

import "os/exec"

// CLICommandExecutor executes git commands using os/exec against the real
// shell-less argument-list form (no "sh -c").
type CLICommandExecutor struct{}

// NewCLICommandExecutor returns the production CommandExecutor.
func NewCLICommandExecutor() *CLICommandExecutor {
	return &CLICommandExecutor{}
}

// Run executes name with args in dir and returns combined stdout+stderr.
func (e *CLICommandExecutor) Run(dir, name string, args ...string) ([]byte, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// RunQuiet executes name with args in dir, discarding output.
func (e *CLICommandExecutor) RunQuiet(dir, name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	return cmd.Run()
}

var _ CommandExecutor = (*CLICommandExecutor)(nil)
