package config

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure.
type ValidationError struct {
	Field   string // The config field path (e.g., "orchestrator.default_max_parallel")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// branchPrefixRegex validates branch prefix characters. Branch names
// must start with a letter and may contain letters, digits, hyphen,
// or underscore.
var branchPrefixRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)

// ValidLogLevels returns the list of valid log levels.
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

const (
	minMaxParallel = 1
	maxMaxParallel = 8
)

// Validate checks the Config for invalid values and returns all
// validation errors found.
func (c *Config) Validate() ValidationErrors {
	var errs []ValidationError

	errs = append(errs, c.validateDispatch()...)
	errs = append(errs, c.validateWorktree()...)
	errs = append(errs, c.validateOrchestrator()...)
	errs = append(errs, c.validateLogging()...)

	return errs
}

// validateDispatch validates the DispatchConfig.
func (c *Config) validateDispatch() []ValidationError {
	var errs []ValidationError

	if strings.TrimSpace(c.Dispatch.PrimaryCLI) == "" {
		errs = append(errs, ValidationError{
			Field:   "dispatch.primary_cli",
			Value:   c.Dispatch.PrimaryCLI,
			Message: "cannot be empty",
		})
	}

	if c.Dispatch.TotalTimeoutSeconds < 1 {
		errs = append(errs, ValidationError{
			Field:   "dispatch.total_timeout_seconds",
			Value:   c.Dispatch.TotalTimeoutSeconds,
			Message: "must be at least 1 second",
		})
	}

	if c.Dispatch.PrimaryStallTimeoutSeconds < 0 {
		errs = append(errs, ValidationError{
			Field:   "dispatch.primary_stall_timeout_seconds",
			Value:   c.Dispatch.PrimaryStallTimeoutSeconds,
			Message: "must be non-negative (0 disables stall detection)",
		})
	}
	if c.Dispatch.PrimaryStallTimeoutSeconds > c.Dispatch.TotalTimeoutSeconds {
		errs = append(errs, ValidationError{
			Field:   "dispatch.primary_stall_timeout_seconds",
			Value:   c.Dispatch.PrimaryStallTimeoutSeconds,
			Message: "must not exceed dispatch.total_timeout_seconds",
		})
	}

	if c.Dispatch.FallbackStallTimeoutSeconds < 0 {
		errs = append(errs, ValidationError{
			Field:   "dispatch.fallback_stall_timeout_seconds",
			Value:   c.Dispatch.FallbackStallTimeoutSeconds,
			Message: "must be non-negative (0 disables stall detection)",
		})
	}

	if c.Dispatch.PlanningTimeoutSeconds < 1 {
		errs = append(errs, ValidationError{
			Field:   "dispatch.planning_timeout_seconds",
			Value:   c.Dispatch.PlanningTimeoutSeconds,
			Message: "must be at least 1 second",
		})
	}

	const minJobStoreCap = 1
	if c.Dispatch.JobStoreCap < minJobStoreCap {
		errs = append(errs, ValidationError{
			Field:   "dispatch.job_store_cap",
			Value:   c.Dispatch.JobStoreCap,
			Message: fmt.Sprintf("must be at least %d", minJobStoreCap),
		})
	}

	if c.Dispatch.OutputBufferBytes < 1024 {
		errs = append(errs, ValidationError{
			Field:   "dispatch.output_buffer_bytes",
			Value:   c.Dispatch.OutputBufferBytes,
			Message: "must be at least 1024 bytes",
		})
	}

	return errs
}

// validateWorktree validates the WorktreeConfig.
func (c *Config) validateWorktree() []ValidationError {
	var errs []ValidationError

	if c.Worktree.RootDirName == "" {
		errs = append(errs, ValidationError{
			Field:   "worktree.root_dir_name",
			Value:   c.Worktree.RootDirName,
			Message: "cannot be empty",
		})
	}

	if c.Worktree.BranchPrefix == "" {
		errs = append(errs, ValidationError{
			Field:   "worktree.branch_prefix",
			Value:   c.Worktree.BranchPrefix,
			Message: "cannot be empty",
		})
	} else if !branchPrefixRegex.MatchString(c.Worktree.BranchPrefix) {
		errs = append(errs, ValidationError{
			Field:   "worktree.branch_prefix",
			Value:   c.Worktree.BranchPrefix,
			Message: "must start with a letter and contain only alphanumeric characters, hyphens, or underscores",
		})
	}

	const maxBranchPrefixLength = 50
	if len(c.Worktree.BranchPrefix) > maxBranchPrefixLength {
		errs = append(errs, ValidationError{
			Field:   "worktree.branch_prefix",
			Value:   c.Worktree.BranchPrefix,
			Message: fmt.Sprintf("exceeds maximum length of %d characters", maxBranchPrefixLength),
		})
	}

	if c.Worktree.MergeTimeoutSeconds < 1 {
		errs = append(errs, ValidationError{
			Field:   "worktree.merge_timeout_seconds",
			Value:   c.Worktree.MergeTimeoutSeconds,
			Message: "must be at least 1 second",
		})
	}
	if c.Worktree.GitTimeoutSeconds < 1 {
		errs = append(errs, ValidationError{
			Field:   "worktree.git_timeout_seconds",
			Value:   c.Worktree.GitTimeoutSeconds,
			Message: "must be at least 1 second",
		})
	}

	return errs
}

// validateOrchestrator validates the OrchestratorConfig.
func (c *Config) validateOrchestrator() []ValidationError {
	var errs []ValidationError

	if c.Orchestrator.DefaultMaxParallel < minMaxParallel {
		errs = append(errs, ValidationError{
			Field:   "orchestrator.default_max_parallel",
			Value:   c.Orchestrator.DefaultMaxParallel,
			Message: fmt.Sprintf("must be at least %d", minMaxParallel),
		})
	}
	if c.Orchestrator.DefaultMaxParallel > maxMaxParallel {
		errs = append(errs, ValidationError{
			Field:   "orchestrator.default_max_parallel",
			Value:   c.Orchestrator.DefaultMaxParallel,
			Message: fmt.Sprintf("exceeds maximum of %d", maxMaxParallel),
		})
	}

	if c.Orchestrator.AgentTotalTimeoutSeconds < 1 {
		errs = append(errs, ValidationError{
			Field:   "orchestrator.agent_total_timeout_seconds",
			Value:   c.Orchestrator.AgentTotalTimeoutSeconds,
			Message: "must be at least 1 second",
		})
	}

	return errs
}

// validateLogging validates the LoggingConfig.
func (c *Config) validateLogging() []ValidationError {
	var errs []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	return errs
}

// MaxParallelBounds returns the inclusive bounds accepted for
// orchestrator.default_max_parallel and any caller-supplied override.
func MaxParallelBounds() (min, max int) {
	return minMaxParallel, maxMaxParallel
}
