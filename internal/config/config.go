package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete cantina configuration.
type Config struct {
	Dispatch     DispatchConfig     `mapstructure:"dispatch"`
	Worktree     WorktreeConfig     `mapstructure:"worktree"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// DispatchConfig controls Process Supervisor defaults.
type DispatchConfig struct {
	// PrimaryCLI is the executable name/path for the primary AI CLI.
	PrimaryCLI string `mapstructure:"primary_cli"`
	// FallbackCLIs lists alternate CLIs a caller may offer after a primary
	// token-limit result. No dispatch path in this module reads it; a
	// token-limit result is reported, not retried on a fallback.
	FallbackCLIs []string `mapstructure:"fallback_clis"`
	// TotalTimeoutSeconds is the default total-runtime timeout (>= 1).
	TotalTimeoutSeconds int `mapstructure:"total_timeout_seconds"`
	// PrimaryStallTimeoutSeconds is the stall timeout for the primary CLI.
	// 0 disables stall detection (the primary CLI has long thinking pauses).
	PrimaryStallTimeoutSeconds int `mapstructure:"primary_stall_timeout_seconds"`
	// FallbackStallTimeoutSeconds is the stall timeout for fallback CLIs.
	FallbackStallTimeoutSeconds int `mapstructure:"fallback_stall_timeout_seconds"`
	// PlanningTimeoutSeconds bounds planning/verification dispatches.
	PlanningTimeoutSeconds int `mapstructure:"planning_timeout_seconds"`
	// JobStoreCap is the per-store eviction cap.
	JobStoreCap int `mapstructure:"job_store_cap"`
	// OutputBufferBytes is validated (see validator.go) but not read by the
	// Process Supervisor; no byte cap is applied to in-memory output.
	OutputBufferBytes int `mapstructure:"output_buffer_bytes"`
}

// WorktreeConfig controls the Worktree Manager.
type WorktreeConfig struct {
	// RootDirName is the worktree root directory name under the repo.
	RootDirName string `mapstructure:"root_dir_name"`
	// BranchPrefix is the prefix for per-agent branches, before
	// "/<batch_id>/<task_index>".
	BranchPrefix string `mapstructure:"branch_prefix"`
	// MergeTimeoutSeconds bounds a single `git merge --no-ff` call.
	MergeTimeoutSeconds int `mapstructure:"merge_timeout_seconds"`
	// GitTimeoutSeconds bounds most other git subprocess calls.
	GitTimeoutSeconds int `mapstructure:"git_timeout_seconds"`
	// SymlinkNodeModules mirrors node_modules into new worktrees.
	SymlinkNodeModules bool `mapstructure:"symlink_node_modules"`
}

// OrchestratorConfig controls the Parallel Orchestrator.
type OrchestratorConfig struct {
	// DefaultMaxParallel is used when a caller does not specify one (1-8).
	DefaultMaxParallel int `mapstructure:"default_max_parallel"`
	// AgentTotalTimeoutSeconds bounds one agent's dispatch.
	AgentTotalTimeoutSeconds int `mapstructure:"agent_total_timeout_seconds"`
	// WatchForConcurrentEdits enables the advisory fsnotify pre-merge hint.
	WatchForConcurrentEdits bool `mapstructure:"watch_for_concurrent_edits"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	RuntimeRoot string `mapstructure:"runtime_root"`
}

// Default returns a Config populated with sensible default values.
func Default() *Config {
	return &Config{
		Dispatch: DispatchConfig{
			PrimaryCLI:                  "claude",
			FallbackCLIs:                []string{},
			TotalTimeoutSeconds:         900,
			PrimaryStallTimeoutSeconds:  0,
			FallbackStallTimeoutSeconds: 180,
			PlanningTimeoutSeconds:      600,
			JobStoreCap:                 200,
			OutputBufferBytes:           1 << 20,
		},
		Worktree: WorktreeConfig{
			RootDirName:         ".cantina-worktrees",
			BranchPrefix:        "parallel",
			MergeTimeoutSeconds: 120,
			GitTimeoutSeconds:   30,
			SymlinkNodeModules:  true,
		},
		Orchestrator: OrchestratorConfig{
			DefaultMaxParallel:       3,
			AgentTotalTimeoutSeconds: 900,
			WatchForConcurrentEdits:  true,
		},
		Logging: LoggingConfig{
			Level:       "info",
			RuntimeRoot: "",
		},
	}
}

// TotalTimeout returns the configured total dispatch timeout.
func (c *DispatchConfig) TotalTimeout() time.Duration {
	return time.Duration(c.TotalTimeoutSeconds) * time.Second
}

// PrimaryStallTimeout returns the stall timeout applied to primary-CLI
// dispatches (0 disables stall detection).
func (c *DispatchConfig) PrimaryStallTimeout() time.Duration {
	return time.Duration(c.PrimaryStallTimeoutSeconds) * time.Second
}

// FallbackStallTimeout returns the stall timeout applied to fallback-CLI
// dispatches.
func (c *DispatchConfig) FallbackStallTimeout() time.Duration {
	return time.Duration(c.FallbackStallTimeoutSeconds) * time.Second
}

// PlanningTimeout returns the timeout applied to planning/verification
// dispatches.
func (c *DispatchConfig) PlanningTimeout() time.Duration {
	return time.Duration(c.PlanningTimeoutSeconds) * time.Second
}

// MergeTimeout returns the timeout applied to a single merge.
func (c *WorktreeConfig) MergeTimeout() time.Duration {
	return time.Duration(c.MergeTimeoutSeconds) * time.Second
}

// GitTimeout returns the timeout applied to most git subprocess calls.
func (c *WorktreeConfig) GitTimeout() time.Duration {
	return time.Duration(c.GitTimeoutSeconds) * time.Second
}

// AgentTotalTimeout returns the timeout applied to one agent's dispatch.
func (c *OrchestratorConfig) AgentTotalTimeout() time.Duration {
	return time.Duration(c.AgentTotalTimeoutSeconds) * time.Second
}

// SetDefaults registers every default value with viper so it is available
// even without a config file present.
func SetDefaults() {
	d := Default()

	viper.SetDefault("dispatch.primary_cli", d.Dispatch.PrimaryCLI)
	viper.SetDefault("dispatch.fallback_clis", d.Dispatch.FallbackCLIs)
	viper.SetDefault("dispatch.total_timeout_seconds", d.Dispatch.TotalTimeoutSeconds)
	viper.SetDefault("dispatch.primary_stall_timeout_seconds", d.Dispatch.PrimaryStallTimeoutSeconds)
	viper.SetDefault("dispatch.fallback_stall_timeout_seconds", d.Dispatch.FallbackStallTimeoutSeconds)
	viper.SetDefault("dispatch.planning_timeout_seconds", d.Dispatch.PlanningTimeoutSeconds)
	viper.SetDefault("dispatch.job_store_cap", d.Dispatch.JobStoreCap)
	viper.SetDefault("dispatch.output_buffer_bytes", d.Dispatch.OutputBufferBytes)

	viper.SetDefault("worktree.root_dir_name", d.Worktree.RootDirName)
	viper.SetDefault("worktree.branch_prefix", d.Worktree.BranchPrefix)
	viper.SetDefault("worktree.merge_timeout_seconds", d.Worktree.MergeTimeoutSeconds)
	viper.SetDefault("worktree.git_timeout_seconds", d.Worktree.GitTimeoutSeconds)
	viper.SetDefault("worktree.symlink_node_modules", d.Worktree.SymlinkNodeModules)

	viper.SetDefault("orchestrator.default_max_parallel", d.Orchestrator.DefaultMaxParallel)
	viper.SetDefault("orchestrator.agent_total_timeout_seconds", d.Orchestrator.AgentTotalTimeoutSeconds)
	viper.SetDefault("orchestrator.watch_for_concurrent_edits", d.Orchestrator.WatchForConcurrentEdits)

	viper.SetDefault("logging.level", d.Logging.Level)
	viper.SetDefault("logging.runtime_root", d.Logging.RuntimeRoot)
}

// Load reads the configuration from viper into a Config struct.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Get returns the current configuration (convenience function).
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to cantina's config directory.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "cantina")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cantina"
	}
	return filepath.Join(home, ".config", "cantina")
}

// ConfigFile returns the default config file path.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
