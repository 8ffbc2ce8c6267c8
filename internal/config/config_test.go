package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}

	if cfg.Dispatch.PrimaryCLI != "claude" {
		t.Errorf("Dispatch.PrimaryCLI = %q, want %q", cfg.Dispatch.PrimaryCLI, "claude")
	}
	if cfg.Dispatch.TotalTimeoutSeconds != 900 {
		t.Errorf("Dispatch.TotalTimeoutSeconds = %d, want 900", cfg.Dispatch.TotalTimeoutSeconds)
	}
	if cfg.Dispatch.PrimaryStallTimeoutSeconds != 0 {
		t.Errorf("Dispatch.PrimaryStallTimeoutSeconds = %d, want 0 (disabled)", cfg.Dispatch.PrimaryStallTimeoutSeconds)
	}
	if cfg.Dispatch.FallbackStallTimeoutSeconds != 180 {
		t.Errorf("Dispatch.FallbackStallTimeoutSeconds = %d, want 180", cfg.Dispatch.FallbackStallTimeoutSeconds)
	}
	if cfg.Dispatch.JobStoreCap != 200 {
		t.Errorf("Dispatch.JobStoreCap = %d, want 200", cfg.Dispatch.JobStoreCap)
	}

	if cfg.Worktree.RootDirName != ".cantina-worktrees" {
		t.Errorf("Worktree.RootDirName = %q, want %q", cfg.Worktree.RootDirName, ".cantina-worktrees")
	}
	if cfg.Worktree.BranchPrefix != "parallel" {
		t.Errorf("Worktree.BranchPrefix = %q, want %q", cfg.Worktree.BranchPrefix, "parallel")
	}
	if !cfg.Worktree.SymlinkNodeModules {
		t.Error("Worktree.SymlinkNodeModules should be true by default")
	}

	if cfg.Orchestrator.DefaultMaxParallel != 3 {
		t.Errorf("Orchestrator.DefaultMaxParallel = %d, want 3", cfg.Orchestrator.DefaultMaxParallel)
	}
	if !cfg.Orchestrator.WatchForConcurrentEdits {
		t.Error("Orchestrator.WatchForConcurrentEdits should be true by default")
	}

	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "info")
	}
}

func TestDispatchConfig_Durations(t *testing.T) {
	d := DispatchConfig{
		TotalTimeoutSeconds:         900,
		PrimaryStallTimeoutSeconds:  0,
		FallbackStallTimeoutSeconds: 180,
		PlanningTimeoutSeconds:      600,
	}

	if d.TotalTimeout().Seconds() != 900 {
		t.Errorf("TotalTimeout() = %v, want 900s", d.TotalTimeout())
	}
	if d.PrimaryStallTimeout() != 0 {
		t.Errorf("PrimaryStallTimeout() = %v, want 0", d.PrimaryStallTimeout())
	}
	if d.FallbackStallTimeout().Seconds() != 180 {
		t.Errorf("FallbackStallTimeout() = %v, want 180s", d.FallbackStallTimeout())
	}
	if d.PlanningTimeout().Seconds() != 600 {
		t.Errorf("PlanningTimeout() = %v, want 600s", d.PlanningTimeout())
	}
}

func TestSetDefaults_PopulatesViper(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	SetDefaults()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	want := Default()
	if cfg.Dispatch.PrimaryCLI != want.Dispatch.PrimaryCLI {
		t.Errorf("PrimaryCLI = %q, want %q", cfg.Dispatch.PrimaryCLI, want.Dispatch.PrimaryCLI)
	}
	if cfg.Orchestrator.DefaultMaxParallel != want.Orchestrator.DefaultMaxParallel {
		t.Errorf("DefaultMaxParallel = %d, want %d", cfg.Orchestrator.DefaultMaxParallel, want.Orchestrator.DefaultMaxParallel)
	}
}

func TestGet_FallsBackToDefaultOnUnmarshalError(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	// An incompatible type for a known key causes Unmarshal to fail.
	viper.Set("orchestrator.default_max_parallel", map[string]any{"bad": true})

	cfg := Get()
	if cfg == nil {
		t.Fatal("Get() returned nil")
	}
	if want := Default().Orchestrator.DefaultMaxParallel; cfg.Orchestrator.DefaultMaxParallel != want {
		t.Errorf("DefaultMaxParallel = %d, want default %d", cfg.Orchestrator.DefaultMaxParallel, want)
	}
}

func TestConfigDir_RespectsXDGConfigHome(t *testing.T) {
	old := os.Getenv("XDG_CONFIG_HOME")
	defer os.Setenv("XDG_CONFIG_HOME", old)

	os.Setenv("XDG_CONFIG_HOME", "/tmp/xdg-test")
	want := filepath.Join("/tmp/xdg-test", "cantina")
	if got := ConfigDir(); got != want {
		t.Errorf("ConfigDir() = %q, want %q", got, want)
	}
}

func TestConfigFile(t *testing.T) {
	got := ConfigFile()
	if filepath.Base(got) != "config.yaml" {
		t.Errorf("ConfigFile() = %q, want basename config.yaml", got)
	}
}
