// Package worktree owns the lifecycle of git worktrees created for
// parallel agent dispatch: creation under the repository's worktree
// root, listing, merge-back into the main branch, and cleanup.
package worktree

import "time"

// Status is the lifecycle state of one WorktreeInfo.
type Status string

const (
	StatusActive  Status = "active"
	StatusMerged  Status = "merged"
	StatusFailed  Status = "failed"
	StatusCleaned Status = "cleaned"
)

// WorktreeInfo describes one managed worktree. Git's own worktree list is
// the source of truth; WorktreeInfo is derived from it on demand rather
// than persisted.
type WorktreeInfo struct {
	Path      string
	Branch    string
	TaskIndex int
	CreatedAt time.Time
	Status    Status
}

// MergeResult records the outcome of merging one agent's branch back
// into the main branch.
type MergeResult struct {
	Branch           string
	Success          bool
	ConflictFiles    []string
	ResolutionMethod ResolutionMethod
	Message          string
}

// ResolutionMethod classifies how a merge concluded.
type ResolutionMethod string

const (
	ResolutionClean    ResolutionMethod = "clean"
	ResolutionConflict ResolutionMethod = "conflict"
	ResolutionAbort    ResolutionMethod = "abort"
)

// CommandExecutor abstracts git/shell invocation so tests can substitute a
// fake without touching a real repository.
type CommandExecutor interface {
	// Run executes a command in dir and returns its combined stdout+stderr.
	Run(dir, name string, args ...string) ([]byte, error)
	// RunQuiet executes a command in dir and discards its output.
	RunQuiet(dir, name string, args ...string) error
}

// GitWorktreeOperations is the full contract a worktree manager
// implementation must satisfy.
type GitWorktreeOperations interface {
	CreateWorktree(batchID string, taskIndex int, baseRef string) (*WorktreeInfo, error)
	ListWorktrees() ([]*WorktreeInfo, error)
	RemoveWorktree(path string, force bool) (bool, string, error)
	CleanupBatch(batchID string) (int, error)
	CleanupOrphans() (int, error)
	MergeBranch(branch, into string) (bool, string, []string, error)
	IsWorkingTreeClean() (bool, error)
	GetDirtyFiles() ([]string, error)
	StageAll() error
	StageFiles(paths []string) error
	Commit(message string) (bool, string, error)
	CurrentRef() (string, error)
	StageAllIn(dir string) error
	CommitIn(dir, message string) (bool, string, error)
	DeleteBranch(branch string) error
}

var _ GitWorktreeOperations = (*Manager)(nil)
