package orchestrator

import (
	"fmt"
	"sync"

	"github.com/cantina-run/cantina/internal/cantinaerrors"
	"github.com/cantina-run/cantina/internal/worktree"
)

// fakeWorktree is a scriptable worktree.GitWorktreeOperations double,
// following the fakeExecutor pattern in internal/worktree/manager_test.go
// one layer up: rather than faking git subprocess output, it fakes the
// manager's own method contracts directly, since the orchestrator only
// ever talks to worktree.GitWorktreeOperations.
type fakeWorktree struct {
	mu    sync.Mutex
	calls []string

	cleanTree bool
	dirtyList []string

	// mergeSuccess and mergeConflicts, keyed by branch, let a test script
	// a specific success/conflict outcome per branch.
	mergeSuccess   map[string]bool
	mergeConflicts map[string][]string

	nextWorktreeSeq int
	removedPaths    []string
	deletedBranches []string
	committedDirs   []string

	currentRef string
}

func newFakeWorktree() *fakeWorktree {
	return &fakeWorktree{
		cleanTree:      true,
		mergeSuccess:   make(map[string]bool),
		mergeConflicts: make(map[string][]string),
		currentRef:     "deadbeef",
	}
}

func (f *fakeWorktree) record(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, s)
}

func (f *fakeWorktree) CreateWorktree(batchID string, taskIndex int, baseRef string) (*worktree.WorktreeInfo, error) {
	f.mu.Lock()
	f.nextWorktreeSeq++
	seq := f.nextWorktreeSeq
	f.mu.Unlock()

	path := fmt.Sprintf("/fake/%s/task-%d-%d", batchID, taskIndex, seq)
	branch := fmt.Sprintf("parallel/%s/%d", batchID, taskIndex)
	f.record(fmt.Sprintf("create %s", branch))
	return &worktree.WorktreeInfo{Path: path, Branch: branch, TaskIndex: taskIndex, Status: worktree.StatusActive}, nil
}

func (f *fakeWorktree) ListWorktrees() ([]*worktree.WorktreeInfo, error) { return nil, nil }

func (f *fakeWorktree) RemoveWorktree(path string, force bool) (bool, string, error) {
	f.mu.Lock()
	f.removedPaths = append(f.removedPaths, path)
	f.mu.Unlock()
	f.record("remove " + path)
	return true, "removed", nil
}

func (f *fakeWorktree) CleanupBatch(batchID string) (int, error) {
	f.record("cleanup_batch " + batchID)
	return 0, nil
}

func (f *fakeWorktree) CleanupOrphans() (int, error) {
	f.record("cleanup_orphans")
	return 0, nil
}

func (f *fakeWorktree) MergeBranch(branch, into string) (bool, string, []string, error) {
	f.record("merge " + branch)
	f.mu.Lock()
	defer f.mu.Unlock()
	if conflicts, ok := f.mergeConflicts[branch]; ok {
		return false, "conflict", conflicts, cantinaerrors.NewMergeConflictError(branch, conflicts)
	}
	success, ok := f.mergeSuccess[branch]
	if !ok {
		success = true
	}
	if !success {
		return false, "merge failed", nil, fmt.Errorf("merge failed for %s", branch)
	}
	return true, "merged " + branch, nil, nil
}

func (f *fakeWorktree) IsWorkingTreeClean() (bool, error) {
	return f.cleanTree, nil
}

func (f *fakeWorktree) GetDirtyFiles() ([]string, error) {
	return f.dirtyList, nil
}

func (f *fakeWorktree) StageAll() error {
	f.record("stage_all")
	return nil
}

func (f *fakeWorktree) StageFiles(paths []string) error { return nil }

func (f *fakeWorktree) Commit(message string) (bool, string, error) {
	f.record("commit")
	return false, "", nil
}

func (f *fakeWorktree) CurrentRef() (string, error) {
	return f.currentRef, nil
}

func (f *fakeWorktree) StageAllIn(dir string) error {
	f.record("stage_in " + dir)
	return nil
}

func (f *fakeWorktree) CommitIn(dir, message string) (bool, string, error) {
	f.mu.Lock()
	f.committedDirs = append(f.committedDirs, dir)
	f.mu.Unlock()
	f.record("commit_in " + dir)
	return true, "abc123", nil
}

func (f *fakeWorktree) DeleteBranch(branch string) error {
	f.mu.Lock()
	f.deletedBranches = append(f.deletedBranches, branch)
	f.mu.Unlock()
	f.record("delete_branch " + branch)
	return nil
}

var _ worktree.GitWorktreeOperations = (*fakeWorktree)(nil)
