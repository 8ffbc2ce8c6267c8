package cantinaerrors

import "fmt"

// WorktreeError represents a structural git-worktree failure: add/remove
// rejected, prune failed, etc. Callers convert these to batch-level errors;
// the worktree manager itself never swallows them (spec: "Worktree manager
// raises on structural git failures").
type WorktreeError struct {
	baseError
	Path   string
	Branch string
}

// NewWorktreeError wraps a git command failure, typically including the
// command's stderr as cause.
func NewWorktreeError(message string, cause error) *WorktreeError {
	return &WorktreeError{
		baseError: baseError{message: message, cause: cause, severity: SeverityError, retryable: false, userFacing: true},
	}
}

func (e *WorktreeError) WithPath(path string) *WorktreeError {
	e.Path = path
	return e
}

func (e *WorktreeError) WithBranch(branch string) *WorktreeError {
	e.Branch = branch
	return e
}

var _ CantinaError = (*WorktreeError)(nil)

// MergeConflictError represents conflicting files left behind by an
// aborted `git merge --no-ff`. The merge is always aborted before this
// error is returned, so the target branch is never left mid-merge.
type MergeConflictError struct {
	baseError
	Branch        string
	ConflictFiles []string
}

func NewMergeConflictError(branch string, files []string) *MergeConflictError {
	return &MergeConflictError{
		baseError: baseError{
			message:    fmt.Sprintf("merge conflict on branch %s: %d file(s)", branch, len(files)),
			severity:   SeverityError,
			retryable:  false,
			userFacing: true,
		},
		Branch:        branch,
		ConflictFiles: files,
	}
}

var _ CantinaError = (*MergeConflictError)(nil)
