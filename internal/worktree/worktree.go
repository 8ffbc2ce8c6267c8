package worktree

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cantina-run/cantina/internal/cantinaerrors"
	"github.com/cantina-run/cantina/internal/config"
	"github.com/cantina-run/cantina/internal/logging"
)

// Manager owns the lifecycle of worktrees under one repository's worktree
// root directory.
type Manager struct {
	repoDir            string
	rootDirName        string
	branchPrefix       string
	mergeTimeout       time.Duration
	gitTimeout         time.Duration
	symlinkNodeModules bool
	executor           CommandExecutor
	logger             *logging.Logger
}

// New returns a Manager rooted at repoDir, which must contain a .git
// directory.
func New(repoDir, rootDirName, branchPrefix string, mergeTimeout, gitTimeout time.Duration, symlinkNodeModules bool) (*Manager, error) {
	if _, err := os.Stat(filepath.Join(repoDir, ".git")); err != nil {
		return nil, fmt.Errorf("worktree: %s is not a git repository: %w", repoDir, err)
	}
	return &Manager{
		repoDir:            repoDir,
		rootDirName:        rootDirName,
		branchPrefix:       branchPrefix,
		mergeTimeout:       mergeTimeout,
		gitTimeout:         gitTimeout,
		symlinkNodeModules: symlinkNodeModules,
		executor:           NewCLICommandExecutor(),
	}, nil
}

// NewFromConfig returns a Manager rooted at repoDir, configured from cfg.
func NewFromConfig(repoDir string, cfg config.WorktreeConfig) (*Manager, error) {
	return New(repoDir, cfg.RootDirName, cfg.BranchPrefix, cfg.MergeTimeout(), cfg.GitTimeout(), cfg.SymlinkNodeModules)
}

// NewWithExecutor is New with an injected CommandExecutor, for tests.
func NewWithExecutor(repoDir, rootDirName, branchPrefix string, mergeTimeout, gitTimeout time.Duration, symlinkNodeModules bool, executor CommandExecutor) *Manager {
	return &Manager{
		repoDir:            repoDir,
		rootDirName:        rootDirName,
		branchPrefix:       branchPrefix,
		mergeTimeout:       mergeTimeout,
		gitTimeout:         gitTimeout,
		symlinkNodeModules: symlinkNodeModules,
		executor:           executor,
	}
}

// SetLogger attaches a logger; the manager operates silently without one.
func (m *Manager) SetLogger(logger *logging.Logger) {
	m.logger = logger
}

// RootDir is the absolute path to the worktree root directory.
func (m *Manager) RootDir() string {
	return filepath.Join(m.repoDir, m.rootDirName)
}

// branchName derives "<prefix>/<batch>/<task_index>".
func (m *Manager) branchName(batchID string, taskIndex int) string {
	return fmt.Sprintf("%s/%s/%d", m.branchPrefix, batchID, taskIndex)
}

// worktreePath derives the on-disk path for one batch/task worktree.
func (m *Manager) worktreePath(batchID string, taskIndex int) string {
	return filepath.Join(m.RootDir(), batchID, fmt.Sprintf("task-%d", taskIndex))
}

// run executes a git subcommand bounded by the manager's git timeout (30s
// by default; spec.md calls this the timeout for "most" git subprocess
// calls, merges get their own longer budget via MergeBranch).
func (m *Manager) run(args ...string) ([]byte, error) {
	type result struct {
		output []byte
		err    error
	}
	done := make(chan result, 1)
	go func() {
		output, err := m.executor.Run(m.repoDir, "git", args...)
		done <- result{output, err}
	}()

	timer := time.NewTimer(m.gitTimeout)
	defer timer.Stop()
	select {
	case r := <-done:
		return r.output, r.err
	case <-timer.C:
		return nil, fmt.Errorf("git %s: timed out after %s", strings.Join(args, " "), m.gitTimeout)
	}
}

// runIn executes a git subcommand in an arbitrary directory rather than
// m.repoDir, bounded by the manager's git timeout. The orchestrator uses
// this to stage and commit inside an agent's worktree before that
// worktree is removed (the Lost-Work Rule: commit must happen before
// RemoveWorktree, since `git worktree remove` silently discards
// uncommitted changes).
func (m *Manager) runIn(dir string, args ...string) ([]byte, error) {
	type result struct {
		output []byte
		err    error
	}
	done := make(chan result, 1)
	go func() {
		output, err := m.executor.Run(dir, "git", args...)
		done <- result{output, err}
	}()

	timer := time.NewTimer(m.gitTimeout)
	defer timer.Stop()
	select {
	case r := <-done:
		return r.output, r.err
	case <-timer.C:
		return nil, fmt.Errorf("git %s (in %s): timed out after %s", strings.Join(args, " "), dir, m.gitTimeout)
	}
}

// CurrentRef resolves the commit the main working tree's HEAD currently
// points at. The orchestrator calls this once per phase, not once per
// batch, since later phases must see earlier phases' merges in their
// worktrees' base ref.
func (m *Manager) CurrentRef() (string, error) {
	output, err := m.run("rev-parse", "HEAD")
	if err != nil {
		return "", cantinaerrors.NewWorktreeError("failed to resolve current HEAD", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// StageAllIn runs `git add -A` inside an arbitrary worktree directory.
func (m *Manager) StageAllIn(dir string) error {
	if _, err := m.runIn(dir, "add", "-A"); err != nil {
		return cantinaerrors.NewWorktreeError("failed to stage changes", err).WithPath(dir)
	}
	return nil
}

// CommitIn commits staged changes inside an arbitrary worktree directory,
// returning (false, "", nil) if there was nothing to commit — not an
// error, it just means the agent produced no file changes.
func (m *Manager) CommitIn(dir, message string) (bool, string, error) {
	output, err := m.runIn(dir, "commit", "-m", message)
	if err != nil {
		if strings.Contains(string(output), "nothing to commit") {
			return false, "", nil
		}
		return false, "", cantinaerrors.NewWorktreeError("failed to commit", err).WithPath(dir)
	}

	sha, shaErr := m.runIn(dir, "rev-parse", "HEAD")
	if shaErr != nil {
		return true, "", nil
	}
	return true, strings.TrimSpace(string(sha)), nil
}

// DeleteBranch deletes branch with `git branch -D`, used by the merge
// phase after a branch has been merged into main.
func (m *Manager) DeleteBranch(branch string) error {
	if _, err := m.run("branch", "-D", branch); err != nil {
		return cantinaerrors.NewWorktreeError("failed to delete branch", err).WithBranch(branch)
	}
	return nil
}

// CreateWorktree creates a new worktree and branch for one task, per
// spec.md §4.3: appends the worktree root to .gitignore idempotently,
// runs `git worktree add -b <branch> <path> <base_ref>`, and mirrors
// existing node_modules directories into the new checkout.
func (m *Manager) CreateWorktree(batchID string, taskIndex int, baseRef string) (*WorktreeInfo, error) {
	if baseRef == "" {
		baseRef = "HEAD"
	}

	if err := m.ensureGitignored(); err != nil {
		return nil, err
	}

	branch := m.branchName(batchID, taskIndex)
	path := m.worktreePath(batchID, taskIndex)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("worktree: creating parent directory for %s: %w", path, err)
	}

	output, err := m.run("worktree", "add", "-b", branch, path, baseRef)
	if err != nil {
		return nil, cantinaerrors.NewWorktreeError("failed to create worktree", err).
			WithPath(path).
			WithBranch(branch)
	}
	if m.logger != nil {
		m.logger.Info("worktree created", "path", path, "branch", branch, "base_ref", baseRef, "git_output", truncate(string(output), 500))
	}

	if m.symlinkNodeModules {
		if err := m.symlinkExistingNodeModules(path); err != nil && m.logger != nil {
			m.logger.Warn("failed to symlink node_modules into worktree", "path", path, "error", err)
		}
	}

	return &WorktreeInfo{
		Path:      path,
		Branch:    branch,
		TaskIndex: taskIndex,
		CreatedAt: time.Now(),
		Status:    StatusActive,
	}, nil
}

// ensureGitignored appends the worktree root to .gitignore exactly once.
func (m *Manager) ensureGitignored() error {
	gitignorePath := filepath.Join(m.repoDir, ".gitignore")
	entry := m.rootDirName + "/"

	existing, err := os.ReadFile(gitignorePath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("worktree: reading .gitignore: %w", err)
	}

	for _, line := range strings.Split(string(existing), "\n") {
		if strings.TrimSpace(line) == strings.TrimSuffix(entry, "/") || strings.TrimSpace(line) == entry {
			return nil
		}
	}

	f, err := os.OpenFile(gitignorePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("worktree: opening .gitignore: %w", err)
	}
	defer f.Close()

	prefix := ""
	if len(existing) > 0 && !strings.HasSuffix(string(existing), "\n") {
		prefix = "\n"
	}
	_, err = f.WriteString(prefix + entry + "\n")
	return err
}

// symlinkExistingNodeModules mirrors node_modules from the main checkout
// (repo root and one level into subprojects) into the new worktree, so
// downstream type-checking tooling resolves dependencies without a fresh
// install per worktree.
func (m *Manager) symlinkExistingNodeModules(worktreePath string) error {
	candidates, err := m.findNodeModulesDirs()
	if err != nil {
		return err
	}

	var firstErr error
	for _, rel := range candidates {
		src := filepath.Join(m.repoDir, rel)
		dst := filepath.Join(worktreePath, rel)

		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if _, err := os.Lstat(dst); err == nil {
			continue // already present (e.g. git worktree add populated it)
		}
		if err := os.Symlink(src, dst); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// findNodeModulesDirs lists node_modules directories at repo root and one
// level into subdirectories.
func (m *Manager) findNodeModulesDirs() ([]string, error) {
	var found []string

	if info, err := os.Stat(filepath.Join(m.repoDir, "node_modules")); err == nil && info.IsDir() {
		found = append(found, "node_modules")
	}

	entries, err := os.ReadDir(m.repoDir)
	if err != nil {
		return found, fmt.Errorf("worktree: reading repo root: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == m.rootDirName || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		candidate := filepath.Join(entry.Name(), "node_modules")
		if info, err := os.Stat(filepath.Join(m.repoDir, candidate)); err == nil && info.IsDir() {
			found = append(found, candidate)
		}
	}
	return found, nil
}

// ListWorktrees parses `git worktree list --porcelain` and returns only
// entries under the worktree root whose branch begins with the
// configured prefix.
func (m *Manager) ListWorktrees() ([]*WorktreeInfo, error) {
	output, err := m.run("worktree", "list", "--porcelain")
	if err != nil {
		return nil, cantinaerrors.NewWorktreeError("failed to list worktrees", err)
	}

	root := m.RootDir()
	var infos []*WorktreeInfo
	var currentPath, currentBranch string

	flush := func() {
		if currentPath == "" {
			return
		}
		if strings.HasPrefix(currentPath, root) && strings.HasPrefix(currentBranch, m.branchPrefix+"/") {
			taskIndex := taskIndexFromBranch(currentBranch)
			infos = append(infos, &WorktreeInfo{
				Path:      currentPath,
				Branch:    currentBranch,
				TaskIndex: taskIndex,
				Status:    StatusActive,
			})
		}
		currentPath, currentBranch = "", ""
	}

	scanner := bufio.NewScanner(strings.NewReader(string(output)))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "worktree "):
			flush()
			currentPath = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "branch "):
			currentBranch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		case line == "":
			flush()
		}
	}
	flush()

	return infos, nil
}

// taskIndexFromBranch extracts the trailing integer from
// "<prefix>/<batch>/<task_index>"; returns -1 if malformed.
func taskIndexFromBranch(branch string) int {
	parts := strings.Split(branch, "/")
	if len(parts) == 0 {
		return -1
	}
	var index int
	if _, err := fmt.Sscanf(parts[len(parts)-1], "%d", &index); err != nil {
		return -1
	}
	return index
}

// RemoveWorktree runs `git worktree remove`, idempotent if already gone.
func (m *Manager) RemoveWorktree(path string, force bool) (bool, string, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return true, "already removed", nil
	}

	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)

	output, err := m.run(args...)
	if err != nil {
		_ = os.RemoveAll(path)
		_, _ = m.run("worktree", "prune")
		return false, string(output), cantinaerrors.NewWorktreeError("failed to remove worktree", err).WithPath(path)
	}
	return true, strings.TrimSpace(string(output)), nil
}

// CleanupBatch removes every worktree and branch belonging to batchID,
// returning the count cleaned.
func (m *Manager) CleanupBatch(batchID string) (int, error) {
	return m.cleanupMatching(func(branch string) bool {
		return strings.HasPrefix(branch, m.branchPrefix+"/"+batchID+"/")
	}, filepath.Join(m.RootDir(), batchID))
}

// CleanupOrphans removes every cantina-managed worktree, regardless of
// batch. Intended for startup, to reclaim worktrees left by a prior crash.
func (m *Manager) CleanupOrphans() (int, error) {
	return m.cleanupMatching(func(branch string) bool {
		return strings.HasPrefix(branch, m.branchPrefix+"/")
	}, m.RootDir())
}

func (m *Manager) cleanupMatching(match func(branch string) bool, rootToPrune string) (int, error) {
	infos, err := m.ListWorktrees()
	if err != nil {
		return 0, err
	}

	cleaned := 0
	for _, info := range infos {
		if !match(info.Branch) {
			continue
		}
		if _, _, err := m.RemoveWorktree(info.Path, true); err != nil {
			if m.logger != nil {
				m.logger.Warn("failed to remove worktree during cleanup", "path", info.Path, "error", err)
			}
			continue
		}
		if _, err := m.run("branch", "-D", info.Branch); err != nil && m.logger != nil {
			m.logger.Warn("failed to delete branch during cleanup", "branch", info.Branch, "error", err)
		}
		cleaned++
	}

	_, _ = m.run("worktree", "prune")
	_ = os.Remove(rootToPrune) // best-effort; only succeeds if empty

	return cleaned, nil
}

// MergeBranch merges branch into the target branch (checking it out
// first if it isn't HEAD), aborting and reporting conflict files on
// failure so nothing is ever left mid-merge.
func (m *Manager) MergeBranch(branch, into string) (bool, string, []string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.mergeTimeout)
	defer cancel()

	if into != "" {
		if _, err := m.executor.Run(m.repoDir, "git", "checkout", into); err != nil {
			return false, "", nil, cantinaerrors.NewWorktreeError("failed to checkout target branch", err).WithBranch(into)
		}
	}

	done := make(chan struct {
		output []byte
		err    error
	}, 1)
	go func() {
		output, err := m.executor.Run(m.repoDir, "git", "merge", "--no-ff", branch)
		done <- struct {
			output []byte
			err    error
		}{output, err}
	}()

	select {
	case <-ctx.Done():
		_, _ = m.executor.Run(m.repoDir, "git", "merge", "--abort")
		return false, "merge timed out", nil, cantinaerrors.NewWorktreeError("merge timed out", ctx.Err()).WithBranch(branch)
	case result := <-done:
		if result.err == nil {
			return true, strings.TrimSpace(string(result.output)), nil, nil
		}

		conflictOutput, _ := m.executor.Run(m.repoDir, "git", "diff", "--name-only", "--diff-filter=U")
		conflicts := splitNonEmptyLines(string(conflictOutput))
		_, _ = m.executor.Run(m.repoDir, "git", "merge", "--abort")

		return false, strings.TrimSpace(string(result.output)), conflicts, cantinaerrors.NewMergeConflictError(branch, conflicts)
	}
}

// IsWorkingTreeClean reports whether the main working tree has any
// tracked modifications; untracked files are allowed.
func (m *Manager) IsWorkingTreeClean() (bool, error) {
	output, err := m.run("status", "--porcelain", "--untracked-files=no")
	if err != nil {
		return false, cantinaerrors.NewWorktreeError("failed to check working tree status", err)
	}
	return len(strings.TrimSpace(string(output))) == 0, nil
}

// GetDirtyFiles returns the tracked files with uncommitted modifications.
func (m *Manager) GetDirtyFiles() ([]string, error) {
	output, err := m.run("status", "--porcelain", "--untracked-files=no")
	if err != nil {
		return nil, cantinaerrors.NewWorktreeError("failed to get dirty files", err)
	}

	var files []string
	for _, line := range splitNonEmptyLines(string(output)) {
		if len(line) > 3 {
			files = append(files, strings.TrimSpace(line[3:]))
		}
	}
	sort.Strings(files)
	return files, nil
}

// StageAll runs `git add -A` in the main repository.
func (m *Manager) StageAll() error {
	if _, err := m.run("add", "-A"); err != nil {
		return cantinaerrors.NewWorktreeError("failed to stage changes", err)
	}
	return nil
}

// StageFiles runs `git add <paths...>`.
func (m *Manager) StageFiles(paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	args := append([]string{"add"}, paths...)
	if _, err := m.run(args...); err != nil {
		return cantinaerrors.NewWorktreeError("failed to stage files", err)
	}
	return nil
}

// Commit commits staged changes, returning (false, "", nil) if there was
// nothing to commit.
func (m *Manager) Commit(message string) (bool, string, error) {
	output, err := m.run("commit", "-m", message)
	if err != nil {
		if strings.Contains(string(output), "nothing to commit") {
			return false, "", nil
		}
		return false, "", cantinaerrors.NewWorktreeError("failed to commit", err)
	}

	sha, shaErr := m.run("rev-parse", "HEAD")
	if shaErr != nil {
		return true, "", nil
	}
	return true, strings.TrimSpace(string(sha)), nil
}

func splitNonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
