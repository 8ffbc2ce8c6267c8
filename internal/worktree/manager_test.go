package worktree

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// call records one invocation made against a fakeExecutor.
type call struct {
	dir  string
	name string
	args []string
}

// fakeExecutor is a scriptable CommandExecutor: responses are looked up by
// the joined command line; an unscripted command returns empty output and
// a nil error.
type fakeExecutor struct {
	calls     []call
	responses map[string][]byte
	errors    map[string]error
	quiet     map[string]error
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		responses: make(map[string][]byte),
		errors:    make(map[string]error),
		quiet:     make(map[string]error),
	}
}

func (f *fakeExecutor) key(name string, args ...string) string {
	return name + " " + strings.Join(args, " ")
}

func (f *fakeExecutor) on(output string, err error, name string, args ...string) {
	f.responses[f.key(name, args...)] = []byte(output)
	f.errors[f.key(name, args...)] = err
}

func (f *fakeExecutor) Run(dir, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, call{dir: dir, name: name, args: args})
	k := f.key(name, args...)
	return f.responses[k], f.errors[k]
}

func (f *fakeExecutor) RunQuiet(dir, name string, args ...string) error {
	f.calls = append(f.calls, call{dir: dir, name: name, args: args})
	return f.quiet[f.key(name, args...)]
}

func newTestManager(t *testing.T, executor CommandExecutor) (*Manager, string) {
	t.Helper()
	repoDir := t.TempDir()
	if err := os.Mkdir(filepath.Join(repoDir, ".git"), 0o755); err != nil {
		t.Fatalf("creating fake .git dir: %v", err)
	}
	m := NewWithExecutor(repoDir, ".cantina-worktrees", "parallel", 120*time.Second, 30*time.Second, true, executor)
	return m, repoDir
}

func TestCreateWorktree_AppendsGitignoreAndRunsGitWorktreeAdd(t *testing.T) {
	fx := newFakeExecutor()
	m, repoDir := newTestManager(t, fx)

	info, err := m.CreateWorktree("batch-1", 0, "")
	if err != nil {
		t.Fatalf("CreateWorktree: %v", err)
	}
	if info.Branch != "parallel/batch-1/0" {
		t.Errorf("branch = %q, want parallel/batch-1/0", info.Branch)
	}
	if info.Status != StatusActive {
		t.Errorf("status = %q, want active", info.Status)
	}

	gitignore, err := os.ReadFile(filepath.Join(repoDir, ".gitignore"))
	if err != nil {
		t.Fatalf("reading .gitignore: %v", err)
	}
	if !strings.Contains(string(gitignore), ".cantina-worktrees/") {
		t.Errorf(".gitignore = %q, want it to contain the worktree root", gitignore)
	}

	found := false
	for _, c := range fx.calls {
		if c.name == "git" && len(c.args) >= 2 && c.args[0] == "worktree" && c.args[1] == "add" {
			found = true
			if c.args[2] != "-b" || c.args[3] != "parallel/batch-1/0" {
				t.Errorf("worktree add args = %v", c.args)
			}
			if c.args[5] != "HEAD" {
				t.Errorf("expected default base_ref HEAD, got %q", c.args[5])
			}
		}
	}
	if !found {
		t.Error("expected a 'git worktree add' invocation")
	}
}

func TestCreateWorktree_GitignoreIdempotent(t *testing.T) {
	fx := newFakeExecutor()
	m, repoDir := newTestManager(t, fx)

	if _, err := m.CreateWorktree("batch-1", 0, ""); err != nil {
		t.Fatalf("first CreateWorktree: %v", err)
	}
	if _, err := m.CreateWorktree("batch-1", 1, ""); err != nil {
		t.Fatalf("second CreateWorktree: %v", err)
	}

	gitignore, _ := os.ReadFile(filepath.Join(repoDir, ".gitignore"))
	if strings.Count(string(gitignore), ".cantina-worktrees") != 1 {
		t.Errorf(".gitignore should mention the worktree root exactly once, got:\n%s", gitignore)
	}
}

func TestCreateWorktree_SymlinksExistingNodeModules(t *testing.T) {
	fx := newFakeExecutor()
	m, repoDir := newTestManager(t, fx)

	if err := os.MkdirAll(filepath.Join(repoDir, "node_modules", "left-pad"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(repoDir, "frontend", "node_modules", "react"), 0o755); err != nil {
		t.Fatal(err)
	}

	// The worktree path itself won't exist on disk (git worktree add is
	// faked), so create it to mimic what the real git call would produce.
	worktreePath := filepath.Join(repoDir, ".cantina-worktrees", "batch-1", "task-0")
	if err := os.MkdirAll(worktreePath, 0o755); err != nil {
		t.Fatal(err)
	}

	if _, err := m.CreateWorktree("batch-1", 0, ""); err != nil {
		t.Fatalf("CreateWorktree: %v", err)
	}

	if target, err := os.Readlink(filepath.Join(worktreePath, "node_modules")); err != nil {
		t.Errorf("expected node_modules symlink, got error: %v", err)
	} else if target != filepath.Join(repoDir, "node_modules") {
		t.Errorf("symlink target = %q", target)
	}

	if _, err := os.Readlink(filepath.Join(worktreePath, "frontend", "node_modules")); err != nil {
		t.Errorf("expected frontend/node_modules symlink, got error: %v", err)
	}
}

func TestCreateWorktree_GitFailureWrapsError(t *testing.T) {
	fx := newFakeExecutor()
	m, _ := newTestManager(t, fx)

	fx.on("fatal: branch already exists", errors.New("exit status 128"), "git", "worktree", "add", "-b", m.branchName("batch-1", 0), m.worktreePath("batch-1", 0), "HEAD")

	_, err := m.CreateWorktree("batch-1", 0, "")
	if err == nil {
		t.Fatal("expected error from failing git worktree add")
	}
	if !strings.Contains(err.Error(), "failed to create worktree") {
		t.Errorf("error = %v, want it to mention worktree creation failure", err)
	}
}

func TestListWorktrees_ParsesPorcelainAndFiltersByPrefix(t *testing.T) {
	fx := newFakeExecutor()
	m, repoDir := newTestManager(t, fx)
	root := m.RootDir()

	porcelain := "worktree " + repoDir + "\n" +
		"HEAD abc123\n" +
		"branch refs/heads/main\n" +
		"\n" +
		"worktree " + filepath.Join(root, "batch-1", "task-0") + "\n" +
		"HEAD def456\n" +
		"branch refs/heads/parallel/batch-1/0\n" +
		"\n" +
		"worktree " + filepath.Join(root, "batch-1", "task-1") + "\n" +
		"HEAD ghi789\n" +
		"branch refs/heads/parallel/batch-1/1\n"

	fx.on(porcelain, nil, "git", "worktree", "list", "--porcelain")

	infos, err := m.ListWorktrees()
	if err != nil {
		t.Fatalf("ListWorktrees: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("got %d worktrees, want 2 (main checkout excluded)", len(infos))
	}
	if infos[0].TaskIndex != 0 || infos[1].TaskIndex != 1 {
		t.Errorf("task indexes = %d, %d, want 0, 1", infos[0].TaskIndex, infos[1].TaskIndex)
	}
}

func TestRemoveWorktree_IdempotentWhenAlreadyGone(t *testing.T) {
	fx := newFakeExecutor()
	m, _ := newTestManager(t, fx)

	ok, msg, err := m.RemoveWorktree(filepath.Join(t.TempDir(), "does-not-exist"), false)
	if err != nil || !ok {
		t.Fatalf("expected idempotent success, got ok=%v err=%v", ok, err)
	}
	if msg == "" {
		t.Error("expected a message explaining the no-op")
	}
	if len(fx.calls) != 0 {
		t.Errorf("expected no git calls for an already-gone worktree, got %d", len(fx.calls))
	}
}

func TestRemoveWorktree_RunsGitWorktreeRemove(t *testing.T) {
	fx := newFakeExecutor()
	m, _ := newTestManager(t, fx)

	path := t.TempDir()
	ok, _, err := m.RemoveWorktree(path, true)
	if err != nil || !ok {
		t.Fatalf("RemoveWorktree: ok=%v err=%v", ok, err)
	}

	found := false
	for _, c := range fx.calls {
		if c.name == "git" && len(c.args) >= 2 && c.args[0] == "worktree" && c.args[1] == "remove" {
			found = true
			if !contains(c.args, "--force") {
				t.Error("expected --force in args")
			}
		}
	}
	if !found {
		t.Error("expected a 'git worktree remove' invocation")
	}
}

func TestMergeBranch_Clean(t *testing.T) {
	fx := newFakeExecutor()
	m, _ := newTestManager(t, fx)

	fx.on("Already up to date.", nil, "git", "merge", "--no-ff", "parallel/batch-1/0")

	ok, _, conflicts, err := m.MergeBranch("parallel/batch-1/0", "")
	if err != nil {
		t.Fatalf("MergeBranch: %v", err)
	}
	if !ok {
		t.Error("expected successful merge")
	}
	if len(conflicts) != 0 {
		t.Errorf("expected no conflicts, got %v", conflicts)
	}
}

func TestMergeBranch_ChecksOutTargetWhenNotHEAD(t *testing.T) {
	fx := newFakeExecutor()
	m, _ := newTestManager(t, fx)
	fx.on("", nil, "git", "checkout", "main")
	fx.on("merged", nil, "git", "merge", "--no-ff", "parallel/batch-1/0")

	if _, _, _, err := m.MergeBranch("parallel/batch-1/0", "main"); err != nil {
		t.Fatalf("MergeBranch: %v", err)
	}

	found := false
	for _, c := range fx.calls {
		if c.name == "git" && len(c.args) == 2 && c.args[0] == "checkout" && c.args[1] == "main" {
			found = true
		}
	}
	if !found {
		t.Error("expected a 'git checkout main' before merging")
	}
}

func TestMergeBranch_ConflictAbortsAndReportsFiles(t *testing.T) {
	fx := newFakeExecutor()
	m, _ := newTestManager(t, fx)

	fx.on("CONFLICT (content): Merge conflict in a.go", errors.New("exit status 1"), "git", "merge", "--no-ff", "parallel/batch-1/0")
	fx.on("a.go\nb.go\n", nil, "git", "diff", "--name-only", "--diff-filter=U")

	ok, _, conflicts, err := m.MergeBranch("parallel/batch-1/0", "")
	if ok {
		t.Error("expected merge to fail")
	}
	if err == nil {
		t.Fatal("expected an error")
	}
	if len(conflicts) != 2 || conflicts[0] != "a.go" || conflicts[1] != "b.go" {
		t.Errorf("conflicts = %v, want [a.go b.go]", conflicts)
	}

	abortCalled := false
	for _, c := range fx.calls {
		if c.name == "git" && len(c.args) == 2 && c.args[0] == "merge" && c.args[1] == "--abort" {
			abortCalled = true
		}
	}
	if !abortCalled {
		t.Error("expected 'git merge --abort' to run after a conflicting merge")
	}
}

func TestIsWorkingTreeClean(t *testing.T) {
	fx := newFakeExecutor()
	m, _ := newTestManager(t, fx)

	fx.on("", nil, "git", "status", "--porcelain", "--untracked-files=no")
	clean, err := m.IsWorkingTreeClean()
	if err != nil || !clean {
		t.Fatalf("expected clean tree, got clean=%v err=%v", clean, err)
	}

	fx.on(" M foo.go\n", nil, "git", "status", "--porcelain", "--untracked-files=no")
	clean, err = m.IsWorkingTreeClean()
	if err != nil || clean {
		t.Fatalf("expected dirty tree, got clean=%v err=%v", clean, err)
	}
}

func TestGetDirtyFiles(t *testing.T) {
	fx := newFakeExecutor()
	m, _ := newTestManager(t, fx)
	fx.on(" M foo.go\nA  bar.go\n", nil, "git", "status", "--porcelain", "--untracked-files=no")

	files, err := m.GetDirtyFiles()
	if err != nil {
		t.Fatalf("GetDirtyFiles: %v", err)
	}
	if len(files) != 2 || files[0] != "bar.go" || files[1] != "foo.go" {
		t.Errorf("files = %v, want [bar.go foo.go]", files)
	}
}

func TestCommit_NothingToCommitIsNotAnError(t *testing.T) {
	fx := newFakeExecutor()
	m, _ := newTestManager(t, fx)
	fx.on("nothing to commit, working tree clean", errors.New("exit status 1"), "git", "commit", "-m", "msg")

	committed, sha, err := m.Commit("msg")
	if err != nil {
		t.Fatalf("Commit should not error on nothing-to-commit: %v", err)
	}
	if committed {
		t.Error("expected committed=false when there was nothing to commit")
	}
	if sha != "" {
		t.Errorf("expected empty sha, got %q", sha)
	}
}

func TestCommit_Success(t *testing.T) {
	fx := newFakeExecutor()
	m, _ := newTestManager(t, fx)
	fx.on("[main abc1234] msg", nil, "git", "commit", "-m", "msg")
	fx.on("abc1234def5678\n", nil, "git", "rev-parse", "HEAD")

	committed, sha, err := m.Commit("msg")
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if !committed {
		t.Error("expected committed=true")
	}
	if sha != "abc1234def5678" {
		t.Errorf("sha = %q, want abc1234def5678", sha)
	}
}

func TestCleanupBatch_RemovesWorktreesAndBranchesForBatchOnly(t *testing.T) {
	fx := newFakeExecutor()
	m, _ := newTestManager(t, fx)
	root := m.RootDir()

	porcelain := "worktree " + filepath.Join(root, "batch-1", "task-0") + "\n" +
		"branch refs/heads/parallel/batch-1/0\n" +
		"\n" +
		"worktree " + filepath.Join(root, "batch-2", "task-0") + "\n" +
		"branch refs/heads/parallel/batch-2/0\n"
	fx.on(porcelain, nil, "git", "worktree", "list", "--porcelain")

	n, err := m.CleanupBatch("batch-1")
	if err != nil {
		t.Fatalf("CleanupBatch: %v", err)
	}
	if n != 1 {
		t.Errorf("cleaned = %d, want 1", n)
	}

	for _, c := range fx.calls {
		if c.name == "git" && len(c.args) >= 2 && c.args[0] == "branch" && c.args[1] == "-D" {
			if c.args[2] != "parallel/batch-1/0" {
				t.Errorf("deleted wrong branch: %v", c.args)
			}
		}
	}
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
