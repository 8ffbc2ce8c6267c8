package orchestrator

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/cantina-run/cantina/internal/logging"
)

// concurrentEditWatcher gives an advisory, best-effort early warning that
// more than one agent touched the same file during the batch. It
// never blocks or vetoes a merge — git's own merge conflict detection in
// the merge phase is the only authority on whether a merge actually
// conflicts. This only supplements MergeResult.Message with a hint.
type concurrentEditWatcher struct {
	mu      sync.Mutex
	watcher *fsnotify.Watcher
	logger  *logging.Logger

	// touchedBy maps a worktree-relative path to the set of
	// repTaskIndex values whose worktree directory saw a write to it.
	touchedBy map[string]map[int]bool
	// rootOwner maps a watched root directory to the repTaskIndex that
	// owns it, so events arriving from fsnotify (which only carries an
	// absolute path) can be attributed back to an agent.
	rootOwner map[string]int

	done chan struct{}
}

// newConcurrentEditWatcher starts the watcher's event loop. If the
// underlying fsnotify watcher fails to initialize, it returns a
// watcher whose methods are all safe no-ops, since this feature is
// advisory only and must never fail a batch.
func newConcurrentEditWatcher(logger *logging.Logger) *concurrentEditWatcher {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("fsnotify unavailable, concurrent-edit hints disabled", "error", err.Error())
		return &concurrentEditWatcher{}
	}

	w := &concurrentEditWatcher{
		watcher:   fw,
		logger:    logger,
		touchedBy: make(map[string]map[int]bool),
		rootOwner: make(map[string]int),
		done:      make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *concurrentEditWatcher) loop() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.record(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Warn("fsnotify error", "error", err.Error())
			}
		case <-w.done:
			return
		}
	}
}

// watch recursively adds root (an agent's worktree directory) to the
// watcher, skipping .git, and records repTaskIndex as its owner.
func (w *concurrentEditWatcher) watch(root string, repTaskIndex int) {
	if w == nil || w.watcher == nil {
		return
	}

	w.mu.Lock()
	w.rootOwner[root] = repTaskIndex
	w.mu.Unlock()

	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		if info.Name() == ".git" {
			return filepath.SkipDir
		}
		if addErr := w.watcher.Add(path); addErr != nil && w.logger != nil {
			w.logger.Warn("failed to watch directory", "path", path, "error", addErr.Error())
		}
		return nil
	})
}

// record attributes a write event to the worktree root that contains it
// and notes the relative path as touched by that root's owning agent.
func (w *concurrentEditWatcher) record(ev fsnotify.Event) {
	if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for root, owner := range w.rootOwner {
		if !strings.HasPrefix(ev.Name, root) {
			continue
		}
		rel, err := filepath.Rel(root, ev.Name)
		if err != nil {
			continue
		}
		if w.touchedBy[rel] == nil {
			w.touchedBy[rel] = make(map[int]bool)
		}
		w.touchedBy[rel][owner] = true
		return
	}
}

// collisions returns the relative paths touched by repTaskIndex's agent
// that some other agent's worktree also touched at any point in the
// batch so far; one watcher serves the whole batch, so writes from
// earlier phases are included.
func (w *concurrentEditWatcher) collisions(repTaskIndex int) []string {
	if w == nil || w.watcher == nil {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	var hits []string
	for path, owners := range w.touchedBy {
		if !owners[repTaskIndex] {
			continue
		}
		if len(owners) > 1 {
			hits = append(hits, path)
		}
	}
	return hits
}

func (w *concurrentEditWatcher) close() {
	if w == nil || w.watcher == nil {
		return
	}
	close(w.done)
	_ = w.watcher.Close()
}
