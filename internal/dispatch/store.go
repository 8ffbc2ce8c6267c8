package dispatch

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cantina-run/cantina/internal/cantinaerrors"
)

// defaultStoreCap is the per-store eviction threshold from spec.md §4.2:
// "when store size exceeds 200, evict the oldest terminal jobs".
const defaultStoreCap = 200

// promptPreviewChars bounds the redacted, whitespace-collapsed prompt
// preview stored on a DispatchJob.
const promptPreviewChars = 180

// secretPatterns redacts common credential shapes from persisted prompt
// previews before they are written to the job store or a log line.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-ant-[A-Za-z0-9_-]{20,}`),
	regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`),
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._-]{10,}`),
	regexp.MustCompile(`ghp_[A-Za-z0-9]{30,}`),
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
}

// RedactSecrets replaces recognizable credential substrings with
// "[REDACTED]". It is intentionally conservative: a handful of well-known
// token shapes, not a general-purpose entropy scan.
func RedactSecrets(s string) string {
	for _, pattern := range secretPatterns {
		s = pattern.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

// promptPreview collapses whitespace, redacts secrets, and truncates to
// promptPreviewChars runes.
func promptPreview(prompt string) string {
	collapsed := strings.Join(strings.Fields(prompt), " ")
	redacted := RedactSecrets(collapsed)
	runes := []rune(redacted)
	if len(runes) > promptPreviewChars {
		return string(runes[:promptPreviewChars])
	}
	return redacted
}

// newJobID returns a job id with a random 12-hex-character suffix, per
// spec.md §4.2.
func newJobID(prefix string) (JobId, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("dispatch: generating job id: %w", err)
	}
	return JobId(fmt.Sprintf("%s-%s", prefix, hex.EncodeToString(buf))), nil
}

// Store is an in-memory, mutex-guarded map from JobId to DispatchJob. All
// mutation happens under one lock; readers are handed snapshot copies so
// they never observe a job mid-update.
type Store struct {
	mu      sync.Mutex
	jobs    map[JobId]*DispatchJob
	prefix  string
	logDir  string
	maxSize int
	noEvict bool
}

// NewStore returns an empty Store that evicts terminal jobs once it holds
// more than maxSize entries. prefix names the job-id namespace (e.g.
// "primary", "fallback-a") and also scopes generated log-file paths under
// logDir.
func NewStore(prefix, logDir string, maxSize int) *Store {
	if maxSize <= 0 {
		maxSize = defaultStoreCap
	}
	return &Store{
		jobs:    make(map[JobId]*DispatchJob),
		prefix:  prefix,
		logDir:  logDir,
		maxSize: maxSize,
	}
}

// NewNonEvictingStore returns a Store that never evicts, for the Plan Job
// Store (spec.md §4.4: "identical shape to §4.2 but non-evicting during
// the life of the batch it serves").
func NewNonEvictingStore(prefix, logDir string) *Store {
	s := NewStore(prefix, logDir, defaultStoreCap)
	s.noEvict = true
	return s
}

// Create reserves a fresh job id and log-file path, stores a redacted
// prompt preview, and returns a snapshot of the new job.
func (s *Store) Create(prompt, projectPath string) (*DispatchJob, error) {
	id, err := newJobID(s.prefix)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	job := &DispatchJob{
		JobID:         id,
		CreatedAt:     now,
		Status:        StatusQueued,
		Phase:         PhaseQueued,
		PromptPreview: promptPreview(prompt),
		LogFile:       filepath.Join(s.logDir, s.prefix, string(id)+".log"),
	}

	s.mu.Lock()
	s.jobs[id] = job
	s.evictLocked()
	s.mu.Unlock()

	_ = projectPath // retained for call-site symmetry with spec.md's create(prompt, project_path); not persisted on the job record itself
	return job.Snapshot(), nil
}

// Get returns a snapshot of the job, or (nil, false) if absent.
func (s *Store) Get(jobID JobId) (*DispatchJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, false
	}
	return job.Snapshot(), true
}

// Patch describes a partial update to a DispatchJob. Nil fields are left
// unchanged.
type Patch struct {
	StartedAt  *time.Time
	FinishedAt *time.Time
	Status     *Status
	Phase      *Phase
	Message    *string
	OutputTail []string
	Result     *DispatchResult
	Done       *bool
}

// Update merges patch into the job atomically. It returns
// cantinaerrors.ErrJobNotFound if the job is absent, and is a no-op if the
// job is already done (terminal jobs are immutable except for the
// eviction sweep).
func (s *Store) Update(jobID JobId, patch Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return cantinaerrors.ErrJobNotFound
	}
	if job.Done {
		return nil
	}

	if patch.StartedAt != nil {
		job.StartedAt = patch.StartedAt
	}
	if patch.FinishedAt != nil {
		job.FinishedAt = patch.FinishedAt
	}
	if patch.Status != nil {
		job.Status = *patch.Status
	}
	if patch.Phase != nil {
		job.Phase = *patch.Phase
	}
	if patch.Message != nil {
		job.Message = *patch.Message
	}
	if patch.OutputTail != nil {
		job.OutputTail = append([]string(nil), patch.OutputTail...)
	}
	if patch.Result != nil {
		result := *patch.Result
		job.Result = &result
	}
	if patch.Done != nil {
		job.Done = *patch.Done
	}

	return nil
}

// Len returns the current number of jobs held, terminal or not.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// evictLocked drops the oldest terminal jobs once the store exceeds its
// cap, ordered by finished_at then created_at ascending. Must be called
// with s.mu held.
func (s *Store) evictLocked() {
	if s.noEvict || len(s.jobs) <= s.maxSize {
		return
	}

	var terminal []*DispatchJob
	for _, job := range s.jobs {
		if job.Done {
			terminal = append(terminal, job)
		}
	}
	sort.Slice(terminal, func(i, j int) bool {
		ti, tj := terminal[i], terminal[j]
		fi := terminalSortKey(ti)
		fj := terminalSortKey(tj)
		return fi.Before(fj)
	})

	excess := len(s.jobs) - s.maxSize
	for i := 0; i < excess && i < len(terminal); i++ {
		delete(s.jobs, terminal[i].JobID)
	}
}

func terminalSortKey(job *DispatchJob) time.Time {
	if job.FinishedAt != nil {
		return *job.FinishedAt
	}
	return job.CreatedAt
}
