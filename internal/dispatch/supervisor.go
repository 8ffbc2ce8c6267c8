package dispatch

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/cantina-run/cantina/internal/cantinaerrors"
	"github.com/cantina-run/cantina/internal/event"
)

// pollTick is how often the run loop checks the cancel signal and both
// timeouts. spec.md requires 100-250ms; 150ms sits inside that range.
const pollTick = 150 * time.Millisecond

// outputTailCap bounds the rolling tail of recent lines (outputTail) kept
// alongside the full output. The full output is not capped: every
// captured line stays in memory for the run, feeds the token-limit scan,
// and is returned as DispatchResult.Output, as well as being on disk in
// the log file.
const outputTailCap = 200

// fold performs locale-independent case folding for sentinel-phrase
// matching against CLI output, in place of strings.ToLower.
var fold = cases.Fold()

// tokenLimitPhrases supersedes the three-phrase list in the original
// Python dispatcher with the authoritative four-phrase set.
var tokenLimitPhrases = []string{
	"usage limit reached",
	"you've exceeded your usage limit",
	"please wait until your limit resets",
	"your claude.ai usage limit",
}

var tokenLimitIndicators = []string{"error", "failed", "exceeded", "reached"}

var networkDisconnectPhrases = []string{
	"stream disconnected",
	"error sending request for url",
}

var authRequiredPhrases = []string{
	"unauthorized",
	"invalid api key",
}

var needsUserInputPhrases = []string{
	"press enter to continue",
	"waiting for input",
}

// Spec describes one child-process invocation for the Process Supervisor.
type Spec struct {
	JobID JobId
	// Command is the executable; Args is its full argument list (the
	// prompt is one list element, never concatenated into a string).
	Command string
	Args    []string
	Cwd     string
	// LogFile is opened for writing; parent directories are created.
	LogFile string
	// StripEnv lists environment variable names removed from the
	// child's inherited environment (e.g. "ANTHROPIC_API_KEY" for the
	// primary CLI, to force the OAuth flow).
	StripEnv     []string
	TotalTimeout time.Duration
	StallTimeout time.Duration
	Cancel       *CancelSignal
	Provider     Provider
	// Stream, if non-nil, receives this run's events. Callers that do
	// not need the event stream may leave it nil.
	Stream *event.Stream
}

// Run launches one child CLI, captures its merged stdout+stderr as text
// lines, enforces the total and stall timeouts, cooperates with
// cancellation, and classifies the outcome. Run never returns an error for
// child misbehavior — every outcome is captured in the returned
// DispatchResult — it returns an error only for invalid Spec values
// (programmer error).
func Run(ctx context.Context, spec Spec) (*DispatchResult, error) {
	if spec.Command == "" {
		return nil, errors.New("dispatch: Spec.Command must not be empty")
	}
	if spec.TotalTimeout < time.Second {
		return nil, errors.New("dispatch: Spec.TotalTimeout must be >= 1s")
	}
	if spec.StallTimeout < 0 || spec.StallTimeout > spec.TotalTimeout {
		return nil, errors.New("dispatch: Spec.StallTimeout must be in [0, TotalTimeout]")
	}

	stream := spec.Stream
	if stream != nil {
		stream.Start()
	}

	if err := os.MkdirAll(filepath.Dir(spec.LogFile), 0o755); err != nil {
		return failResult(spec, cantinaerrors.CodeExecutionFailed, fmt.Sprintf("failed to create log directory: %v", err)), nil
	}
	logFile, err := os.OpenFile(spec.LogFile, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return failResult(spec, cantinaerrors.CodeExecutionFailed, fmt.Sprintf("failed to open log file: %v", err)), nil
	}
	defer logFile.Close()

	cmd := exec.CommandContext(ctx, spec.Command, spec.Args...)
	cmd.Dir = spec.Cwd
	cmd.Env = stripEnv(os.Environ(), spec.StripEnv)
	cmd.Stdin = nil // connects to the null device; the child must never block on input
	setProcessGroup(cmd)

	r, w, err := os.Pipe()
	if err != nil {
		return failResult(spec, cantinaerrors.CodeExecutionFailed, fmt.Sprintf("failed to create output pipe: %v", err)), nil
	}
	cmd.Stdout = w
	cmd.Stderr = w

	if err := cmd.Start(); err != nil {
		w.Close()
		r.Close()
		if errors.Is(err, exec.ErrNotFound) || os.IsNotExist(err) {
			return failResult(spec, cantinaerrors.CodeCLINotFound, err.Error()), nil
		}
		return failResult(spec, cantinaerrors.CodeExecutionFailed, err.Error()), nil
	}
	w.Close() // the child holds the only remaining writer; closing ours lets EOF surface

	linesCh := make(chan string)
	go func() {
		defer close(linesCh)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			linesCh <- strings.TrimRight(scanner.Text(), "\r\n")
		}
	}()

	exitCh := make(chan error, 1)
	go func() { exitCh <- cmd.Wait() }()

	result := runLoop(spec, cmd, stream, logFile, linesCh, exitCh)
	r.Close()
	return result, nil
}

type runState struct {
	lines        []string
	outputTail   []string
	start        time.Time
	lastRead     time.Time
	termSentAt   time.Time
	termed       bool
	childExited  bool
	exitErr      error
	readerClosed bool
}

func runLoop(spec Spec, cmd *exec.Cmd, stream *event.Stream, logFile *os.File, linesCh <-chan string, exitCh <-chan error) *DispatchResult {
	st := &runState{start: time.Now(), lastRead: time.Now()}

	ticker := time.NewTicker(pollTick)
	defer ticker.Stop()

	var cancelled bool
	var timedOut bool
	var stalled bool

	for !(st.readerClosed && st.childExited) {
		select {
		case line, ok := <-linesCh:
			if !ok {
				linesCh = nil
				st.readerClosed = true
				continue
			}
			st.lastRead = time.Now()
			st.lines = append(st.lines, line)
			st.outputTail = append(st.outputTail, line)
			if len(st.outputTail) > outputTailCap {
				st.outputTail = st.outputTail[len(st.outputTail)-outputTailCap:]
			}
			if logFile != nil {
				fmt.Fprintln(logFile, line)
				logFile.Sync()
			}
			if stream != nil {
				stream.Output(line)
			}

		case werr, ok := <-exitCh:
			if ok {
				st.exitErr = werr
				st.childExited = true
				exitCh = nil
			}

		case <-ticker.C:
			now := time.Now()
			switch {
			case spec.Cancel != nil && spec.Cancel.Cancelled() && !st.termed:
				cancelled = true
				sigterm(cmd)
				st.termed = true
				st.termSentAt = now
				if stream != nil {
					stream.Status("cancelling")
				}
			case !st.termed && now.Sub(st.start) > spec.TotalTimeout:
				timedOut = true
				sigkill(cmd)
				st.termed = true
				st.termSentAt = now
			case !st.termed && spec.StallTimeout > 0 && now.Sub(st.lastRead) > spec.StallTimeout:
				stalled = true
				sigkill(cmd)
				st.termed = true
				st.termSentAt = now
			case st.termed && cancelled && !st.childExited && now.Sub(st.termSentAt) > killGrace:
				sigkill(cmd)
			}
		}
	}

	output := strings.Join(st.lines, "\n")

	switch {
	case cancelled:
		return emitTerminal(spec, stream, &DispatchResult{
			Success:   false,
			Cancelled: true,
			Output:    output,
			RawOutput: output,
			ErrorCode: string(cantinaerrors.CodeCancelled),
			Provider:  spec.Provider,
		})
	case timedOut:
		return emitTerminal(spec, stream, &DispatchResult{
			Success:   false,
			Error:     fmt.Sprintf("dispatch timed out after %s", spec.TotalTimeout),
			ErrorCode: string(cantinaerrors.CodeTimeout),
			Output:    output,
			RawOutput: output,
			Provider:  spec.Provider,
		})
	case stalled:
		return emitTerminal(spec, stream, &DispatchResult{
			Success:   false,
			Error:     "stalled with no output",
			ErrorCode: string(cantinaerrors.CodeStalled),
			Output:    output,
			RawOutput: output,
			Provider:  spec.Provider,
		})
	}

	if detectTokenLimit(output) {
		return emitTerminal(spec, stream, &DispatchResult{
			Success:           false,
			TokenLimitReached: true,
			Error:             "usage limit reached",
			ErrorCode:         string(cantinaerrors.CodeTokenLimit),
			Output:            output,
			RawOutput:         output,
			Provider:          spec.Provider,
		})
	}

	exitCode := 0
	var exitErr *exec.ExitError
	if errors.As(st.exitErr, &exitErr) {
		exitCode = exitErr.ExitCode()
	} else if st.exitErr != nil {
		exitCode = -1
	}

	if exitCode != 0 {
		code, msg := classifyFailure(output, exitCode)
		return emitTerminal(spec, stream, &DispatchResult{
			Success:   false,
			Error:     msg,
			ErrorCode: string(code),
			Output:    output,
			RawOutput: output,
			Provider:  spec.Provider,
		})
	}

	return emitTerminal(spec, stream, &DispatchResult{
		Success:   true,
		Output:    output,
		RawOutput: output,
		Provider:  spec.Provider,
	})
}

func emitTerminal(spec Spec, stream *event.Stream, result *DispatchResult) *DispatchResult {
	result.SessionID = string(spec.JobID)
	result.OutputFile = spec.LogFile
	if stream != nil {
		var err error
		if result.Error != "" {
			err = errors.New(result.Error)
			stream.Error(err)
		}
		stream.CompleteWithStatus(outcomeLabel(result), err)
	}
	return result
}

// outcomeLabel maps a DispatchResult to one of the four terminal payload
// labels spec.md §4.1's event-stream contract names: success, failed,
// cancelled, token_limit.
func outcomeLabel(result *DispatchResult) string {
	switch {
	case result.Cancelled:
		return "cancelled"
	case result.TokenLimitReached:
		return "token_limit"
	case result.Success:
		return "success"
	default:
		return "failed"
	}
}

func failResult(spec Spec, code cantinaerrors.DispatchCode, message string) *DispatchResult {
	result := &DispatchResult{
		Success:   false,
		Error:     message,
		ErrorCode: string(code),
		Provider:  spec.Provider,
	}
	return emitTerminal(spec, spec.Stream, result)
}

// classifyFailure extracts spec.md §7's heuristic error classification
// for a non-zero exit with no token-limit sentinel match.
func classifyFailure(output string, exitCode int) (cantinaerrors.DispatchCode, string) {
	normalized := fold.String(output)

	for _, phrase := range networkDisconnectPhrases {
		if strings.Contains(normalized, phrase) {
			return cantinaerrors.CodeNetworkDisconnect, firstNonEmptyLine(output, exitCode)
		}
	}
	for _, phrase := range authRequiredPhrases {
		if strings.Contains(normalized, phrase) {
			return cantinaerrors.CodeAuthRequired, firstNonEmptyLine(output, exitCode)
		}
	}
	for _, phrase := range needsUserInputPhrases {
		if strings.Contains(normalized, phrase) {
			return cantinaerrors.CodeNeedsUserInput, firstNonEmptyLine(output, exitCode)
		}
	}

	return cantinaerrors.CodeExecutionFailed, firstNonEmptyLine(output, exitCode)
}

// firstNonEmptyLine mirrors dispatcher.py's _extract_error_message: the
// first non-empty output line, truncated to 240 characters.
func firstNonEmptyLine(output string, exitCode int) string {
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if len(trimmed) > 240 {
			trimmed = trimmed[:240]
		}
		return trimmed
	}
	return fmt.Sprintf("CLI exited with code %d", exitCode)
}

// detectTokenLimit implements spec.md §4.1 step 5: a case-insensitive
// phrase match counts only if the matching line also contains one of the
// indicator words, to avoid false positives like "consider adding a rate
// limit".
func detectTokenLimit(output string) bool {
	normalized := fold.String(output)
	for _, phrase := range tokenLimitPhrases {
		if !strings.Contains(normalized, phrase) {
			continue
		}
		for _, line := range strings.Split(normalized, "\n") {
			if !strings.Contains(line, phrase) {
				continue
			}
			for _, indicator := range tokenLimitIndicators {
				if strings.Contains(line, indicator) {
					return true
				}
			}
		}
	}
	return false
}

// stripEnv returns env with every variable named in remove excluded.
func stripEnv(env []string, remove []string) []string {
	if len(remove) == 0 {
		return env
	}
	blocked := make(map[string]bool, len(remove))
	for _, name := range remove {
		blocked[name] = true
	}
	out := make([]string, 0, len(env))
	for _, kv := range env {
		name := kv
		if idx := strings.IndexByte(kv, '='); idx >= 0 {
			name = kv[:idx]
		}
		if blocked[name] {
			continue
		}
		out = append(out, kv)
	}
	return out
}
