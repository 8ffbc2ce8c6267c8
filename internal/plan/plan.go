// Package plan implements the Planning/Verification Interface: assembling
// the planning and verification prompts from project context, dispatching
// them through the Process Supervisor, and parsing the model's JSON
// response back into an ExecutionPlan or VerificationResult.
package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rivo/uniseg"
	"github.com/spf13/cast"

	"github.com/cantina-run/cantina/internal/cantinaerrors"
	"github.com/cantina-run/cantina/internal/config"
	"github.com/cantina-run/cantina/internal/dispatch"
)

// Task is one unit of work handed to the planning agent. Prompt, when it
// differs from Text, is surfaced to the agent as a user-supplied override.
type Task struct {
	Text   string
	Prompt string
}

// AgentGroup is a pre-defined task grouping pinned by the caller (e.g. from
// a roadmap's own authoring), which the planning prompt instructs the model
// to use verbatim instead of inventing its own grouping.
type AgentGroup struct {
	Name        string
	TaskIndices []int
}

// AgentAssignment is a themed batch of tasks assigned to a single agent.
type AgentAssignment struct {
	AgentID     int
	Theme       string
	TaskIndices []int
	Rationale   string
	AgentPrompt string
}

// ExecutionPhase is one phase in the execution plan; agents within a
// parallel phase may run simultaneously, agents across phases may not.
type ExecutionPhase struct {
	PhaseID     int
	Name        string
	Description string
	Parallel    bool
	Agents      []AgentAssignment
}

// ExecutionPlan is the complete AI-generated execution plan.
type ExecutionPlan struct {
	Summary              string
	Phases               []ExecutionPhase
	SuccessCriteria      []string
	EstimatedTotalAgents int
	Warnings             []string
	RawOutput            string
}

// CriterionResult is the outcome of checking a single success criterion.
type CriterionResult struct {
	Criterion string
	Passed    bool
	Evidence  string
	Notes     string
}

// VerificationResult is the outcome of verifying plan completion.
type VerificationResult struct {
	OverallPass     bool
	CriteriaResults []CriterionResult
	Summary         string
	RawOutput       string
}

// AgentStatus is one agent's factual execution outcome, fed into the
// verification prompt so the model treats execution results — not file
// inspection — as ground truth for "did it run without errors" criteria.
type AgentStatus struct {
	TaskText string
	Status   string
	Error    string
	GroupID  string
	PhaseID  string
}

// QualityGateResult is one named quality-gate outcome (lint, test, build)
// folded into the verification prompt.
type QualityGateResult struct {
	Name    string
	Status  string
	Message string
}

// CreatePlan dispatches the planning agent and returns a parsed
// ExecutionPlan. previousPlan/userFeedback, when both non-empty, switch the
// prompt to the re-planning branch. Dispatch failures and unparseable
// output both return a usable ExecutionPlan carrying the failure in
// Warnings/Summary, mirroring the degrade-gracefully behavior the original
// planning agent relies on so a bad response never panics a batch.
func CreatePlan(
	ctx context.Context,
	store *dispatch.Store,
	cfg config.DispatchConfig,
	cancel *dispatch.CancelSignal,
	projectPath string,
	tasks []Task,
	milestoneTitle string,
	agentGroups []AgentGroup,
	previousPlan *ExecutionPlan,
	userFeedback string,
) (*ExecutionPlan, error) {
	prompt := BuildPlanningPrompt(projectPath, tasks, milestoneTitle, agentGroups, previousPlan, userFeedback)

	rawOutput, derr := runPrompt(ctx, store, cfg, cancel, projectPath, prompt)
	if derr != nil {
		return nil, derr
	}
	if rawOutput.failed {
		return &ExecutionPlan{
			Summary:   fmt.Sprintf("Planning failed: %s", rawOutput.errorMessage),
			Warnings:  []string{orElse(rawOutput.errorMessage, "unknown error")},
			RawOutput: rawOutput.output,
		}, nil
	}

	planDict, err := ExtractJSON(rawOutput.output)
	if err == nil {
		return ParsePlan(planDict, rawOutput.output), nil
	}
	parseErr := err

	if recovered, ok := recoverPlanFromFile(projectPath, rawOutput.output); ok {
		return ParsePlan(recovered, rawOutput.output), nil
	}

	return &ExecutionPlan{
		Summary:   fmt.Sprintf("Failed to parse plan: %s", parseErr),
		Warnings:  []string{fmt.Sprintf("JSON parsing failed: %s", parseErr)},
		RawOutput: rawOutput.output,
	}, nil
}

// VerifyCompletion dispatches the verification agent against a plan's
// success criteria and returns a parsed VerificationResult. Verification is
// always informational: callers must never let a parse/dispatch failure
// here gate batch finalization — spec.md's own wording is that the
// orchestrator "always records verification, never gates on it".
func VerifyCompletion(
	ctx context.Context,
	store *dispatch.Store,
	cfg config.DispatchConfig,
	cancel *dispatch.CancelSignal,
	projectPath string,
	plan *ExecutionPlan,
	gateResults []QualityGateResult,
	agentStatuses []AgentStatus,
) (*VerificationResult, error) {
	prompt := BuildVerificationPrompt(plan, gateResults, agentStatuses)

	rawOutput, derr := runPrompt(ctx, store, cfg, cancel, projectPath, prompt)
	if derr != nil {
		return nil, derr
	}
	if rawOutput.failed {
		return &VerificationResult{
			Summary:   fmt.Sprintf("Verification agent failed: %s", rawOutput.errorMessage),
			RawOutput: rawOutput.output,
		}, nil
	}

	vrDict, err := ExtractJSON(rawOutput.output)
	if err != nil {
		return &VerificationResult{
			Summary:   fmt.Sprintf("Failed to parse verification output: %s", err),
			RawOutput: rawOutput.output,
		}, nil
	}

	return ParseVerification(vrDict, rawOutput.output), nil
}

type promptOutcome struct {
	output       string
	failed       bool
	errorMessage string
}

// runPrompt dispatches one planning or verification prompt through the
// Process Supervisor, using the plan store's non-evicting job records and
// the shared 600s planning timeout (spec.md §4.4).
func runPrompt(
	ctx context.Context,
	store *dispatch.Store,
	cfg config.DispatchConfig,
	cancel *dispatch.CancelSignal,
	projectPath string,
	prompt string,
) (promptOutcome, error) {
	job, err := store.Create(prompt, projectPath)
	if err != nil {
		return promptOutcome{}, cantinaerrors.NewPlanError("failed to create planning job", err)
	}

	started := time.Now()
	running := dispatch.StatusRunning
	runningPhase := dispatch.PhaseRunning
	_ = store.Update(job.JobID, dispatch.Patch{StartedAt: &started, Status: &running, Phase: &runningPhase})

	result, err := dispatch.Run(ctx, dispatch.Spec{
		JobID:        job.JobID,
		Command:      cfg.PrimaryCLI,
		Args:         []string{"--print", prompt},
		Cwd:          projectPath,
		LogFile:      job.LogFile,
		TotalTimeout: cfg.PlanningTimeout(),
		StallTimeout: cfg.PrimaryStallTimeout(),
		Cancel:       cancel,
		Provider:     dispatch.ProviderPrimary,
	})
	if err != nil {
		return promptOutcome{}, cantinaerrors.NewPlanError("planning dispatch rejected its spec", err)
	}

	finished := time.Now()
	done := true
	status := dispatch.StatusFailed
	phase := dispatch.PhaseFailed
	if result.Success {
		status = dispatch.StatusSucceeded
		phase = dispatch.PhaseComplete
	}
	_ = store.Update(job.JobID, dispatch.Patch{
		FinishedAt: &finished,
		Status:     &status,
		Phase:      &phase,
		Result:     result,
		Done:       &done,
	})

	if !result.Success {
		return promptOutcome{output: result.Output, failed: true, errorMessage: result.Error}, nil
	}
	return promptOutcome{output: result.Output}, nil
}

func orElse(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// ── Prompt assembly ──

const (
	conventionsMaxChars   = 12000
	roadmapMaxChars       = 2000
	fileTreeMaxChars      = 8000
	recentChangesMaxChars = 2000
	planPreviewMaxChars   = 6000
	treePreviewMaxChars   = 4000
)

// BuildPlanningPrompt assembles the planning prompt from full project
// context: CLAUDE.md conventions, roadmap status, the git-tracked file
// tree, recent commits, and the task list, following the exact context
// budget the original planning agent enforces. When previousPlan and
// userFeedback are both non-empty, it builds the shorter re-planning
// prompt instead.
func BuildPlanningPrompt(
	projectPath string,
	tasks []Task,
	milestoneTitle string,
	agentGroups []AgentGroup,
	previousPlan *ExecutionPlan,
	userFeedback string,
) string {
	conventions := readCapped(filepath.Join(projectPath, "CLAUDE.md"), conventionsMaxChars, "(no CLAUDE.md found)")
	fileTree := truncate(projectTree(projectPath), fileTreeMaxChars)

	agentGroupSection := ""
	groupingRule := "- Target 2-5 agents total, never one agent per task"
	if len(agentGroups) > 0 {
		agentGroupSection = formatAgentGroups(agentGroups)
		groupingRule = "- Use the pre-defined agent groups above — do NOT re-group or split tasks differently"
	}

	if previousPlan != nil && userFeedback != "" {
		prevJSON, _ := json.MarshalIndent(planToDict(previousPlan), "", "  ")
		return fmt.Sprintf(`You are an expert software architect revising a parallel execution plan.

## Previous Plan
%s

## User Feedback
%s

## Project Context
%s

## Project File Structure
%s
%s

## Instructions
First, briefly describe what changes you're making to the plan based on the user's feedback.
Then output the revised JSON plan in the same format as the previous plan.
Keep the same level of detail in agent_prompt fields.`,
			string(prevJSON), userFeedback, truncate(conventions, planPreviewMaxChars), truncate(fileTree, treePreviewMaxChars), agentGroupSection)
	}

	roadmapStatus := readCapped(filepath.Join(projectPath, ".claude", "planning", "ROADMAP.md"), roadmapMaxChars, "(no ROADMAP.md found)")
	recentChanges := truncate(recentChanges(projectPath), recentChangesMaxChars)
	tasksText := formatTasks(tasks)

	return fmt.Sprintf(`You are an expert software architect planning the parallel execution of a milestone's tasks.
You have deep understanding of the project's architecture, conventions, and codebase.

## Project Conventions (from CLAUDE.md)
%s

## Roadmap Context
%s

## Project File Structure
%s

## Recently Modified Files
%s

## Milestone: %s
## Tasks to Execute
%s
%s

## Your Job

IMPORTANT: First, write a brief analysis section describing:
- What themes/categories you see in the tasks
- Which tasks have dependencies on each other
- How you plan to group them into agents
- Any potential file conflicts between parallel agents

Then, output the execution plan as a JSON block.

Create an execution plan that:
1. Groups tasks by THEME (backend core, frontend UI, API/config, tests, etc.)
2. Determines execution ORDER — which tasks must complete before others can start
3. Assigns tasks to AGENTS — each agent gets a themed batch to run sequentially
4. Writes DETAILED IMPLEMENTATION PROMPTS for each agent — not just the raw task text, but rich prompts with:
   - Specific files to create/modify (based on the project structure above)
   - Code patterns to follow (from conventions)
   - What other agents are doing in parallel (so they don't conflict)
   - Clear completion criteria per task
5. Defines SUCCESS CRITERIA — concrete, verifiable checks for the milestone

After your analysis, output the plan as JSON:

`+"```json"+`
{
  "summary": "Brief strategy description",
  "phases": [
    {
      "phase_id": 0,
      "name": "Phase name",
      "description": "Why this phase exists",
      "parallel": true,
      "agents": [
        {
          "agent_id": 0,
          "theme": "Agent theme name",
          "task_indices": [0, 2, 5],
          "rationale": "Why these tasks belong together",
          "agent_prompt": "DETAILED implementation prompt for this agent..."
        }
      ]
    }
  ],
  "success_criteria": [
    "All new modules have corresponding test files",
    "The project builds without errors"
  ],
  "estimated_total_agents": 3,
  "warnings": ["Any dependency risks or concerns"]
}
`+"```"+`

CRITICAL OUTPUT RULES:
- You MUST output the JSON plan directly to stdout — do NOT write files to disk
- Do NOT create any .md, .json, or other files — your ONLY output is text to stdout
- The JSON block MUST appear in your stdout output wrapped in `+"```json ... ```"+` fences
- Even for large plans with many tasks, output everything to stdout
- All IDs (agent_id, phase_id) MUST be plain integers (0, 1, 2, ...) — NOT strings like "1A"

Planning rules:
%s
- Group by theme and semantic dependency, not just file names
- agent_prompt MUST be detailed enough for an agent to work independently
- Success criteria MUST be concrete (runnable commands, checkable file existence, etc.)
- If a task depends on another task's output, they must be in sequential phases
- task_indices are 0-based indices into the task list above

Cross-file dependency rules (IMPORTANT):
- A new route, handler, or component is only done once it is wired into its
  registration point — a new file alone is not a complete task
- If the project conventions above show a central router, registry, or
  export list, any agent adding a new unit of that kind must also update it
- When two agents' task_indices both touch a shared registration point
  (a router file, an index/barrel export, a DI container), put them in
  sequential phases rather than parallel ones to avoid merge conflicts`,
		conventions, roadmapStatus, fileTree, recentChanges, milestoneTitle, tasksText, agentGroupSection, groupingRule)
}

// BuildVerificationPrompt assembles the verification prompt: success
// criteria, quality-gate results, and the factual agent-execution roster
// that the model is told to treat as ground truth over file inspection.
func BuildVerificationPrompt(plan *ExecutionPlan, gateResults []QualityGateResult, agentStatuses []AgentStatus) string {
	var criteriaLines []string
	for i, c := range plan.SuccessCriteria {
		criteriaLines = append(criteriaLines, fmt.Sprintf("%d. %s", i+1, c))
	}

	gateSummary := ""
	if len(gateResults) > 0 {
		var lines []string
		for _, gr := range gateResults {
			lines = append(lines, fmt.Sprintf("- %s: %s — %s", gr.Name, gr.Status, gr.Message))
		}
		gateSummary = "\n## Quality Gate Results\n" + strings.Join(lines, "\n")
	}

	agentStatusSection := ""
	if len(agentStatuses) > 0 {
		var lines []string
		failed := 0
		succeeded := 0
		for _, a := range agentStatuses {
			label := fmt.Sprintf("Agent %s (phase %s): %s", a.GroupID, a.PhaseID, a.Status)
			if a.Error != "" {
				label += fmt.Sprintf(" — %s", a.Error)
				failed++
			}
			if a.Status == "succeeded" {
				succeeded++
			}
			lines = append(lines, fmt.Sprintf("- %s | task: %s", label, a.TaskText))
		}
		agentStatusSection = "\n## Agent Execution Results (FACTUAL — use these for completion criteria)\n" +
			strings.Join(lines, "\n") +
			fmt.Sprintf("\n\nTotal agents: %d, succeeded: %d, failed: %d", len(agentStatuses), succeeded, failed) +
			"\n\nIMPORTANT: For any criterion about 'all tasks completed without errors', " +
			"use the agent execution results above as the source of truth, NOT file existence."
	}

	return fmt.Sprintf(`You are verifying whether a milestone's implementation meets its success criteria.

## Success Criteria
%s
%s
%s

## Instructions
Check each criterion by examining the codebase. For each criterion:
1. Look for the expected files, code, or behavior
2. Determine if it passes or fails
3. Provide evidence (file paths, command output references, etc.)
4. For criteria about task completion or errors, cross-reference the Agent Execution Results above

Output ONLY valid JSON:
{
  "overall_pass": true/false,
  "criteria_results": [
    {
      "criterion": "The criterion text",
      "passed": true/false,
      "evidence": "What you found",
      "notes": "Any additional context"
    }
  ],
  "summary": "Brief overall assessment"
}`, strings.Join(criteriaLines, "\n"), gateSummary, agentStatusSection)
}

func formatTasks(tasks []Task) string {
	lines := make([]string, 0, len(tasks))
	for i, task := range tasks {
		line := fmt.Sprintf("%d. %s", i+1, task.Text)
		if task.Prompt != "" && task.Prompt != task.Text {
			line += fmt.Sprintf("\n     Custom prompt: %s", task.Prompt)
		} else {
			line += "\n     Custom prompt: None"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func formatAgentGroups(groups []AgentGroup) string {
	var b strings.Builder
	b.WriteString("\n## Pre-defined Agent Groups (MUST follow)\n")
	b.WriteString("The milestone author has pre-defined agent groupings. You MUST use these exact groupings.\n")
	b.WriteString("Do NOT re-group or split tasks differently.\n\n")
	for i, g := range groups {
		indices := make([]string, len(g.TaskIndices))
		for j, idx := range g.TaskIndices {
			indices[j] = strconv.Itoa(idx)
		}
		fmt.Fprintf(&b, "**Group %d: %s** — task_indices: [%s]\n", i+1, g.Name, strings.Join(indices, ", "))
	}
	b.WriteString("\nDetermine the execution order (which groups can run in parallel vs sequential)\n")
	b.WriteString("and write detailed agent_prompt for each group. Do NOT change the task-to-group assignments.")
	return b.String()
}

func readCapped(path string, maxChars int, missingMessage string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return missingMessage
		}
		return fmt.Sprintf("(failed to read %s)", filepath.Base(path))
	}
	return truncate(string(data), maxChars)
}

func projectTree(projectPath string) string {
	cmd := exec.Command("git", "ls-files")
	cmd.Dir = projectPath
	output, err := cmd.Output()
	if err != nil {
		return "(git ls-files failed)"
	}
	return strings.TrimSpace(string(output))
}

func recentChanges(projectPath string) string {
	cmd := exec.Command("git", "log", "--name-only", "-5", "--oneline")
	cmd.Dir = projectPath
	output, err := cmd.Output()
	if err != nil {
		return "(git log failed)"
	}
	return strings.TrimSpace(string(output))
}

// truncate cuts s to at most maxChars grapheme clusters, appending a
// truncation marker, mirroring the original agent's "[:max_chars]" slicing.
// Cutting by grapheme cluster (via uniseg) rather than byte or rune index
// keeps combining marks and other multi-rune clusters intact at the
// boundary — project trees and commit messages routinely carry non-ASCII
// file/author names.
func truncate(s string, maxChars int) string {
	if uniseg.GraphemeClusterCount(s) <= maxChars {
		return s
	}

	var b strings.Builder
	count := 0
	state := -1
	remaining := s
	for len(remaining) > 0 && count < maxChars {
		var cluster string
		cluster, remaining, _, state = uniseg.StepString(remaining, state)
		b.WriteString(cluster)
		count++
	}
	return b.String() + "\n... (truncated)"
}

// ── JSON extraction and recovery ──

var fencedJSONBlock = regexp.MustCompile("(?s)```(?:json)?\\s*\\n(\\{.*?\\})\\s*\\n```")

// ExtractJSON finds the JSON object in a planning or verification agent's
// mixed text output. It first looks for a ```json fenced block; failing
// that, it scans for the first top-level `{...}` object by counting brace
// depth while tracking string literals and escapes, so braces inside a
// quoted agent_prompt never throw off the match.
func ExtractJSON(output string) (map[string]interface{}, error) {
	if m := fencedJSONBlock.FindStringSubmatch(output); m != nil {
		return unmarshalObject(m[1])
	}

	start := strings.Index(output, "{")
	if start == -1 {
		return nil, fmt.Errorf("no JSON object found in output")
	}

	depth := 0
	inString := false
	escapeNext := false

	for i := start; i < len(output); i++ {
		ch := output[i]

		if escapeNext {
			escapeNext = false
			continue
		}
		if ch == '\\' {
			escapeNext = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch ch {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return unmarshalObject(output[start : i+1])
			}
		}
	}

	return nil, fmt.Errorf("no complete JSON object found in output")
}

func unmarshalObject(s string) (map[string]interface{}, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// agentFileRefRe matches phrasing like "saved the plan to `/tmp/plan.json`"
// or "written to /tmp/EXECUTION-PLAN.md" that a model uses when it writes a
// plan file instead of stdout.
var agentFileRefRe = regexp.MustCompile(`(?i)(?:saved|written|created|output).*?[` + "`" + `"']?(/\S+\.(?:json|md))[` + "`" + `"']?`)

var recoverableGlobs = []string{"EXECUTION-PLAN*.md", "EXECUTION-PLAN*.json", "plan*.json"}

// recoverPlanFromFile is the fallback path for when the model wrote its
// plan to a file instead of stdout: it scans the raw output for file-path
// phrasing and well-known glob patterns, tries to extract JSON from each
// candidate, and deletes the file once recovered so a stray plan file never
// leaks into the project tree.
func recoverPlanFromFile(projectPath, rawOutput string) (map[string]interface{}, bool) {
	var candidates []string
	for _, m := range agentFileRefRe.FindAllStringSubmatch(rawOutput, -1) {
		if len(m) > 1 {
			candidates = append(candidates, m[1])
		}
	}
	for _, pattern := range recoverableGlobs {
		matches, _ := filepath.Glob(filepath.Join(projectPath, pattern))
		candidates = append(candidates, matches...)
	}

	for _, path := range candidates {
		content, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		obj, err := ExtractJSON(string(content))
		if err != nil {
			continue
		}
		_ = os.Remove(path)
		return obj, true
	}
	return nil, false
}

// ── Parsing ──

// ParsePlan converts a raw decoded JSON object into an ExecutionPlan,
// coercing agent_id/phase_id to int (the model occasionally emits "1A" or
// similar) with a positional-index fallback when coercion fails.
func ParsePlan(planDict map[string]interface{}, rawOutput string) *ExecutionPlan {
	var phases []ExecutionPhase
	for _, rawPhase := range asSlice(planDict["phases"]) {
		phaseData := asMap(rawPhase)

		var agents []AgentAssignment
		for idx, rawAgent := range asSlice(phaseData["agents"]) {
			agentData := asMap(rawAgent)
			agents = append(agents, AgentAssignment{
				AgentID:     coerceIntOr(agentData["agent_id"], idx),
				Theme:       asString(agentData["theme"]),
				TaskIndices: asIntSlice(agentData["task_indices"]),
				Rationale:   asString(agentData["rationale"]),
				AgentPrompt: asString(agentData["agent_prompt"]),
			})
		}

		phases = append(phases, ExecutionPhase{
			PhaseID:     coerceIntOr(phaseData["phase_id"], len(phases)),
			Name:        asString(phaseData["name"]),
			Description: asString(phaseData["description"]),
			Parallel:    asBool(phaseData["parallel"]),
			Agents:      agents,
		})
	}

	return &ExecutionPlan{
		Summary:              asString(planDict["summary"]),
		Phases:               phases,
		SuccessCriteria:      asStringSlice(planDict["success_criteria"]),
		EstimatedTotalAgents: coerceIntOr(planDict["estimated_total_agents"], 0),
		Warnings:             asStringSlice(planDict["warnings"]),
		RawOutput:            rawOutput,
	}
}

// ParseVerification converts a raw decoded JSON object into a
// VerificationResult.
func ParseVerification(vrDict map[string]interface{}, rawOutput string) *VerificationResult {
	var criteriaResults []CriterionResult
	for _, rawCR := range asSlice(vrDict["criteria_results"]) {
		crData := asMap(rawCR)
		criteriaResults = append(criteriaResults, CriterionResult{
			Criterion: asString(crData["criterion"]),
			Passed:    asBool(crData["passed"]),
			Evidence:  asString(crData["evidence"]),
			Notes:     asString(crData["notes"]),
		})
	}

	return &VerificationResult{
		OverallPass:     asBool(vrDict["overall_pass"]),
		CriteriaResults: criteriaResults,
		Summary:         asString(vrDict["summary"]),
		RawOutput:       rawOutput,
	}
}

func planToDict(plan *ExecutionPlan) map[string]interface{} {
	phases := make([]map[string]interface{}, 0, len(plan.Phases))
	for _, phase := range plan.Phases {
		agents := make([]map[string]interface{}, 0, len(phase.Agents))
		for _, a := range phase.Agents {
			agents = append(agents, map[string]interface{}{
				"agent_id":     a.AgentID,
				"theme":        a.Theme,
				"task_indices": a.TaskIndices,
				"rationale":    a.Rationale,
				"agent_prompt": a.AgentPrompt,
			})
		}
		phases = append(phases, map[string]interface{}{
			"phase_id":    phase.PhaseID,
			"name":        phase.Name,
			"description": phase.Description,
			"parallel":    phase.Parallel,
			"agents":      agents,
		})
	}
	return map[string]interface{}{
		"summary":                plan.Summary,
		"phases":                 phases,
		"success_criteria":       plan.SuccessCriteria,
		"estimated_total_agents": plan.EstimatedTotalAgents,
		"warnings":               plan.Warnings,
	}
}

// ── loosely-typed JSON accessors ──
//
// The model's JSON is decoded into map[string]interface{} rather than a
// fixed struct, the same way the original agent works with plain dicts;
// these helpers apply the same tolerant coercion (missing field -> zero
// value, wrong-shaped field -> best-effort conversion via spf13/cast
// rather than a hard parse failure).

func asMap(v interface{}) map[string]interface{} {
	m, _ := v.(map[string]interface{})
	return m
}

func asSlice(v interface{}) []interface{} {
	s, _ := v.([]interface{})
	return s
}

func asString(v interface{}) string {
	return cast.ToString(v)
}

func asBool(v interface{}) bool {
	return cast.ToBool(v)
}

func asStringSlice(v interface{}) []string {
	items := asSlice(v)
	if items == nil {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, cast.ToString(item))
	}
	return out
}

func asIntSlice(v interface{}) []int {
	items := asSlice(v)
	if items == nil {
		return nil
	}
	out := make([]int, 0, len(items))
	for _, item := range items {
		out = append(out, cast.ToInt(item))
	}
	return out
}

// coerceIntOr mirrors the original's int(raw_id) with an except-fallback:
// cast.ToIntE rejects non-numeric strings like "1A" outright, where Python's
// int() would too (both raise/error on that input) — the fallback index is
// what actually saves a malformed id from aborting the whole parse.
func coerceIntOr(v interface{}, fallback int) int {
	n, err := cast.ToIntE(v)
	if err != nil {
		return fallback
	}
	return n
}
