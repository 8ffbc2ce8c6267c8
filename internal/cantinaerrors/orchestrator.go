package cantinaerrors

// OrchestratorError represents a batch-level failure: a dirty tree
// refusal, a missing batch id, or a wrapped worktree/dispatch failure that
// the orchestrator decided should abort the whole batch.
type OrchestratorError struct {
	baseError
	BatchID string
}

func NewOrchestratorError(message string, cause error) *OrchestratorError {
	return &OrchestratorError{
		baseError: baseError{message: message, cause: cause, severity: SeverityError, retryable: false, userFacing: true},
	}
}

func (e *OrchestratorError) WithBatch(batchID string) *OrchestratorError {
	e.BatchID = batchID
	return e
}

var _ CantinaError = (*OrchestratorError)(nil)

// PlanError represents a failure to obtain a usable execution plan or
// verification result: dispatch failure, or the stdout never contained a
// parseable JSON object even after the file-fallback recovery path.
type PlanError struct {
	baseError
}

func NewPlanError(message string, cause error) *PlanError {
	return &PlanError{
		baseError: baseError{message: message, cause: cause, severity: SeverityWarning, retryable: true, userFacing: true},
	}
}

var _ CantinaError = (*PlanError)(nil)
