package schema

import "time"

// StepResult records the outcome of one step execution. Immutable once
// finalized: a re-run of a step appends a new result, it never edits the
// old one.
type StepResult struct {
	StepName        string     `json:"step_name"`
	Status          StepStatus `json:"status"`
	Output          any        `json:"output,omitempty"`
	Error           string     `json:"error,omitempty"`
	StartedAt       *Timestamp `json:"started_at,omitempty"`
	CompletedAt     *Timestamp `json:"completed_at,omitempty"`
	DurationSeconds float64    `json:"duration_seconds"`
	RetryAttempts   int        `json:"retry_attempts"`
}

// WorkflowState is the mutable state of one run. Owned exclusively by the
// execution engine during a run; persisted after every state-changing
// operation.
type WorkflowState struct {
	WorkflowName string         `json:"workflow_name"`
	RunID        string         `json:"run_id"`
	Status       WorkflowStatus `json:"status"`
	// CurrentStep is the index of the step being executed, nil before the
	// first step runs.
	CurrentStep *int `json:"current_step,omitempty"`
	// StepResults is append-only, ordered by execution order. Skipped steps
	// produce no entry.
	StepResults     []StepResult   `json:"step_results"`
	PendingApproval string         `json:"pending_approval,omitempty"` // step name awaiting approval
	Variables       map[string]any `json:"variables"`
	StartedAt       *Timestamp     `json:"started_at,omitempty"`
	UpdatedAt       *Timestamp     `json:"updated_at,omitempty"`
	CompletedAt     *Timestamp     `json:"completed_at,omitempty"`
	Error           string         `json:"error,omitempty"`
}

// ApprovalRequest is created when a run reaches a gate and resolved by an
// external approve or reject call. Exactly one request exists per
// (run, step) pair at a time; reaching the same gate again overwrites it.
type ApprovalRequest struct {
	RunID           string       `json:"run_id"`
	StepName        string       `json:"step_name"`
	Gate            ApprovalGate `json:"gate"`
	RequestedAt     Timestamp    `json:"requested_at"`
	ExpiresAt       *Timestamp   `json:"expires_at,omitempty"` // timeout gates only
	ApprovedBy      string       `json:"approved_by,omitempty"`
	ApprovedAt      *Timestamp   `json:"approved_at,omitempty"`
	RejectedBy      string       `json:"rejected_by,omitempty"`
	RejectedAt      *Timestamp   `json:"rejected_at,omitempty"`
	RejectionReason string       `json:"rejection_reason,omitempty"`
}

// IsPending reports whether the request has not yet been resolved.
func (r *ApprovalRequest) IsPending() bool {
	return r.ApprovedBy == "" && r.RejectedBy == ""
}

// IsExpired reports whether the request's expiry timestamp has passed.
func (r *ApprovalRequest) IsExpired() bool {
	if r.ExpiresAt == nil {
		return false
	}
	return time.Now().UTC().After(r.ExpiresAt.Time)
}
