package schema

// Event types appended to a run's event log.
const (
	EventWorkflowStarted   = "workflow.started"
	EventWorkflowPaused    = "workflow.paused"
	EventWorkflowResumed   = "workflow.resumed"
	EventWorkflowCompleted = "workflow.completed"
	EventWorkflowFailed    = "workflow.failed"
	EventWorkflowCancelled = "workflow.cancelled"

	EventStepStarted   = "step.started"
	EventStepCompleted = "step.completed"
	EventStepFailed    = "step.failed"

	EventApprovalRequested = "approval.requested"
	EventApprovalApproved  = "approval.approved"
	EventApprovalRejected  = "approval.rejected"
)

// Event is an immutable entry in a run's append-only event log.
type Event struct {
	RunID     string         `json:"run_id"`
	StepName  string         `json:"step_name,omitempty"`
	Type      string         `json:"event_type"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp Timestamp      `json:"timestamp"`
}
