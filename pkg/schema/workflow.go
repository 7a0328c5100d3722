package schema

// StepType enumerates the kinds of workflow steps.
type StepType string

const (
	StepTypeCommand  StepType = "command"  // slash command, executed by an external collaborator
	StepTypeAgent    StepType = "agent"    // subagent invocation, executed by an external collaborator
	StepTypeShell    StepType = "shell"    // shell command, executed by the engine
	StepTypeParallel StepType = "parallel" // comma-joined targets for an external parallel executor
)

// GateType enumerates the kinds of approval gates.
type GateType string

const (
	GateTypeManual      GateType = "manual"      // requires explicit approval
	GateTypeTimeout     GateType = "timeout"     // auto-approves after a duration
	GateTypeConditional GateType = "conditional" // approves based on step output
)

// Fallback policies for conditional gates whose condition is not met.
const (
	FallbackFail     = "fail"
	FallbackSkip     = "skip"
	FallbackContinue = "continue"
)

// WorkflowStatus enumerates the lifecycle states of a run.
type WorkflowStatus string

const (
	WorkflowStatusNotStarted WorkflowStatus = "not_started"
	WorkflowStatusRunning    WorkflowStatus = "running"
	WorkflowStatusPaused     WorkflowStatus = "paused" // waiting for approval
	WorkflowStatusCompleted  WorkflowStatus = "completed"
	WorkflowStatusFailed     WorkflowStatus = "failed"
	WorkflowStatusCancelled  WorkflowStatus = "cancelled"
)

// StepStatus enumerates the lifecycle states of a single step execution.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// Defaults applied by the definition loader.
const (
	DefaultStepTimeoutSeconds     = 600
	DefaultWorkflowTimeoutSeconds = 3600
	DefaultGateMessage            = "Approval required"
)

// ApprovalGate pauses workflow execution after a step until resolved.
type ApprovalGate struct {
	Type           GateType `json:"type"`
	Message        string   `json:"message"`
	TimeoutSeconds *int     `json:"timeout_seconds,omitempty"` // timeout gates: auto-approve after this duration
	Condition      string   `json:"condition,omitempty"`       // conditional gates: expression to evaluate
	Fallback       string   `json:"fallback,omitempty"`        // fail | skip | continue (default: fail)
	Approvers      []string `json:"approvers,omitempty"`       // empty = anyone
	Notify         bool     `json:"notify"`
}

// WorkflowStep is a single unit of work in a workflow.
type WorkflowStep struct {
	Name              string         `json:"name"`
	Type              StepType       `json:"type"`
	Target            string         `json:"target"` // interpreted per Type
	Inputs            map[string]any `json:"inputs,omitempty"`
	Outputs           []string       `json:"outputs,omitempty"`
	Gate              *ApprovalGate  `json:"gate,omitempty"`
	TimeoutSeconds    int            `json:"timeout_seconds"`
	RetryCount        int            `json:"retry_count"`
	ContinueOnFailure bool           `json:"continue_on_failure"`
	DependsOn         []string       `json:"depends_on,omitempty"` // declared, not topologically enforced
}

// WorkflowDefinition is the immutable template a run executes. Never mutated
// after load.
type WorkflowDefinition struct {
	Name           string         `json:"name"`
	Description    string         `json:"description,omitempty"`
	Version        string         `json:"version"`
	Steps          []WorkflowStep `json:"steps"`
	OnFailure      string         `json:"on_failure"` // notify | rollback | continue
	OnSuccess      string         `json:"on_success"` // notify | cleanup
	TimeoutSeconds int            `json:"timeout_seconds"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}
