// Package engine orchestrates workflow execution: step-by-step target
// resolution, variable substitution, gate handling, and run lifecycle
// transitions. The engine is driven synchronously, one ExecuteStep call at a
// time; state is persisted after every mutating operation.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bigdegenenergy/open-cloud-ops/internal/expressions"
	"github.com/bigdegenenergy/open-cloud-ops/internal/gates"
	"github.com/bigdegenenergy/open-cloud-ops/internal/logging"
	"github.com/bigdegenenergy/open-cloud-ops/internal/statestore"
	"github.com/bigdegenenergy/open-cloud-ops/pkg/schema"
)

// Notifier delivers approval request notifications when a gate with notify
// set pauses a run. Delivery failures are logged, never fatal.
type Notifier interface {
	Notify(ctx context.Context, request *schema.ApprovalRequest) error
}

// Engine executes workflow definitions against a state store. Construct
// with New; there is no ambient global instance.
type Engine struct {
	store    *statestore.Store
	notifier Notifier
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithNotifier sets the approval notification channel.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an Engine persisting through store.
func New(store *statestore.Store, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start begins a new run of a workflow definition. It builds and persists
// the initial state with status NOT_STARTED; no steps execute yet.
func (e *Engine) Start(ctx context.Context, def *schema.WorkflowDefinition, variables map[string]any) (*schema.WorkflowState, error) {
	if _, err := schema.SanitizeIdentifier(def.Name); err != nil {
		return nil, err
	}

	if variables == nil {
		variables = map[string]any{}
	}

	runID := fmt.Sprintf("%s-%s", def.Name, shortHex())
	now := schema.Now()
	state := &schema.WorkflowState{
		WorkflowName: def.Name,
		RunID:        runID,
		Status:       schema.WorkflowStatusNotStarted,
		StepResults:  []schema.StepResult{},
		Variables:    variables,
		StartedAt:    &now,
	}

	if err := e.store.SaveState(state); err != nil {
		return nil, err
	}

	e.logger.InfoContext(logging.WithRunID(ctx, runID), "workflow started",
		slog.String("workflow", def.Name), slog.Int("steps", len(def.Steps)))
	return state, nil
}

// shortHex returns 8 random hex characters for run identifiers.
func shortHex() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// ExecuteStep executes the step at index and reports whether the caller
// should continue with index+1. Step failures are captured into the result
// and the state, never returned as errors; only identifier, definition, and
// persistence faults propagate.
func (e *Engine) ExecuteStep(ctx context.Context, def *schema.WorkflowDefinition, state *schema.WorkflowState, index int) (*schema.WorkflowState, bool, error) {
	ctx = logging.WithRunID(ctx, state.RunID)

	if index >= len(def.Steps) {
		if err := e.transition(ctx, state, schema.WorkflowStatusCompleted); err != nil {
			return state, false, err
		}
		now := schema.Now()
		state.CompletedAt = &now
		if err := e.store.SaveState(state); err != nil {
			return state, false, err
		}
		return state, false, nil
	}

	step := def.Steps[index]
	ctx = logging.WithStepName(ctx, step.Name)

	idx := index
	state.CurrentStep = &idx
	if err := e.transition(ctx, state, schema.WorkflowStatusRunning); err != nil {
		return state, false, err
	}

	started := schema.Now()
	result := schema.StepResult{
		StepName:  step.Name,
		Status:    schema.StepStatusRunning,
		StartedAt: &started,
	}
	e.emitEvent(ctx, &schema.Event{RunID: state.RunID, StepName: step.Name, Type: schema.EventStepStarted})

	output, execErr := e.executeTarget(ctx, &step, state.Variables)
	completed := schema.Now()
	result.CompletedAt = &completed
	result.DurationSeconds = completed.Sub(started.Time).Seconds()

	if execErr != nil {
		result.Status = schema.StepStatusFailed
		result.Error = execErr.Error()
		e.emitEvent(ctx, &schema.Event{RunID: state.RunID, StepName: step.Name, Type: schema.EventStepFailed,
			Details: map[string]any{"error": execErr.Error()}})
		e.logger.WarnContext(ctx, "step failed", slog.String("error", execErr.Error()))

		if !step.ContinueOnFailure {
			state.StepResults = append(state.StepResults, result)
			if err := e.transition(ctx, state, schema.WorkflowStatusFailed); err != nil {
				return state, false, err
			}
			state.Error = fmt.Sprintf("Step '%s' failed: %s", step.Name, execErr.Error())
			if err := e.store.SaveState(state); err != nil {
				return state, false, err
			}
			return state, false, nil
		}
	} else {
		result.Status = schema.StepStatusCompleted
		result.Output = output
		e.emitEvent(ctx, &schema.Event{RunID: state.RunID, StepName: step.Name, Type: schema.EventStepCompleted})
		e.logger.InfoContext(ctx, "step completed",
			slog.Float64("duration_seconds", result.DurationSeconds))
	}

	state.StepResults = append(state.StepResults, result)

	// Gate handling runs only after a completed result; a failed step with
	// continue_on_failure skips its gate.
	if step.Gate != nil && result.Status == schema.StepStatusCompleted {
		pause, err := e.handleGate(ctx, state, &step)
		if err != nil {
			return state, false, err
		}
		if pause {
			// The step itself is done; the workflow pauses after it.
			return state, false, nil
		}
	}

	if err := e.store.SaveState(state); err != nil {
		return state, false, err
	}
	return state, true, nil
}

// Run starts a new run and drives ExecuteStep until the engine reports it
// should stop: completion, failure, or a gate pause.
func (e *Engine) Run(ctx context.Context, def *schema.WorkflowDefinition, variables map[string]any) (*schema.WorkflowState, error) {
	state, err := e.Start(ctx, def, variables)
	if err != nil {
		return nil, err
	}

	for index := 0; ; index++ {
		var cont bool
		state, cont, err = e.ExecuteStep(ctx, def, state, index)
		if err != nil {
			return state, err
		}
		if !cont {
			return state, nil
		}
	}
}

// executeTarget resolves a step's target by kind. Shell targets execute in
// place; command, agent, and parallel targets produce deferred-execution
// descriptors for external collaborators and count as immediate success.
func (e *Engine) executeTarget(ctx context.Context, step *schema.WorkflowStep, variables map[string]any) (any, error) {
	// Shell contexts get shell-escaped substitution to prevent command
	// injection; descriptor inputs are not shell contexts and must not be
	// escaped.
	shellSafe := step.Type == schema.StepTypeShell

	inputs := map[string]any{}
	if step.Inputs != nil {
		inputs = expressions.Substitute(step.Inputs, variables, shellSafe).(map[string]any)
	}

	target := step.Target
	if shellSafe {
		target = expressions.SubstituteString(target, variables, true)
	}

	switch step.Type {
	case schema.StepTypeShell:
		return runShell(ctx, target, step.TimeoutSeconds)
	case schema.StepTypeCommand, schema.StepTypeAgent:
		return map[string]any{
			"step_type":       string(step.Type),
			"target":          target,
			"inputs":          inputs,
			"timeout_seconds": step.TimeoutSeconds,
			"requires":        "external",
		}, nil
	case schema.StepTypeParallel:
		// The engine does not fan out execution; it describes the targets
		// for an external parallel executor.
		return map[string]any{
			"step_type":       string(step.Type),
			"targets":         strings.Split(target, ","),
			"inputs":          inputs,
			"timeout_seconds": step.TimeoutSeconds,
			"requires":        "external",
		}, nil
	}
	return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown step type %q", step.Type).WithStep(step.Name)
}

// handleGate evaluates a step's gate after completion. Reports true when
// the workflow should stop advancing (pause for approval, conditional
// failure, or skip).
func (e *Engine) handleGate(ctx context.Context, state *schema.WorkflowState, step *schema.WorkflowStep) (bool, error) {
	gate := step.Gate

	if gate.Type == schema.GateTypeConditional && gate.Condition != "" {
		if expressions.EvaluateCondition(gate.Condition, state.StepResults, state.Variables) {
			return false, nil
		}
		switch gate.Fallback {
		case schema.FallbackFail:
			if err := e.transition(ctx, state, schema.WorkflowStatusFailed); err != nil {
				return false, err
			}
			state.Error = fmt.Sprintf("Gate condition not met: %s", gate.Condition)
			if err := e.store.SaveState(state); err != nil {
				return false, err
			}
			return true, nil
		case schema.FallbackSkip:
			// Remaining steps are intentionally skipped: a successful early
			// exit, stamped terminal so the run never strands in the active
			// list.
			if err := e.transition(ctx, state, schema.WorkflowStatusCompleted); err != nil {
				return false, err
			}
			now := schema.Now()
			state.CompletedAt = &now
			if err := e.store.SaveState(state); err != nil {
				return false, err
			}
			return true, nil
		}
		// Any other fallback waits for approval, same as a manual gate.
	}

	request := gates.CreateApprovalRequest(state.RunID, step.Name, *gate)
	if err := e.store.SaveApproval(request); err != nil {
		return false, err
	}
	e.emitEvent(ctx, &schema.Event{RunID: state.RunID, StepName: step.Name, Type: schema.EventApprovalRequested})

	if err := e.transition(ctx, state, schema.WorkflowStatusPaused); err != nil {
		return false, err
	}
	state.PendingApproval = step.Name
	if err := e.store.SaveState(state); err != nil {
		return false, err
	}

	e.logger.InfoContext(ctx, "workflow paused for approval",
		slog.String("gate", string(gate.Type)))

	if gate.Notify && e.notifier != nil {
		if err := e.notifier.Notify(ctx, request); err != nil {
			e.logger.WarnContext(ctx, "approval notification failed", slog.String("error", err.Error()))
		}
	}

	return true, nil
}

// Resume re-examines a paused run. Timeout gates past their expiry are
// auto-approved. If the pending request is resolved the run flips back to
// RUNNING, but execution is not continued automatically: the caller drives
// further ExecuteStep calls.
func (e *Engine) Resume(ctx context.Context, runID string) (*schema.WorkflowState, error) {
	ctx = logging.WithRunID(ctx, runID)

	state, err := e.store.LoadState(runID)
	if err != nil {
		return nil, err
	}
	if state.Status != schema.WorkflowStatusPaused {
		return state, nil
	}

	request, err := e.store.LoadApproval(runID)
	if err != nil {
		if schema.IsNotFound(err) {
			return state, nil
		}
		return nil, err
	}

	if gates.CheckTimeoutGate(request) && request.IsPending() {
		gates.ApproveRequest(request, "timeout")
		if err := e.store.SaveApproval(request); err != nil {
			return nil, err
		}
		e.emitEvent(ctx, &schema.Event{RunID: runID, StepName: request.StepName,
			Type: schema.EventApprovalApproved, Details: map[string]any{"approved_by": "timeout"}})
		e.logger.InfoContext(ctx, "timeout gate auto-approved", slog.String("step", request.StepName))
	}

	if !request.IsPending() {
		if err := e.transition(ctx, state, schema.WorkflowStatusRunning); err != nil {
			return nil, err
		}
		state.PendingApproval = ""
		if err := e.store.SaveState(state); err != nil {
			return nil, err
		}
	}

	return state, nil
}

// Approve resolves a pending approval request and flips the run back to
// RUNNING. Approving an already-resolved request fails with NOT_FOUND.
func (e *Engine) Approve(ctx context.Context, runID, approvedBy string) (*schema.WorkflowState, error) {
	ctx = logging.WithRunID(ctx, runID)

	request, err := e.store.LoadApproval(runID)
	if err != nil {
		return nil, err
	}
	if !request.IsPending() {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "no pending approval for run: %s", runID)
	}

	gates.ApproveRequest(request, approvedBy)
	if err := e.store.SaveApproval(request); err != nil {
		return nil, err
	}
	e.emitEvent(ctx, &schema.Event{RunID: runID, StepName: request.StepName,
		Type: schema.EventApprovalApproved, Details: map[string]any{"approved_by": approvedBy}})

	state, err := e.store.LoadState(runID)
	if err != nil {
		return nil, err
	}
	if state.Status == schema.WorkflowStatusPaused {
		if err := e.transition(ctx, state, schema.WorkflowStatusRunning); err != nil {
			return nil, err
		}
	}
	state.PendingApproval = ""
	if err := e.store.SaveState(state); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "approval granted", slog.String("approved_by", approvedBy))
	return state, nil
}

// Reject resolves a pending approval request as rejected and fails the run.
func (e *Engine) Reject(ctx context.Context, runID, rejectedBy, reason string) (*schema.WorkflowState, error) {
	ctx = logging.WithRunID(ctx, runID)

	request, err := e.store.LoadApproval(runID)
	if err != nil {
		return nil, err
	}
	if !request.IsPending() {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "no pending approval for run: %s", runID)
	}

	gates.RejectRequest(request, rejectedBy, reason)
	if err := e.store.SaveApproval(request); err != nil {
		return nil, err
	}
	e.emitEvent(ctx, &schema.Event{RunID: runID, StepName: request.StepName,
		Type: schema.EventApprovalRejected, Details: map[string]any{"rejected_by": rejectedBy, "reason": reason}})

	state, err := e.store.LoadState(runID)
	if err != nil {
		return nil, err
	}
	if err := e.transition(ctx, state, schema.WorkflowStatusFailed); err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "No reason provided"
	}
	state.Error = fmt.Sprintf("Rejected by %s: %s", rejectedBy, reason)
	if err := e.store.SaveState(state); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "approval rejected", slog.String("rejected_by", rejectedBy))
	return state, nil
}

// Cancel terminates a run externally. Allowed from any non-terminal status.
func (e *Engine) Cancel(ctx context.Context, runID, reason string) (*schema.WorkflowState, error) {
	ctx = logging.WithRunID(ctx, runID)

	state, err := e.store.LoadState(runID)
	if err != nil {
		return nil, err
	}
	if err := e.transition(ctx, state, schema.WorkflowStatusCancelled); err != nil {
		return nil, err
	}
	if reason != "" {
		state.Error = fmt.Sprintf("Cancelled: %s", reason)
	}
	now := schema.Now()
	state.CompletedAt = &now
	state.PendingApproval = ""
	if err := e.store.SaveState(state); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "workflow cancelled", slog.String("reason", reason))
	return state, nil
}

// Status returns the current state of a run.
func (e *Engine) Status(ctx context.Context, runID string) (*schema.WorkflowState, error) {
	return e.store.LoadState(runID)
}

// ListActive returns all running or paused runs.
func (e *Engine) ListActive(ctx context.Context) ([]*schema.WorkflowState, error) {
	return e.store.ListActive()
}

// ListPendingApprovals returns all unresolved, unexpired approval requests.
func (e *Engine) ListPendingApprovals(ctx context.Context) ([]*schema.ApprovalRequest, error) {
	return e.store.ListPendingApprovals()
}

// Delete removes all persisted artifacts of a run.
func (e *Engine) Delete(ctx context.Context, runID string) (bool, error) {
	return e.store.DeleteState(runID)
}

// emitEvent appends to the run's event log. Best-effort observability: a
// failed append is logged and never fails the operation that produced it.
func (e *Engine) emitEvent(ctx context.Context, event *schema.Event) {
	event.Timestamp = schema.NewTimestamp(time.Now())
	if err := e.store.AppendEvent(event); err != nil {
		e.logger.WarnContext(ctx, "event append failed",
			slog.String("event", event.Type), slog.String("error", err.Error()))
	}
}
