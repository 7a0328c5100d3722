package engine

import (
	"context"

	"github.com/bigdegenenergy/open-cloud-ops/pkg/schema"
)

// ValidTransitions defines the allowed workflow status transitions:
// NOT_STARTED -> RUNNING -> {PAUSED <-> RUNNING} -> {COMPLETED | FAILED |
// CANCELLED}. PAUSED and RUNNING alternate only via gate pause and
// approve/reject/resume. COMPLETED and FAILED are terminal; CANCELLED is
// reached through Cancel.
var ValidTransitions = map[schema.WorkflowStatus][]schema.WorkflowStatus{
	schema.WorkflowStatusNotStarted: {schema.WorkflowStatusRunning, schema.WorkflowStatusCompleted, schema.WorkflowStatusCancelled},
	schema.WorkflowStatusRunning:    {schema.WorkflowStatusPaused, schema.WorkflowStatusCompleted, schema.WorkflowStatusFailed, schema.WorkflowStatusCancelled},
	schema.WorkflowStatusPaused:     {schema.WorkflowStatusRunning, schema.WorkflowStatusFailed, schema.WorkflowStatusCancelled},
	schema.WorkflowStatusCompleted:  {},
	schema.WorkflowStatusFailed:     {},
	schema.WorkflowStatusCancelled:  {},
}

// CanTransition reports whether from -> to is an allowed status transition.
func CanTransition(from, to schema.WorkflowStatus) bool {
	for _, allowed := range ValidTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// transition moves the state to a new status, validating against the
// transition table, and emits the matching lifecycle event. A transition to
// the current status is a no-op.
func (e *Engine) transition(ctx context.Context, state *schema.WorkflowState, to schema.WorkflowStatus) error {
	if state.Status == to {
		return nil
	}
	if !CanTransition(state.Status, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid workflow transition: %s -> %s", state.Status, to).
			WithDetails(map[string]any{"run_id": state.RunID})
	}
	from := state.Status
	state.Status = to
	eventType := eventForStatus(to)
	if from == schema.WorkflowStatusPaused && to == schema.WorkflowStatusRunning {
		eventType = schema.EventWorkflowResumed
	}
	e.emitEvent(ctx, &schema.Event{RunID: state.RunID, Type: eventType})
	return nil
}

func eventForStatus(to schema.WorkflowStatus) string {
	switch to {
	case schema.WorkflowStatusRunning:
		return schema.EventWorkflowStarted
	case schema.WorkflowStatusPaused:
		return schema.EventWorkflowPaused
	case schema.WorkflowStatusCompleted:
		return schema.EventWorkflowCompleted
	case schema.WorkflowStatusFailed:
		return schema.EventWorkflowFailed
	case schema.WorkflowStatusCancelled:
		return schema.EventWorkflowCancelled
	default:
		return ""
	}
}
