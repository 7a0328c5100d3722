package statestore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigdegenenergy/open-cloud-ops/pkg/schema"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	require.NoError(t, err)
	return store
}

func sampleState(runID string) *schema.WorkflowState {
	started := schema.NewTimestamp(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	stepDone := schema.NewTimestamp(time.Date(2026, 3, 1, 12, 0, 5, 0, time.UTC))
	idx := 1
	return &schema.WorkflowState{
		WorkflowName: "feature-pipeline",
		RunID:        runID,
		Status:       schema.WorkflowStatusRunning,
		CurrentStep:  &idx,
		StepResults: []schema.StepResult{
			{
				StepName:        "build",
				Status:          schema.StepStatusCompleted,
				Output:          map[string]any{"stdout": "ok\n", "stderr": "", "return_code": float64(0)},
				StartedAt:       &started,
				CompletedAt:     &stepDone,
				DurationSeconds: 5,
			},
		},
		Variables: map[string]any{"env": "staging"},
		StartedAt: &started,
	}
}

func TestSaveLoadState_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	state := sampleState("feature-pipeline-a1b2c3d4")

	require.NoError(t, store.SaveState(state))
	require.NotNil(t, state.UpdatedAt, "save stamps updated_at")

	loaded, err := store.LoadState(state.RunID)
	require.NoError(t, err)

	assert.Equal(t, state.WorkflowName, loaded.WorkflowName)
	assert.Equal(t, state.RunID, loaded.RunID)
	assert.Equal(t, state.Status, loaded.Status)
	require.NotNil(t, loaded.CurrentStep)
	assert.Equal(t, 1, *loaded.CurrentStep)
	assert.Equal(t, state.StepResults, loaded.StepResults)
	assert.Equal(t, state.Variables, loaded.Variables)
	assert.True(t, state.StartedAt.Equal(loaded.StartedAt.Time))
	assert.Nil(t, loaded.CompletedAt)
	assert.Empty(t, loaded.Error)
	assert.Empty(t, loaded.PendingApproval)
}

func TestLoadState_NaiveTimestampAssumedUTC(t *testing.T) {
	store := newTestStore(t)

	// States written by older tooling carry timezone-naive timestamps.
	raw := `{
	  "workflow_name": "legacy",
	  "run_id": "legacy-00000001",
	  "status": "completed",
	  "step_results": [],
	  "variables": {},
	  "started_at": "2026-03-01T12:00:00",
	  "completed_at": "2026-03-01T12:05:00.123456"
	}`
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), "legacy-00000001.json"), []byte(raw), 0o644))

	state, err := store.LoadState("legacy-00000001")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), state.StartedAt.Time)
	assert.Equal(t, time.UTC, state.CompletedAt.Location())
}

func TestLoadState_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.LoadState("nope-12345678")
	require.Error(t, err)
	assert.True(t, schema.IsNotFound(err))
}

func TestSanitizeRunID(t *testing.T) {
	valid := []string{"feature-pipeline-a1b2c3d4", "a", "A_b-9"}
	for _, id := range valid {
		got, err := SanitizeRunID(id)
		require.NoError(t, err, id)
		assert.Equal(t, id, got)
	}

	invalid := []string{
		"../etc/passwd",
		"..",
		"a/b",
		"a\\b",
		"run\x00id",
		"run id",
		"run.id",
		"",
	}
	for _, id := range invalid {
		_, err := SanitizeRunID(id)
		require.Error(t, err, "id %q", id)
		we, ok := err.(*schema.WorkflowError)
		require.True(t, ok)
		assert.Equal(t, schema.ErrCodeInvalidIdentifier, we.Code)
	}
}

func TestPathTraversalNeverTouchesFilesystem(t *testing.T) {
	store := newTestStore(t)

	_, err := store.LoadState("../etc/passwd")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeInvalidIdentifier, err.(*schema.WorkflowError).Code)

	err = store.SaveState(&schema.WorkflowState{RunID: "../escape"})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeInvalidIdentifier, err.(*schema.WorkflowError).Code)

	// Nothing was created outside or inside the state dir.
	entries, readErr := os.ReadDir(store.Dir())
	require.NoError(t, readErr)
	assert.Empty(t, entries)
}

func TestDeleteState(t *testing.T) {
	store := newTestStore(t)
	state := sampleState("doomed-00000001")
	require.NoError(t, store.SaveState(state))
	require.NoError(t, store.SaveApproval(&schema.ApprovalRequest{
		RunID:       state.RunID,
		StepName:    "build",
		Gate:        schema.ApprovalGate{Type: schema.GateTypeManual, Message: "ok?"},
		RequestedAt: schema.Now(),
	}))

	deleted, err := store.DeleteState(state.RunID)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = store.LoadState(state.RunID)
	assert.True(t, schema.IsNotFound(err))

	deleted, err = store.DeleteState(state.RunID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestListRunsAndActive(t *testing.T) {
	store := newTestStore(t)

	running := sampleState("run-00000001")
	paused := sampleState("run-00000002")
	paused.Status = schema.WorkflowStatusPaused
	paused.PendingApproval = "build"
	done := sampleState("run-00000003")
	done.Status = schema.WorkflowStatusCompleted

	for _, s := range []*schema.WorkflowState{running, paused, done} {
		require.NoError(t, store.SaveState(s))
	}
	// An approval file must not show up as a run.
	require.NoError(t, store.SaveApproval(&schema.ApprovalRequest{
		RunID:       paused.RunID,
		StepName:    "build",
		Gate:        schema.ApprovalGate{Type: schema.GateTypeManual},
		RequestedAt: schema.Now(),
	}))

	runs, err := store.ListRuns()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"run-00000001", "run-00000002", "run-00000003"}, runs)

	active, err := store.ListActive()
	require.NoError(t, err)
	ids := make([]string, 0, len(active))
	for _, s := range active {
		ids = append(ids, s.RunID)
	}
	assert.ElementsMatch(t, []string{"run-00000001", "run-00000002"}, ids)
}

func TestApprovalRoundTripAndOverwrite(t *testing.T) {
	store := newTestStore(t)
	timeout := 300
	request := &schema.ApprovalRequest{
		RunID:    "run-00000001",
		StepName: "deploy",
		Gate: schema.ApprovalGate{
			Type:           schema.GateTypeTimeout,
			Message:        "deploy to staging?",
			TimeoutSeconds: &timeout,
			Approvers:      []string{"alice", "bob"},
			Notify:         true,
		},
		RequestedAt: schema.Now(),
		ExpiresAt:   schema.TimestampPtr(time.Now().Add(5 * time.Minute)),
	}
	require.NoError(t, store.SaveApproval(request))

	loaded, err := store.LoadApproval(request.RunID)
	require.NoError(t, err)
	assert.Equal(t, request.StepName, loaded.StepName)
	assert.Equal(t, request.Gate.Type, loaded.Gate.Type)
	require.NotNil(t, loaded.Gate.TimeoutSeconds)
	assert.Equal(t, 300, *loaded.Gate.TimeoutSeconds)
	assert.True(t, loaded.IsPending())
	assert.False(t, loaded.IsExpired())

	// A second gate invocation for the run overwrites the prior request.
	request.StepName = "verify"
	require.NoError(t, store.SaveApproval(request))
	loaded, err = store.LoadApproval(request.RunID)
	require.NoError(t, err)
	assert.Equal(t, "verify", loaded.StepName)
}

func TestListPendingApprovals(t *testing.T) {
	store := newTestStore(t)

	pending := &schema.ApprovalRequest{
		RunID:       "run-00000001",
		StepName:    "deploy",
		Gate:        schema.ApprovalGate{Type: schema.GateTypeManual},
		RequestedAt: schema.Now(),
	}
	resolved := &schema.ApprovalRequest{
		RunID:       "run-00000002",
		StepName:    "deploy",
		Gate:        schema.ApprovalGate{Type: schema.GateTypeManual},
		RequestedAt: schema.Now(),
		ApprovedBy:  "alice",
		ApprovedAt:  schema.TimestampPtr(time.Now()),
	}
	expired := &schema.ApprovalRequest{
		RunID:       "run-00000003",
		StepName:    "deploy",
		Gate:        schema.ApprovalGate{Type: schema.GateTypeTimeout},
		RequestedAt: schema.Now(),
		ExpiresAt:   schema.TimestampPtr(time.Now().Add(-time.Minute)),
	}

	for _, r := range []*schema.ApprovalRequest{pending, resolved, expired} {
		require.NoError(t, store.SaveApproval(r))
	}

	got, err := store.ListPendingApprovals()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "run-00000001", got[0].RunID)
}

func TestAppendEvent(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.AppendEvent(&schema.Event{RunID: "run-00000001", Type: schema.EventWorkflowStarted}))
	require.NoError(t, store.AppendEvent(&schema.Event{RunID: "run-00000001", StepName: "build", Type: schema.EventStepCompleted}))

	data, err := os.ReadFile(filepath.Join(store.Dir(), "run-00000001.events.jsonl"))
	require.NoError(t, err)
	assert.Contains(t, string(data), schema.EventWorkflowStarted)
	assert.Contains(t, string(data), schema.EventStepCompleted)
}

func TestLockFileIsEmptySentinel(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.SaveState(sampleState("run-00000001")))

	info, err := os.Stat(filepath.Join(store.Dir(), "run-00000001.lock"))
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}
