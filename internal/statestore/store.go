// Package statestore persists workflow run state as per-run JSON files
// guarded by advisory file locks. Writers take an exclusive lock, readers a
// shared lock, scoped to the single read or write operation. Different runs
// never contend: lock scope is the run identifier.
package statestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"

	"github.com/bigdegenenergy/open-cloud-ops/pkg/schema"
)

// SanitizeRunID validates a run identifier before it reaches the
// filesystem. Invalid identifiers are rejected, never truncated into a
// valid-looking path.
func SanitizeRunID(id string) (string, error) {
	return schema.SanitizeIdentifier(id)
}

// Store is the durable, lock-protected persistence layer for workflow state
// and approval requests. Safe for concurrent use across processes.
type Store struct {
	dir string
}

// New creates a Store rooted at dir, creating the directory if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "create state dir %s: %v", dir, err).WithCause(err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the directory the store persists into.
func (s *Store) Dir() string { return s.dir }

func (s *Store) statePath(safeID string) string {
	return filepath.Join(s.dir, safeID+".json")
}

func (s *Store) approvalPath(safeID string) string {
	return filepath.Join(s.dir, safeID+".approval.json")
}

func (s *Store) lockPath(safeID string) string {
	return filepath.Join(s.dir, safeID+".lock")
}

func (s *Store) eventsPath(safeID string) string {
	return filepath.Join(s.dir, safeID+".events.jsonl")
}

// withLock runs fn while holding the run's advisory lock. The lock file is
// an empty sentinel; it never holds content.
func (s *Store) withLock(safeID string, exclusive bool, fn func() error) error {
	lock := flock.New(s.lockPath(safeID))
	var err error
	if exclusive {
		err = lock.Lock()
	} else {
		err = lock.RLock()
	}
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "acquire lock for %s: %v", safeID, err).WithCause(err)
	}
	defer lock.Unlock()
	return fn()
}

// SaveState persists the workflow state, stamping UpdatedAt.
func (s *Store) SaveState(state *schema.WorkflowState) error {
	safeID, err := SanitizeRunID(state.RunID)
	if err != nil {
		return err
	}

	now := schema.Now()
	state.UpdatedAt = &now

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "marshal state for %s: %v", safeID, err).WithCause(err)
	}

	return s.withLock(safeID, true, func() error {
		if err := os.WriteFile(s.statePath(safeID), data, 0o644); err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "write state for %s: %v", safeID, err).WithCause(err)
		}
		return nil
	})
}

// LoadState reads the workflow state for a run. Returns a NOT_FOUND error if
// no state file exists.
func (s *Store) LoadState(runID string) (*schema.WorkflowState, error) {
	safeID, err := SanitizeRunID(runID)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(s.statePath(safeID)); os.IsNotExist(err) {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "run not found: %s", safeID)
	}

	var data []byte
	err = s.withLock(safeID, false, func() error {
		var readErr error
		data, readErr = os.ReadFile(s.statePath(safeID))
		if readErr != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "read state for %s: %v", safeID, readErr).WithCause(readErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var state schema.WorkflowState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "decode state for %s: %v", safeID, err).WithCause(err)
	}
	return &state, nil
}

// DeleteState removes the run's state, approval, event, and lock files.
// Returns true if anything was deleted.
func (s *Store) DeleteState(runID string) (bool, error) {
	safeID, err := SanitizeRunID(runID)
	if err != nil {
		return false, err
	}

	deleted := false
	for _, path := range []string{
		s.statePath(safeID),
		s.approvalPath(safeID),
		s.eventsPath(safeID),
		s.lockPath(safeID),
	} {
		if err := os.Remove(path); err == nil {
			deleted = true
		} else if !os.IsNotExist(err) {
			return deleted, schema.NewErrorf(schema.ErrCodeStore, "remove %s: %v", path, err).WithCause(err)
		}
	}
	return deleted, nil
}

// ListRuns returns the run identifiers of all persisted states.
func (s *Store) ListRuns() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "list state dir: %v", err).WithCause(err)
	}

	var runs []string
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".approval.json") {
			continue
		}
		runs = append(runs, strings.TrimSuffix(name, ".json"))
	}
	return runs, nil
}

// ListActive returns the states of all running or paused runs.
func (s *Store) ListActive() ([]*schema.WorkflowState, error) {
	runs, err := s.ListRuns()
	if err != nil {
		return nil, err
	}

	var active []*schema.WorkflowState
	for _, runID := range runs {
		state, err := s.LoadState(runID)
		if err != nil {
			if schema.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		if state.Status == schema.WorkflowStatusRunning || state.Status == schema.WorkflowStatusPaused {
			active = append(active, state)
		}
	}
	return active, nil
}

// SaveApproval persists an approval request, overwriting any prior request
// for the run.
func (s *Store) SaveApproval(request *schema.ApprovalRequest) error {
	safeID, err := SanitizeRunID(request.RunID)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(request, "", "  ")
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "marshal approval for %s: %v", safeID, err).WithCause(err)
	}

	return s.withLock(safeID, true, func() error {
		if err := os.WriteFile(s.approvalPath(safeID), data, 0o644); err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "write approval for %s: %v", safeID, err).WithCause(err)
		}
		return nil
	})
}

// LoadApproval reads the approval request for a run. Returns a NOT_FOUND
// error if no gate has been reached for the run.
func (s *Store) LoadApproval(runID string) (*schema.ApprovalRequest, error) {
	safeID, err := SanitizeRunID(runID)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(s.approvalPath(safeID)); os.IsNotExist(err) {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "no approval request for run: %s", safeID)
	}

	var data []byte
	err = s.withLock(safeID, false, func() error {
		var readErr error
		data, readErr = os.ReadFile(s.approvalPath(safeID))
		if readErr != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "read approval for %s: %v", safeID, readErr).WithCause(readErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var request schema.ApprovalRequest
	if err := json.Unmarshal(data, &request); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "decode approval for %s: %v", safeID, err).WithCause(err)
	}
	return &request, nil
}

// ListPendingApprovals returns all unresolved, unexpired approval requests.
func (s *Store) ListPendingApprovals() ([]*schema.ApprovalRequest, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "list state dir: %v", err).WithCause(err)
	}

	var pending []*schema.ApprovalRequest
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".approval.json") {
			continue
		}
		runID := strings.TrimSuffix(name, ".approval.json")
		request, err := s.LoadApproval(runID)
		if err != nil {
			if schema.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		if request.IsPending() && !request.IsExpired() {
			pending = append(pending, request)
		}
	}
	return pending, nil
}

// AppendEvent appends an event to the run's append-only event log. The log
// is observability only; it is never read back to rebuild state.
func (s *Store) AppendEvent(event *schema.Event) error {
	safeID, err := SanitizeRunID(event.RunID)
	if err != nil {
		return err
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = schema.Now()
	}

	line, err := json.Marshal(event)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "marshal event for %s: %v", safeID, err).WithCause(err)
	}

	return s.withLock(safeID, true, func() error {
		f, err := os.OpenFile(s.eventsPath(safeID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "open event log for %s: %v", safeID, err).WithCause(err)
		}
		defer f.Close()
		if _, err := fmt.Fprintf(f, "%s\n", line); err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "append event for %s: %v", safeID, err).WithCause(err)
		}
		return nil
	})
}
