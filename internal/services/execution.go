package services

import (
	"context"
	"regexp"
	"sync"
	"time"
)

// ExecutionHandle represents one in-flight run execution and carries its
// cancellation function.
type ExecutionHandle struct {
	RunID  string
	cancel context.CancelFunc
}

// ExecutionRegistry tracks active run executions so administrative calls
// can cancel the executing goroutine cooperatively.
type ExecutionRegistry struct {
	mu      sync.RWMutex
	handles map[string]*ExecutionHandle
}

func NewExecutionRegistry() *ExecutionRegistry {
	return &ExecutionRegistry{handles: make(map[string]*ExecutionHandle)}
}

// Register adds an execution handle for a starting run.
func (r *ExecutionRegistry) Register(runID string, cancel context.CancelFunc) *ExecutionHandle {
	h := &ExecutionHandle{RunID: runID, cancel: cancel}
	r.mu.Lock()
	r.handles[runID] = h
	r.mu.Unlock()
	return h
}

// Cancel signals the run's executing goroutine to stop. Returns false when
// the run is not executing (already finished or never started), which
// callers treat as success: cancellation is idempotent.
func (r *ExecutionRegistry) Cancel(runID string) bool {
	r.mu.RLock()
	h, ok := r.handles[runID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	h.cancel()
	return true
}

// Unregister removes a completed execution.
func (r *ExecutionRegistry) Unregister(runID string) {
	r.mu.Lock()
	delete(r.handles, runID)
	r.mu.Unlock()
}

// ActionRecord tracks one executed wizard step action.
type ActionRecord struct {
	TrackingID string         `json:"tracking_id"`
	SessionID  string         `json:"session_id"`
	StepID     string         `json:"step_id"`
	ActionID   string         `json:"action_id"`
	ActionType string         `json:"action_type"`
	Status     string         `json:"status"`
	Output     map[string]any `json:"output,omitempty"`
	ExecutedAt time.Time      `json:"executed_at"`
}

// ActionTracker records executed wizard actions so clients can query their
// status afterwards by tracking ID.
type ActionTracker struct {
	mu      sync.RWMutex
	records map[string]*ActionRecord
}

func NewActionTracker() *ActionTracker {
	return &ActionTracker{records: make(map[string]*ActionRecord)}
}

// Track stores a record and returns it.
func (t *ActionTracker) Track(rec ActionRecord) *ActionRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[rec.TrackingID] = &rec
	return &rec
}

// Get returns the record for a tracking ID.
func (t *ActionTracker) Get(trackingID string) (*ActionRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[trackingID]
	return rec, ok
}

var trackingIDPattern = regexp.MustCompile(`^act-[0-9a-f]{16}$`)

// Status returns the tracked record, or a best-effort parsed fallback for
// a well-formed but unknown tracking ID (records are process-local and do
// not survive restarts). Returns false when the ID is neither tracked nor
// parseable.
func (t *ActionTracker) Status(trackingID string) (*ActionRecord, bool) {
	if rec, ok := t.Get(trackingID); ok {
		return rec, true
	}
	if trackingIDPattern.MatchString(trackingID) {
		return &ActionRecord{
			TrackingID: trackingID,
			Status:     "unknown",
		}, true
	}
	return nil, false
}
