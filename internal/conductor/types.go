package conductor

import "time"

// RunStatus represents the lifecycle state of a workflow run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusPaused    RunStatus = "paused"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// StepStatus represents the execution state of a single step within a run.
type StepStatus string

const (
	StepStatusPending    StepStatus = "pending"
	StepStatusInProgress StepStatus = "in_progress"
	StepStatusCompleted  StepStatus = "completed"
	StepStatusFailed     StepStatus = "failed"
	StepStatusSkipped    StepStatus = "skipped"
)

// WorkflowDefinition is an immutable workflow template. Definitions are
// created at configuration time and never mutated by the engine.
type WorkflowDefinition struct {
	ID      string           `json:"id" yaml:"id"`
	Name    string           `json:"name" yaml:"name"`
	Version int              `json:"version" yaml:"version"`
	Steps   []StepDefinition `json:"steps" yaml:"steps"`
}

// StepDefinition is a single named stage bound to one registered action.
type StepDefinition struct {
	ID            string         `json:"id" yaml:"id"`
	Action        string         `json:"action" yaml:"action"`
	Next          string         `json:"next,omitempty" yaml:"next,omitempty"`
	Params        map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
	Prerequisites []string       `json:"prerequisites,omitempty" yaml:"prerequisites,omitempty"`
	// CanGoBack defaults to true when nil.
	CanGoBack *bool `json:"can_go_back,omitempty" yaml:"can_go_back,omitempty"`
	CanJumpTo bool  `json:"can_jump_to,omitempty" yaml:"can_jump_to,omitempty"`
	// Condition is an optional expression evaluated against the run context.
	// When it evaluates to false the step is skipped.
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
	// InputSchema is a JSON Schema document validating wizard step input.
	InputSchema map[string]any `json:"input_schema,omitempty" yaml:"input_schema,omitempty"`
}

// BackAllowed reports whether back-navigation away from this step is allowed.
func (s *StepDefinition) BackAllowed() bool {
	return s.CanGoBack == nil || *s.CanGoBack
}

// Step returns the step with the given id, or false if absent.
func (d *WorkflowDefinition) Step(id string) (*StepDefinition, bool) {
	for i := range d.Steps {
		if d.Steps[i].ID == id {
			return &d.Steps[i], true
		}
	}
	return nil, false
}

// First returns the entry step of the definition.
func (d *WorkflowDefinition) First() (*StepDefinition, bool) {
	if len(d.Steps) == 0 {
		return nil, false
	}
	return &d.Steps[0], true
}

// Predecessor returns the step positionally preceding the given id.
// Used as a fallback when navigation history carries no forward entry.
func (d *WorkflowDefinition) Predecessor(id string) (*StepDefinition, bool) {
	for i := range d.Steps {
		if d.Steps[i].ID == id && i > 0 {
			return &d.Steps[i-1], true
		}
	}
	return nil, false
}

// NavigationKind classifies a navigation history entry.
type NavigationKind string

const (
	NavigationForward NavigationKind = "forward"
	NavigationBack    NavigationKind = "back"
	NavigationJump    NavigationKind = "jump"
)

// NavigationEntry is one record in a run or session's append-only
// navigation history. History is never rewritten, only appended.
type NavigationEntry struct {
	Kind NavigationKind `json:"kind"`
	From string         `json:"from"`
	To   string         `json:"to"`
	At   time.Time      `json:"at"`
}

// PausedState snapshots the execution position captured when a run is
// paused. CurrentStepID on the run is canonical; this snapshot exists so
// that resumption can be verified against it.
type PausedState struct {
	StepID  string         `json:"step_id"`
	Context map[string]any `json:"context"`
}

// LogEntry is one leveled, append-only run log line.
type LogEntry struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Run is one execution instance of a WorkflowDefinition.
type Run struct {
	ID             string            `json:"id"`
	WorkflowID     string            `json:"workflow_id"`
	Status         RunStatus         `json:"status"`
	Params         map[string]any    `json:"params"`
	Context        map[string]any    `json:"context"`
	CurrentStepID  string            `json:"current_step_id"`
	CompletedSteps []string          `json:"completed_steps"`
	History        []NavigationEntry `json:"history"`
	PausedState    *PausedState      `json:"paused_state,omitempty"`
	Logs           []LogEntry        `json:"logs"`
	Error          *string           `json:"error,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	StartedAt      *time.Time        `json:"started_at,omitempty"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
}

// StepCompleted reports whether stepID is in the run's completed list.
func (r *Run) StepCompleted(stepID string) bool {
	for _, id := range r.CompletedSteps {
		if id == stepID {
			return true
		}
	}
	return false
}

// StepVisited reports whether stepID appears anywhere in navigation history.
func (r *Run) StepVisited(stepID string) bool {
	for _, e := range r.History {
		if e.To == stepID || e.From == stepID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy. The memory repository hands out clones so a
// reader never observes a concurrent mutation mid-write; all writes go back
// through the repository.
func (r *Run) Clone() *Run {
	cp := *r
	cp.Params = CopyMap(r.Params)
	cp.Context = CopyMap(r.Context)
	cp.CompletedSteps = append([]string(nil), r.CompletedSteps...)
	cp.History = append([]NavigationEntry(nil), r.History...)
	cp.Logs = append([]LogEntry(nil), r.Logs...)
	if r.PausedState != nil {
		cp.PausedState = &PausedState{
			StepID:  r.PausedState.StepID,
			Context: CopyMap(r.PausedState.Context),
		}
	}
	if r.Error != nil {
		e := *r.Error
		cp.Error = &e
	}
	if r.StartedAt != nil {
		at := *r.StartedAt
		cp.StartedAt = &at
	}
	if r.CompletedAt != nil {
		at := *r.CompletedAt
		cp.CompletedAt = &at
	}
	return &cp
}

// StepState is the persisted execution record for one (run, step) pair.
// At most one record exists per pair; writes go through an upsert.
type StepState struct {
	RunID       string         `json:"run_id"`
	StepID      string         `json:"step_id"`
	Status      StepStatus     `json:"status"`
	Params      map[string]any `json:"params,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
	Error       *string        `json:"error,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	RetryCount  int            `json:"retry_count"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// Clone returns a deep copy, for the same reason Run.Clone exists.
func (s *StepState) Clone() *StepState {
	cp := *s
	cp.Params = CopyMap(s.Params)
	cp.Result = CopyMap(s.Result)
	cp.Context = CopyMap(s.Context)
	cp.Metadata = CopyMap(s.Metadata)
	if s.Error != nil {
		e := *s.Error
		cp.Error = &e
	}
	if s.StartedAt != nil {
		at := *s.StartedAt
		cp.StartedAt = &at
	}
	if s.CompletedAt != nil {
		at := *s.CompletedAt
		cp.CompletedAt = &at
	}
	return &cp
}
