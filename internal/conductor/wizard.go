package conductor

import "time"

// SessionStatus represents the lifecycle state of a wizard session.
type SessionStatus string

const (
	SessionStatusPending   SessionStatus = "pending"
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusAbandoned SessionStatus = "abandoned"
)

// WizardSession is the revision-guarded interactive analogue of a Run.
// Every mutation goes through a compare-and-swap on Revision; the revision
// field is the session's sole concurrency token.
type WizardSession struct {
	SessionID         string            `json:"session_id"`
	DefinitionID      string            `json:"definition_id"`
	DefinitionVersion int               `json:"definition_version"`
	UserID            string            `json:"user_id,omitempty"`
	CurrentStepID     string            `json:"current_step_id"`
	CompletedSteps    []string          `json:"completed_steps"`
	StepOutputs       map[string]any    `json:"step_outputs"`
	Context           map[string]any    `json:"context"`
	History           []NavigationEntry `json:"history"`
	Status            SessionStatus     `json:"status"`
	Revision          int64             `json:"revision"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// StepCompleted reports whether stepID is in the session's completed list.
func (s *WizardSession) StepCompleted(stepID string) bool {
	for _, id := range s.CompletedSteps {
		if id == stepID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy. Repositories hand out clones so that callers
// can never mutate stored state without going through the CAS path.
func (s *WizardSession) Clone() *WizardSession {
	cp := *s
	cp.CompletedSteps = append([]string(nil), s.CompletedSteps...)
	cp.History = append([]NavigationEntry(nil), s.History...)
	cp.StepOutputs = CopyMap(s.StepOutputs)
	cp.Context = CopyMap(s.Context)
	return &cp
}

// WizardStepResult is one completed step's contribution to the composed
// wizard result view.
type WizardStepResult struct {
	StepID string `json:"step_id"`
	Output any    `json:"output,omitempty"`
}

// WizardResult is the read-only summary assembled from a session and its
// completed-step outputs.
type WizardResult struct {
	SessionID    string             `json:"session_id"`
	DefinitionID string             `json:"definition_id"`
	Status       SessionStatus      `json:"status"`
	Revision     int64              `json:"revision"`
	Steps        []WizardStepResult `json:"steps"`
	Context      map[string]any     `json:"context"`
	ComposedAt   time.Time          `json:"composed_at"`
}
