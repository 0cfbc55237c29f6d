package conductor

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a referenced run, session, step, or action
// does not exist. Callers test with errors.Is.
var ErrNotFound = errors.New("not found")

// ErrServiceUnavailable is returned when a required external collaborator
// (persistence, broker) cannot be reached.
var ErrServiceUnavailable = errors.New("service unavailable")

// ValidationError reports malformed or schema-invalid step input. It never
// accompanies a state mutation.
type ValidationError struct {
	ModuleID string
	Message  string
}

func (e *ValidationError) Error() string {
	if e.ModuleID == "" {
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
	return fmt.Sprintf("module %q validation failed: %s", e.ModuleID, e.Message)
}

// PrerequisiteError reports a navigation blocked by an unmet prerequisite.
// Missing names the prerequisite step id that is not satisfied.
type PrerequisiteError struct {
	StepID  string
	Missing string
}

func (e *PrerequisiteError) Error() string {
	return fmt.Sprintf("step %q requires prerequisite %q which is not completed or visited", e.StepID, e.Missing)
}

// NavigationError reports an invalid transition target: the step does not
// exist, or navigation policy forbids the move from the current position.
type NavigationError struct {
	From   string
	To     string
	Reason string
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("cannot navigate from %q to %q: %s", e.From, e.To, e.Reason)
}

// RevisionConflictError reports an optimistic-lock mismatch. The operation's
// effects are fully rolled back; clients refetch state and retry.
type RevisionConflictError struct {
	SessionID string
	Expected  int64
	Actual    int64
}

func (e *RevisionConflictError) Error() string {
	return fmt.Sprintf("session %q revision conflict: expected %d, actual %d", e.SessionID, e.Expected, e.Actual)
}
