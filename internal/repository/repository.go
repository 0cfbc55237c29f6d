// Package repository abstracts persistence for workflow definitions, runs,
// step states, and wizard sessions. Memory and Postgres implementations
// exist behind the same interfaces.
package repository

import (
	"context"
	"errors"

	"github.com/mlenz/conductor/internal/conductor"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = conductor.ErrNotFound

// DefinitionRepository stores immutable workflow definitions.
type DefinitionRepository interface {
	Create(ctx context.Context, def *conductor.WorkflowDefinition) error
	Get(ctx context.Context, id string) (*conductor.WorkflowDefinition, error)
	List(ctx context.Context) ([]*conductor.WorkflowDefinition, error)
	Delete(ctx context.Context, id string) error
}

// RunRepository abstracts persistence for run records.
type RunRepository interface {
	Create(ctx context.Context, run *conductor.Run) error
	Get(ctx context.Context, id string) (*conductor.Run, error)
	Update(ctx context.Context, run *conductor.Run) error
	// List returns runs newest-first. status filters by run status when
	// non-empty ("" = all).
	List(ctx context.Context, limit, offset int, status string) ([]*conductor.Run, int, error)
	Delete(ctx context.Context, id string) error
}

// StepStateRepository persists per-(run, step) execution records. At most
// one record exists per pair: Upsert creates or replaces, never duplicates.
type StepStateRepository interface {
	Upsert(ctx context.Context, state *conductor.StepState) error
	Get(ctx context.Context, runID, stepID string) (*conductor.StepState, error)
	ListByRun(ctx context.Context, runID string) ([]*conductor.StepState, error)
	// DeleteByRun removes all step states for a run. Used only by explicit
	// run teardown.
	DeleteByRun(ctx context.Context, runID string) error
}

// SessionRepository persists wizard sessions. Update is the single
// revision-guarded mutation path: the check against expected and the write
// happen as one atomic unit with no interleaving window.
type SessionRepository interface {
	Create(ctx context.Context, session *conductor.WizardSession) error
	Get(ctx context.Context, id string) (*conductor.WizardSession, error)
	// Update applies mutate to the stored session. When expected is non-nil
	// and differs from the stored revision, it returns
	// *conductor.RevisionConflictError and applies nothing. On success the
	// stored revision is incremented by exactly one and the updated session
	// is returned.
	Update(ctx context.Context, id string, expected *int64, mutate func(*conductor.WizardSession) error) (*conductor.WizardSession, error)
}

// IsNotFound reports whether err represents a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
