package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mlenz/conductor/internal/conductor"
)

// MemorySessionRepository stores wizard sessions in memory. The repository
// lock is held across the whole check-mutate-write sequence in Update, so
// the revision compare-and-swap is a single atomic unit: no other writer
// can interleave between the check and the write.
type MemorySessionRepository struct {
	mu       sync.Mutex
	sessions map[string]*conductor.WizardSession
}

func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{
		sessions: make(map[string]*conductor.WizardSession),
	}
}

func (r *MemorySessionRepository) Create(_ context.Context, session *conductor.WizardSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[session.SessionID]; ok {
		return fmt.Errorf("session %q already exists", session.SessionID)
	}
	r.sessions[session.SessionID] = session.Clone()
	return nil
}

func (r *MemorySessionRepository) Get(_ context.Context, id string) (*conductor.WizardSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: session %q", ErrNotFound, id)
	}
	return session.Clone(), nil
}

func (r *MemorySessionRepository) Update(_ context.Context, id string, expected *int64, mutate func(*conductor.WizardSession) error) (*conductor.WizardSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: session %q", ErrNotFound, id)
	}

	if expected != nil && *expected != stored.Revision {
		return nil, &conductor.RevisionConflictError{
			SessionID: id,
			Expected:  *expected,
			Actual:    stored.Revision,
		}
	}

	// Mutate a clone so a failed mutation leaves stored state untouched.
	next := stored.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}

	next.Revision = stored.Revision + 1
	next.UpdatedAt = time.Now()
	r.sessions[id] = next
	return next.Clone(), nil
}
