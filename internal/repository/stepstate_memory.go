package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mlenz/conductor/internal/conductor"
)

func stepStateKey(runID, stepID string) string {
	return runID + "/" + stepID
}

// MemoryStepStateRepository stores step states in memory, keyed uniquely by
// (runID, stepID). Like the run store, it exchanges clones so readers never
// race the engine's upserts.
type MemoryStepStateRepository struct {
	mu     sync.RWMutex
	states map[string]*conductor.StepState
}

func NewMemoryStepStateRepository() *MemoryStepStateRepository {
	return &MemoryStepStateRepository{
		states: make(map[string]*conductor.StepState),
	}
}

// Upsert creates or replaces the record for (runID, stepID). The created-at
// timestamp of an existing record is preserved so an upsert can never
// produce a second record for the same pair.
func (r *MemoryStepStateRepository) Upsert(_ context.Context, state *conductor.StepState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := stepStateKey(state.RunID, state.StepID)
	if existing, ok := r.states[key]; ok {
		state.CreatedAt = existing.CreatedAt
	} else if state.CreatedAt.IsZero() {
		state.CreatedAt = time.Now()
	}
	state.UpdatedAt = time.Now()
	r.states[key] = state.Clone()
	return nil
}

func (r *MemoryStepStateRepository) Get(_ context.Context, runID, stepID string) (*conductor.StepState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.states[stepStateKey(runID, stepID)]
	if !ok {
		return nil, fmt.Errorf("%w: step state %s/%s", ErrNotFound, runID, stepID)
	}
	return state.Clone(), nil
}

func (r *MemoryStepStateRepository) ListByRun(_ context.Context, runID string) ([]*conductor.StepState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*conductor.StepState
	for _, state := range r.states {
		if state.RunID == runID {
			out = append(out, state.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryStepStateRepository) DeleteByRun(_ context.Context, runID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, state := range r.states {
		if state.RunID == runID {
			delete(r.states, key)
		}
	}
	return nil
}
