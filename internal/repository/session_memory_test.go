package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/mlenz/conductor/internal/conductor"
)

func newTestSession(id string) *conductor.WizardSession {
	return &conductor.WizardSession{
		SessionID:    id,
		DefinitionID: "wiz",
		Status:       conductor.SessionStatusPending,
		Context:      map[string]any{},
		StepOutputs:  map[string]any{},
	}
}

func TestSessionUpdate_IncrementsRevisionByOne(t *testing.T) {
	repo := NewMemorySessionRepository()
	ctx := context.Background()
	repo.Create(ctx, newTestSession("sess-1"))

	for want := int64(1); want <= 3; want++ {
		updated, err := repo.Update(ctx, "sess-1", nil, func(s *conductor.WizardSession) error {
			s.Context["touch"] = want
			return nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if updated.Revision != want {
			t.Fatalf("expected revision %d, got %d", want, updated.Revision)
		}
	}
}

func TestSessionUpdate_StaleRevisionConflicts(t *testing.T) {
	repo := NewMemorySessionRepository()
	ctx := context.Background()
	repo.Create(ctx, newTestSession("sess-1"))

	// Client A advances the session from revision 0.
	zero := int64(0)
	if _, err := repo.Update(ctx, "sess-1", &zero, func(s *conductor.WizardSession) error {
		s.Context["a"] = true
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Client B still holds revision 0.
	_, err := repo.Update(ctx, "sess-1", &zero, func(s *conductor.WizardSession) error {
		s.Context["b"] = true
		return nil
	})

	var conflict *conductor.RevisionConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected RevisionConflictError, got %v", err)
	}
	if conflict.Expected != 0 || conflict.Actual != 1 {
		t.Errorf("expected {expected:0, actual:1}, got {%d, %d}", conflict.Expected, conflict.Actual)
	}

	// The conflicting write applied nothing.
	stored, _ := repo.Get(ctx, "sess-1")
	if stored.Revision != 1 {
		t.Errorf("stored revision changed by failed write: %d", stored.Revision)
	}
	if _, ok := stored.Context["b"]; ok {
		t.Error("failed write leaked partial state")
	}
}

func TestSessionUpdate_MutateErrorAppliesNothing(t *testing.T) {
	repo := NewMemorySessionRepository()
	ctx := context.Background()
	repo.Create(ctx, newTestSession("sess-1"))

	_, err := repo.Update(ctx, "sess-1", nil, func(s *conductor.WizardSession) error {
		s.Context["partial"] = true
		return fmt.Errorf("action blew up")
	})
	if err == nil {
		t.Fatal("expected mutate error surfaced")
	}

	stored, _ := repo.Get(ctx, "sess-1")
	if stored.Revision != 0 {
		t.Errorf("revision must not advance on failed mutation, got %d", stored.Revision)
	}
	if _, ok := stored.Context["partial"]; ok {
		t.Error("failed mutation leaked partial state")
	}
}

func TestSessionUpdate_ConcurrentWritersSerialized(t *testing.T) {
	repo := NewMemorySessionRepository()
	ctx := context.Background()
	repo.Create(ctx, newTestSession("sess-1"))

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			repo.Update(ctx, "sess-1", nil, func(s *conductor.WizardSession) error {
				return nil
			})
		}()
	}
	wg.Wait()

	stored, _ := repo.Get(ctx, "sess-1")
	if stored.Revision != writers {
		t.Errorf("expected revision %d after %d serialized writes, got %d", writers, writers, stored.Revision)
	}
}

func TestSession_GetMissing(t *testing.T) {
	repo := NewMemorySessionRepository()

	_, err := repo.Get(context.Background(), "ghost")
	if !IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
}
