package actions

import (
	"context"
	"errors"
	"testing"

	"github.com/mlenz/conductor/internal/conductor"
)

func noopHandler(out map[string]any) Handler {
	return func(context.Context, Invocation) (map[string]any, error) {
		return out, nil
	}
}

func TestRegistry_ResolveRegistered(t *testing.T) {
	reg := NewRegistry()
	reg.Register("search", noopHandler(map[string]any{"hits": 3}))

	h, err := reg.Resolve("search")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err := h(context.Background(), Invocation{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["hits"] != 3 {
		t.Errorf("expected hits=3, got %v", out["hits"])
	}
}

func TestRegistry_ResolveMissing(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Resolve("missing")
	if !errors.Is(err, conductor.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRegistry_LatestRegistrationWins(t *testing.T) {
	reg := NewRegistry()
	reg.Register("score", noopHandler(map[string]any{"v": "first"}))
	reg.Register("score", noopHandler(map[string]any{"v": "second"}))

	out, err := reg.Execute(context.Background(), "score", Invocation{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["v"] != "second" {
		t.Errorf("expected latest registration to win, got %v", out["v"])
	}
}

func TestRegistry_NamesSorted(t *testing.T) {
	reg := NewRegistry()
	reg.Register("score", noopHandler(nil))
	reg.Register("search", noopHandler(nil))

	names := reg.Names()
	if len(names) != 2 || names[0] != "score" || names[1] != "search" {
		t.Errorf("unexpected names: %v", names)
	}
}

func TestValidateDefinition_CollectsAllMissing(t *testing.T) {
	reg := NewRegistry()
	reg.Register("search", noopHandler(nil))
	reg.Register("score", noopHandler(nil))

	def := &conductor.WorkflowDefinition{
		ID: "wf",
		Steps: []conductor.StepDefinition{
			{ID: "s1", Action: "search"},
			{ID: "s2", Action: "merge"},
		},
	}

	issues := ValidateDefinition(def, reg)
	if len(issues) != 1 {
		t.Fatalf("expected 1 issue, got %d: %v", len(issues), issues)
	}
	missing := MissingActions(issues)
	if len(missing) != 1 || missing[0] != "merge" {
		t.Errorf("expected exactly [merge] missing, got %v", missing)
	}
}

func TestValidateDefinition_DeduplicatesMissingNames(t *testing.T) {
	reg := NewRegistry()

	def := &conductor.WorkflowDefinition{
		Steps: []conductor.StepDefinition{
			{ID: "s1", Action: "merge"},
			{ID: "s2", Action: "merge"},
		},
	}

	issues := ValidateDefinition(def, reg)
	if len(issues) != 2 {
		t.Fatalf("expected per-step issues, got %d", len(issues))
	}
	if missing := MissingActions(issues); len(missing) != 1 {
		t.Errorf("expected unique missing names, got %v", missing)
	}
}
