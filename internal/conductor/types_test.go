package conductor

import "testing"

func TestMergeContext_LaterKeysWin(t *testing.T) {
	base := map[string]any{"a": 1, "b": "old"}
	updates := map[string]any{"b": "new", "c": true}

	merged := MergeContext(base, updates)

	if merged["a"] != 1 {
		t.Errorf("expected a=1, got %v", merged["a"])
	}
	if merged["b"] != "new" {
		t.Errorf("expected b overwritten to 'new', got %v", merged["b"])
	}
	if merged["c"] != true {
		t.Errorf("expected c=true, got %v", merged["c"])
	}
	// Inputs must be untouched.
	if base["b"] != "old" {
		t.Errorf("base mutated: b=%v", base["b"])
	}
}

func TestMergeContext_NilInputs(t *testing.T) {
	if got := MergeContext(nil, nil); len(got) != 0 {
		t.Errorf("expected empty map, got %v", got)
	}
	if got := MergeContext(nil, map[string]any{"x": 1}); got["x"] != 1 {
		t.Errorf("expected x=1, got %v", got["x"])
	}
}

func TestStepDefinition_BackAllowedDefault(t *testing.T) {
	s := &StepDefinition{ID: "a"}
	if !s.BackAllowed() {
		t.Error("CanGoBack should default to true")
	}

	no := false
	s.CanGoBack = &no
	if s.BackAllowed() {
		t.Error("expected BackAllowed false when explicitly disabled")
	}
}

func TestWorkflowDefinition_Predecessor(t *testing.T) {
	def := &WorkflowDefinition{Steps: []StepDefinition{
		{ID: "a"}, {ID: "b"}, {ID: "c"},
	}}

	prev, ok := def.Predecessor("b")
	if !ok || prev.ID != "a" {
		t.Fatalf("expected predecessor 'a', got %v", prev)
	}
	if _, ok := def.Predecessor("a"); ok {
		t.Error("first step should have no predecessor")
	}
	if _, ok := def.Predecessor("missing"); ok {
		t.Error("unknown step should have no predecessor")
	}
}

func TestRunStatus_Terminal(t *testing.T) {
	terminal := []RunStatus{RunStatusCompleted, RunStatusFailed, RunStatusCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []RunStatus{RunStatusPending, RunStatusRunning, RunStatusPaused} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestWizardSession_Clone(t *testing.T) {
	s := &WizardSession{
		SessionID:      "sess-1",
		CompletedSteps: []string{"a"},
		Context:        map[string]any{"k": "v"},
		StepOutputs:    map[string]any{"a": 1},
		Revision:       3,
	}

	cp := s.Clone()
	cp.CompletedSteps = append(cp.CompletedSteps, "b")
	cp.Context["k"] = "changed"
	cp.Revision = 9

	if len(s.CompletedSteps) != 1 {
		t.Error("clone shares CompletedSteps backing array")
	}
	if s.Context["k"] != "v" {
		t.Error("clone shares Context map")
	}
	if s.Revision != 3 {
		t.Error("clone shares scalar state")
	}
}
