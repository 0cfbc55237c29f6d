package actions

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/mlenz/conductor/internal/conductor"
)

// fakeModule records calls so tests can assert on execution order and the
// merged input the adapter passes down.
type fakeModule struct {
	id          string
	validateErr error
	executeErr  error
	output      map[string]any

	validated bool
	executed  bool
	sawInput  map[string]any
	sawRunID  string
}

func (m *fakeModule) ID() string { return m.id }

func (m *fakeModule) Validate(map[string]any) error {
	m.validated = true
	return m.validateErr
}

func (m *fakeModule) Execute(_ context.Context, input map[string]any, runID string) (map[string]any, error) {
	m.executed = true
	m.sawInput = input
	m.sawRunID = runID
	return m.output, m.executeErr
}

func TestAdapt_MergesContextAndParams(t *testing.T) {
	m := &fakeModule{id: "mod", output: map[string]any{"done": true}}
	h := Adapt(m)

	out, err := h(context.Background(), Invocation{
		RunID:   "run-1",
		StepID:  "s1",
		Params:  map[string]any{"query": "go", "depth": 2},
		Context: map[string]any{"depth": 1, "region": "eu"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["done"] != true {
		t.Errorf("expected module output returned, got %v", out)
	}
	if m.sawRunID != "run-1" {
		t.Errorf("expected runID passed through, got %q", m.sawRunID)
	}
	// Step params overwrite context keys in the merged view.
	if m.sawInput["depth"] != 2 {
		t.Errorf("expected params to win merge, got depth=%v", m.sawInput["depth"])
	}
	if m.sawInput["region"] != "eu" {
		t.Errorf("expected context key present, got %v", m.sawInput["region"])
	}
}

func TestAdapt_ValidationFailureNoExecution(t *testing.T) {
	m := &fakeModule{id: "mod", validateErr: fmt.Errorf("query is required")}
	h := Adapt(m)

	_, err := h(context.Background(), Invocation{})

	var verr *conductor.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.ModuleID != "mod" {
		t.Errorf("expected module id carried, got %q", verr.ModuleID)
	}
	if m.executed {
		t.Error("module must not execute after validation failure")
	}
}

func TestAdapt_CancelledBeforeStart(t *testing.T) {
	m := &fakeModule{id: "mod"}
	h := Adapt(m)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h(ctx, Invocation{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if m.validated || m.executed {
		t.Error("cancelled invocation must perform no work")
	}
}

func TestAdapt_ResultDiscardedWhenCancelledMidFlight(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := &cancellingModule{cancel: cancel}
	h := Adapt(m)

	out, err := h(ctx, Invocation{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if out != nil {
		t.Error("result must be discarded when cancellation is observed after execution")
	}
}

// cancellingModule cancels its own context during Execute, simulating a run
// cancelled while the module is in flight.
type cancellingModule struct {
	cancel context.CancelFunc
}

func (m *cancellingModule) ID() string                     { return "cancelling" }
func (m *cancellingModule) Validate(map[string]any) error  { return nil }
func (m *cancellingModule) Execute(context.Context, map[string]any, string) (map[string]any, error) {
	m.cancel()
	return map[string]any{"ignored": true}, nil
}

func TestAdapt_ExecutionErrorPropagates(t *testing.T) {
	boom := errors.New("upstream exploded")
	m := &fakeModule{id: "mod", executeErr: boom}
	h := Adapt(m)

	_, err := h(context.Background(), Invocation{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected original error propagated, got %v", err)
	}
}
