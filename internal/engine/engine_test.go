package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/mlenz/conductor/internal/actions"
	"github.com/mlenz/conductor/internal/conductor"
	"github.com/mlenz/conductor/internal/repository"
	"github.com/mlenz/conductor/internal/services"
)

type engineFixture struct {
	engine     *Engine
	manager    *services.RunManager
	steps      repository.StepStateRepository
	registry   *actions.Registry
	executions *services.ExecutionRegistry
	defs       repository.DefinitionRepository
}

func newEngineFixture(t *testing.T, def *conductor.WorkflowDefinition) *engineFixture {
	t.Helper()
	defs := repository.NewMemoryDefinitionRepository()
	if err := defs.Create(context.Background(), def); err != nil {
		t.Fatalf("create definition: %v", err)
	}
	steps := repository.NewMemoryStepStateRepository()
	manager := services.NewRunManager(repository.NewMemoryRunRepository(), steps)
	registry := actions.NewRegistry()
	executions := services.NewExecutionRegistry()
	limiter := services.NewConcurrencyLimiter(services.ConcurrencyLimits{})

	return &engineFixture{
		engine:     New(defs, manager, steps, registry, limiter, executions),
		manager:    manager,
		steps:      steps,
		registry:   registry,
		executions: executions,
		defs:       defs,
	}
}

func (f *engineFixture) newRun(t *testing.T, def *conductor.WorkflowDefinition, params map[string]any) *conductor.Run {
	t.Helper()
	run, err := f.manager.CreateRun(context.Background(), def, params)
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	return run
}

func pipelineDef() *conductor.WorkflowDefinition {
	return &conductor.WorkflowDefinition{
		ID:      "wf-pipeline",
		Name:    "Pipeline",
		Version: 1,
		Steps: []conductor.StepDefinition{
			{ID: "fetch", Action: "fetch", Next: "transform"},
			{ID: "transform", Action: "transform", Next: "store"},
			{ID: "store", Action: "store"},
		},
	}
}

func TestExecuteRunsStepsInOrder(t *testing.T) {
	def := pipelineDef()
	f := newEngineFixture(t, def)

	var mu sync.Mutex
	var order []string
	record := func(name string, result map[string]any) actions.Handler {
		return func(ctx context.Context, inv actions.Invocation) (map[string]any, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return result, nil
		}
	}
	f.registry.Register("fetch", record("fetch", map[string]any{"rows": 3}))
	f.registry.Register("transform", record("transform", map[string]any{"rows": 2}))
	f.registry.Register("store", record("store", map[string]any{"stored": true}))

	run := f.newRun(t, def, nil)
	if err := f.engine.Execute(context.Background(), run.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if want := []string{"fetch", "transform", "store"}; len(order) != 3 || order[0] != want[0] || order[1] != want[1] || order[2] != want[2] {
		t.Errorf("execution order = %v, want %v", order, want)
	}

	final, err := f.manager.GetRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if final.Status != conductor.RunStatusCompleted {
		t.Errorf("status = %q, want completed", final.Status)
	}
	if len(final.CompletedSteps) != 3 {
		t.Errorf("completed steps = %v, want 3 entries", final.CompletedSteps)
	}
	// Later results overwrite earlier keys in the shallow merge.
	if got := final.Context["rows"]; got != 2 {
		t.Errorf("context[rows] = %v, want 2", got)
	}
	if got := final.Context["stored"]; got != true {
		t.Errorf("context[stored] = %v, want true", got)
	}
	if final.CompletedAt == nil {
		t.Error("CompletedAt not set on completed run")
	}
}

func TestExecuteContextVisibleToLaterSteps(t *testing.T) {
	def := &conductor.WorkflowDefinition{
		ID: "wf-ctx",
		Steps: []conductor.StepDefinition{
			{ID: "produce", Action: "produce", Next: "consume"},
			{ID: "consume", Action: "consume"},
		},
	}
	f := newEngineFixture(t, def)

	f.registry.Register("produce", func(ctx context.Context, inv actions.Invocation) (map[string]any, error) {
		return map[string]any{"token": "abc123"}, nil
	})
	var seen any
	f.registry.Register("consume", func(ctx context.Context, inv actions.Invocation) (map[string]any, error) {
		seen = inv.Context["token"]
		return nil, nil
	})

	run := f.newRun(t, def, nil)
	if err := f.engine.Execute(context.Background(), run.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if seen != "abc123" {
		t.Errorf("consume saw token %v, want abc123", seen)
	}
}

func TestExecutePreflightCollectsAllMissingActions(t *testing.T) {
	def := &conductor.WorkflowDefinition{
		ID: "wf-broken",
		Steps: []conductor.StepDefinition{
			{ID: "a", Action: "registered", Next: "b"},
			{ID: "b", Action: "ghost-one", Next: "c"},
			{ID: "c", Action: "ghost-two"},
		},
	}
	f := newEngineFixture(t, def)
	executed := false
	f.registry.Register("registered", func(ctx context.Context, inv actions.Invocation) (map[string]any, error) {
		executed = true
		return nil, nil
	})

	run := f.newRun(t, def, nil)
	err := f.engine.Execute(context.Background(), run.ID)
	if err == nil {
		t.Fatal("Execute succeeded with unregistered actions")
	}
	// Both missing actions are reported, not just the first.
	if !strings.Contains(err.Error(), "ghost-one") || !strings.Contains(err.Error(), "ghost-two") {
		t.Errorf("error %q does not name both missing actions", err)
	}
	if executed {
		t.Error("a step executed despite failed pre-flight validation")
	}

	final, _ := f.manager.GetRun(context.Background(), run.ID)
	if final.Status != conductor.RunStatusFailed {
		t.Errorf("status = %q, want failed", final.Status)
	}
	if final.Error == nil || !strings.Contains(*final.Error, "ghost-one") {
		t.Errorf("run error = %v, want missing action list", final.Error)
	}
}

func TestExecuteStepFailureFailsRun(t *testing.T) {
	def := pipelineDef()
	f := newEngineFixture(t, def)

	f.registry.Register("fetch", func(ctx context.Context, inv actions.Invocation) (map[string]any, error) {
		return nil, nil
	})
	f.registry.Register("transform", func(ctx context.Context, inv actions.Invocation) (map[string]any, error) {
		return nil, errors.New("schema drift detected")
	})
	stored := false
	f.registry.Register("store", func(ctx context.Context, inv actions.Invocation) (map[string]any, error) {
		stored = true
		return nil, nil
	})

	run := f.newRun(t, def, nil)
	if err := f.engine.Execute(context.Background(), run.ID); err == nil {
		t.Fatal("Execute succeeded despite failing step")
	}
	if stored {
		t.Error("step after the failure executed")
	}

	final, _ := f.manager.GetRun(context.Background(), run.ID)
	if final.Status != conductor.RunStatusFailed {
		t.Errorf("status = %q, want failed", final.Status)
	}

	state, err := f.steps.Get(context.Background(), run.ID, "transform")
	if err != nil {
		t.Fatalf("get step state: %v", err)
	}
	if state.Status != conductor.StepStatusFailed {
		t.Errorf("step status = %q, want failed", state.Status)
	}
	if state.Error == nil || !strings.Contains(*state.Error, "schema drift") {
		t.Errorf("step error = %v, want failure message", state.Error)
	}
}

func TestExecuteConditionSkipsStep(t *testing.T) {
	def := &conductor.WorkflowDefinition{
		ID: "wf-cond",
		Steps: []conductor.StepDefinition{
			{ID: "always", Action: "noop", Next: "gated"},
			{ID: "gated", Action: "notify", Next: "final", Condition: `params.notify == true`},
			{ID: "final", Action: "noop"},
		},
	}
	f := newEngineFixture(t, def)

	f.registry.Register("noop", func(ctx context.Context, inv actions.Invocation) (map[string]any, error) {
		return nil, nil
	})
	notified := false
	f.registry.Register("notify", func(ctx context.Context, inv actions.Invocation) (map[string]any, error) {
		notified = true
		return nil, nil
	})

	run := f.newRun(t, def, map[string]any{"notify": false})
	if err := f.engine.Execute(context.Background(), run.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if notified {
		t.Error("gated step executed despite false condition")
	}

	state, err := f.steps.Get(context.Background(), run.ID, "gated")
	if err != nil {
		t.Fatalf("get step state: %v", err)
	}
	if state.Status != conductor.StepStatusSkipped {
		t.Errorf("step status = %q, want skipped", state.Status)
	}

	final, _ := f.manager.GetRun(context.Background(), run.ID)
	if final.Status != conductor.RunStatusCompleted {
		t.Errorf("status = %q, want completed", final.Status)
	}
	if final.StepCompleted("gated") {
		t.Error("skipped step listed in completed steps")
	}
}

func TestExecutePauseStopsBetweenSteps(t *testing.T) {
	def := pipelineDef()
	f := newEngineFixture(t, def)
	ctx := context.Background()

	var run *conductor.Run
	f.registry.Register("fetch", func(ctx context.Context, inv actions.Invocation) (map[string]any, error) {
		// Pause mid-run; the engine must notice before the next step.
		if _, err := f.manager.PauseRun(ctx, inv.RunID); err != nil {
			return nil, err
		}
		return map[string]any{"fetched": true}, nil
	})
	executedAfterPause := false
	later := func(ctx context.Context, inv actions.Invocation) (map[string]any, error) {
		executedAfterPause = true
		return nil, nil
	}
	f.registry.Register("transform", later)
	f.registry.Register("store", later)

	run = f.newRun(t, def, nil)
	if err := f.engine.Execute(ctx, run.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if executedAfterPause {
		t.Error("steps executed after the run was paused")
	}

	paused, _ := f.manager.GetRun(ctx, run.ID)
	if paused.Status != conductor.RunStatusPaused {
		t.Fatalf("status = %q, want paused", paused.Status)
	}

	// Resume and finish the remaining steps.
	if _, err := f.manager.ResumeRun(ctx, run.ID); err != nil {
		t.Fatalf("ResumeRun: %v", err)
	}
	if err := f.engine.Execute(ctx, run.ID); err != nil {
		t.Fatalf("Execute after resume: %v", err)
	}
	final, _ := f.manager.GetRun(ctx, run.ID)
	if final.Status != conductor.RunStatusCompleted {
		t.Errorf("status = %q, want completed", final.Status)
	}
	if !executedAfterPause {
		t.Error("remaining steps did not execute after resume")
	}
}

func TestExecuteCancelStopsInFlightStep(t *testing.T) {
	def := &conductor.WorkflowDefinition{
		ID: "wf-slow",
		Steps: []conductor.StepDefinition{
			{ID: "slow", Action: "slow"},
		},
	}
	f := newEngineFixture(t, def)

	started := make(chan struct{})
	f.registry.Register("slow", func(ctx context.Context, inv actions.Invocation) (map[string]any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	run := f.newRun(t, def, nil)
	go func() {
		<-started
		f.executions.Cancel(run.ID)
	}()

	if err := f.engine.Execute(context.Background(), run.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	final, _ := f.manager.GetRun(context.Background(), run.ID)
	if final.Status != conductor.RunStatusCancelled {
		t.Errorf("status = %q, want cancelled", final.Status)
	}
}

func TestExecuteTerminalRunRejected(t *testing.T) {
	def := pipelineDef()
	f := newEngineFixture(t, def)
	f.registry.Register("fetch", func(ctx context.Context, inv actions.Invocation) (map[string]any, error) { return nil, nil })
	f.registry.Register("transform", func(ctx context.Context, inv actions.Invocation) (map[string]any, error) { return nil, nil })
	f.registry.Register("store", func(ctx context.Context, inv actions.Invocation) (map[string]any, error) { return nil, nil })

	run := f.newRun(t, def, nil)
	if _, err := f.manager.CancelRun(context.Background(), run.ID); err != nil {
		t.Fatalf("CancelRun: %v", err)
	}
	if err := f.engine.Execute(context.Background(), run.ID); err == nil {
		t.Fatal("Execute succeeded on cancelled run")
	}
}
