package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/expr-lang/expr"

	"github.com/mlenz/conductor/internal/actions"
	"github.com/mlenz/conductor/internal/conductor"
	"github.com/mlenz/conductor/internal/repository"
	"github.com/mlenz/conductor/internal/services"
)

// maxStepsPerRun bounds the execution loop so a definition whose next
// pointers form a cycle fails instead of spinning forever.
const maxStepsPerRun = 1000

// Engine executes runs step by step. Steps run strictly sequentially,
// following each step's next pointer; results merge into the run context
// before the next step starts.
type Engine struct {
	defs       repository.DefinitionRepository
	runs       *services.RunManager
	steps      repository.StepStateRepository
	registry   *actions.Registry
	limiter    *services.ConcurrencyLimiter
	executions *services.ExecutionRegistry
}

func New(
	defs repository.DefinitionRepository,
	runs *services.RunManager,
	steps repository.StepStateRepository,
	registry *actions.Registry,
	limiter *services.ConcurrencyLimiter,
	executions *services.ExecutionRegistry,
) *Engine {
	return &Engine{
		defs:       defs,
		runs:       runs,
		steps:      steps,
		registry:   registry,
		limiter:    limiter,
		executions: executions,
	}
}

// Execute runs the given run to completion, pause, cancellation, or
// failure. Before any step executes, every action the definition
// references is checked against the registry; a definition with missing
// actions fails the run up front, naming all of them.
func (e *Engine) Execute(ctx context.Context, runID string) error {
	run, err := e.runs.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	def, err := e.defs.Get(ctx, run.WorkflowID)
	if err != nil {
		return fmt.Errorf("load definition %q: %w", run.WorkflowID, err)
	}

	if issues := actions.ValidateDefinition(def, e.registry); len(issues) > 0 {
		missing := actions.MissingActions(issues)
		msg := fmt.Sprintf("definition %q references unregistered actions: %s", def.ID, strings.Join(missing, ", "))
		e.failRun(ctx, runID, msg)
		return fmt.Errorf("%s", msg)
	}

	if err := e.limiter.Acquire(ctx, def.ID); err != nil {
		return fmt.Errorf("acquire execution slot: %w", err)
	}
	defer e.limiter.Release(def.ID)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.executions.Register(runID, cancel)
	defer e.executions.Unregister(runID)

	if err := e.start(ctx, runID); err != nil {
		return err
	}
	return e.loop(runCtx, runID, def)
}

// start moves the run to running. Paused runs must go through resume
// first; terminal runs never restart.
func (e *Engine) start(ctx context.Context, runID string) error {
	return e.runs.Mutate(ctx, runID, func(run *conductor.Run) error {
		if run.Status.Terminal() {
			return fmt.Errorf("cannot execute run %q with status %q", runID, run.Status)
		}
		if run.Status == conductor.RunStatusPaused {
			return fmt.Errorf("run %q is paused, resume it before executing", runID)
		}
		run.Status = conductor.RunStatusRunning
		if run.StartedAt == nil {
			now := time.Now()
			run.StartedAt = &now
		}
		return nil
	})
}

func (e *Engine) loop(ctx context.Context, runID string, def *conductor.WorkflowDefinition) error {
	for i := 0; i < maxStepsPerRun; i++ {
		if ctx.Err() != nil {
			_, err := e.runs.CancelRun(context.WithoutCancel(ctx), runID)
			return err
		}

		// Re-read every iteration so administrative pause and cancel calls
		// take effect between steps.
		run, err := e.runs.GetRun(ctx, runID)
		if err != nil {
			return err
		}
		switch run.Status {
		case conductor.RunStatusPaused:
			slog.Info("run paused, execution stopping", "run", runID, "step", run.CurrentStepID)
			return nil
		case conductor.RunStatusCancelled:
			slog.Info("run cancelled, execution stopping", "run", runID)
			return nil
		case conductor.RunStatusCompleted, conductor.RunStatusFailed:
			return nil
		}

		if run.CurrentStepID == "" {
			return e.completeRun(ctx, runID)
		}
		step, ok := def.Step(run.CurrentStepID)
		if !ok {
			msg := fmt.Sprintf("run %q points at unknown step %q", runID, run.CurrentStepID)
			e.failRun(ctx, runID, msg)
			return fmt.Errorf("%s", msg)
		}

		if step.Condition != "" {
			match, err := evalCondition(step.Condition, run)
			if err != nil {
				msg := fmt.Sprintf("step %q condition: %v", step.ID, err)
				e.failRun(ctx, runID, msg)
				return fmt.Errorf("%s", msg)
			}
			if !match {
				if err := e.skipStep(ctx, run, step); err != nil {
					return err
				}
				if done, err := e.advance(ctx, runID, step, false); err != nil {
					return err
				} else if done {
					return e.completeRun(ctx, runID)
				}
				continue
			}
		}

		if err := e.executeStep(ctx, run, step); err != nil {
			if ctx.Err() != nil {
				_, cerr := e.runs.CancelRun(context.WithoutCancel(ctx), runID)
				return cerr
			}
			msg := fmt.Sprintf("step %q failed: %v", step.ID, err)
			e.failRun(ctx, runID, msg)
			return err
		}

		if done, err := e.advance(ctx, runID, step, true); err != nil {
			return err
		} else if done {
			return e.completeRun(ctx, runID)
		}
	}

	msg := fmt.Sprintf("run %q exceeded %d steps, definition likely cycles", runID, maxStepsPerRun)
	e.failRun(ctx, runID, msg)
	return fmt.Errorf("%s", msg)
}

// executeStep runs one step's action and persists its state transitions:
// in_progress on entry, completed or failed on exit. The step's result
// merges into the run context.
func (e *Engine) executeStep(ctx context.Context, run *conductor.Run, step *conductor.StepDefinition) error {
	started := time.Now()
	state := &conductor.StepState{
		RunID:     run.ID,
		StepID:    step.ID,
		Status:    conductor.StepStatusInProgress,
		Params:    conductor.CopyMap(step.Params),
		Context:   conductor.CopyMap(run.Context),
		CreatedAt: started,
		UpdatedAt: started,
		StartedAt: &started,
	}
	if err := e.steps.Upsert(ctx, state); err != nil {
		return fmt.Errorf("persist step state: %w", err)
	}

	slog.Info("executing step", "run", run.ID, "step", step.ID, "action", step.Action)
	result, execErr := e.registry.Execute(ctx, step.Action, actions.Invocation{
		RunID:   run.ID,
		StepID:  step.ID,
		Params:  step.Params,
		Context: run.Context,
	})

	finished := time.Now()
	state.UpdatedAt = finished
	state.CompletedAt = &finished
	state.Metadata = map[string]any{
		"duration_ms": finished.Sub(started).Milliseconds(),
	}

	if execErr != nil {
		state.Status = conductor.StepStatusFailed
		errMsg := execErr.Error()
		state.Error = &errMsg
		if err := e.steps.Upsert(ctx, state); err != nil {
			slog.Error("failed to persist failed step state", "run", run.ID, "step", step.ID, "err", err)
		}
		return execErr
	}

	state.Status = conductor.StepStatusCompleted
	state.Result = result
	if err := e.steps.Upsert(ctx, state); err != nil {
		return fmt.Errorf("persist step state: %w", err)
	}

	return e.runs.Mutate(ctx, run.ID, func(r *conductor.Run) error {
		r.Context = conductor.MergeContext(r.Context, result)
		return nil
	})
}

// skipStep records a skipped step state for a step whose condition
// evaluated false.
func (e *Engine) skipStep(ctx context.Context, run *conductor.Run, step *conductor.StepDefinition) error {
	now := time.Now()
	slog.Info("skipping step, condition not met", "run", run.ID, "step", step.ID)
	return e.steps.Upsert(ctx, &conductor.StepState{
		RunID:     run.ID,
		StepID:    step.ID,
		Status:    conductor.StepStatusSkipped,
		Params:    conductor.CopyMap(step.Params),
		CreatedAt: now,
		UpdatedAt: now,
	})
}

// advance marks the step completed (when executed, not skipped) and moves
// the run to the step's next pointer. Returns true when the run is done.
func (e *Engine) advance(ctx context.Context, runID string, step *conductor.StepDefinition, executed bool) (bool, error) {
	done := step.Next == ""
	err := e.runs.Mutate(ctx, runID, func(run *conductor.Run) error {
		if executed && !run.StepCompleted(step.ID) {
			run.CompletedSteps = append(run.CompletedSteps, step.ID)
		}
		if done {
			return nil
		}
		run.History = append(run.History, conductor.NavigationEntry{
			Kind: conductor.NavigationForward,
			From: step.ID,
			To:   step.Next,
			At:   time.Now(),
		})
		run.CurrentStepID = step.Next
		return nil
	})
	return done, err
}

func (e *Engine) completeRun(ctx context.Context, runID string) error {
	err := e.runs.Mutate(ctx, runID, func(run *conductor.Run) error {
		if run.Status.Terminal() {
			return nil
		}
		now := time.Now()
		run.Status = conductor.RunStatusCompleted
		run.CompletedAt = &now
		return nil
	})
	if err == nil {
		slog.Info("run completed", "run", runID)
	}
	return err
}

func (e *Engine) failRun(ctx context.Context, runID, msg string) {
	err := e.runs.Mutate(context.WithoutCancel(ctx), runID, func(run *conductor.Run) error {
		if run.Status.Terminal() {
			return nil
		}
		now := time.Now()
		run.Status = conductor.RunStatusFailed
		run.Error = &msg
		run.CompletedAt = &now
		return nil
	})
	if err != nil {
		slog.Error("failed to mark run failed", "run", runID, "err", err)
	} else {
		slog.Error("run failed", "run", runID, "reason", msg)
	}
}

// evalCondition evaluates a step condition against the run's params and
// context. Conditions see two top-level maps, params and context.
func evalCondition(condition string, run *conductor.Run) (bool, error) {
	env := map[string]any{
		"params":  run.Params,
		"context": run.Context,
	}
	out, err := expr.Eval(condition, env)
	if err != nil {
		return false, err
	}
	match, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("condition evaluated to %T, want bool", out)
	}
	return match, nil
}
