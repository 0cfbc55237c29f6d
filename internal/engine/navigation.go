// Package engine drives workflow execution: sequential step execution
// over a definition's next-pointers, and validated navigation between
// steps for both runs and wizard sessions.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mlenz/conductor/internal/conductor"
	"github.com/mlenz/conductor/internal/repository"
	"github.com/mlenz/conductor/internal/services"
)

// Position is the navigable state a transition is validated against. Runs
// and wizard sessions both project onto it, so both go through the same
// rules.
type Position struct {
	Current   string
	Completed []string
	History   []conductor.NavigationEntry
}

func (p Position) completed(stepID string) bool {
	for _, id := range p.Completed {
		if id == stepID {
			return true
		}
	}
	return false
}

func (p Position) visited(stepID string) bool {
	for _, e := range p.History {
		if e.To == stepID || e.From == stepID {
			return true
		}
	}
	return false
}

// checkPrerequisites verifies every prerequisite of step is either
// completed or present in navigation history. The first unmet
// prerequisite is reported.
func checkPrerequisites(step *conductor.StepDefinition, pos Position) error {
	for _, req := range step.Prerequisites {
		if !pos.completed(req) && !pos.visited(req) {
			return &conductor.PrerequisiteError{StepID: step.ID, Missing: req}
		}
	}
	return nil
}

// resolveTarget looks up the target step and runs prerequisite checks.
func resolveTarget(def *conductor.WorkflowDefinition, pos Position, targetID string) (*conductor.StepDefinition, error) {
	target, ok := def.Step(targetID)
	if !ok {
		return nil, &conductor.NavigationError{From: pos.Current, To: targetID, Reason: "step does not exist"}
	}
	if err := checkPrerequisites(target, pos); err != nil {
		return nil, err
	}
	return target, nil
}

// NextTarget resolves the step reached by advancing along the current
// step's next pointer.
func NextTarget(def *conductor.WorkflowDefinition, pos Position) (*conductor.StepDefinition, error) {
	current, ok := def.Step(pos.Current)
	if !ok {
		return nil, &conductor.NavigationError{From: pos.Current, To: "", Reason: "current step does not exist"}
	}
	if current.Next == "" {
		return nil, &conductor.NavigationError{From: pos.Current, To: "", Reason: "no next step"}
	}
	return resolveTarget(def, pos, current.Next)
}

// BackTarget resolves the step reached by navigating backwards. The most
// recent history entry that moved forward onto the current step names the
// origin; when history carries no such entry the positional predecessor
// is used. Both honor the current step's back-navigation policy.
func BackTarget(def *conductor.WorkflowDefinition, pos Position) (*conductor.StepDefinition, error) {
	current, ok := def.Step(pos.Current)
	if !ok {
		return nil, &conductor.NavigationError{From: pos.Current, To: "", Reason: "current step does not exist"}
	}
	if !current.BackAllowed() {
		return nil, &conductor.NavigationError{From: pos.Current, To: "", Reason: "back navigation disabled for this step"}
	}

	for i := len(pos.History) - 1; i >= 0; i-- {
		e := pos.History[i]
		if e.To == pos.Current && e.Kind != conductor.NavigationBack {
			return resolveTarget(def, pos, e.From)
		}
	}

	pred, ok := def.Predecessor(pos.Current)
	if !ok {
		return nil, &conductor.NavigationError{From: pos.Current, To: "", Reason: "already at first step"}
	}
	return resolveTarget(def, pos, pred.ID)
}

// JumpTarget resolves a direct jump to targetID. The target must opt in
// to jump navigation and its prerequisites must hold.
func JumpTarget(def *conductor.WorkflowDefinition, pos Position, targetID string) (*conductor.StepDefinition, error) {
	target, ok := def.Step(targetID)
	if !ok {
		return nil, &conductor.NavigationError{From: pos.Current, To: targetID, Reason: "step does not exist"}
	}
	if targetID == pos.Current {
		return nil, &conductor.NavigationError{From: pos.Current, To: targetID, Reason: "already at this step"}
	}
	if !target.CanJumpTo {
		return nil, &conductor.NavigationError{From: pos.Current, To: targetID, Reason: "step is not a jump target"}
	}
	if err := checkPrerequisites(target, pos); err != nil {
		return nil, err
	}
	return target, nil
}

// Navigator applies validated navigation to runs. All mutations go
// through the run manager's write path, so a navigation never races a
// concurrent status change.
type Navigator struct {
	defs repository.DefinitionRepository
	runs *services.RunManager
}

func NewNavigator(defs repository.DefinitionRepository, runs *services.RunManager) *Navigator {
	return &Navigator{defs: defs, runs: runs}
}

// GoNext advances the run along the current step's next pointer.
func (n *Navigator) GoNext(ctx context.Context, runID string) (*conductor.Run, error) {
	return n.navigate(ctx, runID, func(def *conductor.WorkflowDefinition, pos Position) (*conductor.StepDefinition, conductor.NavigationKind, error) {
		target, err := NextTarget(def, pos)
		return target, conductor.NavigationForward, err
	})
}

// GoBack moves the run to the step it most recently arrived from.
func (n *Navigator) GoBack(ctx context.Context, runID string) (*conductor.Run, error) {
	return n.navigate(ctx, runID, func(def *conductor.WorkflowDefinition, pos Position) (*conductor.StepDefinition, conductor.NavigationKind, error) {
		target, err := BackTarget(def, pos)
		return target, conductor.NavigationBack, err
	})
}

// JumpTo moves the run directly to the named step.
func (n *Navigator) JumpTo(ctx context.Context, runID, stepID string) (*conductor.Run, error) {
	return n.navigate(ctx, runID, func(def *conductor.WorkflowDefinition, pos Position) (*conductor.StepDefinition, conductor.NavigationKind, error) {
		target, err := JumpTarget(def, pos, stepID)
		return target, conductor.NavigationJump, err
	})
}

type transitionFunc func(def *conductor.WorkflowDefinition, pos Position) (*conductor.StepDefinition, conductor.NavigationKind, error)

func (n *Navigator) navigate(ctx context.Context, runID string, transition transitionFunc) (*conductor.Run, error) {
	var result *conductor.Run
	err := n.runs.Mutate(ctx, runID, func(run *conductor.Run) error {
		if run.Status.Terminal() {
			return fmt.Errorf("cannot navigate run %q with status %q", runID, run.Status)
		}
		def, err := n.defs.Get(ctx, run.WorkflowID)
		if err != nil {
			return fmt.Errorf("load definition %q: %w", run.WorkflowID, err)
		}

		pos := Position{Current: run.CurrentStepID, Completed: run.CompletedSteps, History: run.History}
		target, kind, err := transition(def, pos)
		if err != nil {
			return err
		}

		run.History = append(run.History, conductor.NavigationEntry{
			Kind: kind,
			From: run.CurrentStepID,
			To:   target.ID,
			At:   time.Now(),
		})
		slog.Info("run navigated", "run", runID, "kind", kind, "from", run.CurrentStepID, "to", target.ID)
		run.CurrentStepID = target.ID
		result = run
		return nil
	})
	return result, err
}
