// Package wizard implements interactive, stepwise sessions over workflow
// definitions. Sessions are driven by external clients rather than the
// engine's execution loop, so every mutation is guarded by an optimistic
// revision check: stale writers get a conflict, never a partial write.
package wizard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mlenz/conductor/internal/actions"
	"github.com/mlenz/conductor/internal/conductor"
	"github.com/mlenz/conductor/internal/engine"
	"github.com/mlenz/conductor/internal/repository"
	"github.com/mlenz/conductor/internal/schema"
	"github.com/mlenz/conductor/internal/services"
)

// StepExecution reports one executed wizard step action.
type StepExecution struct {
	TrackingID     string         `json:"tracking_id"`
	SessionID      string         `json:"session_id"`
	StepID         string         `json:"step_id"`
	ActionID       string         `json:"action_id"`
	ActionType     string         `json:"action_type"`
	Output         map[string]any `json:"output,omitempty"`
	ContextUpdates map[string]any `json:"context_updates,omitempty"`
	Revision       int64          `json:"revision"`
}

// ExecuteInput carries one step-execution request. StepID and ActionID are
// optional guards: when set they must name the session's current step and
// the action bound to it, so a client acting on a stale view is rejected
// before anything runs.
type ExecuteInput struct {
	StepID   string
	ActionID string
	Input    map[string]any
}

// Service orchestrates wizard sessions: creation, validated navigation,
// input validation, step action execution, and result composition.
type Service struct {
	defs      repository.DefinitionRepository
	sessions  repository.SessionRepository
	registry  *actions.Registry
	validator *schema.Validator
	tracker   *services.ActionTracker
}

func NewService(
	defs repository.DefinitionRepository,
	sessions repository.SessionRepository,
	registry *actions.Registry,
	validator *schema.Validator,
	tracker *services.ActionTracker,
) *Service {
	return &Service{
		defs:      defs,
		sessions:  sessions,
		registry:  registry,
		validator: validator,
		tracker:   tracker,
	}
}

// CreateSession opens a session at the definition's first step, revision 0.
func (s *Service) CreateSession(ctx context.Context, definitionID, userID string) (*conductor.WizardSession, error) {
	def, err := s.defs.Get(ctx, definitionID)
	if err != nil {
		return nil, fmt.Errorf("load definition %q: %w", definitionID, err)
	}
	first, ok := def.First()
	if !ok {
		return nil, fmt.Errorf("definition %q has no steps", definitionID)
	}

	now := time.Now()
	session := &conductor.WizardSession{
		SessionID:         conductor.GenerateID("sess"),
		DefinitionID:      def.ID,
		DefinitionVersion: def.Version,
		UserID:            userID,
		CurrentStepID:     first.ID,
		StepOutputs:       map[string]any{},
		Context:           map[string]any{},
		Status:            conductor.SessionStatusPending,
		Revision:          0,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	slog.Info("wizard session created", "session", session.SessionID, "definition", def.ID, "step", first.ID)
	return session, nil
}

// GetSession returns the session's current state, including its revision.
// Clients read this before mutating so they can supply the revision back.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*conductor.WizardSession, error) {
	return s.sessions.Get(ctx, sessionID)
}

// GoNext advances the session along the current step's next pointer.
func (s *Service) GoNext(ctx context.Context, sessionID string, expected *int64) (*conductor.WizardSession, error) {
	return s.navigate(ctx, sessionID, expected, func(def *conductor.WorkflowDefinition, pos engine.Position) (*conductor.StepDefinition, conductor.NavigationKind, error) {
		target, err := engine.NextTarget(def, pos)
		return target, conductor.NavigationForward, err
	})
}

// GoBack returns the session to the step it most recently arrived from.
func (s *Service) GoBack(ctx context.Context, sessionID string, expected *int64) (*conductor.WizardSession, error) {
	return s.navigate(ctx, sessionID, expected, func(def *conductor.WorkflowDefinition, pos engine.Position) (*conductor.StepDefinition, conductor.NavigationKind, error) {
		target, err := engine.BackTarget(def, pos)
		return target, conductor.NavigationBack, err
	})
}

// JumpTo moves the session directly to the named step, subject to the
// target's jump policy and prerequisites.
func (s *Service) JumpTo(ctx context.Context, sessionID, stepID string, expected *int64) (*conductor.WizardSession, error) {
	return s.navigate(ctx, sessionID, expected, func(def *conductor.WorkflowDefinition, pos engine.Position) (*conductor.StepDefinition, conductor.NavigationKind, error) {
		target, err := engine.JumpTarget(def, pos, stepID)
		return target, conductor.NavigationJump, err
	})
}

type sessionTransition func(def *conductor.WorkflowDefinition, pos engine.Position) (*conductor.StepDefinition, conductor.NavigationKind, error)

func (s *Service) navigate(ctx context.Context, sessionID string, expected *int64, transition sessionTransition) (*conductor.WizardSession, error) {
	return s.sessions.Update(ctx, sessionID, expected, func(session *conductor.WizardSession) error {
		if err := mutable(session); err != nil {
			return err
		}
		def, err := s.defs.Get(ctx, session.DefinitionID)
		if err != nil {
			return fmt.Errorf("load definition %q: %w", session.DefinitionID, err)
		}

		pos := engine.Position{Current: session.CurrentStepID, Completed: session.CompletedSteps, History: session.History}
		target, kind, err := transition(def, pos)
		if err != nil {
			return err
		}

		session.History = append(session.History, conductor.NavigationEntry{
			Kind: kind,
			From: session.CurrentStepID,
			To:   target.ID,
			At:   time.Now(),
		})
		session.CurrentStepID = target.ID
		if session.Status == conductor.SessionStatusPending {
			session.Status = conductor.SessionStatusActive
		}
		slog.Info("session navigated", "session", sessionID, "kind", kind, "to", target.ID)
		return nil
	})
}

// ValidateStepInput checks input against the current step's input schema.
// Read-only: it never mutates the session and never bumps the revision.
// Schema violations come back inside the result, not as an error.
func (s *Service) ValidateStepInput(ctx context.Context, sessionID string, input map[string]any) (*schema.Result, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	def, err := s.defs.Get(ctx, session.DefinitionID)
	if err != nil {
		return nil, fmt.Errorf("load definition %q: %w", session.DefinitionID, err)
	}
	step, ok := def.Step(session.CurrentStepID)
	if !ok {
		return nil, fmt.Errorf("%w: step %q", conductor.ErrNotFound, session.CurrentStepID)
	}
	return s.validator.ValidateInput(step.InputSchema, input)
}

// ExecuteStep validates input, runs the current step's action, and applies
// the output under the session's revision guard. The action itself runs
// outside the guarded write; when the final compare-and-swap loses to a
// concurrent writer the output is discarded and the conflict reported, so
// the session never sees a half-applied execution.
func (s *Service) ExecuteStep(ctx context.Context, sessionID string, expected *int64, in ExecuteInput) (*StepExecution, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := mutable(session); err != nil {
		return nil, err
	}
	if expected != nil && *expected != session.Revision {
		return nil, &conductor.RevisionConflictError{
			SessionID: sessionID,
			Expected:  *expected,
			Actual:    session.Revision,
		}
	}
	if in.StepID != "" && in.StepID != session.CurrentStepID {
		return nil, &conductor.NavigationError{
			From:   session.CurrentStepID,
			To:     in.StepID,
			Reason: "step is not the session's current step",
		}
	}

	def, err := s.defs.Get(ctx, session.DefinitionID)
	if err != nil {
		return nil, fmt.Errorf("load definition %q: %w", session.DefinitionID, err)
	}
	step, ok := def.Step(session.CurrentStepID)
	if !ok {
		return nil, fmt.Errorf("%w: step %q", conductor.ErrNotFound, session.CurrentStepID)
	}
	if in.ActionID != "" && in.ActionID != step.Action {
		return nil, &conductor.ValidationError{
			Message: fmt.Sprintf("step %q is bound to action %q, not %q", step.ID, step.Action, in.ActionID),
		}
	}

	result, err := s.validator.ValidateInput(step.InputSchema, in.Input)
	if err != nil {
		return nil, err
	}
	if !result.Valid {
		return nil, &conductor.ValidationError{Message: fmt.Sprintf("input rejected by step %q schema", step.ID)}
	}

	actionType := "handler"
	if kind, ok := s.registry.Kind(step.Action); ok {
		actionType = string(kind)
	}
	params := conductor.MergeContext(step.Params, in.Input)
	output, err := s.registry.Execute(ctx, step.Action, actions.Invocation{
		RunID:   session.SessionID,
		StepID:  step.ID,
		Params:  params,
		Context: session.Context,
	})
	if err != nil {
		return nil, fmt.Errorf("execute action %q: %w", step.Action, err)
	}

	exec := &StepExecution{
		TrackingID:     conductor.GenerateID("act"),
		SessionID:      sessionID,
		StepID:         step.ID,
		ActionID:       step.Action,
		ActionType:     actionType,
		Output:         output,
		ContextUpdates: output,
	}

	updated, err := s.sessions.Update(ctx, sessionID, expected, func(sess *conductor.WizardSession) error {
		if err := mutable(sess); err != nil {
			return err
		}
		sess.StepOutputs[step.ID] = output
		sess.Context = conductor.MergeContext(sess.Context, output)
		if sess.Status == conductor.SessionStatusPending {
			sess.Status = conductor.SessionStatusActive
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	exec.Revision = updated.Revision

	s.tracker.Track(services.ActionRecord{
		TrackingID: exec.TrackingID,
		SessionID:  sessionID,
		StepID:     step.ID,
		ActionID:   step.Action,
		ActionType: actionType,
		Status:     "completed",
		Output:     output,
		ExecutedAt: time.Now(),
	})
	slog.Info("wizard step executed", "session", sessionID, "step", step.ID, "action", step.Action, "tracking", exec.TrackingID)
	return exec, nil
}

// MarkStepCompleted records the current step as completed and advances the
// session. Completing the final step completes the session. A non-empty
// stepID must name the current step; a non-nil output is recorded as the
// step's output, so steps completed without a tracked action execution
// still contribute to the composed result.
func (s *Service) MarkStepCompleted(ctx context.Context, sessionID string, expected *int64, stepID string, output map[string]any) (*conductor.WizardSession, error) {
	return s.sessions.Update(ctx, sessionID, expected, func(session *conductor.WizardSession) error {
		if err := mutable(session); err != nil {
			return err
		}
		if stepID != "" && stepID != session.CurrentStepID {
			return &conductor.NavigationError{
				From:   session.CurrentStepID,
				To:     stepID,
				Reason: "step is not the session's current step",
			}
		}
		def, err := s.defs.Get(ctx, session.DefinitionID)
		if err != nil {
			return fmt.Errorf("load definition %q: %w", session.DefinitionID, err)
		}
		step, ok := def.Step(session.CurrentStepID)
		if !ok {
			return fmt.Errorf("%w: step %q", conductor.ErrNotFound, session.CurrentStepID)
		}

		if output != nil {
			session.StepOutputs[step.ID] = output
		}
		if !session.StepCompleted(step.ID) {
			session.CompletedSteps = append(session.CompletedSteps, step.ID)
		}

		if step.Next == "" {
			session.Status = conductor.SessionStatusCompleted
			slog.Info("wizard session completed", "session", sessionID)
			return nil
		}

		session.History = append(session.History, conductor.NavigationEntry{
			Kind: conductor.NavigationForward,
			From: step.ID,
			To:   step.Next,
			At:   time.Now(),
		})
		session.CurrentStepID = step.Next
		if session.Status == conductor.SessionStatusPending {
			session.Status = conductor.SessionStatusActive
		}
		return nil
	})
}

// Abandon closes a session without completing it.
func (s *Service) Abandon(ctx context.Context, sessionID string, expected *int64) (*conductor.WizardSession, error) {
	return s.sessions.Update(ctx, sessionID, expected, func(session *conductor.WizardSession) error {
		if session.Status == conductor.SessionStatusCompleted {
			return fmt.Errorf("cannot abandon completed session %q", sessionID)
		}
		session.Status = conductor.SessionStatusAbandoned
		return nil
	})
}

// ComposeResult assembles the read-only result view: one entry per
// completed step, in completion order, plus the accumulated context.
func (s *Service) ComposeResult(ctx context.Context, sessionID string) (*conductor.WizardResult, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	steps := make([]conductor.WizardStepResult, 0, len(session.CompletedSteps))
	for _, stepID := range session.CompletedSteps {
		steps = append(steps, conductor.WizardStepResult{
			StepID: stepID,
			Output: session.StepOutputs[stepID],
		})
	}
	return &conductor.WizardResult{
		SessionID:    session.SessionID,
		DefinitionID: session.DefinitionID,
		Status:       session.Status,
		Revision:     session.Revision,
		Steps:        steps,
		Context:      conductor.CopyMap(session.Context),
		ComposedAt:   time.Now(),
	}, nil
}

// mutable rejects writes to sessions in a terminal state.
func mutable(session *conductor.WizardSession) error {
	switch session.Status {
	case conductor.SessionStatusCompleted, conductor.SessionStatusAbandoned:
		return fmt.Errorf("session %q is %s and cannot be modified", session.SessionID, session.Status)
	}
	return nil
}
