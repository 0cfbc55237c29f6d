package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/mlenz/conductor/internal/conductor"
	"github.com/mlenz/conductor/internal/repository"
	"github.com/mlenz/conductor/internal/services"
)

func boolPtr(b bool) *bool { return &b }

// wizardDef builds a three-step definition: collect -> review -> confirm.
// confirm requires review and allows jumps; review forbids going back.
func wizardDef() *conductor.WorkflowDefinition {
	return &conductor.WorkflowDefinition{
		ID:      "wf-checkout",
		Name:    "Checkout",
		Version: 1,
		Steps: []conductor.StepDefinition{
			{ID: "collect", Action: "noop", Next: "review"},
			{ID: "review", Action: "noop", Next: "confirm"},
			{ID: "confirm", Action: "noop", Prerequisites: []string{"review"}, CanJumpTo: true},
		},
	}
}

type navFixture struct {
	navigator *Navigator
	manager   *services.RunManager
	run       *conductor.Run
}

func newNavFixture(t *testing.T, def *conductor.WorkflowDefinition) *navFixture {
	t.Helper()
	defs := repository.NewMemoryDefinitionRepository()
	if err := defs.Create(context.Background(), def); err != nil {
		t.Fatalf("create definition: %v", err)
	}
	manager := services.NewRunManager(repository.NewMemoryRunRepository(), repository.NewMemoryStepStateRepository())
	run, err := manager.CreateRun(context.Background(), def, nil)
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	return &navFixture{
		navigator: NewNavigator(defs, manager),
		manager:   manager,
		run:       run,
	}
}

func TestGoNextAdvancesAlongNextPointer(t *testing.T) {
	f := newNavFixture(t, wizardDef())

	run, err := f.navigator.GoNext(context.Background(), f.run.ID)
	if err != nil {
		t.Fatalf("GoNext: %v", err)
	}
	if run.CurrentStepID != "review" {
		t.Errorf("current step = %q, want %q", run.CurrentStepID, "review")
	}
	if len(run.History) != 1 {
		t.Fatalf("history length = %d, want 1", len(run.History))
	}
	e := run.History[0]
	if e.Kind != conductor.NavigationForward || e.From != "collect" || e.To != "review" {
		t.Errorf("history entry = %+v, want forward collect->review", e)
	}
}

func TestGoNextAtTerminalStepFails(t *testing.T) {
	f := newNavFixture(t, wizardDef())
	ctx := context.Background()

	if _, err := f.navigator.GoNext(ctx, f.run.ID); err != nil {
		t.Fatalf("GoNext to review: %v", err)
	}
	if _, err := f.navigator.GoNext(ctx, f.run.ID); err != nil {
		t.Fatalf("GoNext to confirm: %v", err)
	}

	_, err := f.navigator.GoNext(ctx, f.run.ID)
	var navErr *conductor.NavigationError
	if !errors.As(err, &navErr) {
		t.Fatalf("GoNext past last step: got %v, want NavigationError", err)
	}
}

func TestGoNextBlockedByPrerequisite(t *testing.T) {
	def := &conductor.WorkflowDefinition{
		ID: "wf-gated",
		Steps: []conductor.StepDefinition{
			{ID: "a", Action: "noop", Next: "b"},
			{ID: "b", Action: "noop", Prerequisites: []string{"approval"}},
			{ID: "approval", Action: "noop"},
		},
	}
	f := newNavFixture(t, def)

	_, err := f.navigator.GoNext(context.Background(), f.run.ID)
	var preErr *conductor.PrerequisiteError
	if !errors.As(err, &preErr) {
		t.Fatalf("got %v, want PrerequisiteError", err)
	}
	if preErr.StepID != "b" || preErr.Missing != "approval" {
		t.Errorf("prerequisite error = %+v, want step b missing approval", preErr)
	}

	// The failed navigation must not move the run or touch history.
	run, err := f.manager.GetRun(context.Background(), f.run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.CurrentStepID != "a" {
		t.Errorf("current step = %q, want %q after failed navigation", run.CurrentStepID, "a")
	}
	if len(run.History) != 0 {
		t.Errorf("history length = %d, want 0 after failed navigation", len(run.History))
	}
}

func TestGoBackFollowsHistory(t *testing.T) {
	f := newNavFixture(t, wizardDef())
	ctx := context.Background()

	if _, err := f.navigator.GoNext(ctx, f.run.ID); err != nil {
		t.Fatalf("GoNext: %v", err)
	}
	run, err := f.navigator.GoBack(ctx, f.run.ID)
	if err != nil {
		t.Fatalf("GoBack: %v", err)
	}
	if run.CurrentStepID != "collect" {
		t.Errorf("current step = %q, want %q", run.CurrentStepID, "collect")
	}
	// History is append-only: going back adds an entry, never removes one.
	if len(run.History) != 2 {
		t.Fatalf("history length = %d, want 2", len(run.History))
	}
	if run.History[1].Kind != conductor.NavigationBack {
		t.Errorf("history[1].Kind = %q, want back", run.History[1].Kind)
	}
}

func TestGoBackAtFirstStepFails(t *testing.T) {
	f := newNavFixture(t, wizardDef())

	_, err := f.navigator.GoBack(context.Background(), f.run.ID)
	var navErr *conductor.NavigationError
	if !errors.As(err, &navErr) {
		t.Fatalf("got %v, want NavigationError", err)
	}
	if navErr.Reason != "already at first step" {
		t.Errorf("reason = %q, want %q", navErr.Reason, "already at first step")
	}
}

func TestGoBackHonorsPolicy(t *testing.T) {
	def := wizardDef()
	def.Steps[1].CanGoBack = boolPtr(false)
	f := newNavFixture(t, def)
	ctx := context.Background()

	if _, err := f.navigator.GoNext(ctx, f.run.ID); err != nil {
		t.Fatalf("GoNext: %v", err)
	}
	_, err := f.navigator.GoBack(ctx, f.run.ID)
	var navErr *conductor.NavigationError
	if !errors.As(err, &navErr) {
		t.Fatalf("got %v, want NavigationError", err)
	}
}

func TestJumpToRequiresOptIn(t *testing.T) {
	f := newNavFixture(t, wizardDef())
	ctx := context.Background()

	// review does not declare CanJumpTo.
	if _, err := f.navigator.JumpTo(ctx, f.run.ID, "review"); err == nil {
		t.Fatal("jump to non-jumpable step succeeded")
	}

	// confirm allows jumps but requires review, which has not been visited.
	_, err := f.navigator.JumpTo(ctx, f.run.ID, "confirm")
	var preErr *conductor.PrerequisiteError
	if !errors.As(err, &preErr) {
		t.Fatalf("got %v, want PrerequisiteError", err)
	}
	if preErr.Missing != "review" {
		t.Errorf("missing = %q, want %q", preErr.Missing, "review")
	}
}

func TestJumpToAfterPrerequisiteVisited(t *testing.T) {
	f := newNavFixture(t, wizardDef())
	ctx := context.Background()

	// Visit review, go back, then jump straight to confirm. Visiting
	// counts: prerequisites accept completion or presence in history.
	if _, err := f.navigator.GoNext(ctx, f.run.ID); err != nil {
		t.Fatalf("GoNext: %v", err)
	}
	if _, err := f.navigator.GoBack(ctx, f.run.ID); err != nil {
		t.Fatalf("GoBack: %v", err)
	}

	run, err := f.navigator.JumpTo(ctx, f.run.ID, "confirm")
	if err != nil {
		t.Fatalf("JumpTo: %v", err)
	}
	if run.CurrentStepID != "confirm" {
		t.Errorf("current step = %q, want %q", run.CurrentStepID, "confirm")
	}
	last := run.History[len(run.History)-1]
	if last.Kind != conductor.NavigationJump || last.From != "collect" || last.To != "confirm" {
		t.Errorf("last history entry = %+v, want jump collect->confirm", last)
	}
}

func TestGoBackAfterJumpReturnsToOrigin(t *testing.T) {
	f := newNavFixture(t, wizardDef())
	ctx := context.Background()

	if _, err := f.navigator.GoNext(ctx, f.run.ID); err != nil {
		t.Fatalf("GoNext: %v", err)
	}
	if _, err := f.navigator.GoBack(ctx, f.run.ID); err != nil {
		t.Fatalf("GoBack: %v", err)
	}
	if _, err := f.navigator.JumpTo(ctx, f.run.ID, "confirm"); err != nil {
		t.Fatalf("JumpTo: %v", err)
	}

	// Back after a jump returns to where the jump originated, not to the
	// positional predecessor.
	run, err := f.navigator.GoBack(ctx, f.run.ID)
	if err != nil {
		t.Fatalf("GoBack: %v", err)
	}
	if run.CurrentStepID != "collect" {
		t.Errorf("current step = %q, want %q", run.CurrentStepID, "collect")
	}
}

func TestNavigateTerminalRunFails(t *testing.T) {
	f := newNavFixture(t, wizardDef())
	ctx := context.Background()

	if _, err := f.manager.CancelRun(ctx, f.run.ID); err != nil {
		t.Fatalf("CancelRun: %v", err)
	}
	if _, err := f.navigator.GoNext(ctx, f.run.ID); err == nil {
		t.Fatal("navigation on cancelled run succeeded")
	}
}
