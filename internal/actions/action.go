// Package actions holds the process-wide action registry, the module
// adapter, and the builtin modules shipped with the engine.
package actions

import "context"

// Invocation carries everything a handler needs to execute one step.
type Invocation struct {
	RunID  string
	StepID string
	// Params are the step's declared parameters.
	Params map[string]any
	// Context is the run's accumulated context at the time of execution.
	Context map[string]any
}

// Handler is a registered, named unit of executable logic. The returned map
// is merged into the run context for subsequent steps. Cancellation is
// cooperative through ctx.
type Handler func(ctx context.Context, inv Invocation) (map[string]any, error)

// Kind distinguishes how an action was registered.
type Kind string

const (
	// KindHandler is a directly registered function.
	KindHandler Kind = "handler"
	// KindModule is a Module wrapped by the adapter.
	KindModule Kind = "module"
)

// Module is the uniform contract for higher-level action implementations.
// Execute receives the shallow merge of run context and step params, so a
// module may read either view through the one argument.
type Module interface {
	ID() string
	Validate(params map[string]any) error
	Execute(ctx context.Context, input map[string]any, runID string) (map[string]any, error)
}
