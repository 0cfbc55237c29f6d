package actions

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mlenz/conductor/internal/conductor"
)

// Adapt wraps a Module as a registry Handler.
//
// The generated handler checks cancellation before validation, between
// validation and execution, and after execution. A validation failure is
// returned as a *conductor.ValidationError with no partial execution. A
// result produced after cancellation was observed is discarded; side
// effects the module already committed are the module's own responsibility.
func Adapt(m Module) Handler {
	return func(ctx context.Context, inv Invocation) (map[string]any, error) {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("module %q not started: %w", m.ID(), err)
		}

		if err := m.Validate(inv.Params); err != nil {
			return nil, &conductor.ValidationError{ModuleID: m.ID(), Message: err.Error()}
		}

		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("module %q cancelled after validation: %w", m.ID(), err)
		}

		merged := conductor.MergeContext(inv.Context, inv.Params)
		out, err := m.Execute(ctx, merged, inv.RunID)
		if err != nil {
			slog.Error("module execution failed", "module", m.ID(), "run", inv.RunID, "step", inv.StepID, "err", err)
			return nil, err
		}

		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("module %q result discarded, run cancelled: %w", m.ID(), err)
		}
		return out, nil
	}
}
