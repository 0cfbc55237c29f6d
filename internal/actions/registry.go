package actions

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/mlenz/conductor/internal/conductor"
)

type entry struct {
	handler Handler
	kind    Kind
}

// Registry maps action names to executable handlers. Handlers are
// registered once at startup; lookups are by exact name.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds a handler under name. Registering the same name twice is
// deterministic: the latest registration wins, and the overwrite is logged.
func (r *Registry) Register(name string, h Handler) {
	r.register(name, h, KindHandler)
}

// RegisterModule wraps a module through the adapter and registers it under
// its own ID.
func (r *Registry) RegisterModule(m Module) {
	r.register(m.ID(), Adapt(m), KindModule)
}

func (r *Registry) register(name string, h Handler, kind Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		slog.Warn("action registered twice, latest registration wins", "action", name)
	}
	r.entries[name] = entry{handler: h, kind: kind}
}

// Resolve returns the handler registered under name.
func (r *Registry) Resolve(name string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: action %q", conductor.ErrNotFound, name)
	}
	return e.handler, nil
}

// Kind reports how the named action was registered.
func (r *Registry) Kind(name string) (Kind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e.kind, ok
}

// Names returns all registered action names, sorted. Used by the pre-flight
// validator before a run starts.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute resolves and runs the named action in one call.
func (r *Registry) Execute(ctx context.Context, name string, inv Invocation) (map[string]any, error) {
	h, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}
	return h(ctx, inv)
}
