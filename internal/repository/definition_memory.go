package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/mlenz/conductor/internal/conductor"
	memstore "github.com/mlenz/conductor/internal/repository/memory"
)

// MemoryDefinitionRepository is a thread-safe in-memory DefinitionRepository.
type MemoryDefinitionRepository struct {
	store *memstore.Store[*conductor.WorkflowDefinition]
}

func NewMemoryDefinitionRepository() *MemoryDefinitionRepository {
	return &MemoryDefinitionRepository{
		store: memstore.New(func(d *conductor.WorkflowDefinition) string { return d.ID }),
	}
}

func (r *MemoryDefinitionRepository) Create(ctx context.Context, def *conductor.WorkflowDefinition) error {
	return r.store.Set(ctx, def)
}

func (r *MemoryDefinitionRepository) Get(ctx context.Context, id string) (*conductor.WorkflowDefinition, error) {
	def, err := r.store.Get(ctx, id)
	if errors.Is(err, memstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: workflow definition %q", ErrNotFound, id)
	}
	return def, err
}

func (r *MemoryDefinitionRepository) List(ctx context.Context) ([]*conductor.WorkflowDefinition, error) {
	defs, err := r.store.All(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs, nil
}

func (r *MemoryDefinitionRepository) Delete(ctx context.Context, id string) error {
	if err := r.store.Delete(ctx, id); errors.Is(err, memstore.ErrNotFound) {
		return fmt.Errorf("%w: workflow definition %q", ErrNotFound, id)
	}
	return nil
}
