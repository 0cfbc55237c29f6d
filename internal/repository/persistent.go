package repository

import (
	"context"
	"log/slog"

	"github.com/mlenz/conductor/internal/conductor"
	"github.com/mlenz/conductor/internal/db"
)

// PersistentRunRepository wraps a MemoryRunRepository with a PostgreSQL
// backend. Writes go to both stores (DB failure is logged but non-fatal).
// Reads try memory first, falling back to the database.
type PersistentRunRepository struct {
	mem *MemoryRunRepository
	db  *db.DB
}

func NewPersistentRunRepository(mem *MemoryRunRepository, database *db.DB) *PersistentRunRepository {
	return &PersistentRunRepository{mem: mem, db: database}
}

func (r *PersistentRunRepository) Create(ctx context.Context, run *conductor.Run) error {
	_ = r.mem.Create(ctx, run)
	if err := r.db.CreateRun(ctx, run); err != nil {
		slog.Warn("db create run failed, in-memory only", "run", run.ID, "err", err)
	}
	return nil
}

func (r *PersistentRunRepository) Get(ctx context.Context, id string) (*conductor.Run, error) {
	run, err := r.mem.Get(ctx, id)
	if err == nil {
		return run, nil
	}

	dbRun, dbErr := r.db.GetRun(ctx, id)
	if dbErr != nil {
		return nil, err // original not-found
	}

	_ = r.mem.Create(ctx, dbRun)
	return dbRun, nil
}

func (r *PersistentRunRepository) Update(ctx context.Context, run *conductor.Run) error {
	_ = r.mem.Update(ctx, run)
	if err := r.db.UpdateRun(ctx, run); err != nil {
		slog.Warn("db update run failed, in-memory only", "run", run.ID, "err", err)
	}
	return nil
}

func (r *PersistentRunRepository) List(ctx context.Context, limit, offset int, status string) ([]*conductor.Run, int, error) {
	runs, total, err := r.db.ListRuns(ctx, limit, offset, status)
	if err != nil {
		slog.Warn("db list runs failed, serving memory", "err", err)
		return r.mem.List(ctx, limit, offset, status)
	}
	return runs, total, nil
}

func (r *PersistentRunRepository) Delete(ctx context.Context, id string) error {
	_ = r.mem.Delete(ctx, id)
	return r.db.DeleteRun(ctx, id)
}

// MarkOrphanedRunsFailed marks runs left running/pending by a previous
// process as failed.
func (r *PersistentRunRepository) MarkOrphanedRunsFailed(ctx context.Context) (int64, error) {
	return r.db.MarkOrphanedRunsFailed(ctx)
}

// PersistentStepStateRepository stores step states in PostgreSQL. The
// composite primary key enforces the one-record-per-(run, step) invariant.
type PersistentStepStateRepository struct {
	db *db.DB
}

func NewPersistentStepStateRepository(database *db.DB) *PersistentStepStateRepository {
	return &PersistentStepStateRepository{db: database}
}

func (r *PersistentStepStateRepository) Upsert(ctx context.Context, state *conductor.StepState) error {
	return r.db.UpsertStepState(ctx, state)
}

func (r *PersistentStepStateRepository) Get(ctx context.Context, runID, stepID string) (*conductor.StepState, error) {
	return r.db.GetStepState(ctx, runID, stepID)
}

func (r *PersistentStepStateRepository) ListByRun(ctx context.Context, runID string) ([]*conductor.StepState, error) {
	return r.db.ListStepStates(ctx, runID)
}

func (r *PersistentStepStateRepository) DeleteByRun(ctx context.Context, runID string) error {
	return r.db.DeleteStepStates(ctx, runID)
}

// PersistentSessionRepository stores wizard sessions in PostgreSQL only.
// Sessions are not cached in memory: the revision compare-and-swap must be
// a single atomic operation at the persistence layer, and a write-through
// cache would reintroduce the read/write window the CAS exists to close.
type PersistentSessionRepository struct {
	db *db.DB
}

func NewPersistentSessionRepository(database *db.DB) *PersistentSessionRepository {
	return &PersistentSessionRepository{db: database}
}

func (r *PersistentSessionRepository) Create(ctx context.Context, session *conductor.WizardSession) error {
	return r.db.CreateSession(ctx, session)
}

func (r *PersistentSessionRepository) Get(ctx context.Context, id string) (*conductor.WizardSession, error) {
	return r.db.GetSession(ctx, id)
}

func (r *PersistentSessionRepository) Update(ctx context.Context, id string, expected *int64, mutate func(*conductor.WizardSession) error) (*conductor.WizardSession, error) {
	return r.db.UpdateSession(ctx, id, expected, mutate)
}

// PersistentDefinitionRepository stores workflow definitions in PostgreSQL
// with a read-through memory cache.
type PersistentDefinitionRepository struct {
	mem *MemoryDefinitionRepository
	db  *db.DB
}

func NewPersistentDefinitionRepository(mem *MemoryDefinitionRepository, database *db.DB) *PersistentDefinitionRepository {
	return &PersistentDefinitionRepository{mem: mem, db: database}
}

func (r *PersistentDefinitionRepository) Create(ctx context.Context, def *conductor.WorkflowDefinition) error {
	_ = r.mem.Create(ctx, def)
	return r.db.CreateDefinition(ctx, def)
}

func (r *PersistentDefinitionRepository) Get(ctx context.Context, id string) (*conductor.WorkflowDefinition, error) {
	def, err := r.mem.Get(ctx, id)
	if err == nil {
		return def, nil
	}
	dbDef, dbErr := r.db.GetDefinition(ctx, id)
	if dbErr != nil {
		return nil, err
	}
	_ = r.mem.Create(ctx, dbDef)
	return dbDef, nil
}

func (r *PersistentDefinitionRepository) List(ctx context.Context) ([]*conductor.WorkflowDefinition, error) {
	return r.db.ListDefinitions(ctx)
}

func (r *PersistentDefinitionRepository) Delete(ctx context.Context, id string) error {
	_ = r.mem.Delete(ctx, id)
	return r.db.DeleteDefinition(ctx, id)
}
