package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mlenz/conductor/internal/conductor"
)

const maxRunRecords = 1000

// MemoryRunRepository stores runs in memory with FIFO eviction. Reads and
// writes exchange clones, so a run handed out here can never race with a
// later update of the stored record.
type MemoryRunRepository struct {
	mu      sync.RWMutex
	records map[string]*conductor.Run
	order   []string // insertion order for FIFO eviction
}

func NewMemoryRunRepository() *MemoryRunRepository {
	return &MemoryRunRepository{
		records: make(map[string]*conductor.Run),
	}
}

func (r *MemoryRunRepository) Create(_ context.Context, run *conductor.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// FIFO eviction when at capacity.
	if len(r.order) >= maxRunRecords {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.records, oldest)
	}

	r.records[run.ID] = run.Clone()
	r.order = append(r.order, run.ID)
	return nil
}

func (r *MemoryRunRepository) Get(_ context.Context, id string) (*conductor.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: run %q", ErrNotFound, id)
	}
	return run.Clone(), nil
}

func (r *MemoryRunRepository) Update(_ context.Context, run *conductor.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[run.ID]; !ok {
		return fmt.Errorf("%w: run %q", ErrNotFound, run.ID)
	}
	r.records[run.ID] = run.Clone()
	return nil
}

func (r *MemoryRunRepository) List(_ context.Context, limit, offset int, status string) ([]*conductor.Run, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*conductor.Run, 0, len(r.records))
	for _, run := range r.records {
		if status == "" || string(run.Status) == status {
			all = append(all, run.Clone())
		}
	}

	// Newest first.
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (r *MemoryRunRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[id]; !ok {
		return fmt.Errorf("%w: run %q", ErrNotFound, id)
	}
	delete(r.records, id)
	for i, rid := range r.order {
		if rid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}
