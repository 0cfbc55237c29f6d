// Package services holds the engine's operational layer: run lifecycle
// management, concurrency limiting, in-flight execution tracking, the
// background broker, and the cron scheduler.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mlenz/conductor/internal/conductor"
	"github.com/mlenz/conductor/internal/repository"
)

// RunManager owns the lifecycle of runs: creation, logging, pause/resume
// snapshots, cancellation, and parameter updates. Every mutation of a run
// happens under that run's lock, so status transitions are atomic with
// respect to concurrent administrative calls.
type RunManager struct {
	runs  repository.RunRepository
	steps repository.StepStateRepository

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewRunManager(runs repository.RunRepository, steps repository.StepStateRepository) *RunManager {
	return &RunManager{
		runs:  runs,
		steps: steps,
		locks: make(map[string]*sync.Mutex),
	}
}

// lockFor returns the mutex guarding one run's read-modify-write cycles.
func (m *RunManager) lockFor(runID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[runID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[runID] = l
	}
	return l
}

// CreateRun creates a pending run for the given definition.
func (m *RunManager) CreateRun(ctx context.Context, def *conductor.WorkflowDefinition, params map[string]any) (*conductor.Run, error) {
	now := time.Now()
	first := ""
	if step, ok := def.First(); ok {
		first = step.ID
	}

	run := &conductor.Run{
		ID:            conductor.GenerateID("run"),
		WorkflowID:    def.ID,
		Status:        conductor.RunStatusPending,
		Params:        conductor.CopyMap(params),
		Context:       map[string]any{},
		CurrentStepID: first,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := m.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	slog.Info("run created", "run", run.ID, "workflow", def.ID)
	return run, nil
}

// Log appends a leveled entry to the run's log.
func (m *RunManager) Log(ctx context.Context, runID, level, message string) error {
	return m.Mutate(ctx, runID, func(run *conductor.Run) error {
		run.Logs = append(run.Logs, conductor.LogEntry{
			Level:   level,
			Message: message,
			At:      time.Now(),
		})
		return nil
	})
}

// PauseRun snapshots the current execution position so the run can be
// resumed exactly where it stopped, across process restarts.
func (m *RunManager) PauseRun(ctx context.Context, runID string) (*conductor.Run, error) {
	var paused *conductor.Run
	err := m.Mutate(ctx, runID, func(run *conductor.Run) error {
		if run.Status.Terminal() {
			return fmt.Errorf("cannot pause run %q with status %q", runID, run.Status)
		}
		if run.Status == conductor.RunStatusPaused {
			paused = run
			return nil // pausing a paused run is a no-op
		}
		run.Status = conductor.RunStatusPaused
		run.PausedState = &conductor.PausedState{
			StepID:  run.CurrentStepID,
			Context: conductor.CopyMap(run.Context),
		}
		paused = run
		slog.Info("run paused", "run", runID, "step", run.CurrentStepID)
		return nil
	})
	return paused, err
}

// ResumeRun clears the pause snapshot and returns the run to running. The
// run's CurrentStepID is canonical; the snapshot is only checked against it.
func (m *RunManager) ResumeRun(ctx context.Context, runID string) (*conductor.Run, error) {
	var resumed *conductor.Run
	err := m.Mutate(ctx, runID, func(run *conductor.Run) error {
		if run.Status != conductor.RunStatusPaused {
			return fmt.Errorf("cannot resume run %q with status %q", runID, run.Status)
		}
		if run.PausedState != nil && run.PausedState.StepID != run.CurrentStepID {
			slog.Warn("pause snapshot disagrees with current step, using current step",
				"run", runID, "snapshot", run.PausedState.StepID, "current", run.CurrentStepID)
		}
		if run.PausedState != nil && run.PausedState.Context != nil {
			run.Context = conductor.CopyMap(run.PausedState.Context)
		}
		run.PausedState = nil
		run.Status = conductor.RunStatusRunning
		resumed = run
		slog.Info("run resumed", "run", runID, "step", run.CurrentStepID)
		return nil
	})
	return resumed, err
}

// CancelRun moves a run to cancelled. Cancelling an already-cancelled or
// already-completed run is a no-op, not an error.
func (m *RunManager) CancelRun(ctx context.Context, runID string) (*conductor.Run, error) {
	var cancelled *conductor.Run
	err := m.Mutate(ctx, runID, func(run *conductor.Run) error {
		if run.Status.Terminal() {
			cancelled = run
			return nil
		}
		now := time.Now()
		run.Status = conductor.RunStatusCancelled
		run.CompletedAt = &now
		run.PausedState = nil
		cancelled = run
		slog.Info("run cancelled", "run", runID)
		return nil
	})
	return cancelled, err
}

// UpdateRunParams merges params into the run's parameter map.
func (m *RunManager) UpdateRunParams(ctx context.Context, runID string, params map[string]any) (*conductor.Run, error) {
	var updated *conductor.Run
	err := m.Mutate(ctx, runID, func(run *conductor.Run) error {
		run.Params = conductor.MergeContext(run.Params, params)
		updated = run
		return nil
	})
	return updated, err
}

// GetRun retrieves a run.
func (m *RunManager) GetRun(ctx context.Context, runID string) (*conductor.Run, error) {
	return m.runs.Get(ctx, runID)
}

// ListRuns returns runs newest-first.
func (m *RunManager) ListRuns(ctx context.Context, limit, offset int, status string) ([]*conductor.Run, int, error) {
	return m.runs.List(ctx, limit, offset, status)
}

// ListStepStates returns the per-step execution records of a run.
func (m *RunManager) ListStepStates(ctx context.Context, runID string) ([]*conductor.StepState, error) {
	return m.steps.ListByRun(ctx, runID)
}

// TeardownRun deletes a run and its step states. This is the only path
// that ever deletes step states.
func (m *RunManager) TeardownRun(ctx context.Context, runID string) error {
	l := m.lockFor(runID)
	l.Lock()
	defer l.Unlock()

	if err := m.steps.DeleteByRun(ctx, runID); err != nil {
		return fmt.Errorf("teardown step states: %w", err)
	}
	if err := m.runs.Delete(ctx, runID); err != nil {
		return fmt.Errorf("teardown run: %w", err)
	}

	m.mu.Lock()
	delete(m.locks, runID)
	m.mu.Unlock()
	return nil
}

// CleanupOrphanedRuns marks all running/pending runs as failed. Called once
// at startup, before any new run begins.
func (m *RunManager) CleanupOrphanedRuns(ctx context.Context) {
	type orphanCleaner interface {
		MarkOrphanedRunsFailed(ctx context.Context) (int64, error)
	}
	if c, ok := m.runs.(orphanCleaner); ok {
		n, err := c.MarkOrphanedRunsFailed(ctx)
		if err != nil {
			slog.Warn("failed to clean up orphaned runs", "err", err)
			return
		}
		if n > 0 {
			slog.Info("marked orphaned runs as failed", "count", n)
		}
	}
}

// Mutate runs fn against the stored run under the run's lock and persists
// the result. The navigation service and the workflow engine use this as
// their single write path so status transitions never race.
func (m *RunManager) Mutate(ctx context.Context, runID string, fn func(*conductor.Run) error) error {
	l := m.lockFor(runID)
	l.Lock()
	defer l.Unlock()

	run, err := m.runs.Get(ctx, runID)
	if err != nil {
		return err
	}
	if err := fn(run); err != nil {
		return err
	}
	run.UpdatedAt = time.Now()
	return m.runs.Update(ctx, run)
}
