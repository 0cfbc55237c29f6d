package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mlenz/conductor/internal/conductor"
)

// JobStatus is the lifecycle state of a broker job.
type JobStatus string

const (
	JobStatusQueued  JobStatus = "queued"
	JobStatusRunning JobStatus = "running"
	JobStatusPaused  JobStatus = "paused"
	JobStatusDone    JobStatus = "done"
	JobStatusFailed  JobStatus = "failed"
	JobStatusRemoved JobStatus = "removed"
)

// Job is one queued background run execution.
type Job struct {
	ID         string    `json:"id"`
	RunID      string    `json:"run_id"`
	WorkflowID string    `json:"workflow_id"`
	Status     JobStatus `json:"status"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Broker queues runs for background execution. Remove is idempotent:
// removing an absent or already-terminal job is success, not an error.
type Broker interface {
	Enqueue(ctx context.Context, runID, workflowID string) (*Job, error)
	Pause(ctx context.Context, jobID string) error
	Resume(ctx context.Context, jobID string) error
	Remove(ctx context.Context, jobID string) error
	Jobs(ctx context.Context) ([]*Job, error)
}

// RunExecutor executes one run to completion. Implemented by the workflow
// engine; the broker only schedules.
type RunExecutor func(ctx context.Context, runID string) error

// MemoryBroker is an in-process Broker backed by a channel queue and a
// fixed worker pool.
type MemoryBroker struct {
	executor RunExecutor

	mu     sync.Mutex
	jobs   map[string]*Job
	paused map[string]chan struct{} // closed on resume

	queue   chan string
	group   *errgroup.Group
	cancel  context.CancelFunc
	stopped bool
}

// NewMemoryBroker starts a broker with the given number of workers.
func NewMemoryBroker(executor RunExecutor, workers int) *MemoryBroker {
	if workers <= 0 {
		workers = 4
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, gCtx := errgroup.WithContext(ctx)

	b := &MemoryBroker{
		executor: executor,
		jobs:     make(map[string]*Job),
		paused:   make(map[string]chan struct{}),
		queue:    make(chan string, 256),
		group:    g,
		cancel:   cancel,
	}

	for i := 0; i < workers; i++ {
		g.Go(func() error {
			b.work(gCtx)
			return nil
		})
	}
	return b
}

// Stop drains the workers. Jobs still queued stay queued; callers see the
// degraded read path afterwards.
func (b *MemoryBroker) Stop() {
	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()
	b.cancel()
	_ = b.group.Wait()
}

func (b *MemoryBroker) Enqueue(_ context.Context, runID, workflowID string) (*Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return nil, fmt.Errorf("%w: broker stopped", conductor.ErrServiceUnavailable)
	}

	job := &Job{
		ID:         uuid.NewString(),
		RunID:      runID,
		WorkflowID: workflowID,
		Status:     JobStatusQueued,
		EnqueuedAt: time.Now(),
	}
	b.jobs[job.ID] = job

	select {
	case b.queue <- job.ID:
	default:
		delete(b.jobs, job.ID)
		return nil, fmt.Errorf("%w: broker queue full", conductor.ErrServiceUnavailable)
	}
	return job, nil
}

func (b *MemoryBroker) Pause(_ context.Context, jobID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	job, ok := b.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: job %q", conductor.ErrNotFound, jobID)
	}
	if job.Status != JobStatusQueued {
		return fmt.Errorf("cannot pause job %q with status %q", jobID, job.Status)
	}
	job.Status = JobStatusPaused
	b.paused[jobID] = make(chan struct{})
	return nil
}

func (b *MemoryBroker) Resume(_ context.Context, jobID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	job, ok := b.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: job %q", conductor.ErrNotFound, jobID)
	}
	if job.Status != JobStatusPaused {
		return fmt.Errorf("cannot resume job %q with status %q", jobID, job.Status)
	}
	job.Status = JobStatusQueued
	if gate, ok := b.paused[jobID]; ok {
		close(gate)
		delete(b.paused, jobID)
	}
	return nil
}

// Remove marks a job removed. Absent and terminal jobs are treated as
// already removed.
func (b *MemoryBroker) Remove(_ context.Context, jobID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	job, ok := b.jobs[jobID]
	if !ok {
		return nil
	}
	switch job.Status {
	case JobStatusDone, JobStatusFailed, JobStatusRemoved:
		return nil
	case JobStatusRunning:
		return fmt.Errorf("cannot remove job %q while running", jobID)
	}
	job.Status = JobStatusRemoved
	if gate, ok := b.paused[jobID]; ok {
		close(gate)
		delete(b.paused, jobID)
	}
	return nil
}

// Jobs lists known jobs newest-first. When the broker is stopped it
// returns an empty list rather than failing, so read-only dashboards
// remain usable.
func (b *MemoryBroker) Jobs(_ context.Context) ([]*Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return []*Job{}, nil
	}

	out := make([]*Job, 0, len(b.jobs))
	for _, j := range b.jobs {
		cp := *j
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].EnqueuedAt.After(out[j].EnqueuedAt)
	})
	return out, nil
}

func (b *MemoryBroker) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case jobID := <-b.queue:
			b.runJob(ctx, jobID)
		}
	}
}

func (b *MemoryBroker) runJob(ctx context.Context, jobID string) {
	b.mu.Lock()
	job, ok := b.jobs[jobID]
	if !ok || job.Status == JobStatusRemoved {
		b.mu.Unlock()
		return
	}
	gate := b.paused[jobID]
	b.mu.Unlock()

	// Paused before a worker picked it up: wait for resume or removal.
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return
		}
		b.mu.Lock()
		removed := b.jobs[jobID].Status == JobStatusRemoved
		b.mu.Unlock()
		if removed {
			return
		}
	}

	b.setStatus(jobID, JobStatusRunning)
	if err := b.executor(ctx, job.RunID); err != nil {
		slog.Error("background run failed", "job", jobID, "run", job.RunID, "err", err)
		b.setStatus(jobID, JobStatusFailed)
		return
	}
	b.setStatus(jobID, JobStatusDone)
}

func (b *MemoryBroker) setStatus(jobID string, status JobStatus) {
	b.mu.Lock()
	if job, ok := b.jobs[jobID]; ok && job.Status != JobStatusRemoved {
		job.Status = status
	}
	b.mu.Unlock()
}
