package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mlenz/conductor/internal/conductor"
)

// Schedule starts a run of a workflow on a cron expression.
type Schedule struct {
	ID         string         `json:"id"`
	WorkflowID string         `json:"workflow_id"`
	CronExpr   string         `json:"cron_expr"`
	Timezone   string         `json:"timezone,omitempty"`
	Params     map[string]any `json:"params,omitempty"`
	Paused     bool           `json:"paused"`
	CreatedAt  time.Time      `json:"created_at"`
}

// ScheduleStarter starts one scheduled run. Wired to the API layer's
// create-and-enqueue path.
type ScheduleStarter func(ctx context.Context, workflowID string, params map[string]any)

// Scheduler registers cron entries that start workflow runs.
type Scheduler struct {
	cron    *cron.Cron
	starter ScheduleStarter

	mu        sync.Mutex
	schedules map[string]*Schedule
	entryMap  map[string]cron.EntryID
}

func NewScheduler(starter ScheduleStarter) *Scheduler {
	return &Scheduler{
		cron:      cron.New(),
		starter:   starter,
		schedules: make(map[string]*Schedule),
		entryMap:  make(map[string]cron.EntryID),
	}
}

// Start begins dispatching cron entries.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts dispatch and waits for in-flight triggers.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// parseCronExpr tries 6-field (with seconds) then 5-field (standard)
// parsing. A non-UTC timezone is applied via the CRON_TZ= prefix.
func parseCronExpr(expr string, timezone string) (cron.Schedule, error) {
	if timezone != "" && timezone != "UTC" {
		expr = "CRON_TZ=" + timezone + " " + expr
	}
	parser6 := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser6.Parse(expr)
	if err == nil {
		return sched, nil
	}
	parser5 := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser5.Parse(expr)
}

// Add registers a schedule and its cron entry.
func (s *Scheduler) Add(schedule *Schedule) error {
	cronSched, err := parseCronExpr(schedule.CronExpr, schedule.Timezone)
	if err != nil {
		return fmt.Errorf("parse cron expression %q: %w", schedule.CronExpr, err)
	}
	if schedule.ID == "" {
		schedule.ID = conductor.GenerateID("sched")
	}
	schedule.CreatedAt = time.Now()

	entryID := s.cron.Schedule(cronSched, cron.FuncJob(func() {
		s.trigger(schedule.ID)
	}))

	s.mu.Lock()
	s.schedules[schedule.ID] = schedule
	s.entryMap[schedule.ID] = entryID
	s.mu.Unlock()

	slog.Info("scheduler: registered cron job",
		"id", schedule.ID, "workflow", schedule.WorkflowID, "cron", schedule.CronExpr)
	return nil
}

// Remove drops a schedule and its cron entry. Removing an unknown schedule
// is a no-op.
func (s *Scheduler) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.entryMap[id]; ok {
		s.cron.Remove(entryID)
		delete(s.entryMap, id)
	}
	delete(s.schedules, id)
}

// Pause stops a schedule from triggering without removing it.
func (s *Scheduler) Pause(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[id]
	if !ok {
		return fmt.Errorf("%w: schedule %q", conductor.ErrNotFound, id)
	}
	sched.Paused = true
	return nil
}

// Resume re-enables a paused schedule.
func (s *Scheduler) Resume(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[id]
	if !ok {
		return fmt.Errorf("%w: schedule %q", conductor.ErrNotFound, id)
	}
	sched.Paused = false
	return nil
}

// List returns all registered schedules.
func (s *Scheduler) List() []*Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Schedule, 0, len(s.schedules))
	for _, sched := range s.schedules {
		out = append(out, sched)
	}
	return out
}

func (s *Scheduler) trigger(id string) {
	s.mu.Lock()
	sched, ok := s.schedules[id]
	paused := ok && sched.Paused
	s.mu.Unlock()
	if !ok || paused {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.starter(ctx, sched.WorkflowID, sched.Params)
}
