package services

import (
	"context"
	"testing"
	"time"
)

func TestLimiterEnforcesGlobalMax(t *testing.T) {
	l := NewConcurrencyLimiter(ConcurrencyLimits{GlobalMax: 2, PerWorkflow: 2})
	ctx := context.Background()

	if err := l.Acquire(ctx, "wf-a"); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := l.Acquire(ctx, "wf-b"); err != nil {
		t.Fatalf("second acquire: %v", err)
	}

	// Third acquire exceeds the global limit and must block until a slot
	// frees or the context expires.
	blocked, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := l.Acquire(blocked, "wf-c"); err == nil {
		t.Fatal("third acquire succeeded past global limit")
	}

	l.Release("wf-a")
	if err := l.Acquire(ctx, "wf-c"); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestLimiterEnforcesPerWorkflowMax(t *testing.T) {
	l := NewConcurrencyLimiter(ConcurrencyLimits{GlobalMax: 10, PerWorkflow: 1})
	ctx := context.Background()

	if err := l.Acquire(ctx, "wf-a"); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	blocked, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := l.Acquire(blocked, "wf-a"); err == nil {
		t.Fatal("second acquire for same workflow succeeded past per-workflow limit")
	}

	// A different workflow is unaffected.
	if err := l.Acquire(ctx, "wf-b"); err != nil {
		t.Fatalf("acquire other workflow: %v", err)
	}
}

func TestLimiterActiveCount(t *testing.T) {
	l := NewConcurrencyLimiter(ConcurrencyLimits{})
	ctx := context.Background()

	if got := l.Active(); got != 0 {
		t.Errorf("Active = %d, want 0", got)
	}
	if err := l.Acquire(ctx, "wf-a"); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if got := l.Active(); got != 1 {
		t.Errorf("Active = %d, want 1", got)
	}
	l.Release("wf-a")
	if got := l.Active(); got != 0 {
		t.Errorf("Active after release = %d, want 0", got)
	}
}
