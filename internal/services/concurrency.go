package services

import (
	"context"
	"sync"
	"sync/atomic"
)

// ConcurrencyLimits bounds how many runs may execute simultaneously.
type ConcurrencyLimits struct {
	GlobalMax   int
	PerWorkflow int
}

// ConcurrencyLimiter controls how many runs can execute simultaneously.
// It uses channel-based counting semaphores at two levels: global and
// per-workflow.
type ConcurrencyLimiter struct {
	global      chan struct{}
	perWorkflow map[string]chan struct{}
	mu          sync.Mutex
	limits      ConcurrencyLimits
	activeCount atomic.Int64
}

// NewConcurrencyLimiter creates a limiter with the given limits.
func NewConcurrencyLimiter(limits ConcurrencyLimits) *ConcurrencyLimiter {
	if limits.GlobalMax <= 0 {
		limits.GlobalMax = 10
	}
	if limits.PerWorkflow <= 0 {
		limits.PerWorkflow = 3
	}

	return &ConcurrencyLimiter{
		global:      make(chan struct{}, limits.GlobalMax),
		perWorkflow: make(map[string]chan struct{}),
		limits:      limits,
	}
}

// Acquire blocks until both global and per-workflow slots are available,
// or returns an error if the context is cancelled.
func (c *ConcurrencyLimiter) Acquire(ctx context.Context, workflowID string) error {
	// 1. Acquire global slot.
	select {
	case c.global <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	// 2. Acquire per-workflow slot.
	wfCh := c.getOrCreateWorkflowChan(workflowID)
	select {
	case wfCh <- struct{}{}:
		c.activeCount.Add(1)
		return nil
	case <-ctx.Done():
		// Release global slot since we couldn't get per-workflow.
		<-c.global
		return ctx.Err()
	}
}

// Release frees both slots acquired for workflowID.
func (c *ConcurrencyLimiter) Release(workflowID string) {
	c.mu.Lock()
	wfCh, ok := c.perWorkflow[workflowID]
	c.mu.Unlock()
	if ok {
		<-wfCh
	}
	<-c.global
	c.activeCount.Add(-1)
}

// Active returns the number of currently executing runs.
func (c *ConcurrencyLimiter) Active() int64 {
	return c.activeCount.Load()
}

func (c *ConcurrencyLimiter) getOrCreateWorkflowChan(workflowID string) chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.perWorkflow[workflowID]
	if !ok {
		ch = make(chan struct{}, c.limits.PerWorkflow)
		c.perWorkflow[workflowID] = ch
	}
	return ch
}
