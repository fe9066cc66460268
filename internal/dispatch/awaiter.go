package dispatch

import (
	"context"
	"fmt"
	"sync"
)

// Submitter is implemented by Pool.
type Submitter interface {
	Submit(ctx context.Context, job Job) error
}

// Awaiter correlates pool results with callers waiting on a specific job.
//
// A request handler registers the job ID before submitting, and the pool
// callback hands the result back through Deliver. Results for IDs nobody
// is waiting on are left to the callback's own handling.
type Awaiter struct {
	mu      sync.Mutex
	waiting map[string]chan Result
}

// NewAwaiter creates an empty Awaiter.
func NewAwaiter() *Awaiter {
	return &Awaiter{waiting: make(map[string]chan Result)}
}

// Expect registers interest in the result for jobID.
func (a *Awaiter) Expect(jobID string) <-chan Result {
	ch := make(chan Result, 1)
	a.mu.Lock()
	a.waiting[jobID] = ch
	a.mu.Unlock()
	return ch
}

// Cancel withdraws interest in jobID.
func (a *Awaiter) Cancel(jobID string) {
	a.mu.Lock()
	delete(a.waiting, jobID)
	a.mu.Unlock()
}

// Deliver hands res to its waiter. It reports false if nobody was waiting.
func (a *Awaiter) Deliver(res Result) bool {
	a.mu.Lock()
	ch, ok := a.waiting[res.JobID]
	delete(a.waiting, res.JobID)
	a.mu.Unlock()

	if !ok {
		return false
	}
	ch <- res
	return true
}

// Pending returns the number of registered waiters.
func (a *Awaiter) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.waiting)
}

// Do submits job and waits for its result or for ctx to end.
// job.ID must be unique among in-flight jobs.
func (a *Awaiter) Do(ctx context.Context, s Submitter, job Job) (Result, error) {
	ch := a.Expect(job.ID)
	if err := s.Submit(ctx, job); err != nil {
		a.Cancel(job.ID)
		return Result{}, err
	}

	select {
	case res := <-ch:
		return res, nil
	case <-ctx.Done():
		a.Cancel(job.ID)
		return Result{}, fmt.Errorf("waiting for %s result: %w", job.Direction, ctx.Err())
	}
}
