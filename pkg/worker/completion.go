package worker

import (
	"context"
	"sync"
	"time"

	"github.com/haulfs/haulfs/pkg/apierr"
)

// CompletionRegistry implements complete-on-ack synchronization: a
// registry keyed by task id hands back a channel a waiting HTTP request
// blocks on, decoupled from the durable
// queue's own delivery. A timeout on Wait does not cancel the task — the
// task runs to completion and updates metadata on its own schedule; only
// the HTTP wait gives up.
type CompletionRegistry struct {
	mu   sync.Mutex
	wait map[string]chan Result
}

// NewCompletionRegistry constructs an empty registry.
func NewCompletionRegistry() *CompletionRegistry {
	return &CompletionRegistry{wait: make(map[string]chan Result)}
}

// Register creates a one-slot channel for taskID. Must be called before
// the task is handed to the queue/pool, so no completion can race ahead of
// the waiter.
func (r *CompletionRegistry) Register(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wait[taskID] = make(chan Result, 1)
}

// Complete delivers result to taskID's waiter, if one is registered, and
// removes the registration. Safe to call even if no one is waiting.
func (r *CompletionRegistry) Complete(taskID string, result Result) {
	r.mu.Lock()
	ch, ok := r.wait[taskID]
	if ok {
		delete(r.wait, taskID)
	}
	r.mu.Unlock()
	if ok {
		ch <- result
	}
}

// Wait blocks for taskID's result up to timeout. On timeout it returns a
// TransientStorage apierr with reason "queue-task-timeout" so the HTTP
// layer can surface a retryable response; the underlying task keeps running.
func (r *CompletionRegistry) Wait(ctx context.Context, taskID string, timeout time.Duration) (Result, error) {
	r.mu.Lock()
	ch, ok := r.wait[taskID]
	r.mu.Unlock()
	if !ok {
		return Result{}, apierr.New(apierr.Internal, "no completion registered for task")
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-timer.C:
		return Result{}, apierr.New(apierr.TransientStorage, "timed out waiting for chunk completion").WithReason("queue-task-timeout")
	}
}

// Abandon removes taskID's registration without delivering a result, used
// when the submitting request gives up before the task was ever handed off
// (e.g. queue-full refusal).
func (r *CompletionRegistry) Abandon(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.wait, taskID)
}
