// Package memory is a bounded in-process queue.Queue, grounded on
// TransferQueue in pkg/payload/transfer/queue.go: a single buffered
// channel with a non-blocking Enqueue that reports queue-full instead of
// blocking the accepting request.
package memory

import (
	"context"
	"time"

	"github.com/haulfs/haulfs/pkg/queue"
)

// Queue is a bounded buffered-channel queue.Queue. Ack/Nack collapse to
// in-process disposal/redelivery, since there is no external broker to
// track delivery state against.
type Queue struct {
	ch chan queue.Task
}

// New constructs a Queue with the given buffer size.
func New(size int) *Queue {
	if size <= 0 {
		size = 1000
	}
	return &Queue{ch: make(chan queue.Task, size)}
}

func (q *Queue) Enqueue(ctx context.Context, task queue.Task) error {
	select {
	case q.ch <- task:
		return nil
	default:
		return queue.ErrFull
	}
}

func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (queue.Task, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case task := <-q.ch:
		return task, nil
	case <-ctx.Done():
		return queue.Task{}, ctx.Err()
	case <-timer.C:
		return queue.Task{}, queue.ErrEmpty
	}
}

// Ack is a no-op: the memory variant has no redelivery bookkeeping once a
// task has been dequeued.
func (q *Queue) Ack(ctx context.Context, task queue.Task) error {
	return nil
}

// Nack re-enqueues the task, non-blocking; a full queue drops it, same as
// any other Enqueue refusal.
func (q *Queue) Nack(ctx context.Context, task queue.Task) error {
	return q.Enqueue(ctx, task)
}

func (q *Queue) Close() error {
	return nil
}

var _ queue.Queue = (*Queue)(nil)
