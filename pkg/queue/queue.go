// Package queue defines the durable queue contract: enqueue/dequeue/
// ack/nack of chunk-write tasks, with memory, Redis, and
// SQS variants. Grounded on the bounded-channel worker pool in
// pkg/payload/transfer/queue.go, generalized from a single in-process
// worker loop into a pluggable transport the worker pool consumes
// uniformly.
package queue

import (
	"context"
	"errors"
	"time"
)

// ErrFull is returned by Enqueue when the memory variant's bounded buffer
// has no room.
var ErrFull = errors.New("queue: full")

// ErrEmpty is returned by Dequeue when no task arrived before timeout.
var ErrEmpty = errors.New("queue: empty")

// Task is one chunk-write unit of work. StagingPath names the bytes
// written synchronously by the accepting HTTP request; the worker reads
// from there instead of carrying the chunk body through the queue.
type Task struct {
	ID          string
	UploadID    string
	ChunkIndex  int32
	StagingPath string
	Checksum    []byte
	RetryCount  int32

	// ReceiptHandle identifies this delivery to the backend for Ack/Nack
	// (SQS receipt handle, Redis processing-list marker). Unused by the
	// memory variant.
	ReceiptHandle string
}

// Queue is the durable queue contract. Implementations must be safe for
// concurrent use by multiple producers and consumers.
type Queue interface {
	// Enqueue submits a task. It returns ErrFull immediately when the
	// variant is bounded and has no room (memory); durable variants accept
	// unboundedly and only fail on backend errors.
	Enqueue(ctx context.Context, task Task) error

	// Dequeue waits up to timeout for the next task. Returns ErrEmpty on
	// timeout with no task available.
	Dequeue(ctx context.Context, timeout time.Duration) (Task, error)

	// Ack marks a task as terminally complete, so it is not redelivered.
	Ack(ctx context.Context, task Task) error

	// Nack releases a task for redelivery. Queues keep no retry count of
	// their own; the retry limit is applied by the caller before it nacks.
	Nack(ctx context.Context, task Task) error

	// Close releases any resources held by the queue (connections, etc.).
	Close() error
}
