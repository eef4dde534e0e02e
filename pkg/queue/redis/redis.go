// Package redis is a Redis-list-backed queue.Queue using BLMOVE/RPUSH,
// adapted from cs3org-reva's use of a Redis-backed plugin store
// (go-micro/plugins/v4/store/redis), reimplemented directly against
// go-redis/v9 for this "external list" queue variant. Visibility is
// modeled with a processing list: Dequeue moves the popped element onto
// one shared "processing" list (RPOPLPUSH-style) and Ack/Nack remove or
// requeue it explicitly, since plain Redis lists have
// no native visibility timeout.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/haulfs/haulfs/pkg/queue"
)

// Queue is a Redis list-backed queue.Queue.
type Queue struct {
	client     *goredis.Client
	listKey    string
	processing string
}

// New constructs a Queue against an existing client, using listKey as the
// main FIFO list and listKey+":processing" as the in-flight list.
func New(client *goredis.Client, listKey string) *Queue {
	return &Queue{client: client, listKey: listKey, processing: listKey + ":processing"}
}

func (q *Queue) Enqueue(ctx context.Context, task queue.Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("queue/redis: marshal task: %w", err)
	}
	return q.client.RPush(ctx, q.listKey, payload).Err()
}

func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (queue.Task, error) {
	result, err := q.client.BLMove(ctx, q.listKey, q.processing, "left", "right", timeout).Result()
	if err != nil {
		if err == goredis.Nil {
			return queue.Task{}, queue.ErrEmpty
		}
		return queue.Task{}, fmt.Errorf("queue/redis: dequeue: %w", err)
	}

	var task queue.Task
	if err := json.Unmarshal([]byte(result), &task); err != nil {
		return queue.Task{}, fmt.Errorf("queue/redis: unmarshal task: %w", err)
	}
	task.ReceiptHandle = result
	return task, nil
}

// Ack removes the task's raw payload from the processing list.
func (q *Queue) Ack(ctx context.Context, task queue.Task) error {
	return q.client.LRem(ctx, q.processing, 1, task.ReceiptHandle).Err()
}

// Nack removes the task from the processing list and pushes it back onto
// the main list for redelivery.
func (q *Queue) Nack(ctx context.Context, task queue.Task) error {
	if err := q.client.LRem(ctx, q.processing, 1, task.ReceiptHandle).Err(); err != nil {
		return fmt.Errorf("queue/redis: nack remove: %w", err)
	}
	return q.Enqueue(ctx, task)
}

func (q *Queue) Close() error {
	return q.client.Close()
}

var _ queue.Queue = (*Queue)(nil)
