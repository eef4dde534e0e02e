package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/haulfs/haulfs/pkg/queue"
	"github.com/haulfs/haulfs/pkg/queue/memory"
)

func TestEnqueueDequeueRoundTrip(t *testing.T) {
	q := memory.New(4)
	ctx := context.Background()

	task := queue.Task{ID: "t1", UploadID: "u1", ChunkIndex: 2}
	require.NoError(t, q.Enqueue(ctx, task))

	got, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, task, got)
}

func TestEnqueueReturnsErrFullWhenSaturated(t *testing.T) {
	q := memory.New(1)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, queue.Task{ID: "a"}))
	err := q.Enqueue(ctx, queue.Task{ID: "b"})
	require.ErrorIs(t, err, queue.ErrFull)
}

func TestDequeueReturnsErrEmptyOnTimeout(t *testing.T) {
	q := memory.New(1)
	_, err := q.Dequeue(context.Background(), 10*time.Millisecond)
	require.ErrorIs(t, err, queue.ErrEmpty)
}

func TestNackRedeliversTask(t *testing.T) {
	q := memory.New(1)
	ctx := context.Background()

	task := queue.Task{ID: "t1"}
	require.NoError(t, q.Enqueue(ctx, task))

	got, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)

	require.NoError(t, q.Nack(ctx, got))

	redelivered, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, task, redelivered)
}
