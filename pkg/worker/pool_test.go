package worker_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	blobmemory "github.com/haulfs/haulfs/pkg/blobstore/memory"
	"github.com/haulfs/haulfs/pkg/metastore"
	metamemory "github.com/haulfs/haulfs/pkg/metastore/memory"
	"github.com/haulfs/haulfs/pkg/metrics"
	"github.com/haulfs/haulfs/pkg/upload"
	"github.com/haulfs/haulfs/pkg/worker"
)

func writeStagingFile(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "chunk-*")
	require.NoError(t, err)
	_, err = f.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}

func TestDirectPoolSubmitRunsTaskToCompletion(t *testing.T) {
	meta := metamemory.New()
	blobs := blobmemory.New()
	m := metrics.New(nil)

	ctx := context.Background()
	require.NoError(t, meta.WithTransaction(ctx, func(tx metastore.Transaction) error {
		if err := tx.CreateUpload(ctx, &upload.Upload{
			ID: "u1", Owner: "alice", Status: upload.StatusInitiated, TotalChunks: 1,
		}); err != nil {
			return err
		}
		_, err := tx.UpsertChunkPending(ctx, "u1", 0, 4)
		return err
	}))

	executor := &worker.Executor{Meta: meta, Blobs: blobs}
	completion := worker.NewCompletionRegistry()
	pool := worker.NewDirect(executor, completion, m, 8, 3)
	pool.Start(ctx, 1)
	t.Cleanup(func() { pool.Resize(ctx, 0) })

	taskID := "task-1"
	completion.Register(taskID)

	task := worker.Task{
		ID:          taskID,
		UploadID:    "u1",
		ChunkIndex:  0,
		StagingPath: writeStagingFile(t, "abcd"),
	}
	require.NoError(t, pool.Submit(task))

	res, err := completion.Wait(ctx, taskID, 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, worker.Success, res.Outcome)

	require.Eventually(t, func() bool {
		return pool.Busy() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestPoolResizeGrowsAndShrinks(t *testing.T) {
	meta := metamemory.New()
	blobs := blobmemory.New()
	m := metrics.New(nil)

	executor := &worker.Executor{Meta: meta, Blobs: blobs}
	completion := worker.NewCompletionRegistry()
	pool := worker.NewDirect(executor, completion, m, 8, 3)

	ctx := context.Background()
	pool.Start(ctx, 1)
	require.Equal(t, 1, pool.Count())

	pool.Resize(ctx, 4)
	require.Equal(t, 4, pool.Count())

	pool.Resize(ctx, 0)
	require.Equal(t, 0, pool.Count())
}

func TestSubmitReturnsErrFullWhenSaturated(t *testing.T) {
	meta := metamemory.New()
	blobs := blobmemory.New()
	m := metrics.New(nil)

	executor := &worker.Executor{Meta: meta, Blobs: blobs}
	completion := worker.NewCompletionRegistry()
	// Zero workers started, so the channel fills without draining.
	pool := worker.NewDirect(executor, completion, m, 1, 3)

	require.NoError(t, pool.Submit(worker.Task{ID: "a"}))
	err := pool.Submit(worker.Task{ID: "b"})
	require.Error(t, err)
}
