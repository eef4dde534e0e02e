package download_test

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	blobmemory "github.com/haulfs/haulfs/pkg/blobstore/memory"
	"github.com/haulfs/haulfs/pkg/chunkmath"
	"github.com/haulfs/haulfs/pkg/download"
	"github.com/haulfs/haulfs/pkg/limiter"
	metamemory "github.com/haulfs/haulfs/pkg/metastore/memory"
	"github.com/haulfs/haulfs/pkg/metrics"
	"github.com/haulfs/haulfs/pkg/service"
	"github.com/haulfs/haulfs/pkg/worker"
)

// buildCompletedUpload drives the real service lifecycle to produce a
// COMPLETED upload with two chunks, so the assembler is exercised against
// metastore/blobstore state shaped the way the server actually leaves it.
func buildCompletedUpload(t *testing.T) (meta *metamemory.Store, blobs *blobmemory.Store, uploadID string, content []byte) {
	t.Helper()
	meta = metamemory.New()
	blobs = blobmemory.New()
	m := metrics.New(nil)

	lim := limiter.New(limiter.Config{MaxGlobalInflight: 8, MaxInflightPerUpload: 4}, 2)
	executor := &worker.Executor{Meta: meta, Blobs: blobs}
	completion := worker.NewCompletionRegistry()
	pool := worker.NewDirect(executor, completion, m, 16, 3)
	pool.Start(context.Background(), 2)
	t.Cleanup(func() { pool.Resize(context.Background(), 0) })

	enqueue := func(ctx context.Context, task worker.Task) error { return pool.Submit(task) }
	svc := service.New(meta, blobs, nil, lim, pool, completion, enqueue, m, service.Config{
		DefaultChunkSizeBytes: 4,
		MaxChunkSizeBytes:     64,
		QueueTaskTimeout:      5 * time.Second,
		IdempotencyTTL:        time.Hour,
	})

	ctx := context.Background()
	content = []byte("abcdef") // two chunks of size 4: "abcd", "ef"

	u, err := svc.Init(ctx, service.InitRequest{Owner: "alice", FileName: "report.pdf", SizeBytes: int64(len(content))})
	require.NoError(t, err)

	_, err = svc.AcceptChunk(ctx, service.ChunkRequest{UploadID: u.ID, Principal: "alice", Index: 0, Body: bytes.NewReader(content[0:4])})
	require.NoError(t, err)
	_, err = svc.AcceptChunk(ctx, service.ChunkRequest{UploadID: u.ID, Principal: "alice", Index: 1, Body: bytes.NewReader(content[4:6])})
	require.NoError(t, err)

	_, err = svc.Complete(ctx, service.CompleteRequest{UploadID: u.ID, Principal: "alice"})
	require.NoError(t, err)

	return meta, blobs, u.ID, content
}

func TestAssemblerOpenWholeFile(t *testing.T) {
	meta, blobs, uploadID, content := buildCompletedUpload(t)
	a := &download.Assembler{Meta: meta, Blobs: blobs}

	stream, err := a.Open(context.Background(), uploadID, "alice", nil)
	require.NoError(t, err)
	require.False(t, stream.Ranged)
	require.Equal(t, int64(len(content)), stream.TotalSize)

	got, err := io.ReadAll(stream.Body)
	require.NoError(t, err)
	require.NoError(t, stream.Body.Close())
	require.Equal(t, content, got)
}

func TestAssemblerOpenByteRangeSpansChunks(t *testing.T) {
	meta, blobs, uploadID, content := buildCompletedUpload(t)
	a := &download.Assembler{Meta: meta, Blobs: blobs}

	rng := &chunkmath.ByteRange{Start: 2, End: 4}
	stream, err := a.Open(context.Background(), uploadID, "alice", rng)
	require.NoError(t, err)
	require.True(t, stream.Ranged)

	got, err := io.ReadAll(stream.Body)
	require.NoError(t, err)
	require.NoError(t, stream.Body.Close())
	require.Equal(t, content[2:5], got)
}

func TestAssemblerOpenRejectsWrongOwner(t *testing.T) {
	meta, blobs, uploadID, _ := buildCompletedUpload(t)
	a := &download.Assembler{Meta: meta, Blobs: blobs}

	_, err := a.Open(context.Background(), uploadID, "mallory", nil)
	require.Error(t, err)
}

func TestAssemblerOpenUnsatisfiableRange(t *testing.T) {
	meta, blobs, uploadID, content := buildCompletedUpload(t)
	a := &download.Assembler{Meta: meta, Blobs: blobs}

	rng := &chunkmath.ByteRange{Start: int64(len(content)), End: int64(len(content) + 10)}
	_, err := a.Open(context.Background(), uploadID, "alice", rng)
	require.Error(t, err)
}
