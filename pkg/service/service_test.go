package service_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/haulfs/haulfs/pkg/apierr"
	blobmemory "github.com/haulfs/haulfs/pkg/blobstore/memory"
	"github.com/haulfs/haulfs/pkg/limiter"
	metamemory "github.com/haulfs/haulfs/pkg/metastore/memory"
	"github.com/haulfs/haulfs/pkg/metrics"
	"github.com/haulfs/haulfs/pkg/service"
	"github.com/haulfs/haulfs/pkg/upload"
	"github.com/haulfs/haulfs/pkg/worker"
)

func newTestService(t *testing.T) *service.Service {
	t.Helper()
	meta := metamemory.New()
	blobs := blobmemory.New()
	m := metrics.New(nil)

	lim := limiter.New(limiter.Config{MaxGlobalInflight: 8, MaxInflightPerUpload: 4}, 2)
	executor := &worker.Executor{Meta: meta, Blobs: blobs}
	completion := worker.NewCompletionRegistry()
	pool := worker.NewDirect(executor, completion, m, 16, 3)
	pool.Start(context.Background(), 2)
	t.Cleanup(func() { pool.Resize(context.Background(), 0) })

	enqueue := func(ctx context.Context, task worker.Task) error {
		return pool.Submit(task)
	}

	return service.New(meta, blobs, nil, lim, pool, completion, enqueue, m, service.Config{
		DefaultChunkSizeBytes: 4,
		MaxChunkSizeBytes:     64,
		QueueTaskTimeout:      5 * time.Second,
		IdempotencyTTL:        time.Hour,
	})
}

func TestInitAcceptCompleteLifecycle(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	chunk0 := []byte("abcd")
	chunk1 := []byte("ef")
	fileSum := sha256.Sum256(append(append([]byte{}, chunk0...), chunk1...))

	u, err := svc.Init(ctx, service.InitRequest{
		Owner:     "alice",
		FileName:  "report.pdf",
		SizeBytes: int64(len(chunk0) + len(chunk1)),
	})
	require.NoError(t, err)
	require.Equal(t, upload.StatusInitiated, u.Status)
	require.EqualValues(t, 2, u.TotalChunks)

	missing, err := svc.MissingChunks(ctx, u.ID, "alice")
	require.NoError(t, err)
	require.ElementsMatch(t, []int32{0, 1}, missing)

	_, err = svc.AcceptChunk(ctx, service.ChunkRequest{
		UploadID: u.ID, Principal: "alice", Index: 0, Body: bytes.NewReader(chunk0),
	})
	require.NoError(t, err)

	_, err = svc.AcceptChunk(ctx, service.ChunkRequest{
		UploadID: u.ID, Principal: "alice", Index: 1, Body: bytes.NewReader(chunk1),
	})
	require.NoError(t, err)

	missing, err = svc.MissingChunks(ctx, u.ID, "alice")
	require.NoError(t, err)
	require.Empty(t, missing)

	done, err := svc.Complete(ctx, service.CompleteRequest{
		UploadID: u.ID, Principal: "alice", FileChecksumSHA256: fileSum[:],
	})
	require.NoError(t, err)
	require.Equal(t, upload.StatusCompleted, done.Status)
}

func TestAcceptChunkRejectsWrongOwner(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	u, err := svc.Init(ctx, service.InitRequest{Owner: "alice", FileName: "f", SizeBytes: 4})
	require.NoError(t, err)

	_, err = svc.AcceptChunk(ctx, service.ChunkRequest{
		UploadID: u.ID, Principal: "mallory", Index: 0, Body: bytes.NewReader([]byte("abcd")),
	})
	require.Error(t, err)
	require.Equal(t, apierr.Auth, apierr.As(err).Code)
}

func TestAcceptChunkChecksumMismatch(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	u, err := svc.Init(ctx, service.InitRequest{Owner: "alice", FileName: "f", SizeBytes: 4})
	require.NoError(t, err)

	wrongSum := sha256.Sum256([]byte("not-the-chunk"))
	_, err = svc.AcceptChunk(ctx, service.ChunkRequest{
		UploadID: u.ID, Principal: "alice", Index: 0,
		Body: bytes.NewReader([]byte("abcd")), ExpectedSHA256: wrongSum[:],
	})
	require.Error(t, err)
	require.Equal(t, apierr.Checksum, apierr.As(err).Code)
}

func TestAbortIsNotIdempotent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	u, err := svc.Init(ctx, service.InitRequest{Owner: "alice", FileName: "f", SizeBytes: 4})
	require.NoError(t, err)

	require.NoError(t, svc.Abort(ctx, u.ID, "alice"))

	// Abort deletes the upload row, so later calls no longer find it.
	err = svc.Abort(ctx, u.ID, "alice")
	require.Error(t, err)
	require.Equal(t, apierr.NotFound, apierr.As(err).Code)

	_, err = svc.AcceptChunk(ctx, service.ChunkRequest{
		UploadID: u.ID, Principal: "alice", Index: 0, Body: bytes.NewReader([]byte("abcd")),
	})
	require.Error(t, err)
	require.Equal(t, apierr.NotFound, apierr.As(err).Code)
}

func TestInitIdempotencyReplay(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	req := service.InitRequest{Owner: "alice", FileName: "f", SizeBytes: 4, IdempotencyKey: "key-1"}
	first, err := svc.Init(ctx, req)
	require.NoError(t, err)

	second, err := svc.Init(ctx, req)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
}
