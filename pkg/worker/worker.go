// Package worker implements the chunk-write execution contract: a pool
// of executors consuming tasks from either the local in-memory channel
// (direct mode) or a durable queue.Queue (external
// list/managed mode), both funneling into the same six-step Executor.
// Grounded on TransferQueue's worker/processRequest loop in
// pkg/payload/transfer/queue.go, generalized from a single fixed-size
// worker pool into one whose size the autoscaler can resize live.
package worker

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"io"
	"os"

	"github.com/haulfs/haulfs/pkg/apierr"
	"github.com/haulfs/haulfs/pkg/blobstore"
	"github.com/haulfs/haulfs/pkg/limiter"
	"github.com/haulfs/haulfs/pkg/metastore"
	"github.com/haulfs/haulfs/pkg/upload"
)

// Task is one chunk-write unit of work, already admitted through the
// limiters. StagingPath names bytes the accepting HTTP request wrote
// synchronously; the executor reads from there rather than carrying the
// chunk body through the queue/channel.
type Task struct {
	ID              string
	UploadID        string
	ChunkIndex      int32
	StagingPath     string
	ExpectedSHA256  []byte
	MultipartHandle string
	RetryCount      int32

	// Token is the admitted limiter slot, released on every terminal
	// outcome of this task exactly once.
	Token *limiter.Token

	// ReceiptHandle is set when this task originated from a durable queue,
	// so the pool's Ack/Nack names the right delivery. Whether the pool
	// acks at all depends on its mode (durable or direct), not on this field.
	ReceiptHandle string
}

// Outcome classifies how a task's execution ended.
type Outcome int

const (
	Success Outcome = iota
	TransientFailure
	PermanentFailure
)

// Result is the terminal outcome of one Execute call.
type Result struct {
	Outcome Outcome
	Err     error
}

// Executor runs the six-step chunk-write contract against one task. It
// holds no per-task state and is safe for concurrent use.
type Executor struct {
	Meta      metastore.Store
	Blobs     blobstore.Store
	Multipart blobstore.Multipart // nil if the backend has no multipart capability
}

// Execute runs steps 1-4 of the contract and classifies any failure as
// transient or permanent (step 5/6 decisions are made by the caller, which
// owns the retry-count/requeue policy).
func (e *Executor) Execute(ctx context.Context, task Task) Result {
	// Step 1: CAS to UPLOADING from {absent, PENDING, FAILED}.
	ok, err := e.casUploading(ctx, task)
	if err != nil {
		return Result{Outcome: PermanentFailure, Err: err}
	}
	if !ok {
		// Another worker already claimed this index, or it's already
		// UPLOADED/UPLOADING — nothing for this task to do.
		return Result{Outcome: Success}
	}

	f, err := os.Open(task.StagingPath)
	if err != nil {
		return Result{Outcome: PermanentFailure, Err: fmt.Errorf("worker: open staging file: %w", err)}
	}
	defer f.Close()
	defer os.Remove(task.StagingPath)

	info, err := f.Stat()
	if err != nil {
		return Result{Outcome: PermanentFailure, Err: fmt.Errorf("worker: stat staging file: %w", err)}
	}
	size := info.Size()

	// Step 2: optional checksum verification.
	var sum []byte
	if len(task.ExpectedSHA256) > 0 {
		h := sha256.New()
		if _, err := io.Copy(h, f); err != nil {
			return Result{Outcome: TransientFailure, Err: fmt.Errorf("worker: hash staging file: %w", err)}
		}
		sum = h.Sum(nil)
		if subtle.ConstantTimeCompare(sum, task.ExpectedSHA256) != 1 {
			e.MarkFailed(ctx, task)
			return Result{Outcome: PermanentFailure, Err: apierr.New(apierr.Checksum, "chunk checksum mismatch")}
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return Result{Outcome: TransientFailure, Err: err}
		}
	}

	// Step 3: storage put (or put_part under an active multipart session).
	key := fmt.Sprintf("%s/%d", task.UploadID, task.ChunkIndex)
	var etag string
	if task.MultipartHandle != "" && e.Multipart != nil {
		etag, err = e.Multipart.PutPart(ctx, task.MultipartHandle, task.ChunkIndex, f, size)
	} else {
		var res blobstore.PutResult
		res, err = e.Blobs.Put(ctx, key, f, size)
		etag = res.ETag
	}
	if err != nil {
		return Result{Outcome: TransientFailure, Err: fmt.Errorf("worker: storage put: %w", err)}
	}

	// Step 4: success update + (limiter release is the caller's job, since
	// it owns the Token and must release it on every terminal path).
	update := &metastore.ChunkUpdate{
		SizeBytes:      size,
		ChecksumSHA256: sum,
		StorageKey:     key,
		StorageETag:    etag,
	}
	txErr := e.Meta.WithTransaction(ctx, func(tx metastore.Transaction) error {
		ok, err := tx.CASChunkStatus(ctx, task.UploadID, task.ChunkIndex,
			[]upload.ChunkStatus{upload.ChunkStatusUploading}, upload.ChunkStatusUploaded, update)
		if err != nil {
			return err
		}
		if !ok {
			return apierr.New(apierr.Internal, "chunk left UPLOADING state concurrently")
		}
		return tx.TouchUpload(ctx, task.UploadID)
	})
	if txErr != nil {
		return Result{Outcome: TransientFailure, Err: txErr}
	}
	return Result{Outcome: Success}
}

func (e *Executor) casUploading(ctx context.Context, task Task) (bool, error) {
	var ok bool
	err := e.Meta.WithTransaction(ctx, func(tx metastore.Transaction) error {
		existing, err := tx.GetChunk(ctx, task.UploadID, task.ChunkIndex)
		if err == nil && existing.Status == upload.ChunkStatusUploaded {
			ok = false
			return nil
		}
		if err != nil && err != metastore.ErrNotFound {
			return err
		}
		casOK, err := tx.CASChunkStatus(ctx, task.UploadID, task.ChunkIndex,
			[]upload.ChunkStatus{"", upload.ChunkStatusPending, upload.ChunkStatusFailed},
			upload.ChunkStatusUploading, nil)
		if err != nil {
			return err
		}
		ok = casOK
		return nil
	})
	return ok, err
}

// MarkFailed transitions the chunk to FAILED, best-effort (step 6), either
// after a terminal checksum mismatch or after the pool exhausts retries on
// a transient failure.
func (e *Executor) MarkFailed(ctx context.Context, task Task) {
	_ = e.Meta.WithTransaction(ctx, func(tx metastore.Transaction) error {
		_, err := tx.CASChunkStatus(ctx, task.UploadID, task.ChunkIndex,
			[]upload.ChunkStatus{upload.ChunkStatusUploading}, upload.ChunkStatusFailed, nil)
		return err
	})
}
