// Package service implements the chunked-upload lifecycle: init, chunk
// acceptance, complete, missing-chunks, and abort, wiring the metadata
// store, storage backend, limiters, and worker pool together. Status
// changes go through the metadata store's CAS with explicit source
// statuses.
package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/haulfs/haulfs/internal/logger"
	"github.com/haulfs/haulfs/pkg/apierr"
	"github.com/haulfs/haulfs/pkg/blobstore"
	"github.com/haulfs/haulfs/pkg/idempotency"
	"github.com/haulfs/haulfs/pkg/limiter"
	"github.com/haulfs/haulfs/pkg/metastore"
	"github.com/haulfs/haulfs/pkg/metrics"
	"github.com/haulfs/haulfs/pkg/upload"
	"github.com/haulfs/haulfs/pkg/worker"
)

// Config holds the operational knobs the service needs beyond its
// collaborators (metastore, blobstore, limiter, pool).
type Config struct {
	DefaultChunkSizeBytes int64
	MaxChunkSizeBytes     int64
	MaxRetries            int32
	QueueTaskTimeout      time.Duration
	IdempotencyTTL        time.Duration
	StagingDir            string
	Durable               bool
}

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.DefaultChunkSizeBytes <= 0 {
		c.DefaultChunkSizeBytes = 8 << 20
	}
	if c.MaxChunkSizeBytes <= 0 {
		c.MaxChunkSizeBytes = 64 << 20
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.QueueTaskTimeout <= 0 {
		c.QueueTaskTimeout = 30 * time.Second
	}
	if c.IdempotencyTTL <= 0 {
		c.IdempotencyTTL = 24 * time.Hour
	}
	if c.StagingDir == "" {
		c.StagingDir = os.TempDir()
	}
}

// Service implements the upload lifecycle on top of its collaborators.
type Service struct {
	meta       metastore.Store
	blobs      blobstore.Store
	multipart  blobstore.Multipart
	limiter    *limiter.Admission
	pool       *worker.Pool
	completion *worker.CompletionRegistry
	enqueue    func(ctx context.Context, t worker.Task) error
	metrics    *metrics.Metrics
	cfg        Config
}

// New constructs a Service. enqueue submits an admitted task for
// execution: in direct mode this is pool.Submit; in durable mode it wraps
// queue.Enqueue(task.ToQueueTask()).
func New(
	meta metastore.Store,
	blobs blobstore.Store,
	multipart blobstore.Multipart,
	lim *limiter.Admission,
	pool *worker.Pool,
	completion *worker.CompletionRegistry,
	enqueue func(ctx context.Context, t worker.Task) error,
	m *metrics.Metrics,
	cfg Config,
) *Service {
	cfg.ApplyDefaults()
	return &Service{
		meta: meta, blobs: blobs, multipart: multipart, limiter: lim,
		pool: pool, completion: completion, enqueue: enqueue, metrics: m, cfg: cfg,
	}
}

// InitRequest is the decoded body of POST /uploads/init.
type InitRequest struct {
	Owner              string
	FileName           string
	SizeBytes          int64
	ChunkSizeBytes     int64
	FileChecksumSHA256 []byte
	IdempotencyKey     string
}

// Init creates a new upload, or replays a prior result for a reused
// idempotency key.
func (s *Service) Init(ctx context.Context, req InitRequest) (*upload.Upload, error) {
	if req.SizeBytes < 0 {
		return nil, apierr.New(apierr.Validation, "file_size must be non-negative")
	}
	chunkSize := req.ChunkSizeBytes
	if chunkSize <= 0 {
		chunkSize = s.cfg.DefaultChunkSizeBytes
	}
	if chunkSize <= 0 || chunkSize > s.cfg.MaxChunkSizeBytes {
		return nil, apierr.New(apierr.Validation, "chunk_size out of range")
	}

	fp := idempotency.FingerprintInit(req.Owner, req.FileName, req.SizeBytes, chunkSize, req.FileChecksumSHA256)

	id := uuid.New().String()
	u := &upload.Upload{
		ID:                 id,
		Owner:              req.Owner,
		FileName:           req.FileName,
		SizeBytes:          req.SizeBytes,
		ChunkSizeBytes:     chunkSize,
		TotalChunks:        upload.TotalChunksForSize(req.SizeBytes, chunkSize),
		FileChecksumSHA256: req.FileChecksumSHA256,
		Status:             upload.StatusInitiated,
		CreatedAt:          time.Now(),
		UpdatedAt:          time.Now(),
	}
	if u.EmptyFile() {
		u.Status = upload.StatusCompleted
	}
	if s.multipart != nil && !u.EmptyFile() {
		handle, err := s.multipart.Begin(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("service: begin multipart session: %w", err)
		}
		u.MultipartHandle = handle
	}

	var replayID string
	err := s.meta.WithTransaction(ctx, func(tx metastore.Transaction) error {
		outcome, rec, err := tx.ReserveIdempotency(ctx, idempotency.KindInit, req.IdempotencyKey, fp, s.cfg.IdempotencyTTL)
		if err != nil {
			return err
		}
		switch outcome {
		case idempotency.Conflict:
			return apierr.New(apierr.Conflict, "idempotency key reused with a different request")
		case idempotency.Replay:
			replayID = rec.Result
			return nil
		default: // Fresh
			if err := tx.CreateUpload(ctx, u); err != nil {
				return err
			}
			return tx.StoreIdempotencyResult(ctx, idempotency.KindInit, req.IdempotencyKey, u.ID)
		}
	})
	if err != nil {
		return nil, err
	}
	if replayID != "" {
		return s.getUpload(ctx, replayID)
	}

	logger.InfoCtx(ctx, "upload initiated", "upload_id", u.ID, "size_bytes", u.SizeBytes, "total_chunks", u.TotalChunks)
	return u, nil
}

func (s *Service) getUpload(ctx context.Context, id string) (*upload.Upload, error) {
	var u *upload.Upload
	err := s.meta.WithTransaction(ctx, func(tx metastore.Transaction) error {
		var err error
		u, err = tx.GetUpload(ctx, id)
		return err
	})
	return u, err
}

// authorize loads the upload and checks ownership, returning a NotFound
// error if absent and an Auth error if owned by someone else — admin
// principals bypass this on maintenance endpoints only.
func (s *Service) authorize(ctx context.Context, id, principal string) (*upload.Upload, error) {
	u, err := s.getUpload(ctx, id)
	if err != nil {
		if err == metastore.ErrNotFound {
			return nil, apierr.New(apierr.NotFound, "no such upload")
		}
		return nil, err
	}
	if principal != "" && u.Owner != principal {
		return nil, apierr.New(apierr.Auth, "not the owner of this upload")
	}
	return u, nil
}

// ChunkRequest is the decoded context of PUT /uploads/{id}/chunks/{i}.
type ChunkRequest struct {
	UploadID       string
	Principal      string
	Index          int32
	Body           io.Reader
	ExpectedSHA256 []byte
	IdempotencyKey string
}

// AcceptChunk stages the chunk body, admits it through the limiters, and
// waits for the worker/queue completion signal before returning, so the
// HTTP response reflects the chunk's terminal outcome rather than mere
// acceptance. The limiter token is acquired before the bounded queue
// send, since Submit has no separate "reserve a slot" step to acquire
// ahead of building the task; a full send failure releases the token
// immediately, so no slot is ever leaked.
func (s *Service) AcceptChunk(ctx context.Context, req ChunkRequest) (*upload.Chunk, error) {
	u, err := s.authorize(ctx, req.UploadID, req.Principal)
	if err != nil {
		return nil, err
	}
	if !u.Status.AcceptsChunks() {
		return nil, apierr.New(apierr.Conflict, "upload is in a terminal state").WithUploadID(u.ID)
	}
	if req.Index < 0 || req.Index >= u.TotalChunks {
		return nil, apierr.New(apierr.Validation, "chunk index out of range").WithUploadID(u.ID)
	}

	stagingPath, bodyHash, size, err := s.stageChunk(req.UploadID, req.Index, req.Body)
	if err != nil {
		return nil, err
	}
	if len(req.ExpectedSHA256) > 0 && subtle.ConstantTimeCompare(bodyHash, req.ExpectedSHA256) != 1 {
		os.Remove(stagingPath)
		return nil, apierr.New(apierr.Checksum, "chunk body checksum mismatch").WithUploadID(u.ID)
	}
	expectedSize := upload.ChunkSizeForIndex(req.Index, u.TotalChunks, u.SizeBytes, u.ChunkSizeBytes)
	if size > expectedSize {
		os.Remove(stagingPath)
		return nil, apierr.New(apierr.Validation, "chunk body larger than expected").WithUploadID(u.ID)
	}

	fp := idempotency.FingerprintChunk(req.UploadID, req.Index, bodyHash)

	var replay bool
	err = s.meta.WithTransaction(ctx, func(tx metastore.Transaction) error {
		outcome, _, err := tx.ReserveIdempotency(ctx, idempotency.KindChunk, req.IdempotencyKey, fp, s.cfg.IdempotencyTTL)
		if err != nil {
			return err
		}
		switch outcome {
		case idempotency.Conflict:
			return apierr.New(apierr.Conflict, "idempotency key reused with a different chunk request")
		case idempotency.Replay:
			replay = true
			return nil
		default:
			return tx.TouchUpload(ctx, req.UploadID)
		}
	})
	if err != nil {
		os.Remove(stagingPath)
		return nil, err
	}
	if replay {
		os.Remove(stagingPath)
		return s.getChunk(ctx, req.UploadID, req.Index)
	}

	if u.Status == upload.StatusInitiated {
		_ = s.meta.WithTransaction(ctx, func(tx metastore.Transaction) error {
			_, err := tx.CASUploadStatus(ctx, u.ID, []upload.Status{upload.StatusInitiated}, upload.StatusInProgress)
			return err
		})
	}

	token, err := s.limiter.Acquire(req.UploadID)
	if err != nil {
		os.Remove(stagingPath)
		if s.metrics != nil {
			s.metrics.RecordAdmissionRefusal(apierr.As(err).Reason)
		}
		return nil, err
	}

	task := worker.Task{
		ID:              uuid.New().String(),
		UploadID:        req.UploadID,
		ChunkIndex:      req.Index,
		StagingPath:     stagingPath,
		ExpectedSHA256:  bodyHash,
		MultipartHandle: u.MultipartHandle,
		Token:           token,
	}
	s.completion.Register(task.ID)

	if err := s.enqueue(ctx, task); err != nil {
		s.completion.Abandon(task.ID)
		token.Release()
		os.Remove(stagingPath)
		return nil, apierr.Wrap(apierr.Backpressure, err, "task queue is full").WithReason("queue-full").WithUploadID(u.ID)
	}

	result, err := s.completion.Wait(ctx, task.ID, s.cfg.QueueTaskTimeout)
	if err != nil {
		return nil, err
	}
	if result.Outcome != worker.Success {
		return nil, apierr.As(result.Err)
	}

	logger.InfoCtx(ctx, "chunk accepted", "upload_id", u.ID, "chunk_index", req.Index, "size_bytes", size)
	return s.getChunk(ctx, req.UploadID, req.Index)
}

func (s *Service) getChunk(ctx context.Context, uploadID string, index int32) (*upload.Chunk, error) {
	var c *upload.Chunk
	err := s.meta.WithTransaction(ctx, func(tx metastore.Transaction) error {
		var err error
		c, err = tx.GetChunk(ctx, uploadID, index)
		return err
	})
	return c, err
}

// stageChunk writes body to a temp file under cfg.StagingDir and returns
// its path, SHA-256 hash, and byte count.
func (s *Service) stageChunk(uploadID string, index int32, body io.Reader) (path string, sum []byte, size int64, err error) {
	f, err := os.CreateTemp(s.cfg.StagingDir, fmt.Sprintf("chunk-%s-%d-*", uploadID, index))
	if err != nil {
		return "", nil, 0, fmt.Errorf("service: create staging file: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, h), body)
	if err != nil {
		os.Remove(f.Name())
		return "", nil, 0, fmt.Errorf("service: write staging file: %w", err)
	}
	return filepath.Clean(f.Name()), h.Sum(nil), n, nil
}

// MissingChunks returns the indices not yet UPLOADED, so a client can
// resume an interrupted upload by retrying only what's missing.
func (s *Service) MissingChunks(ctx context.Context, uploadID, principal string) ([]int32, error) {
	u, err := s.authorize(ctx, uploadID, principal)
	if err != nil {
		return nil, err
	}
	var missing []int32
	err = s.meta.WithTransaction(ctx, func(tx metastore.Transaction) error {
		var err error
		missing, err = tx.MissingChunkIndices(ctx, u.ID, u.TotalChunks)
		return err
	})
	return missing, err
}

// CompleteRequest is the decoded body of POST /uploads/{id}/complete.
type CompleteRequest struct {
	UploadID           string
	Principal          string
	FileChecksumSHA256 []byte
	IdempotencyKey     string
}

// Complete finalizes an upload: verifies every chunk is UPLOADED,
// optionally verifies the whole-file checksum, commits any active
// multipart session, and CASes status to COMPLETED.
func (s *Service) Complete(ctx context.Context, req CompleteRequest) (*upload.Upload, error) {
	u, err := s.authorize(ctx, req.UploadID, req.Principal)
	if err != nil {
		return nil, err
	}

	fp := idempotency.FingerprintComplete(req.UploadID, req.FileChecksumSHA256)
	var replay bool
	err = s.meta.WithTransaction(ctx, func(tx metastore.Transaction) error {
		outcome, _, err := tx.ReserveIdempotency(ctx, idempotency.KindComplete, req.IdempotencyKey, fp, s.cfg.IdempotencyTTL)
		if err != nil {
			return err
		}
		if outcome == idempotency.Conflict {
			return apierr.New(apierr.Conflict, "idempotency key reused with a different complete request")
		}
		replay = outcome == idempotency.Replay
		return nil
	})
	if err != nil {
		return nil, err
	}
	if replay {
		return s.getUpload(ctx, req.UploadID)
	}

	if u.Status == upload.StatusCompleted {
		return u, nil
	}
	if u.Status.Terminal() {
		return nil, apierr.New(apierr.Conflict, "upload already in a terminal state").WithUploadID(u.ID)
	}

	var chunks []*upload.Chunk
	err = s.meta.WithTransaction(ctx, func(tx metastore.Transaction) error {
		missing, err := tx.MissingChunkIndices(ctx, u.ID, u.TotalChunks)
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			return apierr.New(apierr.Conflict, "upload has missing chunks").WithUploadID(u.ID)
		}
		chunks, err = tx.ListChunks(ctx, u.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Index < chunks[j].Index })

	if len(req.FileChecksumSHA256) > 0 {
		if err := s.verifyWholeFileChecksum(ctx, chunks, req.FileChecksumSHA256); err != nil {
			_ = s.meta.WithTransaction(ctx, func(tx metastore.Transaction) error {
				_, casErr := tx.CASUploadStatus(ctx, u.ID, []upload.Status{upload.StatusInitiated, upload.StatusInProgress}, upload.StatusFailed)
				return casErr
			})
			return nil, err
		}
	}

	if u.MultipartHandle != "" && s.multipart != nil {
		parts := make([]blobstore.Part, 0, len(chunks))
		for _, c := range chunks {
			parts = append(parts, blobstore.Part{Index: c.Index, ETag: c.StorageETag})
		}
		if _, err := s.multipart.Commit(ctx, u.MultipartHandle, parts); err != nil {
			_ = s.meta.WithTransaction(ctx, func(tx metastore.Transaction) error {
				_, casErr := tx.CASUploadStatus(ctx, u.ID, []upload.Status{upload.StatusInitiated, upload.StatusInProgress}, upload.StatusFailed)
				return casErr
			})
			return nil, fmt.Errorf("service: commit multipart session: %w", err)
		}
	}

	var ok bool
	err = s.meta.WithTransaction(ctx, func(tx metastore.Transaction) error {
		var err error
		ok, err = tx.CASUploadStatus(ctx, u.ID, []upload.Status{upload.StatusInitiated, upload.StatusInProgress}, upload.StatusCompleted)
		if err != nil || !ok {
			return err
		}
		return tx.StoreIdempotencyResult(ctx, idempotency.KindComplete, req.IdempotencyKey, u.ID)
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apierr.New(apierr.Conflict, "upload completed concurrently by another request").WithUploadID(u.ID)
	}

	u.Status = upload.StatusCompleted
	logger.InfoCtx(ctx, "upload completed", "upload_id", u.ID)
	if s.metrics != nil {
		s.metrics.RecordUploadOutcome("completed", time.Since(u.CreatedAt))
	}
	return u, nil
}

func (s *Service) verifyWholeFileChecksum(ctx context.Context, chunks []*upload.Chunk, expected []byte) error {
	h := sha256.New()
	for _, c := range chunks {
		r, err := s.blobs.Get(ctx, c.StorageKey, 0, c.SizeBytes)
		if err != nil {
			return fmt.Errorf("service: read chunk %d for checksum: %w", c.Index, err)
		}
		_, err = io.Copy(h, r)
		r.Close()
		if err != nil {
			return fmt.Errorf("service: hash chunk %d: %w", c.Index, err)
		}
	}
	if subtle.ConstantTimeCompare(h.Sum(nil), expected) != 1 {
		return apierr.New(apierr.Checksum, "whole-file checksum mismatch")
	}
	return nil
}

// Abort transitions an upload to ABORTED, then best-effort removes its
// chunk blobs and deletes the upload row together with its chunk rows.
func (s *Service) Abort(ctx context.Context, uploadID, principal string) error {
	u, err := s.authorize(ctx, uploadID, principal)
	if err != nil {
		return err
	}
	var ok bool
	err = s.meta.WithTransaction(ctx, func(tx metastore.Transaction) error {
		var err error
		ok, err = tx.CASUploadStatus(ctx, u.ID, []upload.Status{upload.StatusInitiated, upload.StatusInProgress}, upload.StatusAborted)
		return err
	})
	if err != nil {
		return err
	}
	if !ok {
		return apierr.New(apierr.Conflict, "upload already in a terminal state").WithUploadID(u.ID)
	}

	if u.MultipartHandle != "" && s.multipart != nil {
		_ = s.multipart.Abort(ctx, u.MultipartHandle)
	}
	var chunks []*upload.Chunk
	_ = s.meta.WithTransaction(ctx, func(tx metastore.Transaction) error {
		var err error
		chunks, err = tx.ListChunks(ctx, u.ID)
		return err
	})
	for _, c := range chunks {
		if c.StorageKey != "" {
			if err := s.blobs.Delete(ctx, c.StorageKey); err != nil {
				logger.WarnCtx(ctx, "abort: failed to delete chunk blob", "upload_id", u.ID, "chunk_index", c.Index, "error", err)
			}
		}
	}
	_ = s.meta.WithTransaction(ctx, func(tx metastore.Transaction) error {
		return tx.DeleteUpload(ctx, u.ID)
	})

	logger.InfoCtx(ctx, "upload aborted", "upload_id", u.ID)
	if s.metrics != nil {
		s.metrics.RecordUploadOutcome("aborted", time.Since(u.CreatedAt))
	}
	return nil
}
