// Package metastore defines the transactional metadata store contract:
// upload/chunk CRUD, CAS status transitions, missing-chunk lookup,
// aged-row listing, and idempotency record storage sharing the same
// transaction as the operation it guards.
package metastore

import (
	"context"
	"errors"
	"time"

	"github.com/haulfs/haulfs/pkg/idempotency"
	"github.com/haulfs/haulfs/pkg/upload"
)

// ErrNotFound is returned when an upload or chunk row does not exist.
var ErrNotFound = errors.New("metastore: not found")

// ErrCASFailed names a conditional transition whose precondition did not
// hold. The CAS methods of Transaction do not return it; they report a
// failed precondition as (false, nil).
var ErrCASFailed = errors.New("metastore: compare-and-swap precondition failed")

// ErrAlreadyExists signals a unique-constraint violation on upload insert.
var ErrAlreadyExists = errors.New("metastore: already exists")

// ChunkUpdate carries the fields written on a successful chunk upload.
type ChunkUpdate struct {
	SizeBytes      int64
	ChecksumSHA256 []byte
	StorageKey     string
	StorageETag    string
}

// Store is the top-level metadata store handle. All mutations happen
// inside a Transaction so that "at most one completer" is a structural
// property rather than a code-review-enforced convention.
type Store interface {
	// WithTransaction runs fn inside a single database transaction,
	// committing on nil return and rolling back otherwise. Implementations
	// retry internally on serialization failures/deadlocks.
	WithTransaction(ctx context.Context, fn func(tx Transaction) error) error

	// ListAgedUploads returns uploads in any of statuses whose updated_at
	// is older than olderThan, for the stale-upload sweep.
	ListAgedUploads(ctx context.Context, statuses []upload.Status, olderThan time.Time, limit int) ([]*upload.Upload, error)

	// ListExpiredIdempotencyKeys returns idempotency records whose TTL has
	// elapsed as of now, for maintenance GC.
	ListExpiredIdempotencyKeys(ctx context.Context, now time.Time, limit int) ([]idempotency.Record, error)

	// DeleteIdempotencyKey removes one record by (kind, key) after GC.
	DeleteIdempotencyKey(ctx context.Context, kind idempotency.Kind, key string) error

	Close() error
}

// Transaction is the CRUD surface available inside WithTransaction.
type Transaction interface {
	// CreateUpload inserts a new upload row with the status carried by u
	// (INITIATED, or COMPLETED for an empty file). Returns
	// ErrAlreadyExists if the id is already taken.
	CreateUpload(ctx context.Context, u *upload.Upload) error

	// GetUpload reads one upload row, locking it for update within the
	// enclosing transaction so concurrent completers serialize.
	GetUpload(ctx context.Context, id string) (*upload.Upload, error)

	// CASUploadStatus transitions id's status to to iff its current status
	// is one of from. Returns (false, nil) on precondition mismatch rather
	// than an error, so callers can decide how to react.
	CASUploadStatus(ctx context.Context, id string, from []upload.Status, to upload.Status) (bool, error)

	// TouchUpload bumps updated_at without changing status (first chunk
	// acceptance keeps an INITIATED upload fresh against the stale sweep).
	TouchUpload(ctx context.Context, id string) error

	// UpsertChunkPending ensures a chunk row exists in PENDING for index,
	// returning it either way (idempotent on retried requests).
	UpsertChunkPending(ctx context.Context, uploadID string, index int32, sizeBytes int64) (*upload.Chunk, error)

	// CASChunkStatus transitions the chunk's status to `to` iff its
	// current status is one of `from`. When the transition succeeds and
	// update is non-nil, the chunk's storage fields are written in the
	// same statement.
	CASChunkStatus(ctx context.Context, uploadID string, index int32, from []upload.ChunkStatus, to upload.ChunkStatus, update *ChunkUpdate) (bool, error)

	// GetChunk reads one chunk row.
	GetChunk(ctx context.Context, uploadID string, index int32) (*upload.Chunk, error)

	// ListChunks returns all chunk rows for uploadID ordered by index.
	ListChunks(ctx context.Context, uploadID string) ([]*upload.Chunk, error)

	// MissingChunkIndices returns the indices in [0, totalChunks) with no
	// chunk row in status UPLOADED.
	MissingChunkIndices(ctx context.Context, uploadID string, totalChunks int32) ([]int32, error)

	// DeleteUpload removes the upload row and all its chunk rows.
	DeleteUpload(ctx context.Context, uploadID string) error

	// ReserveIdempotency atomically inserts-or-reads an idempotency record
	// in the same transaction as the operation it guards.
	ReserveIdempotency(ctx context.Context, kind idempotency.Kind, key string, fp idempotency.Fingerprint, ttl time.Duration) (idempotency.Outcome, idempotency.Record, error)

	// StoreIdempotencyResult writes the result field of a previously
	// reserved record.
	StoreIdempotencyResult(ctx context.Context, kind idempotency.Kind, key string, result string) error
}
