package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/haulfs/haulfs/pkg/idempotency"
	"github.com/haulfs/haulfs/pkg/metastore"
	"github.com/haulfs/haulfs/pkg/upload"
)

const (
	maxTransactionRetries        = 3
	poolConnectionAcquireTimeout = 5 * time.Second
)

// WithTransaction runs fn inside a pgx transaction, retrying on deadlock
// or serialization-failure codes. Grounded line-for-line on
// transaction.go's WithTransaction.
func (s *Store) WithTransaction(ctx context.Context, fn func(tx metastore.Transaction) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < maxTransactionRetries; attempt++ {
		acquireCtx, cancel := context.WithTimeout(ctx, poolConnectionAcquireTimeout)
		pgxTx, err := s.pool.Begin(acquireCtx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				s.logger.Warn("connection pool exhausted acquiring transaction", "attempt", attempt+1)
			}
			return err
		}

		tx := &txn{store: s, tx: pgxTx}
		if err := fn(tx); err != nil {
			rollbackCtx, rollbackCancel := context.WithTimeout(ctx, poolConnectionAcquireTimeout)
			_ = pgxTx.Rollback(rollbackCtx)
			rollbackCancel()

			if isRetryableError(err) {
				lastErr = err
				time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
				continue
			}
			return err
		}

		commitCtx, commitCancel := context.WithTimeout(ctx, poolConnectionAcquireTimeout)
		err = pgxTx.Commit(commitCtx)
		commitCancel()
		if err != nil {
			if isRetryableError(err) {
				lastErr = err
				time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
				continue
			}
			return mapPgError(err, "WithTransaction")
		}
		return nil
	}

	return mapPgError(lastErr, "WithTransaction")
}

// txn wraps a pgx.Tx to implement metastore.Transaction.
type txn struct {
	store *Store
	tx    pgx.Tx
}

func (t *txn) CreateUpload(ctx context.Context, u *upload.Upload) error {
	const query = `
		INSERT INTO uploads (id, owner, file_name, size_bytes, chunk_size_bytes, total_chunks,
		                      file_checksum_sha256, status, multipart_handle, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := t.tx.Exec(ctx, query,
		u.ID, u.Owner, u.FileName, u.SizeBytes, u.ChunkSizeBytes, u.TotalChunks,
		nullableBytes(u.FileChecksumSHA256), string(u.Status), nullableString(u.MultipartHandle),
		u.CreatedAt, u.UpdatedAt,
	)
	return mapPgError(err, "CreateUpload")
}

func (t *txn) GetUpload(ctx context.Context, id string) (*upload.Upload, error) {
	const query = `
		SELECT id, owner, file_name, size_bytes, chunk_size_bytes, total_chunks,
		       file_checksum_sha256, status, multipart_handle, created_at, updated_at
		FROM uploads WHERE id = $1
		FOR UPDATE
	`
	row := t.tx.QueryRow(ctx, query, id)
	return scanUpload(row)
}

func (t *txn) CASUploadStatus(ctx context.Context, id string, from []upload.Status, to upload.Status) (bool, error) {
	fromStrs := make([]string, len(from))
	for i, st := range from {
		fromStrs[i] = string(st)
	}
	const query = `
		UPDATE uploads SET status = $1, updated_at = now()
		WHERE id = $2 AND status = ANY($3)
	`
	tag, err := t.tx.Exec(ctx, query, string(to), id, fromStrs)
	if err != nil {
		return false, mapPgError(err, "CASUploadStatus")
	}
	return tag.RowsAffected() > 0, nil
}

func (t *txn) TouchUpload(ctx context.Context, id string) error {
	tag, err := t.tx.Exec(ctx, `UPDATE uploads SET updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return mapPgError(err, "TouchUpload")
	}
	if tag.RowsAffected() == 0 {
		return metastore.ErrNotFound
	}
	return nil
}

func (t *txn) UpsertChunkPending(ctx context.Context, uploadID string, index int32, sizeBytes int64) (*upload.Chunk, error) {
	const query = `
		INSERT INTO chunks (upload_id, chunk_index, size_bytes, status, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (upload_id, chunk_index) DO UPDATE SET upload_id = chunks.upload_id
		RETURNING upload_id, chunk_index, size_bytes, checksum_sha256, storage_key, storage_etag, status, retry_count, updated_at
	`
	row := t.tx.QueryRow(ctx, query, uploadID, index, sizeBytes, string(upload.ChunkStatusPending))
	return scanChunk(row)
}

func (t *txn) CASChunkStatus(ctx context.Context, uploadID string, index int32, from []upload.ChunkStatus, to upload.ChunkStatus, update *metastore.ChunkUpdate) (bool, error) {
	fromAbsent := false
	var fromStrs []string
	for _, st := range from {
		if st == "" {
			fromAbsent = true
			continue
		}
		fromStrs = append(fromStrs, string(st))
	}

	existing, err := t.GetChunk(ctx, uploadID, index)
	if err != nil && !errors.Is(err, metastore.ErrNotFound) {
		return false, err
	}

	if existing == nil {
		if !fromAbsent {
			return false, nil
		}
		if update != nil {
			const insertQuery = `
				INSERT INTO chunks (upload_id, chunk_index, size_bytes, checksum_sha256, storage_key, storage_etag, status, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, now())
			`
			_, err := t.tx.Exec(ctx, insertQuery, uploadID, index, update.SizeBytes, nullableBytes(update.ChecksumSHA256), update.StorageKey, update.StorageETag, string(to))
			if err != nil {
				return false, mapPgError(err, "CASChunkStatus")
			}
			return true, nil
		}
		const insertQuery = `
			INSERT INTO chunks (upload_id, chunk_index, status, updated_at)
			VALUES ($1, $2, $3, now())
		`
		_, err := t.tx.Exec(ctx, insertQuery, uploadID, index, string(to))
		if err != nil {
			return false, mapPgError(err, "CASChunkStatus")
		}
		return true, nil
	}

	if !containsChunkStatus(fromStrs, string(existing.Status)) {
		return false, nil
	}

	retryBump := ""
	if to == upload.ChunkStatusFailed {
		retryBump = ", retry_count = retry_count + 1"
	}

	if update != nil {
		query := `
			UPDATE chunks SET status = $1, size_bytes = $2, checksum_sha256 = $3,
			                   storage_key = $4, storage_etag = $5, updated_at = now()` + retryBump + `
			WHERE upload_id = $6 AND chunk_index = $7 AND status = ANY($8)
		`
		tag, err := t.tx.Exec(ctx, query, string(to), update.SizeBytes, nullableBytes(update.ChecksumSHA256),
			update.StorageKey, update.StorageETag, uploadID, index, fromStrs)
		if err != nil {
			return false, mapPgError(err, "CASChunkStatus")
		}
		return tag.RowsAffected() > 0, nil
	}

	query := `
		UPDATE chunks SET status = $1, updated_at = now()` + retryBump + `
		WHERE upload_id = $2 AND chunk_index = $3 AND status = ANY($4)
	`
	tag, err := t.tx.Exec(ctx, query, string(to), uploadID, index, fromStrs)
	if err != nil {
		return false, mapPgError(err, "CASChunkStatus")
	}
	return tag.RowsAffected() > 0, nil
}

func (t *txn) GetChunk(ctx context.Context, uploadID string, index int32) (*upload.Chunk, error) {
	const query = `
		SELECT upload_id, chunk_index, size_bytes, checksum_sha256, storage_key, storage_etag, status, retry_count, updated_at
		FROM chunks WHERE upload_id = $1 AND chunk_index = $2
	`
	row := t.tx.QueryRow(ctx, query, uploadID, index)
	c, err := scanChunk(row)
	if err != nil {
		if errors.Is(err, metastore.ErrNotFound) {
			return nil, metastore.ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

func (t *txn) ListChunks(ctx context.Context, uploadID string) ([]*upload.Chunk, error) {
	const query = `
		SELECT upload_id, chunk_index, size_bytes, checksum_sha256, storage_key, storage_etag, status, retry_count, updated_at
		FROM chunks WHERE upload_id = $1 ORDER BY chunk_index
	`
	rows, err := t.tx.Query(ctx, query, uploadID)
	if err != nil {
		return nil, mapPgError(err, "ListChunks")
	}
	defer rows.Close()

	var out []*upload.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (t *txn) MissingChunkIndices(ctx context.Context, uploadID string, totalChunks int32) ([]int32, error) {
	const query = `
		SELECT chunk_index FROM chunks WHERE upload_id = $1 AND status = $2
	`
	rows, err := t.tx.Query(ctx, query, uploadID, string(upload.ChunkStatusUploaded))
	if err != nil {
		return nil, mapPgError(err, "MissingChunkIndices")
	}
	defer rows.Close()

	present := make(map[int32]bool)
	for rows.Next() {
		var idx int32
		if err := rows.Scan(&idx); err != nil {
			return nil, err
		}
		present[idx] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var missing []int32
	for i := int32(0); i < totalChunks; i++ {
		if !present[i] {
			missing = append(missing, i)
		}
	}
	return missing, nil
}

func (t *txn) DeleteUpload(ctx context.Context, uploadID string) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM uploads WHERE id = $1`, uploadID)
	return mapPgError(err, "DeleteUpload")
}

func (t *txn) ReserveIdempotency(ctx context.Context, kind idempotency.Kind, key string, fp idempotency.Fingerprint, ttl time.Duration) (idempotency.Outcome, idempotency.Record, error) {
	if key == "" {
		return idempotency.Fresh, idempotency.Record{}, nil
	}

	const selectQuery = `
		SELECT kind, key, fingerprint, result, created_at, ttl_seconds
		FROM idempotency_keys WHERE kind = $1 AND key = $2
		FOR UPDATE
	`
	row := t.tx.QueryRow(ctx, selectQuery, string(kind), key)
	existing, err := scanIdempotencyRecord(row)
	if err == nil {
		if existing.Expired(time.Now()) {
			// expired: fall through to re-reserve
		} else if existing.Fingerprint == fp {
			return idempotency.Replay, existing, nil
		} else {
			return idempotency.Conflict, idempotency.Record{}, nil
		}
	} else if !errors.Is(err, metastore.ErrNotFound) {
		return idempotency.Fresh, idempotency.Record{}, err
	}

	const upsertQuery = `
		INSERT INTO idempotency_keys (kind, key, fingerprint, created_at, ttl_seconds)
		VALUES ($1, $2, $3, now(), $4)
		ON CONFLICT (kind, key) DO UPDATE SET fingerprint = EXCLUDED.fingerprint, created_at = EXCLUDED.created_at, ttl_seconds = EXCLUDED.ttl_seconds, result = ''
	`
	_, err = t.tx.Exec(ctx, upsertQuery, string(kind), key, fp[:], int64(ttl/time.Second))
	if err != nil {
		return idempotency.Fresh, idempotency.Record{}, mapPgError(err, "ReserveIdempotency")
	}

	return idempotency.Fresh, idempotency.Record{Kind: kind, Key: key, Fingerprint: fp, CreatedAt: time.Now(), TTL: ttl}, nil
}

func (t *txn) StoreIdempotencyResult(ctx context.Context, kind idempotency.Kind, key string, result string) error {
	if key == "" {
		return nil
	}
	_, err := t.tx.Exec(ctx, `UPDATE idempotency_keys SET result = $1 WHERE kind = $2 AND key = $3`, result, string(kind), key)
	return mapPgError(err, "StoreIdempotencyResult")
}

func containsChunkStatus(statuses []string, s string) bool {
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
