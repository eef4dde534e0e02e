package postgres

import (
	"time"

	"github.com/haulfs/haulfs/pkg/idempotency"
	"github.com/haulfs/haulfs/pkg/upload"
)

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUpload(r rowScanner) (*upload.Upload, error) {
	var u upload.Upload
	var status string
	var multipartHandle *string
	var checksum []byte

	if err := r.Scan(
		&u.ID, &u.Owner, &u.FileName, &u.SizeBytes, &u.ChunkSizeBytes, &u.TotalChunks,
		&checksum, &status, &multipartHandle, &u.CreatedAt, &u.UpdatedAt,
	); err != nil {
		return nil, mapPgError(err, "scanUpload")
	}

	u.Status = upload.Status(status)
	u.FileChecksumSHA256 = checksum
	if multipartHandle != nil {
		u.MultipartHandle = *multipartHandle
	}
	return &u, nil
}

func scanChunk(r rowScanner) (*upload.Chunk, error) {
	var c upload.Chunk
	var status string

	if err := r.Scan(
		&c.UploadID, &c.Index, &c.SizeBytes, &c.ChecksumSHA256,
		&c.StorageKey, &c.StorageETag, &status, &c.RetryCount, &c.UpdatedAt,
	); err != nil {
		return nil, mapPgError(err, "scanChunk")
	}
	c.Status = upload.ChunkStatus(status)
	return &c, nil
}

func scanIdempotencyRecord(r rowScanner) (idempotency.Record, error) {
	var rec idempotency.Record
	var kind, key string
	var fp []byte
	var ttlSeconds int64

	if err := r.Scan(&kind, &key, &fp, &rec.Result, &rec.CreatedAt, &ttlSeconds); err != nil {
		return idempotency.Record{}, mapPgError(err, "scanIdempotencyRecord")
	}
	rec.Kind = idempotency.Kind(kind)
	rec.Key = key
	rec.TTL = time.Duration(ttlSeconds) * time.Second
	if len(fp) == len(rec.Fingerprint) {
		copy(rec.Fingerprint[:], fp)
	}
	return rec, nil
}
