// Package idempotency implements a fingerprint-and-key deduplication
// registry, generalized from content-addressed block deduplication
// (pkg/metadata/store.go's ObjectStore.PutBlock, deduped by block hash
// in pkg/payload/transfer/manager.go:handleUploadSuccess) from "dedupe
// by content hash" to "dedupe by client-supplied idempotency key,
// validated against a fingerprint of the semantically significant
// request fields".
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"time"
)

// Kind identifies which operation an idempotency record guards.
type Kind string

const (
	KindInit     Kind = "init"
	KindChunk    Kind = "chunk"
	KindComplete Kind = "complete"
)

// Fingerprint is a stable hash of the semantically significant fields of a
// request, used to detect a caller reusing a key for a materially
// different request.
type Fingerprint [32]byte

// Hex renders the fingerprint as a hex string, for storage/logging.
func (f Fingerprint) Hex() string {
	return hex.EncodeToString(f[:])
}

// FingerprintInit computes the fingerprint for an init request: owner +
// file name + size + chunk size + optional checksum.
func FingerprintInit(owner, fileName string, sizeBytes, chunkSizeBytes int64, checksum []byte) Fingerprint {
	h := sha256.New()
	h.Write([]byte("init|"))
	h.Write([]byte(owner))
	h.Write([]byte{0})
	h.Write([]byte(fileName))
	h.Write([]byte{0})
	writeInt64(h, sizeBytes)
	writeInt64(h, chunkSizeBytes)
	h.Write(checksum)
	var fp Fingerprint
	copy(fp[:], h.Sum(nil))
	return fp
}

// FingerprintChunk computes the fingerprint for a chunk-put request:
// upload_id + chunk_index + body hash.
func FingerprintChunk(uploadID string, chunkIndex int32, bodyHash []byte) Fingerprint {
	h := sha256.New()
	h.Write([]byte("chunk|"))
	h.Write([]byte(uploadID))
	h.Write([]byte{0})
	var idxBuf [4]byte
	binary.BigEndian.PutUint32(idxBuf[:], uint32(chunkIndex))
	h.Write(idxBuf[:])
	h.Write(bodyHash)
	var fp Fingerprint
	copy(fp[:], h.Sum(nil))
	return fp
}

// FingerprintComplete computes the fingerprint for a complete request:
// upload_id + optional whole-file checksum.
func FingerprintComplete(uploadID string, checksum []byte) Fingerprint {
	h := sha256.New()
	h.Write([]byte("complete|"))
	h.Write([]byte(uploadID))
	h.Write([]byte{0})
	h.Write(checksum)
	var fp Fingerprint
	copy(fp[:], h.Sum(nil))
	return fp
}

func writeInt64(h interface{ Write([]byte) (int, error) }, v int64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	h.Write(buf[:])
}

// Outcome is the result of Reserve.
type Outcome int

const (
	// Fresh means no prior record existed; the caller should perform the
	// operation and then call StoreResult.
	Fresh Outcome = iota
	// Replay means a prior record with a matching fingerprint exists;
	// Result carries its stored result and the caller should return it
	// without re-performing the operation.
	Replay
	// Conflict means a prior record exists under the same key with a
	// different fingerprint; the caller must fail the request.
	Conflict
)

// Record is one stored idempotency row.
type Record struct {
	Kind        Kind
	Key         string
	Fingerprint Fingerprint
	Result      string // opaque, caller-defined encoding (e.g. the upload id)
	CreatedAt   time.Time
	TTL         time.Duration
}

// Expired reports whether the record is past its TTL as of now.
func (r Record) Expired(now time.Time) bool {
	return now.After(r.CreatedAt.Add(r.TTL))
}

// Registry is the idempotency store contract. An empty key means the
// client presented no key: Reserve returns Fresh every time and nothing is
// stored, so the request bypasses the registry.
type Registry interface {
	// Reserve atomically checks/creates a record for (kind, key). It
	// returns Fresh the first time a key is seen, Replay if the same
	// fingerprint was seen before (with the prior Result populated), or
	// Conflict if the key was reused with a different fingerprint.
	Reserve(ctx context.Context, kind Kind, key string, fp Fingerprint, ttl time.Duration) (Outcome, Record, error)

	// StoreResult attaches the operation's result to an existing Fresh
	// reservation.
	StoreResult(ctx context.Context, kind Kind, key string, result string) error

	// GC deletes records whose TTL has elapsed as of now.
	GC(ctx context.Context, now time.Time) (int, error)
}
