// Package memory is an in-process metastore.Store guarded by a single
// mutex, used by unit tests and the database.driver=memory single-node mode.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/haulfs/haulfs/pkg/idempotency"
	"github.com/haulfs/haulfs/pkg/metastore"
	"github.com/haulfs/haulfs/pkg/upload"
)

type chunkKey struct {
	uploadID string
	index    int32
}

type idempotencyKey struct {
	kind idempotency.Kind
	key  string
}

// Store is an in-memory metastore.Store. All state lives behind a single
// mutex; WithTransaction holds it for the duration of fn, which gives the
// same serialization guarantee a real database transaction provides
// without needing per-row locks.
type Store struct {
	mu      sync.Mutex
	uploads map[string]*upload.Upload
	chunks  map[chunkKey]*upload.Chunk
	idem    map[idempotencyKey]idempotency.Record
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		uploads: make(map[string]*upload.Upload),
		chunks:  make(map[chunkKey]*upload.Chunk),
		idem:    make(map[idempotencyKey]idempotency.Record),
	}
}

func (s *Store) WithTransaction(_ context.Context, fn func(tx metastore.Transaction) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&txn{s: s})
}

func (s *Store) ListAgedUploads(_ context.Context, statuses []upload.Status, olderThan time.Time, limit int) ([]*upload.Upload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[upload.Status]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}

	var out []*upload.Upload
	for _, u := range s.uploads {
		if !want[u.Status] {
			continue
		}
		if u.UpdatedAt.After(olderThan) {
			continue
		}
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListExpiredIdempotencyKeys(_ context.Context, now time.Time, limit int) ([]idempotency.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []idempotency.Record
	for _, rec := range s.idem {
		if rec.Expired(now) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) DeleteIdempotencyKey(_ context.Context, kind idempotency.Kind, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.idem, idempotencyKey{kind: kind, key: key})
	return nil
}

func (s *Store) Close() error { return nil }

// txn implements metastore.Transaction against the locked Store. Holding
// s.mu for its whole lifetime gives it the same isolation a real DB
// transaction provides for this single-process store.
type txn struct {
	s *Store
}

func (t *txn) CreateUpload(_ context.Context, u *upload.Upload) error {
	if _, exists := t.s.uploads[u.ID]; exists {
		return metastore.ErrAlreadyExists
	}
	cp := *u
	t.s.uploads[u.ID] = &cp
	return nil
}

func (t *txn) GetUpload(_ context.Context, id string) (*upload.Upload, error) {
	u, ok := t.s.uploads[id]
	if !ok {
		return nil, metastore.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (t *txn) CASUploadStatus(_ context.Context, id string, from []upload.Status, to upload.Status) (bool, error) {
	u, ok := t.s.uploads[id]
	if !ok {
		return false, metastore.ErrNotFound
	}
	if !containsStatus(from, u.Status) {
		return false, nil
	}
	u.Status = to
	u.UpdatedAt = time.Now()
	return true, nil
}

func (t *txn) TouchUpload(_ context.Context, id string) error {
	u, ok := t.s.uploads[id]
	if !ok {
		return metastore.ErrNotFound
	}
	u.UpdatedAt = time.Now()
	return nil
}

func (t *txn) UpsertChunkPending(_ context.Context, uploadID string, index int32, sizeBytes int64) (*upload.Chunk, error) {
	key := chunkKey{uploadID: uploadID, index: index}
	if existing, ok := t.s.chunks[key]; ok {
		cp := *existing
		return &cp, nil
	}
	c := &upload.Chunk{
		UploadID:  uploadID,
		Index:     index,
		SizeBytes: sizeBytes,
		Status:    upload.ChunkStatusPending,
		UpdatedAt: time.Now(),
	}
	t.s.chunks[key] = c
	cp := *c
	return &cp, nil
}

func (t *txn) CASChunkStatus(_ context.Context, uploadID string, index int32, from []upload.ChunkStatus, to upload.ChunkStatus, update *metastore.ChunkUpdate) (bool, error) {
	key := chunkKey{uploadID: uploadID, index: index}
	c, ok := t.s.chunks[key]
	if !ok {
		if !containsChunkStatus(from, "") {
			return false, metastore.ErrNotFound
		}
		c = &upload.Chunk{UploadID: uploadID, Index: index, Status: ""}
		t.s.chunks[key] = c
	}
	if !containsChunkStatus(from, c.Status) {
		return false, nil
	}
	c.Status = to
	c.UpdatedAt = time.Now()
	if update != nil {
		c.SizeBytes = update.SizeBytes
		c.ChecksumSHA256 = update.ChecksumSHA256
		c.StorageKey = update.StorageKey
		c.StorageETag = update.StorageETag
	}
	if to == upload.ChunkStatusFailed {
		c.RetryCount++
	}
	return true, nil
}

func (t *txn) GetChunk(_ context.Context, uploadID string, index int32) (*upload.Chunk, error) {
	c, ok := t.s.chunks[chunkKey{uploadID: uploadID, index: index}]
	if !ok {
		return nil, metastore.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (t *txn) ListChunks(_ context.Context, uploadID string) ([]*upload.Chunk, error) {
	var out []*upload.Chunk
	for k, c := range t.s.chunks {
		if k.uploadID != uploadID {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (t *txn) MissingChunkIndices(_ context.Context, uploadID string, totalChunks int32) ([]int32, error) {
	var missing []int32
	for i := int32(0); i < totalChunks; i++ {
		c, ok := t.s.chunks[chunkKey{uploadID: uploadID, index: i}]
		if !ok || c.Status != upload.ChunkStatusUploaded {
			missing = append(missing, i)
		}
	}
	return missing, nil
}

func (t *txn) DeleteUpload(_ context.Context, uploadID string) error {
	delete(t.s.uploads, uploadID)
	for k := range t.s.chunks {
		if k.uploadID == uploadID {
			delete(t.s.chunks, k)
		}
	}
	return nil
}

func (t *txn) ReserveIdempotency(_ context.Context, kind idempotency.Kind, key string, fp idempotency.Fingerprint, ttl time.Duration) (idempotency.Outcome, idempotency.Record, error) {
	if key == "" {
		return idempotency.Fresh, idempotency.Record{}, nil
	}
	ik := idempotencyKey{kind: kind, key: key}
	existing, ok := t.s.idem[ik]
	if ok && !existing.Expired(time.Now()) {
		if existing.Fingerprint == fp {
			return idempotency.Replay, existing, nil
		}
		return idempotency.Conflict, idempotency.Record{}, nil
	}
	rec := idempotency.Record{Kind: kind, Key: key, Fingerprint: fp, CreatedAt: time.Now(), TTL: ttl}
	t.s.idem[ik] = rec
	return idempotency.Fresh, rec, nil
}

func (t *txn) StoreIdempotencyResult(_ context.Context, kind idempotency.Kind, key string, result string) error {
	if key == "" {
		return nil
	}
	ik := idempotencyKey{kind: kind, key: key}
	rec, ok := t.s.idem[ik]
	if !ok {
		return nil
	}
	rec.Result = result
	t.s.idem[ik] = rec
	return nil
}

func containsStatus(statuses []upload.Status, s upload.Status) bool {
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}

func containsChunkStatus(statuses []upload.ChunkStatus, s upload.ChunkStatus) bool {
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}

var _ metastore.Store = (*Store)(nil)
