// Package memory provides an in-process Store for tests and the
// single-node in-memory deployment profile.
package memory

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/haulfs/haulfs/pkg/blobstore"
)

// Store is a map-backed blobstore.Store and blobstore.Multipart.
type Store struct {
	mu      sync.RWMutex
	objects map[string][]byte

	partsMu sync.Mutex
	parts   map[string]map[int32][]byte // handle -> index -> bytes
	nextID  int
}

// New constructs an empty in-memory Store.
func New() *Store {
	return &Store{
		objects: make(map[string][]byte),
		parts:   make(map[string]map[int32][]byte),
	}
}

func (s *Store) Put(_ context.Context, key string, r io.Reader, _ int64) (blobstore.PutResult, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return blobstore.PutResult{}, err
	}

	s.mu.Lock()
	s.objects[key] = buf
	s.mu.Unlock()

	return blobstore.PutResult{ETag: etagOf(buf)}, nil
}

func (s *Store) Get(_ context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	buf, ok := s.objects[key]
	if !ok {
		return nil, blobstore.ErrNotFound
	}
	if offset < 0 || offset > int64(len(buf)) {
		return nil, fmt.Errorf("blobstore/memory: offset %d out of range for %d-byte object", offset, len(buf))
	}

	end := int64(len(buf))
	if length > 0 && offset+length < end {
		end = offset + length
	}
	return io.NopCloser(bytes.NewReader(buf[offset:end])), nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *Store) Begin(_ context.Context, _ string) (string, error) {
	s.partsMu.Lock()
	defer s.partsMu.Unlock()
	s.nextID++
	handle := fmt.Sprintf("mp-%d", s.nextID)
	s.parts[handle] = make(map[int32][]byte)
	return handle, nil
}

func (s *Store) PutPart(_ context.Context, handle string, index int32, r io.Reader, _ int64) (string, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}

	s.partsMu.Lock()
	defer s.partsMu.Unlock()
	set, ok := s.parts[handle]
	if !ok {
		return "", fmt.Errorf("blobstore/memory: unknown multipart handle %q", handle)
	}
	set[index] = buf
	return etagOf(buf), nil
}

func (s *Store) Commit(_ context.Context, handle string, parts []blobstore.Part) (string, error) {
	s.partsMu.Lock()
	set, ok := s.parts[handle]
	if !ok {
		s.partsMu.Unlock()
		return "", fmt.Errorf("blobstore/memory: unknown multipart handle %q", handle)
	}
	delete(s.parts, handle)
	s.partsMu.Unlock()

	var full bytes.Buffer
	for _, p := range parts {
		full.Write(set[p.Index])
	}

	key := handle
	s.mu.Lock()
	s.objects[key] = full.Bytes()
	s.mu.Unlock()

	return etagOf(full.Bytes()), nil
}

func (s *Store) Abort(_ context.Context, handle string) error {
	s.partsMu.Lock()
	defer s.partsMu.Unlock()
	delete(s.parts, handle)
	return nil
}

// ListKeys returns every object key with the given prefix, implementing
// blobstore.Lister.
func (s *Store) ListKeys(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func etagOf(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

var (
	_ blobstore.Store     = (*Store)(nil)
	_ blobstore.Multipart = (*Store)(nil)
	_ blobstore.Lister    = (*Store)(nil)
)
