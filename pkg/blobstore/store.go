// Package blobstore defines the storage backend contract: idempotent
// Put, ranged Get, Delete, and an optional Multipart capability for
// backends that can commit a set of parts atomically.
package blobstore

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("blobstore: key not found")

// ErrClosed is returned once a Store has been closed.
var ErrClosed = errors.New("blobstore: store closed")

// PutResult carries the optional ETag a backend assigns to a Put.
type PutResult struct {
	ETag string
}

// Store is the storage backend contract. Put must be idempotent: calling
// it twice with the same key and identical bytes is permitted and leaves
// the same observable state.
type Store interface {
	// Put writes the full contents of r under key.
	Put(ctx context.Context, key string, r io.Reader, size int64) (PutResult, error)

	// Get returns a stream over [offset, offset+length) of the object at
	// key. A length of 0 means "to end of object".
	Get(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error)

	// Delete removes the object at key. Deleting a missing key is not an
	// error.
	Delete(ctx context.Context, key string) error
}

// Multipart is implemented by backends that can assemble a logical object
// from independently-uploaded parts and commit them atomically.
type Multipart interface {
	// Begin starts a multipart session for a logical object and returns an
	// opaque handle.
	Begin(ctx context.Context, logicalID string) (handle string, err error)

	// PutPart uploads one part under an existing handle and returns its
	// part ETag.
	PutPart(ctx context.Context, handle string, index int32, r io.Reader, size int64) (partETag string, err error)

	// Commit finalizes the multipart session given the ordered
	// (index, partETag) pairs and returns the final object ETag.
	Commit(ctx context.Context, handle string, parts []Part) (finalETag string, err error)

	// Abort cancels an in-progress multipart session, releasing any
	// uploaded parts.
	Abort(ctx context.Context, handle string) error
}

// Part identifies one uploaded part for Commit.
type Part struct {
	Index int32
	ETag  string
}

// Lister is implemented by backends that can enumerate their keys, used
// by the maintenance job's optional orphan-blob scan. Not every backend
// need implement it; maintenance skips the scan when
// the configured Store does not satisfy this interface.
type Lister interface {
	// ListKeys returns every key under prefix. Backends may truncate very
	// large listings; callers should treat the result as best-effort.
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}
