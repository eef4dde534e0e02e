// Package download implements a range-aware assembler: given a
// COMPLETED upload, it streams chunk bodies in order,
// clipping the first and last chunk of a ranged request to the requested
// byte span. Grounded on the chunk-boundary clipping math in
// pkg/chunkmath (itself grounded on pkg/payload/chunk) and on
// ReadBlockRange's offset/length Get call in pkg/payload/store/fs/store.go,
// generalized from a single block read into a multi-chunk io.Reader chain.
package download

import (
	"context"
	"fmt"
	"io"

	"github.com/haulfs/haulfs/pkg/apierr"
	"github.com/haulfs/haulfs/pkg/blobstore"
	"github.com/haulfs/haulfs/pkg/chunkmath"
	"github.com/haulfs/haulfs/pkg/metastore"
	"github.com/haulfs/haulfs/pkg/upload"
)

// Stream describes what the HTTP handler needs to render a response: the
// byte range actually served (for Content-Range), the file name to
// advertise, and the reader to copy to the client.
type Stream struct {
	FileName      string
	TotalSize     int64
	Range         chunkmath.ByteRange // the served range
	Ranged        bool                // true for 206, false for 200 (whole file)
	Body          io.ReadCloser
}

// Assembler builds Streams against a metastore and blobstore.
type Assembler struct {
	Meta  metastore.Store
	Blobs blobstore.Store
}

// Open resolves uploadID (which must be COMPLETED) and, if rng is non-nil,
// validates it against the file size before building the chained reader.
// A nil rng serves the whole file.
func (a *Assembler) Open(ctx context.Context, uploadID, principal string, rng *chunkmath.ByteRange) (*Stream, error) {
	var (
		u      *upload.Upload
		chunks []*upload.Chunk
	)
	err := a.Meta.WithTransaction(ctx, func(tx metastore.Transaction) error {
		var err error
		u, err = tx.GetUpload(ctx, uploadID)
		if err != nil {
			return err
		}
		chunks, err = tx.ListChunks(ctx, uploadID)
		return err
	})
	if err != nil {
		if err == metastore.ErrNotFound {
			return nil, apierr.New(apierr.NotFound, "no such upload")
		}
		return nil, err
	}
	if principal != "" && u.Owner != principal {
		return nil, apierr.New(apierr.Auth, "not the owner of this upload")
	}
	if u.Status != upload.StatusCompleted {
		return nil, apierr.New(apierr.Conflict, "upload is not completed").WithUploadID(u.ID)
	}

	byIndex := make(map[int32]*upload.Chunk, len(chunks))
	for _, c := range chunks {
		byIndex[c.Index] = c
	}

	if u.EmptyFile() {
		return &Stream{FileName: u.FileName, TotalSize: 0, Body: io.NopCloser(io.MultiReader())}, nil
	}

	full := chunkmath.ByteRange{Start: 0, End: u.SizeBytes - 1}
	serve := full
	ranged := false
	if rng != nil {
		if !rng.Valid(u.SizeBytes) {
			return nil, apierr.New(apierr.Range, "requested range is not satisfiable").WithUploadID(u.ID)
		}
		serve = *rng
		ranged = true
	}

	startChunk, endChunk := chunkmath.Range(serve.Start, serve.Length(), u.ChunkSizeBytes)
	readers := make([]io.Reader, 0, endChunk-startChunk+1)
	closers := make([]io.Closer, 0, endChunk-startChunk+1)
	for idx := startChunk; idx <= endChunk; idx++ {
		c, ok := byIndex[idx]
		if !ok || c.Status != upload.ChunkStatusUploaded {
			closeAll(closers)
			return nil, apierr.New(apierr.Internal, "completed upload missing an uploaded chunk").WithUploadID(u.ID)
		}
		offsetInChunk, clippedLength := chunkmath.ClipToChunk(idx, serve.Start, serve.Length(), u.ChunkSizeBytes)
		r, err := a.Blobs.Get(ctx, c.StorageKey, offsetInChunk, clippedLength)
		if err != nil {
			closeAll(closers)
			return nil, fmt.Errorf("download: read chunk %d: %w", idx, err)
		}
		readers = append(readers, r)
		closers = append(closers, r)
	}

	return &Stream{
		FileName:  u.FileName,
		TotalSize: u.SizeBytes,
		Range:     serve,
		Ranged:    ranged,
		Body:      &multiCloser{r: io.MultiReader(readers...), closers: closers},
	}, nil
}

// multiCloser chains the per-chunk readers into one io.ReadCloser so the
// caller can Close once regardless of how many chunks were opened.
type multiCloser struct {
	r       io.Reader
	closers []io.Closer
}

func (m *multiCloser) Read(p []byte) (int, error) { return m.r.Read(p) }

func (m *multiCloser) Close() error {
	var first error
	for _, c := range m.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func closeAll(closers []io.Closer) {
	for _, c := range closers {
		c.Close()
	}
}
