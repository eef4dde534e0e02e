// Package fs is a filesystem-backed blobstore.Store. It is grounded on
// pkg/payload/store/fs/store.go: objects are files named by key under a
// base directory, writes go to a temp file and are renamed into place for
// atomicity, and reads are served by seeking into the file directly
// instead of buffering the whole object.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/haulfs/haulfs/pkg/blobstore"
)

// Store is a filesystem-backed blobstore.Store.
type Store struct {
	basePath string
	dirMode  os.FileMode
	fileMode os.FileMode
}

// Config configures the filesystem store.
type Config struct {
	BasePath  string
	CreateDir bool
	DirMode   os.FileMode
	FileMode  os.FileMode
}

// DefaultConfig returns sensible defaults for basePath.
func DefaultConfig(basePath string) Config {
	return Config{BasePath: basePath, CreateDir: true, DirMode: 0o755, FileMode: 0o644}
}

// New creates the base directory (if requested) and returns a Store rooted
// there.
func New(cfg Config) (*Store, error) {
	if cfg.BasePath == "" {
		return nil, errors.New("blobstore/fs: base path is required")
	}
	if cfg.DirMode == 0 {
		cfg.DirMode = 0o755
	}
	if cfg.FileMode == 0 {
		cfg.FileMode = 0o644
	}
	if cfg.CreateDir {
		if err := os.MkdirAll(cfg.BasePath, cfg.DirMode); err != nil {
			return nil, err
		}
	}
	info, err := os.Stat(cfg.BasePath)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("blobstore/fs: %s is not a directory", cfg.BasePath)
	}
	return &Store{basePath: cfg.BasePath, dirMode: cfg.DirMode, fileMode: cfg.FileMode}, nil
}

func (s *Store) objectPath(key string) string {
	return filepath.Join(s.basePath, filepath.FromSlash(key))
}

func (s *Store) Put(_ context.Context, key string, r io.Reader, _ int64) (blobstore.PutResult, error) {
	path := s.objectPath(key)
	if err := os.MkdirAll(filepath.Dir(path), s.dirMode); err != nil {
		return blobstore.PutResult{}, err
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, s.fileMode)
	if err != nil {
		return blobstore.PutResult{}, err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmp)
		return blobstore.PutResult{}, err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return blobstore.PutResult{}, err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return blobstore.PutResult{}, err
	}
	return blobstore.PutResult{}, nil
}

func (s *Store) Get(_ context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	path := s.objectPath(key)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, blobstore.ErrNotFound
		}
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if offset < 0 || offset > info.Size() {
		f.Close()
		return nil, fmt.Errorf("blobstore/fs: offset %d out of range for %d-byte object %q", offset, info.Size(), key)
	}

	readLen := length
	if readLen <= 0 || offset+readLen > info.Size() {
		readLen = info.Size() - offset
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}
	return &limitedFile{f: f, remaining: readLen}, nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	path := s.objectPath(key)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ListKeys walks basePath under prefix and returns slash-separated keys
// relative to it, implementing blobstore.Lister.
func (s *Store) ListKeys(_ context.Context, prefix string) ([]string, error) {
	root := s.objectPath(prefix)
	var keys []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == root {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		if filepath.Ext(path) == ".tmp" {
			return nil
		}
		rel, err := filepath.Rel(s.basePath, path)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

var _ blobstore.Lister = (*Store)(nil)

// limitedFile bounds reads to the requested range and closes the
// underlying *os.File when done.
type limitedFile struct {
	f         *os.File
	remaining int64
}

func (l *limitedFile) Read(p []byte) (int, error) {
	if l.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > l.remaining {
		p = p[:l.remaining]
	}
	n, err := l.f.Read(p)
	l.remaining -= int64(n)
	return n, err
}

func (l *limitedFile) Close() error {
	return l.f.Close()
}
