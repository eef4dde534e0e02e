package fs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/haulfs/haulfs/pkg/blobstore"
)

// Begin creates a staging directory for the parts of logicalID and returns
// its relative path as the handle.
func (s *Store) Begin(_ context.Context, logicalID string) (string, error) {
	handle := ".parts/" + logicalID
	dir := s.objectPath(handle)
	if err := os.MkdirAll(dir, s.dirMode); err != nil {
		return "", err
	}
	return handle, nil
}

// PutPart writes one part as its own file under the staging directory.
func (s *Store) PutPart(_ context.Context, handle string, index int32, r io.Reader, _ int64) (string, error) {
	dir := s.objectPath(handle)
	path := filepath.Join(dir, strconv.Itoa(int(index)))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, s.fileMode)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return strconv.Itoa(int(index)), nil
}

// Commit concatenates the staged parts in order into the final object and
// removes the staging directory.
func (s *Store) Commit(_ context.Context, handle string, parts []blobstore.Part) (string, error) {
	dir := s.objectPath(handle)
	logicalID := strings.TrimPrefix(handle, ".parts/")
	finalPath := s.objectPath(logicalID)

	if err := os.MkdirAll(filepath.Dir(finalPath), s.dirMode); err != nil {
		return "", err
	}

	ordered := append([]blobstore.Part(nil), parts...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	tmp := finalPath + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, s.fileMode)
	if err != nil {
		return "", err
	}
	for _, p := range ordered {
		partPath := filepath.Join(dir, strconv.Itoa(int(p.Index)))
		in, err := os.Open(partPath)
		if err != nil {
			out.Close()
			os.Remove(tmp)
			return "", fmt.Errorf("blobstore/fs: missing part %d for %q: %w", p.Index, handle, err)
		}
		_, copyErr := io.Copy(out, in)
		in.Close()
		if copyErr != nil {
			out.Close()
			os.Remove(tmp)
			return "", copyErr
		}
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, finalPath); err != nil {
		os.Remove(tmp)
		return "", err
	}

	os.RemoveAll(dir)
	return "", nil
}

// Abort discards the staging directory without producing a final object.
func (s *Store) Abort(_ context.Context, handle string) error {
	return os.RemoveAll(s.objectPath(handle))
}

var (
	_ blobstore.Store     = (*Store)(nil)
	_ blobstore.Multipart = (*Store)(nil)
)
