package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/haulfs/haulfs/pkg/blobstore"
)

// session tracks the S3 upload ID and object key behind an opaque handle
// string, since blobstore.Multipart hands back a single string handle but
// S3 needs both the key and the upload ID for every subsequent call.
type session struct {
	key      string
	uploadID string
}

type sessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]session
	next     int
}

func (s *Store) sessionsOrInit() *sessionRegistry {
	s.sessionsOnce.Do(func() {
		s.sessionReg = &sessionRegistry{sessions: make(map[string]session)}
	})
	return s.sessionReg
}

func (s *Store) Begin(ctx context.Context, logicalID string) (string, error) {
	key := s.objectKey(logicalID)

	var uploadID string
	err := s.retryLoop(ctx, "CreateMultipartUpload", func() error {
		out, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return err
		}
		uploadID = aws.ToString(out.UploadId)
		return nil
	})
	if err != nil {
		return "", err
	}

	reg := s.sessionsOrInit()
	reg.mu.Lock()
	reg.next++
	handle := "mp-" + strconv.Itoa(reg.next)
	reg.sessions[handle] = session{key: key, uploadID: uploadID}
	reg.mu.Unlock()

	return handle, nil
}

func (s *Store) lookup(handle string) (session, error) {
	reg := s.sessionsOrInit()
	reg.mu.Lock()
	defer reg.mu.Unlock()
	sess, ok := reg.sessions[handle]
	if !ok {
		return session{}, fmt.Errorf("blobstore/s3: unknown multipart handle %q", handle)
	}
	return sess, nil
}

func (s *Store) PutPart(ctx context.Context, handle string, index int32, r io.Reader, _ int64) (string, error) {
	sess, err := s.lookup(handle)
	if err != nil {
		return "", err
	}

	buf, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}

	var etag string
	err = s.retryLoop(ctx, "UploadPart", func() error {
		out, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:     aws.String(s.bucket),
			Key:        aws.String(sess.key),
			UploadId:   aws.String(sess.uploadID),
			PartNumber: aws.Int32(index + 1), // S3 part numbers are 1-based
			Body:       bytes.NewReader(buf),
		})
		if err != nil {
			return err
		}
		etag = aws.ToString(out.ETag)
		return nil
	})
	return etag, err
}

func (s *Store) Commit(ctx context.Context, handle string, parts []blobstore.Part) (string, error) {
	sess, err := s.lookup(handle)
	if err != nil {
		return "", err
	}

	completed := make([]types.CompletedPart, len(parts))
	for i, p := range parts {
		completed[i] = types.CompletedPart{
			ETag:       aws.String(p.ETag),
			PartNumber: aws.Int32(p.Index + 1),
		}
	}

	var finalETag string
	err = s.retryLoop(ctx, "CompleteMultipartUpload", func() error {
		out, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
			Bucket:   aws.String(s.bucket),
			Key:      aws.String(sess.key),
			UploadId: aws.String(sess.uploadID),
			MultipartUpload: &types.CompletedMultipartUpload{
				Parts: completed,
			},
		})
		if err != nil {
			return err
		}
		finalETag = aws.ToString(out.ETag)
		return nil
	})
	if err != nil {
		return "", err
	}

	reg := s.sessionsOrInit()
	reg.mu.Lock()
	delete(reg.sessions, handle)
	reg.mu.Unlock()

	return finalETag, nil
}

func (s *Store) Abort(ctx context.Context, handle string) error {
	sess, err := s.lookup(handle)
	if err != nil {
		return nil // already gone
	}

	err = s.retryLoop(ctx, "AbortMultipartUpload", func() error {
		_, err := s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(s.bucket),
			Key:      aws.String(sess.key),
			UploadId: aws.String(sess.uploadID),
		})
		return err
	})

	reg := s.sessionsOrInit()
	reg.mu.Lock()
	delete(reg.sessions, handle)
	reg.mu.Unlock()

	return err
}

var _ blobstore.Multipart = (*Store)(nil)
