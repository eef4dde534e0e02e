// Package s3 is an S3-backed blobstore.Store. Retry/backoff structure and
// not-found/throttling classification are grounded on
// pkg/content/store/s3/s3_read.go; range reads use the same
// "bytes=offset-end" GetObject Range header, and multipart support uses
// the S3 CreateMultipartUpload/UploadPart/CompleteMultipartUpload API
// family for chunk assembly, rather than a single-object PUT.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/haulfs/haulfs/internal/logger"
	"github.com/haulfs/haulfs/pkg/blobstore"
)

// Client is the subset of the AWS SDK S3 client the store needs, so tests
// can supply a fake.
type Client interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, opts ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, opts ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// RetryConfig bounds exponential backoff for transient S3 errors.
type RetryConfig struct {
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

func (r RetryConfig) withDefaults() RetryConfig {
	if r.MaxRetries == 0 {
		r.MaxRetries = 3
	}
	if r.InitialBackoff == 0 {
		r.InitialBackoff = 100 * time.Millisecond
	}
	if r.MaxBackoff == 0 {
		r.MaxBackoff = 5 * time.Second
	}
	if r.BackoffMultiplier == 0 {
		r.BackoffMultiplier = 2
	}
	return r
}

// Store is an S3-backed blobstore.Store and blobstore.Multipart.
type Store struct {
	client Client
	bucket string
	prefix string
	retry  RetryConfig

	sessionsOnce sync.Once
	sessionReg   *sessionRegistry
}

// New constructs a Store against bucket, namespacing all keys under
// prefix (may be empty).
func New(client Client, bucket, prefix string, retry RetryConfig) *Store {
	return &Store{client: client, bucket: bucket, prefix: prefix, retry: retry.withDefaults()}
}

func (s *Store) objectKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return strings.TrimSuffix(s.prefix, "/") + "/" + key
}

func (s *Store) calculateBackoff(attempt int) time.Duration {
	backoff := float64(s.retry.InitialBackoff)
	for i := 0; i < attempt; i++ {
		backoff *= s.retry.BackoffMultiplier
	}
	if backoff > float64(s.retry.MaxBackoff) {
		backoff = float64(s.retry.MaxBackoff)
	}
	return time.Duration(backoff)
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "Throttling", "ThrottlingException", "RequestThrottled", "SlowDown", "ProvisionedThroughputExceededException":
			return true
		case "InternalError", "ServiceUnavailable", "ServiceException", "InternalServiceException":
			return true
		case "NoSuchKey", "NotFound", "AccessDenied", "Forbidden", "InvalidRange", "InvalidRequest":
			return false
		}
	}
	msg := err.Error()
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "i/o timeout") ||
		strings.Contains(msg, "503") ||
		strings.Contains(msg, "500")
}

func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound" || code == "404"
	}
	return false
}

func (s *Store) retryLoop(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= s.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := s.calculateBackoff(attempt - 1)
			logger.Debug(op+": retrying", "attempt", attempt, "backoff", backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if isNotFoundError(lastErr) {
			return blobstore.ErrNotFound
		}
		if !isRetryableError(lastErr) {
			break
		}
	}
	return fmt.Errorf("blobstore/s3: %s failed after retries: %w", op, lastErr)
}

func (s *Store) Put(ctx context.Context, key string, r io.Reader, size int64) (blobstore.PutResult, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return blobstore.PutResult{}, err
	}

	var etag string
	err = s.retryLoop(ctx, "Put", func() error {
		out, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.objectKey(key)),
			Body:   bytes.NewReader(buf),
		})
		if err != nil {
			return err
		}
		if out.ETag != nil {
			etag = *out.ETag
		}
		return nil
	})
	if err != nil {
		return blobstore.PutResult{}, err
	}
	return blobstore.PutResult{ETag: etag}, nil
}

func (s *Store) Get(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	var rangeStr *string
	if offset != 0 || length != 0 {
		if length > 0 {
			rangeStr = aws.String(fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))
		} else {
			rangeStr = aws.String(fmt.Sprintf("bytes=%d-", offset))
		}
	}

	var body io.ReadCloser
	err := s.retryLoop(ctx, "Get", func() error {
		out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.objectKey(key)),
			Range:  rangeStr,
		})
		if err != nil {
			return err
		}
		body = out.Body
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.retryLoop(ctx, "Delete", func() error {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.objectKey(key)),
		})
		return err
	})
}

// ListKeys pages through ListObjectsV2 under prefix, stripping the
// store's own key prefix so results match what Put/Get/Delete were called
// with, implementing blobstore.Lister.
func (s *Store) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	var token *string
	for {
		var out *s3.ListObjectsV2Output
		err := s.retryLoop(ctx, "ListObjectsV2", func() error {
			var err error
			out, err = s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
				Bucket:            aws.String(s.bucket),
				Prefix:            aws.String(s.objectKey(prefix)),
				ContinuationToken: token,
			})
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			if s.prefix != "" {
				key = strings.TrimPrefix(key, strings.TrimSuffix(s.prefix, "/")+"/")
			}
			keys = append(keys, key)
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		token = out.NextContinuationToken
	}
	return keys, nil
}

var (
	_ blobstore.Store  = (*Store)(nil)
	_ blobstore.Lister = (*Store)(nil)
)
