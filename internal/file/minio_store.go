package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/abduss/drop24/internal/config"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
)

// objectClient is the subset of *minio.Client used by the blob store.
type objectClient interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expiry time.Duration, reqParams url.Values) (*url.URL, error)
}

// BlobUpload describes one payload to store.
type BlobUpload struct {
	NamingHint  string
	Kind        ResourceKind
	Body        io.Reader
	Size        int64
	ContentType string
}

// StoredBlob is the blob store's receipt for a stored payload.
type StoredBlob struct {
	URL       string
	StorageID string
}

// MinIOBlobStore keeps payloads in a MinIO bucket.
type MinIOBlobStore struct {
	client     objectClient
	bucket     string
	folder     string
	baseURL    string
	timeout    time.Duration
	retries    int
	newBackOff func() backoff.BackOff
}

// NewMinIOBlobStore builds a blob store over client using cfg's bucket layout.
func NewMinIOBlobStore(client objectClient, cfg config.MinIOConfig) *MinIOBlobStore {
	base := cfg.PublicURL
	if base == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		base = fmt.Sprintf("%s://%s/%s", scheme, cfg.Endpoint, cfg.Bucket)
	}

	return &MinIOBlobStore{
		client:  client,
		bucket:  cfg.Bucket,
		folder:  strings.Trim(cfg.Folder, "/"),
		baseURL: strings.TrimSuffix(base, "/"),
		timeout: cfg.Timeout,
		retries: cfg.DeleteRetries,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			return b
		},
	}
}

// Put stores the payload under <folder>/<kind>/<uuid>/<hint>. A timed-out
// write is retried when the body can be rewound.
func (s *MinIOBlobStore) Put(ctx context.Context, upload BlobUpload) (StoredBlob, error) {
	key, err := s.objectKey(upload.Kind, upload.NamingHint)
	if err != nil {
		return StoredBlob{}, err
	}

	contentType := upload.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	seeker, rewindable := upload.Body.(io.Seeker)

	attempt := 0
	err = s.retry(ctx, func(attemptCtx context.Context) error {
		if attempt > 0 {
			if !rewindable {
				return backoff.Permanent(context.DeadlineExceeded)
			}
			if _, err := seeker.Seek(0, io.SeekStart); err != nil {
				return backoff.Permanent(err)
			}
		}
		attempt++
		_, err := s.client.PutObject(attemptCtx, s.bucket, key, upload.Body, upload.Size, minio.PutObjectOptions{
			ContentType: contentType,
		})
		return err
	})
	if err != nil {
		return StoredBlob{}, fmt.Errorf("put object %s: %w", key, err)
	}

	return StoredBlob{URL: s.objectURL(key), StorageID: key}, nil
}

// Remove deletes the object. Attempts that time out are retried up to the
// configured number of times; other failures are returned immediately.
func (s *MinIOBlobStore) Remove(ctx context.Context, storageID string) error {
	err := s.retry(ctx, func(attemptCtx context.Context) error {
		return s.client.RemoveObject(attemptCtx, s.bucket, storageID, minio.RemoveObjectOptions{})
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrStorageDeleteFailed, storageID, err)
	}
	return nil
}

// retry runs call under the per-attempt timeout, repeating only attempts
// that hit that timeout while ctx itself is still live.
func (s *MinIOBlobStore) retry(ctx context.Context, call func(context.Context) error) error {
	op := func() error {
		attemptCtx, cancel := s.withTimeout(ctx)
		defer cancel()

		err := call(attemptCtx)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), uint64(s.retries)), ctx)
	return backoff.Retry(op, policy)
}

// PresignGet returns a time-limited GET URL for the object.
func (s *MinIOBlobStore) PresignGet(ctx context.Context, storageID, downloadName string, ttl time.Duration) (string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	params := make(url.Values)
	if downloadName != "" {
		params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", downloadName))
	}

	u, err := s.client.PresignedGetObject(ctx, s.bucket, storageID, ttl, params)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", storageID, err)
	}
	return u.String(), nil
}

// objectKey keeps every object inside <folder>/<kind>/<uuid>/; a hint that
// could leave that prefix is refused.
func (s *MinIOBlobStore) objectKey(kind ResourceKind, hint string) (string, error) {
	if hint == "" {
		hint = "upload"
	}
	if !validHint(hint) {
		return "", fmt.Errorf("%w: invalid object name %q", ErrUnsupportedFile, hint)
	}
	parts := []string{string(kind), uuid.NewString(), hint}
	if s.folder != "" {
		parts = append([]string{s.folder}, parts...)
	}
	return strings.Join(parts, "/"), nil
}

func (s *MinIOBlobStore) objectURL(key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return s.baseURL + "/" + strings.Join(segments, "/")
}

func (s *MinIOBlobStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}
