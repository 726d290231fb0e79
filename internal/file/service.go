package file

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "drop24",
		Name:      "uploads_total",
		Help:      "Files stored, by resource kind.",
	}, []string{"kind"})
	uploadFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "drop24",
		Name:      "upload_failures_total",
		Help:      "Rejected or failed uploads, by reason.",
	}, []string{"reason"})
	blobDeleteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "drop24",
		Name:      "blob_delete_failures_total",
		Help:      "Blob removals that failed and left an orphaned object.",
	})
)

// RecordStore persists file records.
type RecordStore interface {
	Create(ctx context.Context, rec Record) (Record, error)
	ListVisible(ctx context.Context, callerID string, page Page) ([]Record, error)
	ListByOwner(ctx context.Context, ownerID string, page Page) ([]Record, error)
	Get(ctx context.Context, id string) (Record, error)
	UpdateVisibility(ctx context.Context, id, ownerID string, visibility Visibility) (Record, error)
	Delete(ctx context.Context, id string) (Record, error)
}

// BlobStore keeps file payloads.
type BlobStore interface {
	Put(ctx context.Context, upload BlobUpload) (StoredBlob, error)
	Remove(ctx context.Context, storageID string) error
	PresignGet(ctx context.Context, storageID, downloadName string, ttl time.Duration) (string, error)
}

// Service manages the file lifecycle.
type Service struct {
	records    RecordStore
	blobs      BlobStore
	stager     *Stager
	policy     ContentPolicy
	clock      Clock
	log        *zap.Logger
	presignTTL time.Duration
}

// Options carries the tunables of a Service.
type Options struct {
	Policy     ContentPolicy
	PresignTTL time.Duration
	Clock      Clock
	Logger     *zap.Logger
}

// NewService constructs a file service.
func NewService(records RecordStore, blobs BlobStore, stager *Stager, opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.PresignTTL <= 0 {
		opts.PresignTTL = 15 * time.Minute
	}
	return &Service{
		records:    records,
		blobs:      blobs,
		stager:     stager,
		policy:     opts.Policy,
		clock:      opts.Clock,
		log:        opts.Logger,
		presignTTL: opts.PresignTTL,
	}
}

// UploadInput carries one upload request.
type UploadInput struct {
	OwnerID    string
	Visibility string
	CustomName string
	File       *multipart.FileHeader
}

// Upload classifies the payload, stores it and persists its record. No record
// is created when the blob store fails, and the blob is removed again when the
// record cannot be written.
func (s *Service) Upload(ctx context.Context, input UploadInput) (Record, error) {
	rec, err := s.upload(ctx, input)
	if err != nil {
		uploadFailures.WithLabelValues(failureReason(err)).Inc()
		return Record{}, err
	}
	uploadsTotal.WithLabelValues(string(rec.ResourceKind)).Inc()
	return rec, nil
}

func (s *Service) upload(ctx context.Context, input UploadInput) (Record, error) {
	if input.File == nil {
		return Record{}, ErrMissingFile
	}
	if input.OwnerID == "" {
		return Record{}, ErrUnauthenticated
	}
	visibility, err := ParseVisibility(input.Visibility)
	if err != nil {
		return Record{}, err
	}
	if err := s.policy.CheckSize(input.File.Size); err != nil {
		return Record{}, err
	}

	name := EffectiveName(input.CustomName, input.File.Filename)
	hint, err := NamingHint(name)
	if err != nil {
		return Record{}, err
	}
	kind := ClassifyResource(name)

	src, err := input.File.Open()
	if err != nil {
		return Record{}, fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	staged, err := s.stager.Stage(src, s.policy.MaxSize)
	if err != nil {
		return Record{}, err
	}
	defer staged.Cleanup()

	if err := s.policy.CheckSize(staged.Size); err != nil {
		return Record{}, err
	}
	contentType, err := s.policy.CheckType(staged.Head)
	if err != nil {
		return Record{}, err
	}

	blob, err := s.blobs.Put(ctx, BlobUpload{
		NamingHint:  hint,
		Kind:        kind,
		Body:        staged,
		Size:        staged.Size,
		ContentType: contentType,
	})
	if err != nil {
		s.log.Error("store blob", zap.String("owner_id", input.OwnerID), zap.String("name", name), zap.Error(err))
		return Record{}, fmt.Errorf("%w: %v", ErrStorageUploadFailed, err)
	}

	rec, err := s.records.Create(ctx, Record{
		OriginalName: name,
		URL:          blob.URL,
		StorageID:    blob.StorageID,
		OwnerID:      input.OwnerID,
		Visibility:   visibility,
		ResourceKind: kind,
		UploadedAt:   s.clock.Now(),
		SizeBytes:    staged.Size,
		ContentType:  contentType,
		Checksum:     staged.Checksum,
	})
	if err != nil {
		if rmErr := s.blobs.Remove(context.WithoutCancel(ctx), blob.StorageID); rmErr != nil {
			blobDeleteFailures.Inc()
			s.log.Error("remove blob after failed insert", zap.String("storage_id", blob.StorageID), zap.Error(rmErr))
		}
		return Record{}, fmt.Errorf("persist record: %w", err)
	}

	s.log.Info("file uploaded",
		zap.String("id", rec.ID),
		zap.String("owner_id", rec.OwnerID),
		zap.String("kind", string(rec.ResourceKind)),
		zap.Int64("size", rec.SizeBytes),
	)
	return rec, nil
}

// List returns every public record plus the caller's own records.
func (s *Service) List(ctx context.Context, callerID string, page Page) ([]Record, error) {
	return s.records.ListVisible(ctx, callerID, page)
}

// ListOwn returns every record owned by the caller.
func (s *Service) ListOwn(ctx context.Context, callerID string, page Page) ([]Record, error) {
	if callerID == "" {
		return nil, ErrUnauthenticated
	}
	return s.records.ListByOwner(ctx, callerID, page)
}

// SetVisibility changes the visibility of a record owned by the caller.
func (s *Service) SetVisibility(ctx context.Context, id, visibility, callerID string) (Record, error) {
	if callerID == "" {
		return Record{}, ErrUnauthenticated
	}
	if _, err := s.owned(ctx, id, callerID); err != nil {
		return Record{}, err
	}

	vis, err := ParseVisibility(visibility)
	if err != nil || strings.TrimSpace(visibility) == "" {
		return Record{}, fmt.Errorf("%w: must be public or private", ErrInvalidVisibility)
	}

	return s.records.UpdateVisibility(ctx, id, callerID, vis)
}

// Delete removes the blob and the record of a file owned by the caller. A
// failed blob removal is logged and does not keep the record alive.
func (s *Service) Delete(ctx context.Context, id, callerID string) error {
	if callerID == "" {
		return ErrUnauthenticated
	}
	rec, err := s.owned(ctx, id, callerID)
	if err != nil {
		return err
	}

	// The record must not outlive its blob, even if the caller disconnects.
	detached := context.WithoutCancel(ctx)
	s.removeBlob(detached, rec)

	if _, err := s.records.Delete(detached, id); err != nil {
		return err
	}
	s.log.Info("file deleted", zap.String("id", id), zap.String("owner_id", callerID))
	return nil
}

// removeBlob deletes the payload of rec, logging and counting failures.
func (s *Service) removeBlob(ctx context.Context, rec Record) {
	if err := s.blobs.Remove(ctx, rec.StorageID); err != nil {
		blobDeleteFailures.Inc()
		s.log.Warn("remove blob",
			zap.String("id", rec.ID),
			zap.String("storage_id", rec.StorageID),
			zap.Error(err),
		)
	}
}

// DownloadLink is a time-limited URL for fetching a file payload.
type DownloadLink struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires"`
}

// DownloadLink presigns a GET URL. Public records are open to anyone; private
// ones only to their owner and report ErrNotFound to everyone else.
func (s *Service) DownloadLink(ctx context.Context, id, callerID string) (DownloadLink, error) {
	rec, err := s.records.Get(ctx, id)
	if err != nil {
		return DownloadLink{}, err
	}
	if rec.Visibility != VisibilityPublic && rec.OwnerID != callerID {
		return DownloadLink{}, ErrNotFound
	}

	expires := s.clock.Now().Add(s.presignTTL)
	u, err := s.blobs.PresignGet(ctx, rec.StorageID, rec.OriginalName, s.presignTTL)
	if err != nil {
		return DownloadLink{}, fmt.Errorf("presign download: %w", err)
	}
	return DownloadLink{URL: u, ExpiresAt: expires}, nil
}

func (s *Service) owned(ctx context.Context, id, callerID string) (Record, error) {
	rec, err := s.records.Get(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if rec.OwnerID != callerID {
		return Record{}, ErrForbidden
	}
	return rec, nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrMissingFile):
		return "missing_file"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrInvalidVisibility):
		return "invalid_visibility"
	case errors.Is(err, ErrUnsupportedFile):
		return "unsupported_file"
	case errors.Is(err, ErrStorageUploadFailed):
		return "storage"
	default:
		return "internal"
	}
}
