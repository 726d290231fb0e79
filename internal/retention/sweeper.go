package retention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abduss/drop24/internal/file"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	sweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "drop24",
		Name:      "retention_runs_total",
		Help:      "Retention sweep passes, by result.",
	}, []string{"result"})
	sweepDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "drop24",
		Name:      "retention_deleted_total",
		Help:      "Expired records removed by the retention sweep.",
	})
	sweepFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "drop24",
		Name:      "retention_failures_total",
		Help:      "Per-record retention failures, by stage.",
	}, []string{"stage"})
)

// RecordStore is the part of the file catalog the sweep needs.
type RecordStore interface {
	ListExpired(ctx context.Context, cutoff time.Time) ([]file.Record, error)
	Delete(ctx context.Context, id string) (file.Record, error)
}

// BlobRemover deletes stored payloads.
type BlobRemover interface {
	Remove(ctx context.Context, storageID string) error
}

// Report summarizes one sweep pass.
type Report struct {
	Cutoff         time.Time
	Scanned        int
	Deleted        int
	BlobFailures   int
	RecordFailures int
}

// Sweeper deletes files older than the retention window.
type Sweeper struct {
	records RecordStore
	blobs   BlobRemover
	window  time.Duration
	clock   file.Clock
	log     *zap.Logger
}

// NewSweeper builds a Sweeper. A nil clock uses the wall clock.
func NewSweeper(records RecordStore, blobs BlobRemover, window time.Duration, clock file.Clock, log *zap.Logger) *Sweeper {
	if clock == nil {
		clock = file.SystemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{
		records: records,
		blobs:   blobs,
		window:  window,
		clock:   clock,
		log:     log.Named("retention"),
	}
}

// RunOnce removes every record uploaded before now minus the window. Blob
// failures are logged and do not keep the record; a failure on one record
// never stops the others. A record that is already gone counts as deleted.
func (s *Sweeper) RunOnce(ctx context.Context) (Report, error) {
	report := Report{Cutoff: s.clock.Now().Add(-s.window)}

	expired, err := s.records.ListExpired(ctx, report.Cutoff)
	if err != nil {
		sweepRuns.WithLabelValues("error").Inc()
		return report, fmt.Errorf("list expired files: %w", err)
	}

	seen := make(map[string]struct{}, len(expired))
	for _, rec := range expired {
		if _, dup := seen[rec.ID]; dup {
			continue
		}
		seen[rec.ID] = struct{}{}

		if err := ctx.Err(); err != nil {
			sweepRuns.WithLabelValues("interrupted").Inc()
			s.logReport(report)
			return report, err
		}
		report.Scanned++
		s.sweepRecord(ctx, rec, &report)
	}

	sweepRuns.WithLabelValues("ok").Inc()
	s.logReport(report)
	return report, nil
}

func (s *Sweeper) sweepRecord(ctx context.Context, rec file.Record, report *Report) {
	if err := s.blobs.Remove(ctx, rec.StorageID); err != nil {
		report.BlobFailures++
		sweepFailures.WithLabelValues("blob").Inc()
		s.log.Warn("remove expired blob",
			zap.String("id", rec.ID),
			zap.String("storage_id", rec.StorageID),
			zap.Error(err),
		)
	}

	if _, err := s.records.Delete(ctx, rec.ID); err != nil && !errors.Is(err, file.ErrNotFound) {
		report.RecordFailures++
		sweepFailures.WithLabelValues("record").Inc()
		s.log.Error("delete expired record", zap.String("id", rec.ID), zap.Error(err))
		return
	}

	report.Deleted++
	sweepDeleted.Inc()
}

func (s *Sweeper) logReport(r Report) {
	s.log.Info("retention sweep finished",
		zap.Time("cutoff", r.Cutoff),
		zap.Int("scanned", r.Scanned),
		zap.Int("deleted", r.Deleted),
		zap.Int("blob_failures", r.BlobFailures),
		zap.Int("record_failures", r.RecordFailures),
	)
}
