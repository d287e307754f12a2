package views

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/viewcount/pkg/storage"
	"github.com/platinummonkey/viewcount/pkg/viewstats"
	"github.com/platinummonkey/viewcount/pkg/wal"
)

var tracer = otel.Tracer("viewcount/views")

// WriteAheadLog is the subset of *wal.Log used by the recorder.
type WriteAheadLog interface {
	Append(ts time.Time, itemID, viewerID string) error
	RecoverPending(ctx context.Context, r wal.Replayer) (int, error)
}

// Recorder records view events.
type Recorder struct {
	fast    storage.FastCounterStore
	durable storage.DurableStore
	wal     WriteAheadLog
	metrics viewstats.MetricsRecorder
	log     *logrus.Logger
	now     func() time.Time
}

// NewRecorder creates a recorder. wal may be nil, in which case views are not logged locally.
func NewRecorder(fast storage.FastCounterStore, durable storage.DurableStore, w WriteAheadLog, metrics viewstats.MetricsRecorder, log *logrus.Logger) *Recorder {
	if metrics == nil {
		metrics = viewstats.NopMetrics{}
	}
	if log == nil {
		log = logrus.New()
	}
	return &Recorder{
		fast:    fast,
		durable: durable,
		wal:     w,
		metrics: metrics,
		log:     log,
		now:     time.Now,
	}
}

// RecordView records one view of itemID by viewer. It returns nil when the fast store
// accepted the view or the degraded durable write committed, and an error wrapping
// viewstats.ErrPersistence when the degraded write failed.
func (r *Recorder) RecordView(ctx context.Context, itemID string, viewer viewstats.Viewer) error {
	viewerID := viewer.ResolvedID()

	ctx, span := tracer.Start(ctx, "RecordView",
		trace.WithAttributes(
			attribute.String("item_id", itemID),
			attribute.Bool("viewer.anonymous", viewer.IsAnonymous()),
		),
	)
	defer span.End()

	r.metrics.IncViewRequests()
	logger := r.log.WithFields(logrus.Fields{"item_id": itemID, "viewer_id": viewerID})

	if r.wal != nil {
		if err := r.wal.Append(r.now(), itemID, viewerID); err != nil {
			logger.WithError(err).Error("Failed to append view to write-ahead log")
		}
	}

	err := r.fast.RecordView(ctx, itemID, viewerID)
	if err == nil {
		span.SetStatus(codes.Ok, "fast")
		return nil
	}

	logger.WithError(err).Warn("Fast counter store unavailable, writing view to durable store")
	span.AddEvent("fast store unavailable")

	if r.wal != nil {
		if n, rerr := r.wal.RecoverPending(ctx, r.fast); rerr != nil {
			logger.WithError(rerr).Error("Write-ahead log recovery failed")
		} else if n > 0 {
			logger.WithField("replayed", n).Info("Replayed write-ahead log entries")
		}
	}

	r.metrics.IncDegradedWrites()
	if err := r.durable.IncrementView(ctx, itemID, viewerID); err != nil {
		logger.WithError(err).Error("Degraded durable write failed, view lost")
		span.RecordError(err)
		span.SetStatus(codes.Error, "degraded write failed")
		return err
	}

	span.SetStatus(codes.Ok, "durable")
	return nil
}
