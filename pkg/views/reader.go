package views

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/viewcount/pkg/storage"
	"github.com/platinummonkey/viewcount/pkg/viewstats"
)

// Reader serves item statistics and tracks the fast-store hit rate.
type Reader struct {
	fast    storage.FastCounterStore
	durable storage.DurableStore
	metrics viewstats.MetricsRecorder
	log     *logrus.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// NewReader creates a reader.
func NewReader(fast storage.FastCounterStore, durable storage.DurableStore, metrics viewstats.MetricsRecorder, log *logrus.Logger) *Reader {
	if metrics == nil {
		metrics = viewstats.NopMetrics{}
	}
	if log == nil {
		log = logrus.New()
	}
	return &Reader{
		fast:    fast,
		durable: durable,
		metrics: metrics,
		log:     log,
	}
}

// GetStats returns the stats for itemID from the fast store when it has them, otherwise
// from the durable store. The returned Source says which tier answered.
func (r *Reader) GetStats(ctx context.Context, itemID string) (*viewstats.Stats, error) {
	ctx, span := tracer.Start(ctx, "GetStats",
		trace.WithAttributes(attribute.String("item_id", itemID)),
	)
	defer span.End()

	stats, err := r.fast.GetStats(ctx, itemID)
	// A reachable fast store with no counters for the item (nil, nil) is a miss,
	// same as an unreachable one: both fall through to the durable store.
	if err == nil && stats != nil {
		stats.Source = viewstats.SourceFast
		r.hits.Add(1)
		r.metrics.IncCacheHit()
		span.SetAttributes(attribute.String("source", string(viewstats.SourceFast)))
		return stats, nil
	}

	if err != nil {
		r.log.WithError(err).WithField("item_id", itemID).Warn("Fast counter store unavailable, reading durable stats")
	}
	r.misses.Add(1)
	r.metrics.IncCacheMiss()
	span.SetAttributes(attribute.String("source", string(viewstats.SourceDurable)))

	stats, err = r.durable.GetStats(ctx, itemID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "durable read failed")
		return nil, fmt.Errorf("get stats for %s: %w", itemID, err)
	}
	stats.Source = viewstats.SourceDurable
	return stats, nil
}

// Hits returns the number of reads answered by the fast store.
func (r *Reader) Hits() int64 { return r.hits.Load() }

// Misses returns the number of reads answered by the durable store.
func (r *Reader) Misses() int64 { return r.misses.Load() }

// CacheHitRate returns the percentage of reads answered by the fast store.
func (r *Reader) CacheHitRate() float64 {
	return HitRate(r.hits.Load(), r.misses.Load())
}

// HitRate returns hits/(hits+misses)*100, or 100 when there are no samples.
func HitRate(hits, misses int64) float64 {
	total := hits + misses
	if total == 0 {
		return 100
	}
	return float64(hits) / float64(total) * 100
}
