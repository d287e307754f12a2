package jobs

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/viewcount/pkg/observability"
	"github.com/platinummonkey/viewcount/pkg/storage"
	"github.com/platinummonkey/viewcount/pkg/viewstats"
)

var tracer = otel.Tracer("viewcount/jobs")

const (
	DefaultSyncBatchSize   = 100
	DefaultSyncConcurrency = 4
)

// SyncConfig controls a sync run.
type SyncConfig struct {
	BatchSize   int
	Concurrency int
}

// SyncResult summarizes one sync run.
type SyncResult struct {
	RunID    string
	Drained  int
	Distinct int
	Synced   int
	Skipped  int
	Failed   int
}

// SyncWorker copies fast counters of queued items into the durable store.
type SyncWorker struct {
	fast    storage.FastCounterStore
	durable storage.DurableStore
	config  SyncConfig
	metrics viewstats.MetricsRecorder
	log     *logrus.Logger
}

// NewSyncWorker creates a sync worker. Zero config values take the defaults.
func NewSyncWorker(fast storage.FastCounterStore, durable storage.DurableStore, config SyncConfig, metrics viewstats.MetricsRecorder, log *logrus.Logger) *SyncWorker {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultSyncBatchSize
	}
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultSyncConcurrency
	}
	if metrics == nil {
		metrics = viewstats.NopMetrics{}
	}
	if log == nil {
		log = logrus.New()
	}
	return &SyncWorker{
		fast:    fast,
		durable: durable,
		config:  config,
		metrics: metrics,
		log:     log,
	}
}

// Run drains up to BatchSize queue entries and syncs each distinct item once. Per-item
// failures are counted in the result; an error is returned only when the drain failed.
func (w *SyncWorker) Run(ctx context.Context) (SyncResult, error) {
	result := SyncResult{RunID: uuid.New().String()}
	logger := w.log.WithField("run_id", result.RunID)

	ctx, span := tracer.Start(ctx, "SyncWorker.Run",
		trace.WithAttributes(attribute.String("run_id", result.RunID)),
	)
	defer span.End()

	start := time.Now()
	defer func() { w.metrics.ObserveJobDuration("sync", time.Since(start)) }()
	w.metrics.IncSyncTasks()

	if n, err := w.fast.QueueLength(ctx); err == nil {
		w.metrics.SetQueueSize(n)
	}

	ids, drainErr := w.fast.DrainQueue(ctx, w.config.BatchSize)
	result.Drained = len(ids)
	if drainErr != nil {
		logger.WithError(drainErr).WithField("drained", len(ids)).Error("Failed to drain sync queue")
	}

	distinct := distinctIDs(ids)
	result.Distinct = len(distinct)

	var synced, skipped, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(w.config.Concurrency)

	for _, itemID := range distinct {
		g.Go(func() error {
			itemLog := logger.WithField("item_id", itemID)
			defer observability.RecoverPanic(itemLog, "sync item", func(interface{}) {
				failed.Add(1)
				w.metrics.IncSyncFailure()
			})

			switch w.syncItem(ctx, itemLog, itemID) {
			case outcomeSynced:
				synced.Add(1)
				w.metrics.IncSyncSuccess()
			case outcomeSkipped:
				skipped.Add(1)
			case outcomeFailed:
				failed.Add(1)
				w.metrics.IncSyncFailure()
			}
			return nil
		})
	}
	_ = g.Wait()

	result.Synced = int(synced.Load())
	result.Skipped = int(skipped.Load())
	result.Failed = int(failed.Load())

	span.SetAttributes(
		attribute.Int("drained", result.Drained),
		attribute.Int("synced", result.Synced),
		attribute.Int("failed", result.Failed),
	)

	if drainErr != nil {
		span.RecordError(drainErr)
		span.SetStatus(codes.Error, "drain failed")
		return result, fmt.Errorf("drain sync queue: %w", drainErr)
	}

	if result.Drained > 0 {
		logger.WithFields(logrus.Fields{
			"drained": result.Drained,
			"items":   result.Distinct,
			"synced":  result.Synced,
			"skipped": result.Skipped,
			"failed":  result.Failed,
		}).Info("Sync run completed")
	}
	return result, nil
}

type outcome int

const (
	outcomeSynced outcome = iota
	outcomeSkipped
	outcomeFailed
)

func (w *SyncWorker) syncItem(ctx context.Context, logger *logrus.Entry, itemID string) outcome {
	stats, err := w.fast.GetStats(ctx, itemID)
	if err != nil {
		logger.WithError(err).Error("Skipping sync, fast counters unavailable")
		return outcomeFailed
	}
	if stats == nil {
		logger.Debug("Skipping sync, no fast counters")
		return outcomeSkipped
	}

	if err := w.durable.SyncItem(ctx, itemID, stats); err != nil {
		logger.WithError(err).Error("Failed to sync item")
		return outcomeFailed
	}
	return outcomeSynced
}

func distinctIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
