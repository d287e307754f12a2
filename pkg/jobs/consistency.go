package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/viewcount/pkg/storage"
	"github.com/platinummonkey/viewcount/pkg/viewstats"
)

// DefaultConsistencyWindow is how far back the validator looks for updated rows.
const DefaultConsistencyWindow = time.Hour

// ValidationResult summarizes one consistency run.
type ValidationResult struct {
	RunID      string
	Checked    int
	Skipped    int
	Mismatched int
	Repaired   int
	Failed     int
}

// ConsistencyValidator raises durable totals that are behind the fast store. It never
// lowers a durable total.
type ConsistencyValidator struct {
	fast    storage.FastCounterStore
	durable storage.DurableStore
	window  time.Duration
	metrics viewstats.MetricsRecorder
	log     *logrus.Logger
	now     func() time.Time
}

// NewConsistencyValidator creates a validator covering the trailing window.
func NewConsistencyValidator(fast storage.FastCounterStore, durable storage.DurableStore, window time.Duration, metrics viewstats.MetricsRecorder, log *logrus.Logger) *ConsistencyValidator {
	if window <= 0 {
		window = DefaultConsistencyWindow
	}
	if metrics == nil {
		metrics = viewstats.NopMetrics{}
	}
	if log == nil {
		log = logrus.New()
	}
	return &ConsistencyValidator{
		fast:    fast,
		durable: durable,
		window:  window,
		metrics: metrics,
		log:     log,
		now:     time.Now,
	}
}

// Run checks every durable row updated within the window.
func (v *ConsistencyValidator) Run(ctx context.Context) (ValidationResult, error) {
	result := ValidationResult{RunID: uuid.New().String()}
	logger := v.log.WithField("run_id", result.RunID)

	ctx, span := tracer.Start(ctx, "ConsistencyValidator.Run",
		trace.WithAttributes(attribute.String("run_id", result.RunID)),
	)
	defer span.End()

	start := time.Now()
	defer func() { v.metrics.ObserveJobDuration("consistency", time.Since(start)) }()

	rows, err := v.durable.ListRecentlyUpdated(ctx, v.now().Add(-v.window))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list failed")
		return result, fmt.Errorf("list recently updated items: %w", err)
	}

	for _, row := range rows {
		result.Checked++
		itemLog := logger.WithField("item_id", row.ItemID)

		fast, err := v.fast.GetStats(ctx, row.ItemID)
		if err != nil {
			itemLog.WithError(err).Error("Skipping consistency check, fast counters unavailable")
			result.Skipped++
			continue
		}
		if fast == nil {
			itemLog.Debug("Skipping consistency check, no fast counters")
			result.Skipped++
			continue
		}

		if fast.TotalViews == row.TotalViews {
			continue
		}

		result.Mismatched++
		itemLog.WithFields(logrus.Fields{
			"fast_total":    fast.TotalViews,
			"durable_total": row.TotalViews,
		}).Warn("View count mismatch")

		corrected := max(fast.TotalViews, row.TotalViews)
		if corrected == row.TotalViews {
			continue
		}

		if err := v.durable.SetTotalViews(ctx, row.ItemID, corrected); err != nil {
			itemLog.WithError(err).Error("Failed to repair view count")
			result.Failed++
			continue
		}

		result.Repaired++
		v.metrics.IncConsistencyRepairs()
		itemLog.WithFields(logrus.Fields{
			"previous":  row.TotalViews,
			"corrected": corrected,
		}).Info("Repaired view count")
	}

	span.SetAttributes(
		attribute.Int("checked", result.Checked),
		attribute.Int("repaired", result.Repaired),
	)
	logger.WithFields(logrus.Fields{
		"checked":    result.Checked,
		"skipped":    result.Skipped,
		"mismatched": result.Mismatched,
		"repaired":   result.Repaired,
		"failed":     result.Failed,
	}).Info("Consistency run completed")

	return result, nil
}
