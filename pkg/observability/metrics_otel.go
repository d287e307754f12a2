package observability

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/platinummonkey/viewcount/pkg/viewstats"
)

// OTelMetrics records the view pipeline hooks as OpenTelemetry instruments on the global
// meter provider.
type OTelMetrics struct {
	viewRequests   metric.Int64Counter
	degradedWrites metric.Int64Counter
	cacheHits      metric.Int64Counter
	cacheMisses    metric.Int64Counter
	syncTasks      metric.Int64Counter
	syncSuccess    metric.Int64Counter
	syncFailure    metric.Int64Counter
	repairs        metric.Int64Counter
	jobDuration    metric.Float64Histogram

	queueSize atomic.Int64
}

var _ viewstats.MetricsRecorder = (*OTelMetrics)(nil)

// NewOTelMetrics creates a new OTel metrics instance.
func NewOTelMetrics() (*OTelMetrics, error) {
	meter := otel.Meter("github.com/platinummonkey/viewcount")
	m := &OTelMetrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.viewRequests, "viewcount.view.requests", "Recorded view requests"},
		{&m.degradedWrites, "viewcount.view.degraded_writes", "Views written directly to the durable store"},
		{&m.cacheHits, "viewcount.stats.cache_hits", "Stats reads answered by the fast store"},
		{&m.cacheMisses, "viewcount.stats.cache_misses", "Stats reads answered by the durable store"},
		{&m.syncTasks, "viewcount.sync.tasks", "Sync runs"},
		{&m.syncSuccess, "viewcount.sync.success", "Items synced to the durable store"},
		{&m.syncFailure, "viewcount.sync.failure", "Items that failed to sync"},
		{&m.repairs, "viewcount.consistency.repairs", "Durable totals raised by the consistency validator"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
		*c.dst = counter
	}

	var err error
	m.jobDuration, err = meter.Float64Histogram(
		"viewcount.job.duration",
		metric.WithDescription("Background job run duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create job duration histogram: %w", err)
	}

	_, err = meter.Int64ObservableGauge(
		"viewcount.sync.queue_size",
		metric.WithDescription("Entries in the pending-sync queue"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(m.queueSize.Load())
			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create queue size gauge: %w", err)
	}

	return m, nil
}

func (m *OTelMetrics) add(c metric.Int64Counter) {
	c.Add(context.Background(), 1)
}

func (m *OTelMetrics) IncViewRequests()       { m.add(m.viewRequests) }
func (m *OTelMetrics) IncSyncTasks()          { m.add(m.syncTasks) }
func (m *OTelMetrics) IncSyncSuccess()        { m.add(m.syncSuccess) }
func (m *OTelMetrics) IncSyncFailure()        { m.add(m.syncFailure) }
func (m *OTelMetrics) IncCacheHit()           { m.add(m.cacheHits) }
func (m *OTelMetrics) IncCacheMiss()          { m.add(m.cacheMisses) }
func (m *OTelMetrics) IncDegradedWrites()     { m.add(m.degradedWrites) }
func (m *OTelMetrics) IncConsistencyRepairs() { m.add(m.repairs) }
func (m *OTelMetrics) SetQueueSize(n int64)   { m.queueSize.Store(n) }

func (m *OTelMetrics) ObserveJobDuration(job string, d time.Duration) {
	m.jobDuration.Record(context.Background(), d.Seconds(), metric.WithAttributes(attribute.String("job", job)))
}

// MultiRecorder fans every hook out to several recorders.
type MultiRecorder []viewstats.MetricsRecorder

func (r MultiRecorder) IncViewRequests() {
	for _, m := range r {
		m.IncViewRequests()
	}
}

func (r MultiRecorder) IncSyncTasks() {
	for _, m := range r {
		m.IncSyncTasks()
	}
}

func (r MultiRecorder) IncSyncSuccess() {
	for _, m := range r {
		m.IncSyncSuccess()
	}
}

func (r MultiRecorder) IncSyncFailure() {
	for _, m := range r {
		m.IncSyncFailure()
	}
}

func (r MultiRecorder) IncCacheHit() {
	for _, m := range r {
		m.IncCacheHit()
	}
}

func (r MultiRecorder) IncCacheMiss() {
	for _, m := range r {
		m.IncCacheMiss()
	}
}

func (r MultiRecorder) SetQueueSize(n int64) {
	for _, m := range r {
		m.SetQueueSize(n)
	}
}

func (r MultiRecorder) IncDegradedWrites() {
	for _, m := range r {
		m.IncDegradedWrites()
	}
}

func (r MultiRecorder) IncConsistencyRepairs() {
	for _, m := range r {
		m.IncConsistencyRepairs()
	}
}

func (r MultiRecorder) ObserveJobDuration(job string, d time.Duration) {
	for _, m := range r {
		m.ObserveJobDuration(job, d)
	}
}
