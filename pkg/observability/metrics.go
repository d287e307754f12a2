package observability

import (
	"context"
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/platinummonkey/viewcount/pkg/viewstats"
)

// Metrics holds all Prometheus metrics. It implements viewstats.MetricsRecorder.
type Metrics struct {
	// View pipeline metrics
	ViewRequestsTotal       prometheus.Counter
	DegradedWritesTotal     prometheus.Counter
	CacheHitsTotal          prometheus.Counter
	CacheMissesTotal        prometheus.Counter
	SyncTasksTotal          prometheus.Counter
	SyncSuccessTotal        prometheus.Counter
	SyncFailureTotal        prometheus.Counter
	SyncQueueSize           prometheus.Gauge
	ConsistencyRepairsTotal prometheus.Counter
	JobDuration             *prometheus.HistogramVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Database metrics
	DBConnectionsActive       prometheus.Gauge
	DBConnectionsIdle         prometheus.Gauge
	DBConnectionsWaitCount    prometheus.Gauge
	DBConnectionsWaitDuration prometheus.Gauge

	// Redis metrics
	RedisConnectionsActive prometheus.Gauge
	RedisConnectionsIdle   prometheus.Gauge
}

var _ viewstats.MetricsRecorder = (*Metrics)(nil)

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		ViewRequestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "viewcount_view_requests_total",
			Help: "Total number of recorded view requests",
		}),
		DegradedWritesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "viewcount_degraded_writes_total",
			Help: "Total number of views written directly to the durable store",
		}),
		CacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "viewcount_cache_hits_total",
			Help: "Total number of stats reads answered by the fast store",
		}),
		CacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "viewcount_cache_misses_total",
			Help: "Total number of stats reads answered by the durable store",
		}),
		SyncTasksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "viewcount_sync_tasks_total",
			Help: "Total number of sync runs",
		}),
		SyncSuccessTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "viewcount_sync_success_total",
			Help: "Total number of items synced to the durable store",
		}),
		SyncFailureTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "viewcount_sync_failure_total",
			Help: "Total number of items that failed to sync",
		}),
		SyncQueueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "viewcount_sync_queue_size",
			Help: "Current number of entries in the pending-sync queue",
		}),
		ConsistencyRepairsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "viewcount_consistency_repairs_total",
			Help: "Total number of durable totals raised by the consistency validator",
		}),
		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "viewcount_job_duration_seconds",
				Help:    "Background job run duration in seconds",
				Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60},
			},
			[]string{"job"},
		),

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "viewcount_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "viewcount_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		DBConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "viewcount_db_connections_active",
			Help: "Number of active database connections",
		}),
		DBConnectionsIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "viewcount_db_connections_idle",
			Help: "Number of idle database connections",
		}),
		DBConnectionsWaitCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "viewcount_db_connections_wait_count",
			Help: "Total number of connections waited for",
		}),
		DBConnectionsWaitDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "viewcount_db_connections_wait_duration_seconds",
			Help: "Total time spent waiting for connections",
		}),

		RedisConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "viewcount_redis_connections_active",
			Help: "Number of in-use Redis connections",
		}),
		RedisConnectionsIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "viewcount_redis_connections_idle",
			Help: "Number of idle Redis connections",
		}),
	}

	registry.MustRegister(
		m.ViewRequestsTotal,
		m.DegradedWritesTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.SyncTasksTotal,
		m.SyncSuccessTotal,
		m.SyncFailureTotal,
		m.SyncQueueSize,
		m.ConsistencyRepairsTotal,
		m.JobDuration,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.DBConnectionsWaitCount,
		m.DBConnectionsWaitDuration,
		m.RedisConnectionsActive,
		m.RedisConnectionsIdle,
	)

	return m
}

func (m *Metrics) IncViewRequests()       { m.ViewRequestsTotal.Inc() }
func (m *Metrics) IncSyncTasks()          { m.SyncTasksTotal.Inc() }
func (m *Metrics) IncSyncSuccess()        { m.SyncSuccessTotal.Inc() }
func (m *Metrics) IncSyncFailure()        { m.SyncFailureTotal.Inc() }
func (m *Metrics) IncCacheHit()           { m.CacheHitsTotal.Inc() }
func (m *Metrics) IncCacheMiss()          { m.CacheMissesTotal.Inc() }
func (m *Metrics) SetQueueSize(n int64)   { m.SyncQueueSize.Set(float64(n)) }
func (m *Metrics) IncDegradedWrites()     { m.DegradedWritesTotal.Inc() }
func (m *Metrics) IncConsistencyRepairs() { m.ConsistencyRepairsTotal.Inc() }

func (m *Metrics) ObserveJobDuration(job string, d time.Duration) {
	m.JobDuration.WithLabelValues(job).Observe(d.Seconds())
}

// ObserveDBStats copies a connection pool snapshot into the database gauges.
func (m *Metrics) ObserveDBStats(stats sql.DBStats) {
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBConnectionsWaitCount.Set(float64(stats.WaitCount))
	m.DBConnectionsWaitDuration.Set(stats.WaitDuration.Seconds())
}

// ObserveRedisPool copies a Redis pool snapshot into the Redis gauges.
func (m *Metrics) ObserveRedisPool(stats *redis.PoolStats) {
	if stats == nil {
		return
	}
	m.RedisConnectionsActive.Set(float64(stats.TotalConns - stats.IdleConns))
	m.RedisConnectionsIdle.Set(float64(stats.IdleConns))
}

// StartPoolStatsRoutine samples pool statistics every interval until ctx is done. Either
// source may be nil.
func (m *Metrics) StartPoolStatsRoutine(ctx context.Context, interval time.Duration, db func() sql.DBStats, rdb func() *redis.PoolStats) {
	sample := func() {
		if db != nil {
			m.ObserveDBStats(db())
		}
		if rdb != nil {
			m.ObserveRedisPool(rdb())
		}
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		sample()
		for {
			select {
			case <-ticker.C:
				sample()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics. Requests are
// labelled with the matched mux route template to keep label cardinality bounded.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := "unmatched"
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint.
func RegisterMetricsEndpoint(router *http.ServeMux, registry *prometheus.Registry) {
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
