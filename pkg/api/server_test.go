package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/platinummonkey/viewcount/pkg/observability"
	"github.com/platinummonkey/viewcount/pkg/storage/postgres"
	"github.com/platinummonkey/viewcount/pkg/storage/sqlite"
	"github.com/platinummonkey/viewcount/pkg/views"
	"github.com/platinummonkey/viewcount/pkg/viewstats"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordCall struct {
	itemID string
	viewer viewstats.Viewer
}

type fakeRecorder struct {
	mu    sync.Mutex
	calls []recordCall
	err   error
}

func (f *fakeRecorder) RecordView(_ context.Context, itemID string, viewer viewstats.Viewer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordCall{itemID: itemID, viewer: viewer})
	return f.err
}

type fakeReader struct {
	stats *viewstats.Stats
	err   error
	rate  float64
}

func (f *fakeReader) GetStats(context.Context, string) (*viewstats.Stats, error) {
	return f.stats, f.err
}

func (f *fakeReader) CacheHitRate() float64 { return f.rate }

type fakeQueue struct {
	size int64
	err  error
}

func (f *fakeQueue) QueueLength(context.Context) (int64, error) { return f.size, f.err }

type queueMetrics struct {
	viewstats.NopMetrics
	queueSize int64
}

func (m *queueMetrics) SetQueueSize(size int64) { m.queueSize = size }

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestServer(rec *fakeRecorder, rd *fakeReader, q *fakeQueue, m viewstats.MetricsRecorder) *Server {
	return NewServer(rec, rd, q, m, quietLogger())
}

func do(t *testing.T, h http.Handler, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRecordView_Authenticated(t *testing.T) {
	rec := &fakeRecorder{}
	s := newTestServer(rec, &fakeReader{}, &fakeQueue{}, nil)

	w := do(t, s, "POST", "/items/article-1/views", map[string]string{ViewerHeader: "42"})

	assert.Equal(t, http.StatusNoContent, w.Code)
	require.Len(t, rec.calls, 1)
	assert.Equal(t, "article-1", rec.calls[0].itemID)
	assert.Equal(t, "42", rec.calls[0].viewer.ResolvedID())
}

func TestRecordView_AnonymousWithoutHeader(t *testing.T) {
	rec := &fakeRecorder{}
	s := newTestServer(rec, &fakeReader{}, &fakeQueue{}, nil)

	w := do(t, s, "POST", "/items/article-1/views", nil)

	assert.Equal(t, http.StatusNoContent, w.Code)
	require.Len(t, rec.calls, 1)
	assert.True(t, rec.calls[0].viewer.IsAnonymous())
}

func TestRecordView_Errors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"durable failure", fmt.Errorf("record: %w", viewstats.ErrPersistence), http.StatusServiceUnavailable},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(&fakeRecorder{err: tt.err}, &fakeReader{}, &fakeQueue{}, nil)

			w := do(t, s, "POST", "/items/article-1/views", nil)

			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, w.Body.String(), "view could not be recorded")
		})
	}
}

func TestRecordView_InvalidItemID(t *testing.T) {
	rec := &fakeRecorder{}
	s := newTestServer(rec, &fakeReader{}, &fakeQueue{}, nil)

	w := do(t, s, "POST", "/items/a,b/views", nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, rec.calls)
}

func TestRecordView_InvalidViewerID(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		viewer string
	}{
		{"oversized on record", "POST", "/items/item-1/views", strings.Repeat("v", 70*1024)},
		{"separator on record", "POST", "/items/item-1/views", "alice,bob"},
		{"oversized on item detail", "GET", "/items/item-1", strings.Repeat("v", 256)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &fakeRecorder{}
			s := newTestServer(rec, &fakeReader{stats: &viewstats.Stats{}}, &fakeQueue{}, nil)

			w := do(t, s, tt.method, tt.path, map[string]string{ViewerHeader: tt.viewer})

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Empty(t, rec.calls)
		})
	}
}

func TestRecordView_WrongMethod(t *testing.T) {
	s := newTestServer(&fakeRecorder{}, &fakeReader{}, &fakeQueue{}, nil)

	w := do(t, s, "GET", "/items/article-1/views", nil)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestGetStats(t *testing.T) {
	stats := &viewstats.Stats{
		TotalViews:  50,
		UniqueViews: 2,
		UserViews:   map[string]int64{"7": 3, viewstats.AnonymousViewerID: 47},
		Source:      viewstats.SourceFast,
	}
	rec := &fakeRecorder{}
	s := newTestServer(rec, &fakeReader{stats: stats}, &fakeQueue{}, nil)

	w := do(t, s, "GET", "/items/article-1/stats", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "fast", w.Header().Get(StatsSourceHeader))
	assert.JSONEq(t, `{"total_views":50,"unique_views":2,"user_views":{"7":3,"anonymous":47}}`, w.Body.String())
	assert.Empty(t, rec.calls, "stats reads must not count views")
}

func TestGetStats_Unavailable(t *testing.T) {
	s := newTestServer(&fakeRecorder{}, &fakeReader{err: viewstats.ErrPersistence}, &fakeQueue{}, nil)

	w := do(t, s, "GET", "/items/article-1/stats", nil)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Empty(t, w.Header().Get(StatsSourceHeader))
}

func TestGetItem_RecordsThenReads(t *testing.T) {
	stats := &viewstats.Stats{TotalViews: 9, UserViews: map[string]int64{}, Source: viewstats.SourceDurable}
	rec := &fakeRecorder{}
	s := newTestServer(rec, &fakeReader{stats: stats}, &fakeQueue{}, nil)

	w := do(t, s, "GET", "/items/article-1", map[string]string{ViewerHeader: "7"})

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, rec.calls, 1)
	assert.Equal(t, "7", rec.calls[0].viewer.ResolvedID())
	assert.Equal(t, "durable", w.Header().Get(StatsSourceHeader))

	var body ItemResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "article-1", body.ItemID)
	assert.Equal(t, int64(9), body.Stats.TotalViews)
}

func TestGetItem_RecordFailureStillServes(t *testing.T) {
	stats := &viewstats.Stats{TotalViews: 3, UserViews: map[string]int64{}, Source: viewstats.SourceDurable}
	s := newTestServer(&fakeRecorder{err: viewstats.ErrPersistence}, &fakeReader{stats: stats}, &fakeQueue{}, nil)

	w := do(t, s, "GET", "/items/article-1", nil)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMonitoring(t *testing.T) {
	m := &queueMetrics{}
	s := newTestServer(&fakeRecorder{}, &fakeReader{rate: 87.5}, &fakeQueue{size: 12}, m)

	w := do(t, s, "GET", "/monitoring", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"cache_hit_rate":87.5,"queue_size":12}`, w.Body.String())
	assert.Equal(t, int64(12), m.queueSize)
}

func TestMonitoring_QueueFailureReportsZero(t *testing.T) {
	m := &queueMetrics{queueSize: 99}
	s := newTestServer(&fakeRecorder{}, &fakeReader{rate: 100}, &fakeQueue{err: viewstats.ErrStoreUnavailable}, m)

	w := do(t, s, "GET", "/monitoring", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"cache_hit_rate":100,"queue_size":0}`, w.Body.String())
	assert.Equal(t, int64(0), m.queueSize)
}

func TestHandler_MiddlewareStack(t *testing.T) {
	s := newTestServer(&fakeRecorder{}, &fakeReader{}, &fakeQueue{}, nil)

	w := do(t, s.Handler(), "POST", "/items/article-1/views", map[string]string{"X-Request-ID": "req-1"})

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "req-1", w.Header().Get("X-Request-ID"))
}

func TestHandler_RouteMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	s := newTestServer(&fakeRecorder{}, &fakeReader{}, &fakeQueue{size: 4}, metrics)
	s.Use(observability.HTTPMetricsMiddleware(metrics))

	do(t, s.Handler(), "GET", "/monitoring", nil)
	do(t, s.Handler(), "POST", "/items/a/views", nil)
	do(t, s.Handler(), "POST", "/items/b/views", nil)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "/monitoring", "200")))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("POST", "/items/{id}/views", "204")))
	assert.Equal(t, float64(4), testutil.ToFloat64(metrics.SyncQueueSize))
}

func TestEndToEnd_RealStores(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	fast := postgres.NewRedisCounterStoreFromClient(client, 24*time.Hour, 200*time.Millisecond, quietLogger())
	defer fast.Close()

	durable, err := sqlite.Open(":memory:", time.Second, quietLogger())
	require.NoError(t, err)
	defer durable.Close()

	recorder := views.NewRecorder(fast, durable, nil, nil, quietLogger())
	reader := views.NewReader(fast, durable, nil, quietLogger())
	h := NewServer(recorder, reader, fast, nil, quietLogger()).Handler()

	for i := 0; i < 3; i++ {
		w := do(t, h, "POST", "/items/article-1/views", map[string]string{ViewerHeader: "alice"})
		require.Equal(t, http.StatusNoContent, w.Code)
	}
	w := do(t, h, "POST", "/items/article-1/views", nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, h, "GET", "/items/article-1/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "fast", w.Header().Get(StatsSourceHeader))

	var stats viewstats.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, int64(4), stats.TotalViews)
	assert.Equal(t, int64(2), stats.UniqueViews)
	assert.Equal(t, int64(3), stats.UserViews["alice"])
	assert.Equal(t, int64(1), stats.UserViews[viewstats.AnonymousViewerID])

	w = do(t, h, "GET", "/monitoring", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var mon MonitoringResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &mon))
	assert.Equal(t, int64(4), mon.QueueSize)
	assert.Equal(t, float64(100), mon.CacheHitRate)

	// Fast store outage: writes degrade to the durable store and reads fall back.
	mr.Close()

	w = do(t, h, "POST", "/items/article-2/views", map[string]string{ViewerHeader: "bob"})
	require.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, h, "GET", "/items/article-2/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "durable", w.Header().Get(StatsSourceHeader))
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats.TotalViews)
}
