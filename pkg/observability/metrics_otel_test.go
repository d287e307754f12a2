package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/viewcount/pkg/viewstats"
)

func TestNewOTelMetrics(t *testing.T) {
	m, err := NewOTelMetrics()
	require.NoError(t, err)

	// The global provider is a no-op here; the hooks must still be safe to call.
	m.IncViewRequests()
	m.IncCacheHit()
	m.IncCacheMiss()
	m.IncSyncTasks()
	m.IncSyncSuccess()
	m.IncSyncFailure()
	m.IncDegradedWrites()
	m.IncConsistencyRepairs()
	m.ObserveJobDuration("sync", time.Second)
	m.SetQueueSize(9)
	assert.Equal(t, int64(9), m.queueSize.Load())
}

func TestMultiRecorder(t *testing.T) {
	a := NewMetrics(prometheus.NewRegistry())
	b := NewMetrics(prometheus.NewRegistry())
	var r viewstats.MetricsRecorder = MultiRecorder{a, b, viewstats.NopMetrics{}}

	r.IncViewRequests()
	r.IncCacheMiss()
	r.SetQueueSize(4)
	r.IncConsistencyRepairs()
	r.ObserveJobDuration("consistency", time.Millisecond)

	for _, m := range []*Metrics{a, b} {
		assert.Equal(t, float64(1), testutil.ToFloat64(m.ViewRequestsTotal))
		assert.Equal(t, float64(1), testutil.ToFloat64(m.CacheMissesTotal))
		assert.Equal(t, float64(4), testutil.ToFloat64(m.SyncQueueSize))
		assert.Equal(t, float64(1), testutil.ToFloat64(m.ConsistencyRepairsTotal))
	}
}
