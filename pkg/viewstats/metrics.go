package viewstats

import "time"

// MetricsRecorder receives the counter and gauge hooks the core calls. Implementations
// must be safe for concurrent use.
type MetricsRecorder interface {
	IncViewRequests()
	IncSyncTasks()
	IncSyncSuccess()
	IncSyncFailure()
	IncCacheHit()
	IncCacheMiss()
	SetQueueSize(size int64)

	// IncDegradedWrites counts views written straight to the durable store.
	IncDegradedWrites()
	// IncConsistencyRepairs counts durable totals raised by the consistency validator.
	IncConsistencyRepairs()
	ObserveJobDuration(job string, d time.Duration)
}

// NopMetrics discards every hook call.
type NopMetrics struct{}

func (NopMetrics) IncViewRequests()                         {}
func (NopMetrics) IncSyncTasks()                            {}
func (NopMetrics) IncSyncSuccess()                          {}
func (NopMetrics) IncSyncFailure()                          {}
func (NopMetrics) IncCacheHit()                             {}
func (NopMetrics) IncCacheMiss()                            {}
func (NopMetrics) SetQueueSize(int64)                       {}
func (NopMetrics) IncDegradedWrites()                       {}
func (NopMetrics) IncConsistencyRepairs()                   {}
func (NopMetrics) ObserveJobDuration(string, time.Duration) {}
