package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/viewcount/pkg/viewstats"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

type fakeFast struct {
	mu       sync.Mutex
	queue    []string
	stats    map[string]*viewstats.Stats
	down     map[string]bool
	drainErr error
}

func newFakeFast() *fakeFast {
	return &fakeFast{stats: make(map[string]*viewstats.Stats), down: make(map[string]bool)}
}

func (f *fakeFast) set(itemID string, total int64, viewers map[string]int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if viewers == nil {
		viewers = map[string]int64{}
	}
	f.stats[itemID] = &viewstats.Stats{TotalViews: total, UniqueViews: int64(len(viewers)), UserViews: viewers}
}

func (f *fakeFast) RecordView(context.Context, string, string) error { return nil }

func (f *fakeFast) GetStats(_ context.Context, itemID string) (*viewstats.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down[itemID] {
		return nil, fmt.Errorf("get %s: %w", itemID, viewstats.ErrStoreUnavailable)
	}
	s, ok := f.stats[itemID]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (f *fakeFast) QueueLength(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.queue)), nil
}

func (f *fakeFast) DrainQueue(_ context.Context, maxCount int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.drainErr != nil {
		return nil, f.drainErr
	}
	n := min(maxCount, len(f.queue))
	out := append([]string(nil), f.queue[:n]...)
	f.queue = f.queue[n:]
	return out, nil
}

func (f *fakeFast) HealthCheck(context.Context) error { return nil }

type fakeDurable struct {
	mu      sync.Mutex
	totals  map[string]int64
	viewers map[string]map[string]int64
	updated map[string]time.Time
	failOn  map[string]bool
	panicOn string
	syncs   int
	sets    int
	listErr error
}

func newFakeDurable() *fakeDurable {
	return &fakeDurable{
		totals:  make(map[string]int64),
		viewers: make(map[string]map[string]int64),
		updated: make(map[string]time.Time),
		failOn:  make(map[string]bool),
	}
}

func (d *fakeDurable) IncrementView(context.Context, string, string) error { return nil }

func (d *fakeDurable) SyncItem(_ context.Context, itemID string, stats *viewstats.Stats) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failOn[itemID] {
		return fmt.Errorf("sync %s: %w", itemID, viewstats.ErrPersistence)
	}
	if itemID == d.panicOn {
		panic("driver bug")
	}
	d.syncs++
	d.totals[itemID] = stats.TotalViews
	if d.viewers[itemID] == nil {
		d.viewers[itemID] = make(map[string]int64)
	}
	for v, c := range stats.UserViews {
		if v == viewstats.AnonymousViewerID {
			continue
		}
		d.viewers[itemID][v] = c
	}
	d.updated[itemID] = time.Now()
	return nil
}

func (d *fakeDurable) GetStats(context.Context, string) (*viewstats.Stats, error) {
	return viewstats.NewStats(), nil
}

func (d *fakeDurable) ListRecentlyUpdated(_ context.Context, since time.Time) ([]viewstats.ItemStats, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listErr != nil {
		return nil, d.listErr
	}
	var out []viewstats.ItemStats
	for id, total := range d.totals {
		if d.updated[id].Before(since) {
			continue
		}
		out = append(out, viewstats.ItemStats{ItemID: id, TotalViews: total, LastUpdated: d.updated[id]})
	}
	return out, nil
}

func (d *fakeDurable) SetTotalViews(_ context.Context, itemID string, total int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failOn[itemID] {
		return fmt.Errorf("set %s: %w", itemID, viewstats.ErrPersistence)
	}
	d.sets++
	d.totals[itemID] = total
	return nil
}

func (d *fakeDurable) HealthCheck(context.Context) error { return nil }
func (d *fakeDurable) Close() error                      { return nil }

type jobMetrics struct {
	viewstats.NopMetrics
	mu        sync.Mutex
	tasks     int
	successes int
	failures  int
	repairs   int
	queueSize int64
	durations map[string]int
}

func (m *jobMetrics) IncSyncTasks()          { m.mu.Lock(); m.tasks++; m.mu.Unlock() }
func (m *jobMetrics) IncSyncSuccess()        { m.mu.Lock(); m.successes++; m.mu.Unlock() }
func (m *jobMetrics) IncSyncFailure()        { m.mu.Lock(); m.failures++; m.mu.Unlock() }
func (m *jobMetrics) IncConsistencyRepairs() { m.mu.Lock(); m.repairs++; m.mu.Unlock() }
func (m *jobMetrics) SetQueueSize(n int64)   { m.mu.Lock(); m.queueSize = n; m.mu.Unlock() }

func (m *jobMetrics) ObserveJobDuration(job string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.durations == nil {
		m.durations = make(map[string]int)
	}
	m.durations[job]++
}
