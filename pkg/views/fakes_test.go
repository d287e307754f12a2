package views

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/platinummonkey/viewcount/pkg/viewstats"
	"github.com/platinummonkey/viewcount/pkg/wal"
)

type fakeFast struct {
	mu        sync.Mutex
	down      bool
	stats     map[string]*viewstats.Stats
	recorded  []string
	getErrors int
}

func newFakeFast() *fakeFast {
	return &fakeFast{stats: make(map[string]*viewstats.Stats)}
}

func (f *fakeFast) RecordView(_ context.Context, itemID, viewerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return fmt.Errorf("record: %w", viewstats.ErrStoreUnavailable)
	}
	f.recorded = append(f.recorded, itemID+"/"+viewerID)
	return nil
}

func (f *fakeFast) GetStats(_ context.Context, itemID string) (*viewstats.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		f.getErrors++
		return nil, fmt.Errorf("get: %w", viewstats.ErrStoreUnavailable)
	}
	s, ok := f.stats[itemID]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (f *fakeFast) QueueLength(context.Context) (int64, error)        { return 0, nil }
func (f *fakeFast) DrainQueue(context.Context, int) ([]string, error) { return nil, nil }
func (f *fakeFast) HealthCheck(context.Context) error                 { return nil }

type fakeDurable struct {
	mu         sync.Mutex
	increments []string
	stats      map[string]*viewstats.Stats
	fail       error
}

func newFakeDurable() *fakeDurable {
	return &fakeDurable{stats: make(map[string]*viewstats.Stats)}
}

func (d *fakeDurable) IncrementView(_ context.Context, itemID, viewerID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return d.fail
	}
	d.increments = append(d.increments, itemID+"/"+viewerID)
	return nil
}

func (d *fakeDurable) SyncItem(context.Context, string, *viewstats.Stats) error { return nil }

func (d *fakeDurable) GetStats(_ context.Context, itemID string) (*viewstats.Stats, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return nil, d.fail
	}
	if s, ok := d.stats[itemID]; ok {
		cp := *s
		return &cp, nil
	}
	return viewstats.NewStats(), nil
}

func (d *fakeDurable) ListRecentlyUpdated(context.Context, time.Time) ([]viewstats.ItemStats, error) {
	return nil, nil
}
func (d *fakeDurable) SetTotalViews(context.Context, string, int64) error { return nil }
func (d *fakeDurable) HealthCheck(context.Context) error                  { return nil }
func (d *fakeDurable) Close() error                                       { return nil }

type fakeWAL struct {
	appended  []string
	recovered int
	appendErr error
}

func (w *fakeWAL) Append(_ time.Time, itemID, viewerID string) error {
	if w.appendErr != nil {
		return w.appendErr
	}
	w.appended = append(w.appended, itemID+"/"+viewerID)
	return nil
}

func (w *fakeWAL) RecoverPending(ctx context.Context, r wal.Replayer) (int, error) {
	w.recovered++
	return 0, nil
}

type countingMetrics struct {
	viewstats.NopMetrics
	mu       sync.Mutex
	requests int
	hits     int
	misses   int
	degraded int
}

func (m *countingMetrics) IncViewRequests()   { m.mu.Lock(); m.requests++; m.mu.Unlock() }
func (m *countingMetrics) IncCacheHit()       { m.mu.Lock(); m.hits++; m.mu.Unlock() }
func (m *countingMetrics) IncCacheMiss()      { m.mu.Lock(); m.misses++; m.mu.Unlock() }
func (m *countingMetrics) IncDegradedWrites() { m.mu.Lock(); m.degraded++; m.mu.Unlock() }
