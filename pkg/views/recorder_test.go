package views

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/viewcount/pkg/storage/postgres"
	"github.com/platinummonkey/viewcount/pkg/storage/sqlite"
	"github.com/platinummonkey/viewcount/pkg/viewstats"
	"github.com/platinummonkey/viewcount/pkg/wal"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func TestRecordViewFastPath(t *testing.T) {
	fast := newFakeFast()
	durable := newFakeDurable()
	w := &fakeWAL{}
	metrics := &countingMetrics{}
	rec := NewRecorder(fast, durable, w, metrics, quietLogger())

	require.NoError(t, rec.RecordView(context.Background(), "item-1", viewstats.Viewer{ID: "alice", Authenticated: true}))
	require.NoError(t, rec.RecordView(context.Background(), "item-1", viewstats.Anonymous))

	assert.Equal(t, []string{"item-1/alice", "item-1/anonymous"}, fast.recorded)
	assert.Equal(t, []string{"item-1/alice", "item-1/anonymous"}, w.appended)
	assert.Empty(t, durable.increments)
	assert.Equal(t, 0, w.recovered)
	assert.Equal(t, 2, metrics.requests)
	assert.Equal(t, 0, metrics.degraded)
}

func TestRecordViewDegradedPath(t *testing.T) {
	fast := newFakeFast()
	fast.down = true
	durable := newFakeDurable()
	w := &fakeWAL{}
	metrics := &countingMetrics{}
	rec := NewRecorder(fast, durable, w, metrics, quietLogger())

	require.NoError(t, rec.RecordView(context.Background(), "item-1", viewstats.Viewer{ID: "alice", Authenticated: true}))

	assert.Equal(t, []string{"item-1/alice"}, w.appended, "view is logged before the fast write")
	assert.Equal(t, 1, w.recovered)
	assert.Equal(t, []string{"item-1/alice"}, durable.increments)
	assert.Equal(t, 1, metrics.degraded)
}

func TestRecordViewDegradedWriteFails(t *testing.T) {
	fast := newFakeFast()
	fast.down = true
	durable := newFakeDurable()
	durable.fail = fmt.Errorf("tx: %w", viewstats.ErrPersistence)
	rec := NewRecorder(fast, durable, &fakeWAL{}, nil, quietLogger())

	err := rec.RecordView(context.Background(), "item-1", viewstats.Anonymous)
	require.Error(t, err)
	assert.True(t, errors.Is(err, viewstats.ErrPersistence))
}

func TestRecordViewWALFailureIsNotFatal(t *testing.T) {
	fast := newFakeFast()
	w := &fakeWAL{appendErr: fmt.Errorf("disk full: %w", viewstats.ErrWALIO)}
	rec := NewRecorder(fast, newFakeDurable(), w, nil, quietLogger())

	require.NoError(t, rec.RecordView(context.Background(), "item-1", viewstats.Anonymous))
	assert.Equal(t, []string{"item-1/anonymous"}, fast.recorded)
}

func TestRecordViewWithoutWAL(t *testing.T) {
	fast := newFakeFast()
	fast.down = true
	durable := newFakeDurable()
	rec := NewRecorder(fast, durable, nil, nil, nil)

	require.NoError(t, rec.RecordView(context.Background(), "item-1", viewstats.Anonymous))
	assert.Equal(t, []string{"item-1/anonymous"}, durable.increments)
}

func TestRecordViewUnauthenticatedIDIgnored(t *testing.T) {
	fast := newFakeFast()
	rec := NewRecorder(fast, newFakeDurable(), nil, nil, quietLogger())

	require.NoError(t, rec.RecordView(context.Background(), "item-1", viewstats.Viewer{ID: "spoofed"}))
	assert.Equal(t, []string{"item-1/anonymous"}, fast.recorded)
}

// Degraded writes against real stores: a dead Redis and an in-memory SQLite database.
func TestRecordViewDegradedAgainstSQLite(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	fast := postgres.NewRedisCounterStoreFromClient(client, 24*time.Hour, 200*time.Millisecond, quietLogger())
	defer fast.Close()

	durable, err := sqlite.Open(":memory:", time.Second, quietLogger())
	require.NoError(t, err)
	defer durable.Close()

	log, err := wal.Open(wal.Config{Path: filepath.Join(t.TempDir(), "view_wal.log")}, quietLogger())
	require.NoError(t, err)
	defer log.Close()

	rec := NewRecorder(fast, durable, log, nil, quietLogger())
	mr.Close()

	ctx := context.Background()
	require.NoError(t, rec.RecordView(ctx, "item-1", viewstats.Viewer{ID: "alice", Authenticated: true}))
	require.NoError(t, rec.RecordView(ctx, "item-1", viewstats.Anonymous))

	var items, viewers int
	require.NoError(t, durable.DB().QueryRow("SELECT COUNT(*) FROM item_view_stats").Scan(&items))
	require.NoError(t, durable.DB().QueryRow("SELECT COUNT(*) FROM viewer_item_views").Scan(&viewers))
	assert.Equal(t, 1, items)
	assert.Equal(t, 1, viewers, "anonymous views touch only the item row")

	stats, err := durable.GetStats(ctx, "item-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalViews)
	assert.Equal(t, map[string]int64{"alice": 1}, stats.UserViews)

	// Recovery ran and cleared the log even though every replay failed.
	assert.Zero(t, walLines(t, log.Path()))
}

func TestRecordViewFastPathAgainstRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	fast := postgres.NewRedisCounterStoreFromClient(client, 24*time.Hour, time.Second, quietLogger())
	defer fast.Close()

	rec := NewRecorder(fast, newFakeDurable(), nil, nil, quietLogger())
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, rec.RecordView(ctx, "item-1", viewstats.Viewer{ID: "alice", Authenticated: true}))
	}

	stats, err := fast.GetStats(ctx, "item-1")
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, int64(3), stats.TotalViews)
	assert.Equal(t, int64(3), stats.UserViews["alice"])

	n, err := fast.QueueLength(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func walLines(t *testing.T, path string) int {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Count(string(data), "\n")
}
