package app

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/viewcount/pkg/config"
	"github.com/platinummonkey/viewcount/pkg/jobs"
	"github.com/platinummonkey/viewcount/pkg/viewstats"
)

func newJobsFixture(t *testing.T) (*Jobs, *Stores) {
	t.Helper()
	mr := miniredis.RunT(t)
	stores, err := OpenStores(context.Background(), sqliteConfig(t, mr), quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { stores.Close() })

	return NewJobs(config.DefaultConfig().Jobs, stores, nil, quietLogger()), stores
}

func TestJobs_RunOnceAll(t *testing.T) {
	j, stores := newJobsFixture(t)
	ctx := context.Background()

	recorder := NewRecorder(stores, nil, nil, quietLogger())
	for i := 0; i < 3; i++ {
		require.NoError(t, recorder.RecordView(ctx, "item-1", viewstats.Viewer{ID: "bob", Authenticated: true}))
	}

	require.NoError(t, j.RunOnce(ctx, JobAll))

	stats, err := stores.Durable.GetStats(ctx, "item-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalViews)
	assert.Equal(t, int64(3), stats.UserViews["bob"])

	size, err := stores.Fast.QueueLength(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestJobs_RunOnceSingle(t *testing.T) {
	j, _ := newJobsFixture(t)

	assert.NoError(t, j.RunOnce(context.Background(), JobSync))
	assert.NoError(t, j.RunOnce(context.Background(), JobConsistency))
}

func TestJobs_RunOnceUnknown(t *testing.T) {
	j, _ := newJobsFixture(t)

	err := j.RunOnce(context.Background(), "reindex")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown job")
}

func TestJobs_Schedule(t *testing.T) {
	j, _ := newJobsFixture(t)
	s := jobs.NewScheduler(quietLogger())

	require.NoError(t, j.Schedule(s))

	_, ok := s.Next(JobSync)
	assert.True(t, ok)
	_, ok = s.Next(JobConsistency)
	assert.True(t, ok)

	assert.Error(t, j.Schedule(s), "duplicate names are rejected")
}
