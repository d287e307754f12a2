package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/viewcount/pkg/config"
	"github.com/platinummonkey/viewcount/pkg/jobs"
	"github.com/platinummonkey/viewcount/pkg/viewstats"
)

// Job names accepted by Jobs.RunOnce and used as scheduler entry names.
const (
	JobSync        = "sync"
	JobConsistency = "consistency"
	JobAll         = "all"
)

// Jobs holds the background jobs built from one configuration.
type Jobs struct {
	Sync        *jobs.SyncWorker
	Consistency *jobs.ConsistencyValidator

	config config.JobsConfig
}

// NewJobs builds the sync worker and consistency validator over stores.
func NewJobs(cfg config.JobsConfig, stores *Stores, metrics viewstats.MetricsRecorder, log *logrus.Logger) *Jobs {
	return &Jobs{
		Sync: jobs.NewSyncWorker(stores.Fast, stores.Durable, jobs.SyncConfig{
			BatchSize:   cfg.SyncBatchSize,
			Concurrency: cfg.SyncConcurrency,
		}, metrics, log),
		Consistency: jobs.NewConsistencyValidator(stores.Fast, stores.Durable, cfg.ConsistencyWindow, metrics, log),
		config:      cfg,
	}
}

func (j *Jobs) runSync(ctx context.Context) error {
	_, err := j.Sync.Run(ctx)
	return err
}

func (j *Jobs) runConsistency(ctx context.Context) error {
	_, err := j.Consistency.Run(ctx)
	return err
}

// RunOnce runs the named job, or both for JobAll, and returns every failure.
func (j *Jobs) RunOnce(ctx context.Context, name string) error {
	switch name {
	case JobSync:
		return j.runSync(ctx)
	case JobConsistency:
		return j.runConsistency(ctx)
	case JobAll:
		return errors.Join(j.runSync(ctx), j.runConsistency(ctx))
	default:
		return fmt.Errorf("unknown job %q (want %s, %s or %s)", name, JobSync, JobConsistency, JobAll)
	}
}

// Schedule registers both jobs on s with their configured cron specs.
func (j *Jobs) Schedule(s *jobs.Scheduler) error {
	if err := s.Add(JobSync, j.config.SyncSchedule, j.runSync); err != nil {
		return err
	}
	return s.Add(JobConsistency, j.config.ConsistencySchedule, j.runConsistency)
}
