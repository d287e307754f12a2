package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// JobFunc is a unit of scheduled work.
type JobFunc func(ctx context.Context) error

// Scheduler runs jobs on cron schedules. Each job recovers from panics and is skipped
// while a previous invocation is still running.
type Scheduler struct {
	cron *cron.Cron
	log  *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	jobs map[string]cron.EntryID
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(log *logrus.Logger) *Scheduler {
	if log == nil {
		log = logrus.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	cl := cronLogger{log: log}
	return &Scheduler{
		cron:   cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl))),
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]cron.EntryID),
	}
}

// Add registers fn under name on the given schedule ("@every 1m", "*/5 * * * *", ...).
func (s *Scheduler) Add(name, spec string, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already scheduled", name)
	}

	job := cron.NewChain(cron.SkipIfStillRunning(cronLogger{log: s.log})).Then(cron.FuncJob(func() {
		s.run(name, fn)
	}))

	id, err := s.cron.AddJob(spec, job)
	if err != nil {
		return fmt.Errorf("schedule job %s: %w", name, err)
	}
	s.jobs[name] = id
	return nil
}

func (s *Scheduler) run(name string, fn JobFunc) {
	logger := s.log.WithField("job", name)
	start := time.Now()

	err := fn(s.ctx)
	elapsed := time.Since(start)
	if err != nil {
		logger.WithError(err).WithField("duration", elapsed).Error("Scheduled job failed")
		return
	}
	logger.WithField("duration", elapsed).Debug("Scheduled job finished")
}

// Next returns the next activation time of a job.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	n := len(s.jobs)
	s.mu.Unlock()

	s.cron.Start()
	s.log.WithField("jobs", n).Info("Scheduler started")
}

// Stop prevents new runs, cancels the context handed to running jobs, and waits for them
// to return or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.cancel()

	select {
	case <-done.Done():
		s.log.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for running jobs: %w", ctx.Err())
	}
}

// cronLogger adapts logrus to cron.Logger.
type cronLogger struct {
	log *logrus.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(toFields(keysAndValues)).Debug("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithError(err).WithFields(toFields(keysAndValues)).Error("cron: " + msg)
}

func toFields(keysAndValues []interface{}) logrus.Fields {
	fields := make(logrus.Fields, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
