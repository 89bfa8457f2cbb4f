package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

type Job struct {
	Name     string
	Schedule string
	// LeaseTTL bounds how long a crashed replica can hold the run lease.
	LeaseTTL time.Duration
	Run      func(ctx context.Context) error
}

// Lease guards a job across replicas. Without one, the in-process
// SkipIfStillRunning wrapper is the only overlap protection.
type Lease interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(), ok bool, err error)
}

type Scheduler struct {
	cron   *cron.Cron
	errs   ErrorLog
	lease  Lease
	logger *slog.Logger
	ctx    context.Context
}

func NewScheduler(ctx context.Context, errs ErrorLog, lease Lease, logger *slog.Logger) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	return &Scheduler{cron: c, errs: errs, lease: lease, logger: logger, ctx: ctx}
}

func (s *Scheduler) Add(job Job) error {
	if _, err := s.cron.AddFunc(job.Schedule, func() { s.RunOnce(s.ctx, job) }); err != nil {
		return fmt.Errorf("schedule %s (%q): %w", job.Name, job.Schedule, err)
	}
	s.logger.Info("job scheduled", "module", "jobs", "operation", "schedule", "outcome", "added", "job", job.Name, "schedule", job.Schedule)
	return nil
}

// RunOnce runs a job immediately under the lease and the guard. It reports
// whether the job body ran.
func (s *Scheduler) RunOnce(ctx context.Context, job Job) bool {
	if s.lease != nil {
		ttl := job.LeaseTTL
		if ttl <= 0 {
			ttl = time.Hour
		}
		release, ok, err := s.lease.Acquire(ctx, job.Name, ttl)
		if err != nil {
			s.logger.Warn("lease unavailable", "module", "jobs", "operation", job.Name, "outcome", "skipped", "error", err)
			return false
		}
		if !ok {
			s.logger.Info("job held by another replica", "module", "jobs", "operation", job.Name, "outcome", "skipped")
			return false
		}
		defer release()
	}

	s.logger.Info("job started", "module", "jobs", "operation", job.Name, "outcome", "started")
	_ = Guard(ctx, s.errs, s.logger, job.Name, job.Run)
	s.logger.Info("job finished", "module", "jobs", "operation", job.Name, "outcome", "finished")
	return true
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop prevents new runs and returns once running jobs have finished.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
