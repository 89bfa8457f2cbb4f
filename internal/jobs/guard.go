// Package jobs runs the scheduled lifecycle work. Each trigger runs at most once
// at a time, and a failing run is recorded instead of propagated.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/dropledger/internal/domain"
)

var (
	jobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_job_runs_total",
		Help: "Scheduled job runs, by job and outcome",
	}, []string{"job", "outcome"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "market_job_duration_seconds",
		Help:    "Wall time of scheduled job runs",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
	}, []string{"job"})
)

// ErrorLog persists job failures.
type ErrorLog interface {
	InsertSystemError(ctx context.Context, e domain.SystemError) error
}

// Guard runs fn, turning a returned error or a panic into a system-error row.
// It always returns nil so the scheduler treats the run as finished.
func Guard(ctx context.Context, errs ErrorLog, logger *slog.Logger, job string, fn func(context.Context) error) (err error) {
	start := time.Now()
	outcome := "completed"
	defer func() {
		if r := recover(); r != nil {
			outcome = "panicked"
			record(ctx, errs, logger, job, fmt.Sprintf("panic: %v", r), string(debug.Stack()))
		}
		jobRuns.WithLabelValues(job, outcome).Inc()
		jobDuration.WithLabelValues(job).Observe(time.Since(start).Seconds())
		err = nil
	}()

	if runErr := fn(ctx); runErr != nil {
		outcome = "failed"
		record(ctx, errs, logger, job, runErr.Error(), string(debug.Stack()))
	}
	return nil
}

func record(ctx context.Context, errs ErrorLog, logger *slog.Logger, job, message, stack string) {
	logger.Error("job failed",
		"module", "jobs",
		"operation", job,
		"outcome", "failed",
		"error", message,
	)
	// The job's own context may already be done; the record must still land.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := errs.InsertSystemError(writeCtx, domain.SystemError{
		ID:        uuid.NewString(),
		Job:       job,
		Message:   message,
		Stack:     stack,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		logger.Error("system error not recorded", "module", "jobs", "operation", job, "outcome", "failed", "error", err)
	}
}
