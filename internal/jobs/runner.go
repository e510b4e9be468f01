package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Func is one run of a job.
type Func func(ctx context.Context) error

// RunOnce runs fn and records its outcome. metrics may be nil.
func RunOnce(ctx context.Context, jobType string, fn Func, metrics *Metrics, logger *slog.Logger) error {
	start := time.Now()
	err := fn(ctx)
	if metrics != nil {
		metrics.ObserveJobDuration(jobType, time.Since(start).Seconds())
	}
	if err != nil {
		errorType := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			errorType = "timeout"
		}
		if metrics != nil {
			metrics.IncJobsTotal(jobType, StatusFailure)
			metrics.IncJobErrors(jobType, errorType)
		}
		logger.WarnContext(ctx, "background job failed",
			slog.String("job_type", jobType),
			slog.String("error", err.Error()),
		)
		return err
	}
	if metrics != nil {
		metrics.IncJobsTotal(jobType, StatusSuccess)
	}
	return nil
}

// Every runs fn each interval until ctx ends. A failed run is logged and
// the schedule continues.
func Every(ctx context.Context, jobType string, interval time.Duration, fn Func, metrics *Metrics, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = RunOnce(ctx, jobType, fn, metrics, logger)
		}
	}
}
