// Package cleanup runs the daily retention sweep that physically deletes
// rows whose window has elapsed. Reads already treat those rows as absent,
// so the sweep reclaims space rather than enforcing correctness, and a
// missed run only delays reclamation.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/byarielm/atlast/internal/store"
)

// JobName is the fixed identity of the recurring sweep. Re-scheduling on
// process restart finds the existing row instead of stacking a duplicate.
const JobName = "session-sweep"

const (
	DefaultInterval = 24 * time.Hour
	defaultPoll     = time.Minute

	// one retry after a failed sweep, then wait for the next scheduled run
	maxAttempts = 2
	retryBase   = time.Minute
)

// Sweeper is the slice of the store the job needs.
type Sweeper interface {
	SweepExpired(ctx context.Context) (store.SweepResult, error)
	EnsureCleanupJob(ctx context.Context, name string, firstRun time.Time) error
	GetCleanupJob(ctx context.Context, name string) (*store.CleanupJob, error)
	SaveCleanupJob(ctx context.Context, job *store.CleanupJob) error
}

type Job struct {
	store    Sweeper
	logger   *slog.Logger
	interval time.Duration
	poll     time.Duration
	now      func() time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewJob creates the sweep runner. A non-positive interval falls back to
// daily.
func NewJob(sweeper Sweeper, logger *slog.Logger, interval time.Duration) *Job {
	if interval <= 0 {
		interval = DefaultInterval
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Job{
		store:    sweeper,
		logger:   logger,
		interval: interval,
		poll:     defaultPoll,
		now:      time.Now,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// SetClock replaces the job's clock for schedule tests.
func (j *Job) SetClock(now func() time.Time) {
	j.now = now
}

// Start registers the durable schedule row and begins the background
// worker. Request handling never waits on this goroutine.
func (j *Job) Start(ctx context.Context) error {
	if err := j.store.EnsureCleanupJob(ctx, JobName, j.now().Add(j.interval)); err != nil {
		return err
	}

	go j.run()
	j.logger.Info("cleanup job started", "job", JobName, "interval", j.interval)

	return nil
}

// Stop shuts the worker down, waiting for any in-progress sweep.
func (j *Job) Stop() {
	close(j.stopCh)
	<-j.doneCh
	j.logger.Info("cleanup job stopped", "job", JobName)
}

func (j *Job) run() {
	defer close(j.doneCh)

	ticker := time.NewTicker(j.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := j.RunDue(context.Background()); err != nil {
				j.logger.Error("cleanup schedule check failed", "error", err)
			}
		case <-j.stopCh:
			return
		}
	}
}

// RunDue runs the sweep if its schedule has come due, applying the retry
// policy: a failed sweep gets one retry with exponential backoff, then the
// schedule moves to the next regular run regardless, so one bad day never
// blocks the following one.
func (j *Job) RunDue(ctx context.Context) error {
	job, err := j.store.GetCleanupJob(ctx, JobName)
	if err != nil {
		return err
	}

	now := j.now()
	if now.Before(job.NextRunAt) {
		return nil
	}

	result, sweepErr := j.store.SweepExpired(ctx)
	if sweepErr != nil {
		job.Attempts++
		job.LastError = sweepErr.Error()

		if job.Attempts < maxAttempts {
			job.NextRunAt = now.Add(retryBase << job.Attempts)
			j.logger.Error("sweep failed, will retry",
				"error", sweepErr, "attempt", job.Attempts, "next_run", job.NextRunAt)
		} else {
			job.Attempts = 0
			job.NextRunAt = now.Add(j.interval)
			j.logger.Error("sweep failed, giving up until next scheduled run",
				"error", sweepErr, "next_run", job.NextRunAt)
		}

		return j.store.SaveCleanupJob(ctx, job)
	}

	ranAt := result.RanAt
	job.Attempts = 0
	job.LastRanAt = &ranAt
	job.LastError = ""
	job.NextRunAt = now.Add(j.interval)

	j.logger.Info("sweep completed",
		"auth_requests", result.AuthRequests,
		"oauth_sessions", result.OauthSessions,
		"user_sessions", result.UserSessions,
		"outbox_items", result.OutboxItems,
	)

	return j.store.SaveCleanupJob(ctx, job)
}
