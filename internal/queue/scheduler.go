// Package queue admits critique jobs, hands them to the worker in FIFO order
// and recovers jobs abandoned by a crashed worker. The job store is the only
// channel between producer and consumer.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/mentorlens/internal/metrics"
	"github.com/kiranshivaraju/mentorlens/internal/store"
	"github.com/kiranshivaraju/mentorlens/internal/stream"
	"github.com/kiranshivaraju/mentorlens/pkg/models"
)

// Options configures a Scheduler.
type Options struct {
	// StaleAfter is how long an in-flight job may go without an update before
	// it is considered abandoned.
	StaleAfter time.Duration
	// ResetRetriesOnRecovery gives a recovered job a fresh retry budget. When
	// false recovery leaves retry_count untouched.
	ResetRetriesOnRecovery bool
	// MaxRetries is the budget checked by manual retries.
	MaxRetries int
	// Now overrides the clock. Defaults to time.Now in UTC.
	Now func() time.Time
}

// Scheduler owns every queue-level transition of a job: pending → queued,
// queued → analyzing, stale analyzing → queued and failed → queued.
type Scheduler struct {
	jobs    store.JobStore
	broker  stream.Broker
	metrics *metrics.Collector
	opts    Options
}

// New creates a Scheduler. broker and m may be nil.
func New(jobs store.JobStore, broker stream.Broker, m *metrics.Collector, opts Options) *Scheduler {
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = models.MaxRetries
	}
	return &Scheduler{jobs: jobs, broker: broker, metrics: m, opts: opts}
}

// Submit durably records a new pending job and returns it. It never waits on
// inference.
func (s *Scheduler) Submit(ctx context.Context, advisorID string, mode models.Mode, imageRef string) (*models.Job, error) {
	now := s.opts.Now()
	job := &models.Job{
		ID:          uuid.New(),
		Status:      models.JobStatusPending,
		Mode:        mode,
		AdvisorID:   advisorID,
		ImageRef:    imageRef,
		AvailableAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("submit job: %w", err)
	}

	slog.Info("job submitted", "job_id", job.ID, "advisor_id", advisorID, "mode", mode)
	s.metrics.RecordSubmitted()
	s.Publish(ctx, job)
	return job, nil
}

// SweepResult reports what one sweep changed.
type SweepResult struct {
	Admitted  int
	Recovered int
}

// Sweep admits pending jobs and re-queues stale in-flight jobs. A job is
// recovered at most once per staleness window because recovery refreshes
// its updated_at.
func (s *Scheduler) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult

	admitted, err := s.jobs.AdmitPending(ctx)
	if err != nil {
		return res, fmt.Errorf("admit pending: %w", err)
	}
	res.Admitted = len(admitted)
	for _, id := range admitted {
		s.publishEvent(ctx, stream.Event{
			Type:      stream.EventStatusUpdate,
			JobID:     id,
			Status:    models.JobStatusQueued,
			Timestamp: s.opts.Now(),
		})
	}

	recovered, err := s.jobs.RecoverStale(ctx, s.staleBefore(), s.opts.ResetRetriesOnRecovery)
	if err != nil {
		return res, fmt.Errorf("recover stale: %w", err)
	}
	res.Recovered = len(recovered)
	for _, job := range recovered {
		slog.Warn("recovered stale job",
			"job_id", job.ID,
			"advisor_id", job.AdvisorID,
			"retry_count", job.RetryCount,
			"stale_after", s.opts.StaleAfter,
		)
		s.Publish(ctx, job)
	}
	s.metrics.RecordRecovered(res.Recovered)

	if res.Admitted > 0 || res.Recovered > 0 {
		slog.Debug("sweep complete", "admitted", res.Admitted, "recovered", res.Recovered)
	}
	return res, nil
}

// Next claims the oldest eligible job, or returns store.ErrNoJobAvailable.
// A stale analyzing job is eligible too, so an abandoned job is picked up
// even if no sweep has run since it went stale.
func (s *Scheduler) Next(ctx context.Context) (*models.Job, error) {
	claim, err := s.jobs.ClaimNextJob(ctx, store.ClaimParams{
		Now:                    s.opts.Now(),
		StaleBefore:            s.staleBefore(),
		ResetRetriesOnRecovery: s.opts.ResetRetriesOnRecovery,
	})
	if err != nil {
		return nil, err
	}
	if claim.Recovered {
		slog.Warn("claimed stale job for reprocessing",
			"job_id", claim.Job.ID,
			"advisor_id", claim.Job.AdvisorID,
			"retry_count", claim.Job.RetryCount,
		)
		s.metrics.RecordRecovered(1)
	}
	s.Publish(ctx, claim.Job)
	return claim.Job, nil
}

// ErrNotRetryable is returned by Retry for a job that is not failed or has
// no retry budget left.
var ErrNotRetryable = errors.New("job cannot be retried")

// Retry re-admits a failed job with remaining budget.
func (s *Scheduler) Retry(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	job, err := s.jobs.RetryFailedJob(ctx, id, s.opts.MaxRetries)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, err
	case errors.Is(err, store.ErrInvalidTransition), errors.Is(err, store.ErrRetryBudgetExhausted):
		return nil, fmt.Errorf("%w: %v", ErrNotRetryable, err)
	case err != nil:
		return nil, fmt.Errorf("retry job: %w", err)
	}

	slog.Info("job re-admitted", "job_id", job.ID, "retry_count", job.RetryCount)
	s.metrics.RecordRetried()
	s.Publish(ctx, job)
	return job, nil
}

// Run sweeps every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	slog.Info("scheduler started", "interval", interval, "stale_after", s.opts.StaleAfter)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			slog.Error("sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Publish pushes the job's current state to stream subscribers. Failures are
// logged only; subscribers fall back to reading the store.
func (s *Scheduler) Publish(ctx context.Context, job *models.Job) {
	s.publishEvent(ctx, stream.StatusEvent(job))
}

// PublishThinking pushes partial generator output for a job.
func (s *Scheduler) PublishThinking(ctx context.Context, jobID uuid.UUID, text string) {
	s.publishEvent(ctx, stream.ThinkingEvent(jobID, text))
}

func (s *Scheduler) publishEvent(ctx context.Context, e stream.Event) {
	if s.broker == nil {
		return
	}
	if err := s.broker.Publish(ctx, e); err != nil {
		slog.Warn("publish job event failed", "job_id", e.JobID, "error", err)
	}
}

func (s *Scheduler) staleBefore() time.Time {
	return s.opts.Now().Add(-s.opts.StaleAfter)
}
