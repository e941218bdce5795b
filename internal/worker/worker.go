// Package worker is the single background consumer of critique jobs. It waits
// for the inference backend to become ready, then drains the queue one job at
// a time.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/mentorlens/internal/citation"
	"github.com/kiranshivaraju/mentorlens/internal/images"
	"github.com/kiranshivaraju/mentorlens/internal/metrics"
	"github.com/kiranshivaraju/mentorlens/internal/queue"
	"github.com/kiranshivaraju/mentorlens/internal/retrieval"
	"github.com/kiranshivaraju/mentorlens/internal/store"
	"github.com/kiranshivaraju/mentorlens/pkg/models"
)

// Config tunes the worker loop.
type Config struct {
	PollInterval time.Duration
	// CallTimeout caps each inference call independently of the backend's own timeout.
	CallTimeout   time.Duration
	ReadyInterval time.Duration
	// ReadyWait is the window after which a still-unready backend is reported.
	// Polling continues after it elapses.
	ReadyWait        time.Duration
	TopK             int
	MaxPassages      int
	Limits           citation.Limits
	Retry            RetryPolicy
	ProgressInterval time.Duration
}

func (c *Config) setDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 5 * time.Minute
	}
	if c.ReadyInterval <= 0 {
		c.ReadyInterval = time.Second
	}
	if c.ReadyWait <= 0 {
		c.ReadyWait = 30 * time.Second
	}
	if c.TopK <= 0 {
		c.TopK = 3
	}
	if c.MaxPassages < 0 {
		c.MaxPassages = 0
	}
	if c.Retry.MaxRetries <= 0 {
		c.Retry = DefaultRetryPolicy()
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = time.Second
	}
}

// Deps are the collaborators of a Worker. Passages and Metrics may be nil.
type Deps struct {
	Jobs      store.JobStore
	Scheduler *queue.Scheduler
	Backend   models.InferenceBackend
	Retriever retrieval.Retriever
	Passages  retrieval.PassageSource
	Images    images.Store
	Metrics   *metrics.Collector
}

type Worker struct {
	jobs      store.JobStore
	sched     *queue.Scheduler
	backend   models.InferenceBackend
	retriever retrieval.Retriever
	passages  retrieval.PassageSource
	images    images.Store
	metrics   *metrics.Collector
	cfg       Config
	now       func() time.Time
}

func New(d Deps, cfg Config) *Worker {
	cfg.setDefaults()
	return &Worker{
		jobs:      d.Jobs,
		sched:     d.Scheduler,
		backend:   d.Backend,
		retriever: d.Retriever,
		passages:  d.Passages,
		images:    d.Images,
		metrics:   d.Metrics,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source used for backoff scheduling.
func (w *Worker) SetClock(now func() time.Time) {
	w.now = now
}

// Run gates on backend readiness, then processes jobs until ctx is done.
// It returns nil on cancellation.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.WaitReady(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	slog.Info("worker started", "backend", w.backend.Name(), "poll_interval", w.cfg.PollInterval)

	for {
		if ctx.Err() != nil {
			slog.Info("worker stopped")
			return nil
		}

		job, err := w.sched.Next(ctx)
		switch {
		case err == nil:
			w.Process(ctx, job)
			continue
		case errors.Is(err, store.ErrNoJobAvailable):
		case ctx.Err() == nil:
			slog.Error("claiming next job failed", "error", err)
		}

		select {
		case <-ctx.Done():
		case <-time.After(w.cfg.PollInterval):
		}
	}
}

// WaitReady polls the backend health signal every ReadyInterval until it
// reports ready. Each time a ReadyWait window passes without success a
// warning is logged and polling continues.
func (w *Worker) WaitReady(ctx context.Context) error {
	start := time.Now()
	windowEnd := start.Add(w.cfg.ReadyWait)
	ticker := time.NewTicker(w.cfg.ReadyInterval)
	defer ticker.Stop()

	for {
		ready, err := w.checkHealth(ctx)
		if ready {
			slog.Info("inference backend ready", "backend", w.backend.Name(), "waited", time.Since(start).Round(time.Millisecond))
			return nil
		}
		if err != nil && ctx.Err() == nil {
			slog.Debug("inference backend not ready", "backend", w.backend.Name(), "error", err)
		}
		if now := time.Now(); now.After(windowEnd) {
			slog.Warn("inference backend still not ready; continuing to wait",
				"backend", w.backend.Name(),
				"waited", now.Sub(start).Round(time.Second),
			)
			windowEnd = now.Add(w.cfg.ReadyWait)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *Worker) checkHealth(ctx context.Context) (bool, error) {
	hctx, cancel := context.WithTimeout(ctx, w.cfg.ReadyInterval+5*time.Second)
	defer cancel()
	return w.backend.Health(hctx)
}
