package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/mentorlens/internal/citation"
	"github.com/kiranshivaraju/mentorlens/internal/inference"
	"github.com/kiranshivaraju/mentorlens/internal/metrics"
	"github.com/kiranshivaraju/mentorlens/internal/store"
	"github.com/kiranshivaraju/mentorlens/pkg/models"
)

// Fallback reasons recorded when a retrieval job degrades to a single pass.
const (
	FallbackUnscoredProfile    = "unscored_profile"
	FallbackUnparseableProfile = "unparseable_profile"
	FallbackNoReferences       = "no_references"
	FallbackRetrievalError     = "retrieval_error"
)

// progressTail bounds the partial output kept in progress_text.
const progressTail = 1000

// Process runs one claimed job to done, back to queued, or to failed. It never
// returns an error: every outcome is recorded on the job. A panic is logged and
// the job is left in flight for stale recovery.
func (w *Worker) Process(ctx context.Context, job *models.Job) {
	logger := slog.With("job_id", job.ID, "advisor_id", job.AdvisorID, "mode", job.Mode, "retry_count", job.RetryCount)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic processing job; leaving it for recovery",
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()

	logger.Info("processing job")
	result, err := w.analyze(ctx, job, logger)
	if err == nil {
		err = w.finish(ctx, job, result)
	}
	if err != nil {
		w.fail(ctx, job, err, logger)
		return
	}

	logger.Info("job done",
		"effective_mode", result.EffectiveMode,
		"fallback", result.Fallback,
		"parse_path", result.ParsePath,
		"dropped_citations", len(result.DroppedCitations),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	w.metrics.RecordCompleted()
}

// analyze runs the inference passes for job and returns the resolved result.
func (w *Worker) analyze(ctx context.Context, job *models.Job, logger *slog.Logger) (*models.CritiqueResult, error) {
	img, mime, err := w.images.Load(ctx, job.ImageRef)
	if err != nil {
		return nil, fmt.Errorf("loading image: %w", err)
	}
	base := models.InferenceRequest{
		Image:     img,
		ImageMIME: mime,
		AdvisorID: job.AdvisorID,
		Mode:      job.Mode,
	}

	if !job.Mode.UsesRetrieval() {
		w.progress(ctx, job.ID, "Analyzing image")
		res, err := w.infer(ctx, job.ID, base, metrics.PassCritique)
		if err != nil {
			return nil, err
		}
		return w.singlePass(job, res, "", nil, logger), nil
	}

	// First pass: score the upload so it can be placed in profile space.
	w.progress(ctx, job.ID, "Scoring image for reference retrieval")
	first, err := w.infer(ctx, job.ID, base, metrics.PassProfile)
	if errors.Is(err, inference.ErrMalformedResult) {
		logger.Warn("profile pass unparseable; falling back to single-pass analysis", "error", err)
		w.metrics.RecordFallback(FallbackUnparseableProfile)
		single := base
		single.Mode = job.Mode.WithoutRetrieval()
		w.progress(ctx, job.ID, "Profile unreadable; analyzing without references")
		res, err := w.infer(ctx, job.ID, single, metrics.PassCritique)
		if err != nil {
			return nil, err
		}
		return w.singlePass(job, res, FallbackUnparseableProfile, nil, logger), nil
	}
	if err != nil {
		return nil, err
	}

	profile := first.Critique.Profile(job.AdvisorID, job.ImageRef)
	if !profile.Scored() {
		return w.fallback(job, first, FallbackUnscoredProfile, nil, logger), nil
	}

	matches, err := w.retriever.Nearest(ctx, job.AdvisorID, profile, w.cfg.TopK)
	if err != nil {
		logger.Warn("retrieval failed", "error", err)
		return w.fallback(job, first, FallbackRetrievalError, profile, logger), nil
	}
	if len(matches) == 0 {
		return w.fallback(job, first, FallbackNoReferences, profile, logger), nil
	}

	var passages []*models.Passage
	if w.passages != nil && w.cfg.MaxPassages > 0 {
		passages, err = w.passages.TopPassages(ctx, job.AdvisorID, w.cfg.MaxPassages)
		if err != nil {
			logger.Warn("passage retrieval failed; continuing without quotes", "error", err)
			passages = nil
		}
	}

	pool := citation.NewPool(matches, passages)
	w.progress(ctx, job.ID, fmt.Sprintf("Comparing with %d reference works", len(matches)))

	grounded := base
	grounded.Context = pool.Context(w.cfg.Limits)
	second, err := w.infer(ctx, job.ID, grounded, metrics.PassCritique)
	if err != nil {
		return nil, err
	}

	result := &models.CritiqueResult{
		Critique:      second.Critique,
		EffectiveMode: job.Mode,
		ParsePath:     second.ParsePath,
		UserScores:    profile.Scores.Map(),
	}
	result.DroppedCitations = w.resolve(&result.Critique, pool, logger)
	return result, nil
}

// fallback turns the first-pass critique into the job's single-pass result.
func (w *Worker) fallback(job *models.Job, first *models.InferenceResult, reason string, profile *models.DimensionalProfile, logger *slog.Logger) *models.CritiqueResult {
	logger.Info("retrieval unavailable; using single-pass analysis", "reason", reason)
	w.metrics.RecordFallback(reason)
	return w.singlePass(job, first, reason, profile, logger)
}

func (w *Worker) singlePass(job *models.Job, res *models.InferenceResult, reason string, profile *models.DimensionalProfile, logger *slog.Logger) *models.CritiqueResult {
	result := &models.CritiqueResult{
		Critique:      res.Critique,
		EffectiveMode: job.Mode.WithoutRetrieval(),
		ParsePath:     res.ParsePath,
		Fallback:      reason,
	}
	if profile.Scored() {
		result.UserScores = profile.Scores.Map()
	}
	// Nothing was offered for citation, so any token the generator emitted is dropped.
	result.DroppedCitations = w.resolve(&result.Critique, nil, logger)
	return result
}

func (w *Worker) resolve(c *models.Critique, pool *citation.Pool, logger *slog.Logger) []models.DroppedCitation {
	dropped := citation.Resolve(c, pool, w.cfg.Limits)
	for _, d := range dropped {
		logger.Info("citation dropped", "dimension", d.Dimension, "kind", d.Kind, "token", d.Token, "reason", d.Reason)
		w.metrics.RecordCitationDropped(d.Kind, d.Reason)
	}
	return dropped
}

// infer runs one backend call under the per-call timeout. Exceeding the
// timeout is reported as ErrInferenceTimeout.
func (w *Worker) infer(ctx context.Context, jobID uuid.UUID, req models.InferenceRequest, pass string) (*models.InferenceResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, w.cfg.CallTimeout)
	defer cancel()

	req.OnProgress = w.thinkingReporter(ctx, jobID)

	start := time.Now()
	res, err := w.backend.Infer(callCtx, req)
	w.metrics.ObserveInference(pass, time.Since(start).Seconds())
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, inference.ErrInferenceTimeout) {
			err = fmt.Errorf("%w: %s pass exceeded %s: %v", inference.ErrInferenceTimeout, pass, w.cfg.CallTimeout, err)
		}
		return nil, fmt.Errorf("%s pass: %w", pass, err)
	}
	return res, nil
}

// thinkingReporter returns an OnProgress callback that records partial output
// at most once per ProgressInterval. Each write refreshes updated_at, so a
// long generation does not look stale.
func (w *Worker) thinkingReporter(ctx context.Context, jobID uuid.UUID) func(string) {
	var (
		mu   sync.Mutex
		last time.Time
	)
	return func(text string) {
		mu.Lock()
		if time.Since(last) < w.cfg.ProgressInterval {
			mu.Unlock()
			return
		}
		last = time.Now()
		mu.Unlock()

		text = tail(text, progressTail)
		if err := w.jobs.UpdateJobProgress(ctx, jobID, text); err != nil {
			slog.Debug("recording progress failed", "job_id", jobID, "error", err)
		}
		w.sched.PublishThinking(ctx, jobID, text)
	}
}

func (w *Worker) progress(ctx context.Context, jobID uuid.UUID, text string) {
	if err := w.jobs.UpdateJobProgress(ctx, jobID, text); err != nil {
		slog.Debug("recording progress failed", "job_id", jobID, "error", err)
		return
	}
	w.publish(ctx, jobID)
}

// finish persists the result through finalizing to done.
func (w *Worker) finish(ctx context.Context, job *models.Job, result *models.CritiqueResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	if err := w.jobs.UpdateJobStatus(ctx, job.ID, models.JobStatusFinalizing,
		store.WithProgress("Finalizing critique")); err != nil {
		return fmt.Errorf("marking finalizing: %w", err)
	}
	w.publish(ctx, job.ID)

	if err := w.jobs.UpdateJobStatus(ctx, job.ID, models.JobStatusDone,
		store.WithResult(raw),
		store.WithClearedError(),
		store.WithProgress("")); err != nil {
		return fmt.Errorf("marking done: %w", err)
	}
	w.publish(ctx, job.ID)
	return nil
}

// fail records a failed attempt. Retryable errors consume one unit of the
// retry budget and re-queue the job with backoff until the budget is spent.
// Anything else fails the job at once with retry_count unchanged. A job that
// stale recovery has already taken back is left alone.
func (w *Worker) fail(ctx context.Context, job *models.Job, cause error, logger *slog.Logger) {
	if ctx.Err() != nil {
		logger.Warn("job interrupted by shutdown; it will be recovered", "error", cause)
		return
	}
	if errors.Is(cause, store.ErrInvalidTransition) {
		logger.Warn("job no longer owned by this worker; leaving it as is", "error", cause)
		return
	}
	msg := cause.Error()

	if !inference.IsRetryable(cause) {
		logger.Error("job failed permanently", "error", cause)
		w.markFailed(ctx, job.ID, msg, logger)
		return
	}

	next := job.RetryCount + 1
	if w.cfg.Retry.Exhausted(next) {
		logger.Error("job failed; retry budget exhausted", "error", cause, "retry_count", next)
		w.markFailed(ctx, job.ID, msg, logger, store.WithRetryCount(next))
		return
	}

	delay := w.cfg.Retry.Backoff(next)
	err := w.jobs.UpdateJobStatus(ctx, job.ID, models.JobStatusQueued,
		store.WithRetryCount(next),
		store.WithErrorMessage(msg),
		store.WithAvailableAt(w.now().Add(delay)),
		store.WithProgress(fmt.Sprintf("Attempt %d failed; retrying in %s", next, delay)),
	)
	if errors.Is(err, store.ErrInvalidTransition) {
		logger.Warn("job no longer owned by this worker; not re-queueing", "error", err)
		return
	}
	if err != nil {
		logger.Error("re-queueing job failed", "error", err)
		return
	}
	logger.Warn("job attempt failed; re-queued", "error", cause, "retry_count", next, "backoff", delay)
	w.metrics.RecordRetried()
	w.publish(ctx, job.ID)
}

func (w *Worker) markFailed(ctx context.Context, id uuid.UUID, msg string, logger *slog.Logger, opts ...store.JobUpdateOption) {
	opts = append(opts, store.WithErrorMessage(msg), store.WithProgress(""))
	err := w.jobs.UpdateJobStatus(ctx, id, models.JobStatusFailed, opts...)
	if errors.Is(err, store.ErrInvalidTransition) {
		logger.Warn("job no longer owned by this worker; not marking it failed", "error", err)
		return
	}
	if err != nil {
		logger.Error("marking job failed", "error", err)
		return
	}
	w.metrics.RecordFailed()
	w.publish(ctx, id)
}

// publish pushes the job's stored state to subscribers.
func (w *Worker) publish(ctx context.Context, id uuid.UUID) {
	job, err := w.jobs.GetJob(ctx, id)
	if err != nil {
		slog.Debug("reading job for publish failed", "job_id", id, "error", err)
		return
	}
	w.sched.Publish(ctx, job)
}

// tail returns at most n bytes from the end of s without splitting a rune.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	i := len(s) - n
	for i < len(s) && s[i]&0xC0 == 0x80 {
		i++
	}
	return s[i:]
}
