package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/kiranshivaraju/mentorlens/internal/api/response"
	"github.com/kiranshivaraju/mentorlens/internal/stream"
)

const defaultFallbackTick = 5 * time.Second

// NewEventsHandler returns an http.HandlerFunc for
// GET /api/v1/critiques/{jobID}/events. It streams a snapshot of the job,
// then every broker event, and closes after the job is done or failed. The
// store is re-read every fallbackTick so a lost terminal event is still
// delivered.
func NewEventsHandler(jobs JobReader, broker stream.Broker, fallbackTick time.Duration) http.HandlerFunc {
	if fallbackTick <= 0 {
		fallbackTick = defaultFallbackTick
	}
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseJobID(w, r)
		if !ok {
			return
		}
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Subscribe before taking the snapshot so nothing falls between them.
		var events <-chan stream.Event
		if broker != nil {
			ch, err := broker.Subscribe(ctx, id)
			if err != nil {
				slog.Warn("subscribing to job events failed; polling store only", "job_id", id, "error", err)
			} else {
				events = ch
			}
		}

		job, err := jobs.GetJob(ctx, id)
		if err != nil {
			writeJobError(w, id, err)
			return
		}

		rc := http.NewResponseController(w)
		// Streams outlive the server's write timeout.
		_ = rc.SetWriteDeadline(time.Time{})
		response.SSEHeaders(w)

		sse := &eventWriter{w: w, rc: rc}
		first := stream.StatusEvent(job)
		if !sse.send(first) || first.Terminal() {
			return
		}

		ticker := time.NewTicker(fallbackTick)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-events:
				if !ok {
					events = nil
					continue
				}
				if !sse.send(e) || e.Terminal() {
					return
				}
			case <-ticker.C:
				job, err := jobs.GetJob(ctx, id)
				if err != nil {
					if ctx.Err() == nil {
						slog.Debug("fallback job read failed", "job_id", id, "error", err)
					}
					continue
				}
				e := stream.StatusEvent(job)
				if !sse.changed(e) {
					continue
				}
				if !sse.send(e) || e.Terminal() {
					return
				}
			}
		}
	}
}

// eventWriter writes events to one SSE client and remembers the last status
// sent so the fallback poll does not repeat it.
type eventWriter struct {
	w    http.ResponseWriter
	rc   *http.ResponseController
	last stream.Event
}

func (s *eventWriter) send(e stream.Event) bool {
	if err := response.Event(s.w, string(e.Type), e); err != nil {
		slog.Debug("writing event failed", "job_id", e.JobID, "error", err)
		return false
	}
	if err := s.rc.Flush(); err != nil {
		slog.Debug("flushing event failed", "job_id", e.JobID, "error", err)
		return false
	}
	if e.Type == stream.EventStatusUpdate {
		s.last = e
	}
	return true
}

func (s *eventWriter) changed(e stream.Event) bool {
	return e.Status != s.last.Status ||
		e.RetryCount != s.last.RetryCount ||
		e.ProgressText != s.last.ProgressText ||
		!e.Timestamp.Equal(s.last.Timestamp)
}
