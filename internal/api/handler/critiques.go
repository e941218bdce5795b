// Package handler implements the HTTP endpoints of the critique API.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/mentorlens/internal/api/response"
	"github.com/kiranshivaraju/mentorlens/internal/images"
	"github.com/kiranshivaraju/mentorlens/internal/queue"
	"github.com/kiranshivaraju/mentorlens/internal/store"
	"github.com/kiranshivaraju/mentorlens/pkg/models"
)

// Scheduler is the queue surface the critique handlers depend on.
type Scheduler interface {
	Submit(ctx context.Context, advisorID string, mode models.Mode, imageRef string) (*models.Job, error)
	Retry(ctx context.Context, id uuid.UUID) (*models.Job, error)
}

// JobReader reads a job's current state.
type JobReader interface {
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
}

const (
	// multipartMemory is how much of a form is buffered in memory before
	// spilling to temp files.
	multipartMemory = 8 << 20
	// formOverhead allows for the non-file fields and multipart boundaries.
	formOverhead = 1 << 20
)

// SubmitResponse is returned by POST /api/v1/critiques.
type SubmitResponse struct {
	JobID  uuid.UUID        `json:"job_id"`
	Status models.JobStatus `json:"status"`
	Mode   models.Mode      `json:"mode"`
}

// NewSubmitHandler returns an http.HandlerFunc for POST /api/v1/critiques.
// The image is stored and a pending job recorded; inference happens later in
// the worker.
func NewSubmitHandler(sched Scheduler, imgs images.Store, maxUploadBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if maxUploadBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes+formOverhead)
		}
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				response.Error(w, http.StatusRequestEntityTooLarge, "IMAGE_TOO_LARGE", "Upload exceeds size limit", nil)
				return
			}
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Expected a multipart/form-data body", nil)
			return
		}
		defer func() {
			if r.MultipartForm != nil {
				_ = r.MultipartForm.RemoveAll()
			}
		}()

		advisorID := strings.TrimSpace(r.FormValue("advisor_id"))
		if advisorID == "" {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid params", map[string][]string{
				"advisor_id": {"advisor_id is required"},
			})
			return
		}
		mode, err := models.ParseMode(r.FormValue("mode"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid params", map[string][]string{
				"mode": {err.Error()},
			})
			return
		}

		file, _, err := r.FormFile("image")
		if err != nil {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid params", map[string][]string{
				"image": {"image file is required"},
			})
			return
		}
		defer file.Close()

		ref, _, err := imgs.Save(r.Context(), file)
		switch {
		case errors.Is(err, images.ErrUnsupportedFormat):
			response.Error(w, http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE", "Image must be JPEG, PNG or WebP", nil)
			return
		case errors.Is(err, images.ErrImageTooLarge):
			response.Error(w, http.StatusRequestEntityTooLarge, "IMAGE_TOO_LARGE", "Upload exceeds size limit", nil)
			return
		case err != nil:
			slog.Error("storing upload failed", "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to store image", nil)
			return
		}

		job, err := sched.Submit(r.Context(), advisorID, mode, ref)
		if err != nil {
			slog.Error("submitting job failed", "advisor_id", advisorID, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to submit critique", nil)
			return
		}

		response.Accepted(w, SubmitResponse{JobID: job.ID, Status: job.Status, Mode: job.Mode})
	}
}

// NewGetCritiqueHandler returns an http.HandlerFunc for GET /api/v1/critiques/{jobID}.
func NewGetCritiqueHandler(jobs JobReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseJobID(w, r)
		if !ok {
			return
		}
		job, err := jobs.GetJob(r.Context(), id)
		if err != nil {
			writeJobError(w, id, err)
			return
		}
		response.JSON(w, job)
	}
}

// NewRetryHandler returns an http.HandlerFunc for POST /api/v1/critiques/{jobID}/retry.
func NewRetryHandler(sched Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseJobID(w, r)
		if !ok {
			return
		}
		job, err := sched.Retry(r.Context(), id)
		if errors.Is(err, queue.ErrNotRetryable) {
			response.Error(w, http.StatusConflict, "NOT_RETRYABLE",
				"Only failed jobs with retry budget left can be retried", nil)
			return
		}
		if err != nil {
			writeJobError(w, id, err)
			return
		}
		response.JSON(w, job)
	}
}

func parseJobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "job ID must be a UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}

func writeJobError(w http.ResponseWriter, id uuid.UUID, err error) {
	if errors.Is(err, store.ErrNotFound) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Critique job not found", nil)
		return
	}
	slog.Error("reading job failed", "job_id", id, "error", err)
	response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read critique job", nil)
}
