package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/mentorlens/pkg/models"
)

var (
	ErrNotFound             = errors.New("resource not found")
	ErrDuplicateKey         = errors.New("duplicate key violation")
	ErrInvalidTransition    = errors.New("invalid job status transition")
	ErrNoJobAvailable       = errors.New("no job available")
	ErrRetryBudgetExhausted = errors.New("retry budget exhausted")
)

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error
	JobStore
	ProfileStore
	PassageStore
}

// JobStore persists critique jobs. Every mutation is a single-row conditional
// update, so a transition racing with another writer fails instead of clobbering.
type JobStore interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	// AdmitPending moves every pending job to queued and returns their IDs.
	AdmitPending(ctx context.Context) ([]uuid.UUID, error)
	// RecoverStale re-queues jobs stuck in analyzing/finalizing whose last update
	// is older than staleBefore.
	RecoverStale(ctx context.Context, staleBefore time.Time, resetRetries bool) ([]*models.Job, error)
	// ClaimNextJob atomically moves the oldest eligible job to analyzing.
	// Eligible means queued and available, or analyzing and stale.
	// Returns ErrNoJobAvailable when nothing is eligible.
	ClaimNextJob(ctx context.Context, p ClaimParams) (*Claim, error)
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status models.JobStatus, opts ...JobUpdateOption) error
	// UpdateJobProgress records progress text on an in-flight job and refreshes updated_at.
	UpdateJobProgress(ctx context.Context, id uuid.UUID, text string) error
	// RetryFailedJob re-admits a failed job with remaining budget, incrementing retry_count.
	RetryFailedJob(ctx context.Context, id uuid.UUID, maxRetries int) (*models.Job, error)
}

// ProfileStore persists advisor reference profiles.
type ProfileStore interface {
	UpsertProfile(ctx context.Context, p *models.DimensionalProfile) error
	// ListProfiles returns every profile of an advisor, scored or not, most recent first.
	ListProfiles(ctx context.Context, advisorID string) ([]*models.DimensionalProfile, error)
	DeleteProfiles(ctx context.Context, advisorID string) (int64, error)
}

// PassageStore persists quotable advisor passages.
type PassageStore interface {
	UpsertPassage(ctx context.Context, p *models.Passage) error
	// TopPassages returns at most n passages, highest weight first.
	TopPassages(ctx context.Context, advisorID string, n int) ([]*models.Passage, error)
}

type ClaimParams struct {
	Now                    time.Time
	StaleBefore            time.Time
	ResetRetriesOnRecovery bool
}

// Claim is a job handed to the worker. Recovered is set when the job was
// taken over from a stale analyzing state rather than from the queue.
type Claim struct {
	Job       *models.Job
	Recovered bool
}

var validTransitions = map[models.JobStatus][]models.JobStatus{
	models.JobStatusPending:    {models.JobStatusQueued},
	models.JobStatusQueued:     {models.JobStatusAnalyzing},
	models.JobStatusAnalyzing:  {models.JobStatusFinalizing, models.JobStatusQueued, models.JobStatusFailed},
	models.JobStatusFinalizing: {models.JobStatusDone, models.JobStatusQueued, models.JobStatusFailed},
	models.JobStatusFailed:     {models.JobStatusQueued},
}

// CanTransition reports whether from → to is a legal status change.
func CanTransition(from, to models.JobStatus) bool {
	for _, a := range validTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

type jobUpdateParams struct {
	ErrorMessage *string
	ClearError   bool
	Result       json.RawMessage
	RetryCount   *int
	AvailableAt  *time.Time
	Progress     *string
}

type JobUpdateOption func(*jobUpdateParams)

func WithErrorMessage(msg string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.ErrorMessage = &msg
	}
}

func WithClearedError() JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.ClearError = true
	}
}

func WithResult(result json.RawMessage) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.Result = result
	}
}

func WithRetryCount(n int) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.RetryCount = &n
	}
}

func WithAvailableAt(t time.Time) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.AvailableAt = &t
	}
}

func WithProgress(text string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.Progress = &text
	}
}

func applyOptions(opts []JobUpdateOption) *jobUpdateParams {
	params := &jobUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}
	return params
}
