package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a critique job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusQueued     JobStatus = "queued"
	JobStatusAnalyzing  JobStatus = "analyzing"
	JobStatusFinalizing JobStatus = "finalizing"
	JobStatusDone       JobStatus = "done"
	JobStatusFailed     JobStatus = "failed"
)

// MaxRetries is the retry budget of a job.
const MaxRetries = 3

// Terminal reports whether no further automatic transition can happen from s
// for a job holding retryCount.
func (s JobStatus) Terminal(retryCount, maxRetries int) bool {
	switch s {
	case JobStatusDone:
		return true
	case JobStatusFailed:
		return retryCount >= maxRetries
	default:
		return false
	}
}

// Finished reports whether s is done or failed, regardless of retry budget.
func (s JobStatus) Finished() bool {
	return s == JobStatusDone || s == JobStatusFailed
}

// Job tracks one submitted photo critique. The API returns the job_id on
// POST /api/v1/critiques; clients poll GET /api/v1/critiques/{job_id} or
// subscribe to /events until status is done or failed.
type Job struct {
	ID           uuid.UUID       `db:"id"            json:"id"`
	Status       JobStatus       `db:"status"        json:"status"`
	Mode         Mode            `db:"mode"          json:"mode"`
	AdvisorID    string          `db:"advisor_id"    json:"advisor_id"`
	ImageRef     string          `db:"image_ref"     json:"image_ref"`
	RetryCount   int             `db:"retry_count"   json:"retry_count"`
	ProgressText string          `db:"progress_text" json:"progress_text"`
	Result       json.RawMessage `db:"result"        json:"result,omitempty"`
	Error        *string         `db:"error"         json:"error,omitempty"`
	AvailableAt  time.Time       `db:"available_at"  json:"-"`
	CreatedAt    time.Time       `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"    json:"updated_at"`
}
