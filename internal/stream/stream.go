// Package stream fans job status events out to live subscribers. Delivery is
// best effort: the job store stays the source of truth and a subscriber that
// misses an event can always re-read the job.
package stream

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/mentorlens/pkg/models"
)

// EventType distinguishes state changes from generation progress.
type EventType string

const (
	EventStatusUpdate   EventType = "status_update"
	EventThinkingUpdate EventType = "thinking_update"
)

// Event is one message on a job's stream.
type Event struct {
	Type         EventType        `json:"type"`
	JobID        uuid.UUID        `json:"job_id"`
	Status       models.JobStatus `json:"status,omitempty"`
	ProgressText string           `json:"progress_text,omitempty"`
	RetryCount   int              `json:"retry_count"`
	Error        *string          `json:"error,omitempty"`
	Result       json.RawMessage  `json:"result,omitempty"`
	Timestamp    time.Time        `json:"timestamp"`
}

// StatusEvent snapshots job as a status_update.
func StatusEvent(job *models.Job) Event {
	return Event{
		Type:         EventStatusUpdate,
		JobID:        job.ID,
		Status:       job.Status,
		ProgressText: job.ProgressText,
		RetryCount:   job.RetryCount,
		Error:        job.Error,
		Result:       job.Result,
		Timestamp:    job.UpdatedAt,
	}
}

// ThinkingEvent carries partial generator output for a job.
func ThinkingEvent(jobID uuid.UUID, text string) Event {
	return Event{
		Type:         EventThinkingUpdate,
		JobID:        jobID,
		ProgressText: text,
		Timestamp:    time.Now().UTC(),
	}
}

// Terminal reports whether e is the last event a job will produce.
func (e Event) Terminal() bool {
	return e.Type == EventStatusUpdate && e.Status.Finished()
}

// Broker publishes job events and delivers them to subscribers of that job.
// Implementations must be safe for concurrent use.
type Broker interface {
	Publish(ctx context.Context, e Event) error
	// Subscribe returns a channel of the job's events. The channel is closed
	// once ctx is done. Slow subscribers lose events rather than block publishers.
	Subscribe(ctx context.Context, jobID uuid.UUID) (<-chan Event, error)
}

// subscriberBuffer is the per-subscriber channel capacity.
const subscriberBuffer = 32
