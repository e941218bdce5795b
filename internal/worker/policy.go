package worker

import (
	"time"

	"github.com/kiranshivaraju/mentorlens/pkg/models"
)

// RetryPolicy bounds how often a job is re-attempted after a retryable
// failure and how long it waits before the next attempt.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryPolicy allows three retries with 5s, 10s, 20s backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: models.MaxRetries,
		BaseDelay:  5 * time.Second,
		MaxDelay:   2 * time.Minute,
	}
}

// Exhausted reports whether a job holding retryCount has no attempts left.
func (p RetryPolicy) Exhausted(retryCount int) bool {
	return retryCount >= p.MaxRetries
}

// Backoff returns the delay before the attempt following the retryCount-th
// failure: BaseDelay doubled per prior retry, capped at MaxDelay.
func (p RetryPolicy) Backoff(retryCount int) time.Duration {
	if retryCount < 1 || p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay
	for i := 1; i < retryCount; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}
