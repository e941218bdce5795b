package cache

import (
	"fmt"

	"github.com/google/uuid"
)

// ProfileSetKey holds the serialized reference profiles of one advisor.
func ProfileSetKey(advisorID string) string {
	return fmt.Sprintf("profiles:%s", advisorID)
}

// PassageSetKey holds the top n passages of one advisor.
func PassageSetKey(advisorID string, n int) string {
	return fmt.Sprintf("passages:%s:%d", advisorID, n)
}

func RateLimitKey(client string) string {
	return fmt.Sprintf("ratelimit:%s", client)
}

// JobEventsChannel is the pub/sub channel carrying status events for one job.
func JobEventsChannel(jobID uuid.UUID) string {
	return fmt.Sprintf("events:job:%s", jobID)
}
