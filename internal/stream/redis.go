package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/mentorlens/internal/cache"
	"github.com/redis/go-redis/v9"
)

// RedisBroker carries job events over Redis Pub/Sub so that API instances
// other than the one running the worker can stream them.
type RedisBroker struct {
	client *redis.Client
}

func NewRedisBroker(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client}
}

func (b *RedisBroker) Publish(ctx context.Context, e Event) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	if err := b.client.Publish(ctx, cache.JobEventsChannel(e.JobID), raw).Err(); err != nil {
		return fmt.Errorf("publishing event: %w", err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, jobID uuid.UUID) (<-chan Event, error) {
	ps := b.client.Subscribe(ctx, cache.JobEventsChannel(jobID))
	// Wait for the subscription confirmation so no event published after
	// Subscribe returns is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribing to job events: %w", err)
	}

	out := make(chan Event, subscriberBuffer)
	go func() {
		defer close(out)
		defer ps.Close()

		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var e Event
				if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
					slog.Warn("discarding undecodable job event", "job_id", jobID, "error", err)
					continue
				}
				select {
				case out <- e:
				default:
				}
			}
		}
	}()
	return out, nil
}

var _ Broker = (*RedisBroker)(nil)
