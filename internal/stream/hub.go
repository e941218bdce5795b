package stream

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Hub is an in-process Broker. It serves single-instance deployments and tests.
type Hub struct {
	mu   sync.Mutex
	subs map[uuid.UUID]map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[uuid.UUID]map[chan Event]struct{})}
}

func (h *Hub) Publish(_ context.Context, e Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[e.JobID] {
		select {
		case ch <- e:
		default: // subscriber is behind; it can re-read the store
		}
	}
	return nil
}

func (h *Hub) Subscribe(ctx context.Context, jobID uuid.UUID) (<-chan Event, error) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	if h.subs[jobID] == nil {
		h.subs[jobID] = make(map[chan Event]struct{})
	}
	h.subs[jobID][ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs[jobID], ch)
		if len(h.subs[jobID]) == 0 {
			delete(h.subs, jobID)
		}
		close(ch)
	}()
	return ch, nil
}

// Subscribers returns the number of live subscribers of jobID.
func (h *Hub) Subscribers(jobID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[jobID])
}

var _ Broker = (*Hub)(nil)
