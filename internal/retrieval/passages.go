package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/mentorlens/internal/cache"
	"github.com/kiranshivaraju/mentorlens/pkg/models"
)

// PassageSource returns an advisor's quotable passages, best first.
type PassageSource interface {
	TopPassages(ctx context.Context, advisorID string, n int) ([]*models.Passage, error)
}

// CachedPassages fronts a PassageSource with the shared cache.
type CachedPassages struct {
	source PassageSource
	cache  cache.Cache
	ttl    time.Duration
}

func NewCachedPassages(source PassageSource, c cache.Cache, ttl time.Duration) *CachedPassages {
	return &CachedPassages{source: source, cache: c, ttl: ttl}
}

func (p *CachedPassages) TopPassages(ctx context.Context, advisorID string, n int) ([]*models.Passage, error) {
	key := cache.PassageSetKey(advisorID, n)
	if p.cache != nil {
		raw, ok, err := p.cache.Get(ctx, key)
		if err != nil {
			slog.Warn("passage cache read failed", "advisor_id", advisorID, "error", err)
		} else if ok {
			var passages []*models.Passage
			if err := json.Unmarshal(raw, &passages); err == nil {
				return passages, nil
			}
		}
	}

	passages, err := p.source.TopPassages(ctx, advisorID, n)
	if err != nil {
		return nil, fmt.Errorf("top passages: %w", err)
	}
	if p.cache != nil {
		if raw, err := json.Marshal(passages); err == nil {
			if err := p.cache.Set(ctx, key, raw, p.ttl); err != nil {
				slog.Warn("passage cache write failed", "advisor_id", advisorID, "error", err)
			}
		}
	}
	return passages, nil
}

// Invalidate drops the cached top-n passage set of an advisor.
func (p *CachedPassages) Invalidate(ctx context.Context, advisorID string, n int) error {
	if p.cache == nil {
		return nil
	}
	return p.cache.Delete(ctx, cache.PassageSetKey(advisorID, n))
}

var _ PassageSource = (*CachedPassages)(nil)
