// Package retrieval finds the advisor reference profiles nearest to a query
// profile in the 8-dimension score space.
package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/kiranshivaraju/mentorlens/internal/cache"
	"github.com/kiranshivaraju/mentorlens/pkg/models"
)

// ErrUnscoredQuery is returned when the query profile lacks a full score vector.
var ErrUnscoredQuery = errors.New("query profile is not fully scored")

// Match is one reference profile returned for a query.
type Match struct {
	Profile  *models.DimensionalProfile
	Rank     int
	Distance float64
	// Delta is reference minus query per dimension. Positive means the
	// reference is stronger on that axis.
	Delta models.ScoreVector
}

// Retriever returns up to k nearest reference profiles of an advisor. Fewer
// than k (including zero) is a valid answer.
type Retriever interface {
	Nearest(ctx context.Context, advisorID string, query *models.DimensionalProfile, k int) ([]Match, error)
}

// ProfileSource lists an advisor's reference profiles.
type ProfileSource interface {
	ListProfiles(ctx context.Context, advisorID string) ([]*models.DimensionalProfile, error)
}

// BruteForce scans every reference profile of the advisor. Reference sets are
// small enough (tens to hundreds) that no index is needed.
type BruteForce struct {
	source ProfileSource
	cache  cache.Cache
	ttl    time.Duration
}

// NewBruteForce creates a retriever over source. c may be nil to disable caching.
func NewBruteForce(source ProfileSource, c cache.Cache, ttl time.Duration) *BruteForce {
	return &BruteForce{source: source, cache: c, ttl: ttl}
}

func (r *BruteForce) Nearest(ctx context.Context, advisorID string, query *models.DimensionalProfile, k int) ([]Match, error) {
	if !query.Scored() {
		return nil, ErrUnscoredQuery
	}
	profiles, err := r.load(ctx, advisorID)
	if err != nil {
		return nil, err
	}
	return Rank(*query.Scores, query.ImageRef, profiles, k), nil
}

// Invalidate drops the cached reference set of an advisor.
func (r *BruteForce) Invalidate(ctx context.Context, advisorID string) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Delete(ctx, cache.ProfileSetKey(advisorID))
}

// load reads the reference set through the cache. Cache failures fall back
// to the source.
func (r *BruteForce) load(ctx context.Context, advisorID string) ([]*models.DimensionalProfile, error) {
	key := cache.ProfileSetKey(advisorID)
	if r.cache != nil {
		raw, ok, err := r.cache.Get(ctx, key)
		switch {
		case err != nil:
			slog.Warn("profile cache read failed", "advisor_id", advisorID, "error", err)
		case ok:
			var profiles []*models.DimensionalProfile
			if err := json.Unmarshal(raw, &profiles); err == nil {
				return profiles, nil
			}
			slog.Warn("discarding undecodable profile cache entry", "advisor_id", advisorID)
		}
	}

	profiles, err := r.source.ListProfiles(ctx, advisorID)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}

	if r.cache != nil {
		if raw, err := json.Marshal(profiles); err == nil {
			if err := r.cache.Set(ctx, key, raw, r.ttl); err != nil {
				slog.Warn("profile cache write failed", "advisor_id", advisorID, "error", err)
			}
		}
	}
	return profiles, nil
}

// Rank orders the scored candidates by Euclidean distance to query and returns
// the first k. Unscored candidates and the query's own image are skipped. Ties
// go to the most recently updated profile, then to image_ref, so the output is
// deterministic for a fixed input set.
func Rank(query models.ScoreVector, queryRef string, candidates []*models.DimensionalProfile, k int) []Match {
	matches := make([]Match, 0, len(candidates))
	for _, p := range candidates {
		if !p.Scored() {
			continue
		}
		if queryRef != "" && p.ImageRef == queryRef {
			continue
		}
		var delta models.ScoreVector
		var sum float64
		for i := range delta {
			delta[i] = p.Scores[i] - query[i]
			sum += delta[i] * delta[i]
		}
		matches = append(matches, Match{Profile: p, Distance: math.Sqrt(sum), Delta: delta})
	}

	sort.SliceStable(matches, func(a, b int) bool {
		ma, mb := matches[a], matches[b]
		if ma.Distance != mb.Distance {
			return ma.Distance < mb.Distance
		}
		ta, tb := recency(ma.Profile), recency(mb.Profile)
		if !ta.Equal(tb) {
			return ta.After(tb)
		}
		return ma.Profile.ImageRef < mb.Profile.ImageRef
	})

	if k < 0 {
		k = 0
	}
	if len(matches) > k {
		matches = matches[:k]
	}
	for i := range matches {
		matches[i].Rank = i + 1
	}
	return matches
}

func recency(p *models.DimensionalProfile) time.Time {
	if !p.UpdatedAt.IsZero() {
		return p.UpdatedAt
	}
	return p.CreatedAt
}

var _ Retriever = (*BruteForce)(nil)
