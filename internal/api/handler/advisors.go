package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/mentorlens/internal/api/response"
	"github.com/kiranshivaraju/mentorlens/pkg/models"
)

// ProfileLister lists an advisor's reference profiles.
type ProfileLister interface {
	ListProfiles(ctx context.Context, advisorID string) ([]*models.DimensionalProfile, error)
}

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// ProfileView is the API form of a reference profile, with scores keyed by
// dimension name.
type ProfileView struct {
	AdvisorID    string             `json:"advisor_id"`
	ImageRef     string             `json:"image_ref"`
	Title        string             `json:"title,omitempty"`
	Source       string             `json:"source,omitempty"`
	Year         int                `json:"year,omitempty"`
	Scored       bool               `json:"scored"`
	Scores       map[string]float64 `json:"scores,omitempty"`
	OverallGrade *float64           `json:"overall_grade,omitempty"`
	Description  string             `json:"description,omitempty"`
}

func newProfileView(p *models.DimensionalProfile) ProfileView {
	v := ProfileView{
		AdvisorID:    p.AdvisorID,
		ImageRef:     p.ImageRef,
		Title:        p.Title,
		Source:       p.Source,
		Year:         p.Year,
		Scored:       p.Scored(),
		OverallGrade: p.OverallGrade,
		Description:  p.Description,
	}
	if p.Scored() {
		v.Scores = p.Scores.Map()
	}
	return v
}

// NewListProfilesHandler returns an http.HandlerFunc for
// GET /api/v1/advisors/{advisorID}/profiles?page=&limit=.
func NewListProfilesHandler(profiles ProfileLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		advisorID := chi.URLParam(r, "advisorID")

		page, err := queryInt(r, "page", 1)
		if err != nil || page < 1 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "page must be a positive integer", nil)
			return
		}
		limit, err := queryInt(r, "limit", defaultPageLimit)
		if err != nil || limit < 1 || limit > maxPageLimit {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be between 1 and 200", nil)
			return
		}

		all, err := profiles.ListProfiles(r.Context(), advisorID)
		if err != nil {
			slog.Error("listing profiles failed", "advisor_id", advisorID, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list profiles", nil)
			return
		}

		start := min((page-1)*limit, len(all))
		end := min(start+limit, len(all))
		views := make([]ProfileView, 0, end-start)
		for _, p := range all[start:end] {
			views = append(views, newProfileView(p))
		}

		response.Collection(w, views, response.PaginationMeta{
			Page:    page,
			Limit:   limit,
			Total:   len(all),
			HasNext: end < len(all),
		})
	}
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
