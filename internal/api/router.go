package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/mentorlens/internal/api/middleware"
	"github.com/kiranshivaraju/mentorlens/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	RateLimit *mw.RateLimit

	HealthHandler       http.HandlerFunc
	SubmitHandler       http.HandlerFunc
	GetCritiqueHandler  http.HandlerFunc
	EventsHandler       http.HandlerFunc
	RetryHandler        http.HandlerFunc
	ListProfilesHandler http.HandlerFunc
	MetricsHandler      http.Handler
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/api/v1/critiques", func(r chi.Router) {
		r.With(deps.RateLimit.Limit).Post("/", orNotImplemented(deps.SubmitHandler))
		r.Get("/{jobID}", orNotImplemented(deps.GetCritiqueHandler))
		r.Get("/{jobID}/events", orNotImplemented(deps.EventsHandler))
		r.Post("/{jobID}/retry", orNotImplemented(deps.RetryHandler))
	})

	r.Get("/api/v1/advisors/{advisorID}/profiles", orNotImplemented(deps.ListProfilesHandler))

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
