package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/kiranshivaraju/mentorlens/internal/api/response"
	"github.com/kiranshivaraju/mentorlens/pkg/models"
)

// Pinger is a dependency that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecks are the dependencies reported by the health endpoint. Nil
// entries are skipped.
type HealthChecks struct {
	Database Pinger
	Cache    Pinger
	Backend  models.InferenceBackend
}

const healthCheckTimeout = 3 * time.Second

// NewHealthHandler returns an http.HandlerFunc for GET /api/v1/health. It
// answers 503 while any dependency is down or the model is still loading.
func NewHealthHandler(c HealthChecks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		checks := map[string]string{}
		if c.Database != nil {
			checks["database"] = pingStatus(ctx, c.Database)
		}
		if c.Cache != nil {
			checks["cache"] = pingStatus(ctx, c.Cache)
		}
		if c.Backend != nil {
			ready, err := c.Backend.Health(ctx)
			switch {
			case err != nil:
				checks["inference"] = "degraded"
			case !ready:
				checks["inference"] = "loading"
			default:
				checks["inference"] = "ok"
			}
		}

		for _, status := range checks {
			if status != "ok" {
				response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
					"One or more services degraded", checks)
				return
			}
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}

func pingStatus(ctx context.Context, p Pinger) string {
	if err := p.Ping(ctx); err != nil {
		return "degraded"
	}
	return "ok"
}
