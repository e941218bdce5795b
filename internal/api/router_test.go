package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/mentorlens/internal/api"
	mw "github.com/kiranshivaraju/mentorlens/internal/api/middleware"
	"github.com/kiranshivaraju/mentorlens/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- stub cache ---

type stubCache struct {
	count int64
}

func (c *stubCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error { return nil }
func (c *stubCache) Get(_ context.Context, _ string) ([]byte, bool, error)            { return nil, false, nil }
func (c *stubCache) Delete(_ context.Context, _ string) error                          { return nil }
func (c *stubCache) Ping(_ context.Context) error                                      { return nil }
func (c *stubCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	c.count++
	return c.count, nil
}

var _ cache.Cache = (*stubCache)(nil)

// --- router tests ---

func echoParam(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chi.URLParam(r, name)))
	}
}

func newTestRouter(c cache.Cache) http.Handler {
	return api.NewRouter(api.Dependencies{
		RateLimit: mw.NewRateLimit(c, 1),
		HealthHandler: func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		},
		SubmitHandler: func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusAccepted)
		},
		GetCritiqueHandler:  echoParam("jobID"),
		ListProfilesHandler: echoParam("advisorID"),
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte("# metrics"))
		}),
	})
}

func TestRouter_HealthEndpoint(t *testing.T) {
	router := newTestRouter(&stubCache{})

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_RoutesParams(t *testing.T) {
	router := newTestRouter(&stubCache{})

	tests := []struct {
		path string
		want string
	}{
		{"/api/v1/critiques/2f0c7c0e-4b7b-4d8e-9d0a-0c3c1b2a9f10", "2f0c7c0e-4b7b-4d8e-9d0a-0c3c1b2a9f10"},
		{"/api/v1/advisors/adams/profiles", "adams"},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", tt.path, nil))
		assert.Equal(t, http.StatusOK, w.Code, tt.path)
		assert.Equal(t, tt.want, w.Body.String())
	}
}

func TestRouter_SubmitIsRateLimited(t *testing.T) {
	router := newTestRouter(&stubCache{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/critiques", nil))
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/critiques", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// Reads are not limited.
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/advisors/adams/profiles", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_UnwiredEndpoints(t *testing.T) {
	router := newTestRouter(&stubCache{})

	endpoints := []struct {
		method string
		path   string
	}{
		{"GET", "/api/v1/critiques/2f0c7c0e-4b7b-4d8e-9d0a-0c3c1b2a9f10/events"},
		{"POST", "/api/v1/critiques/2f0c7c0e-4b7b-4d8e-9d0a-0c3c1b2a9f10/retry"},
	}

	for _, ep := range endpoints {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			req := httptest.NewRequest(ep.method, ep.path, nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusNotImplemented, w.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			errObj := body["error"].(map[string]any)
			assert.Equal(t, "NOT_IMPLEMENTED", errObj["code"])
		})
	}
}

func TestRouter_Metrics(t *testing.T) {
	router := newTestRouter(&stubCache{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "# metrics", w.Body.String())
}

func TestRouter_NotFound(t *testing.T) {
	router := newTestRouter(&stubCache{})

	req := httptest.NewRequest("GET", "/api/v1/nonexistent", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
