package middleware_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	mw "github.com/kiranshivaraju/mentorlens/internal/api/middleware"
	"github.com/kiranshivaraju/mentorlens/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock Cache ---

type mockCache struct {
	counts map[string]int64
	err    error
}

func newMockCache() *mockCache {
	return &mockCache{counts: make(map[string]int64)}
}

func (m *mockCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error { return nil }
func (m *mockCache) Get(_ context.Context, _ string) ([]byte, bool, error)            { return nil, false, nil }
func (m *mockCache) Delete(_ context.Context, _ string) error                          { return nil }
func (m *mockCache) Ping(_ context.Context) error                                      { return nil }
func (m *mockCache) IncrWithExpiry(_ context.Context, key string, _ time.Duration) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.counts[key]++
	return m.counts[key], nil
}

var _ cache.Cache = (*mockCache)(nil)

// --- helpers ---

func okHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
}

func errBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body["error"].(map[string]any)
}

func requestFrom(addr string) *http.Request {
	req := httptest.NewRequest("POST", "/api/v1/critiques", nil)
	req.RemoteAddr = addr
	return req
}

// ========================================
// Rate Limit Middleware Tests
// ========================================

func TestRateLimit_AllowsUnderLimit(t *testing.T) {
	rl := mw.NewRateLimit(newMockCache(), 30)
	handler := rl.Limit(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("10.0.0.1:5123"))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "30", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "29", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
}

func TestRateLimit_RejectsOverLimit(t *testing.T) {
	mc := newMockCache()
	mc.counts[cache.RateLimitKey("10.0.0.2")] = 2
	rl := mw.NewRateLimit(mc, 2)
	handler := rl.Limit(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("10.0.0.2:4000"))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", errBody(t, w)["code"])
}

func TestRateLimit_KeyedByClientIP(t *testing.T) {
	mc := newMockCache()
	rl := mw.NewRateLimit(mc, 1)
	handler := rl.Limit(okHandler())

	// Different source ports of one client share a window.
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("10.0.0.3:1111"))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("10.0.0.3:2222"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("10.0.0.4:1111"))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimit_CacheError_FailsOpen(t *testing.T) {
	mc := newMockCache()
	mc.err = errors.New("redis down")
	rl := mw.NewRateLimit(mc, 1)

	w := httptest.NewRecorder()
	rl.Limit(okHandler()).ServeHTTP(w, requestFrom("10.0.0.5:1"))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
}

func TestRateLimit_NilCache_PassThrough(t *testing.T) {
	rl := mw.NewRateLimit(nil, 1)

	w := httptest.NewRecorder()
	rl.Limit(okHandler()).ServeHTTP(w, requestFrom("10.0.0.6:1"))

	assert.Equal(t, http.StatusOK, w.Code)
}

// ========================================
// Recovery Middleware Tests
// ========================================

func TestRecovery_CatchesPanic(t *testing.T) {
	panicking := http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		panic("something went wrong")
	})

	handler := mw.Recovery(panicking)

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INTERNAL_ERROR", errBody(t, w)["code"])
}

func TestRecovery_RepanicsOnAbort(t *testing.T) {
	aborting := http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		panic(http.ErrAbortHandler)
	})

	handler := mw.Recovery(aborting)
	req := httptest.NewRequest("GET", "/test", nil)

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		handler.ServeHTTP(httptest.NewRecorder(), req)
	})
}

func TestRecovery_NoPanic(t *testing.T) {
	handler := mw.Recovery(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

// ========================================
// Logging Middleware Tests
// ========================================

func TestLogger_SetsStatus(t *testing.T) {
	handler := mw.Logger(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLogger_PreservesFlusher(t *testing.T) {
	var flushed bool
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, ok := w.(http.Flusher)
		require.True(t, ok)
		require.NoError(t, http.NewResponseController(w).Flush())
		flushed = true
	})

	w := httptest.NewRecorder()
	mw.Logger(inner).ServeHTTP(w, httptest.NewRequest("GET", "/events", nil))

	assert.True(t, flushed)
	assert.True(t, w.Flushed)
}
