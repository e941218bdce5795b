// Package mock provides a scriptable models.InferenceBackend for tests.
package mock

import (
	"context"
	"sync"

	"github.com/kiranshivaraju/mentorlens/internal/inference"
	"github.com/kiranshivaraju/mentorlens/pkg/models"
)

// Backend satisfies models.InferenceBackend for testing. Calls are recorded.
type Backend struct {
	Name_      string
	HealthFunc func(ctx context.Context) (bool, error)
	InferFunc  func(ctx context.Context, req models.InferenceRequest) (*models.InferenceResult, error)

	mu    sync.Mutex
	calls []models.InferenceRequest
}

func (m *Backend) Name() string { return m.Name_ }

func (m *Backend) Health(ctx context.Context) (bool, error) {
	if m.HealthFunc != nil {
		return m.HealthFunc(ctx)
	}
	return true, nil
}

func (m *Backend) Infer(ctx context.Context, req models.InferenceRequest) (*models.InferenceResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()

	if m.InferFunc != nil {
		return m.InferFunc(ctx, req)
	}
	return &models.InferenceResult{Critique: FullCritique(7), ParsePath: inference.ParseStrict, Model: "mock-v1"}, nil
}

// Calls returns a copy of every request received so far.
func (m *Backend) Calls() []models.InferenceRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.InferenceRequest(nil), m.calls...)
}

// NewMockBackend returns a Backend that is always ready and answers every
// request with a fully scored critique.
func NewMockBackend() *Backend {
	return &Backend{Name_: "mock"}
}

// NewFailingBackend returns a Backend whose Infer always returns err.
func NewFailingBackend(err error) *Backend {
	return &Backend{
		Name_: "mock-failing",
		InferFunc: func(_ context.Context, _ models.InferenceRequest) (*models.InferenceResult, error) {
			return nil, err
		},
	}
}

// NewTimeoutBackend returns a Backend that blocks until the context is done.
func NewTimeoutBackend() *Backend {
	return &Backend{
		Name_: "mock-timeout",
		InferFunc: func(ctx context.Context, _ models.InferenceRequest) (*models.InferenceResult, error) {
			<-ctx.Done()
			return nil, inference.ErrInferenceTimeout
		},
	}
}

// FullCritique builds a critique scoring every dimension at score.
func FullCritique(score float64) models.Critique {
	c := models.Critique{
		ImageDescription: "mock image",
		Summary:          "mock summary",
		OverallScore:     &score,
	}
	for _, d := range models.Dimensions {
		s := score
		c.Dimensions = append(c.Dimensions, models.DimensionCritique{
			Name:    d.Key(),
			Score:   &s,
			Comment: "mock " + d.Key(),
		})
	}
	return c
}

// Compile-time check that Backend implements InferenceBackend.
var _ models.InferenceBackend = (*Backend)(nil)
