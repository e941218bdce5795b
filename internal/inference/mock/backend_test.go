package mock_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kiranshivaraju/mentorlens/internal/inference"
	"github.com/kiranshivaraju/mentorlens/internal/inference/mock"
	"github.com/kiranshivaraju/mentorlens/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockBackend_Defaults(t *testing.T) {
	b := mock.NewMockBackend()
	assert.Equal(t, "mock", b.Name())

	ready, err := b.Health(context.Background())
	require.NoError(t, err)
	assert.True(t, ready)

	res, err := b.Infer(context.Background(), models.InferenceRequest{AdvisorID: "adams"})
	require.NoError(t, err)
	assert.True(t, res.Critique.Profile("user", "x.jpg").Scored())

	calls := b.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "adams", calls[0].AdvisorID)
}

func TestFailingBackend(t *testing.T) {
	boom := errors.New("boom")
	b := mock.NewFailingBackend(boom)
	_, err := b.Infer(context.Background(), models.InferenceRequest{})
	assert.ErrorIs(t, err, boom)
}

func TestTimeoutBackend(t *testing.T) {
	b := mock.NewTimeoutBackend()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := b.Infer(ctx, models.InferenceRequest{})
	assert.ErrorIs(t, err, inference.ErrInferenceTimeout)
}
