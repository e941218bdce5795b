package app_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/kiranshivaraju/mentorlens/internal/app"
	"github.com/kiranshivaraju/mentorlens/internal/config"
	"github.com/kiranshivaraju/mentorlens/internal/inference/mock"
	"github.com/kiranshivaraju/mentorlens/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBackend(t *testing.T) {
	tests := []struct {
		provider string
		wantName string
	}{
		{"ollama", "ollama"},
		{"openai", "openai"},
		{"vllm", "vllm"},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			b, err := app.NewBackend(config.InferenceConfig{
				Provider: tt.provider,
				BaseURL:  "http://localhost:9999",
				Model:    "llava:13b",
			})
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, b.Name())
		})
	}
}

func TestNewBackend_Unknown(t *testing.T) {
	_, err := app.NewBackend(config.InferenceConfig{Provider: "anthropic"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown inference provider")
	assert.Contains(t, err.Error(), "anthropic")
}

func testConfig() *config.Config {
	return &config.Config{
		Inference: config.InferenceConfig{
			CallTimeout:   time.Minute,
			ReadyInterval: 10 * time.Millisecond,
			ReadyWait:     time.Second,
		},
		Worker: config.WorkerConfig{
			PollInterval: 10 * time.Millisecond,
			StaleAfter:   5 * time.Minute,
			MaxRetries:   3,
			BackoffBase:  2 * time.Second,
			BackoffMax:   time.Minute,
		},
		Retrieval: config.RetrievalConfig{
			TopK:              3,
			MaxPassages:       5,
			MaxImageCitations: 2,
			MaxQuoteCitations: 1,
			ProfileCacheTTL:   time.Minute,
		},
	}
}

func TestWorkerConfig(t *testing.T) {
	wc := app.WorkerConfig(testConfig())

	assert.Equal(t, time.Minute, wc.CallTimeout)
	assert.Equal(t, 10*time.Millisecond, wc.PollInterval)
	assert.Equal(t, 3, wc.TopK)
	assert.Equal(t, 5, wc.MaxPassages)
	assert.Equal(t, 2, wc.Limits.MaxImages)
	assert.Equal(t, 1, wc.Limits.MaxQuotes)
	assert.Equal(t, 3, wc.Retry.MaxRetries)
	assert.Equal(t, 2*time.Second, wc.Retry.BaseDelay)
	assert.Equal(t, time.Minute, wc.Retry.MaxDelay)
}

type stubImages struct{}

func (stubImages) Save(context.Context, io.Reader) (string, string, error) {
	return "a.jpg", "image/jpeg", nil
}

func (stubImages) Load(context.Context, string) ([]byte, string, error) {
	return []byte{0xFF, 0xD8, 0xFF}, "image/jpeg", nil
}

func TestNewInMemory_ProcessesJob(t *testing.T) {
	ctx := context.Background()
	svc := app.NewInMemory(testConfig(), mock.NewMockBackend(), stubImages{})
	defer svc.Close()

	job, err := svc.Scheduler.Submit(ctx, "adams", models.ModeBaseline, "a.jpg")
	require.NoError(t, err)
	_, err = svc.Scheduler.Sweep(ctx)
	require.NoError(t, err)

	claimed, err := svc.Scheduler.Next(ctx)
	require.NoError(t, err)
	svc.NewWorker().Process(ctx, claimed)

	got, err := svc.Store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusDone, got.Status)

	families, err := svc.Registry.Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "mentorlens_jobs_completed_total")
	assert.Contains(t, names, "go_goroutines")
}
