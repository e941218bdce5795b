package stream_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/mentorlens/internal/stream"
	"github.com/kiranshivaraju/mentorlens/pkg/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/goleak"
)

func receive(t *testing.T, ch <-chan stream.Event) stream.Event {
	t.Helper()
	select {
	case e, ok := <-ch:
		require.True(t, ok, "channel closed")
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return stream.Event{}
	}
}

func waitClosed(t *testing.T, ch <-chan stream.Event) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel not closed")
		}
	}
}

func TestStatusEvent(t *testing.T) {
	msg := "backend unavailable"
	job := &models.Job{ID: uuid.New(), Status: models.JobStatusFailed, RetryCount: 3, Error: &msg}

	e := stream.StatusEvent(job)
	assert.Equal(t, stream.EventStatusUpdate, e.Type)
	assert.Equal(t, job.ID, e.JobID)
	assert.Equal(t, 3, e.RetryCount)
	assert.True(t, e.Terminal())

	raw, err := json.Marshal(e)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"type":"status_update"`)
	assert.Contains(t, string(raw), `"job_id":"`+job.ID.String()+`"`)
}

func TestThinkingEvent_NeverTerminal(t *testing.T) {
	e := stream.ThinkingEvent(uuid.New(), `{"dimensions":[`)
	assert.Equal(t, stream.EventThinkingUpdate, e.Type)
	assert.False(t, e.Terminal())
}

func TestHub_DeliversToJobSubscribersOnly(t *testing.T) {
	defer goleak.VerifyNone(t)

	hub := stream.NewHub()
	ctx, cancel := context.WithCancel(context.Background())

	jobA, jobB := uuid.New(), uuid.New()
	subA, err := hub.Subscribe(ctx, jobA)
	require.NoError(t, err)
	subB, err := hub.Subscribe(ctx, jobB)
	require.NoError(t, err)

	require.NoError(t, hub.Publish(ctx, stream.Event{Type: stream.EventStatusUpdate, JobID: jobA, Status: models.JobStatusAnalyzing}))

	e := receive(t, subA)
	assert.Equal(t, models.JobStatusAnalyzing, e.Status)
	select {
	case e := <-subB:
		t.Fatalf("unexpected event for other job: %+v", e)
	default:
	}

	cancel()
	waitClosed(t, subA)
	waitClosed(t, subB)
	assert.Eventually(t, func() bool { return hub.Subscribers(jobA) == 0 }, time.Second, 10*time.Millisecond)
}

func TestHub_SlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	defer goleak.VerifyNone(t)

	hub := stream.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobID := uuid.New()
	sub, err := hub.Subscribe(ctx, jobID)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			_ = hub.Publish(ctx, stream.ThinkingEvent(jobID, "x"))
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publisher blocked on slow subscriber")
	}
	assert.NotEmpty(t, sub)

	cancel()
	waitClosed(t, sub)
}

func TestHub_PublishWithoutSubscribers(t *testing.T) {
	hub := stream.NewHub()
	assert.NoError(t, hub.Publish(context.Background(), stream.ThinkingEvent(uuid.New(), "x")))
}

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisBroker_PublishSubscribe(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	broker := stream.NewRedisBroker(setupRedis(t))
	ctx, cancel := context.WithCancel(context.Background())

	jobID := uuid.New()
	sub, err := broker.Subscribe(ctx, jobID)
	require.NoError(t, err)

	require.NoError(t, broker.Publish(ctx, stream.ThinkingEvent(jobID, "partial")))
	require.NoError(t, broker.Publish(ctx, stream.StatusEvent(&models.Job{ID: jobID, Status: models.JobStatusDone})))
	require.NoError(t, broker.Publish(ctx, stream.ThinkingEvent(uuid.New(), "other job")))

	first := receive(t, sub)
	assert.Equal(t, stream.EventThinkingUpdate, first.Type)
	assert.Equal(t, "partial", first.ProgressText)

	second := receive(t, sub)
	assert.True(t, second.Terminal())
	assert.Equal(t, jobID, second.JobID)

	cancel()
	waitClosed(t, sub)
}
