package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/mentorlens/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis spins up a Redis container and returns a connected RedisCache + cleanup.
func setupRedis(t *testing.T) *cache.RedisCache {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	redisURL := "redis://" + host + ":" + port.Port()
	rc, err := cache.NewRedisCache(redisURL)
	require.NoError(t, err)

	return rc
}

func TestNewRedisCache_InvalidURL(t *testing.T) {
	_, err := cache.NewRedisCache("not-a-redis-url")
	assert.Error(t, err)
}

func TestRedisCache_ProfileSetLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	require.NoError(t, rc.Ping(ctx))

	key := cache.ProfileSetKey("adams")
	_, found, err := rc.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, found, "a miss is not an error")

	set := []byte(`[{"advisor_id":"adams","image_ref":"moonrise.jpg"}]`)
	require.NoError(t, rc.Set(ctx, key, set, time.Minute))

	got, found, err := rc.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, found)
	assert.JSONEq(t, string(set), string(got))

	require.NoError(t, rc.Delete(ctx, key))
	_, found, err = rc.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)

	assert.NoError(t, rc.Delete(ctx, key), "deleting an absent set is a no-op")
}

func TestRedisCache_ProfileSetExpires(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	key := cache.PassageSetKey("weston", 3)

	require.NoError(t, rc.Set(ctx, key, []byte("[]"), time.Second))
	ttl, err := rc.Client().TTL(ctx, key).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	assert.Eventually(t, func() bool {
		_, found, err := rc.Get(ctx, key)
		return err == nil && !found
	}, 5*time.Second, 100*time.Millisecond)
}

func TestRedisCache_SubmitCounter(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	key := cache.RateLimitKey("203.0.113.9")

	for want := int64(1); want <= 3; want++ {
		n, err := rc.IncrWithExpiry(ctx, key, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	// Every increment refreshes the window.
	ttl, err := rc.Client().TTL(ctx, key).Result()
	require.NoError(t, err)
	assert.InDelta(t, time.Minute.Seconds(), ttl.Seconds(), 5)

	other, err := rc.IncrWithExpiry(ctx, cache.RateLimitKey("198.51.100.7"), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), other, "clients are counted separately")
}

func TestRedisCache_SubmitCounterWindowResets(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	key := cache.RateLimitKey(uuid.NewString())

	_, err := rc.IncrWithExpiry(ctx, key, time.Second)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		n, err := rc.IncrWithExpiry(ctx, key, 100*time.Millisecond)
		return err == nil && n == 1
	}, 5*time.Second, 200*time.Millisecond)
}

// --- Cache Key Builders ---

func TestProfileSetKey(t *testing.T) {
	assert.Equal(t, "profiles:adams", cache.ProfileSetKey("adams"))
}

func TestPassageSetKey(t *testing.T) {
	assert.Equal(t, "passages:adams:5", cache.PassageSetKey("adams", 5))
}

func TestJobEventsChannel(t *testing.T) {
	jobID := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	assert.Equal(t, "events:job:22222222-2222-2222-2222-222222222222", cache.JobEventsChannel(jobID))
}

func TestRateLimitKey(t *testing.T) {
	key := cache.RateLimitKey("203.0.113.9")
	assert.Equal(t, "ratelimit:203.0.113.9", key)
}

func TestKeyBuilders_NonColliding(t *testing.T) {
	keys := map[string]bool{
		cache.ProfileSetKey("adams"):       true,
		cache.PassageSetKey("adams", 5):    true,
		cache.RateLimitKey("adams"):        true,
		cache.JobEventsChannel(uuid.New()): true,
	}
	assert.Len(t, keys, 4, "all keys should be unique")
}
