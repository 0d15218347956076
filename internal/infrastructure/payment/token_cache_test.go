package payment

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestMemoryTokenCache(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cache := NewMemoryTokenCache()
	cache.Now = func() time.Time { return now }

	_, ok, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, cache.Set(ctx, "k", Token{Value: "v", ExpiresAt: now.Add(time.Minute)}))
	token, ok, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v", token.Value)

	now = now.Add(2 * time.Minute)
	_, ok, err = cache.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, cache.Set(ctx, "static", Token{Value: "sk"}))
	_, ok, _ = cache.Get(ctx, "static")
	require.False(t, ok, "tokens without expiry are not cached")
}

func TestRedisTokenCache(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}
	ctx := context.Background()

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	endpoint, err := ctr.Endpoint(ctx, "")
	require.NoError(t, err)

	cache, err := NewRedisTokenCache(ctx, fmt.Sprintf("redis://%s/0", endpoint))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })

	_, ok, err := cache.Get(ctx, "mpesa:abc")
	require.NoError(t, err)
	require.False(t, ok)

	expires := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	require.NoError(t, cache.Set(ctx, "mpesa:abc", Token{Value: "tok", ExpiresAt: expires}))

	token, ok, err := cache.Get(ctx, "mpesa:abc")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "tok", token.Value)
	require.True(t, expires.Equal(token.ExpiresAt))

	ttl, err := cache.client.TTL(ctx, "payments:token:mpesa:abc").Result()
	require.NoError(t, err)
	require.Greater(t, ttl, 59*time.Minute)

	_, err = cache.client.Get(ctx, "payments:token:missing").Result()
	require.ErrorIs(t, err, redis.Nil)
}
