//go:build integration

package idempotency

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

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
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate redis container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, rdb.Ping(ctx).Err())
	return rdb
}

func TestRedisStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	rdb := setupRedis(t)
	s := NewRedisStore(rdb, time.Minute)
	key := OrderCreateKey("client-1")

	id, err := s.Claim(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, id)

	_, err = s.Claim(ctx, key)
	assert.ErrorIs(t, err, ErrInFlight)

	require.NoError(t, s.Complete(ctx, key, "ORD-1"))
	id, err = s.Claim(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "ORD-1", id)

	ttl, err := rdb.TTL(ctx, key).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, s.Release(ctx, key))
	id, err = s.Claim(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, id)
}
