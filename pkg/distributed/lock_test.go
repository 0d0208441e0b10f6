package distributed

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("STATWINDOW_TEST_REDIS")
	if addr == "" {
		t.Skip("STATWINDOW_TEST_REDIS not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())
	return client
}

func TestLock_SingleHolder(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()
	key := "statwindow-test:lock:" + t.Name()
	t.Cleanup(func() { client.Del(ctx, key) })

	first := NewLock(client, key, 5*time.Second)
	second := NewLock(client, key, 5*time.Second)

	ok, err := first.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = second.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, second.Release(ctx), ErrNotHeld)
	require.NoError(t, first.Release(ctx))

	ok, err = second.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, second.Release(ctx))
}

func TestLock_AcquireTimesOut(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()
	key := "statwindow-test:lock:" + t.Name()
	t.Cleanup(func() { client.Del(ctx, key) })

	holder := NewLock(client, key, 5*time.Second)
	require.NoError(t, holder.Acquire(ctx, time.Second))
	defer holder.Release(ctx)

	err := NewLock(client, key, 5*time.Second).Acquire(ctx, 200*time.Millisecond)
	assert.ErrorIs(t, err, ErrLockTimeout)
}

func TestWithLock_ReleasesAfterError(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()
	key := "statwindow-test:lock:" + t.Name()
	t.Cleanup(func() { client.Del(ctx, key) })

	boom := errors.New("boom")
	err := WithLock(ctx, NewLock(client, key, 5*time.Second), time.Second, func(context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)

	n, err := client.Exists(ctx, key).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLock_UnreachableRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer client.Close()

	_, err := NewLock(client, "k", time.Second).TryAcquire(context.Background())
	assert.Error(t, err)
}
