package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"statwindow/internal/core/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// newTestClient connects to the Redis named by STATWINDOW_TEST_REDIS or
// skips the test.
func newTestClient(t *testing.T) ClientOptions {
	t.Helper()
	addr := os.Getenv("STATWINDOW_TEST_REDIS")
	if addr == "" {
		t.Skip("STATWINDOW_TEST_REDIS not set")
	}
	return ClientOptions{Address: addr, PoolSize: 2, KeyPrefix: "statwindow-test-" + uuid.NewString()}
}

func TestRedisStateStore_RoundTrip(t *testing.T) {
	opts := newTestClient(t)
	client, err := NewRedisClient(opts, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { _ = CloseRedisClient(client) })

	ctx := context.Background()
	partition := domain.Partition{Direction: domain.DirectionInbound, Kind: domain.MediaKindAudio}
	store := NewRedisStateStore(client, opts.KeyPrefix, "session", partition, time.Minute)
	t.Cleanup(func() { _ = store.Clear(ctx) })

	key := domain.StreamKey{Direction: partition.Direction, Kind: partition.Kind, StreamID: domain.NoRID}
	_, ok, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	report := domain.ClassifiedReport{
		Direction:       partition.Direction,
		Kind:            partition.Kind,
		StreamID:        domain.NoRID,
		SSRC:            42,
		Timestamp:       domain.Present(1000),
		PacketsReceived: domain.Present(95),
		PacketsLost:     domain.Present(5),
		NackCount:       domain.Absent(),
	}
	require.NoError(t, store.Put(ctx, key, report))

	got, ok, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, report.SSRC, got.SSRC)
	assert.Equal(t, report.PacketsLost, got.PacketsLost)
	assert.True(t, got.NackCount.IsAbsent())

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, store.Clear(ctx))
	n, err = store.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRedisStateStore_RejectsForeignPartition(t *testing.T) {
	store := NewRedisStateStore(nil, "p", "s", domain.Partition{Direction: domain.DirectionOutbound, Kind: domain.MediaKindVideo}, 0)

	foreign := domain.StreamKey{Direction: domain.DirectionOutbound, Kind: domain.MediaKindAudio, StreamID: "h"}
	_, _, err := store.Get(context.Background(), foreign)
	assert.Error(t, err)
	assert.Error(t, store.Put(context.Background(), foreign, domain.ClassifiedReport{}))
}
