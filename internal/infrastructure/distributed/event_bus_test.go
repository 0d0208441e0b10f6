package distributed

import (
	"context"
	"os"
	"testing"
	"time"

	"statwindow/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
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

func TestBatchChannel(t *testing.T) {
	assert.Equal(t, "statwindow:batches:abc", BatchChannel("statwindow", "abc"))
}

func TestEventBus_PublishSubscribe(t *testing.T) {
	client := testClient(t)
	logger := zaptest.NewLogger(t).Sugar()
	prefix := "statwindow-test-" + t.Name()

	publisher := NewEventBus(client, prefix, "publisher", logger)
	subscriber := NewEventBus(client, prefix, "subscriber", logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan BatchEvent, 1)
	go subscriber.Subscribe(ctx, "session", func(e BatchEvent) error {
		received <- e
		return nil
	})

	batch := domain.SampleBatch{
		SessionID: "session",
		Partition: domain.Partition{Direction: domain.DirectionOutbound, Kind: domain.MediaKindVideo},
	}
	require.Eventually(t, func() bool {
		publisher.Publish(ctx, batch)
		select {
		case e := <-received:
			assert.Equal(t, "publisher", e.InstanceID)
			assert.Equal(t, batch.Partition, e.Batch.Partition)
			return true
		default:
			return false
		}
	}, 3*time.Second, 100*time.Millisecond)
}

func TestEventBus_PublishFailureIsLogged(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer client.Close()

	bus := NewEventBus(client, "statwindow", "instance", zaptest.NewLogger(t).Sugar())
	assert.NotPanics(t, func() {
		bus.Publish(context.Background(), domain.SampleBatch{SessionID: "s"})
	})
}
