package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"statwindow/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// BatchEvent is the message published for every sample batch.
type BatchEvent struct {
	InstanceID string             `json:"instance_id"`
	Timestamp  time.Time          `json:"timestamp"`
	Batch      domain.SampleBatch `json:"batch"`
}

// BatchChannel is the pub/sub channel of a session's batches.
func BatchChannel(prefix string, session domain.SessionID) string {
	return fmt.Sprintf("%s:batches:%s", prefix, session)
}

// EventBus publishes sample batches on Redis pub/sub so other processes
// can follow a session. It is a report sink.
type EventBus struct {
	client     *redis.Client
	instanceID string
	prefix     string
	timeout    time.Duration
	logger     *zap.SugaredLogger
}

func NewEventBus(client *redis.Client, prefix, instanceID string, logger *zap.SugaredLogger) *EventBus {
	return &EventBus{
		client:     client,
		instanceID: instanceID,
		prefix:     prefix,
		timeout:    time.Second,
		logger:     logger,
	}
}

// Publish sends batch on its session channel. Failures are logged; a
// missing subscriber is not an error.
func (eb *EventBus) Publish(ctx context.Context, batch domain.SampleBatch) {
	data, err := json.Marshal(BatchEvent{
		InstanceID: eb.instanceID,
		Timestamp:  time.Now(),
		Batch:      batch,
	})
	if err != nil {
		eb.logger.Warnw("failed to marshal batch event", "partition", batch.Partition.String(), "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), eb.timeout)
	defer cancel()

	channel := BatchChannel(eb.prefix, batch.SessionID)
	if err := eb.client.Publish(ctx, channel, data).Err(); err != nil {
		eb.logger.Warnw("failed to publish batch event", "channel", channel, "error", err)
		return
	}
	eb.logger.Debugw("published batch event", "channel", channel, "partition", batch.Partition.String())
}

// Subscribe calls handler for every batch of session until ctx is done.
// Batches published by this instance are skipped.
func (eb *EventBus) Subscribe(ctx context.Context, session domain.SessionID, handler func(BatchEvent) error) error {
	pubsub := eb.client.Subscribe(ctx, BatchChannel(eb.prefix, session))
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event BatchEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				eb.logger.Warnw("failed to unmarshal batch event", "error", err)
				continue
			}
			if event.InstanceID == eb.instanceID {
				continue
			}
			if err := handler(event); err != nil {
				eb.logger.Warnw("error handling batch event",
					"partition", event.Batch.Partition.String(),
					"error", err,
				)
			}
		}
	}
}
