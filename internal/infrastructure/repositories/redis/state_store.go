package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"statwindow/internal/core/domain"
	"statwindow/internal/core/ports"
	apperrors "statwindow/pkg/errors"

	"github.com/redis/go-redis/v9"
)

// RedisStateStore keeps the latest report of each stream of one partition in
// a single hash, field = stream identifier, value = JSON report.
type RedisStateStore struct {
	client    *redis.Client
	partition domain.Partition
	key       string
	ttl       time.Duration
}

// NewRedisStateStore returns the store of one partition. A positive ttl
// expires the whole hash when it is not written for that long.
func NewRedisStateStore(client *redis.Client, prefix string, session domain.SessionID, partition domain.Partition, ttl time.Duration) ports.StreamStateStore {
	return &RedisStateStore{
		client:    client,
		partition: partition,
		key:       fmt.Sprintf("%s:state:%s:%s", prefix, session, partition),
		ttl:       ttl,
	}
}

func (s *RedisStateStore) check(key domain.StreamKey) error {
	if key.Partition() != s.partition {
		return fmt.Errorf("stream key %s/%s does not belong to partition %s", key.Partition(), key.StreamID, s.partition)
	}
	return nil
}

func (s *RedisStateStore) Get(ctx context.Context, key domain.StreamKey) (domain.ClassifiedReport, bool, error) {
	if err := s.check(key); err != nil {
		return domain.ClassifiedReport{}, false, err
	}

	data, err := s.client.HGet(ctx, s.key, string(key.StreamID)).Result()
	if err == redis.Nil {
		return domain.ClassifiedReport{}, false, nil
	}
	if err != nil {
		return domain.ClassifiedReport{}, false, apperrors.NewStoreUnavailable(fmt.Errorf("failed to get report from Redis: %w", err))
	}

	var report domain.ClassifiedReport
	if err := json.Unmarshal([]byte(data), &report); err != nil {
		return domain.ClassifiedReport{}, false, fmt.Errorf("failed to unmarshal report: %w", err)
	}
	return report, true, nil
}

func (s *RedisStateStore) Put(ctx context.Context, key domain.StreamKey, report domain.ClassifiedReport) error {
	if err := s.check(key); err != nil {
		return err
	}

	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.key, string(key.StreamID), data)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return apperrors.NewStoreUnavailable(fmt.Errorf("failed to store report in Redis: %w", err))
	}
	return nil
}

func (s *RedisStateStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return apperrors.NewStoreUnavailable(fmt.Errorf("failed to clear reports in Redis: %w", err))
	}
	return nil
}

func (s *RedisStateStore) Len(ctx context.Context) (int, error) {
	n, err := s.client.HLen(ctx, s.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count reports in Redis: %w", err)
	}
	return int(n), nil
}
