package repositories

import (
	"context"
	"time"

	"statwindow/internal/core/domain"
	"statwindow/internal/core/ports"
	"statwindow/internal/infrastructure/repositories/memory"
	redisrepo "statwindow/internal/infrastructure/repositories/redis"
	"statwindow/pkg/config"
	"statwindow/pkg/retry"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory creates stream state stores, backed by Redis when
// enabled and reachable, otherwise by memory.
type RepositoryFactory struct {
	useRedis    bool
	redisClient *redis.Client
	cfg         *config.Config
	logger      *zap.SugaredLogger
}

// NewRepositoryFactory creates a new repository factory
func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	factory := &RepositoryFactory{
		useRedis: cfg.Redis.Enabled,
		cfg:      cfg,
		logger:   logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(redisrepo.ClientOptions{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			PoolSize:  cfg.Redis.PoolSize,
			KeyPrefix: cfg.Redis.KeyPrefix,
			ConnectRetry: retry.Config{
				MaxAttempts:  cfg.Redis.ConnectAttempts,
				InitialDelay: 200 * time.Millisecond,
				MaxDelay:     2 * time.Second,
				Multiplier:   2,
				Jitter:       true,
			},
		}, logger)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory state stores",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using Redis state stores")
		}
	}

	if !factory.useRedis {
		logger.Info("using memory state stores")
	}

	return factory, nil
}

// UsesRedis reports whether stores are Redis backed.
func (f *RepositoryFactory) UsesRedis() bool {
	return f.useRedis && f.redisClient != nil
}

// CreateStateStores returns one store per (direction, kind) partition of
// the session.
func (f *RepositoryFactory) CreateStateStores(session domain.SessionID) map[domain.Partition]ports.StreamStateStore {
	if !f.UsesRedis() {
		return memory.NewMemoryStateStores()
	}

	stores := make(map[domain.Partition]ports.StreamStateStore)
	for _, p := range domain.Partitions() {
		stores[p] = redisrepo.NewRedisStateStore(f.redisClient, f.cfg.Redis.KeyPrefix, session, p, f.cfg.Redis.EntryTTL)
	}
	return stores
}

// RedisClient returns the shared client, or nil when stores are in memory.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	if !f.UsesRedis() {
		return nil
	}
	return f.redisClient
}

// Close closes Redis connection if used
func (f *RepositoryFactory) Close() error {
	if f.redisClient != nil {
		return redisrepo.CloseRedisClient(f.redisClient)
	}
	return nil
}

// HealthCheck checks Redis connection health
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.UsesRedis() {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
