package correlate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"threatops/internal/config"
)

// RedisStore is a Redis-backed suppression store for deployments running
// more than one instance against the same telemetry feed. SET NX with a TTL
// gives the same atomic check-and-claim semantics as the in-memory store.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis suppression store and verifies connectivity.
func NewRedisStore(cfg config.RedisConfig) (*RedisStore, error) {
	opts := &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "threatops:cooldown:"
	}

	return &RedisStore{client: client, prefix: prefix}, nil
}

// Acquire implements SuppressionStore.
func (s *RedisStore) Acquire(ctx context.Context, key string, cooldown time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.prefix+key, 1, cooldown).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
