// Package store provides the shared key-value store used by the rate
// limiter and the token validation cache.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"vexgate/internal/types"
)

// defaultOpTimeout bounds every store operation so a slow Redis cannot
// stall the request path.
const defaultOpTimeout = 5 * time.Second

// RedisStore implements types.KeyValueStore on a Redis server
type RedisStore struct {
	client    *redis.Client
	opTimeout time.Duration
	logger    types.Logger
}

// RedisOptions configures the Redis connection
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	PoolSize  int
	OpTimeout time.Duration
}

// NewRedis creates a Redis-backed store and verifies connectivity
func NewRedis(opts RedisOptions, logger types.Logger) (*RedisStore, error) {
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = defaultOpTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
		PoolSize: opts.PoolSize,
	})

	s := &RedisStore{
		client:    client,
		opTimeout: opts.OpTimeout,
		logger:    logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.OpTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	logger.Info("Connected to redis", "addr", opts.Addr, "db", opts.DB)
	return s, nil
}

func (s *RedisStore) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

// Get returns the value for a key
func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", types.ErrKeyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

// Set stores a value with a TTL; ttl <= 0 stores without expiry
func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes a key; missing keys are not an error
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Incr atomically increments a counter and returns the new value
func (s *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	val, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr %s: %w", key, err)
	}
	return val, nil
}

// TTL returns the remaining lifetime of a key. Keys without an expiry
// return a negative duration; missing keys return ErrKeyNotFound.
func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis ttl %s: %w", key, err)
	}
	// go-redis reports -2s for a missing key and -1s for no expiry
	if ttl == -2*time.Second {
		return 0, types.ErrKeyNotFound
	}
	return ttl, nil
}

// Expire sets the TTL on an existing key
func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("redis expire %s: %w", key, err)
	}
	return nil
}

// Ping verifies the store is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close releases the connection pool
func (s *RedisStore) Close() error {
	return s.client.Close()
}
