package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Cache backed by a Redis instance, for deployments where
// multiple pipeline processes should share moderation results. Redis
// errors degrade to cache misses; the request path never fails on the
// cache.
type Redis struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewRedis creates a Redis-backed cache.
func NewRedis(addr, password string, db int, prefix string, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		prefix: prefix,
		logger: logger.With("component", "cache.redis"),
	}
}

func (r *Redis) key(k string) string { return r.prefix + ":" + k }

// Get returns the cached value, treating any Redis error as a miss.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			r.logger.Warn("redis get failed", "key", key, "error", err)
		}
		return nil, false
	}
	return val, true
}

// Set stores value under key for ttl. Failures are logged, not returned.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if err := r.client.Set(ctx, r.key(key), value, ttl).Err(); err != nil {
		r.logger.Warn("redis set failed", "key", key, "error", err)
	}
}

// Delete removes a key.
func (r *Redis) Delete(ctx context.Context, key string) {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		r.logger.Warn("redis del failed", "key", key, "error", err)
	}
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
