// Package cache provides the short-TTL byte cache used by the moderation
// engine for result and language lookups. Two implementations exist: an
// in-process memory cache with a periodic expiry sweep, and a Redis-backed
// cache for deployments that share results across processes.
package cache

import (
	"context"
	"time"
)

// Cache is a TTL'd byte cache. Get never blocks on background
// maintenance; a miss is the only failure mode the request path sees.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Delete(ctx context.Context, key string)
	Close() error
}
