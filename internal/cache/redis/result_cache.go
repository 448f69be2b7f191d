package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/yieldscope/internal/domain"
)

// deleteBatchSize bounds how many keys a single DEL command carries during a
// prefix invalidation.
const deleteBatchSize = 256

// ResultCache implements domain.ResultCache using plain string values with
// per-key TTLs. Keys follow the apy:{user}:... scheme owned by the service
// layer; this type treats them as opaque.
type ResultCache struct {
	rdb *redis.Client
}

// NewResultCache creates a ResultCache backed by the given Client.
func NewResultCache(c *Client) *ResultCache {
	return &ResultCache{rdb: c.Underlying()}
}

// Get retrieves a cached value. It returns domain.ErrNotFound on a miss and
// wraps any backend failure so the failover layer can distinguish the two.
func (rc *ResultCache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := rc.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get %s: %w", key, err)
	}
	return data, nil
}

// Set stores a value with the given TTL.
func (rc *ResultCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := rc.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", key, err)
	}
	return nil
}

// DeletePrefix removes every key beginning with prefix using a cursor scan,
// so invalidating a large user never blocks the server the way KEYS would.
func (rc *ResultCache) DeletePrefix(ctx context.Context, prefix string) (int64, error) {
	var (
		deleted int64
		batch   []string
	)

	iter := rc.rdb.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= deleteBatchSize {
			n, err := rc.rdb.Del(ctx, batch...).Result()
			deleted += n
			if err != nil {
				return deleted, fmt.Errorf("redis: delete prefix %s: %w", prefix, err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("redis: scan prefix %s: %w", prefix, err)
	}

	if len(batch) > 0 {
		n, err := rc.rdb.Del(ctx, batch...).Result()
		deleted += n
		if err != nil {
			return deleted, fmt.Errorf("redis: delete prefix %s: %w", prefix, err)
		}
	}

	return deleted, nil
}

// Compile-time interface check.
var _ domain.ResultCache = (*ResultCache)(nil)
