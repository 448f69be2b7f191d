package domain

import (
	"context"
	"time"
)

// ResultCache memoizes serialized yield results. Implementations must return
// ErrNotFound on a miss and reserve other errors for backend failures so the
// failover wrapper can tell the two apart.
type ResultCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// DeletePrefix removes every key beginning with prefix and returns the
	// number of keys removed.
	DeletePrefix(ctx context.Context, prefix string) (int64, error)
}
