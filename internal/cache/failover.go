// Package cache provides the failover wrapper that layers the shared Redis
// result cache over the in-process fallback, plus the confidence-based TTL
// policy.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alanyoungcy/yieldscope/internal/domain"
)

// Failover implements domain.ResultCache over a primary (shared) backend and
// an in-process fallback. Backend failures are logged and absorbed; callers
// never learn which backend served them. A nil primary means fallback-only
// operation.
type Failover struct {
	primary  domain.ResultCache
	fallback domain.ResultCache
	logger   *slog.Logger
}

// NewFailover creates a Failover cache. fallback must not be nil.
func NewFailover(primary, fallback domain.ResultCache, logger *slog.Logger) *Failover {
	return &Failover{
		primary:  primary,
		fallback: fallback,
		logger:   logger.With(slog.String("component", "cache")),
	}
}

// Get reads from the primary first. A primary miss is authoritative; only a
// backend failure falls through to the in-process map.
func (f *Failover) Get(ctx context.Context, key string) ([]byte, error) {
	if f.primary != nil {
		data, err := f.primary.Get(ctx, key)
		if err == nil {
			return data, nil
		}
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		f.logger.WarnContext(ctx, "primary cache get failed, using fallback",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
	return f.fallback.Get(ctx, key)
}

// Set writes to the primary, falling back to the in-process map when the
// backend is down so results stay memoized within this process.
func (f *Failover) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if f.primary != nil {
		if err := f.primary.Set(ctx, key, value, ttl); err == nil {
			return nil
		} else {
			f.logger.WarnContext(ctx, "primary cache set failed, using fallback",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
	}
	return f.fallback.Set(ctx, key, value, ttl)
}

// DeletePrefix purges both backends. The fallback is always purged, even
// when the primary succeeds, so a later failover cannot resurrect entries
// that were invalidated while the primary was healthy.
func (f *Failover) DeletePrefix(ctx context.Context, prefix string) (int64, error) {
	var total int64
	if f.primary != nil {
		n, err := f.primary.DeletePrefix(ctx, prefix)
		total += n
		if err != nil {
			f.logger.WarnContext(ctx, "primary cache invalidation failed",
				slog.String("prefix", prefix),
				slog.String("error", err.Error()),
			)
		}
	}
	n, err := f.fallback.DeletePrefix(ctx, prefix)
	total += n
	return total, err
}

// Compile-time interface check.
var _ domain.ResultCache = (*Failover)(nil)
