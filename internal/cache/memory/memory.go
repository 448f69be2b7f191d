// Package memory provides the in-process fallback implementation of
// domain.ResultCache, used when the shared Redis cache is unreachable.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/yieldscope/internal/domain"
)

// defaultSweepInterval controls how often expired entries are reaped when no
// interval is configured.
const defaultSweepInterval = time.Minute

type entry struct {
	data      []byte
	expiresAt time.Time
}

// Cache is a mutex-guarded map with per-entry expiry and a background sweep.
// It has an explicit lifecycle so tests can construct and tear one down
// without leaking goroutines.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry

	sweepInterval time.Duration
	done          chan struct{}
	stopOnce      sync.Once
	started       bool
}

// New creates a stopped Cache. Call Start to begin the expiry sweep;
// Get/Set work either way because reads check expiry themselves.
func New(sweepInterval time.Duration) *Cache {
	if sweepInterval <= 0 {
		sweepInterval = defaultSweepInterval
	}
	return &Cache{
		entries:       make(map[string]entry),
		sweepInterval: sweepInterval,
		done:          make(chan struct{}),
	}
}

// Start launches the periodic sweep goroutine. Calling Start twice is a
// no-op.
func (c *Cache) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true
	go c.sweepLoop()
}

// Stop terminates the sweep goroutine. Safe to call multiple times.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.done) })
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case now := <-ticker.C:
			c.sweep(now)
		}
	}
}

func (c *Cache) sweep(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
}

// Get returns the cached value or domain.ErrNotFound if the key is absent or
// expired. Expired entries are removed on read so correctness never depends
// on sweep timing.
func (c *Cache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if time.Now().After(e.expiresAt) {
		delete(c.entries, key)
		return nil, domain.ErrNotFound
	}

	// Copy so callers cannot mutate the stored value.
	out := make([]byte, len(e.data))
	copy(out, e.data)
	return out, nil
}

// Set stores a value with the given TTL.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	data := make([]byte, len(value))
	copy(data, value)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{
		data:      data,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

// DeletePrefix removes every key beginning with prefix.
func (c *Cache) DeletePrefix(_ context.Context, prefix string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var deleted int64
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
			deleted++
		}
	}
	return deleted, nil
}

// Len reports the number of live entries, counting expired-but-unswept ones.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Compile-time interface check.
var _ domain.ResultCache = (*Cache)(nil)
