// Package cache provides the bounded response cache used by the
// invocation client. Keys are deterministic hashes of the normalized
// request; entries carry their own TTL and are never served past it.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Entry is one cached response.
type Entry struct {
	Key        string        `json:"key"`
	Provider   string        `json:"provider"`
	Response   []byte        `json:"response"`
	InsertedAt time.Time     `json:"inserted_at"`
	TTL        time.Duration `json:"ttl"`
	Hits       int64         `json:"hits"`
}

// Expired reports whether the entry is past its TTL at the given time.
func (e *Entry) Expired(now time.Time) bool {
	return now.After(e.InsertedAt.Add(e.TTL))
}

// Backend stores entries. Implementations must be safe for concurrent
// use. The memory backend is the default; a Redis backend exists for
// sharing a cache across processes.
type Backend interface {
	Get(ctx context.Context, key string) (*Entry, bool, error)
	Set(ctx context.Context, entry *Entry) error
	Delete(ctx context.Context, key string) error
	DeleteByProvider(ctx context.Context, provider string) (int, error)
	Clear(ctx context.Context) error
	Len(ctx context.Context) (int, error)
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// Config tunes the cache.
type Config struct {
	MaxEntries    int           // FIFO eviction bound, default 500
	SweepInterval time.Duration // expiry sweep period, default 60s
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		MaxEntries:    500,
		SweepInterval: 60 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxEntries <= 0 {
		c.MaxEntries = 500
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 60 * time.Second
	}
	return c
}

// Stats is a point-in-time view of cache effectiveness.
type Stats struct {
	Entries   int     `json:"entries"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	Expired   int64   `json:"expired"`
	HitRate   float64 `json:"hit_rate"`
}

// GenerateKey builds the deterministic cache key for a request: the
// provider name prefixed to a sha256 of the request's JSON form. The
// provider prefix keeps per-provider invalidation a cheap prefix match.
func GenerateKey(provider string, request any) (string, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("marshal request for cache key: %w", err)
	}
	sum := sha256.Sum256(payload)
	return provider + ":" + hex.EncodeToString(sum[:]), nil
}

// Cache wraps a backend with hit/miss accounting and a background
// expiry sweep.
type Cache struct {
	backend Backend
	logger  *zap.Logger

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	expired   atomic.Int64

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New creates a cache over the given backend and starts the sweep loop.
// Close must be called to stop it.
func New(backend Backend, config Config, logger *zap.Logger) *Cache {
	config = config.withDefaults()
	c := &Cache{
		backend: backend,
		logger:  logger,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.sweepLoop(config.SweepInterval)
	return c
}

// NewMemory creates a cache on the in-process backend, which also wires
// eviction accounting.
func NewMemory(config Config, logger *zap.Logger) *Cache {
	config = config.withDefaults()
	c := &Cache{
		logger: logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	c.backend = NewMemoryBackend(config.MaxEntries, func() { c.evictions.Add(1) })
	go c.sweepLoop(config.SweepInterval)
	return c
}

// Get returns a live entry for key, or ok=false on miss or expiry.
// Hits increment the entry's counter.
func (c *Cache) Get(ctx context.Context, key string) (*Entry, bool) {
	entry, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		c.logger.Warn("Cache backend read failed", zap.Error(err))
		c.misses.Add(1)
		return nil, false
	}
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	if entry.Expired(time.Now()) {
		// Lazy expiry on read; the sweep loop handles the rest.
		_ = c.backend.Delete(ctx, key)
		c.expired.Add(1)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return entry, true
}

// Set stores an entry, evicting the oldest insertion when the bound is
// exceeded.
func (c *Cache) Set(ctx context.Context, entry *Entry) {
	if entry.InsertedAt.IsZero() {
		entry.InsertedAt = time.Now()
	}
	if err := c.backend.Set(ctx, entry); err != nil {
		c.logger.Warn("Cache backend write failed", zap.Error(err))
	}
}

// InvalidateProvider drops all entries for one provider. Useful when a
// provider is reconfigured and its cached answers are no longer
// trustworthy.
func (c *Cache) InvalidateProvider(ctx context.Context, provider string) int {
	n, err := c.backend.DeleteByProvider(ctx, provider)
	if err != nil {
		c.logger.Warn("Cache invalidation failed",
			zap.String("provider", provider), zap.Error(err))
		return 0
	}
	if n > 0 {
		c.logger.Info("Invalidated cached responses",
			zap.String("provider", provider), zap.Int("entries", n))
	}
	return n
}

// Clear drops every entry.
func (c *Cache) Clear(ctx context.Context) {
	if err := c.backend.Clear(ctx); err != nil {
		c.logger.Warn("Cache clear failed", zap.Error(err))
	}
}

// Stats returns current counters. HitRate is hits/(hits+misses), 0 when
// idle.
func (c *Cache) Stats(ctx context.Context) Stats {
	n, err := c.backend.Len(ctx)
	if err != nil {
		n = 0
	}
	hits := c.hits.Load()
	misses := c.misses.Load()
	s := Stats{
		Entries:   n,
		Hits:      hits,
		Misses:    misses,
		Evictions: c.evictions.Load(),
		Expired:   c.expired.Load(),
	}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}
	return s
}

// Close stops the sweep loop.
func (c *Cache) Close() {
	c.stopOnce.Do(func() {
		close(c.stop)
		<-c.done
	})
}

func (c *Cache) sweepLoop(interval time.Duration) {
	defer close(c.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			removed, err := c.backend.Sweep(ctx, time.Now())
			cancel()
			if err != nil {
				c.logger.Warn("Cache sweep failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				c.expired.Add(int64(removed))
				c.logger.Debug("Cache sweep removed expired entries",
					zap.Int("removed", removed))
			}
		}
	}
}
