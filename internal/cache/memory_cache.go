// Package cache provides the TTL cache used for finished plans and generator responses.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/ZanzyTHEbar/stepwise/internal/logging"
)

// DefaultSweepInterval is how often expired entries are purged unless
// WithSweepInterval says otherwise.
const DefaultSweepInterval = 10 * time.Minute

// InMemoryCache is a thread-safe TTL cache. Expired entries are dropped lazily on
// read and by a background sweep that runs until Close.
type InMemoryCache struct {
	mu         sync.RWMutex
	store      map[string]cacheItem
	ttl        time.Duration
	maxSize    int
	sweepEvery time.Duration
	logger     logging.Logger
	stop       chan struct{}
	once       sync.Once
}

type cacheItem struct {
	value     interface{}
	expiresAt time.Time
}

// Option configures an InMemoryCache.
type Option func(*InMemoryCache)

// WithMaxEntries bounds the cache; the entry closest to expiry is evicted first.
func WithMaxEntries(n int) Option {
	return func(c *InMemoryCache) { c.maxSize = n }
}

func WithLogger(l logging.Logger) Option {
	return func(c *InMemoryCache) { c.logger = l }
}

// WithSweepInterval overrides how often expired entries are purged. A
// non-positive interval disables the sweep.
func WithSweepInterval(d time.Duration) Option {
	return func(c *InMemoryCache) { c.sweepEvery = d }
}

// NewInMemoryCache creates a cache whose entries live for ttl.
func NewInMemoryCache(ttl time.Duration, opts ...Option) *InMemoryCache {
	c := &InMemoryCache{
		store:      make(map[string]cacheItem),
		ttl:        ttl,
		sweepEvery: DefaultSweepInterval,
		stop:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.OrNop(c.logger)
	if c.sweepEvery > 0 {
		go c.sweep(c.sweepEvery)
	}
	return c
}

// Get returns the value stored under key. Missing and expired keys yield a
// not-found error.
func (c *InMemoryCache) Get(ctx context.Context, key string) (interface{}, error) {
	if ctx.Err() != nil {
		return nil, errbuilder.WrapIfContextDone(ctx, ctx.Err())
	}

	c.mu.RLock()
	item, found := c.store[key]
	c.mu.RUnlock()

	if !found {
		return nil, errbuilder.NotFoundErr(errbuilder.GenericErr("cache item not found", nil))
	}
	if time.Now().After(item.expiresAt) {
		c.mu.Lock()
		if cur, ok := c.store[key]; ok && cur.expiresAt.Equal(item.expiresAt) {
			delete(c.store, key)
		}
		c.mu.Unlock()
		c.logger.Debug("cache item expired", logging.Fields{"key": key})
		return nil, errbuilder.NotFoundErr(errbuilder.GenericErr("cache item expired", nil))
	}
	return item.value, nil
}

// Set stores value under key, replacing any previous entry.
func (c *InMemoryCache) Set(ctx context.Context, key string, value interface{}) error {
	if ctx.Err() != nil {
		return errbuilder.WrapIfContextDone(ctx, ctx.Err())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.store[key]; !exists && c.maxSize > 0 && len(c.store) >= c.maxSize {
		c.evictLocked()
	}
	c.store[key] = cacheItem{value: value, expiresAt: time.Now().Add(c.ttl)}
	c.logger.Debug("cache item set", logging.Fields{"key": key})
	return nil
}

// Delete removes key if present.
func (c *InMemoryCache) Delete(key string) {
	c.mu.Lock()
	delete(c.store, key)
	c.mu.Unlock()
}

// Len reports the number of stored entries, expired ones included.
func (c *InMemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.store)
}

// Close stops the background sweep.
func (c *InMemoryCache) Close() {
	c.once.Do(func() { close(c.stop) })
}

func (c *InMemoryCache) evictLocked() {
	var oldestKey string
	var oldest time.Time
	for k, item := range c.store {
		if oldestKey == "" || item.expiresAt.Before(oldest) {
			oldestKey, oldest = k, item.expiresAt
		}
	}
	if oldestKey != "" {
		delete(c.store, oldestKey)
	}
}

func (c *InMemoryCache) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.purgeExpired()
		}
	}
}

func (c *InMemoryCache) purgeExpired() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, item := range c.store {
		if now.After(item.expiresAt) {
			delete(c.store, k)
		}
	}
}
