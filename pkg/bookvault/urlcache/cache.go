// Package urlcache serves short-lived signed blob URLs from a bounded TTL
// cache, so repeated reads of the same blob do not re-trigger signing.
package urlcache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/bookvault/bookvault/pkg/bookvault"
)

// SignFunc produces a time-limited read URL for a blob key.
type SignFunc func(ctx context.Context, objectKey string, ttl time.Duration) (string, error)

// Config options for the cache.
type Config struct {
	TTL          time.Duration // signed URL lifetime requested from the store (default: 1h)
	SafetyWindow time.Duration // margin forcing refresh before true expiry (default: 60s)
	MaxEntries   int           // size bound (default: 500)
}

func (c *Config) applyDefaults() {
	if c.TTL == 0 {
		c.TTL = time.Hour
	}
	if c.SafetyWindow == 0 {
		c.SafetyWindow = time.Minute
	}
	if c.MaxEntries == 0 {
		c.MaxEntries = 500
	}
}

type entry struct {
	url       string
	expiresAt time.Time
}

// Cache implements bookvault.URLProvider over an expirable LRU. Entries are
// immutable once written; a stale entry is replaced wholesale.
type Cache struct {
	cfg  Config
	sign SignFunc
	now  func() time.Time

	// mu serializes the check-then-sign sequence so two concurrent readers
	// of the same key cannot both miss and double-sign.
	mu  sync.Mutex
	lru *expirable.LRU[string, entry]
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithClock overrides the time source. Test hook.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// New creates a URL cache around the given signing function.
func New(sign SignFunc, cfg Config, opts ...CacheOption) *Cache {
	cfg.applyDefaults()
	c := &Cache{
		cfg:  cfg,
		sign: sign,
		now:  time.Now,
		lru:  expirable.NewLRU[string, entry](cfg.MaxEntries, nil, cfg.TTL),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewForBlobStore creates a URL cache that signs through the blob store.
func NewForBlobStore(blobs bookvault.BlobStore, cfg Config, opts ...CacheOption) *Cache {
	return New(blobs.SignURL, cfg, opts...)
}

// GetURL returns a readable URL for objectKey. A cached URL is served only
// while the safety window holds; otherwise the key is re-signed and the
// entry replaced. Signing failures are not masked.
func (c *Cache) GetURL(ctx context.Context, objectKey string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.lru.Get(objectKey); ok && now.Before(e.expiresAt.Add(-c.cfg.SafetyWindow)) {
		cacheHits.Inc()
		return e.url, nil
	}
	cacheMisses.Inc()

	url, err := c.sign(ctx, objectKey, c.cfg.TTL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", bookvault.ErrCacheSigningFailed, err)
	}

	c.lru.Add(objectKey, entry{url: url, expiresAt: now.Add(c.cfg.TTL)})

	return url, nil
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
