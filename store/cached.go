package store

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cached fronts an Artifacts backend with an in-memory read cache.
// Published versions are immutable, so entries only leave the cache by
// expiry or when the whole address is deleted.
type Cached struct {
	backend Artifacts
	cache   *gocache.Cache
}

// NewCached wraps backend. A zero ttl keeps entries until deletion.
func NewCached(backend Artifacts, ttl time.Duration) *Cached {
	expiration := ttl
	cleanup := 2 * ttl
	if ttl <= 0 {
		expiration = gocache.NoExpiration
		cleanup = 0
	}
	return &Cached{
		backend: backend,
		cache:   gocache.New(expiration, cleanup),
	}
}

func cacheKey(key, version string) string {
	return key + "@" + version
}

func (c *Cached) Get(ctx context.Context, key, version string) ([]byte, error) {
	if v, ok := c.cache.Get(cacheKey(key, version)); ok {
		if data, ok := v.([]byte); ok {
			return clone(data), nil
		}
	}
	data, err := c.backend.Get(ctx, key, version)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(cacheKey(key, version), clone(data))
	return data, nil
}

func (c *Cached) Put(ctx context.Context, key, version string, data []byte) error {
	if err := c.backend.Put(ctx, key, version, data); err != nil {
		return err
	}
	c.cache.SetDefault(cacheKey(key, version), clone(data))
	return nil
}

func (c *Cached) Versions(ctx context.Context, key string) ([]string, error) {
	return c.backend.Versions(ctx, key)
}

func (c *Cached) Delete(ctx context.Context, key string) error {
	versions, err := c.backend.Versions(ctx, key)
	if err != nil {
		return err
	}
	for _, v := range versions {
		c.cache.Delete(cacheKey(key, v))
	}
	return c.backend.Delete(ctx, key)
}

// Len returns the number of cached artifacts.
func (c *Cached) Len() int {
	return c.cache.ItemCount()
}

func (c *Cached) Close() error {
	c.cache.Flush()
	return c.backend.Close()
}
