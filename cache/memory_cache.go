package cache

import (
	"github.com/gobwas/glob"
	"github.com/puzpuzpuz/xsync/v3"
)

// MemoryCache is an in-process Service backed by a lock-free concurrent map.
// Used by tests and single-process deployments without an external cache.
type MemoryCache struct {
	entries *xsync.MapOf[string, string]
}

// NewMemoryCache creates an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: xsync.NewMapOf[string, string]()}
}

// Set stores a value under key.
func (c *MemoryCache) Set(key, value string) {
	c.entries.Store(key, value)
}

// Get returns the value for key, if present.
func (c *MemoryCache) Get(key string) (string, bool) {
	return c.entries.Load(key)
}

// Len returns the number of cached entries.
func (c *MemoryCache) Len() int {
	return c.entries.Size()
}

// Keys returns all keys matching the glob pattern.
func (c *MemoryCache) Keys(pattern string) ([]string, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, err
	}
	var out []string
	c.entries.Range(func(key, _ string) bool {
		if g.Match(key) {
			out = append(out, key)
		}
		return true
	})
	return out, nil
}

// DeleteMatching removes all keys matching the glob pattern and returns the
// number removed.
func (c *MemoryCache) DeleteMatching(pattern string) (int, error) {
	keys, err := c.Keys(pattern)
	if err != nil {
		return 0, err
	}
	for _, key := range keys {
		c.entries.Delete(key)
	}
	return len(keys), nil
}
