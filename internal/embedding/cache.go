package embedding

import (
	"container/list"
	"context"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Cache is an LRU cache for embeddings keyed by a content hash of the input
// text, so duplicate requests skip the gateway round trip.
type Cache struct {
	capacity int
	cache    map[string]*list.Element
	lru      *list.List
	mu       sync.RWMutex
}

type cacheEntry struct {
	key   string
	value []float32
}

// CacheKey returns the content-hash key for text.
func CacheKey(text string) string {
	return strconv.FormatUint(xxhash.Sum64String(text), 16)
}

// NewCache creates a cache holding up to capacity embeddings.
func NewCache(capacity int) *Cache {
	return &Cache{
		capacity: capacity,
		cache:    make(map[string]*list.Element),
		lru:      list.New(),
	}
}

// Get returns the cached embedding for key if present. It takes the write
// lock because a hit reorders the recency list.
func (c *Cache) Get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.cache[key]; ok {
		c.lru.MoveToFront(elem)
		return elem.Value.(*cacheEntry).value, true
	}
	return nil, false
}

// Set stores the embedding for key, evicting the oldest entry if at capacity.
func (c *Cache) Set(key string, value []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.cache[key]; ok {
		c.lru.MoveToFront(elem)
		elem.Value.(*cacheEntry).value = value
		return
	}

	entry := &cacheEntry{key: key, value: value}
	elem := c.lru.PushFront(entry)
	c.cache[key] = elem

	if c.lru.Len() > c.capacity {
		oldest := c.lru.Back()
		if oldest != nil {
			c.lru.Remove(oldest)
			delete(c.cache, oldest.Value.(*cacheEntry).key)
		}
	}
}

// Len returns the number of cached embeddings.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lru.Len()
}

// CachedGateway wraps a Gateway with an embedding cache. Captioning is not
// cached; image inputs rarely repeat byte-for-byte.
type CachedGateway struct {
	Gateway
	cache *Cache
}

// WithCache wraps gw so Embed consults the cache first. A cacheSize of zero
// or less disables caching and returns gw unchanged.
func WithCache(gw Gateway, cacheSize int) Gateway {
	if cacheSize <= 0 {
		return gw
	}
	return &CachedGateway{Gateway: gw, cache: NewCache(cacheSize)}
}

// Embed returns the cached embedding when available, otherwise asks the
// wrapped gateway and stores the result.
func (c *CachedGateway) Embed(ctx context.Context, text string) ([]float32, error) {
	key := CacheKey(text)
	if vec, ok := c.cache.Get(key); ok {
		return vec, nil
	}
	vec, err := c.Gateway.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, vec)
	return vec, nil
}
