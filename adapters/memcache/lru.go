// Package memcache provides the in-memory core.MemoryCache.
package memcache

import (
	"math"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/Skryldev/sketch/core"
)

type entry struct {
	value  *core.MemoryCacheValue
	weight int64
}

// LRU is a MemoryCache bounded by the total weight of its entries rather than
// their count.  Adding an entry evicts least recently used ones until the total
// fits.  Safe for concurrent use.
type LRU struct {
	mu      sync.Mutex
	lru     *simplelru.LRU[string, entry]
	size    int64
	maxSize int64

	hits, misses, evictions int64
}

var _ core.MemoryCache = (*LRU)(nil)

// NewLRU creates a cache holding at most maxSize total weight.
func NewLRU(maxSize int64) *LRU {
	c := &LRU{maxSize: maxSize}
	// Count is unbounded; weight is enforced in Put.
	l, err := simplelru.NewLRU[string, entry](math.MaxInt32, c.onEvict)
	if err != nil {
		panic(err)
	}
	c.lru = l
	return c
}

func (c *LRU) onEvict(_ string, e entry) {
	c.size -= e.weight
	c.evictions++
}

func (c *LRU) Get(key string) (*core.MemoryCacheValue, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lru.Get(key)
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	return e.value, true
}

// Put stores value unless its weight alone exceeds the cache size.
func (c *LRU) Put(key string, value *core.MemoryCacheValue, weight int64) bool {
	if value == nil || weight < 0 || weight > c.maxSize {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lru.Contains(key) {
		c.lru.Remove(key)
		c.evictions--
	}
	c.lru.Add(key, entry{value: value, weight: weight})
	c.size += weight
	for c.size > c.maxSize {
		if _, _, ok := c.lru.RemoveOldest(); !ok {
			break
		}
	}
	return true
}

func (c *LRU) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.lru.Contains(key) {
		return false
	}
	c.lru.Remove(key)
	c.evictions--
	return true
}

func (c *LRU) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	evictions := c.evictions
	c.lru.Purge()
	c.evictions = evictions
	c.size = 0
}

func (c *LRU) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

func (c *LRU) MaxSize() int64 { return c.maxSize }

// Len returns the number of entries.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats is a point-in-time copy of the cache counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int64
	MaxSize   int64
	Len       int
}

// Stats returns the current counters.  Removals, replacements and Clear are
// not counted as evictions.
func (c *LRU) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      c.size,
		MaxSize:   c.maxSize,
		Len:       c.lru.Len(),
	}
}
