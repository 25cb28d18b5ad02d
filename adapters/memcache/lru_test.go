package memcache_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryldev/sketch/adapters/memcache"
	"github.com/Skryldev/sketch/core"
)

func value(name string) *core.MemoryCacheValue {
	return &core.MemoryCacheValue{ImageInfo: core.ImageInfo{MimeType: name}}
}

func TestLRU_PutGet(t *testing.T) {
	c := memcache.NewLRU(100)
	require.True(t, c.Put("a", value("a"), 10))

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "a", v.ImageInfo.MimeType)
	assert.Equal(t, int64(10), c.Size())

	_, ok = c.Get("missing")
	assert.False(t, ok)

	st := c.Stats()
	assert.Equal(t, int64(1), st.Hits)
	assert.Equal(t, int64(1), st.Misses)
}

func TestLRU_EvictsByWeight(t *testing.T) {
	c := memcache.NewLRU(30)
	c.Put("a", value("a"), 10)
	c.Put("b", value("b"), 10)
	c.Put("c", value("c"), 10)
	// Touch a so b becomes the eldest.
	c.Get("a")
	c.Put("d", value("d"), 10)

	_, ok := c.Get("b")
	assert.False(t, ok)
	for _, k := range []string{"a", "c", "d"} {
		_, ok := c.Get(k)
		assert.True(t, ok, k)
	}
	assert.Equal(t, int64(30), c.Size())
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestLRU_RejectsOversizedEntry(t *testing.T) {
	c := memcache.NewLRU(10)
	assert.False(t, c.Put("big", value("big"), 11))
	assert.False(t, c.Put("nil", nil, 1))
	assert.Equal(t, 0, c.Len())
}

func TestLRU_ReplaceKeepsSizeConsistent(t *testing.T) {
	c := memcache.NewLRU(100)
	c.Put("a", value("a1"), 40)
	c.Put("a", value("a2"), 25)

	assert.Equal(t, int64(25), c.Size())
	assert.Equal(t, 1, c.Len())
	assert.Zero(t, c.Stats().Evictions)
	v, _ := c.Get("a")
	assert.Equal(t, "a2", v.ImageInfo.MimeType)
}

func TestLRU_RemoveAndClear(t *testing.T) {
	c := memcache.NewLRU(100)
	c.Put("a", value("a"), 10)
	c.Put("b", value("b"), 20)

	assert.True(t, c.Remove("a"))
	assert.False(t, c.Remove("a"))
	assert.Equal(t, int64(20), c.Size())

	c.Clear()
	assert.Zero(t, c.Size())
	assert.Zero(t, c.Len())
	assert.Zero(t, c.Stats().Evictions)
	assert.Equal(t, int64(100), c.MaxSize())
}

func TestLRU_ConcurrentAccess(t *testing.T) {
	c := memcache.NewLRU(1000)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("k%d", (i*100+j)%50)
				c.Put(key, value(key), 10)
				c.Get(key)
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Size(), c.MaxSize())
	assert.Equal(t, int64(c.Len())*10, c.Size())
}
