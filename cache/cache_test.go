package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_GetSet(t *testing.T) {
	c := New[int64, string](Config{Name: "snapshots", MaxSize: 10})

	_, ok := c.Get(1)
	assert.False(t, ok)

	c.Set(1, "a")
	v, ok := c.Get(1)
	assert.True(t, ok)
	assert.Equal(t, "a", v)

	c.Set(1, "b")
	v, _ = c.Get(1)
	assert.Equal(t, "b", v)

	s := c.Stats()
	assert.Equal(t, int64(2), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
	assert.Equal(t, 1, s.Size)
}

func TestCache_LRUEviction(t *testing.T) {
	c := New[int64, int](Config{MaxSize: 2})
	c.Set(1, 1)
	c.Set(2, 2)
	c.Get(1) // 1 变为最近使用
	c.Set(3, 3)

	_, ok := c.Get(2)
	assert.False(t, ok, "最久未使用的条目应被驱逐")
	_, ok = c.Get(1)
	assert.True(t, ok)
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestCache_TTL(t *testing.T) {
	c := New[string, int](Config{TTL: 20 * time.Millisecond})
	c.Set("k", 1)

	assert.Eventually(t, func() bool {
		_, ok := c.Get("k")
		return !ok
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, c.String(), "Cache[unnamed]")
}

func TestCache_DeleteAndClear(t *testing.T) {
	c := New[int, int](Config{})
	c.Set(1, 1)
	c.Set(2, 2)
	assert.Equal(t, 2, c.Len())

	assert.True(t, c.Delete(1))
	assert.False(t, c.Delete(1))
	c.Clear()
	assert.Equal(t, 0, c.Len())
}

func TestCache_Concurrent(t *testing.T) {
	c := New[int, int](Config{MaxSize: 64})
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				c.Set(g*1000+i, i)
				c.Get(g*1000 + i)
			}
		}(g)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 64)
}
