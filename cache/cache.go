// Package cache 进程内泛型 LRU 缓存，基于 golang-lru 的 expirable 实现
//
// 版本快照一经写入不再修改，解码结果可以按版本 ID 缓存；
// TTL 从写入时刻起算，只用于限制冷数据的驻留时间。
package cache

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Config 缓存配置
type Config struct {
	// Name 缓存名称，出现在 String() 中
	Name string

	// MaxSize 最大条目数，0 表示不限制
	MaxSize int

	// TTL 0 表示永不过期
	TTL time.Duration
}

// Stats 缓存统计信息
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64 // 容量驱逐、过期清理与显式删除都会计入
	Size      int
}

// Cache 并发安全的 LRU + TTL 缓存
type Cache[K comparable, V any] struct {
	config Config
	lru    *expirable.LRU[K, V]

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

func New[K comparable, V any](config Config) *Cache[K, V] {
	if config.Name == "" {
		config.Name = "unnamed"
	}
	c := &Cache[K, V]{config: config}
	c.lru = expirable.NewLRU[K, V](config.MaxSize, func(K, V) { c.evictions.Add(1) }, config.TTL)
	return c
}

// Get 过期条目视为未命中
func (c *Cache[K, V]) Get(key K) (V, bool) {
	v, ok := c.lru.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

// Set 超出容量时驱逐最久未使用的条目
func (c *Cache[K, V]) Set(key K, value V) {
	c.lru.Add(key, value)
}

// Delete 返回条目是否存在
func (c *Cache[K, V]) Delete(key K) bool {
	return c.lru.Remove(key)
}

func (c *Cache[K, V]) Clear() { c.lru.Purge() }
func (c *Cache[K, V]) Len() int { return c.lru.Len() }

func (c *Cache[K, V]) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Size:      c.lru.Len(),
	}
}

func (c *Cache[K, V]) String() string {
	s := c.Stats()
	return fmt.Sprintf("Cache[%s]: size=%d/%d, hits=%d, misses=%d, evictions=%d",
		c.config.Name, s.Size, c.config.MaxSize, s.Hits, s.Misses, s.Evictions)
}
