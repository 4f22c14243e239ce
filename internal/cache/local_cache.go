package cache

import (
	"context"
	"sync"
	"time"

	"dropmail/backend/internal/storage"
)

// LocalCache 本地内存 TTL 缓存。
//
// 特点：
// - 使用 sync.Map 实现无锁读取
// - 支持按条目 TTL 过期
// - 后台定期清理过期条目
type LocalCache struct {
	data       sync.Map
	defaultTTL time.Duration
	stop       chan struct{}
	stopOnce   sync.Once
}

type cacheEntry struct {
	value     interface{}
	expiresAt time.Time
}

// NewLocalCache 创建本地缓存并启动清理循环。
func NewLocalCache(defaultTTL time.Duration) *LocalCache {
	c := &LocalCache{
		defaultTTL: defaultTTL,
		stop:       make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

// Get 获取缓存值。
func (c *LocalCache) Get(key string) (interface{}, bool) {
	val, ok := c.data.Load(key)
	if !ok {
		return nil, false
	}
	entry := val.(*cacheEntry)
	if time.Now().After(entry.expiresAt) {
		c.data.Delete(key)
		return nil, false
	}
	return entry.value, true
}

// Set 设置缓存值，ttl 为 0 时使用默认 TTL。
func (c *LocalCache) Set(key string, value interface{}, ttl time.Duration) {
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	c.data.Store(key, &cacheEntry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	})
}

// Delete 删除缓存值。
func (c *LocalCache) Delete(key string) {
	c.data.Delete(key)
}

// Close 停止清理循环。
func (c *LocalCache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// cleanupLoop 定期清理过期条目。
func (c *LocalCache) cleanupLoop() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			now := time.Now()
			c.data.Range(func(key, value interface{}) bool {
				if now.After(value.(*cacheEntry).expiresAt) {
					c.data.Delete(key)
				}
				return true
			})
		}
	}
}

// Sessions 基于本地缓存的会话存储，未配置 Redis 时的单实例回退。
type Sessions struct {
	cache *LocalCache
}

// NewSessions 创建本地会话存储。
func NewSessions(defaultTTL time.Duration) *Sessions {
	return &Sessions{cache: NewLocalCache(defaultTTL)}
}

// SaveSession 保存会话令牌。
func (s *Sessions) SaveSession(ctx context.Context, token, address string, ttl time.Duration) error {
	s.cache.Set(token, address, ttl)
	return nil
}

// GetSession 返回令牌对应的邮箱地址。
func (s *Sessions) GetSession(ctx context.Context, token string) (string, error) {
	val, ok := s.cache.Get(token)
	if !ok {
		return "", storage.ErrSessionNotFound
	}
	return val.(string), nil
}

// DeleteSession 删除会话令牌。
func (s *Sessions) DeleteSession(ctx context.Context, token string) error {
	s.cache.Delete(token)
	return nil
}

// Close 释放缓存资源。
func (s *Sessions) Close() {
	s.cache.Close()
}
