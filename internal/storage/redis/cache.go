package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"dropmail/backend/internal/domain"
)

// 邮件列表缓存的保留时间。列表读取频繁而写入稀疏，
// 短 TTL 兜底新邮件写入时的显式失效。
const messageListTTL = 10 * time.Second

// Cache 基于 Redis 的邮件列表热缓存。
type Cache struct {
	client *Client
}

// NewCache 创建 Redis 缓存。
func NewCache(client *Client) *Cache {
	return &Cache{client: client}
}

func messageListKey(address string) string {
	return "messages:" + address
}

// GetMessageList 读取缓存的邮件列表，未命中时返回 (nil, false)。
func (c *Cache) GetMessageList(ctx context.Context, address string) ([]domain.Message, bool) {
	data, err := c.client.rdb.Get(ctx, messageListKey(address)).Bytes()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			c.client.log.Debug("message list cache read failed")
		}
		return nil, false
	}
	var messages []domain.Message
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, false
	}
	return messages, true
}

// SetMessageList 缓存邮件列表，失败时静默放弃（缓存是尽力而为的）。
func (c *Cache) SetMessageList(ctx context.Context, address string, messages []domain.Message) {
	data, err := json.Marshal(messages)
	if err != nil {
		return
	}
	_ = c.client.rdb.Set(ctx, messageListKey(address), data, messageListTTL).Err()
}

// InvalidateMessageList 使邮件列表缓存失效（新邮件写入时调用）。
func (c *Cache) InvalidateMessageList(ctx context.Context, address string) {
	_ = c.client.rdb.Del(ctx, messageListKey(address)).Err()
}
