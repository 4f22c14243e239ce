package redis

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"dropmail/backend/internal/storage"
)

// Sessions 基于 Redis 的会话存储（令牌 -> 邮箱地址）。
// TTL 淘汰由 Redis 负责，多实例部署时会话天然共享。
type Sessions struct {
	client *Client
}

// NewSessions 创建 Redis 会话存储。
func NewSessions(client *Client) *Sessions {
	return &Sessions{client: client}
}

func sessionKey(token string) string {
	return "session:" + token
}

// SaveSession 保存会话令牌。
func (s *Sessions) SaveSession(ctx context.Context, token, address string, ttl time.Duration) error {
	return s.client.rdb.Set(ctx, sessionKey(token), address, ttl).Err()
}

// GetSession 返回令牌对应的邮箱地址。
func (s *Sessions) GetSession(ctx context.Context, token string) (string, error) {
	address, err := s.client.rdb.Get(ctx, sessionKey(token)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return "", storage.ErrSessionNotFound
		}
		return "", err
	}
	return address, nil
}

// DeleteSession 删除会话令牌。
func (s *Sessions) DeleteSession(ctx context.Context, token string) error {
	return s.client.rdb.Del(ctx, sessionKey(token)).Err()
}
