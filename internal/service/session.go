package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"dropmail/backend/internal/storage"
)

// SessionManager 管理邮箱访问令牌的签发与校验。
// 令牌与邮箱同寿命，过期后由底层存储自动淘汰。
type SessionManager struct {
	repo storage.SessionRepository
	ttl  time.Duration
}

// NewSessionManager 创建会话管理器。
func NewSessionManager(repo storage.SessionRepository, ttl time.Duration) *SessionManager {
	return &SessionManager{repo: repo, ttl: ttl}
}

// Issue 为邮箱地址签发访问令牌。
func (m *SessionManager) Issue(ctx context.Context, address string) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	token := hex.EncodeToString(buf)

	if err := m.repo.SaveSession(ctx, token, address, m.ttl); err != nil {
		return "", err
	}
	return token, nil
}

// Resolve 校验令牌并返回其绑定的邮箱地址。
// 令牌无效或已过期时返回 storage.ErrSessionNotFound。
func (m *SessionManager) Resolve(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", storage.ErrSessionNotFound
	}
	return m.repo.GetSession(ctx, token)
}

// Revoke 撤销令牌。
func (m *SessionManager) Revoke(ctx context.Context, token string) error {
	return m.repo.DeleteSession(ctx, token)
}
