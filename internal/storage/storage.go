package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"dropmail/backend/internal/domain"
)

var (
	// ErrMailboxNotFound 邮箱不存在错误
	ErrMailboxNotFound = errors.New("mailbox not found")
	// ErrMessageNotFound 邮件不存在错误
	ErrMessageNotFound = errors.New("message not found")
	// ErrAddressTaken 地址已被占用错误（唯一约束冲突）
	ErrAddressTaken = errors.New("address already exists")
	// ErrSessionNotFound 会话令牌不存在或已过期
	ErrSessionNotFound = errors.New("session not found")
)

// CreateMessageInput 定义写入邮件所需的字段。
type CreateMessageInput struct {
	From    string
	Subject string
	Raw     string
	Text    string
	HTML    string
}

// MailboxRepository 定义邮箱数据存取操作。
type MailboxRepository interface {
	// UpsertMailbox 原子地创建邮箱，或在地址已存在时返回已有记录。
	// 新建时写入 expiresAt；已有记录的过期时间保持不变。返回的布尔值
	// 表示本次调用是否创建了新邮箱。并发对同一新地址调用时，恰好一个
	// 会话创建成功，其余会话读到已创建的记录。
	UpsertMailbox(ctx context.Context, address string, expiresAt *time.Time) (*domain.Mailbox, bool, error)
	GetMailboxByAddress(ctx context.Context, address string) (*domain.Mailbox, error)
	// FindExpiredMailboxes 返回在 now 时刻已过期的全部邮箱。
	FindExpiredMailboxes(ctx context.Context, now time.Time) ([]domain.Mailbox, error)
	// CountExpired 统计已过期的邮箱数与其名下的邮件数。
	CountExpired(ctx context.Context, now time.Time) (mailboxes int, messages int, err error)
	// DeleteMessagesByMailbox 删除指定邮箱下的全部邮件，返回删除数量。
	DeleteMessagesByMailbox(ctx context.Context, mailboxID string) (int, error)
	// DeleteExpiredMailboxes 在一个事务内删除过期邮箱（连同残留邮件），
	// 返回删除的邮箱数量。邮件先于邮箱删除，不留孤儿记录。
	DeleteExpiredMailboxes(ctx context.Context, now time.Time) (int, error)
}

// MessageRepository 定义邮件数据存取操作。
type MessageRepository interface {
	// CreateMessage 以邮箱地址为归属写入一封邮件。
	// 地址没有对应邮箱时返回 ErrMailboxNotFound。
	CreateMessage(ctx context.Context, mailboxAddress string, input CreateMessageInput) (*domain.Message, error)
	// ListMessages 按创建时间倒序返回邮箱的邮件，最多 limit 封。
	ListMessages(ctx context.Context, mailboxAddress string, limit int) ([]domain.Message, error)
	GetMessage(ctx context.Context, messageID string) (*domain.Message, error)
}

// SessionRepository 定义会话令牌存取操作（令牌 -> 邮箱地址，TTL 淘汰）。
type SessionRepository interface {
	SaveSession(ctx context.Context, token, address string, ttl time.Duration) error
	// GetSession 返回令牌对应的邮箱地址；令牌不存在或已过期时
	// 返回 ErrSessionNotFound。
	GetSession(ctx context.Context, token string) (string, error)
	DeleteSession(ctx context.Context, token string) error
}

// Store 定义完整的邮件存储接口。
type Store interface {
	MailboxRepository
	MessageRepository

	Close() error
	Health() error
}

// transientMarkers 驱动层瞬时错误信息中常见的片段。
var transientMarkers = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"i/o timeout",
	"bad connection",
	"terminating connection",
	"too many connections",
	"timeout",
}

// IsTransient 判断存储错误是否属于可重试的瞬时错误（连接断开、超时等）。
// 业务性错误与约束冲突是确定性的，不会被判定为瞬时。
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrMailboxNotFound) ||
		errors.Is(err, ErrMessageNotFound) ||
		errors.Is(err, ErrAddressTaken) ||
		errors.Is(err, ErrSessionNotFound) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
