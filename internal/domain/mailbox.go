package domain

import (
	"time"
)

// Mailbox 表示一个临时邮箱实体。
//
// Address 全局唯一（小写、去空白的 local@domain 形式），域名必须是
// 服务配置的收件域名。ExpiresAt 为 nil 时邮箱不走 TTL 过期路径，
// 只能由调用方显式设置过期时间。
type Mailbox struct {
	ID        string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Address   string     `json:"address" gorm:"type:varchar(255);uniqueIndex"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty" gorm:"index"`
}

// Expired 判断邮箱在 now 时刻是否已过期。
func (m *Mailbox) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && m.ExpiresAt.Before(now)
}
