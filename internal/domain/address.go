package domain

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrInvalidLocalPart 表示自定义邮箱前缀过滤后为空或超长。
	ErrInvalidLocalPart = errors.New("invalid local part")
)

// 自定义前缀过滤后允许的最大长度。
const maxLocalPartLength = 64

// AddressPolicy 负责邮箱地址的规范化与收件域名校验。
// 服务只接收单一配置域名的邮件，不支持通配符或多域名。
type AddressPolicy struct {
	domain string
}

// NewAddressPolicy 以配置的收件域名创建地址策略。
func NewAddressPolicy(allowedDomain string) *AddressPolicy {
	return &AddressPolicy{
		domain: strings.ToLower(strings.TrimSpace(allowedDomain)),
	}
}

// Domain 返回策略配置的收件域名。
func (p *AddressPolicy) Domain() string {
	return p.domain
}

// Normalize 去除首尾空白并转为小写。幂等。
func (p *AddressPolicy) Normalize(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// ExtractDomain 提取地址中的域名部分。
// 去掉尖括号，取最后一个 @ 之后的内容并小写，去掉一个结尾的点。
// 输入为空或不含 @ 时返回空字符串。
func (p *AddressPolicy) ExtractDomain(addr string) string {
	if addr == "" {
		return ""
	}
	cleaned := strings.TrimSpace(strings.NewReplacer("<", "", ">", "").Replace(addr))
	at := strings.LastIndex(cleaned, "@")
	if at == -1 {
		return ""
	}
	extracted := strings.ToLower(cleaned[at+1:])
	return strings.TrimSuffix(extracted, ".")
}

// IsAllowed 判断地址的域名是否为本服务的收件域名。
func (p *AddressPolicy) IsAllowed(addr string) bool {
	return p.domain != "" && p.ExtractDomain(p.Normalize(addr)) == p.domain
}

// MakeAddress 根据自定义前缀生成完整邮箱地址。
// 前缀被过滤为 [a-z0-9._-] 字符集；过滤结果为空或超过 64 字符时
// 返回 ErrInvalidLocalPart。
func (p *AddressPolicy) MakeAddress(localPart string) (string, error) {
	sanitized := sanitizeLocalPart(localPart)
	if sanitized == "" || len(sanitized) > maxLocalPartLength {
		return "", ErrInvalidLocalPart
	}
	return sanitized + "@" + p.domain, nil
}

// RandomAddress 生成随机邮箱地址，前缀取自 UUID 去连字符后的前 12 个字符。
// 前缀空间足够大，冲突交由存储层的唯一约束兜底。
func (p *AddressPolicy) RandomAddress() string {
	base := strings.ToLower(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return base[:12] + "@" + p.domain
}

// sanitizeLocalPart 过滤前缀中不在 [a-z0-9._-] 的字符。
func sanitizeLocalPart(localPart string) string {
	localPart = strings.ToLower(strings.TrimSpace(localPart))
	var b strings.Builder
	for _, r := range localPart {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	return b.String()
}
