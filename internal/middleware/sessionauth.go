package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"dropmail/backend/internal/service"
	"dropmail/backend/internal/storage"
)

// 会话地址在 gin 上下文中的键。
const sessionAddressKey = "session_address"

// SessionAuth 邮箱会话认证中间件。
// 令牌在创建邮箱时签发，携带方式为 X-Session-Token 头
// 或 Authorization: Bearer。
type SessionAuth struct {
	sessions *service.SessionManager
}

// NewSessionAuth 创建会话认证中间件。
func NewSessionAuth(sessions *service.SessionManager) *SessionAuth {
	return &SessionAuth{sessions: sessions}
}

// RequireSession 要求请求携带有效的会话令牌。
func (a *SessionAuth) RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code": http.StatusUnauthorized,
				"msg":  "缺少会话令牌",
			})
			return
		}

		address, err := a.sessions.Resolve(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, storage.ErrSessionNotFound) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"code": http.StatusUnauthorized,
					"msg":  "会话令牌无效或已过期",
				})
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"code": http.StatusInternalServerError,
				"msg":  "会话校验失败",
			})
			return
		}

		c.Set(sessionAddressKey, address)
		c.Next()
	}
}

// SessionAddress 取出当前请求会话绑定的邮箱地址。
func SessionAddress(c *gin.Context) string {
	if address, ok := c.Get(sessionAddressKey); ok {
		if s, ok := address.(string); ok {
			return s
		}
	}
	return ""
}

func extractToken(c *gin.Context) string {
	if token := c.GetHeader("X-Session-Token"); token != "" {
		return token
	}
	auth := c.GetHeader("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}
