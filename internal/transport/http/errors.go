package httptransport

import (
	"errors"

	"github.com/gin-gonic/gin"

	"dropmail/backend/internal/domain"
	"dropmail/backend/internal/storage"
)

// writeError 将业务错误映射为统一的 HTTP 响应。
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidLocalPart):
		BadRequest(c, "邮箱名只能包含小写字母、数字、点、横线和下划线，长度 1-64")
	case errors.Is(err, storage.ErrAddressTaken):
		Conflict(c, "地址已被占用")
	case errors.Is(err, storage.ErrMailboxNotFound):
		NotFound(c, "邮箱不存在")
	case errors.Is(err, storage.ErrMessageNotFound):
		NotFound(c, "邮件不存在")
	case errors.Is(err, storage.ErrSessionNotFound):
		Unauthorized(c, "会话令牌无效或已过期")
	default:
		InternalError(c, "服务器内部错误")
	}
}
