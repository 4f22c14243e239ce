package httptransport

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dropmail/backend/internal/middleware"
	"dropmail/backend/internal/monitoring"
	"dropmail/backend/internal/service"
)

// Handler 聚合所有 HTTP 处理逻辑。
type Handler struct {
	mailboxes *service.MailboxService
	messages  *service.MessageService
	sessions  *service.SessionManager
	cleanup   *service.CleanupEngine
	scheduler *service.CleanupScheduler
	log       *zap.Logger

	cleanupBusy atomic.Bool
}

// NewHandler 创建 HTTP 处理器。
func NewHandler(
	mailboxes *service.MailboxService,
	messages *service.MessageService,
	sessions *service.SessionManager,
	cleanup *service.CleanupEngine,
	scheduler *service.CleanupScheduler,
	log *zap.Logger,
) *Handler {
	return &Handler{
		mailboxes: mailboxes,
		messages:  messages,
		sessions:  sessions,
		cleanup:   cleanup,
		scheduler: scheduler,
		log:       log.Named("handler"),
	}
}

// mailboxView 创建邮箱接口的响应载荷。
type mailboxView struct {
	Address   string     `json:"address"`
	Token     string     `json:"token"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Created   bool       `json:"created"`
}

// messageSummaryView 邮件列表项，正文不随列表下发。
type messageSummaryView struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	Subject   string    `json:"subject"`
	CreatedAt time.Time `json:"created_at"`
}

// messageView 单封邮件的完整视图。
type messageView struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	Subject   string    `json:"subject"`
	Text      string    `json:"text,omitempty"`
	HTML      string    `json:"html,omitempty"`
	Raw       string    `json:"raw,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type createCustomRequest struct {
	Username string `json:"username" binding:"required"`
}

// createCustomMailbox 创建自定义地址邮箱并签发会话令牌。
// 地址已存在时返回已有邮箱（不延长过期时间），同样签发新令牌。
func (h *Handler) createCustomMailbox(c *gin.Context) {
	var req createCustomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "缺少 username 字段")
		return
	}

	ctx := c.Request.Context()
	mailbox, created, err := h.mailboxes.CreateCustom(ctx, req.Username)
	if err != nil {
		writeError(c, err)
		return
	}

	token, err := h.sessions.Issue(ctx, mailbox.Address)
	if err != nil {
		h.log.Error("签发会话令牌失败", zap.Error(err))
		InternalError(c, "服务器内部错误")
		return
	}

	if created {
		monitoring.RecordMailboxCreated()
	}

	view := mailboxView{
		Address:   mailbox.Address,
		Token:     token,
		ExpiresAt: mailbox.ExpiresAt,
		Created:   created,
	}
	if created {
		Created(c, view)
		return
	}
	Success(c, view)
}

// createRandomMailbox 创建随机地址邮箱并签发会话令牌。
func (h *Handler) createRandomMailbox(c *gin.Context) {
	ctx := c.Request.Context()
	mailbox, err := h.mailboxes.CreateRandom(ctx)
	if err != nil {
		writeError(c, err)
		return
	}

	token, err := h.sessions.Issue(ctx, mailbox.Address)
	if err != nil {
		h.log.Error("签发会话令牌失败", zap.Error(err))
		InternalError(c, "服务器内部错误")
		return
	}

	monitoring.RecordMailboxCreated()
	Created(c, mailboxView{
		Address:   mailbox.Address,
		Token:     token,
		ExpiresAt: mailbox.ExpiresAt,
		Created:   true,
	})
}

// listMessages 返回会话邮箱内最新的邮件摘要。
func (h *Handler) listMessages(c *gin.Context) {
	address := middleware.SessionAddress(c)
	// 路径参数按地址策略规范化后再比对，大小写和首尾空白不影响归属判断
	if h.mailboxes.Policy().Normalize(c.Param("address")) != address {
		Unauthorized(c, "会话令牌与邮箱不匹配")
		return
	}

	messages, err := h.messages.List(c.Request.Context(), address)
	if err != nil {
		writeError(c, err)
		return
	}

	views := make([]messageSummaryView, 0, len(messages))
	for _, m := range messages {
		views = append(views, messageSummaryView{
			ID:        m.ID,
			From:      m.From,
			Subject:   m.Subject,
			CreatedAt: m.CreatedAt,
		})
	}
	Success(c, views)
}

// getMessage 返回单封邮件全文。只有邮件归属邮箱的会话可以读取。
func (h *Handler) getMessage(c *gin.Context) {
	ctx := c.Request.Context()

	message, err := h.messages.Get(ctx, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	mailbox, err := h.mailboxes.Get(ctx, middleware.SessionAddress(c))
	if err != nil {
		writeError(c, err)
		return
	}
	if message.MailboxID != mailbox.ID {
		NotFound(c, "邮件不存在")
		return
	}

	Success(c, messageView{
		ID:        message.ID,
		From:      message.From,
		Subject:   message.Subject,
		Text:      message.Text,
		HTML:      message.HTML,
		Raw:       message.Raw,
		CreatedAt: message.CreatedAt,
	})
}

// cleanupStatus 返回清理引擎与调度器的当前状态。
func (h *Handler) cleanupStatus(c *gin.Context) {
	stats, err := h.cleanup.Stats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	var scheduler *service.SchedulerStatus
	if h.scheduler != nil {
		s := h.scheduler.Status()
		scheduler = &s
	}

	Success(c, gin.H{
		"stats":     stats,
		"scheduler": scheduler,
	})
}

// runCleanup 手工触发一轮清理。
// 清理遇到瞬时故障会带退避重试，一轮可能持续数秒，
// 不能挂在请求路径上：异步派发并立即返回，
// 执行结果通过 /api/cleanup/status 查询。
func (h *Handler) runCleanup(c *gin.Context) {
	if !h.cleanupBusy.CompareAndSwap(false, true) {
		Accepted(c, gin.H{"started": false, "reason": "已有清理在进行"})
		return
	}

	go func() {
		defer h.cleanupBusy.Store(false)
		h.cleanup.ReclaimExpired(context.Background())
	}()

	Accepted(c, gin.H{"started": true})
}

// domainInfo 返回服务的收件域，前端据此拼展示地址。
func (h *Handler) domainInfo(c *gin.Context) {
	Success(c, gin.H{"domain": h.mailboxes.Policy().Domain()})
}
