package smtp

import (
	"context"
	"errors"
	"io"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"dropmail/backend/internal/monitoring"
	"dropmail/backend/internal/service"
	"dropmail/backend/internal/storage"
)

// 单次存储调用的超时。SMTP 会话没有外部上下文，超时在这里兜底。
const storeTimeout = 5 * time.Second

// Backend 实现 go-smtp 的 Backend 接口。
//
// 这是一个只接收邮件的 SMTP 服务器：
//   - 只接受发往本服务收件域的邮件，其它域名一律 550 拒绝，
//     不提供任何中继能力
//   - 收件人邮箱不存在时按需创建（首封邮件即开箱）
//   - 存储瞬时故障返回 451，让发送方稍后重试
type Backend struct {
	mailboxes *service.MailboxService
	messages  *service.MessageService
	limiter   *ConnectionLimiter
	maxBytes  int64
	log       *zap.Logger
}

// NewBackend 创建 SMTP Backend。
func NewBackend(mailboxes *service.MailboxService, messages *service.MessageService, limiter *ConnectionLimiter, maxBytes int64, log *zap.Logger) *Backend {
	return &Backend{
		mailboxes: mailboxes,
		messages:  messages,
		limiter:   limiter,
		maxBytes:  maxBytes,
		log:       log.Named("smtp"),
	}
}

// NewSession 创建新的 SMTP 会话。
func (b *Backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	if b.limiter != nil && !b.limiter.Acquire() {
		return nil, &gosmtp.SMTPError{
			Code:         421,
			EnhancedCode: gosmtp.EnhancedCode{4, 7, 0},
			Message:      "too many connections, try again later",
		}
	}

	monitoring.SMTPConnectionOpened()

	remote := ""
	if c != nil && c.Conn() != nil {
		remote = c.Conn().RemoteAddr().String()
	}
	return &session{backend: b, remote: remote}, nil
}

type session struct {
	backend     *Backend
	remote      string
	fromAddress string
	recipients  []string
}

// Mail 处理 MAIL 命令。发件人不做校验，解析阶段再补默认值。
func (s *session) Mail(from string, _ *gosmtp.MailOptions) error {
	s.fromAddress = from
	return nil
}

// Rcpt 处理 RCPT 命令。
//
// 此方法是防止邮件中继的关键：收件地址的域名必须是本服务的
// 收件域，否则返回 550。域名合法时按需创建邮箱，已有邮箱直接
// 复用且不延长其过期时间。
func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	mailbox, err := s.backend.mailboxes.EnsureForDelivery(ctx, to)
	if err != nil {
		if errors.Is(err, service.ErrDomainNotAllowed) {
			monitoring.RecordRelayDenial()
			policy := s.backend.mailboxes.Policy()
			s.backend.log.Warn("拒绝外部域名收件",
				zap.String("rcpt", to),
				zap.String("domain", policy.ExtractDomain(to)),
				zap.String("remote", s.remote))
			return &gosmtp.SMTPError{
				Code:         550,
				EnhancedCode: gosmtp.EnhancedCode{5, 7, 1},
				Message:      "relay access denied - domain not served here",
			}
		}

		s.backend.log.Error("收件人准备失败", zap.String("rcpt", to), zap.Error(err))
		return &gosmtp.SMTPError{
			Code:         451,
			EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
			Message:      "temporary storage failure, try again later",
		}
	}

	s.recipients = append(s.recipients, mailbox.Address)
	return nil
}

// Data 处理邮件内容：限长读取、MIME 解析、落库。
// 邮件归属第一个收件人。
func (s *session) Data(r io.Reader) error {
	if len(s.recipients) == 0 {
		return &gosmtp.SMTPError{
			Code:         503,
			EnhancedCode: gosmtp.EnhancedCode{5, 5, 1},
			Message:      "no valid recipients",
		}
	}

	monitoring.RecordMessageReceived()

	rawBytes, err := io.ReadAll(io.LimitReader(r, s.backend.maxBytes))
	if err != nil {
		return err
	}

	parsed, err := ParseEmail(rawBytes)
	if err != nil {
		monitoring.RecordParseFailure()
		s.backend.log.Warn("邮件解析失败",
			zap.String("remote", s.remote),
			zap.Int("size", len(rawBytes)),
			zap.Error(err))
		return &gosmtp.SMTPError{
			Code:         451,
			EnhancedCode: gosmtp.EnhancedCode{4, 6, 0},
			Message:      "message could not be parsed",
		}
	}

	from := parsed.From
	if from == "" {
		from = s.fromAddress
	}
	owner := s.recipients[0]

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	message, err := s.backend.messages.Deliver(ctx, owner, storage.CreateMessageInput{
		From:    from,
		Subject: parsed.Subject,
		Raw:     string(rawBytes),
		Text:    parsed.Text,
		HTML:    parsed.HTML,
	})
	if err != nil {
		if errors.Is(err, storage.ErrMailboxNotFound) {
			// 邮箱在 RCPT 与 DATA 之间被清理回收
			return &gosmtp.SMTPError{
				Code:         550,
				EnhancedCode: gosmtp.EnhancedCode{5, 1, 1},
				Message:      "recipient mailbox no longer exists",
			}
		}
		s.backend.log.Error("邮件落库失败",
			zap.String("mailbox", owner),
			zap.Error(err))
		return &gosmtp.SMTPError{
			Code:         451,
			EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
			Message:      "temporary storage failure, try again later",
		}
	}

	monitoring.RecordMessageStored()
	s.backend.log.Info("邮件已接收",
		zap.String("mailbox", owner),
		zap.String("message_id", message.ID),
		zap.String("from", message.From),
		zap.Int("size", len(rawBytes)),
		zap.Bool("has_text", parsed.Text != ""),
		zap.Bool("has_html", parsed.HTML != ""))
	return nil
}

// AuthPlain 处理 PLAIN 认证（此处允许匿名）。
func (s *session) AuthPlain(username, password string) error {
	return nil
}

// Reset 重置状态。
func (s *session) Reset() {
	s.fromAddress = ""
	s.recipients = nil
}

// Logout 会话结束，归还连接额度。
func (s *session) Logout() error {
	if s.backend.limiter != nil {
		s.backend.limiter.Release()
	}
	monitoring.SMTPConnectionClosed()
	return nil
}
