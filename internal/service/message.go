package service

import (
	"context"

	"go.uber.org/zap"

	"dropmail/backend/internal/domain"
	"dropmail/backend/internal/storage"
)

// 列表查询默认返回的最新邮件数量上限。
const defaultListLimit = 50

// MessageListCache 定义邮件列表热缓存的行为（可选依赖）。
type MessageListCache interface {
	GetMessageList(ctx context.Context, address string) ([]domain.Message, bool)
	SetMessageList(ctx context.Context, address string, messages []domain.Message)
	InvalidateMessageList(ctx context.Context, address string)
}

// Notifier 定义新邮件到达时的实时通知行为（可选依赖）。
type Notifier interface {
	NotifyNewMail(address string, message *domain.Message)
}

// MessageService 封装邮件读写逻辑。
type MessageService struct {
	repo     storage.MessageRepository
	cache    MessageListCache
	notifier Notifier
	log      *zap.Logger
}

// NewMessageService 创建邮件业务服务。
func NewMessageService(repo storage.MessageRepository, log *zap.Logger) *MessageService {
	return &MessageService{repo: repo, log: log.Named("message")}
}

// SetCache 设置邮件列表缓存（可选）。
func (s *MessageService) SetCache(cache MessageListCache) {
	s.cache = cache
}

// SetNotifier 设置新邮件通知器（可选）。
func (s *MessageService) SetNotifier(notifier Notifier) {
	s.notifier = notifier
}

// Deliver 将一封解析好的邮件写入邮箱，SMTP DATA 阶段调用。
// 发件人与主题为空时填入占位值。写入成功后使列表缓存失效，
// 并尽力推送实时通知；通知失败不影响投递结果。
func (s *MessageService) Deliver(ctx context.Context, mailboxAddress string, input storage.CreateMessageInput) (*domain.Message, error) {
	if input.From == "" {
		input.From = "unknown"
	}
	if input.Subject == "" {
		input.Subject = "(No Subject)"
	}

	message, err := s.repo.CreateMessage(ctx, mailboxAddress, input)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.InvalidateMessageList(ctx, mailboxAddress)
	}
	if s.notifier != nil {
		s.notifier.NotifyNewMail(mailboxAddress, message)
	}

	s.log.Info("邮件已投递",
		zap.String("mailbox", mailboxAddress),
		zap.String("message_id", message.ID),
		zap.String("from", message.From))
	return message, nil
}

// List 返回邮箱内最新的邮件，优先走缓存。
func (s *MessageService) List(ctx context.Context, address string) ([]domain.Message, error) {
	if s.cache != nil {
		if messages, ok := s.cache.GetMessageList(ctx, address); ok {
			return messages, nil
		}
	}

	messages, err := s.repo.ListMessages(ctx, address, defaultListLimit)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.SetMessageList(ctx, address, messages)
	}
	return messages, nil
}

// Get 按 ID 查询单封邮件。
func (s *MessageService) Get(ctx context.Context, messageID string) (*domain.Message, error) {
	return s.repo.GetMessage(ctx, messageID)
}
