package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"dropmail/backend/internal/domain"
	"dropmail/backend/internal/storage"
)

var (
	// ErrDomainNotAllowed 收件地址不属于本服务的收件域
	ErrDomainNotAllowed = errors.New("domain not allowed")
)

// MailboxService 封装邮箱相关业务操作。
type MailboxService struct {
	repo   storage.MailboxRepository
	policy *domain.AddressPolicy
	ttl    time.Duration
	log    *zap.Logger
}

// NewMailboxService 创建邮箱业务服务。
func NewMailboxService(repo storage.MailboxRepository, policy *domain.AddressPolicy, ttl time.Duration, log *zap.Logger) *MailboxService {
	return &MailboxService{
		repo:   repo,
		policy: policy,
		ttl:    ttl,
		log:    log.Named("mailbox"),
	}
}

// Policy 返回服务所用的地址策略。
func (s *MailboxService) Policy() *domain.AddressPolicy {
	return s.policy
}

// EnsureForDelivery 为一个收件地址准备邮箱，SMTP RCPT 阶段调用。
// 地址域不在收件范围内时返回 ErrDomainNotAllowed；
// 邮箱已存在时直接复用，过期时间保持不变。
func (s *MailboxService) EnsureForDelivery(ctx context.Context, rcpt string) (*domain.Mailbox, error) {
	address := s.policy.Normalize(rcpt)
	if !s.policy.IsAllowed(address) {
		return nil, ErrDomainNotAllowed
	}

	expiresAt := time.Now().UTC().Add(s.ttl)
	mailbox, created, err := s.repo.UpsertMailbox(ctx, address, &expiresAt)
	if err != nil {
		return nil, err
	}
	if created {
		s.log.Info("邮箱已按需创建",
			zap.String("address", address),
			zap.Time("expires_at", expiresAt))
	}
	return mailbox, nil
}

// CreateCustom 以用户指定的本地部分创建邮箱。
// 返回的布尔值表示邮箱是否为本次新建；地址已存在时复用旧邮箱，
// 不重置过期时间。
func (s *MailboxService) CreateCustom(ctx context.Context, localPart string) (*domain.Mailbox, bool, error) {
	address, err := s.policy.MakeAddress(localPart)
	if err != nil {
		return nil, false, err
	}

	expiresAt := time.Now().UTC().Add(s.ttl)
	mailbox, created, err := s.repo.UpsertMailbox(ctx, address, &expiresAt)
	if err != nil {
		return nil, false, err
	}
	if created {
		s.log.Info("自定义邮箱已创建", zap.String("address", address))
	}
	return mailbox, created, nil
}

// CreateRandom 创建随机地址邮箱。随机地址理论上可能撞上已有邮箱，
// 撞上时换一个地址重试一次，仍然冲突则返回 ErrAddressTaken。
func (s *MailboxService) CreateRandom(ctx context.Context) (*domain.Mailbox, error) {
	for attempt := 0; attempt < 2; attempt++ {
		address := s.policy.RandomAddress()
		expiresAt := time.Now().UTC().Add(s.ttl)

		mailbox, created, err := s.repo.UpsertMailbox(ctx, address, &expiresAt)
		if err != nil {
			return nil, err
		}
		if created {
			s.log.Info("随机邮箱已创建", zap.String("address", address))
			return mailbox, nil
		}
		s.log.Warn("随机地址冲突，重新生成", zap.String("address", address))
	}
	return nil, storage.ErrAddressTaken
}

// Get 按地址查询邮箱。
func (s *MailboxService) Get(ctx context.Context, address string) (*domain.Mailbox, error) {
	return s.repo.GetMailboxByAddress(ctx, s.policy.Normalize(address))
}
