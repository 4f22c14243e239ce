package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"dropmail/backend/internal/domain"
	"dropmail/backend/internal/storage"
)

// Store 使用内存保存邮箱与邮件数据，用于开发验证与测试。
// 所有操作在互斥锁内完成，对并发会话提供与数据库相同的
// 原子 upsert 语义。
type Store struct {
	mu        sync.RWMutex
	mailboxes map[string]*domain.Mailbox            // mailboxID -> mailbox
	byAddress map[string]string                     // address -> mailboxID
	messages  map[string]map[string]*domain.Message // mailboxID -> messageID -> message
	byMessage map[string]string                     // messageID -> mailboxID
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		mailboxes: make(map[string]*domain.Mailbox),
		byAddress: make(map[string]string),
		messages:  make(map[string]map[string]*domain.Message),
		byMessage: make(map[string]string),
	}
}

// UpsertMailbox 原子地创建邮箱，地址已存在时返回已有记录且不改动过期时间。
func (s *Store) UpsertMailbox(ctx context.Context, address string, expiresAt *time.Time) (*domain.Mailbox, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byAddress[address]; ok {
		mb := *s.mailboxes[id]
		return &mb, false, nil
	}

	mailbox := &domain.Mailbox{
		ID:        uuid.NewString(),
		Address:   address,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: expiresAt,
	}
	s.mailboxes[mailbox.ID] = mailbox
	s.byAddress[address] = mailbox.ID
	s.messages[mailbox.ID] = make(map[string]*domain.Message)

	out := *mailbox
	return &out, true, nil
}

// GetMailboxByAddress 根据地址获取邮箱。
func (s *Store) GetMailboxByAddress(ctx context.Context, address string) (*domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byAddress[address]
	if !ok {
		return nil, storage.ErrMailboxNotFound
	}
	mb := *s.mailboxes[id]
	return &mb, nil
}

// FindExpiredMailboxes 返回已过期的全部邮箱。
func (s *Store) FindExpiredMailboxes(ctx context.Context, now time.Time) ([]domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var expired []domain.Mailbox
	for _, mb := range s.mailboxes {
		if mb.Expired(now) {
			expired = append(expired, *mb)
		}
	}
	return expired, nil
}

// CountExpired 统计已过期的邮箱数与其名下的邮件数。
func (s *Store) CountExpired(ctx context.Context, now time.Time) (int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mailboxes, messages := 0, 0
	for id, mb := range s.mailboxes {
		if mb.Expired(now) {
			mailboxes++
			messages += len(s.messages[id])
		}
	}
	return mailboxes, messages, nil
}

// DeleteMessagesByMailbox 删除指定邮箱下的全部邮件，返回删除数量。
func (s *Store) DeleteMessagesByMailbox(ctx context.Context, mailboxID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs, ok := s.messages[mailboxID]
	if !ok {
		return 0, nil
	}
	count := len(msgs)
	for messageID := range msgs {
		delete(s.byMessage, messageID)
	}
	s.messages[mailboxID] = make(map[string]*domain.Message)
	return count, nil
}

// DeleteExpiredMailboxes 删除过期邮箱及其残留邮件，返回删除的邮箱数量。
func (s *Store) DeleteExpiredMailboxes(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, mb := range s.mailboxes {
		if !mb.Expired(now) {
			continue
		}
		for messageID := range s.messages[id] {
			delete(s.byMessage, messageID)
		}
		delete(s.messages, id)
		delete(s.byAddress, mb.Address)
		delete(s.mailboxes, id)
		count++
	}
	return count, nil
}

// CreateMessage 以邮箱地址为归属写入一封邮件。
func (s *Store) CreateMessage(ctx context.Context, mailboxAddress string, input storage.CreateMessageInput) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byAddress[mailboxAddress]
	if !ok {
		return nil, storage.ErrMailboxNotFound
	}

	message := &domain.Message{
		ID:        uuid.NewString(),
		MailboxID: id,
		From:      input.From,
		Subject:   input.Subject,
		Raw:       input.Raw,
		Text:      input.Text,
		HTML:      input.HTML,
		CreatedAt: time.Now().UTC(),
	}
	s.messages[id][message.ID] = message
	s.byMessage[message.ID] = id

	out := *message
	return &out, nil
}

// ListMessages 按创建时间倒序返回邮箱的邮件，最多 limit 封。
func (s *Store) ListMessages(ctx context.Context, mailboxAddress string, limit int) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byAddress[mailboxAddress]
	if !ok {
		return nil, storage.ErrMailboxNotFound
	}

	messages := make([]domain.Message, 0, len(s.messages[id]))
	for _, msg := range s.messages[id] {
		messages = append(messages, *msg)
	}
	sort.Slice(messages, func(i, j int) bool {
		return messages[i].CreatedAt.After(messages[j].CreatedAt)
	})
	if limit > 0 && len(messages) > limit {
		messages = messages[:limit]
	}
	return messages, nil
}

// GetMessage 根据 ID 获取单封邮件。
func (s *Store) GetMessage(ctx context.Context, messageID string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mailboxID, ok := s.byMessage[messageID]
	if !ok {
		return nil, storage.ErrMessageNotFound
	}
	msg := *s.messages[mailboxID][messageID]
	return &msg, nil
}

// SetExpiry 直接改写邮箱的过期时间，仅供测试构造过期场景使用。
func (s *Store) SetExpiry(address string, expiresAt *time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byAddress[address]; ok {
		s.mailboxes[id].ExpiresAt = expiresAt
	}
}

// Close 实现 storage.Store 接口，内存存储无资源可释放。
func (s *Store) Close() error { return nil }

// Health 实现 storage.Store 接口。
func (s *Store) Health() error { return nil }
