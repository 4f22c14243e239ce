package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"dropmail/backend/internal/domain"
	"dropmail/backend/internal/storage"
)

// Store 基于 GORM 的数据库存储实现（支持 PostgreSQL 与 MySQL）。
type Store struct {
	db *gorm.DB
}

// Options 数据库连接池参数。
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewStore 根据数据库类型创建存储实例。
func NewStore(driverName, dsn string, opts Options) (*Store, error) {
	var dialector gorm.Dialector
	switch driverName {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: mysql, postgres)", driverName)
	}
	return newStoreWithDialector(dialector, opts)
}

func newStoreWithDialector(dialector gorm.Dialector, opts Options) (*Store, error) {
	config := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(dialector, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 25
	}
	if opts.MaxIdleConns <= 0 {
		opts.MaxIdleConns = 5
	}
	if opts.ConnMaxLifetime <= 0 {
		opts.ConnMaxLifetime = 5 * time.Minute
	}
	sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// migrate 自动迁移数据库表结构。
func (s *Store) migrate() error {
	return s.db.AutoMigrate(
		&domain.Mailbox{},
		&domain.Message{},
	)
}

// UpsertMailbox 原子地创建邮箱，地址冲突时读取并返回已有记录。
// 冲突分支不改写已有记录的任何字段，过期时间因此保持原值。
func (s *Store) UpsertMailbox(ctx context.Context, address string, expiresAt *time.Time) (*domain.Mailbox, bool, error) {
	mailbox := &domain.Mailbox{
		ID:        uuid.NewString(),
		Address:   address,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: expiresAt,
	}

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "address"}},
			DoNothing: true,
		}).
		Create(mailbox)
	if result.Error != nil {
		return nil, false, result.Error
	}
	if result.RowsAffected > 0 {
		return mailbox, true, nil
	}

	// 唯一约束生效，另一个会话已创建该地址，读取既有记录。
	var existing domain.Mailbox
	if err := s.db.WithContext(ctx).Where("address = ?", address).First(&existing).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, storage.ErrMailboxNotFound
		}
		return nil, false, err
	}
	return &existing, false, nil
}

// GetMailboxByAddress 根据地址获取邮箱。
func (s *Store) GetMailboxByAddress(ctx context.Context, address string) (*domain.Mailbox, error) {
	var mailbox domain.Mailbox
	err := s.db.WithContext(ctx).Where("address = ?", address).First(&mailbox).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrMailboxNotFound
		}
		return nil, err
	}
	return &mailbox, nil
}

// FindExpiredMailboxes 返回在 now 时刻已过期的全部邮箱。
func (s *Store) FindExpiredMailboxes(ctx context.Context, now time.Time) ([]domain.Mailbox, error) {
	var mailboxes []domain.Mailbox
	err := s.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at < ?", now).
		Find(&mailboxes).Error
	return mailboxes, err
}

// CountExpired 统计已过期的邮箱数与其名下的邮件数。
func (s *Store) CountExpired(ctx context.Context, now time.Time) (int, int, error) {
	var mailboxCount int64
	err := s.db.WithContext(ctx).Model(&domain.Mailbox{}).
		Where("expires_at IS NOT NULL AND expires_at < ?", now).
		Count(&mailboxCount).Error
	if err != nil {
		return 0, 0, err
	}

	var messageCount int64
	err = s.db.WithContext(ctx).Model(&domain.Message{}).
		Where("mailbox_id IN (?)", s.db.Model(&domain.Mailbox{}).
			Select("id").
			Where("expires_at IS NOT NULL AND expires_at < ?", now)).
		Count(&messageCount).Error
	if err != nil {
		return 0, 0, err
	}
	return int(mailboxCount), int(messageCount), nil
}

// DeleteMessagesByMailbox 删除指定邮箱下的全部邮件，返回删除数量。
func (s *Store) DeleteMessagesByMailbox(ctx context.Context, mailboxID string) (int, error) {
	result := s.db.WithContext(ctx).
		Where("mailbox_id = ?", mailboxID).
		Delete(&domain.Message{})
	return int(result.RowsAffected), result.Error
}

// DeleteExpiredMailboxes 在一个事务内删除过期邮箱，残留邮件先于邮箱删除。
func (s *Store) DeleteExpiredMailboxes(ctx context.Context, now time.Time) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var expired []domain.Mailbox
		if err := tx.Where("expires_at IS NOT NULL AND expires_at < ?", now).Find(&expired).Error; err != nil {
			return err
		}
		count = int64(len(expired))
		if count == 0 {
			return nil
		}

		ids := make([]string, 0, len(expired))
		for _, mb := range expired {
			ids = append(ids, mb.ID)
		}

		// 邮件先删：删除邮箱前清掉归属邮件，保证不留孤儿记录。
		if err := tx.Where("mailbox_id IN ?", ids).Delete(&domain.Message{}).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", ids).Delete(&domain.Mailbox{}).Error
	})
	return int(count), err
}

// CreateMessage 以邮箱地址为归属写入一封邮件。
func (s *Store) CreateMessage(ctx context.Context, mailboxAddress string, input storage.CreateMessageInput) (*domain.Message, error) {
	message := &domain.Message{
		ID:        uuid.NewString(),
		From:      input.From,
		Subject:   input.Subject,
		Raw:       input.Raw,
		Text:      input.Text,
		HTML:      input.HTML,
		CreatedAt: time.Now().UTC(),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var mailbox domain.Mailbox
		if err := tx.Where("address = ?", mailboxAddress).First(&mailbox).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return storage.ErrMailboxNotFound
			}
			return err
		}
		message.MailboxID = mailbox.ID
		return tx.Create(message).Error
	})
	if err != nil {
		return nil, err
	}
	return message, nil
}

// ListMessages 按创建时间倒序返回邮箱的邮件，最多 limit 封。
func (s *Store) ListMessages(ctx context.Context, mailboxAddress string, limit int) ([]domain.Message, error) {
	mailbox, err := s.GetMailboxByAddress(ctx, mailboxAddress)
	if err != nil {
		return nil, err
	}

	var messages []domain.Message
	query := s.db.WithContext(ctx).
		Where("mailbox_id = ?", mailbox.ID).
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err = query.Find(&messages).Error
	return messages, err
}

// GetMessage 根据 ID 获取单封邮件。
func (s *Store) GetMessage(ctx context.Context, messageID string) (*domain.Message, error) {
	var message domain.Message
	err := s.db.WithContext(ctx).Where("id = ?", messageID).First(&message).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrMessageNotFound
		}
		return nil, err
	}
	return &message, nil
}

// Close 关闭底层数据库连接。
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health 检查数据库连接状态。
func (s *Store) Health() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
