package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dropmail/backend/internal/domain"
	"dropmail/backend/internal/storage"
	"dropmail/backend/internal/storage/memory"
)

func newTestMailboxService(repo storage.MailboxRepository) *MailboxService {
	policy := domain.NewAddressPolicy("temp.mail")
	return NewMailboxService(repo, policy, 24*time.Hour, zap.NewNop())
}

func TestMailboxServiceEnsureForDelivery(t *testing.T) {
	ctx := context.Background()

	t.Run("首次投递自动建箱", func(t *testing.T) {
		svc := newTestMailboxService(memory.NewStore())

		before := time.Now().UTC()
		mailbox, err := svc.EnsureForDelivery(ctx, "  Alice@TEMP.MAIL ")
		require.NoError(t, err)

		assert.Equal(t, "alice@temp.mail", mailbox.Address)
		require.NotNil(t, mailbox.ExpiresAt)
		assert.WithinDuration(t, before.Add(24*time.Hour), *mailbox.ExpiresAt, 5*time.Second)
	})

	t.Run("外部域名拒收", func(t *testing.T) {
		svc := newTestMailboxService(memory.NewStore())

		_, err := svc.EnsureForDelivery(ctx, "bob@gmail.com")
		assert.ErrorIs(t, err, ErrDomainNotAllowed)
	})

	t.Run("重复投递不延长过期时间", func(t *testing.T) {
		svc := newTestMailboxService(memory.NewStore())

		first, err := svc.EnsureForDelivery(ctx, "carol@temp.mail")
		require.NoError(t, err)
		originalExpiry := *first.ExpiresAt

		time.Sleep(10 * time.Millisecond)
		second, err := svc.EnsureForDelivery(ctx, "carol@temp.mail")
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		assert.True(t, second.ExpiresAt.Equal(originalExpiry), "已有邮箱的过期时间保持不变")
	})
}

func TestMailboxServiceCreateCustom(t *testing.T) {
	ctx := context.Background()

	t.Run("创建自定义邮箱", func(t *testing.T) {
		svc := newTestMailboxService(memory.NewStore())

		mailbox, created, err := svc.CreateCustom(ctx, "My.Box")
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, "my.box@temp.mail", mailbox.Address)
	})

	t.Run("已有地址复用旧邮箱", func(t *testing.T) {
		svc := newTestMailboxService(memory.NewStore())

		first, created, err := svc.CreateCustom(ctx, "dave")
		require.NoError(t, err)
		require.True(t, created)

		second, created, err := svc.CreateCustom(ctx, "dave")
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, second.ID)
	})

	t.Run("非法本地部分报错", func(t *testing.T) {
		svc := newTestMailboxService(memory.NewStore())

		_, _, err := svc.CreateCustom(ctx, "!!!")
		assert.ErrorIs(t, err, domain.ErrInvalidLocalPart)
	})
}

// collideRepo 使前 collisions 次 UpsertMailbox 表现为地址冲突。
type collideRepo struct {
	storage.MailboxRepository
	collisions int
	calls      int
}

func (r *collideRepo) UpsertMailbox(ctx context.Context, address string, expiresAt *time.Time) (*domain.Mailbox, bool, error) {
	r.calls++
	if r.calls <= r.collisions {
		return &domain.Mailbox{ID: "occupied", Address: address}, false, nil
	}
	return r.MailboxRepository.UpsertMailbox(ctx, address, expiresAt)
}

func TestMailboxServiceCreateRandom(t *testing.T) {
	ctx := context.Background()

	t.Run("生成随机邮箱", func(t *testing.T) {
		svc := newTestMailboxService(memory.NewStore())

		mailbox, err := svc.CreateRandom(ctx)
		require.NoError(t, err)
		assert.Regexp(t, `^[a-z0-9]{12}@temp\.mail$`, mailbox.Address)
	})

	t.Run("地址冲突重试一次", func(t *testing.T) {
		repo := &collideRepo{MailboxRepository: memory.NewStore(), collisions: 1}
		svc := newTestMailboxService(repo)

		mailbox, err := svc.CreateRandom(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, repo.calls)
		assert.NotEqual(t, "occupied", mailbox.ID)
	})

	t.Run("连续冲突返回冲突错误", func(t *testing.T) {
		repo := &collideRepo{MailboxRepository: memory.NewStore(), collisions: 2}
		svc := newTestMailboxService(repo)

		_, err := svc.CreateRandom(ctx)
		assert.ErrorIs(t, err, storage.ErrAddressTaken)
		assert.Equal(t, 2, repo.calls)
	})
}
