package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dropmail/backend/internal/storage"
)

func ptrTime(t time.Time) *time.Time { return &t }

func TestStore_UpsertMailbox(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	expiry := time.Now().UTC().Add(24 * time.Hour)

	t.Run("首次 upsert 创建邮箱", func(t *testing.T) {
		mb, created, err := store.UpsertMailbox(ctx, "alice@temp.mail", ptrTime(expiry))
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotEmpty(t, mb.ID)
		assert.Equal(t, "alice@temp.mail", mb.Address)
		require.NotNil(t, mb.ExpiresAt)
		assert.True(t, mb.ExpiresAt.Equal(expiry))
	})

	t.Run("重复 upsert 返回已有记录且不改过期时间", func(t *testing.T) {
		later := time.Now().UTC().Add(48 * time.Hour)
		mb, created, err := store.UpsertMailbox(ctx, "alice@temp.mail", ptrTime(later))
		require.NoError(t, err)
		assert.False(t, created)
		require.NotNil(t, mb.ExpiresAt)
		assert.True(t, mb.ExpiresAt.Equal(expiry), "已有邮箱的过期时间不应被改写")
	})

	t.Run("并发 upsert 恰好创建一次", func(t *testing.T) {
		const workers = 16
		results := make(chan bool, workers)
		for i := 0; i < workers; i++ {
			go func() {
				_, created, err := store.UpsertMailbox(ctx, "race@temp.mail", ptrTime(expiry))
				assert.NoError(t, err)
				results <- created
			}()
		}
		createdCount := 0
		for i := 0; i < workers; i++ {
			if <-results {
				createdCount++
			}
		}
		assert.Equal(t, 1, createdCount)
	})
}

func TestStore_Messages(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	_, _, err := store.UpsertMailbox(ctx, "bob@temp.mail", nil)
	require.NoError(t, err)

	t.Run("写入邮件成功", func(t *testing.T) {
		msg, err := store.CreateMessage(ctx, "bob@temp.mail", storage.CreateMessageInput{
			From:    "sender@example.com",
			Subject: "hello",
			Raw:     "hello bob",
		})
		require.NoError(t, err)
		assert.NotEmpty(t, msg.ID)
		assert.Equal(t, "hello", msg.Subject)

		got, err := store.GetMessage(ctx, msg.ID)
		require.NoError(t, err)
		assert.Equal(t, msg.ID, got.ID)
	})

	t.Run("邮箱不存在时写入失败", func(t *testing.T) {
		_, err := store.CreateMessage(ctx, "ghost@temp.mail", storage.CreateMessageInput{})
		assert.ErrorIs(t, err, storage.ErrMailboxNotFound)
	})

	t.Run("列表按时间倒序且遵守上限", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			_, err := store.CreateMessage(ctx, "bob@temp.mail", storage.CreateMessageInput{Subject: "m"})
			require.NoError(t, err)
			time.Sleep(time.Millisecond)
		}
		messages, err := store.ListMessages(ctx, "bob@temp.mail", 3)
		require.NoError(t, err)
		assert.Len(t, messages, 3)
		for i := 1; i < len(messages); i++ {
			assert.False(t, messages[i].CreatedAt.After(messages[i-1].CreatedAt))
		}
	})

	t.Run("不存在的邮件返回错误", func(t *testing.T) {
		_, err := store.GetMessage(ctx, "nonexistent")
		assert.ErrorIs(t, err, storage.ErrMessageNotFound)
	})
}

func TestStore_Expiry(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	now := time.Now().UTC()

	_, _, err := store.UpsertMailbox(ctx, "old@temp.mail", ptrTime(now.Add(-time.Hour)))
	require.NoError(t, err)
	_, _, err = store.UpsertMailbox(ctx, "fresh@temp.mail", ptrTime(now.Add(time.Hour)))
	require.NoError(t, err)
	_, _, err = store.UpsertMailbox(ctx, "pinned@temp.mail", nil)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := store.CreateMessage(ctx, "old@temp.mail", storage.CreateMessageInput{Subject: "stale"})
		require.NoError(t, err)
	}

	t.Run("查找过期邮箱", func(t *testing.T) {
		expired, err := store.FindExpiredMailboxes(ctx, now)
		require.NoError(t, err)
		require.Len(t, expired, 1)
		assert.Equal(t, "old@temp.mail", expired[0].Address)
	})

	t.Run("统计过期数量", func(t *testing.T) {
		mailboxes, messages, err := store.CountExpired(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, 1, mailboxes)
		assert.Equal(t, 2, messages)
	})

	t.Run("删除过期邮箱连同邮件", func(t *testing.T) {
		expired, err := store.FindExpiredMailboxes(ctx, now)
		require.NoError(t, err)
		deletedMessages := 0
		for _, mb := range expired {
			n, err := store.DeleteMessagesByMailbox(ctx, mb.ID)
			require.NoError(t, err)
			deletedMessages += n
		}
		deletedMailboxes, err := store.DeleteExpiredMailboxes(ctx, now)
		require.NoError(t, err)

		assert.Equal(t, 1, deletedMailboxes)
		assert.Equal(t, 2, deletedMessages)

		_, err = store.GetMailboxByAddress(ctx, "old@temp.mail")
		assert.ErrorIs(t, err, storage.ErrMailboxNotFound)
		_, err = store.GetMailboxByAddress(ctx, "fresh@temp.mail")
		assert.NoError(t, err)
		_, err = store.GetMailboxByAddress(ctx, "pinned@temp.mail")
		assert.NoError(t, err, "ExpiresAt 为 nil 的邮箱不走 TTL 过期")
	})

	t.Run("再次删除是空操作", func(t *testing.T) {
		deleted, err := store.DeleteExpiredMailboxes(ctx, now)
		require.NoError(t, err)
		assert.Zero(t, deleted)
	})
}
