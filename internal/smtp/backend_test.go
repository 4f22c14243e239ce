package smtp

import (
	"context"
	"strings"
	"testing"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dropmail/backend/internal/domain"
	"dropmail/backend/internal/service"
	"dropmail/backend/internal/storage/memory"
)

func newTestSession(t *testing.T) (*session, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	policy := domain.NewAddressPolicy("temp.mail")
	mailboxes := service.NewMailboxService(store, policy, 24*time.Hour, zap.NewNop())
	messages := service.NewMessageService(store, zap.NewNop())
	backend := NewBackend(mailboxes, messages, nil, 10<<20, zap.NewNop())

	sess, err := backend.NewSession(nil)
	require.NoError(t, err)
	return sess.(*session), store
}

func smtpCode(t *testing.T, err error) int {
	t.Helper()
	var smtpErr *gosmtp.SMTPError
	require.ErrorAs(t, err, &smtpErr)
	return smtpErr.Code
}

func TestSessionRcpt(t *testing.T) {
	ctx := context.Background()

	t.Run("本域收件自动建箱", func(t *testing.T) {
		sess, store := newTestSession(t)

		require.NoError(t, sess.Rcpt("<Alice@Temp.Mail>", nil))
		assert.Equal(t, []string{"alice@temp.mail"}, sess.recipients)

		_, err := store.GetMailboxByAddress(ctx, "alice@temp.mail")
		assert.NoError(t, err)
	})

	t.Run("外部域名返回550", func(t *testing.T) {
		sess, _ := newTestSession(t)

		err := sess.Rcpt("bob@gmail.com", nil)
		assert.Equal(t, 550, smtpCode(t, err))
	})

	t.Run("畸形地址返回550", func(t *testing.T) {
		sess, _ := newTestSession(t)

		err := sess.Rcpt("not-an-address", nil)
		assert.Equal(t, 550, smtpCode(t, err))
	})

	t.Run("重复收件不延长过期时间", func(t *testing.T) {
		sess, store := newTestSession(t)

		require.NoError(t, sess.Rcpt("carol@temp.mail", nil))
		first, err := store.GetMailboxByAddress(ctx, "carol@temp.mail")
		require.NoError(t, err)
		originalExpiry := *first.ExpiresAt

		time.Sleep(5 * time.Millisecond)
		require.NoError(t, sess.Rcpt("carol@temp.mail", nil))
		second, err := store.GetMailboxByAddress(ctx, "carol@temp.mail")
		require.NoError(t, err)
		assert.True(t, second.ExpiresAt.Equal(originalExpiry))
	})
}

func TestSessionData(t *testing.T) {
	ctx := context.Background()

	raw := strings.Join([]string{
		"From: Sender <sender@example.com>",
		"To: alice@temp.mail",
		"Subject: hello",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"hi there",
	}, "\r\n")

	t.Run("解析并投递", func(t *testing.T) {
		sess, store := newTestSession(t)
		require.NoError(t, sess.Mail("sender@example.com", nil))
		require.NoError(t, sess.Rcpt("alice@temp.mail", nil))

		require.NoError(t, sess.Data(strings.NewReader(raw)))

		messages, err := store.ListMessages(ctx, "alice@temp.mail", 10)
		require.NoError(t, err)
		require.Len(t, messages, 1)
		assert.Equal(t, "Sender <sender@example.com>", messages[0].From)
		assert.Equal(t, "hello", messages[0].Subject)
		assert.Equal(t, "hi there", messages[0].Text)
		assert.Equal(t, raw, messages[0].Raw)
	})

	t.Run("多收件人时邮件归第一个", func(t *testing.T) {
		sess, store := newTestSession(t)
		require.NoError(t, sess.Rcpt("first@temp.mail", nil))
		require.NoError(t, sess.Rcpt("second@temp.mail", nil))

		require.NoError(t, sess.Data(strings.NewReader(raw)))

		firstList, err := store.ListMessages(ctx, "first@temp.mail", 10)
		require.NoError(t, err)
		assert.Len(t, firstList, 1)
		secondList, err := store.ListMessages(ctx, "second@temp.mail", 10)
		require.NoError(t, err)
		assert.Empty(t, secondList)
	})

	t.Run("无收件人返回503", func(t *testing.T) {
		sess, _ := newTestSession(t)
		err := sess.Data(strings.NewReader(raw))
		assert.Equal(t, 503, smtpCode(t, err))
	})

	t.Run("解析失败返回451", func(t *testing.T) {
		sess, _ := newTestSession(t)
		require.NoError(t, sess.Rcpt("alice@temp.mail", nil))

		broken := "Content-Type: multipart/mixed\r\n\r\nbody"
		err := sess.Data(strings.NewReader(broken))
		assert.Equal(t, 451, smtpCode(t, err))
	})

	t.Run("无From头时回退信封发件人", func(t *testing.T) {
		sess, store := newTestSession(t)
		require.NoError(t, sess.Mail("envelope@example.com", nil))
		require.NoError(t, sess.Rcpt("dave@temp.mail", nil))

		headerless := "Subject: x\r\n\r\nbody"
		require.NoError(t, sess.Data(strings.NewReader(headerless)))

		messages, err := store.ListMessages(ctx, "dave@temp.mail", 10)
		require.NoError(t, err)
		require.Len(t, messages, 1)
		assert.Equal(t, "envelope@example.com", messages[0].From)
	})

	t.Run("发件人与主题缺省值", func(t *testing.T) {
		sess, store := newTestSession(t)
		require.NoError(t, sess.Rcpt("eve@temp.mail", nil))

		require.NoError(t, sess.Data(strings.NewReader("X-Header: x\r\n\r\nbody")))

		messages, err := store.ListMessages(ctx, "eve@temp.mail", 10)
		require.NoError(t, err)
		require.Len(t, messages, 1)
		assert.Equal(t, "unknown", messages[0].From)
		assert.Equal(t, "(No Subject)", messages[0].Subject)
	})

	t.Run("Reset清空会话状态", func(t *testing.T) {
		sess, _ := newTestSession(t)
		require.NoError(t, sess.Mail("someone@example.com", nil))
		require.NoError(t, sess.Rcpt("alice@temp.mail", nil))

		sess.Reset()
		assert.Empty(t, sess.fromAddress)
		assert.Empty(t, sess.recipients)
	})
}

func TestConnectionLimiter(t *testing.T) {
	t.Run("并发上限", func(t *testing.T) {
		limiter := NewConnectionLimiter(2, 100)
		assert.True(t, limiter.Acquire())
		assert.True(t, limiter.Acquire())
		assert.False(t, limiter.Acquire(), "超出并发上限")

		limiter.Release()
		assert.True(t, limiter.Acquire())
		assert.Equal(t, 2, limiter.Current())
	})

	t.Run("速率上限", func(t *testing.T) {
		limiter := NewConnectionLimiter(100, 2)
		assert.True(t, limiter.Acquire())
		assert.True(t, limiter.Acquire())
		assert.False(t, limiter.Acquire(), "超出每秒新建连接数")
	})
}
