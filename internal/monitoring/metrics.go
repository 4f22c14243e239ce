package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 全局监控指标。promauto 注册到默认注册表，经 /metrics 暴露。
var (
	// SMTP 接收指标
	messagesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dropmail_smtp_messages_received_total",
		Help: "Total number of messages accepted over SMTP",
	})
	messagesStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dropmail_smtp_messages_stored_total",
		Help: "Total number of messages persisted to the store",
	})
	relayDenials = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dropmail_smtp_relay_denials_total",
		Help: "Total number of recipients rejected for foreign domains",
	})
	parseFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dropmail_smtp_parse_failures_total",
		Help: "Total number of messages that failed MIME parsing",
	})
	smtpConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dropmail_smtp_active_connections",
		Help: "Number of active SMTP connections",
	})

	// 邮箱指标
	mailboxesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dropmail_mailboxes_created_total",
		Help: "Total number of mailboxes created",
	})

	// 清理任务指标
	cleanupRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dropmail_cleanup_runs_total",
		Help: "Total number of cleanup runs",
	}, []string{"outcome"})
	cleanupDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dropmail_cleanup_duration_seconds",
		Help:    "Cleanup run duration in seconds",
		Buckets: prometheus.DefBuckets,
	})
	cleanupDeletedMailboxes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dropmail_cleanup_deleted_mailboxes_total",
		Help: "Total number of expired mailboxes reclaimed",
	})
	cleanupDeletedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dropmail_cleanup_deleted_messages_total",
		Help: "Total number of messages reclaimed with expired mailboxes",
	})
)

// RecordMessageReceived 记录一封经 SMTP 接收的邮件。
func RecordMessageReceived() { messagesReceived.Inc() }

// RecordMessageStored 记录一封成功落库的邮件。
func RecordMessageStored() { messagesStored.Inc() }

// RecordRelayDenial 记录一次因域名不符而拒收的收件人。
func RecordRelayDenial() { relayDenials.Inc() }

// RecordParseFailure 记录一次 MIME 解析失败。
func RecordParseFailure() { parseFailures.Inc() }

// RecordMailboxCreated 记录一次邮箱创建。
func RecordMailboxCreated() { mailboxesCreated.Inc() }

// SMTPConnectionOpened 记录 SMTP 连接建立。
func SMTPConnectionOpened() { smtpConnections.Inc() }

// SMTPConnectionClosed 记录 SMTP 连接关闭。
func SMTPConnectionClosed() { smtpConnections.Dec() }

// RecordCleanupRun 记录一轮清理的耗时与删除数量。
func RecordCleanupRun(elapsed time.Duration, mailboxes, messages int, ok bool) {
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	cleanupRuns.WithLabelValues(outcome).Inc()
	cleanupDuration.Observe(elapsed.Seconds())
	cleanupDeletedMailboxes.Add(float64(mailboxes))
	cleanupDeletedMessages.Add(float64(messages))
}

// HTTPHandler 返回 Prometheus 指标的 HTTP 处理器。
func HTTPHandler() http.Handler {
	return promhttp.Handler()
}
