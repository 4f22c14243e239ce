package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"dropmail/backend/internal/domain"
	"dropmail/backend/internal/monitoring"
	"dropmail/backend/internal/storage"
)

// CleanupResult 描述一轮清理的删除数量。
type CleanupResult struct {
	DeletedMailboxes int `json:"deleted_mailboxes"`
	DeletedMessages  int `json:"deleted_messages"`
}

// CleanupStats 描述清理任务的当前状态，供管理接口查询。
type CleanupStats struct {
	ExpiredMailboxes int           `json:"expired_mailboxes"`
	ExpiredMessages  int           `json:"expired_messages"`
	Runs             int           `json:"runs"`
	LastRunAt        time.Time     `json:"last_run_at"`
	LastResult       CleanupResult `json:"last_result"`
}

// CleanupEngine 负责回收过期邮箱及其名下邮件。
// 存储的瞬时故障按固定间隔重试有限次；确定性错误立即放弃。
// 一轮清理彻底失败时记录日志并返回零结果，调用方不会因此中断。
type CleanupEngine struct {
	repo     storage.MailboxRepository
	log      *zap.Logger
	attempts int
	backoff  time.Duration

	// sleep 可在测试中替换，避免真实等待。
	sleep func(ctx context.Context, d time.Duration)

	mu         sync.Mutex
	runs       int
	lastRunAt  time.Time
	lastResult CleanupResult
}

// NewCleanupEngine 创建清理引擎。
func NewCleanupEngine(repo storage.MailboxRepository, attempts int, backoff time.Duration, log *zap.Logger) *CleanupEngine {
	if attempts <= 0 {
		attempts = 1
	}
	return &CleanupEngine{
		repo:     repo,
		log:      log.Named("cleanup"),
		attempts: attempts,
		backoff:  backoff,
		sleep:    sleepContext,
	}
}

// ReclaimExpired 执行一轮清理：找出过期邮箱，先删邮件再删邮箱。
// 返回本轮删除的数量；失败时返回零结果，绝不向调用方抛错。
func (e *CleanupEngine) ReclaimExpired(ctx context.Context) CleanupResult {
	started := time.Now()
	result, err := e.run(ctx)
	if err != nil {
		e.log.Error("清理任务失败，本轮放弃", zap.Error(err))
		result = CleanupResult{}
	}

	e.mu.Lock()
	e.runs++
	e.lastRunAt = started
	e.lastResult = result
	e.mu.Unlock()

	monitoring.RecordCleanupRun(time.Since(started), result.DeletedMailboxes, result.DeletedMessages, err == nil)

	if result.DeletedMailboxes > 0 || result.DeletedMessages > 0 {
		e.log.Info("清理任务完成",
			zap.Int("deleted_mailboxes", result.DeletedMailboxes),
			zap.Int("deleted_messages", result.DeletedMessages),
			zap.Duration("elapsed", time.Since(started)))
	}
	return result
}

func (e *CleanupEngine) run(ctx context.Context) (CleanupResult, error) {
	now := time.Now().UTC()

	var expired []domain.Mailbox
	err := e.withRetry(ctx, "find_expired", func() error {
		list, err := e.repo.FindExpiredMailboxes(ctx, now)
		if err != nil {
			return err
		}
		expired = list
		return nil
	})
	if err != nil {
		return CleanupResult{}, err
	}
	if len(expired) == 0 {
		return CleanupResult{}, nil
	}

	var result CleanupResult

	// 先删邮件再删邮箱，任何中间失败都不会留下孤儿邮件。
	for i := range expired {
		mailboxID := expired[i].ID
		err := e.withRetry(ctx, "delete_messages", func() error {
			deleted, err := e.repo.DeleteMessagesByMailbox(ctx, mailboxID)
			if err != nil {
				return err
			}
			result.DeletedMessages += deleted
			return nil
		})
		if err != nil {
			return CleanupResult{}, err
		}
	}

	err = e.withRetry(ctx, "delete_mailboxes", func() error {
		deleted, err := e.repo.DeleteExpiredMailboxes(ctx, now)
		if err != nil {
			return err
		}
		result.DeletedMailboxes += deleted
		return nil
	})
	if err != nil {
		return CleanupResult{}, err
	}

	return result, nil
}

// withRetry 执行存储操作，瞬时错误最多尝试 attempts 次。
// 确定性错误（业务错误、约束冲突）不重试，立即返回。
func (e *CleanupEngine) withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= e.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !storage.IsTransient(err) {
			return err
		}
		if attempt < e.attempts {
			e.log.Warn("存储瞬时错误，等待重试",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", e.attempts),
				zap.Error(err))
			e.sleep(ctx, e.backoff)
		}
	}
	return lastErr
}

// Stats 返回清理任务的当前统计，包括待回收的过期数据量。
func (e *CleanupEngine) Stats(ctx context.Context) (CleanupStats, error) {
	mailboxes, messages, err := e.repo.CountExpired(ctx, time.Now().UTC())
	if err != nil {
		return CleanupStats{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return CleanupStats{
		ExpiredMailboxes: mailboxes,
		ExpiredMessages:  messages,
		Runs:             e.runs,
		LastRunAt:        e.lastRunAt,
		LastResult:       e.lastResult,
	}, nil
}

// sleepContext 等待 d 时长，上下文取消时提前返回。
func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
