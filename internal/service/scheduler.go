package service

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"dropmail/backend/internal/config"
)

// SchedulerStatus 描述调度器的运行状态。
type SchedulerStatus struct {
	Running   bool      `json:"running"`
	NextRunAt time.Time `json:"next_run_at,omitempty"`
}

// CleanupScheduler 以单发定时器驱动清理引擎周期运行。
// 每轮结束后重新设定下一次触发：上一轮有删除时用加速间隔，
// 否则用稳态间隔；所有延迟带抖动并受最小延迟下限保护，
// 多实例同时部署时不会在同一时刻齐射。
type CleanupScheduler struct {
	engine *CleanupEngine
	cfg    config.CleanupConfig
	log    *zap.Logger

	mu        sync.Mutex
	running   bool
	timer     *time.Timer
	cancel    context.CancelFunc
	nextRunAt time.Time
	rng       *rand.Rand
}

// NewCleanupScheduler 创建清理调度器。
func NewCleanupScheduler(engine *CleanupEngine, cfg config.CleanupConfig, log *zap.Logger) *CleanupScheduler {
	return &CleanupScheduler{
		engine: engine,
		cfg:    cfg,
		log:    log.Named("cleanup-scheduler"),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Start 启动调度器。重复调用是空操作，不会产生第二个定时器。
func (s *CleanupScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true
	s.armLocked(ctx, s.cfg.StartDelay)

	s.log.Info("清理调度器已启动",
		zap.Duration("start_delay", s.cfg.StartDelay),
		zap.Duration("base_interval", s.cfg.BaseInterval),
		zap.Duration("active_interval", s.cfg.ActiveInterval))
}

// Stop 停止调度器并取消尚未触发的定时器。重复调用是空操作。
// 已在执行中的一轮清理会因上下文取消而尽快退出。
func (s *CleanupScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}

	s.running = false
	s.cancel()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.nextRunAt = time.Time{}
	s.log.Info("清理调度器已停止")
}

// Status 返回调度器当前状态。
func (s *CleanupScheduler) Status() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SchedulerStatus{
		Running:   s.running,
		NextRunAt: s.nextRunAt,
	}
}

// armLocked 设定下一次触发。调用方必须持有 s.mu。
func (s *CleanupScheduler) armLocked(ctx context.Context, base time.Duration) {
	delay := s.jitter(base)
	if delay < s.cfg.MinDelay {
		delay = s.cfg.MinDelay
	}
	s.nextRunAt = time.Now().Add(delay)
	s.timer = time.AfterFunc(delay, func() {
		s.fire(ctx)
	})
	s.log.Debug("下一轮清理已排定", zap.Duration("delay", delay))
}

// fire 执行一轮清理并重新排定下一轮。
func (s *CleanupScheduler) fire(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	result := s.engine.ReclaimExpired(ctx)

	// 有删除说明可能还有积压，下一轮提前；否则回到稳态节奏。
	next := s.cfg.BaseInterval
	if result.DeletedMailboxes > 0 || result.DeletedMessages > 0 {
		next = s.cfg.ActiveInterval
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || ctx.Err() != nil {
		return
	}
	s.armLocked(ctx, next)
}

// jitter 在 [1-J, 1+J] 区间内均匀扰动 base。
func (s *CleanupScheduler) jitter(base time.Duration) time.Duration {
	j := s.cfg.Jitter
	if j <= 0 {
		return base
	}
	factor := 1 - j + s.rng.Float64()*2*j
	return time.Duration(float64(base) * factor)
}
