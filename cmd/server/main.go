package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dropmail/backend/internal/cache"
	"dropmail/backend/internal/config"
	"dropmail/backend/internal/domain"
	"dropmail/backend/internal/health"
	"dropmail/backend/internal/logger"
	"dropmail/backend/internal/service"
	"dropmail/backend/internal/smtp"
	"dropmail/backend/internal/storage"
	"dropmail/backend/internal/storage/memory"
	"dropmail/backend/internal/storage/postgres"
	redisstore "dropmail/backend/internal/storage/redis"
	httptransport "dropmail/backend/internal/transport/http"
	"dropmail/backend/internal/websocket"
)

// main 启动同时包含 HTTP API 与 SMTP 接收端的临时邮箱服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		MaxSize:     100,
		MaxBackups:  3,
		MaxAge:      28,
		Compress:    true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting dropmail server",
		zap.String("domain", cfg.Mailbox.AllowedDomain),
		zap.Duration("mailbox_ttl", cfg.Mailbox.DefaultTTL),
		zap.String("log_level", cfg.Log.Level))

	// 存储层：配置了数据库时用 gorm，否则用内存存储（开发环境）
	var store storage.Store
	if cfg.Database.Type != "" && cfg.Database.DSN != "" {
		store, err = postgres.NewStore(cfg.Database.Type, cfg.Database.DSN, postgres.Options{
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			log.Fatal("failed to initialize database storage", zap.Error(err))
		}
		log.Info("using database storage", zap.String("type", cfg.Database.Type))
	} else {
		store = memory.NewStore()
		log.Info("using memory storage (development mode)")
	}
	defer func() { _ = store.Close() }()

	// Redis：配置了地址时承载会话与邮件列表缓存
	var redisClient *redisstore.Client
	if cfg.Redis.Address != "" {
		redisClient, err = redisstore.New(redisstore.Options{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, log)
		if err != nil {
			log.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer func() { _ = redisClient.Close() }()
		log.Info("redis connected", zap.String("address", cfg.Redis.Address))
	}

	// 会话存储：优先 Redis，多实例部署时会话共享
	var sessionRepo storage.SessionRepository
	if redisClient != nil {
		sessionRepo = redisstore.NewSessions(redisClient)
	} else {
		localSessions := cache.NewSessions(cfg.Mailbox.DefaultTTL)
		defer localSessions.Close()
		sessionRepo = localSessions
	}

	// 服务层
	policy := domain.NewAddressPolicy(cfg.Mailbox.AllowedDomain)
	mailboxService := service.NewMailboxService(store, policy, cfg.Mailbox.DefaultTTL, log)
	messageService := service.NewMessageService(store, log)
	sessionManager := service.NewSessionManager(sessionRepo, cfg.Mailbox.DefaultTTL)
	if redisClient != nil {
		messageService.SetCache(redisstore.NewCache(redisClient))
	}

	cleanupEngine := service.NewCleanupEngine(store, cfg.Cleanup.RetryAttempts, cfg.Cleanup.RetryBackoff, log)
	var scheduler *service.CleanupScheduler
	if cfg.Cleanup.Enabled && cfg.Cleanup.Leader {
		scheduler = service.NewCleanupScheduler(cleanupEngine, cfg.Cleanup, log)
	} else {
		log.Info("cleanup scheduler disabled",
			zap.Bool("enabled", cfg.Cleanup.Enabled),
			zap.Bool("leader", cfg.Cleanup.Leader))
	}

	// WebSocket Hub：新邮件实时推送
	wsHub := websocket.NewHub(log)
	messageService.SetNotifier(wsHub)

	// 接口变量只在 Redis 真正配置时赋值，避免有类型的 nil 指针
	// 通过接口的 nil 判断，把坏掉的就绪检查注册进去
	var redisPinger health.RedisPinger
	if redisClient != nil {
		redisPinger = redisClient
	}
	healthChecker := health.NewChecker(store, redisPinger)

	// HTTP 服务器
	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:         cfg,
		MailboxService: mailboxService,
		MessageService: messageService,
		Sessions:       sessionManager,
		CleanupEngine:  cleanupEngine,
		Scheduler:      scheduler,
		WebSocketHub:   wsHub,
		HealthChecker:  healthChecker,
		Logger:         log,
	})

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// SMTP 服务器
	limiter := smtp.NewConnectionLimiter(cfg.SMTP.MaxConnections, cfg.SMTP.MaxConnRate)
	smtpBackend := smtp.NewBackend(mailboxService, messageService, limiter, cfg.SMTP.MaxMessageBytes, log)
	smtpServer := smtp.NewServer(smtpBackend, cfg.SMTP)

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	group.Go(func() error {
		log.Info("starting SMTP server",
			zap.String("address", cfg.SMTP.BindAddr),
			zap.String("domain", cfg.SMTP.Domain))
		if err := smtpServer.ListenAndServe(); err != nil {
			log.Error("SMTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	group.Go(func() error {
		wsHub.Run(groupCtx)
		return nil
	})

	if scheduler != nil {
		scheduler.Start()
	}

	// 优雅关闭
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		if scheduler != nil {
			scheduler.Stop()
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		if err := smtpServer.Close(); err != nil {
			log.Warn("SMTP server close warning", zap.Error(err))
		}

		log.Info("servers stopped")
		return nil
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}
