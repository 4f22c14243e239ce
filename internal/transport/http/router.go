package httptransport

import (
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dropmail/backend/internal/config"
	"dropmail/backend/internal/health"
	"dropmail/backend/internal/middleware"
	"dropmail/backend/internal/monitoring"
	"dropmail/backend/internal/service"
	"dropmail/backend/internal/websocket"
)

// 接口限流参数。创建邮箱比读邮件昂贵得多，窗口也更长。
const (
	mailboxCreateLimit  = 5
	mailboxCreateWindow = 5 * time.Minute
	messageAccessLimit  = 30
	messageAccessWindow = time.Minute
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config         *config.Config
	MailboxService *service.MailboxService
	MessageService *service.MessageService
	Sessions       *service.SessionManager
	CleanupEngine  *service.CleanupEngine
	Scheduler      *service.CleanupScheduler
	WebSocketHub   *websocket.Hub
	HealthChecker  *health.Checker
	Logger         *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	router := gin.New()

	router.Use(middleware.RecoveryHandler(deps.Logger))
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.BodySizeLimit(1 << 20)) // API 请求体不超过 1MB

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Session-Token"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	// 允许所有来源时必须关闭凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	handler := NewHandler(
		deps.MailboxService,
		deps.MessageService,
		deps.Sessions,
		deps.CleanupEngine,
		deps.Scheduler,
		deps.Logger,
	)

	sessionAuth := middleware.NewSessionAuth(deps.Sessions)
	createLimit := middleware.RateLimitByIP(middleware.NewIPRateLimiter(mailboxCreateLimit, mailboxCreateWindow))
	accessLimit := middleware.RateLimitByIP(middleware.NewIPRateLimiter(messageAccessLimit, messageAccessWindow))

	// 运维端点
	router.GET("/metrics", gin.WrapH(monitoring.HTTPHandler()))
	if deps.HealthChecker != nil {
		router.GET("/health/live", gin.WrapF(deps.HealthChecker.LiveEndpoint()))
		router.GET("/health/ready", gin.WrapF(deps.HealthChecker.ReadyEndpoint()))
	}

	api := router.Group("/api")
	{
		api.GET("/domain", handler.domainInfo)

		mailboxRoutes := api.Group("/mailboxes")
		{
			mailboxRoutes.POST("/custom", createLimit, handler.createCustomMailbox)
			mailboxRoutes.POST("/random", createLimit, handler.createRandomMailbox)
			mailboxRoutes.GET("/:address/messages", accessLimit, sessionAuth.RequireSession(), handler.listMessages)
		}

		api.GET("/messages/:id", accessLimit, sessionAuth.RequireSession(), handler.getMessage)

		cleanupRoutes := api.Group("/cleanup")
		{
			cleanupRoutes.GET("/status", handler.cleanupStatus)
			cleanupRoutes.POST("/run", handler.runCleanup)
		}

		if deps.WebSocketHub != nil {
			api.GET("/ws", websocket.HandleWebSocket(deps.WebSocketHub, deps.Sessions))
		}
	}

	return router
}
