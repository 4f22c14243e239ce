package health

import (
	"net/http"

	"github.com/heptiolabs/healthcheck"

	"dropmail/backend/internal/storage"
)

// Checker 健康检查器，暴露 /live 与 /ready 两个探针端点。
type Checker struct {
	handler healthcheck.Handler
}

// RedisPinger Redis 连通性检查（可选）。
type RedisPinger interface {
	Health() error
}

// NewChecker 创建健康检查器。
func NewChecker(store storage.Store, redis RedisPinger) *Checker {
	handler := healthcheck.NewHandler()

	handler.AddLivenessCheck("goroutines", healthcheck.GoroutineCountCheck(1000))
	handler.AddReadinessCheck("store", func() error {
		return store.Health()
	})
	if redis != nil {
		handler.AddReadinessCheck("redis", redis.Health)
	}

	return &Checker{handler: handler}
}

// LiveEndpoint 存活探针处理器。
func (c *Checker) LiveEndpoint() http.HandlerFunc {
	return c.handler.LiveEndpoint
}

// ReadyEndpoint 就绪探针处理器。
func (c *Checker) ReadyEndpoint() http.HandlerFunc {
	return c.handler.ReadyEndpoint
}
