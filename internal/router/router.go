package router

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ashwinyue/ml-testbench/internal/handler"
	"github.com/ashwinyue/ml-testbench/internal/middleware"
)

// newEngine 公共中间件与健康检查
func newEngine(logger *zap.Logger) *gin.Engine {
	r := gin.New()

	// 中间件
	r.Use(middleware.RecoveryMiddleware(logger))
	r.Use(middleware.LoggingMiddleware(logger))

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	return r
}

// SetupLeaderboardRouter 排行榜路由，jwtSecret 为空时不鉴权
func SetupLeaderboardRouter(h *handler.LeaderboardHandler, jwtSecret string, logger *zap.Logger) *gin.Engine {
	r := newEngine(logger)
	r.GET("/leaderboard", middleware.RequireAuth(jwtSecret), h.GetLeaderboard)
	return r
}

// SetupSidecarRouter sidecar 路由
func SetupSidecarRouter(h *handler.SidecarHandler, logger *zap.Logger) *gin.Engine {
	r := newEngine(logger)

	v1 := r.Group("/pokt-v1")
	{
		v1.GET("/tokenizer", h.GetTokenizer)
		v1.GET("/tokenizer-hash", h.GetTokenizerHash)
		v1.GET("/config", h.GetConfig)
		v1.GET("/config-hash", h.GetConfigHash)
	}
	return r
}
