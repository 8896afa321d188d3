package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ashwinyue/ml-testbench/internal/handler"
	"github.com/ashwinyue/ml-testbench/internal/mongodb"
	"github.com/ashwinyue/ml-testbench/internal/router"
	"github.com/ashwinyue/ml-testbench/internal/service/leaderboard"
	"github.com/ashwinyue/ml-testbench/internal/service/sidecar"
)

// shutdownTimeout 优雅关闭等待时间
const shutdownTimeout = 10 * time.Second

// LeaderboardHandler 装配排行榜服务，Redis 未配置时不缓存
func (a *App) LeaderboardHandler(ctx context.Context) (http.Handler, func(), error) {
	gin.SetMode(a.Config.Server.Mode)

	mc, err := a.Mongo(ctx)
	if err != nil {
		return nil, nil, err
	}

	var cache *redis.Client
	cleanup := func() {}
	if a.Config.Redis.Enabled() {
		cache = redis.NewClient(&redis.Options{
			Addr:     a.Config.Redis.Addr,
			Password: a.Config.Redis.Password,
			DB:       a.Config.Redis.DB,
		})
		if err := cache.Ping(ctx).Err(); err != nil {
			a.Logger.Warn("redis unavailable, leaderboard cache disabled", zap.Error(err))
			_ = cache.Close()
			cache = nil
		} else {
			cleanup = func() { _ = cache.Close() }
		}
	}

	svc := leaderboard.NewService(
		mongodb.NewSupplierRepository(mc),
		mongodb.NewBufferRepository(mc),
		cache,
		time.Duration(a.Config.Redis.TTL)*time.Second,
		a.Logger,
	)
	h := handler.NewLeaderboardHandler(svc, a.Logger)
	return router.SetupLeaderboardRouter(h, a.Config.Auth.JWTSecret, a.Logger), cleanup, nil
}

// SidecarHandler 启动时读取一次 tokenizer 与 config 文件
func (a *App) SidecarHandler() (http.Handler, error) {
	gin.SetMode(a.Config.Server.Mode)

	bundle, err := sidecar.Load(a.Config.Sidecar.TokenizerPath, a.Config.Sidecar.ConfigPath)
	if err != nil {
		return nil, err
	}
	a.Logger.Info("sidecar files loaded",
		zap.String("tokenizer_hash", bundle.Tokenizer.Hash),
		zap.String("config_hash", bundle.Config.Hash))
	return router.SetupSidecarRouter(handler.NewSidecarHandler(bundle, a.Logger), a.Logger), nil
}

// Serve 运行 HTTP 服务，收到 SIGINT/SIGTERM 后优雅关闭
func (a *App) Serve(h http.Handler) error {
	srv := &http.Server{
		Addr:         a.Config.Server.GetAddr(),
		Handler:      h,
		ReadTimeout:  time.Duration(a.Config.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(a.Config.Server.WriteTimeout) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	a.Logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return err
	}
	a.Logger.Info("server exited")
	return nil
}
