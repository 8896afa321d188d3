// Package app 按角色装配依赖并启动 worker 或 HTTP 服务
package app

import (
	"context"
	"errors"
	"os"

	"go.uber.org/zap"

	"github.com/ashwinyue/ml-testbench/internal/config"
	"github.com/ashwinyue/ml-testbench/internal/database"
	"github.com/ashwinyue/ml-testbench/internal/logger"
	"github.com/ashwinyue/ml-testbench/internal/model"
	"github.com/ashwinyue/ml-testbench/internal/mongodb"
)

// 角色名，同时作为日志中的 app 字段和默认任务队列
const (
	RoleSampler     = "sampler"
	RoleEvaluator   = "evaluator"
	RoleSummarizer  = "summarizer"
	RoleLeaderboard = "leaderboard"
	RoleSidecar     = "sidecar"
)

// App 一个进程的共享依赖
type App struct {
	Role   string
	Config *config.Config
	Logger *zap.Logger

	mongo *mongodb.Client
	db    *database.DB
}

// New 读取 CONFIG_PATH 并初始化日志。未设置 CONFIG_PATH 时记录错误并使用默认配置
func New(role string) (*App, error) {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil && !errors.Is(err, config.ErrNoConfigPath) {
		return nil, err
	}

	l, lerr := logger.New(role, cfg.LogLevel)
	if lerr != nil {
		return nil, lerr
	}
	if err != nil {
		l.Error("config not loaded, using defaults", zap.Error(err))
	}

	if cfg.Temporal.TaskQueue == "" {
		cfg.Temporal.TaskQueue = role
	}
	return &App{Role: role, Config: cfg, Logger: l}, nil
}

// Mongo 懒连接文档库并确保集合存在
func (a *App) Mongo(ctx context.Context) (*mongodb.Client, error) {
	if a.mongo != nil {
		return a.mongo, nil
	}
	c, err := mongodb.Connect(ctx, a.Config.MongodbURI, a.Logger)
	if err != nil {
		return nil, err
	}
	if err := c.EnsureCollections(ctx, model.AllCollections); err != nil {
		_ = c.Disconnect(context.Background())
		return nil, err
	}
	a.mongo = c
	return c, nil
}

// Postgres 懒连接关系库
func (a *App) Postgres() (*database.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	db, err := database.New(a.Config)
	if err != nil {
		return nil, err
	}
	a.db = db
	return db, nil
}

// Close 释放连接并刷新日志
func (a *App) Close() {
	if a.mongo != nil {
		if err := a.mongo.Disconnect(context.Background()); err != nil {
			a.Logger.Error("failed to disconnect mongodb", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.Logger.Error("failed to close database", zap.Error(err))
		}
	}
	_ = a.Logger.Sync()
}
