package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/ashwinyue/ml-testbench/internal/config"
	"github.com/ashwinyue/ml-testbench/internal/logger"
)

// DialTemporal 连接 Temporal，日志走 zap
func DialTemporal(cfg config.TemporalConfig, l *zap.Logger) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.GetHostPort(),
		Namespace: cfg.Namespace,
		Logger:    logger.NewTemporal(l),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create temporal client: %w", err)
	}
	return c, nil
}

// WorkerOptions 由配置生成 worker 并发参数，未配置的项保留 SDK 默认值
func WorkerOptions(cfg config.TemporalConfig) worker.Options {
	opts := worker.Options{
		MaxConcurrentActivityExecutionSize:      cfg.MaxConcurrentActivities,
		MaxConcurrentWorkflowTaskExecutionSize:  cfg.MaxConcurrentWorkflowTasks,
		MaxConcurrentWorkflowTaskPollers:        cfg.MaxConcurrentWorkflowTaskPolls,
		MaxConcurrentActivityTaskPollers:        cfg.MaxConcurrentActivityTaskPolls,
		MaxConcurrentLocalActivityExecutionSize: cfg.MaxWorkers,
	}
	// 工作流任务槽至少为 2
	if opts.MaxConcurrentWorkflowTaskExecutionSize == 1 {
		opts.MaxConcurrentWorkflowTaskExecutionSize = 2
	}
	return opts
}

// Schedule 定时启动的工作流
type Schedule struct {
	ID        string
	Every     string
	Workflow  string
	TaskQueue string
}

// EnsureSchedule 创建定时调度，重叠时跳过本次。
// Every 为空时不创建，已存在的调度保持不变
func EnsureSchedule(ctx context.Context, sc client.ScheduleClient, s Schedule, l *zap.Logger) error {
	if s.Every == "" {
		return nil
	}
	every, err := time.ParseDuration(s.Every)
	if err != nil {
		return fmt.Errorf("invalid interval for schedule %s: %w", s.ID, err)
	}
	if every <= 0 {
		return fmt.Errorf("invalid interval for schedule %s: %s", s.ID, s.Every)
	}

	_, err = sc.Create(ctx, client.ScheduleOptions{
		ID: s.ID,
		Spec: client.ScheduleSpec{
			Intervals: []client.ScheduleIntervalSpec{{Every: every}},
		},
		Action: &client.ScheduleWorkflowAction{
			ID:        s.ID + "-workflow",
			Workflow:  s.Workflow,
			TaskQueue: s.TaskQueue,
		},
		Overlap: enumspb.SCHEDULE_OVERLAP_POLICY_SKIP,
	})
	if errors.Is(err, temporal.ErrScheduleAlreadyRunning) {
		l.Info("schedule already exists", zap.String("schedule", s.ID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to create schedule %s: %w", s.ID, err)
	}
	l.Info("schedule created",
		zap.String("schedule", s.ID),
		zap.String("workflow", s.Workflow),
		zap.Duration("every", every))
	return nil
}
