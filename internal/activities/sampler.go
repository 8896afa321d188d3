package activities

import (
	"context"

	"go.uber.org/zap"

	"github.com/ashwinyue/ml-testbench/internal/apperr"
	"github.com/ashwinyue/ml-testbench/internal/model"
)

// RegisterTask 物化数据集并登记任务，只支持 lmeh
func (a *Activities) RegisterTask(ctx context.Context, req model.RegisterTaskRequest) (bool, error) {
	defer AutoHeartbeat(ctx)()

	if req.Framework != model.FrameworkLMEH {
		return false, apperr.ToTemporal(apperr.New(apperr.BadParams, "unsupported framework %q", req.Framework))
	}
	if err := a.deps.Registrar.RegisterTask(ctx, &req); err != nil {
		return false, apperr.ToTemporal(err)
	}
	a.logger.Debug("task registered",
		zap.String("framework", req.Framework),
		zap.String("tasks", req.Tasks))
	return true, nil
}

// Sample 采样并写入任务树，返回任务 id
func (a *Activities) Sample(ctx context.Context, req model.TaskRequest) ([]string, error) {
	tasks, err := a.deps.Sampler.Sample(ctx, &req)
	if err != nil {
		return nil, apperr.ToTemporal(err)
	}
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID.Hex())
	}
	return ids, nil
}
