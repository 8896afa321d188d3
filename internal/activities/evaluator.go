package activities

import (
	"context"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/ashwinyue/ml-testbench/internal/apperr"
	"github.com/ashwinyue/ml-testbench/internal/model"
)

// GetTaskData 读取任务的框架和任务名
func (a *Activities) GetTaskData(ctx context.Context, req model.EvaluationRequest) (model.TaskData, error) {
	id, err := model.ParseTaskID(req.TaskID)
	if err != nil {
		return model.TaskData{}, apperr.ToTemporal(err)
	}
	task, err := a.deps.Tasks.GetTask(ctx, id)
	if err != nil {
		return model.TaskData{}, apperr.ToTemporal(err)
	}
	a.logger.Debug("task found",
		zap.String("task_id", req.TaskID),
		zap.String("framework", task.Framework),
		zap.String("tasks", task.Tasks))
	return model.TaskData{Framework: task.Framework, Tasks: task.Tasks}, nil
}

// Evaluate lmeh 打分
func (a *Activities) Evaluate(ctx context.Context, req model.EvaluationRequest) (bool, error) {
	defer AutoHeartbeat(ctx)()

	if _, err := a.deps.Scorer.Evaluate(ctx, req.TaskID); err != nil {
		return false, apperr.ToTemporal(err)
	}
	return true, nil
}

// TokenizerEvaluate tokenizer 签名
func (a *Activities) TokenizerEvaluate(ctx context.Context, req model.EvaluationRequest) (bool, error) {
	return a.signature(ctx, req, a.deps.Signatures.EvaluateTokenizer)
}

// ConfigEvaluate config 签名
func (a *Activities) ConfigEvaluate(ctx context.Context, req model.EvaluationRequest) (bool, error) {
	return a.signature(ctx, req, a.deps.Signatures.EvaluateConfig)
}

// IdentityEvaluate identity 签名
func (a *Activities) IdentityEvaluate(ctx context.Context, req model.EvaluationRequest) (bool, error) {
	return a.signature(ctx, req, a.deps.Signatures.EvaluateIdentity)
}

func (a *Activities) signature(ctx context.Context, req model.EvaluationRequest, fn func(context.Context, string) error) (bool, error) {
	defer AutoHeartbeat(ctx)()

	if err := fn(ctx, req.TaskID); err != nil {
		return false, apperr.ToTemporal(err)
	}
	return true, nil
}

// LookupTasks 返回待评估的任务：已完成的任务，以及被跳过或过期、刚被标记为完成的任务
func (a *Activities) LookupTasks(ctx context.Context) ([]string, error) {
	done, err := a.deps.Tasks.DoneTaskIDs(ctx)
	if err != nil {
		return nil, apperr.ToTemporal(err)
	}
	a.logger.Debug("lookup tasks found done tasks", zap.Int("count", len(done)))

	height, err := a.deps.Suppliers.CurrentHeight(ctx)
	if err != nil {
		return nil, apperr.ToTemporal(err)
	}
	stale, err := a.deps.Tasks.StaleTaskIDs(ctx, height, StaleBlocks)
	if err != nil {
		return nil, apperr.ToTemporal(err)
	}

	ids := hexIDs(done)
	for _, id := range stale {
		if err := a.deps.Tasks.MarkSkipped(ctx, id); err != nil {
			a.logger.Error("unable to mark task as done, it will block further triggers while it stays",
				zap.String("task_id", id.Hex()),
				zap.Error(err))
			continue
		}
		ids = append(ids, id.Hex())
	}
	a.logger.Debug("lookup tasks found tasks to evaluate",
		zap.Int("done", len(done)),
		zap.Int("stale", len(stale)),
		zap.Int64("height", height))
	return ids, nil
}

func hexIDs(ids []primitive.ObjectID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.Hex())
	}
	return out
}
