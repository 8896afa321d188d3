package workflows

import (
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/ashwinyue/ml-testbench/internal/activities"
	"github.com/ashwinyue/ml-testbench/internal/apperr"
	"github.com/ashwinyue/ml-testbench/internal/model"
)

// signatureActivities 签名任务名到 activity 的映射
var signatureActivities = map[string]string{
	model.SignatureTokenizer: activities.TokenizerEvaluateName,
	model.SignatureConfig:    activities.ConfigEvaluateName,
	model.SignatureIdentity:  activities.IdentityEvaluateName,
}

// dispatch 根据框架和任务名选择评估 activity
func dispatch(data model.TaskData) (string, error) {
	switch data.Framework {
	case model.FrameworkLMEH:
		return activities.EvaluateName, nil
	case model.FrameworkSignatures:
		if name, ok := signatureActivities[data.Tasks]; ok {
			return name, nil
		}
		return "", temporal.NewNonRetryableApplicationError(
			"unsupported signature task "+data.Tasks, string(apperr.BadParams), nil)
	default:
		return "", temporal.NewNonRetryableApplicationError(
			"unsupported framework "+data.Framework, string(apperr.BadParams), nil)
	}
}

// Evaluator 评估单个任务，完成后交给 manager 做结果分析
func (w *Workflows) Evaluator(ctx workflow.Context, req model.EvaluationRequest) (bool, error) {
	logger := workflow.GetLogger(ctx)

	var data model.TaskData
	err := workflow.ExecuteActivity(activityOptions(ctx, activities.GetTaskDataName), activities.GetTaskDataName, req).
		Get(ctx, &data)
	if err != nil {
		return false, err
	}

	name, err := dispatch(data)
	if err != nil {
		return false, err
	}
	var ok bool
	if err := workflow.ExecuteActivity(activityOptions(ctx, name), name, req).Get(ctx, &ok); err != nil {
		return false, err
	}

	w.triggerManagerAnalysis(ctx, req.TaskID)
	logger.Info("task evaluated", "task_id", req.TaskID, "framework", data.Framework, "tasks", data.Tasks)
	return ok, nil
}

// triggerManagerAnalysis 启动 manager 的结果分析工作流，父工作流结束后继续运行。
// 启动失败只记录日志，结果已经落库
func (w *Workflows) triggerManagerAnalysis(ctx workflow.Context, taskID string) {
	if w.cfg.ManagerWorkflow == "" {
		return
	}
	cctx := workflow.WithChildOptions(ctx, workflow.ChildWorkflowOptions{
		WorkflowID:        "result-analysis-" + taskID,
		TaskQueue:         w.cfg.ManagerQueue,
		ParentClosePolicy: enumspb.PARENT_CLOSE_POLICY_ABANDON,
	})
	child := workflow.ExecuteChildWorkflow(cctx, w.cfg.ManagerWorkflow, model.EvaluationRequest{TaskID: taskID})
	if err := child.GetChildWorkflowExecution().Get(ctx, nil); err != nil {
		workflow.GetLogger(ctx).Warn("unable to trigger manager analysis", "task_id", taskID, "error", err)
	}
}

// LookupTasks 查找待评估任务并为每个任务启动 Evaluator 子工作流，返回任务数
func (w *Workflows) LookupTasks(ctx workflow.Context) (int, error) {
	logger := workflow.GetLogger(ctx)

	actx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: activities.StartToClose[activities.LookupTasksName],
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})
	var ids []string
	if err := workflow.ExecuteActivity(actx, activities.LookupTasksName).Get(ctx, &ids); err != nil {
		return 0, err
	}
	logger.Info("lookup tasks found tasks", "count", len(ids))
	if len(ids) == 0 {
		return 0, nil
	}

	if err := workflow.Sleep(ctx, propagationDelay); err != nil {
		return 0, err
	}

	children := make([]childStart, 0, len(ids))
	for _, id := range ids {
		children = append(children, childStart{
			name: EvaluatorName,
			arg:  model.EvaluationRequest{TaskID: id},
			options: workflow.ChildWorkflowOptions{
				WorkflowID:               id,
				TaskQueue:                w.cfg.TaskQueue,
				WorkflowExecutionTimeout: evaluatorExecutionTimeout,
				WorkflowTaskTimeout:      evaluatorTaskTimeout,
				WorkflowIDReusePolicy:    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE_FAILED_ONLY,
				RetryPolicy:              &temporal.RetryPolicy{MaximumAttempts: 1},
				ParentClosePolicy:        enumspb.PARENT_CLOSE_POLICY_ABANDON,
			},
		})
	}
	started := startChildren(ctx, w.cfg.MaxChildStarts, children)
	logger.Info("lookup tasks done", "found", len(ids), "started", started)
	return len(ids), nil
}
