package workflows

import (
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/ashwinyue/ml-testbench/internal/activities"
	"github.com/ashwinyue/ml-testbench/internal/apperr"
	"github.com/ashwinyue/ml-testbench/internal/model"
)

// Register 物化数据集并登记任务名，目前只支持 lmeh
func (w *Workflows) Register(ctx workflow.Context, req model.RegisterTaskRequest) (bool, error) {
	if req.Framework != model.FrameworkLMEH {
		return false, temporal.NewNonRetryableApplicationError(
			"unsupported framework "+req.Framework, string(apperr.BadParams), nil)
	}

	var ok bool
	err := workflow.ExecuteActivity(activityOptions(ctx, activities.RegisterTaskName), activities.RegisterTaskName, req).
		Get(ctx, &ok)
	return ok, err
}

// Sampler 以本地 activity 采样并写入任务树，返回新任务 id
func (w *Workflows) Sampler(ctx workflow.Context, req model.TaskRequest) ([]string, error) {
	ctx = workflow.WithLocalActivityOptions(ctx, workflow.LocalActivityOptions{
		StartToCloseTimeout: activities.StartToClose[activities.SampleName],
		RetryPolicy:         DefaultRetryPolicy(),
	})

	var ids []string
	if err := workflow.ExecuteLocalActivity(ctx, activities.SampleName, req).Get(ctx, &ids); err != nil {
		return nil, err
	}
	workflow.GetLogger(ctx).Debug("sampled tasks", "count", len(ids))
	return ids, nil
}
