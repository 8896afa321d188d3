package workflows

import (
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/ashwinyue/ml-testbench/internal/activities"
	"github.com/ashwinyue/ml-testbench/internal/apperr"
	"github.com/ashwinyue/ml-testbench/internal/model"
)

// SummaryLookup 为每个 (供应方, 分类) 启动 TaxonomySummarizer，并启动一次 IdentitySummarizer。
// 返回供应方数量
func (w *Workflows) SummaryLookup(ctx workflow.Context) (int, error) {
	logger := workflow.GetLogger(ctx)

	actx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: activities.StartToClose[activities.GetSupplierIDsName],
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})
	var ids []string
	if err := workflow.ExecuteActivity(actx, activities.GetSupplierIDsName).Get(ctx, &ids); err != nil {
		return 0, err
	}
	logger.Info("summary lookup found suppliers", "suppliers", len(ids), "taxonomies", len(w.cfg.Taxonomies))

	children := make([]childStart, 0, len(ids)*len(w.cfg.Taxonomies)+1)
	for _, id := range ids {
		for _, tax := range w.cfg.Taxonomies {
			children = append(children, childStart{
				name:    TaxonomySummarizerName,
				arg:     model.TaxonomySummaryRequest{SupplierID: id, Taxonomy: tax},
				options: w.summarizerOptions(tax + "-" + id),
			})
		}
	}
	children = append(children, childStart{
		name:    IdentitySummarizerName,
		options: w.summarizerOptions(IdentitySummarizerName + "-" + workflow.GetInfo(ctx).WorkflowExecution.RunID),
	})

	started := startChildren(ctx, w.cfg.MaxChildStarts, children)
	logger.Info("summary lookup done", "started", started)
	return len(ids), nil
}

func (w *Workflows) summarizerOptions(id string) workflow.ChildWorkflowOptions {
	return workflow.ChildWorkflowOptions{
		WorkflowID:               id,
		TaskQueue:                w.cfg.TaskQueue,
		WorkflowExecutionTimeout: summarizerExecutionTimeout,
		WorkflowTaskTimeout:      summarizerTaskTimeout,
		WorkflowIDReusePolicy:    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		RetryPolicy:              &temporal.RetryPolicy{MaximumAttempts: 1},
		ParentClosePolicy:        enumspb.PARENT_CLOSE_POLICY_ABANDON,
	}
}

// TaxonomySummarizer 汇总单个供应方在一个分类上的得分
func (w *Workflows) TaxonomySummarizer(ctx workflow.Context, req model.TaxonomySummaryRequest) (bool, error) {
	var res activities.SummaryResult
	err := workflow.ExecuteActivity(activityOptions(ctx, activities.SummarizeTaxonomyName), activities.SummarizeTaxonomyName, req).
		Get(ctx, &res)
	if err != nil {
		return false, err
	}
	if !res.Success {
		return false, temporal.NewNonRetryableApplicationError(res.Message, string(apperr.TaxonomySummarizeError), nil, req)
	}
	return true, nil
}

// IdentitySummarizer 检测重复供应方
func (w *Workflows) IdentitySummarizer(ctx workflow.Context) (bool, error) {
	var res activities.SummaryResult
	err := workflow.ExecuteActivity(activityOptions(ctx, activities.SummarizeIdentityName), activities.SummarizeIdentityName).
		Get(ctx, &res)
	if err != nil {
		return false, err
	}
	if !res.Success {
		return false, temporal.NewNonRetryableApplicationError(res.Message, string(apperr.SummarizeError), nil)
	}
	workflow.GetLogger(ctx).Info("identity summary done", "message", res.Message)
	return true, nil
}
