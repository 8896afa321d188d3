package workflows

import (
	"go.temporal.io/sdk/workflow"
)

// childStart 一个待启动的子工作流
type childStart struct {
	name    string
	arg     interface{}
	options workflow.ChildWorkflowOptions
}

// startChildren 启动子工作流，只等待启动完成，不等待执行结果。
// 同时处于启动中的数量不超过 limit。启动失败记录日志后继续，返回成功启动的数量
func startChildren(ctx workflow.Context, limit int, children []childStart) int {
	logger := workflow.GetLogger(ctx)
	selector := workflow.NewSelector(ctx)

	started, pending := 0, 0
	for _, c := range children {
		if pending >= limit {
			selector.Select(ctx)
			pending--
		}

		c := c
		future := workflow.ExecuteChildWorkflow(workflow.WithChildOptions(ctx, c.options), c.name, c.arg)
		selector.AddFuture(future.GetChildWorkflowExecution(), func(f workflow.Future) {
			if err := f.Get(ctx, nil); err != nil {
				logger.Warn("unable to start child workflow",
					"workflow", c.name,
					"workflow_id", c.options.WorkflowID,
					"error", err)
				return
			}
			started++
		})
		pending++
	}
	for ; pending > 0; pending-- {
		selector.Select(ctx)
	}
	return started
}
