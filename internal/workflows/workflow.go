// Package workflows 定义采样、评估、汇总三个 worker 的 Temporal 工作流。
// 工作流代码不做任何 I/O，所有副作用都在 activity 中完成。
package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/ashwinyue/ml-testbench/internal/activities"
	"github.com/ashwinyue/ml-testbench/internal/apperr"
)

// 工作流名称，外部 requester/manager 与调度按名称启动
const (
	RegisterName           = "Register"
	SamplerName            = "Sampler"
	EvaluatorName          = "Evaluator"
	LookupTasksName        = "LookupTasks"
	SummaryLookupName      = "SummaryLookup"
	TaxonomySummarizerName = "TaxonomySummarizer"
	IdentitySummarizerName = "IdentitySummarizer"
)

// 子工作流超时
const (
	evaluatorExecutionTimeout  = 120 * time.Second
	evaluatorTaskTimeout       = 60 * time.Second
	summarizerExecutionTimeout = 600 * time.Second
	summarizerTaskTimeout      = 600 * time.Second

	// 批量标记完成后等待写入可见再启动评估
	propagationDelay = time.Second
)

// Config 工作流运行参数，在 worker 启动时确定
type Config struct {
	// TaskQueue 子工作流所在的队列，即当前 worker 的队列
	TaskQueue string
	// ManagerWorkflow / ManagerQueue 评估完成后启动的 manager 分析工作流
	ManagerWorkflow string
	ManagerQueue    string
	// MaxChildStarts 同时处于启动中的子工作流上限
	MaxChildStarts int
	// Taxonomies 参与汇总的分类名，需保持稳定顺序
	Taxonomies []string
}

// Workflows 工作流集合
type Workflows struct {
	cfg Config
}

// New 创建工作流集合
func New(cfg Config) *Workflows {
	if cfg.MaxChildStarts <= 0 {
		cfg.MaxChildStarts = 1
	}
	return &Workflows{cfg: cfg}
}

// DefaultRetryPolicy 默认最多两次，非 ResponseError 不重试
func DefaultRetryPolicy() *temporal.RetryPolicy {
	return &temporal.RetryPolicy{
		MaximumAttempts:        2,
		NonRetryableErrorTypes: apperr.NonRetryableKinds(),
	}
}

// activityOptions 按 activity 名称设置超时与重试
func activityOptions(ctx workflow.Context, name string) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: activities.StartToClose[name],
		HeartbeatTimeout:    activities.HeartbeatTimeout[name],
		RetryPolicy:         DefaultRetryPolicy(),
	})
}

// Registry worker 与测试环境共有的注册方法
type Registry interface {
	RegisterWorkflowWithOptions(w interface{}, options workflow.RegisterOptions)
}

// RegisterSampler 注册采样 worker 的工作流
func (w *Workflows) RegisterSampler(r Registry) {
	r.RegisterWorkflowWithOptions(w.Register, workflow.RegisterOptions{Name: RegisterName})
	r.RegisterWorkflowWithOptions(w.Sampler, workflow.RegisterOptions{Name: SamplerName})
}

// RegisterEvaluator 注册评估 worker 的工作流
func (w *Workflows) RegisterEvaluator(r Registry) {
	r.RegisterWorkflowWithOptions(w.Evaluator, workflow.RegisterOptions{Name: EvaluatorName})
	r.RegisterWorkflowWithOptions(w.LookupTasks, workflow.RegisterOptions{Name: LookupTasksName})
}

// RegisterSummarizer 注册汇总 worker 的工作流
func (w *Workflows) RegisterSummarizer(r Registry) {
	r.RegisterWorkflowWithOptions(w.SummaryLookup, workflow.RegisterOptions{Name: SummaryLookupName})
	r.RegisterWorkflowWithOptions(w.TaxonomySummarizer, workflow.RegisterOptions{Name: TaxonomySummarizerName})
	r.RegisterWorkflowWithOptions(w.IdentitySummarizer, workflow.RegisterOptions{Name: IdentitySummarizerName})
}
