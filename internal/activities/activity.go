// Package activities 定义各 worker 注册的 Temporal activity
package activities

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.temporal.io/sdk/activity"
	"go.uber.org/zap"

	"github.com/ashwinyue/ml-testbench/internal/model"
	"github.com/ashwinyue/ml-testbench/internal/service/scorer"
)

// activity 名称，工作流按名称调用
const (
	RegisterTaskName      = "register_task"
	SampleName            = "sample"
	GetTaskDataName       = "get_task_data"
	EvaluateName          = "evaluate"
	TokenizerEvaluateName = "tokenizer_evaluate"
	ConfigEvaluateName    = "config_evaluate"
	IdentityEvaluateName  = "identity_evaluate"
	LookupTasksName       = "lookup_tasks"
	GetSupplierIDsName    = "get_supplier_ids"
	SummarizeTaxonomyName = "summarize_taxonomy"
	SummarizeIdentityName = "summarize_identity"
)

// StaleBlocks 超过该区块数仍未完成的任务视为过期
const StaleBlocks = 40

// StartToClose 各 activity 的 start-to-close 超时
var StartToClose = map[string]time.Duration{
	RegisterTaskName:      3600 * time.Second,
	SampleName:            300 * time.Second,
	GetTaskDataName:       10 * time.Second,
	EvaluateName:          300 * time.Second,
	TokenizerEvaluateName: 300 * time.Second,
	ConfigEvaluateName:    300 * time.Second,
	IdentityEvaluateName:  300 * time.Second,
	LookupTasksName:       60 * time.Second,
	GetSupplierIDsName:    60 * time.Second,
	SummarizeTaxonomyName: 600 * time.Second,
	SummarizeIdentityName: 600 * time.Second,
}

// HeartbeatTimeout 调用 AutoHeartbeat 的 activity 的心跳超时，其余为 0
var HeartbeatTimeout = map[string]time.Duration{
	RegisterTaskName:      60 * time.Second,
	EvaluateName:          60 * time.Second,
	TokenizerEvaluateName: 60 * time.Second,
	ConfigEvaluateName:    60 * time.Second,
	IdentityEvaluateName:  60 * time.Second,
	SummarizeTaxonomyName: 60 * time.Second,
	SummarizeIdentityName: 60 * time.Second,
}

// ========== 依赖 ==========

// Registrar 注册 lmeh 任务
type Registrar interface {
	RegisterTask(ctx context.Context, req *model.RegisterTaskRequest) error
}

// Sampler 生成任务树
type Sampler interface {
	Sample(ctx context.Context, req *model.TaskRequest) ([]*model.Task, error)
}

// TaskStore 任务查询与状态更新
type TaskStore interface {
	GetTask(ctx context.Context, id primitive.ObjectID) (*model.Task, error)
	DoneTaskIDs(ctx context.Context) ([]primitive.ObjectID, error)
	StaleTaskIDs(ctx context.Context, currentHeight, blocksAgo int64) ([]primitive.ObjectID, error)
	MarkSkipped(ctx context.Context, id primitive.ObjectID) error
}

// SupplierStore 供应方查询
type SupplierStore interface {
	IDs(ctx context.Context) ([]primitive.ObjectID, error)
	CurrentHeight(ctx context.Context) (int64, error)
}

// Scorer lmeh 打分
type Scorer interface {
	Evaluate(ctx context.Context, taskID string) (*scorer.TaskReport, error)
}

// SignatureEvaluator 签名任务评估
type SignatureEvaluator interface {
	EvaluateTokenizer(ctx context.Context, taskID string) error
	EvaluateConfig(ctx context.Context, taskID string) error
	EvaluateIdentity(ctx context.Context, taskID string) error
}

// TaxonomySummarizer 分类汇总
type TaxonomySummarizer interface {
	Summarize(ctx context.Context, supplierID, taxonomyName string) (*model.TaxonomySummary, error)
}

// IdentitySummarizer 身份汇总
type IdentitySummarizer interface {
	Summarize(ctx context.Context) (string, error)
}

// Deps activity 依赖，按 worker 角色只填需要的部分
type Deps struct {
	Registrar  Registrar
	Sampler    Sampler
	Tasks      TaskStore
	Suppliers  SupplierStore
	Scorer     Scorer
	Signatures SignatureEvaluator
	Taxonomy   TaxonomySummarizer
	Identity   IdentitySummarizer
	Logger     *zap.Logger
}

// Activities activity 集合
type Activities struct {
	deps   Deps
	logger *zap.Logger
}

// New 创建 activity 集合
func New(deps Deps) *Activities {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Activities{deps: deps, logger: logger}
}

// Registry worker 与测试环境共有的注册方法
type Registry interface {
	RegisterActivityWithOptions(a interface{}, options activity.RegisterOptions)
}

// RegisterSampler 注册采样 worker 的 activity
func (a *Activities) RegisterSampler(w Registry) {
	w.RegisterActivityWithOptions(a.RegisterTask, activity.RegisterOptions{Name: RegisterTaskName})
	w.RegisterActivityWithOptions(a.Sample, activity.RegisterOptions{Name: SampleName})
}

// RegisterEvaluator 注册评估 worker 的 activity
func (a *Activities) RegisterEvaluator(w Registry) {
	w.RegisterActivityWithOptions(a.GetTaskData, activity.RegisterOptions{Name: GetTaskDataName})
	w.RegisterActivityWithOptions(a.Evaluate, activity.RegisterOptions{Name: EvaluateName})
	w.RegisterActivityWithOptions(a.TokenizerEvaluate, activity.RegisterOptions{Name: TokenizerEvaluateName})
	w.RegisterActivityWithOptions(a.ConfigEvaluate, activity.RegisterOptions{Name: ConfigEvaluateName})
	w.RegisterActivityWithOptions(a.IdentityEvaluate, activity.RegisterOptions{Name: IdentityEvaluateName})
	w.RegisterActivityWithOptions(a.LookupTasks, activity.RegisterOptions{Name: LookupTasksName})
}

// RegisterSummarizer 注册汇总 worker 的 activity
func (a *Activities) RegisterSummarizer(w Registry) {
	w.RegisterActivityWithOptions(a.GetSupplierIDs, activity.RegisterOptions{Name: GetSupplierIDsName})
	w.RegisterActivityWithOptions(a.SummarizeTaxonomy, activity.RegisterOptions{Name: SummarizeTaxonomyName})
	w.RegisterActivityWithOptions(a.SummarizeIdentity, activity.RegisterOptions{Name: SummarizeIdentityName})
}
