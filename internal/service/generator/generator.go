// Package generator 生成评测任务：取样文档、构造请求并写入文档库
package generator

import (
	"context"
	"math/rand"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/ashwinyue/ml-testbench/internal/apperr"
	"github.com/ashwinyue/ml-testbench/internal/model"
	"github.com/ashwinyue/ml-testbench/internal/repository"
	"github.com/ashwinyue/ml-testbench/internal/service/lmeh"
	"github.com/ashwinyue/ml-testbench/internal/service/sampler"
)

// FewshotSeed few-shot 示例抽取使用的固定种子
const FewshotSeed = 1234

var nowUTC = func() time.Time { return time.Now().UTC() }

// TaskWriter 在一个事务中写入任务树
type TaskWriter interface {
	InsertTaskTree(ctx context.Context, task *model.Task, instances []*model.Instance, prompts []*model.Prompt) error
}

// Service 采样服务
type Service struct {
	library  lmeh.Library
	registry repository.RegistryStore
	datasets repository.DatasetStore
	writer   TaskWriter
	timeouts *TimeoutHandler
	logger   *zap.Logger
	// newRand 文档取样用的随机源
	newRand func() *rand.Rand
}

// NewService 创建采样服务
func NewService(library lmeh.Library, registry repository.RegistryStore, datasets repository.DatasetStore,
	writer TaskWriter, timeouts *TimeoutHandler, logger *zap.Logger) *Service {
	return &Service{
		library:  library,
		registry: registry,
		datasets: datasets,
		writer:   writer,
		timeouts: timeouts,
		logger:   logger,
		newRand: func() *rand.Rand {
			return rand.New(rand.NewSource(time.Now().UnixNano()))
		},
	}
}

// WithRand 替换文档取样的随机源
func (s *Service) WithRand(fn func() *rand.Rand) *Service {
	s.newRand = fn
	return s
}

// Sample 按框架生成任务，返回写入的任务
func (s *Service) Sample(ctx context.Context, req *model.TaskRequest) ([]*model.Task, error) {
	if err := req.Validate(); err != nil {
		return nil, apperr.Wrap(apperr.BadParams, err, "invalid sample request")
	}

	switch req.Framework {
	case model.FrameworkLMEH:
		return s.sampleLMEH(ctx, req)
	case model.FrameworkSignatures:
		tree, err := SignatureTask(req.Tasks, req.RequesterArgs)
		if err != nil {
			return nil, err
		}
		if err := s.writer.InsertTaskTree(ctx, tree.Task, tree.Instances, tree.Prompts); err != nil {
			return nil, err
		}
		s.logger.Info("signatures task sampled",
			zap.String("task", req.Tasks),
			zap.String("task_id", tree.Task.ID.Hex()),
			zap.String("address", req.RequesterArgs.Address))
		return []*model.Task{tree.Task}, nil
	default:
		return nil, apperr.New(apperr.BadParams, "unsupported framework %q", req.Framework)
	}
}

func (s *Service) sampleLMEH(ctx context.Context, req *model.TaskRequest) ([]*model.Task, error) {
	names := s.library.MatchTasks(lmeh.SplitPatterns(req.Tasks))
	if len(names) == 0 {
		return nil, apperr.New(apperr.BadParams, "no lmeh tasks match %q", req.Tasks)
	}

	out := make([]*model.Task, 0, len(names))
	for _, name := range names {
		task, err := s.sampleTask(ctx, req, name)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, nil
}

func (s *Service) sampleTask(ctx context.Context, req *model.TaskRequest, name string) (*model.Task, error) {
	checked, err := s.registry.Checked(ctx, name)
	if err != nil {
		return nil, err
	}
	if !checked {
		return nil, apperr.New(apperr.TaskNotFound, "task %q not found on task_registry", name)
	}

	dict, err := s.library.GetTaskDict([]string{name})
	if err != nil {
		return nil, err
	}
	t := dict[name]
	cfg := t.Config()

	// 请求显式指定优先，其次排行榜配置，最后任务默认值
	numFewshot := cfg.NumFewshot
	if req.NumFewshot != nil {
		numFewshot = *req.NumFewshot
	} else if lb, ok := lmeh.GetLeaderboardConfig(name); ok {
		numFewshot = lb.NumFewshot
	}

	table, err := s.registry.DatasetTable(ctx, name)
	if err != nil {
		return nil, err
	}
	ranges, err := s.datasets.MinMaxIDsPerSplit(ctx, table)
	if err != nil {
		return nil, err
	}

	splits := sampler.Splits{
		Test:       cfg.TestSplit,
		Validation: cfg.ValidationSplit,
		Training:   cfg.TrainingSplit,
		Fewshot:    cfg.FewshotSplit,
	}
	picked, err := sampler.Sample(splits, ranges, sampler.Request{
		Qty:       req.QtyValue(),
		DocIDs:    req.DocIDs,
		Blacklist: req.Blacklist,
	}, s.newRand())
	if err != nil {
		return nil, err
	}

	docsBySplit, err := s.datasets.FetchRows(ctx, table, picked.Where)
	if err != nil {
		return nil, err
	}
	docs := t.DocIterator(docsBySplit)
	instances, err := t.BuildAllRequests(docs, docsBySplit[t.FewshotDocsSplit()], numFewshot,
		rand.New(rand.NewSource(FewshotSeed)))
	if err != nil {
		return nil, apperr.Wrap(apperr.LmehGenerator, err, "failed to build requests for %s", name)
	}
	if len(instances) == 0 {
		return nil, apperr.New(apperr.LmehGenerator, "task %s produced no requests", name)
	}

	task := model.NewTaskFromRequest(req, name)
	task.DocIDs = picked.DocIDs
	task.Qty = len(picked.DocIDs)
	task.NumFewshot = &numFewshot
	task.RequestType = instances[0].RequestType
	task.TotalInstances = len(instances)

	modelInstances, prompts, err := s.buildTree(task, req, instances)
	if err != nil {
		return nil, err
	}
	if err := s.writer.InsertTaskTree(ctx, task, modelInstances, prompts); err != nil {
		return nil, err
	}

	s.logger.Info("lmeh task sampled",
		zap.String("task", name),
		zap.String("task_id", task.ID.Hex()),
		zap.String("split", picked.Split),
		zap.Int("docs", len(picked.DocIDs)),
		zap.Int("instances", len(instances)),
		zap.Int("num_fewshot", numFewshot))
	return task, nil
}

// buildTree 校验实例的 doc_id 并生成 instances 与 prompts 文档
func (s *Service) buildTree(task *model.Task, req *model.TaskRequest, instances []*lmeh.Instance) ([]*model.Instance, []*model.Prompt, error) {
	allowed := make(map[int]struct{}, len(task.DocIDs))
	for _, id := range task.DocIDs {
		allowed[id] = struct{}{}
	}
	override := model.ParseGenKwargs(req.GenKwargs)
	modelName := ModelName(req.LLMArgs)

	modelInstances := make([]*model.Instance, 0, len(instances))
	prompts := make([]*model.Prompt, 0, len(instances))
	for _, inst := range instances {
		if _, ok := allowed[inst.DocID]; !ok {
			return nil, nil, apperr.New(apperr.LmehGenerator,
				"instance doc_id %d of %s not in task doc_ids", inst.DocID, task.Tasks)
		}
		if inst.RequestType == model.RequestGenerateUntil {
			inst.GenKwargs = MergeGenKwargs(inst.GenKwargs, override)
		}

		m := inst.ToModel()
		m.ID = primitive.NewObjectID()
		m.TaskID = task.ID

		payload, maxTokens, err := BuildPayload(task.RequesterArgs.Path, modelName, req.SystemInstruction, inst)
		if err != nil {
			return nil, nil, err
		}
		prefill := EstimateCtxLen(inst.Context() + inst.Continuation())
		prompt, err := model.NewPrompt(task.ID, m.ID, payload, s.timeouts.Timeout(prefill, maxTokens))
		if err != nil {
			return nil, nil, apperr.Wrap(apperr.LmehGenerator, err, "failed to encode prompt")
		}
		modelInstances = append(modelInstances, m)
		prompts = append(prompts, prompt)
	}
	return modelInstances, prompts, nil
}
