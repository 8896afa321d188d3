// Package scorer 对已完成的 lmeh 任务打分，写入数值结果
package scorer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/ashwinyue/ml-testbench/internal/apperr"
	"github.com/ashwinyue/ml-testbench/internal/model"
	"github.com/ashwinyue/ml-testbench/internal/repository"
	"github.com/ashwinyue/ml-testbench/internal/service/lmeh"
	"github.com/ashwinyue/ml-testbench/internal/service/sampler"
)

// BootstrapSeed bootstrap 标准误的随机种子
const BootstrapSeed = 1234

var nowUTC = func() time.Time { return time.Now().UTC() }

// TaskReader 读取任务文档
type TaskReader interface {
	GetTask(ctx context.Context, id primitive.ObjectID) (*model.Task, error)
}

// InstanceSource 还原带响应的实例
type InstanceSource interface {
	Instances(ctx context.Context, task *model.Task) ([]*lmeh.Instance, error)
}

// ResultWriter 写入数值结果并标记任务已评估
type ResultWriter interface {
	SaveNumerical(ctx context.Context, res *model.NumericalResult) error
}

// Service 打分服务
type Service struct {
	tasks     TaskReader
	instances InstanceSource
	library   lmeh.Library
	registry  repository.RegistryStore
	datasets  repository.DatasetStore
	results   ResultWriter
	logger    *zap.Logger
}

// NewService 创建打分服务
func NewService(tasks TaskReader, instances InstanceSource, library lmeh.Library,
	registry repository.RegistryStore, datasets repository.DatasetStore, results ResultWriter, logger *zap.Logger) *Service {
	return &Service{
		tasks:     tasks,
		instances: instances,
		library:   library,
		registry:  registry,
		datasets:  datasets,
		results:   results,
		logger:    logger,
	}
}

// errSkipped 任务被跳过，只写失败结果
var errSkipped = errors.New("task was skipped")

// Evaluate 为任务打分并保存结果，返回任务汇总。
// 除 BadParams 与可重试的 ResponseError 外，失败时写入 status 11 的结果并标记已评估
func (s *Service) Evaluate(ctx context.Context, taskID string) (*TaskReport, error) {
	id, err := model.ParseTaskID(taskID)
	if err != nil {
		return nil, err
	}
	report, err := s.evaluate(ctx, id)
	if err == nil || apperr.Is(err, apperr.BadParams) || apperr.Is(err, apperr.ResponseError) {
		return report, err
	}

	s.logger.Warn("lmeh evaluation failed, saving failed result",
		zap.String("task_id", taskID),
		zap.Error(err))
	res := &model.NumericalResult{ResultData: model.FailedResultData(id), Scores: []model.NumericSample{}}
	if saveErr := s.results.SaveNumerical(ctx, res); saveErr != nil {
		return nil, saveErr
	}
	if errors.Is(err, errSkipped) {
		return &TaskReport{Metrics: map[string]MetricValue{}}, nil
	}
	return nil, err
}

func (s *Service) evaluate(ctx context.Context, id primitive.ObjectID) (*TaskReport, error) {
	taskID := id.Hex()
	task, err := s.tasks.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.Status == model.TaskStatusSkipped {
		return nil, errSkipped
	}
	if task.Framework != model.FrameworkLMEH {
		return nil, apperr.New(apperr.BadParams, "task %s has framework %q, want lmeh", taskID, task.Framework)
	}
	// 响应可能还在写入，允许重试
	if !task.Done {
		return nil, apperr.New(apperr.ResponseError, "task %s is not done yet", taskID)
	}

	checked, err := s.registry.Checked(ctx, task.Tasks)
	if err != nil {
		return nil, err
	}
	if !checked {
		return nil, apperr.New(apperr.TaskNotFound, "task %q not found on task_registry", task.Tasks)
	}
	dict, err := s.library.GetTaskDict([]string{task.Tasks})
	if err != nil {
		return nil, err
	}
	t := dict[task.Tasks]

	instances, err := s.instances.Instances(ctx, task)
	if err != nil {
		return nil, err
	}
	if len(instances) == 0 {
		s.logger.Warn("no instances for task", zap.String("task_id", taskID))
		res := &model.NumericalResult{ResultData: model.ResultData{
			TaskID:     task.ID,
			Status:     model.ResultStatusNoData,
			ResultTime: nowUTC(),
		}}
		if err := s.results.SaveNumerical(ctx, res); err != nil {
			return nil, err
		}
		return &TaskReport{Task: task.Tasks, Metrics: map[string]MetricValue{}}, nil
	}

	docs, err := s.fetchDocs(ctx, task, t)
	if err != nil {
		return nil, err
	}

	report, res, err := Score(t, task, instances, docs)
	if err != nil {
		return nil, err
	}
	if err := s.results.SaveNumerical(ctx, res); err != nil {
		return nil, err
	}

	s.logger.Info("lmeh task evaluated",
		zap.String("task", task.Tasks),
		zap.String("task_id", taskID),
		zap.Int("num_samples", res.ResultData.NumSamples),
		zap.Int64("result_height", res.ResultData.ResultHeight))
	return report, nil
}

// fetchDocs 读取任务选中的文档，按 __id 索引
func (s *Service) fetchDocs(ctx context.Context, task *model.Task, t lmeh.Task) (map[int]model.Doc, error) {
	table, err := s.registry.DatasetTable(ctx, task.Tasks)
	if err != nil {
		return nil, err
	}
	where, err := sampler.WhereClause(t.EvalSplit(), task.DocIDs, sampler.Splits{}, nil)
	if err != nil {
		return nil, err
	}
	bySplit, err := s.datasets.FetchRows(ctx, table, where)
	if err != nil {
		return nil, err
	}
	docs := make(map[int]model.Doc, len(task.DocIDs))
	for _, rows := range bySplit {
		for _, doc := range rows {
			docs[doc.ID] = doc
		}
	}
	return docs, nil
}

// Score 过滤响应并逐文档计算指标。
// 数值样本取排行榜指标在第一条过滤链上的值，每个 doc_id 一个；
// 有失败响应的文档记录错误码，不参与聚合。
// 结果文档同时带上任务级指标、版本、n-shot 以及所属组的合并指标
func Score(t lmeh.Task, task *model.Task, instances []*lmeh.Instance, docs map[int]model.Doc) (*TaskReport, *model.NumericalResult, error) {
	t.ApplyFilters(instances)

	byDoc := make(map[int][]*lmeh.Instance)
	for _, inst := range instances {
		byDoc[inst.DocID] = append(byDoc[inst.DocID], inst)
	}
	docIDs := make([]int, 0, len(byDoc))
	for id, insts := range byDoc {
		sort.Slice(insts, func(i, j int) bool { return insts[i].Idx < insts[j].Idx })
		docIDs = append(docIDs, id)
	}
	sort.Ints(docIDs)

	scoreMetric := selectedMetric(t)
	filters := t.FilterNames()
	samples := sampleMetrics{}
	scores := make([]model.NumericSample, 0, len(docIDs))
	var height int64

	for _, docID := range docIDs {
		insts := byDoc[docID]
		doc, ok := docs[docID]
		if !ok {
			return nil, nil, apperr.New(apperr.InstanceNotFound, "doc %d of task %s not found in dataset", docID, task.Tasks)
		}

		sample := model.NumericSample{ID: docID}
		var runTime float64
		for _, inst := range insts {
			runTime += float64(inst.ResponseTime)
			if inst.ErrorCode > sample.StatusCode {
				sample.StatusCode = inst.ErrorCode
			}
			if inst.Height > height {
				height = inst.Height
			}
		}
		sample.RunTime = runTime / float64(len(insts))

		if sample.StatusCode != 0 {
			sample.ErrorStr = fmt.Sprintf("response failed with code %d", sample.StatusCode)
			scores = append(scores, sample)
			continue
		}

		for i, filter := range filters {
			resps := make([]lmeh.Resp, len(insts))
			for j, inst := range insts {
				resps[j] = inst.FilteredResps[filter]
			}
			metrics, err := t.ProcessResults(doc, resps)
			if err != nil {
				if i == 0 {
					sample.StatusCode = model.SampleStatusDecode
					sample.ErrorStr = err.Error()
				}
				continue
			}
			samples.add(metrics, filter)
			if i == 0 {
				// bypass 任务或缺少计分指标时不记分数
				v, ok := metrics[scoreMetric]
				if ok && !math.IsNaN(v) {
					sample.Score = v
				} else {
					sample.Bypass = true
				}
			}
		}
		scores = append(scores, sample)
	}

	numFewshot := t.Config().NumFewshot
	if task.NumFewshot != nil {
		numFewshot = *task.NumFewshot
	}
	report := &TaskReport{
		Task:       t.Name(),
		Group:      t.Config().Group,
		Version:    t.Config().Version,
		NumFewshot: numFewshot,
		Samples:    len(docIDs),
		Metrics:    aggregate(t, samples, task.BootstrapIters),
	}
	res := &model.NumericalResult{
		ResultData: model.ResultData{
			TaskID:       task.ID,
			NumSamples:   len(docIDs),
			Status:       model.ResultStatusOK,
			ResultHeight: height,
			ResultTime:   nowUTC(),
		},
		Scores:     scores,
		Task:       report.Task,
		Group:      report.Group,
		Version:    report.Version,
		NumFewshot: report.NumFewshot,
		Metrics:    scoresOf(report.Metrics),
		Groups:     groupScoresOf(PoolGroups([]*TaskReport{report})),
	}
	return report, res, nil
}

// selectedMetric 排行榜指标，不在排行榜上的任务取第一个指标
func selectedMetric(t lmeh.Task) string {
	if lb, ok := lmeh.GetLeaderboardConfig(t.Name()); ok {
		return lb.Metric
	}
	if metrics := t.Metrics(); len(metrics) > 0 {
		return metrics[0].Metric.Name()
	}
	return ""
}
