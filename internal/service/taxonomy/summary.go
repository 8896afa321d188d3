package taxonomy

import (
	"context"
	"math"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/ashwinyue/ml-testbench/internal/apperr"
	"github.com/ashwinyue/ml-testbench/internal/model"
)

var nowUTC = func() time.Time { return time.Now().UTC() }

// BufferReader 读取供应方在某任务上的数值缓冲区
type BufferReader interface {
	NumericalBuffers(ctx context.Context, supplierID primitive.ObjectID, framework, task string) ([]model.NumericalBuffer, error)
}

// SummaryWriter 写入分类汇总
type SummaryWriter interface {
	UpsertTaxonomySummary(ctx context.Context, s *model.TaxonomySummary) error
}

// Service 分类汇总服务
type Service struct {
	taxonomies map[string]*Taxonomy
	buffers    BufferReader
	writer     SummaryWriter
	logger     *zap.Logger
}

// NewService 创建分类汇总服务
func NewService(taxonomies map[string]*Taxonomy, buffers BufferReader, writer SummaryWriter, logger *zap.Logger) *Service {
	return &Service{taxonomies: taxonomies, buffers: buffers, writer: writer, logger: logger}
}

// Names 已加载的分类名，已排序
func (s *Service) Names() []string {
	names := make([]string, 0, len(s.taxonomies))
	for name := range s.taxonomies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Summarize 计算供应方在分类上的各节点分数并保存
func (s *Service) Summarize(ctx context.Context, supplierID, taxonomyName string) (*model.TaxonomySummary, error) {
	t, ok := s.taxonomies[taxonomyName]
	if !ok {
		return nil, apperr.New(apperr.TaxonomySummarizeError, "requested taxonomy %q not found in configuration", taxonomyName)
	}
	id, err := primitive.ObjectIDFromHex(supplierID)
	if err != nil {
		return nil, apperr.Wrap(apperr.BadParams, err, "bad supplier_id format %q", supplierID)
	}

	now := nowUTC()
	scores := make(map[string]model.TaxonomyNode, len(t.Nodes))
	for _, node := range t.Nodes {
		if node == model.TaxonomyRoot {
			continue
		}
		var stats []DatasetStats
		for _, dataset := range t.Datasets[node] {
			buffers, err := s.buffers.NumericalBuffers(ctx, id, model.FrameworkLMEH, dataset)
			if err != nil {
				return nil, err
			}
			if len(buffers) > 1 {
				return nil, apperr.New(apperr.TaxonomySummarizeError,
					"found %d buffers for supplier %s in framework %s and task %s",
					len(buffers), supplierID, model.FrameworkLMEH, dataset)
			}
			if len(buffers) == 0 {
				s.logger.Warn("no results found for supplier",
					zap.String("supplier_id", supplierID),
					zap.String("task", dataset))
				continue
			}
			if _, err := buffers[0].Refresh(now); err != nil {
				return nil, apperr.Wrap(apperr.TaxonomySummarizeError, err, "failed to refresh buffer for task %s", dataset)
			}
			stats = append(stats, StatsFromBuffer(&buffers[0]))
		}
		scores[node] = NodeScore(stats)
	}
	scores[model.TaxonomyRoot] = RootScore(t.Children[model.TaxonomyRoot], scores)

	summary := &model.TaxonomySummary{
		SupplierID:          id,
		SummaryDate:         now,
		TaxonomyName:        t.Name,
		TaxonomyNodesScores: scores,
	}
	if err := s.writer.UpsertTaxonomySummary(ctx, summary); err != nil {
		return nil, err
	}
	s.logger.Debug("taxonomy summary saved",
		zap.String("supplier_id", supplierID),
		zap.String("taxonomy", t.Name))
	return summary, nil
}

// DatasetStats 节点下一个数据集的缓冲区统计量
type DatasetStats struct {
	Samples   int64
	MeanScore float64
	StdScore  float64
	MeanTime  float64
	StdTime   float64
	ErrorRate float64
}

// StatsFromBuffer 从数值缓冲区取统计量
func StatsFromBuffer(b *model.NumericalBuffer) DatasetStats {
	return DatasetStats{
		Samples:   int64(b.NumSamples()),
		MeanScore: b.MeanScores,
		StdScore:  b.StdScores,
		MeanTime:  b.MeanTimes,
		StdTime:   b.StdTimes,
		ErrorRate: b.ErrorRate,
	}
}

// NodeScore 数据集均值的平均，偏差为各数据集均值标准误的平方和开方。
// 有效样本数为 samples*(1-error_rate)，为 0 的数据集不参与；没有数据时全为 0
func NodeScore(stats []DatasetStats) model.TaxonomyNode {
	var (
		scoreSum, scoreVar float64
		timeSum, timeVar   float64
		n                  int
		sampleMin          int64 = math.MaxInt64
	)
	for _, st := range stats {
		samples := int64(float64(st.Samples) * (1 - st.ErrorRate))
		if samples <= 0 {
			continue
		}
		if samples < sampleMin {
			sampleMin = samples
		}
		sqrtN := math.Sqrt(float64(samples))
		scoreSum += st.MeanScore
		scoreVar += math.Pow(st.StdScore/sqrtN, 2)
		timeSum += st.MeanTime
		timeVar += math.Pow(st.StdTime/sqrtN, 2)
		n++
	}
	if n == 0 {
		return model.TaxonomyNode{}
	}
	return model.TaxonomyNode{
		Score:      scoreSum / float64(n),
		ScoreDev:   math.Sqrt(scoreVar),
		RunTime:    timeSum / float64(n),
		RunTimeDev: math.Sqrt(timeVar),
		SampleMin:  sampleMin,
	}
}

// RootScore root_c 取直接子节点分数的平均
func RootScore(children []string, scores map[string]model.TaxonomyNode) model.TaxonomyNode {
	if len(children) == 0 {
		return model.TaxonomyNode{}
	}
	var (
		root            model.TaxonomyNode
		scoreVar, tmVar float64
		sampleMin       int64 = math.MaxInt64
	)
	for _, child := range children {
		node := scores[child]
		root.Score += node.Score
		root.RunTime += node.RunTime
		scoreVar += node.ScoreDev * node.ScoreDev
		tmVar += node.RunTimeDev * node.RunTimeDev
		if node.SampleMin < sampleMin {
			sampleMin = node.SampleMin
		}
	}
	n := float64(len(children))
	root.Score /= n
	root.RunTime /= n
	root.ScoreDev = math.Sqrt(scoreVar)
	root.RunTimeDev = math.Sqrt(tmVar)
	root.SampleMin = sampleMin
	return root
}
