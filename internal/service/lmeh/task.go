// Package lmeh lm-evaluation-harness 风格的任务库：渲染提示、构造请求、按文档打分
package lmeh

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"

	"github.com/ashwinyue/ml-testbench/internal/model"
	"github.com/ashwinyue/ml-testbench/internal/service/evaluation"
)

// 输出类型
const (
	OutputMultipleChoice = "multiple_choice"
	OutputGenerateUntil  = "generate_until"
)

// Task 任务的能力集合
type Task interface {
	Name() string
	Config() *TaskConfig
	// EvalSplit 取样所在的主 split：test 优先，其次 validation
	EvalSplit() string
	// FewshotDocsSplit few-shot 示例来源的 split
	FewshotDocsSplit() string
	BuildAllRequests(docs, fewshotDocs []model.Doc, numFewshot int, rnd *rand.Rand) ([]*Instance, error)
	ProcessResults(doc model.Doc, resps []Resp) (map[string]float64, error)
	DocToTarget(doc model.Doc) (string, error)
	DocIterator(docsBySplit map[string][]model.Doc) []model.Doc
	ApplyFilters(instances []*Instance)
	FilterNames() []string
	Metrics() []MetricSpec
}

// MetricSpec 任务的一个指标及其聚合方式
type MetricSpec struct {
	Metric         evaluation.Metric
	Aggregation    string
	HigherIsBetter bool
}

// TaskConfig 任务定义
type TaskConfig struct {
	Task        string
	Group       string
	Version     string
	DatasetPath string
	DatasetName string

	TestSplit       string
	ValidationSplit string
	TrainingSplit   string
	FewshotSplit    string
	// FewshotFirstN few-shot 按顺序取前 n 个而不是随机抽取
	FewshotFirstN bool

	OutputType       string
	Description      string
	TargetDelimiter  string
	FewshotDelimiter string
	NumFewshot       int

	DocToText   func(doc model.Doc) string
	DocToChoice func(doc model.Doc) []string
	// DocToGold 正确候选的下标
	DocToGold func(doc model.Doc) (int, error)
	// DocToTargetText 生成类任务的参考答案，或 MultipleInput 任务的公共续写
	DocToTargetText func(doc model.Doc) string
	// DocToLabels mc2 的候选标签
	DocToLabels func(doc model.Doc) []int
	// MultipleInput 为 true 时候选是不同的上下文，续写相同
	MultipleInput bool

	GenKwargs map[string]any
	Filters   []FilterPipeline
	Metrics   []MetricSpec
}

// ConfigurableTask 由 TaskConfig 驱动的任务
type ConfigurableTask struct {
	cfg TaskConfig
}

// NewTask 创建任务并填充默认分隔符
func NewTask(cfg TaskConfig) *ConfigurableTask {
	if cfg.TargetDelimiter == "" {
		cfg.TargetDelimiter = " "
	}
	if cfg.FewshotDelimiter == "" {
		cfg.FewshotDelimiter = "\n\n"
	}
	if len(cfg.Filters) == 0 {
		cfg.Filters = defaultFilters()
	}
	if cfg.Version == "" {
		cfg.Version = "1.0"
	}
	return &ConfigurableTask{cfg: cfg}
}

var _ Task = (*ConfigurableTask)(nil)

// Name 任务名
func (t *ConfigurableTask) Name() string {
	return t.cfg.Task
}

// Config 任务定义
func (t *ConfigurableTask) Config() *TaskConfig {
	return &t.cfg
}

// EvalSplit 实现 Task
func (t *ConfigurableTask) EvalSplit() string {
	if t.cfg.TestSplit != "" {
		return t.cfg.TestSplit
	}
	return t.cfg.ValidationSplit
}

// FewshotDocsSplit 实现 Task：fewshot_split，其次 training，其次 validation
func (t *ConfigurableTask) FewshotDocsSplit() string {
	switch {
	case t.cfg.FewshotSplit != "":
		return t.cfg.FewshotSplit
	case t.cfg.TrainingSplit != "":
		return t.cfg.TrainingSplit
	default:
		return t.cfg.ValidationSplit
	}
}

// Metrics 实现 Task
func (t *ConfigurableTask) Metrics() []MetricSpec {
	return t.cfg.Metrics
}

// FilterNames 过滤链名称，按定义顺序
func (t *ConfigurableTask) FilterNames() []string {
	names := make([]string, 0, len(t.cfg.Filters))
	for _, f := range t.cfg.Filters {
		names = append(names, f.Name)
	}
	return names
}

// DocIterator 返回主 split 中的文档，按 __id 排序
func (t *ConfigurableTask) DocIterator(docsBySplit map[string][]model.Doc) []model.Doc {
	docs := append([]model.Doc(nil), docsBySplit[t.EvalSplit()]...)
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs
}

// DocToTarget 文档的参考答案文本
func (t *ConfigurableTask) DocToTarget(doc model.Doc) (string, error) {
	if t.cfg.OutputType == OutputGenerateUntil || t.cfg.MultipleInput {
		return t.cfg.DocToTargetText(doc), nil
	}
	choices := t.cfg.DocToChoice(doc)
	gold, err := t.cfg.DocToGold(doc)
	if err != nil {
		return "", err
	}
	if gold < 0 || gold >= len(choices) {
		return "", fmt.Errorf("gold index %d out of range for doc %d", gold, doc.ID)
	}
	return choices[gold], nil
}

// docText 文档的问题部分；MultipleInput 任务取正确候选对应的上下文
func (t *ConfigurableTask) docText(doc model.Doc) (string, error) {
	if !t.cfg.MultipleInput {
		return t.cfg.DocToText(doc), nil
	}
	choices := t.cfg.DocToChoice(doc)
	gold, err := t.cfg.DocToGold(doc)
	if err != nil {
		return "", err
	}
	if gold < 0 || gold >= len(choices) {
		return "", fmt.Errorf("gold index %d out of range for doc %d", gold, doc.ID)
	}
	return choices[gold], nil
}

// fewshotPrefix 渲染描述和 few-shot 示例，结尾带 few-shot 分隔符
func (t *ConfigurableTask) fewshotPrefix(doc model.Doc, fewshotDocs []model.Doc, n int, rnd *rand.Rand) (string, error) {
	var b strings.Builder
	b.WriteString(t.cfg.Description)
	if n <= 0 {
		return b.String(), nil
	}
	for _, ex := range t.sampleFewshot(doc, fewshotDocs, n, rnd) {
		text, err := t.docText(ex)
		if err != nil {
			return "", err
		}
		target, err := t.DocToTarget(ex)
		if err != nil {
			return "", err
		}
		b.WriteString(text)
		b.WriteString(t.cfg.TargetDelimiter)
		b.WriteString(target)
		b.WriteString(t.cfg.FewshotDelimiter)
	}
	return b.String(), nil
}

// sampleFewshot 选出 n 个示例；与 doc 同 split 时排除 doc 本身
func (t *ConfigurableTask) sampleFewshot(doc model.Doc, pool []model.Doc, n int, rnd *rand.Rand) []model.Doc {
	candidates := make([]model.Doc, 0, len(pool))
	for _, ex := range pool {
		if ex.ID == doc.ID && ex.Split == doc.Split {
			continue
		}
		candidates = append(candidates, ex)
	}
	if n > len(candidates) {
		n = len(candidates)
	}
	if t.cfg.FewshotFirstN {
		return candidates[:n]
	}
	picked := make([]model.Doc, 0, n)
	for _, i := range rnd.Perm(len(candidates))[:n] {
		picked = append(picked, candidates[i])
	}
	return picked
}

// BuildAllRequests 为每个文档构造请求实例
func (t *ConfigurableTask) BuildAllRequests(docs, fewshotDocs []model.Doc, numFewshot int, rnd *rand.Rand) ([]*Instance, error) {
	var instances []*Instance
	for _, doc := range docs {
		prefix, err := t.fewshotPrefix(doc, fewshotDocs, numFewshot, rnd)
		if err != nil {
			return nil, fmt.Errorf("failed to render fewshot for %s doc %d: %w", t.cfg.Task, doc.ID, err)
		}
		built, err := t.constructRequests(doc, prefix)
		if err != nil {
			return nil, fmt.Errorf("failed to build requests for %s doc %d: %w", t.cfg.Task, doc.ID, err)
		}
		instances = append(instances, built...)
	}
	return instances, nil
}

func (t *ConfigurableTask) constructRequests(doc model.Doc, prefix string) ([]*Instance, error) {
	newInstance := func(idx int, reqType string, args ...string) *Instance {
		return &Instance{
			TaskName:    t.cfg.Task,
			DocID:       doc.ID,
			Idx:         idx,
			RequestType: reqType,
			Arguments:   args,
			Repeats:     1,
		}
	}

	switch t.cfg.OutputType {
	case OutputGenerateUntil:
		inst := newInstance(0, model.RequestGenerateUntil, prefix+t.cfg.DocToText(doc))
		inst.GenKwargs = t.cfg.GenKwargs
		return []*Instance{inst}, nil

	case OutputMultipleChoice:
		choices := t.cfg.DocToChoice(doc)
		if len(choices) == 0 {
			return nil, fmt.Errorf("doc has no choices")
		}
		out := make([]*Instance, 0, len(choices))
		if t.cfg.MultipleInput {
			cont := t.cfg.TargetDelimiter + t.cfg.DocToTargetText(doc)
			for i, ctx := range choices {
				out = append(out, newInstance(i, model.RequestLoglikelihood, prefix+ctx, cont))
			}
			return out, nil
		}
		ctx := prefix + t.cfg.DocToText(doc)
		for i, choice := range choices {
			out = append(out, newInstance(i, model.RequestLoglikelihood, ctx, t.cfg.TargetDelimiter+choice))
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unsupported output type %q", t.cfg.OutputType)
	}
}

// ApplyFilters 对每个实例执行全部过滤链
func (t *ConfigurableTask) ApplyFilters(instances []*Instance) {
	for _, inst := range instances {
		inst.FilteredResps = make(map[string]Resp, len(t.cfg.Filters))
		for _, f := range t.cfg.Filters {
			inst.FilteredResps[f.Name] = f.Apply(inst.Resps)
		}
	}
}

// ProcessResults 计算单个文档的各项指标；没有指标的任务输出 bypass
func (t *ConfigurableTask) ProcessResults(doc model.Doc, resps []Resp) (map[string]float64, error) {
	if len(t.cfg.Metrics) == 0 {
		return map[string]float64{evaluation.MetricBypass: math.NaN()}, nil
	}

	input := &evaluation.MetricInput{LeafLabel: doc.String("leaf_label")}
	switch t.cfg.OutputType {
	case OutputGenerateUntil:
		if len(resps) == 0 {
			return nil, fmt.Errorf("no responses for doc %d", doc.ID)
		}
		target, err := t.DocToTarget(doc)
		if err != nil {
			return nil, err
		}
		input.Prediction = resps[0].Text
		input.References = []string{target}

	case OutputMultipleChoice:
		choices := t.cfg.DocToChoice(doc)
		if len(resps) != len(choices) {
			return nil, fmt.Errorf("doc %d has %d responses for %d choices", doc.ID, len(resps), len(choices))
		}
		input.LogLikelihoods = make([]float64, len(resps))
		for i, r := range resps {
			input.LogLikelihoods[i] = r.LogLikelihood
		}
		input.Choices = choices
		gold, err := t.cfg.DocToGold(doc)
		if err != nil {
			return nil, err
		}
		input.Gold = gold
		if t.cfg.DocToLabels != nil {
			input.Labels = t.cfg.DocToLabels(doc)
		}

	default:
		return nil, fmt.Errorf("unsupported output type %q", t.cfg.OutputType)
	}

	out := make(map[string]float64, len(t.cfg.Metrics))
	for _, spec := range t.cfg.Metrics {
		out[spec.Metric.Name()] = spec.Metric.Compute(input)
	}
	return out, nil
}
