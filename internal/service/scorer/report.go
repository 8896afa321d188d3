package scorer

import (
	"math"
	"sort"

	"github.com/ashwinyue/ml-testbench/internal/model"
	"github.com/ashwinyue/ml-testbench/internal/service/evaluation"
	"github.com/ashwinyue/ml-testbench/internal/service/lmeh"
)

// MetricKey 指标与过滤链组成的键，如 "acc,none"
func MetricKey(metric, filter string) string {
	return metric + "," + filter
}

// MetricValue 聚合后的指标值及其标准误，不可用时为 NaN
type MetricValue struct {
	Value  float64 `json:"value"`
	Stderr float64 `json:"stderr"`
}

// TaskReport 单个任务（或组）的汇总
type TaskReport struct {
	Task       string                 `json:"task"`
	Group      string                 `json:"group,omitempty"`
	Version    string                 `json:"version"`
	NumFewshot int                    `json:"n-shot"`
	Samples    int                    `json:"samples"`
	Metrics    map[string]MetricValue `json:"metrics"`
}

// sampleMetrics 按 MetricKey 收集的逐文档指标值
type sampleMetrics map[string][]float64

func (m sampleMetrics) add(metrics map[string]float64, filter string) {
	for name, v := range metrics {
		key := MetricKey(name, filter)
		m[key] = append(m[key], v)
	}
}

// aggregate 按任务声明的聚合方式计算各指标。
// 没有指标的任务每条过滤链输出一个值和标准误都为 NA 的 bypass 键
func aggregate(t lmeh.Task, samples sampleMetrics, bootstrapIters int) map[string]MetricValue {
	aggByMetric := make(map[string]string, len(t.Metrics()))
	for _, spec := range t.Metrics() {
		aggByMetric[spec.Metric.Name()] = spec.Aggregation
	}

	out := make(map[string]MetricValue, len(samples))
	for _, filter := range t.FilterNames() {
		if len(aggByMetric) == 0 {
			key := MetricKey(evaluation.MetricBypass, filter)
			if len(samples[key]) > 0 {
				out[key] = MetricValue{Value: evaluation.NA, Stderr: evaluation.NA}
			}
			continue
		}
		for metric, aggName := range aggByMetric {
			xs, ok := samples[MetricKey(metric, filter)]
			if !ok || len(xs) == 0 {
				continue
			}
			fn, ok := evaluation.AggregationByName(aggName)
			if !ok {
				fn = evaluation.Mean
			}
			mv := MetricValue{Value: fn(xs), Stderr: evaluation.NA}
			if stderr := evaluation.StderrFor(aggName, bootstrapIters, BootstrapSeed); stderr != nil {
				mv.Stderr = stderr(xs)
			}
			out[MetricKey(metric, filter)] = mv
		}
	}
	return out
}

// PoolGroup 把同组子任务的指标按样本数加权合并。
// 只合并所有子任务都有的指标键，任一子任务标准误为 NA 时组标准误为 NA
func PoolGroup(group string, children []*TaskReport) *TaskReport {
	report := &TaskReport{Task: group, Group: group, Metrics: map[string]MetricValue{}}
	if len(children) == 0 {
		return report
	}

	keys := make([]string, 0, len(children[0].Metrics))
	for key := range children[0].Metrics {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		values := make([]float64, 0, len(children))
		stderrs := make([]float64, 0, len(children))
		sizes := make([]int, 0, len(children))
		for _, child := range children {
			mv, ok := child.Metrics[key]
			if !ok {
				break
			}
			values = append(values, mv.Value)
			stderrs = append(stderrs, mv.Stderr)
			sizes = append(sizes, child.Samples)
		}
		if len(values) != len(children) {
			continue
		}
		report.Metrics[key] = MetricValue{
			Value:  evaluation.PooledMetric(values, sizes),
			Stderr: evaluation.PooledSampleStderr(stderrs, sizes),
		}
	}

	for _, child := range children {
		report.Samples += child.Samples
		report.NumFewshot = child.NumFewshot
	}
	return report
}

// PoolGroups 按 Group 归并任务报告，没有组的任务不参与
func PoolGroups(reports []*TaskReport) map[string]*TaskReport {
	byGroup := make(map[string][]*TaskReport)
	for _, r := range reports {
		if r.Group == "" {
			continue
		}
		byGroup[r.Group] = append(byGroup[r.Group], r)
	}
	out := make(map[string]*TaskReport, len(byGroup))
	for group, children := range byGroup {
		out[group] = PoolGroup(group, children)
	}
	return out
}

// IsNA 标准误是否不可用
func (v MetricValue) IsNA() bool {
	return math.IsNaN(v.Stderr)
}

// scoresOf 转成可持久化的形式，NaN 记为 nil
func scoresOf(metrics map[string]MetricValue) map[string]model.MetricScore {
	out := make(map[string]model.MetricScore, len(metrics))
	for key, mv := range metrics {
		out[key] = model.MetricScore{Value: finite(mv.Value), Stderr: finite(mv.Stderr)}
	}
	return out
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func groupScoresOf(groups map[string]*TaskReport) map[string]model.GroupScore {
	if len(groups) == 0 {
		return nil
	}
	out := make(map[string]model.GroupScore, len(groups))
	for name, g := range groups {
		out[name] = model.GroupScore{Samples: g.Samples, NumFewshot: g.NumFewshot, Metrics: scoresOf(g.Metrics)}
	}
	return out
}
