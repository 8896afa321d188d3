package lmeh

import (
	"path"
	"sort"
	"strings"

	"github.com/ashwinyue/ml-testbench/internal/apperr"
	"github.com/ashwinyue/ml-testbench/internal/service/evaluation"
)

// Library 任务库
type Library interface {
	// MatchTasks 用 glob 模式匹配任务名，返回排序去重后的结果
	MatchTasks(patterns []string) []string
	// GetTaskDict 按名称取任务，未知任务返回 BadParams
	GetTaskDict(names []string) (map[string]Task, error)
}

// Registry 内存中的任务库
type Registry struct {
	tasks map[string]Task
}

var _ Library = (*Registry)(nil)

// NewRegistry 创建包含内置任务和额外任务的任务库
func NewRegistry(extra ...Task) *Registry {
	r := &Registry{tasks: make(map[string]Task)}
	for _, t := range builtinTasks() {
		r.tasks[t.Name()] = t
	}
	for _, t := range extra {
		r.tasks[t.Name()] = t
	}
	return r
}

// Names 全部任务名，已排序
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MatchTasks 实现 Library
func (r *Registry) MatchTasks(patterns []string) []string {
	seen := make(map[string]struct{})
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		for name := range r.tasks {
			if ok, err := path.Match(pattern, name); err == nil && ok {
				seen[name] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// GetTaskDict 实现 Library
func (r *Registry) GetTaskDict(names []string) (map[string]Task, error) {
	out := make(map[string]Task, len(names))
	for _, name := range names {
		t, ok := r.tasks[name]
		if !ok {
			return nil, apperr.New(apperr.BadParams, "unknown lmeh task %q", name)
		}
		out[name] = t
	}
	return out, nil
}

// SplitPatterns 把逗号分隔的任务字符串拆成模式列表
func SplitPatterns(tasks string) []string {
	var out []string
	for _, p := range strings.Split(tasks, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// LeaderboardConfig 排行榜使用的指标与 few-shot 数
type LeaderboardConfig struct {
	Metric     string
	NumFewshot int
}

// MetricAverage mmlu 在排行榜上按子任务平均汇总
const MetricAverage = "average"

var leaderboardConfigs = map[string]LeaderboardConfig{
	"arc_challenge":  {Metric: evaluation.MetricAccNorm, NumFewshot: 25},
	"hellaswag":      {Metric: evaluation.MetricAccNorm, NumFewshot: 10},
	"truthfulqa_mc2": {Metric: evaluation.MetricMC2, NumFewshot: 0},
	"winogrande":     {Metric: evaluation.MetricAcc, NumFewshot: 5},
	"gsm8k":          {Metric: evaluation.MetricExactMatch, NumFewshot: 5},
}

// GetLeaderboardConfig 任务的排行榜配置；mmlu 子任务按 acc 打分
func GetLeaderboardConfig(task string) (LeaderboardConfig, bool) {
	if strings.Contains(task, MMLUGroup) {
		return LeaderboardConfig{Metric: evaluation.MetricAcc, NumFewshot: 5}, true
	}
	cfg, ok := leaderboardConfigs[task]
	return cfg, ok
}

// LeaderboardTasks 排行榜汇总的任务名，mmlu 作为一项
func LeaderboardTasks() []string {
	names := make([]string, 0, len(leaderboardConfigs)+1)
	for name := range leaderboardConfigs {
		names = append(names, name)
	}
	names = append(names, MMLUGroup)
	sort.Strings(names)
	return names
}
