// Package evaluation 提供评估指标与聚合
package evaluation

import (
	"math"
	"regexp"
	"strings"
)

// asciiPunctuation ignore_punctuation 时删除的字符
const asciiPunctuation = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

// MetricInput 指标计算输入
type MetricInput struct {
	// LogLikelihoods 每个候选答案的对数似然
	LogLikelihoods []float64

	// Choices 候选答案文本，acc_norm 用其字节长度归一化
	Choices []string

	// Gold 正确候选的下标
	Gold int

	// Labels mc2 的候选标签，1 为正确，0 为错误，正确的排在前面
	Labels []int

	// Prediction 生成类任务的模型输出
	Prediction string

	// References 参考答案
	References []string

	// LeafLabel listing 任务的叶子标签
	LeafLabel string
}

// Metric 指标接口
type Metric interface {
	Compute(input *MetricInput) float64
	Name() string
}

// 指标名称
const (
	MetricAcc        = "acc"
	MetricAccNorm    = "acc_norm"
	MetricExactMatch = "exact_match"
	MetricMC2        = "mc2"
	MetricListing    = "listing"
	MetricBypass     = "bypass"
)

// ========== Acc 准确率 ==========

// AccMetric 对数似然最大的候选是否为正确答案
type AccMetric struct{}

// NewAccMetric 创建 acc 指标
func NewAccMetric() *AccMetric {
	return &AccMetric{}
}

// Compute 计算 acc
func (m *AccMetric) Compute(input *MetricInput) float64 {
	if len(input.LogLikelihoods) == 0 {
		return 0.0
	}
	return boolScore(argmax(input.LogLikelihoods) == input.Gold)
}

// Name 返回指标名称
func (m *AccMetric) Name() string {
	return MetricAcc
}

// ========== AccNorm 长度归一化准确率 ==========

// AccNormMetric 按候选字节长度归一化后的 acc
type AccNormMetric struct{}

// NewAccNormMetric 创建 acc_norm 指标
func NewAccNormMetric() *AccNormMetric {
	return &AccNormMetric{}
}

// Compute 计算 acc_norm
func (m *AccNormMetric) Compute(input *MetricInput) float64 {
	if len(input.LogLikelihoods) == 0 || len(input.Choices) != len(input.LogLikelihoods) {
		return 0.0
	}
	normed := make([]float64, len(input.LogLikelihoods))
	for i, ll := range input.LogLikelihoods {
		n := float64(len(input.Choices[i]))
		if n == 0 {
			n = 1
		}
		normed[i] = ll / n
	}
	return boolScore(argmax(normed) == input.Gold)
}

// Name 返回指标名称
func (m *AccNormMetric) Name() string {
	return MetricAccNorm
}

// ========== ExactMatch 精确匹配 ==========

// ExactMatchMetric 预测与任一参考答案完全一致
type ExactMatchMetric struct {
	IgnoreCase        bool
	IgnorePunctuation bool
	RegexesToIgnore   []*regexp.Regexp
}

// NewExactMatchMetric 创建 exact_match 指标，非法的正则会 panic
func NewExactMatchMetric(ignoreCase, ignorePunctuation bool, regexesToIgnore ...string) *ExactMatchMetric {
	m := &ExactMatchMetric{IgnoreCase: ignoreCase, IgnorePunctuation: ignorePunctuation}
	for _, expr := range regexesToIgnore {
		m.RegexesToIgnore = append(m.RegexesToIgnore, regexp.MustCompile(expr))
	}
	return m
}

// Compute 计算 exact_match
func (m *ExactMatchMetric) Compute(input *MetricInput) float64 {
	pred := m.normalize(input.Prediction)
	for _, ref := range input.References {
		if m.normalize(ref) == pred {
			return 1.0
		}
	}
	return 0.0
}

func (m *ExactMatchMetric) normalize(s string) string {
	for _, re := range m.RegexesToIgnore {
		s = re.ReplaceAllString(s, "")
	}
	if m.IgnoreCase {
		s = strings.ToLower(s)
	}
	if m.IgnorePunctuation {
		s = strings.Map(func(r rune) rune {
			if strings.ContainsRune(asciiPunctuation, r) {
				return -1
			}
			return r
		}, s)
	}
	return s
}

// Name 返回指标名称
func (m *ExactMatchMetric) Name() string {
	return MetricExactMatch
}

// ========== MC2 ==========

// MC2Metric 正确候选的归一化概率质量
// mc2 = Σp(true) / (Σp(true) + Σp(false))，p = exp(ll)
type MC2Metric struct{}

// NewMC2Metric 创建 mc2 指标
func NewMC2Metric() *MC2Metric {
	return &MC2Metric{}
}

// Compute 计算 mc2
func (m *MC2Metric) Compute(input *MetricInput) float64 {
	split := len(input.Labels)
	for i, label := range input.Labels {
		if label == 0 {
			split = i
			break
		}
	}
	if split > len(input.LogLikelihoods) {
		split = len(input.LogLikelihoods)
	}

	var pTrue, pFalse float64
	for i, ll := range input.LogLikelihoods {
		if i < split {
			pTrue += math.Exp(ll)
		} else {
			pFalse += math.Exp(ll)
		}
	}
	if pTrue+pFalse == 0 {
		return 0.0
	}
	return pTrue / (pTrue + pFalse)
}

// Name 返回指标名称
func (m *MC2Metric) Name() string {
	return MetricMC2
}

// ========== Listing 列表匹配 ==========

// ListingMetric 列表类答案。叶子标签为 none/unknown 时答案是随机抽取的，
// 只要预测与任一参考一致即得分；否则要求逗号分隔的预测集合与参考集合相等。
type ListingMetric struct {
	exact *ExactMatchMetric
}

// NewListingMetric 创建 listing 指标
func NewListingMetric() *ListingMetric {
	return &ListingMetric{exact: NewExactMatchMetric(false, false)}
}

// Compute 计算 listing
func (m *ListingMetric) Compute(input *MetricInput) float64 {
	if input.LeafLabel == "none" || input.LeafLabel == "unknown" {
		return m.exact.Compute(input)
	}

	want := make(map[string]struct{}, len(input.References))
	for _, ref := range input.References {
		want[ref] = struct{}{}
	}
	got := make(map[string]struct{})
	for _, item := range strings.Split(strings.ReplaceAll(input.Prediction, " ", ""), ",") {
		got[item] = struct{}{}
	}
	if len(got) != len(want) {
		return 0.0
	}
	for item := range got {
		if _, ok := want[item]; !ok {
			return 0.0
		}
	}
	return 1.0
}

// Name 返回指标名称
func (m *ListingMetric) Name() string {
	return MetricListing
}

// argmax 返回最大值的下标，并列时取第一个
func argmax(xs []float64) int {
	best := 0
	for i := 1; i < len(xs); i++ {
		if xs[i] > xs[best] {
			best = i
		}
	}
	return best
}

func boolScore(ok bool) float64 {
	if ok {
		return 1.0
	}
	return 0.0
}
