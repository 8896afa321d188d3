package lmeh

import (
	"regexp"
	"strings"
)

// Filter 对单个实例的响应做后处理
type Filter interface {
	Apply(resps []Resp) []Resp
}

// FilterPipeline 命名的过滤链，最后一步通常是 TakeFirst
type FilterPipeline struct {
	Name  string
	Steps []Filter
}

// Apply 依次执行过滤步骤，返回链末的第一个响应
func (p FilterPipeline) Apply(resps []Resp) Resp {
	out := resps
	for _, step := range p.Steps {
		out = step.Apply(out)
	}
	if len(out) == 0 {
		return Resp{}
	}
	return out[0]
}

// TakeFirst 只保留第一个响应
type TakeFirst struct{}

// Apply 实现 Filter
func (TakeFirst) Apply(resps []Resp) []Resp {
	if len(resps) == 0 {
		return resps
	}
	return resps[:1]
}

// RegexFilter 从生成文本中提取匹配。GroupSelect 选第几个匹配，负数从末尾数；
// 无匹配时输出 Fallback
type RegexFilter struct {
	Pattern     *regexp.Regexp
	GroupSelect int
	Fallback    string
}

// NewRegexFilter 创建正则过滤器
func NewRegexFilter(pattern string, groupSelect int) *RegexFilter {
	return &RegexFilter{
		Pattern:     regexp.MustCompile(pattern),
		GroupSelect: groupSelect,
		Fallback:    "[invalid]",
	}
}

// Apply 实现 Filter
func (f *RegexFilter) Apply(resps []Resp) []Resp {
	out := make([]Resp, len(resps))
	for i, r := range resps {
		out[i] = Resp{Text: f.extract(r.Text)}
	}
	return out
}

func (f *RegexFilter) extract(text string) string {
	matches := f.Pattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return f.Fallback
	}
	idx := f.GroupSelect
	if idx < 0 {
		idx = len(matches) + idx
	}
	if idx < 0 || idx >= len(matches) {
		return f.Fallback
	}
	match := matches[idx]
	// 有捕获组时取第一个非空捕获组
	for _, group := range match[1:] {
		if group != "" {
			return strings.TrimSpace(group)
		}
	}
	return strings.TrimSpace(match[0])
}

// defaultFilters 未配置过滤器时的 none 过滤链
func defaultFilters() []FilterPipeline {
	return []FilterPipeline{{Name: FilterNone, Steps: []Filter{TakeFirst{}}}}
}
