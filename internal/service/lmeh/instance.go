package lmeh

import "github.com/ashwinyue/ml-testbench/internal/model"

// FilterNone 未配置过滤器时的默认过滤键
const FilterNone = "none"

// Resp 单个请求的模型输出。loglikelihood 请求填 LogLikelihood/IsGreedy，
// generate_until 请求填 Text
type Resp struct {
	LogLikelihood float64 `json:"loglikelihood,omitempty"`
	IsGreedy      bool    `json:"is_greedy,omitempty"`
	Text          string  `json:"text,omitempty"`
}

// Instance 一个请求及其响应
type Instance struct {
	TaskName    string
	DocID       int
	Idx         int
	RequestType string
	// Arguments loglikelihood 为 [context, continuation]，generate_until 为 [context]
	Arguments []string
	GenKwargs map[string]any
	Repeats   int

	// 以下字段在重建响应后填充
	Resps         []Resp
	FilteredResps map[string]Resp
	ErrorCode     int
	ResponseTime  int64
	Height        int64
}

// Context 请求上下文
func (i *Instance) Context() string {
	if len(i.Arguments) == 0 {
		return ""
	}
	return i.Arguments[0]
}

// Continuation loglikelihood 请求的续写部分
func (i *Instance) Continuation() string {
	if len(i.Arguments) < 2 {
		return ""
	}
	return i.Arguments[1]
}

// ToModel 转为 instances 集合的文档
func (i *Instance) ToModel() *model.Instance {
	return &model.Instance{
		DocID:       i.DocID,
		Idx:         i.Idx,
		RequestType: i.RequestType,
		Arguments:   append([]string(nil), i.Arguments...),
		GenKwargs:   i.GenKwargs,
		Repeats:     i.Repeats,
		Metadata: model.InstanceMetadata{
			TaskName: i.TaskName,
			DocID:    i.DocID,
			Repeats:  i.Repeats,
		},
	}
}

// FromModel 由文档还原 Instance
func FromModel(m *model.Instance) *Instance {
	return &Instance{
		TaskName:    m.Metadata.TaskName,
		DocID:       m.DocID,
		Idx:         m.Idx,
		RequestType: m.RequestType,
		Arguments:   append([]string(nil), m.Arguments...),
		GenKwargs:   m.GenKwargs,
		Repeats:     m.Repeats,
	}
}
