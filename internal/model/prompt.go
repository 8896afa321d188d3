package model

import (
	"encoding/json"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Payload 发送给供应方的请求体，Completion 或 ChatCompletion 二选一
type Payload interface {
	// Wire 返回发送用的 JSON，不含 testbench 内部字段
	Wire() ([]byte, error)
	// Encodings 返回 ctxlen、context_enc、continuation_enc
	Encodings() (ctxlen int, contextEnc, continuationEnc []int)
}

// TestbenchFields 只保存在文档库中、不上网络的字段
type TestbenchFields struct {
	CtxLen          int   `json:"-"`
	ContextEnc      []int `json:"-"`
	ContinuationEnc []int `json:"-"`
}

// Encodings 实现 Payload
func (f TestbenchFields) Encodings() (int, []int, []int) {
	return f.CtxLen, f.ContextEnc, f.ContinuationEnc
}

// CompletionRequest /v1/completions 请求
type CompletionRequest struct {
	Model            string             `json:"model"`
	Prompt           string             `json:"prompt"`
	BestOf           *int               `json:"best_of,omitempty"`
	Echo             bool               `json:"echo"`
	FrequencyPenalty float64            `json:"frequency_penalty"`
	LogitBias        map[string]float64 `json:"logit_bias,omitempty"`
	Logprobs         *int               `json:"logprobs,omitempty"`
	MaxTokens        int                `json:"max_tokens"`
	N                int                `json:"n"`
	PresencePenalty  float64            `json:"presence_penalty"`
	Seed             *int               `json:"seed,omitempty"`
	Stop             []string           `json:"stop,omitempty"`
	Stream           bool               `json:"stream"`
	Suffix           string             `json:"suffix,omitempty"`
	Temperature      float64            `json:"temperature"`
	TopP             float64            `json:"top_p"`
	User             string             `json:"user,omitempty"`

	TestbenchFields
}

// NewCompletionRequest 带默认值的 completion 请求
func NewCompletionRequest(model, prompt string) *CompletionRequest {
	return &CompletionRequest{
		Model:       model,
		Prompt:      prompt,
		MaxTokens:   16,
		N:           1,
		Temperature: 1.0,
		TopP:        1.0,
	}
}

// Wire 实现 Payload
func (r *CompletionRequest) Wire() ([]byte, error) {
	return json.Marshal(r)
}

// ChatMessage chat 消息
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionRequest /v1/chat/completions 请求
type ChatCompletionRequest struct {
	Model               string          `json:"model"`
	Messages            []ChatMessage   `json:"messages"`
	FrequencyPenalty    float64         `json:"frequency_penalty"`
	Logprobs            bool            `json:"logprobs,omitempty"`
	TopLogprobs         *int            `json:"top_logprobs,omitempty"`
	MaxCompletionTokens *int            `json:"max_completion_tokens,omitempty"`
	N                   int             `json:"n"`
	PresencePenalty     float64         `json:"presence_penalty"`
	ResponseFormat      json.RawMessage `json:"response_format,omitempty"`
	Seed                *int            `json:"seed,omitempty"`
	Stop                []string        `json:"stop,omitempty"`
	Stream              bool            `json:"stream"`
	Temperature         float64         `json:"temperature"`
	TopP                float64         `json:"top_p"`
	Tools               json.RawMessage `json:"tools,omitempty"`
	ToolChoice          json.RawMessage `json:"tool_choice,omitempty"`
	User                string          `json:"user,omitempty"`

	TestbenchFields
}

// NewChatCompletionRequest 带默认值的 chat 请求
func NewChatCompletionRequest(model string, messages []ChatMessage) *ChatCompletionRequest {
	return &ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		N:           1,
		Temperature: 1.0,
		TopP:        1.0,
	}
}

// Wire 实现 Payload
func (r *ChatCompletionRequest) Wire() ([]byte, error) {
	return json.Marshal(r)
}

var (
	_ Payload = (*CompletionRequest)(nil)
	_ Payload = (*ChatCompletionRequest)(nil)
)

// Prompt 具体发给供应方的请求
type Prompt struct {
	ID              primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	TaskID          primitive.ObjectID `json:"task_id" bson:"task_id"`
	InstanceID      primitive.ObjectID `json:"instance_id" bson:"instance_id"`
	Data            string             `json:"data" bson:"data"`
	Timeout         int                `json:"timeout" bson:"timeout"`
	Done            bool               `json:"done" bson:"done"`
	CtxLen          int                `json:"ctxlen" bson:"ctxlen"`
	ContextEnc      []int              `json:"context_enc,omitempty" bson:"context_enc,omitempty"`
	ContinuationEnc []int              `json:"continuation_enc,omitempty" bson:"continuation_enc,omitempty"`
	TriggerSession  int64              `json:"trigger_session,omitempty" bson:"trigger_session,omitempty"`
}

// NewPrompt 由 Payload 构建 Prompt 文档
func NewPrompt(taskID, instanceID primitive.ObjectID, p Payload, timeout int) (*Prompt, error) {
	data, err := p.Wire()
	if err != nil {
		return nil, err
	}
	ctxlen, ctxEnc, contEnc := p.Encodings()
	return &Prompt{
		ID:              primitive.NewObjectID(),
		TaskID:          taskID,
		InstanceID:      instanceID,
		Data:            string(data),
		Timeout:         timeout,
		CtxLen:          ctxlen,
		ContextEnc:      ctxEnc,
		ContinuationEnc: contEnc,
	}, nil
}
