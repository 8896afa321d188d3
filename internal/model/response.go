package model

import (
	"encoding/json"
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Response relayer 写入的供应方响应
type Response struct {
	ID            primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	PromptID      primitive.ObjectID `json:"prompt_id" bson:"prompt_id"`
	SupplierID    primitive.ObjectID `json:"supplier_id,omitempty" bson:"supplier_id,omitempty"`
	SessionHeight int64              `json:"session_height" bson:"session_height"`
	Height        int64              `json:"height" bson:"height"`
	Ok            bool               `json:"ok" bson:"ok"`
	Response      string             `json:"response" bson:"response"`
	Error         string             `json:"error" bson:"error"`
	ErrorCode     int                `json:"error_code" bson:"error_code"`
	// ResponseTime 毫秒
	ResponseTime int64 `json:"response_time" bson:"response_time"`
}

// CompletionLogprobs completion 的 logprobs 字段
type CompletionLogprobs struct {
	TextOffset    []int                `json:"text_offset"`
	TokenLogprobs []*float64           `json:"token_logprobs"`
	Tokens        []string             `json:"tokens"`
	TopLogprobs   []map[string]float64 `json:"top_logprobs"`
}

// CompletionChoice completion 的一个候选
type CompletionChoice struct {
	Index        int                 `json:"index"`
	Text         string              `json:"text"`
	Logprobs     *CompletionLogprobs `json:"logprobs,omitempty"`
	FinishReason string              `json:"finish_reason,omitempty"`
}

// CompletionResponse /v1/completions 响应
type CompletionResponse struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []CompletionChoice `json:"choices"`
}

// ChatChoice chat 的一个候选
type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason,omitempty"`
}

// ChatCompletionResponse /v1/chat/completions 响应
type ChatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
}

// DecodeCompletion 解析 completion 响应体
func DecodeCompletion(body string) (*CompletionResponse, error) {
	var resp CompletionResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return nil, fmt.Errorf("failed to decode completion response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("completion response without choices")
	}
	return &resp, nil
}

// DecodeChatCompletion 解析 chat 响应体
func DecodeChatCompletion(body string) (*ChatCompletionResponse, error) {
	var resp ChatCompletionResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return nil, fmt.Errorf("failed to decode chat completion response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion response without choices")
	}
	return &resp, nil
}

// GeneratedText 按路径解析生成文本
func GeneratedText(path, body string) (string, error) {
	if path == ChatCompletionPath {
		resp, err := DecodeChatCompletion(body)
		if err != nil {
			return "", err
		}
		return resp.Choices[0].Message.Content, nil
	}
	resp, err := DecodeCompletion(body)
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Text, nil
}
