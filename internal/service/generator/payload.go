package generator

import (
	"fmt"

	"github.com/ashwinyue/ml-testbench/internal/apperr"
	"github.com/ashwinyue/ml-testbench/internal/model"
	"github.com/ashwinyue/ml-testbench/internal/service/lmeh"
)

// 请求默认值
const (
	DefaultModel      = "pocket_network"
	DefaultMaxGenToks = 256
	// RequestSeed 写入每个请求的采样种子
	RequestSeed = 1234
)

// charsPerToken 没有分词结果时按 4 个字符一个 token 估算
const charsPerToken = 4

// EstimateCtxLen 估算文本的 token 数，向上取整
func EstimateCtxLen(text string) int {
	return (len(text) + charsPerToken - 1) / charsPerToken
}

// ModelName llm_args.model，未设置时为 pocket_network
func ModelName(llmArgs map[string]interface{}) string {
	if name, ok := llmArgs["model"].(string); ok && name != "" {
		return name
	}
	return DefaultModel
}

// BuildPayload 把实例转换为发给供应方的请求体，同时返回最大生成 token 数。
// loglikelihood 只支持 completions 路径：prompt 为 context+continuation，echo 且不生成新 token
func BuildPayload(path, modelName, systemInstruction string, inst *lmeh.Instance) (model.Payload, int, error) {
	switch inst.RequestType {
	case model.RequestLoglikelihood:
		if path != model.CompletionPath {
			return nil, 0, apperr.New(apperr.BadParams,
				"loglikelihood requests require path %s, got %s", model.CompletionPath, path)
		}
		req := model.NewCompletionRequest(modelName, inst.Context()+inst.Continuation())
		logprobs, seed := 1, RequestSeed
		req.Echo = true
		req.Logprobs = &logprobs
		req.MaxTokens = 0
		req.Temperature = 0
		req.Seed = &seed
		req.CtxLen = EstimateCtxLen(inst.Context())
		return req, 0, nil

	case model.RequestGenerateUntil:
		maxTokens := intValue(inst.GenKwargs["max_gen_toks"], DefaultMaxGenToks)
		temperature := floatValue(inst.GenKwargs["temperature"], 0)
		until := stringList(inst.GenKwargs["until"])
		seed := RequestSeed

		if path == model.ChatCompletionPath {
			var messages []model.ChatMessage
			if systemInstruction != "" {
				messages = append(messages, model.ChatMessage{Role: "system", Content: systemInstruction})
			}
			messages = append(messages, model.ChatMessage{Role: "user", Content: inst.Context()})
			req := model.NewChatCompletionRequest(modelName, messages)
			req.MaxCompletionTokens = &maxTokens
			req.Stop = until
			req.Temperature = temperature
			req.Seed = &seed
			req.CtxLen = EstimateCtxLen(systemInstruction + inst.Context())
			return req, maxTokens, nil
		}

		req := model.NewCompletionRequest(modelName, inst.Context())
		req.MaxTokens = maxTokens
		req.Stop = until
		req.Temperature = temperature
		req.Seed = &seed
		req.CtxLen = EstimateCtxLen(inst.Context())
		return req, maxTokens, nil

	default:
		return nil, 0, apperr.New(apperr.LmehGenerator, "unsupported request type %q", inst.RequestType)
	}
}

// MergeGenKwargs 请求级别的生成参数覆盖任务定义
func MergeGenKwargs(base, override map[string]any) map[string]any {
	if len(override) == 0 {
		return base
	}
	out := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

func intValue(v interface{}, def int) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return def
}

func floatValue(v interface{}, def float64) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return def
}

// stringList until 可以是单个字符串或字符串列表
func stringList(v interface{}) []string {
	switch s := v.(type) {
	case nil:
		return nil
	case string:
		return []string{s}
	case []string:
		return append([]string(nil), s...)
	case []interface{}:
		out := make([]string, 0, len(s))
		for _, item := range s {
			out = append(out, fmt.Sprint(item))
		}
		return out
	}
	return nil
}
