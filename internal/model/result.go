package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// 结果状态码
const (
	ResultStatusOK       = 0
	ResultStatusNoData   = 1
	ResultStatusFailed   = 11
	SampleStatusDecode   = 1
	SampleStatusLoadFail = 11
)

// ResultData 结果的公共头
type ResultData struct {
	TaskID       primitive.ObjectID `json:"task_id" bson:"task_id"`
	NumSamples   int                `json:"num_samples" bson:"num_samples"`
	Status       int                `json:"status" bson:"status"`
	ResultHeight int64              `json:"result_height" bson:"result_height"`
	ResultTime   time.Time          `json:"result_time" bson:"result_time"`
}

// NumericSample 数值样本
type NumericSample struct {
	ID         int     `json:"id" bson:"id"`
	Score      float64 `json:"score" bson:"score"`
	RunTime    float64 `json:"run_time" bson:"run_time"`
	StatusCode int     `json:"status_code" bson:"status_code"`
	ErrorStr   string  `json:"error_str" bson:"error_str"`

	// Bypass 任务没有可计分的指标，Score 无意义
	Bypass bool `json:"bypass,omitempty" bson:"bypass,omitempty"`
}

// MetricScore 持久化的聚合指标，nil 表示 N/A
type MetricScore struct {
	Value  *float64 `json:"value" bson:"value"`
	Stderr *float64 `json:"stderr" bson:"stderr"`
}

// SignatureSample 签名样本
type SignatureSample struct {
	ID         int    `json:"id" bson:"id"`
	Signature  string `json:"signature" bson:"signature"`
	StatusCode int    `json:"status_code" bson:"status_code"`
	ErrorStr   string `json:"error_str" bson:"error_str"`
}

// NumericalResult 数值结果
type NumericalResult struct {
	ID         primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	ResultData ResultData         `json:"result_data" bson:"result_data"`
	Scores     []NumericSample    `json:"scores" bson:"scores"`

	// 以下为任务级汇总，键为 "指标,过滤链"
	Task       string                 `json:"task,omitempty" bson:"task,omitempty"`
	Group      string                 `json:"group,omitempty" bson:"group,omitempty"`
	Version    string                 `json:"version,omitempty" bson:"version,omitempty"`
	NumFewshot int                    `json:"n-shot" bson:"n-shot"`
	Metrics    map[string]MetricScore `json:"metrics,omitempty" bson:"metrics,omitempty"`
	Groups     map[string]GroupScore  `json:"groups,omitempty" bson:"groups,omitempty"`
}

// GroupScore 同组子任务合并后的指标
type GroupScore struct {
	Samples    int                    `json:"samples" bson:"samples"`
	NumFewshot int                    `json:"n-shot" bson:"n-shot"`
	Metrics    map[string]MetricScore `json:"metrics" bson:"metrics"`
}

// SignatureResult 签名结果
type SignatureResult struct {
	ID         primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	ResultData ResultData         `json:"result_data" bson:"result_data"`
	Signatures []SignatureSample  `json:"signatures" bson:"signatures"`
}

// FailedResultData 失败结果：status 11、num_samples 0、result_height -1
func FailedResultData(taskID primitive.ObjectID) ResultData {
	return ResultData{
		TaskID:       taskID,
		NumSamples:   0,
		Status:       ResultStatusFailed,
		ResultHeight: -1,
		ResultTime:   time.Now().UTC(),
	}
}

// TokenizerEntry 按内容哈希寻址的 tokenizer
type TokenizerEntry struct {
	ID        primitive.ObjectID     `json:"id" bson:"_id,omitempty"`
	Hash      string                 `json:"hash" bson:"hash"`
	Tokenizer map[string]interface{} `json:"tokenizer" bson:"tokenizer"`
}

// ConfigEntry 按内容哈希寻址的模型配置
type ConfigEntry struct {
	ID     primitive.ObjectID     `json:"id" bson:"_id,omitempty"`
	Hash   string                 `json:"hash" bson:"hash"`
	Config map[string]interface{} `json:"config" bson:"config"`
}

// HashedEntry 按哈希去重保存的内容
type HashedEntry interface {
	CollectionName() string
	HashValue() string
}

// CollectionName 实现 HashedEntry
func (e *TokenizerEntry) CollectionName() string { return TokenizersCollection }

// HashValue 实现 HashedEntry
func (e *TokenizerEntry) HashValue() string { return e.Hash }

// CollectionName 实现 HashedEntry
func (e *ConfigEntry) CollectionName() string { return ConfigsCollection }

// HashValue 实现 HashedEntry
func (e *ConfigEntry) HashValue() string { return e.Hash }
