package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ashwinyue/ml-testbench/internal/apperr"
)

// 支持的请求路径
const (
	CompletionPath     = "/v1/completions"
	ChatCompletionPath = "/v1/chat/completions"
)

// DefaultBootstrapIters 默认 bootstrap 迭代次数
const DefaultBootstrapIters = 100000

// 任务状态码
const (
	TaskStatusOK      = 0
	TaskStatusSkipped = 11
)

// RequesterArgs 供应方请求参数
type RequesterArgs struct {
	Address string            `json:"address" bson:"address"`
	Service string            `json:"service" bson:"service"`
	Method  string            `json:"method" bson:"method"`
	Path    string            `json:"path" bson:"path"`
	Headers map[string]string `json:"headers,omitempty" bson:"headers,omitempty"`
}

// ApplyDefaults 填充默认的请求方法、路径和头
func (r *RequesterArgs) ApplyDefaults() {
	if r.Method == "" {
		r.Method = "POST"
	}
	if r.Path == "" {
		r.Path = CompletionPath
	}
	if r.Headers == nil {
		r.Headers = map[string]string{"Content-Type": "application/json"}
	}
}

// RegisterTaskRequest 注册任务请求
type RegisterTaskRequest struct {
	Framework string `json:"framework"`
	Tasks     string `json:"tasks"`
}

// TaskRequest 采样请求，同时是 Task 文档的来源
type TaskRequest struct {
	Framework      string                 `json:"framework"`
	Tasks          string                 `json:"tasks"`
	RequesterArgs  RequesterArgs          `json:"requester_args"`
	Blacklist      []int                  `json:"blacklist,omitempty"`
	Qty            *int                   `json:"qty,omitempty"`
	DocIDs         []int                  `json:"doc_ids,omitempty"`
	LLMArgs        map[string]interface{} `json:"llm_args,omitempty"`
	NumFewshot     *int                   `json:"num_fewshot,omitempty"`
	GenKwargs      string                 `json:"gen_kwargs,omitempty"`
	BootstrapIters *int                   `json:"bootstrap_iters,omitempty"`
	// SystemInstruction chat 请求时作为 system 消息
	SystemInstruction string `json:"system_instruction,omitempty"`
}

// Validate 校验 qty 与 doc_ids 互斥，并规范化字段
func (r *TaskRequest) Validate() error {
	hasQty := r.Qty != nil && *r.Qty != 0
	hasDocIDs := len(r.DocIDs) > 0
	if hasQty == hasDocIDs {
		return fmt.Errorf("expected qty or doc_ids but not both")
	}
	if r.NumFewshot != nil && *r.NumFewshot < 0 {
		return fmt.Errorf("num_fewshot must be >= 0, got %d", *r.NumFewshot)
	}
	if hasQty && *r.Qty < 0 {
		r.Blacklist = nil
		r.DocIDs = nil
	}
	if r.BootstrapIters == nil {
		iters := DefaultBootstrapIters
		r.BootstrapIters = &iters
	}
	r.RequesterArgs.ApplyDefaults()
	if r.RequesterArgs.Path != CompletionPath && r.RequesterArgs.Path != ChatCompletionPath {
		return fmt.Errorf("unsupported path %q", r.RequesterArgs.Path)
	}
	return nil
}

// QtyValue qty 取值，未设置为 0
func (r *TaskRequest) QtyValue() int {
	if r.Qty == nil {
		return 0
	}
	return *r.Qty
}

// ParseGenKwargs 解析 "k=v,k=v" 形式的生成参数，数值和布尔值会被转换
func ParseGenKwargs(s string) map[string]interface{} {
	out := map[string]interface{}{}
	s = strings.TrimSpace(s)
	if s == "" {
		return out
	}
	for _, part := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		switch {
		case strings.EqualFold(v, "true"):
			out[k] = true
		case strings.EqualFold(v, "false"):
			out[k] = false
		default:
			if i, err := strconv.Atoi(v); err == nil {
				out[k] = i
			} else if f, err := strconv.ParseFloat(v, 64); err == nil {
				out[k] = f
			} else {
				out[k] = v
			}
		}
	}
	return out
}

// Task 一次针对某个供应方的评测任务
type Task struct {
	ID             primitive.ObjectID     `json:"id" bson:"_id,omitempty"`
	Framework      string                 `json:"framework" bson:"framework"`
	RequesterArgs  RequesterArgs          `json:"requester_args" bson:"requester_args"`
	Blacklist      []int                  `json:"blacklist" bson:"blacklist"`
	DocIDs         []int                  `json:"doc_ids" bson:"doc_ids"`
	Qty            int                    `json:"qty" bson:"qty"`
	Tasks          string                 `json:"tasks" bson:"tasks"`
	LLMArgs        map[string]interface{} `json:"llm_args,omitempty" bson:"llm_args,omitempty"`
	NumFewshot     *int                   `json:"num_fewshot,omitempty" bson:"num_fewshot,omitempty"`
	GenKwargs      string                 `json:"gen_kwargs,omitempty" bson:"gen_kwargs,omitempty"`
	BootstrapIters int                    `json:"bootstrap_iters" bson:"bootstrap_iters"`
	TotalInstances int                    `json:"total_instances" bson:"total_instances"`
	RequestType    string                 `json:"request_type" bson:"request_type"`
	Done           bool                   `json:"done" bson:"done"`
	Evaluated      bool                   `json:"evaluated" bson:"evaluated"`
	Drop           bool                   `json:"drop" bson:"drop"`
	Status         int                    `json:"status" bson:"status"`
	CreatedAt      time.Time              `json:"created_at" bson:"created_at"`
}

// NewTaskFromRequest 由请求构建 Task 文档
func NewTaskFromRequest(req *TaskRequest, taskName string) *Task {
	iters := DefaultBootstrapIters
	if req.BootstrapIters != nil {
		iters = *req.BootstrapIters
	}
	return &Task{
		ID:             primitive.NewObjectID(),
		Framework:      req.Framework,
		RequesterArgs:  req.RequesterArgs,
		Blacklist:      append([]int{}, req.Blacklist...),
		DocIDs:         append([]int{}, req.DocIDs...),
		Qty:            req.QtyValue(),
		Tasks:          taskName,
		LLMArgs:        req.LLMArgs,
		NumFewshot:     req.NumFewshot,
		GenKwargs:      req.GenKwargs,
		BootstrapIters: iters,
		CreatedAt:      time.Now().UTC(),
	}
}

// ParseTaskID 解析十六进制任务 id，格式错误为 BadParams
func ParseTaskID(taskID string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(taskID)
	if err != nil {
		return primitive.NilObjectID, apperr.Wrap(apperr.BadParams, err, "bad task_id format %q", taskID)
	}
	return id, nil
}

// EvaluationRequest 评估工作流入参
type EvaluationRequest struct {
	TaskID string `json:"task_id"`
}

// TaskData get_task_data 的返回
type TaskData struct {
	Framework string `json:"framework"`
	Tasks     string `json:"tasks"`
}
