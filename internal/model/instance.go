package model

import "go.mongodb.org/mongo-driver/bson/primitive"

// 请求类型
const (
	RequestLoglikelihood = "loglikelihood"
	RequestGenerateUntil = "generate_until"
)

// InstanceMetadata 实例元信息 (task_name, doc_id, repeats)
type InstanceMetadata struct {
	TaskName string `json:"task_name" bson:"task_name"`
	DocID    int    `json:"doc_id" bson:"doc_id"`
	Repeats  int    `json:"repeats" bson:"repeats"`
}

// Instance 任务下的一个评测单元
type Instance struct {
	ID          primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	TaskID      primitive.ObjectID `json:"task_id" bson:"task_id"`
	DocID       int                `json:"doc_id" bson:"doc_id"`
	Idx         int                `json:"idx" bson:"idx"`
	RequestType string             `json:"request_type" bson:"request_type"`
	// Arguments loglikelihood 为 [context, continuation]，generate_until 为 [context]
	Arguments []string         `json:"arguments" bson:"arguments"`
	GenKwargs map[string]any   `json:"gen_kwargs,omitempty" bson:"gen_kwargs,omitempty"`
	Repeats   int              `json:"repeats" bson:"repeats"`
	Metadata  InstanceMetadata `json:"metadata" bson:"metadata"`
	Done      bool             `json:"done" bson:"done"`
}
