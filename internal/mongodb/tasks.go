package mongodb

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ashwinyue/ml-testbench/internal/apperr"
	"github.com/ashwinyue/ml-testbench/internal/model"
)

// 查询重试参数
const (
	queryRetries = 3
	queryWait    = 2 * time.Second
)

// TaskRepository tasks、instances、prompts、responses 的访问
type TaskRepository struct {
	c *Client
}

// NewTaskRepository 创建任务仓库
func NewTaskRepository(c *Client) *TaskRepository {
	return &TaskRepository{c: c}
}

// InsertTaskTree 在一个事务中写入 task、instances 和 prompts
func (r *TaskRepository) InsertTaskTree(ctx context.Context, task *model.Task, instances []*model.Instance, prompts []*model.Prompt) error {
	instanceDocs := make([]interface{}, 0, len(instances))
	for _, inst := range instances {
		instanceDocs = append(instanceDocs, inst)
	}
	promptDocs := make([]interface{}, 0, len(prompts))
	for _, p := range prompts {
		promptDocs = append(promptDocs, p)
	}

	return r.c.WithTransaction(ctx, func(sc mongo.SessionContext) error {
		if _, err := r.c.Collection(model.TasksCollection).InsertOne(sc, task); err != nil {
			return apperr.Wrap(apperr.Mongodb, err, "failed to insert task")
		}
		if err := InsertMany(sc, r.c.Collection(model.InstancesCollection), instanceDocs); err != nil {
			return err
		}
		return InsertMany(sc, r.c.Collection(model.PromptsCollection), promptDocs)
	})
}

// GetTask 读取任务，不存在时返回 TaskNotFound
func (r *TaskRepository) GetTask(ctx context.Context, id primitive.ObjectID) (*model.Task, error) {
	var task model.Task
	err := r.c.Collection(model.TasksCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&task)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.New(apperr.TaskNotFound, "task %s not found", id.Hex())
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Mongodb, err, "failed to read task %s", id.Hex())
	}
	return &task, nil
}

// DoneTaskIDs 已完成但未评估的任务
func (r *TaskRepository) DoneTaskIDs(ctx context.Context) ([]primitive.ObjectID, error) {
	filter := bson.M{"done": true, "evaluated": false}
	return r.findIDs(ctx, filter)
}

// StaleTaskIDs 被跳过或已过期的任务：标记为 drop、状态为 11，
// 或最后一次触发的 session 早于 currentHeight-blocksAgo
func (r *TaskRepository) StaleTaskIDs(ctx context.Context, currentHeight, blocksAgo int64) ([]primitive.ObjectID, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"done": false, "evaluated": false}}},
		{{Key: "$lookup", Value: bson.M{
			"from":         model.PromptsCollection,
			"localField":   "_id",
			"foreignField": "task_id",
			"as":           "prompts",
		}}},
		{{Key: "$project", Value: bson.M{
			"drop":         1,
			"status":       1,
			"last_trigger": bson.M{"$max": "$prompts.trigger_session"},
		}}},
		{{Key: "$match", Value: bson.M{"$or": bson.A{
			bson.M{"drop": true},
			bson.M{"status": model.TaskStatusSkipped},
			bson.M{"last_trigger": bson.M{"$gt": 0, "$lt": currentHeight - blocksAgo}},
		}}}},
		{{Key: "$project", Value: bson.M{"_id": 1}}},
	}
	var rows []struct {
		ID primitive.ObjectID `bson:"_id"`
	}
	if err := r.c.Query(ctx, model.TasksCollection, pipeline, queryRetries, queryWait, &rows); err != nil {
		return nil, err
	}
	ids := make([]primitive.ObjectID, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	return ids, nil
}

// MarkSkipped 将任务标记为完成并记录跳过状态
func (r *TaskRepository) MarkSkipped(ctx context.Context, id primitive.ObjectID) error {
	update := bson.M{"$set": bson.M{"done": true, "status": model.TaskStatusSkipped}}
	if _, err := r.c.Collection(model.TasksCollection).UpdateByID(ctx, id, update); err != nil {
		return apperr.Wrap(apperr.Mongodb, err, "failed to mark task %s as done", id.Hex())
	}
	return nil
}

// SetEvaluated 在会话中设置 evaluated=true
func SetEvaluated(ctx context.Context, c *Client, id primitive.ObjectID) error {
	update := bson.M{"$set": bson.M{"evaluated": true}}
	if _, err := c.Collection(model.TasksCollection).UpdateByID(ctx, id, update); err != nil {
		return apperr.Wrap(apperr.Mongodb, err, "failed to mark task %s as evaluated", id.Hex())
	}
	return nil
}

func (r *TaskRepository) findIDs(ctx context.Context, filter interface{}) ([]primitive.ObjectID, error) {
	opts := options.Find().SetProjection(bson.M{"_id": 1})
	cursor, err := r.c.Collection(model.TasksCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, apperr.Wrap(apperr.Mongodb, err, "failed to find tasks")
	}
	var rows []struct {
		ID primitive.ObjectID `bson:"_id"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, apperr.Wrap(apperr.Mongodb, err, "failed to decode tasks")
	}
	ids := make([]primitive.ObjectID, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	return ids, nil
}

// ResponseTreeRow tasks ⋈ instances ⋈ prompts ⋈ responses 的一行
type ResponseTreeRow struct {
	TaskID   primitive.ObjectID `bson:"_id"`
	Instance model.Instance     `bson:"instance"`
	Prompt   model.Prompt       `bson:"prompt"`
	Response model.Response     `bson:"response"`
}

// ResponseTreePipeline 按外键连接四个集合，按 (doc_id, idx) 排序
func ResponseTreePipeline(taskID primitive.ObjectID) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"_id": taskID}}},
		{{Key: "$lookup", Value: bson.M{
			"from":         model.InstancesCollection,
			"localField":   "_id",
			"foreignField": "task_id",
			"as":           "instance",
		}}},
		{{Key: "$unwind", Value: bson.M{"path": "$instance"}}},
		{{Key: "$lookup", Value: bson.M{
			"from":         model.PromptsCollection,
			"localField":   "instance._id",
			"foreignField": "instance_id",
			"as":           "prompt",
		}}},
		{{Key: "$unwind", Value: bson.M{"path": "$prompt"}}},
		{{Key: "$lookup", Value: bson.M{
			"from":         model.ResponsesCollection,
			"localField":   "prompt._id",
			"foreignField": "prompt_id",
			"as":           "response",
		}}},
		{{Key: "$unwind", Value: bson.M{"path": "$response"}}},
		{{Key: "$sort", Value: bson.D{
			{Key: "instance.doc_id", Value: 1},
			{Key: "instance.idx", Value: 1},
		}}},
		{{Key: "$project", Value: bson.M{"_id": 1, "instance": 1, "prompt": 1, "response": 1}}},
	}
}

// ResponseTree 读取任务的完整响应树，没有可连接的行时返回 TaskNotFound
func (r *TaskRepository) ResponseTree(ctx context.Context, taskID primitive.ObjectID) ([]ResponseTreeRow, error) {
	var rows []ResponseTreeRow
	if err := r.c.Query(ctx, model.TasksCollection, ResponseTreePipeline(taskID), queryRetries, queryWait, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperr.New(apperr.TaskNotFound, "task %s has no responses", taskID.Hex())
	}
	return rows, nil
}
