package mongodb

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ashwinyue/ml-testbench/internal/apperr"
	"github.com/ashwinyue/ml-testbench/internal/model"
)

// ResultRepository results、tokenizers、configs 的写入
type ResultRepository struct {
	c *Client
}

// NewResultRepository 创建结果仓库
func NewResultRepository(c *Client) *ResultRepository {
	return &ResultRepository{c: c}
}

// SaveNumerical 按 result_data.task_id 替换写入数值结果，并在同一事务中设置 evaluated
func (r *ResultRepository) SaveNumerical(ctx context.Context, res *model.NumericalResult) error {
	res.ID = primitive.NilObjectID
	taskID := res.ResultData.TaskID
	return r.c.WithTransaction(ctx, func(sc mongo.SessionContext) error {
		if err := r.replaceResult(sc, taskID, res); err != nil {
			return err
		}
		return SetEvaluated(sc, r.c, taskID)
	})
}

// SaveSignature 替换写入签名结果、设置 evaluated，并插入不存在的 tokenizer/config
func (r *ResultRepository) SaveSignature(ctx context.Context, res *model.SignatureResult, entries ...model.HashedEntry) error {
	res.ID = primitive.NilObjectID
	taskID := res.ResultData.TaskID
	return r.c.WithTransaction(ctx, func(sc mongo.SessionContext) error {
		for _, e := range entries {
			if err := InsertIfAbsent(sc, r.c.Collection(e.CollectionName()), e.HashValue(), e); err != nil {
				return err
			}
		}
		if err := r.replaceResult(sc, taskID, res); err != nil {
			return err
		}
		return SetEvaluated(sc, r.c, taskID)
	})
}

func (r *ResultRepository) replaceResult(ctx context.Context, taskID primitive.ObjectID, doc interface{}) error {
	filter := bson.M{"result_data.task_id": taskID}
	return FindOneAndReplace(ctx, r.c.Collection(model.ResultsCollection), filter, doc, nil)
}

// InsertIfAbsent 以 hash 为键，仅在不存在时插入
func InsertIfAbsent(ctx context.Context, coll *mongo.Collection, hash string, doc interface{}) error {
	update := bson.M{"$setOnInsert": doc}
	_, err := coll.UpdateOne(ctx, bson.M{"hash": hash}, update, options.Update().SetUpsert(true))
	if err != nil {
		return apperr.Wrap(apperr.Mongodb, err, "failed to insert %s entry %s", coll.Name(), hash)
	}
	return nil
}
