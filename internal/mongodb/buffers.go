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

// BufferRepository 数值与签名缓冲区的访问
type BufferRepository struct {
	c *Client
}

// NewBufferRepository 创建缓冲区仓库
func NewBufferRepository(c *Client) *BufferRepository {
	return &BufferRepository{c: c}
}

// NumericalBuffers 读取 (supplier, framework, task) 的数值缓冲区，正常情况下至多一个
func (r *BufferRepository) NumericalBuffers(ctx context.Context, supplierID primitive.ObjectID, framework, task string) ([]model.NumericalBuffer, error) {
	filter := bson.M{
		"task_data.supplier_id": supplierID,
		"task_data.framework":   framework,
		"task_data.task":        task,
	}
	return findAll[model.NumericalBuffer](ctx, r.c.Collection(model.BuffersNumericalCollection), filter)
}

// SupplierNumericalBuffers 读取某供应方的全部数值缓冲区
func (r *BufferRepository) SupplierNumericalBuffers(ctx context.Context, supplierID primitive.ObjectID) ([]model.NumericalBuffer, error) {
	filter := bson.M{"task_data.supplier_id": supplierID}
	return findAll[model.NumericalBuffer](ctx, r.c.Collection(model.BuffersNumericalCollection), filter)
}

// SignatureBuffers 读取某签名任务的全部缓冲区，按 supplier_id 排序
func (r *BufferRepository) SignatureBuffers(ctx context.Context, framework, task string) ([]model.SignatureBuffer, error) {
	filter := bson.M{
		"task_data.framework": framework,
		"task_data.task":      task,
	}
	opts := options.Find().SetSort(bson.M{"task_data.supplier_id": 1})
	return findAll[model.SignatureBuffer](ctx, r.c.Collection(model.BuffersSignaturesCollection), filter, opts)
}

// SetLastSignature 在会话中更新签名缓冲区的 last_signature
func SetLastSignature(ctx context.Context, c *Client, bufferID primitive.ObjectID, value string) error {
	update := bson.M{"$set": bson.M{"last_signature": value}}
	if _, err := c.Collection(model.BuffersSignaturesCollection).UpdateByID(ctx, bufferID, update); err != nil {
		return apperr.Wrap(apperr.Mongodb, err, "failed to update signature buffer %s", bufferID.Hex())
	}
	return nil
}

func findAll[T any](ctx context.Context, coll *mongo.Collection, filter interface{}, opts ...*options.FindOptions) ([]T, error) {
	cursor, err := coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, apperr.Wrap(apperr.Mongodb, err, "failed to query %s", coll.Name())
	}
	var out []T
	if err := cursor.All(ctx, &out); err != nil {
		return nil, apperr.Wrap(apperr.Mongodb, err, "failed to decode %s", coll.Name())
	}
	return out, nil
}
