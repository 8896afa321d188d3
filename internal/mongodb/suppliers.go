package mongodb

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ashwinyue/ml-testbench/internal/apperr"
	"github.com/ashwinyue/ml-testbench/internal/model"
)

// SupplierRepository 供应方集合
type SupplierRepository struct {
	c *Client
}

// NewSupplierRepository 创建供应方仓库
func NewSupplierRepository(c *Client) *SupplierRepository {
	return &SupplierRepository{c: c}
}

// List 列出全部供应方，按 _id 排序
func (r *SupplierRepository) List(ctx context.Context) ([]model.Supplier, error) {
	opts := options.Find().SetSort(bson.M{"_id": 1})
	cursor, err := r.c.Collection(model.SuppliersCollection).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, apperr.Wrap(apperr.Mongodb, err, "failed to list suppliers")
	}
	var out []model.Supplier
	if err := cursor.All(ctx, &out); err != nil {
		return nil, apperr.Wrap(apperr.Mongodb, err, "failed to decode suppliers")
	}
	return out, nil
}

// IDs 列出全部供应方 id
func (r *SupplierRepository) IDs(ctx context.Context) ([]primitive.ObjectID, error) {
	suppliers, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]primitive.ObjectID, 0, len(suppliers))
	for _, s := range suppliers {
		ids = append(ids, s.ID)
	}
	return ids, nil
}

// CurrentHeight 供应方中最大的 last_seen_height，没有供应方时为 0
func (r *SupplierRepository) CurrentHeight(ctx context.Context) (int64, error) {
	opts := options.FindOne().SetSort(bson.M{"last_seen_height": -1})
	var s model.Supplier
	err := r.c.Collection(model.SuppliersCollection).FindOne(ctx, bson.M{}, opts).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, apperr.Wrap(apperr.Mongodb, err, "failed to read current height")
	}
	return s.LastSeenHeight, nil
}
