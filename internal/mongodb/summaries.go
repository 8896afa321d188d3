package mongodb

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/ashwinyue/ml-testbench/internal/model"
)

// SummaryRepository 分类汇总与身份汇总
type SummaryRepository struct {
	c *Client
}

// NewSummaryRepository 创建汇总仓库
func NewSummaryRepository(c *Client) *SummaryRepository {
	return &SummaryRepository{c: c}
}

// UpsertTaxonomySummary 按 (supplier_id, taxonomy_name) 替换写入
func (r *SummaryRepository) UpsertTaxonomySummary(ctx context.Context, s *model.TaxonomySummary) error {
	s.ID = primitive.NilObjectID
	filter := bson.M{"supplier_id": s.SupplierID, "taxonomy_name": s.TaxonomyName}
	return FindOneAndReplace(ctx, r.c.Collection(model.TaxonomySummariesCollection), filter, s, nil)
}

// IdentityUpdate 一个供应方的身份汇总以及要写入其签名缓冲区的标记
type IdentityUpdate struct {
	Summary  model.IdentitySummary
	BufferID primitive.ObjectID
	Flag     string
}

// SaveIdentity 在一个事务中写入身份汇总并更新签名缓冲区
func (r *SummaryRepository) SaveIdentity(ctx context.Context, updates []IdentityUpdate) error {
	return r.c.WithTransaction(ctx, func(sc mongo.SessionContext) error {
		coll := r.c.Collection(model.IdentitySummariesCollection)
		for i := range updates {
			s := updates[i].Summary
			s.ID = primitive.NilObjectID
			if err := FindOneAndReplace(sc, coll, bson.M{"supplier_id": s.SupplierID}, &s, nil); err != nil {
				return err
			}
			if err := SetLastSignature(sc, r.c, updates[i].BufferID, updates[i].Flag); err != nil {
				return err
			}
		}
		return nil
	})
}
