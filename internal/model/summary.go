package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// TaxonomyRoot 分类图的保留根节点
const TaxonomyRoot = "root_c"

// TaxonomyNode 分类节点的汇总分数
type TaxonomyNode struct {
	Score      float64 `json:"score" bson:"score"`
	ScoreDev   float64 `json:"score_dev" bson:"score_dev"`
	RunTime    float64 `json:"run_time" bson:"run_time"`
	RunTimeDev float64 `json:"run_time_dev" bson:"run_time_dev"`
	SampleMin  int64   `json:"sample_min" bson:"sample_min"`
}

// TaxonomySummary 某供应方在某分类上的汇总，按 (supplier_id, taxonomy_name) 唯一
type TaxonomySummary struct {
	ID                  primitive.ObjectID      `json:"id" bson:"_id,omitempty"`
	SupplierID          primitive.ObjectID      `json:"supplier_id" bson:"supplier_id"`
	SummaryDate         time.Time               `json:"summary_date" bson:"summary_date"`
	TaxonomyName        string                  `json:"taxonomy_name" bson:"taxonomy_name"`
	TaxonomyNodesScores map[string]TaxonomyNode `json:"taxonomy_nodes_scores" bson:"taxonomy_nodes_scores"`
}

// 身份标记，写入签名缓冲区的 last_signature
const (
	IdentityUniqueOrProxy       = "UNIQUE_OR_PROXY"
	IdentityIgnoreOrDuplicated  = "IGNORE_OR_DUPLICATED"
	IdentityMinSignatures       = 5
	IdentityEqualFracThreshold  = 0.75
	IdentityDefaultNumResponses = 2
)

// IdentitySummary 重复供应方检测结果，按 supplier_id 唯一
type IdentitySummary struct {
	ID          primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	SupplierID  primitive.ObjectID `json:"supplier_id" bson:"supplier_id"`
	SummaryDate time.Time          `json:"summary_date" bson:"summary_date"`
	IsUnique    bool               `json:"is_unique" bson:"is_unique"`
	IsProxy     bool               `json:"is_proxy" bson:"is_proxy"`
	ProxyID     primitive.ObjectID `json:"proxy_id" bson:"proxy_id"`
}

// TaxonomySummaryRequest 分类汇总工作流入参
type TaxonomySummaryRequest struct {
	SupplierID string `json:"supplier_id"`
	Taxonomy   string `json:"taxonomy"`
}
