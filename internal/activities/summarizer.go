package activities

import (
	"context"

	"go.uber.org/zap"

	"github.com/ashwinyue/ml-testbench/internal/apperr"
	"github.com/ashwinyue/ml-testbench/internal/model"
)

// SummaryResult 汇总 activity 的结果，Success 为 false 时 Message 说明原因
type SummaryResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// GetSupplierIDs 全部供应方 id
func (a *Activities) GetSupplierIDs(ctx context.Context) ([]string, error) {
	ids, err := a.deps.Suppliers.IDs(ctx)
	if err != nil {
		return nil, apperr.ToTemporal(err)
	}
	return hexIDs(ids), nil
}

// SummarizeTaxonomy 计算并保存供应方在分类上的汇总。
// 数据库错误交给 Temporal 重试判断，其余失败以 Success=false 返回
func (a *Activities) SummarizeTaxonomy(ctx context.Context, req model.TaxonomySummaryRequest) (SummaryResult, error) {
	defer AutoHeartbeat(ctx)()

	if _, err := a.deps.Taxonomy.Summarize(ctx, req.SupplierID, req.Taxonomy); err != nil {
		if apperr.Is(err, apperr.Mongodb) {
			return SummaryResult{}, apperr.ToTemporal(err)
		}
		a.logger.Warn("taxonomy summary failed",
			zap.String("supplier_id", req.SupplierID),
			zap.String("taxonomy", req.Taxonomy),
			zap.Error(err))
		return SummaryResult{Message: err.Error()}, nil
	}
	return SummaryResult{Success: true}, nil
}

// SummarizeIdentity 检测重复供应方
func (a *Activities) SummarizeIdentity(ctx context.Context) (SummaryResult, error) {
	defer AutoHeartbeat(ctx)()

	msg, err := a.deps.Identity.Summarize(ctx)
	if err != nil {
		if apperr.Is(err, apperr.Mongodb) {
			return SummaryResult{}, apperr.ToTemporal(err)
		}
		a.logger.Warn("identity summary failed", zap.Error(err))
		return SummaryResult{Message: err.Error()}, nil
	}
	return SummaryResult{Success: true, Message: msg}, nil
}
