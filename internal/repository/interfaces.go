// Package repository 定义关系库的数据访问接口
// 接口抽象使依赖注入和单元测试成为可能
package repository

import (
	"context"

	"github.com/ashwinyue/ml-testbench/internal/model"
)

// DatasetStore 数据集表的只读访问，供采样和 prompt 生成使用
type DatasetStore interface {
	MinMaxIDsPerSplit(ctx context.Context, table string) (map[string]model.SplitRange, error)
	FetchRows(ctx context.Context, table, where string) (map[string][]model.Doc, error)
}

// RegistryStore 任务注册表访问接口
type RegistryStore interface {
	Checked(ctx context.Context, taskName string) (bool, error)
	DatasetTable(ctx context.Context, taskName string) (string, error)
}

// Materializer 物化数据集并登记任务
type Materializer interface {
	MaterializeTask(ctx context.Context, taskName string, ds *model.Dataset) error
}

// 确保实现了接口
var (
	_ DatasetStore  = (*DatasetRepository)(nil)
	_ RegistryStore = (*RegistryRepository)(nil)
	_ Materializer  = (*Repositories)(nil)
)
