package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/ashwinyue/ml-testbench/internal/model"
)

// Repositories 仓库集合，用于统一管理所有仓库
type Repositories struct {
	DB       *gorm.DB // 直接访问数据库
	Dataset  *DatasetRepository
	Registry *RegistryRepository
}

// NewRepositories 创建所有仓库
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		DB:       db,
		Dataset:  NewDatasetRepository(db),
		Registry: NewRegistryRepository(db),
	}
}

// Transaction 在一个事务中执行 fn，fn 返回错误时回滚
func (r *Repositories) Transaction(ctx context.Context, fn func(tx *Repositories) error) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repositories{
			DB:       tx,
			Dataset:  r.Dataset.WithTx(tx),
			Registry: r.Registry.WithTx(tx),
		})
	})
}

// MaterializeTask 在一个事务中建数据集表、写入行并登记任务
func (r *Repositories) MaterializeTask(ctx context.Context, taskName string, ds *model.Dataset) error {
	table := ds.TableName()
	return r.Transaction(ctx, func(tx *Repositories) error {
		// 多个任务可以共用一张数据集表
		if !tx.Dataset.TableExists(ctx, table) {
			if err := tx.Dataset.CreateDatasetTable(ctx, table, ds); err != nil {
				return err
			}
		}
		return tx.Registry.Register(ctx, taskName, table)
	})
}
