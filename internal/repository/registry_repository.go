package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ashwinyue/ml-testbench/internal/apperr"
	"github.com/ashwinyue/ml-testbench/internal/model"
)

// RegistryRepository 任务注册表仓库
type RegistryRepository struct {
	db *gorm.DB
}

// NewRegistryRepository 创建注册表仓库
func NewRegistryRepository(db *gorm.DB) *RegistryRepository {
	return &RegistryRepository{db: db}
}

// WithTx 返回绑定到事务的仓库
func (r *RegistryRepository) WithTx(tx *gorm.DB) *RegistryRepository {
	return &RegistryRepository{db: tx}
}

// Register 登记任务与数据集表，已存在时不做任何事
func (r *RegistryRepository) Register(ctx context.Context, taskName, table string) error {
	entry := &model.TaskRegistry{TaskName: taskName, DatasetTableName: table}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(entry).Error
	if err != nil {
		return apperr.Wrap(apperr.SQLError, err, "failed to register task %s", taskName)
	}
	return nil
}

// Checked 任务是否已登记
func (r *RegistryRepository) Checked(ctx context.Context, taskName string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.TaskRegistry{}).
		Where("task_name = ?", taskName).
		Count(&count).Error
	if err != nil {
		return false, apperr.Wrap(apperr.SQLError, err, "failed to check task %s", taskName)
	}
	return count > 0, nil
}

// DatasetTable 返回任务对应的数据集表名
func (r *RegistryRepository) DatasetTable(ctx context.Context, taskName string) (string, error) {
	var entry model.TaskRegistry
	err := r.db.WithContext(ctx).Where("task_name = ?", taskName).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", apperr.New(apperr.TaskNotFound, "task %s is not registered", taskName)
	}
	if err != nil {
		return "", apperr.Wrap(apperr.SQLError, err, "failed to read task %s", taskName)
	}
	return entry.DatasetTableName, nil
}

// List 列出所有已登记的任务
func (r *RegistryRepository) List(ctx context.Context) ([]model.TaskRegistry, error) {
	var entries []model.TaskRegistry
	if err := r.db.WithContext(ctx).Order("task_name").Find(&entries).Error; err != nil {
		return nil, apperr.Wrap(apperr.SQLError, err, "failed to list registered tasks")
	}
	return entries, nil
}
