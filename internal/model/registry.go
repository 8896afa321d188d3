package model

import "strings"

// TaskRegistry 已注册任务与数据集表的映射
type TaskRegistry struct {
	TaskName         string `json:"task_name" gorm:"column:task_name;type:text;primaryKey"`
	DatasetTableName string `json:"dataset_table_name" gorm:"column:dataset_table_name;type:text"`
}

// TableName 指定表名
func (TaskRegistry) TableName() string {
	return "task_registry"
}

// 数据集表的固定列
const (
	DatasetIDColumn    = "__id"
	DatasetSplitColumn = "__split"
)

// DatasetTableName 数据集表名：dataset_path[--dataset_name]，"." 替换为 "_"
func DatasetTableName(path, name string) string {
	table := path
	if name != "" {
		table = path + "--" + name
	}
	return strings.ReplaceAll(table, ".", "_")
}

// SplitRange 某个 split 在数据集表中的 __id 区间（闭区间）
type SplitRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Contains 判断 id 是否在区间内
func (r SplitRange) Contains(id int) bool {
	return id >= r.Min && id <= r.Max
}

// Size 区间大小
func (r SplitRange) Size() int {
	return r.Max - r.Min + 1
}
