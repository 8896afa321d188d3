package model

import "sort"

// Row 数据集中的一行，键为列名
type Row map[string]interface{}

// Dataset 待物化的数据集，Splits 的键为 split 名称
type Dataset struct {
	Path   string           `json:"path"`
	Name   string           `json:"name"`
	Splits map[string][]Row `json:"splits"`
}

// TableName 数据集表名
func (d *Dataset) TableName() string {
	return DatasetTableName(d.Path, d.Name)
}

// SplitNames 按字母序返回 split 名称
func (d *Dataset) SplitNames() []string {
	names := make([]string, 0, len(d.Splits))
	for name := range d.Splits {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NumRows 所有 split 的行数之和
func (d *Dataset) NumRows() int {
	n := 0
	for _, rows := range d.Splits {
		n += len(rows)
	}
	return n
}

// Doc 从数据集表读回的一行
type Doc struct {
	ID     int
	Split  string
	Fields Row
}

// Get 读取字段
func (d Doc) Get(key string) interface{} {
	return d.Fields[key]
}

// String 读取字符串字段，不存在或类型不符时返回空串
func (d Doc) String(key string) string {
	s, _ := d.Fields[key].(string)
	return s
}
