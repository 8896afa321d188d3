package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"reflect"
	"sort"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ashwinyue/ml-testbench/internal/apperr"
	"github.com/ashwinyue/ml-testbench/internal/model"
)

// insertBatchSize 每批写入的行数
const insertBatchSize = 500

// DatasetRepository 数据集表仓库
type DatasetRepository struct {
	db *gorm.DB
}

// NewDatasetRepository 创建数据集仓库
func NewDatasetRepository(db *gorm.DB) *DatasetRepository {
	return &DatasetRepository{db: db}
}

// WithTx 返回绑定到事务的仓库
func (r *DatasetRepository) WithTx(tx *gorm.DB) *DatasetRepository {
	return &DatasetRepository{db: tx}
}

// CreateTaskTable 创建 task_registry 表，可重复调用
func (r *DatasetRepository) CreateTaskTable(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&model.TaskRegistry{}); err != nil {
		return apperr.Wrap(apperr.SQLError, err, "failed to create task registry table")
	}
	return nil
}

// TableExists 数据集表是否已存在
func (r *DatasetRepository) TableExists(ctx context.Context, table string) bool {
	return r.db.WithContext(ctx).Migrator().HasTable(table)
}

// Column 推断出的列
type Column struct {
	Name string
	Type string
}

// InferColumns 由第一个 split（按字母序）的第一行推断列类型，列按名称排序
func InferColumns(ds *model.Dataset) ([]Column, error) {
	var first model.Row
	for _, split := range ds.SplitNames() {
		if len(ds.Splits[split]) > 0 {
			first = ds.Splits[split][0]
			break
		}
	}
	if first == nil {
		return nil, fmt.Errorf("dataset %s has no rows", ds.TableName())
	}

	names := make([]string, 0, len(first))
	for name := range first {
		if name == model.DatasetIDColumn || name == model.DatasetSplitColumn {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	cols := make([]Column, 0, len(names))
	for _, name := range names {
		cols = append(cols, Column{Name: name, Type: ColumnType(first[name])})
	}
	return cols, nil
}

// ColumnType 将 Go 值映射为 PostgreSQL 列类型，无法识别的类型为 TEXT
func ColumnType(v interface{}) string {
	switch v.(type) {
	case nil:
		return "TEXT"
	case time.Time:
		return "TIMESTAMP"
	case datatypes.Date:
		return "DATE"
	case datatypes.Time:
		return "TIME"
	case *big.Rat:
		return "DECIMAL"
	case []byte:
		return "BYTEA"
	case datatypes.JSON:
		return "JSON"
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool:
		return "BOOL"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "INT"
	case reflect.Float32, reflect.Float64:
		return "REAL"
	case reflect.String:
		return "TEXT"
	case reflect.Map, reflect.Struct:
		return "JSON"
	case reflect.Slice, reflect.Array:
		if rv.Len() == 0 {
			return "TEXT[]"
		}
		elem := ColumnType(rv.Index(0).Interface())
		// 元素本身是对象或列表时整列存 JSON
		if elem == "JSON" || elem == "BYTEA" || strings.HasSuffix(elem, "[]") {
			return "JSON"
		}
		return elem + "[]"
	case reflect.Ptr:
		if rv.IsNil() {
			return "TEXT"
		}
		return ColumnType(rv.Elem().Interface())
	}
	return "TEXT"
}

// BuildCreateTableDDL 生成建表语句，附加 __id、__split 和联合主键
func BuildCreateTableDDL(table string, cols []Column) string {
	parts := make([]string, 0, len(cols)+3)
	for _, c := range cols {
		parts = append(parts, fmt.Sprintf("%s %s", quoteIdent(c.Name), c.Type))
	}
	parts = append(parts,
		fmt.Sprintf("%s BIGINT NOT NULL", quoteIdent(model.DatasetIDColumn)),
		fmt.Sprintf("%s TEXT NOT NULL", quoteIdent(model.DatasetSplitColumn)),
		fmt.Sprintf("PRIMARY KEY (%s, %s)", quoteIdent(model.DatasetIDColumn), quoteIdent(model.DatasetSplitColumn)),
	)
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoteIdent(table), strings.Join(parts, ", "))
}

// CreateDatasetTable 建表并写入所有行，在一个事务内完成。
// __id 跨 split 单调递增，从 0 开始，每个 split 占一段连续区间。
func (r *DatasetRepository) CreateDatasetTable(ctx context.Context, table string, ds *model.Dataset) error {
	cols, err := InferColumns(ds)
	if err != nil {
		return apperr.Wrap(apperr.SQLError, err, "failed to infer columns for %s", table)
	}
	ddl := BuildCreateTableDDL(table, cols)
	if err := ValidateCreateTable(ddl); err != nil {
		return apperr.Wrap(apperr.SQLError, err, "invalid ddl for %s", table)
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(ddl).Error; err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}

		id := 0
		for _, split := range ds.SplitNames() {
			rows := ds.Splits[split]
			if len(rows) == 0 {
				continue
			}
			batch := make([]map[string]interface{}, 0, len(rows))
			for _, row := range rows {
				values := make(map[string]interface{}, len(cols)+2)
				for _, c := range cols {
					v, err := columnValue(row[c.Name], c.Type)
					if err != nil {
						return fmt.Errorf("failed to convert column %s: %w", c.Name, err)
					}
					values[c.Name] = v
				}
				values[model.DatasetIDColumn] = id
				values[model.DatasetSplitColumn] = split
				batch = append(batch, values)
				id++
			}
			if err := tx.Table(table).CreateInBatches(batch, insertBatchSize).Error; err != nil {
				return fmt.Errorf("failed to insert split %s: %w", split, err)
			}
		}
		return nil
	})
	if err != nil {
		return apperr.Wrap(apperr.SQLError, err, "failed to create dataset table %s", table)
	}
	return nil
}

// columnValue 将行值转换为可写入列的值
func columnValue(v interface{}, colType string) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	switch {
	case colType == "JSON":
		if j, ok := v.(datatypes.JSON); ok {
			return j, nil
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return datatypes.JSON(b), nil
	case strings.HasSuffix(colType, "[]"):
		lit, err := ArrayLiteral(v)
		if err != nil {
			return nil, err
		}
		return gorm.Expr("?::text::"+colType, lit), nil
	case colType == "DECIMAL":
		if r, ok := v.(*big.Rat); ok {
			return gorm.Expr("?::text::DECIMAL", r.FloatString(18)), nil
		}
	case colType == "TIME":
		if t, ok := v.(datatypes.Time); ok {
			return gorm.Expr("?::text::TIME", t.String()), nil
		}
	case colType == "TEXT":
		switch x := v.(type) {
		case string:
			return x, nil
		case map[string]interface{}, []interface{}:
			b, err := json.Marshal(x)
			if err != nil {
				return nil, err
			}
			return string(b), nil
		default:
			return fmt.Sprint(x), nil
		}
	}
	return v, nil
}

// ArrayLiteral 生成 PostgreSQL 数组字面量，如 {"a","b"}
func ArrayLiteral(v interface{}) (string, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return "", fmt.Errorf("expected list value, got %T", v)
	}
	elems := make([]string, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		e := rv.Index(i).Interface()
		switch x := e.(type) {
		case nil:
			elems = append(elems, "NULL")
		case string:
			elems = append(elems, quoteArrayElem(x))
		case time.Time:
			elems = append(elems, quoteArrayElem(x.Format(time.RFC3339Nano)))
		case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
			elems = append(elems, fmt.Sprint(x))
		default:
			elems = append(elems, quoteArrayElem(fmt.Sprint(x)))
		}
	}
	return "{" + strings.Join(elems, ",") + "}", nil
}

func quoteArrayElem(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

type splitRangeRow struct {
	Split string
	Min   int
	Max   int
}

// MinMaxIDsPerSplit 返回每个 split 的 __id 区间，空表返回 SQLError
func (r *DatasetRepository) MinMaxIDsPerSplit(ctx context.Context, table string) (map[string]model.SplitRange, error) {
	sql := fmt.Sprintf(
		"SELECT %s AS split, MIN(%s) AS min, MAX(%s) AS max FROM %s GROUP BY %s",
		quoteIdent(model.DatasetSplitColumn),
		quoteIdent(model.DatasetIDColumn),
		quoteIdent(model.DatasetIDColumn),
		quoteIdent(table),
		quoteIdent(model.DatasetSplitColumn),
	)
	var rows []splitRangeRow
	if err := r.db.WithContext(ctx).Raw(sql).Scan(&rows).Error; err != nil {
		return nil, apperr.Wrap(apperr.SQLError, err, "failed to read split ranges of %s", table)
	}
	if len(rows) == 0 {
		return nil, apperr.New(apperr.SQLError, "dataset table %s is empty", table)
	}
	out := make(map[string]model.SplitRange, len(rows))
	for _, row := range rows {
		out[row.Split] = model.SplitRange{Min: row.Min, Max: row.Max}
	}
	return out, nil
}

// FetchRows 按 where 条件读取行，按 __split 分组，组内按 __id 升序
func (r *DatasetRepository) FetchRows(ctx context.Context, table, where string) (map[string][]model.Doc, error) {
	if err := ValidateWhere(where); err != nil {
		return nil, apperr.Wrap(apperr.BadParams, err, "invalid where clause")
	}
	sql := fmt.Sprintf("SELECT row_to_json(t) FROM %s t WHERE %s ORDER BY %s",
		quoteIdent(table), where, quoteIdent(model.DatasetIDColumn))

	rows, err := r.db.WithContext(ctx).Raw(sql).Rows()
	if err != nil {
		return nil, apperr.Wrap(apperr.SQLError, err, "failed to query %s", table)
	}
	defer rows.Close()

	out := map[string][]model.Doc{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, apperr.Wrap(apperr.SQLError, err, "failed to scan row of %s", table)
		}
		doc, err := DecodeDoc(raw)
		if err != nil {
			return nil, apperr.Wrap(apperr.SQLError, err, "failed to decode row of %s", table)
		}
		out[doc.Split] = append(out[doc.Split], doc)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.SQLError, err, "failed to iterate rows of %s", table)
	}
	return out, nil
}

// DecodeDoc 解析 row_to_json 的结果
func DecodeDoc(raw []byte) (model.Doc, error) {
	var fields model.Row
	if err := json.Unmarshal(raw, &fields); err != nil {
		return model.Doc{}, err
	}
	id, ok := fields[model.DatasetIDColumn].(float64)
	if !ok {
		return model.Doc{}, fmt.Errorf("row without %s", model.DatasetIDColumn)
	}
	split, _ := fields[model.DatasetSplitColumn].(string)
	return model.Doc{ID: int(id), Split: split, Fields: fields}, nil
}
