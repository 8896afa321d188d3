package repository

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// quoteIdent 以双引号引用标识符
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// parseSingle 使用 PostgreSQL 解析器解析，要求恰好一条语句
func parseSingle(sql string) (*pg_query.Node, error) {
	result, err := pg_query.Parse(sql)
	if err != nil {
		return nil, fmt.Errorf("failed to parse sql: %w", err)
	}
	if len(result.Stmts) == 0 {
		return nil, fmt.Errorf("empty sql statement")
	}
	if len(result.Stmts) > 1 {
		return nil, fmt.Errorf("expected one sql statement, got %d", len(result.Stmts))
	}
	return result.Stmts[0].Stmt, nil
}

// ValidateCreateTable 校验建表语句
func ValidateCreateTable(ddl string) error {
	stmt, err := parseSingle(ddl)
	if err != nil {
		return err
	}
	create := stmt.GetCreateStmt()
	if create == nil {
		return fmt.Errorf("expected CREATE TABLE statement")
	}
	if len(create.TableElts) == 0 {
		return fmt.Errorf("CREATE TABLE without columns")
	}
	return nil
}

// ValidateSelect 校验只读查询，用于检查拼接出的 WHERE 子句
func ValidateSelect(sql string) error {
	stmt, err := parseSingle(sql)
	if err != nil {
		return err
	}
	sel := stmt.GetSelectStmt()
	if sel == nil {
		return fmt.Errorf("only SELECT statements are allowed")
	}
	if sel.IntoClause != nil {
		return fmt.Errorf("SELECT INTO is not allowed")
	}
	return nil
}

// ValidateWhere 校验 WHERE 子句可以作为单条 SELECT 的条件
func ValidateWhere(where string) error {
	if strings.TrimSpace(where) == "" {
		return fmt.Errorf("empty where clause")
	}
	return ValidateSelect("SELECT 1 FROM t WHERE " + where)
}
