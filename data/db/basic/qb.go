package basic

import (
	"strconv"
	"strings"
)

// SelectBuilder 最小 SELECT 构建器，用于带可选过滤条件的列表查询
type SelectBuilder struct {
	cols  []string
	table string
	where []string
	args  []any
	order []string
	limit int
}

// isSafeIdentifier 判断简单标识符（可带点限定）是否只包含 [A-Za-z0-9_] 且不以数字开头
func isSafeIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for _, part := range strings.Split(name, ".") {
		if part == "" {
			return false
		}
		for i := 0; i < len(part); i++ {
			ch := part[i]
			letter := (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_'
			digit := ch >= '0' && ch <= '9'
			if !letter && (i == 0 || !digit) {
				return false
			}
		}
	}
	return true
}

func NewSelect(columns ...string) *SelectBuilder {
	b := &SelectBuilder{cols: []string{"*"}}
	if len(columns) > 0 {
		b.Select(columns...)
	}
	return b
}

func (b *SelectBuilder) Select(columns ...string) *SelectBuilder {
	safe := make([]string, 0, len(columns))
	for _, c := range columns {
		if c != "*" && !isSafeIdentifier(c) {
			panic("SelectBuilder: unsafe column name " + c)
		}
		safe = append(safe, c)
	}
	b.cols = safe
	return b
}

func (b *SelectBuilder) From(table string) *SelectBuilder {
	if !isSafeIdentifier(table) {
		panic("SelectBuilder: unsafe table name " + table)
	}
	b.table = table
	return b
}

// Where 追加条件，多个条件以 AND 连接
func (b *SelectBuilder) Where(cond string, args ...any) *SelectBuilder {
	if cond != "" {
		b.where = append(b.where, cond)
		b.args = append(b.args, args...)
	}
	return b
}

// OrderBy 追加排序列，可多次调用
func (b *SelectBuilder) OrderBy(col string, desc bool) *SelectBuilder {
	if !isSafeIdentifier(col) {
		panic("SelectBuilder: unsafe order column " + col)
	}
	if desc {
		col += " DESC"
	}
	b.order = append(b.order, col)
	return b
}

// Limit n == 0 表示不限制，n < 0 视为编程错误
func (b *SelectBuilder) Limit(n int) *SelectBuilder {
	if n < 0 {
		panic("SelectBuilder: limit cannot be negative")
	}
	b.limit = n
	return b
}

// Build 生成 SQL 与参数，占位符统一为 ?，由 DB 层按方言重绑定
func (b *SelectBuilder) Build() (string, []any) {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(b.cols, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(b.table)
	if len(b.where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(b.where, " AND "))
	}
	if len(b.order) > 0 {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(b.order, ", "))
	}
	if b.limit > 0 {
		sb.WriteString(" LIMIT ")
		sb.WriteString(strconv.Itoa(b.limit))
	}
	return sb.String(), b.args
}

// Placeholders 生成 n 个以逗号分隔的 ?，用于 IN 子句
func Placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
