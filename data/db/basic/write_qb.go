package basic

import "strings"

// InsertBuilder 单行 INSERT 构建器
type InsertBuilder struct {
	table   string
	columns []string
	values  []any
	suffix  string
}

func NewInsert(table string) *InsertBuilder {
	if !isSafeIdentifier(table) {
		panic("InsertBuilder: unsafe table name " + table)
	}
	return &InsertBuilder{table: table}
}

// Set 追加一列及其值
func (b *InsertBuilder) Set(col string, val any) *InsertBuilder {
	if !isSafeIdentifier(col) {
		panic("InsertBuilder: unsafe column name " + col)
	}
	b.columns = append(b.columns, col)
	b.values = append(b.values, val)
	return b
}

// Suffix 追加到语句末尾的片段，如 ON CONFLICT 子句
func (b *InsertBuilder) Suffix(s string) *InsertBuilder {
	b.suffix = s
	return b
}

func (b *InsertBuilder) Columns() []string { return b.columns }

func (b *InsertBuilder) Build() (string, []any) {
	if len(b.columns) == 0 {
		panic("InsertBuilder: no columns to insert")
	}
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(b.table)
	sb.WriteString(" (")
	sb.WriteString(strings.Join(b.columns, ", "))
	sb.WriteString(") VALUES (")
	sb.WriteString(Placeholders(len(b.columns)))
	sb.WriteString(")")
	if b.suffix != "" {
		sb.WriteByte(' ')
		sb.WriteString(b.suffix)
	}
	return sb.String(), b.values
}

// UpdateBuilder UPDATE 构建器，支持列赋值与表达式赋值
type UpdateBuilder struct {
	table     string
	sets      []string
	setArgs   []any
	whereExpr []string
	whereArgs []any
}

func NewUpdate(table string) *UpdateBuilder {
	if !isSafeIdentifier(table) {
		panic("UpdateBuilder: unsafe table name " + table)
	}
	return &UpdateBuilder{table: table}
}

func (b *UpdateBuilder) Set(col string, val any) *UpdateBuilder {
	if !isSafeIdentifier(col) {
		panic("UpdateBuilder: unsafe column name " + col)
	}
	b.sets = append(b.sets, col+" = ?")
	b.setArgs = append(b.setArgs, val)
	return b
}

// SetExpr 表达式赋值，如 "lock_version = lock_version + 1"
func (b *UpdateBuilder) SetExpr(expr string, args ...any) *UpdateBuilder {
	if expr != "" {
		b.sets = append(b.sets, expr)
		b.setArgs = append(b.setArgs, args...)
	}
	return b
}

func (b *UpdateBuilder) Where(cond string, args ...any) *UpdateBuilder {
	if cond != "" {
		b.whereExpr = append(b.whereExpr, cond)
		b.whereArgs = append(b.whereArgs, args...)
	}
	return b
}

func (b *UpdateBuilder) Build() (string, []any) {
	if len(b.sets) == 0 {
		panic("UpdateBuilder: no columns or expressions to set")
	}
	var sb strings.Builder
	sb.WriteString("UPDATE ")
	sb.WriteString(b.table)
	sb.WriteString(" SET ")
	sb.WriteString(strings.Join(b.sets, ", "))

	args := make([]any, 0, len(b.setArgs)+len(b.whereArgs))
	args = append(args, b.setArgs...)
	if len(b.whereExpr) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(b.whereExpr, " AND "))
		args = append(args, b.whereArgs...)
	}
	return sb.String(), args
}
