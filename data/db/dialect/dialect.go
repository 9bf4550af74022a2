// Package dialect sqlite 与 postgres 之间的 SQL 差异
package dialect

import (
	stderrors "errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	core "edutrail/data/db"
)

// Name 标准化的数据库方言名称
type Name string

const (
	NameSQLite   Name = "sqlite"
	NamePostgres Name = "postgres"
	NameUnknown  Name = ""
)

// pgUniqueViolation SQLSTATE unique_violation
const pgUniqueViolation = "23505"

// Dialect 当前数据库的方言能力
type Dialect struct {
	name Name
}

// New 根据 driver 名构造方言（大小写不敏感）
func New(name string) Dialect {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "sqlite", "sqlite3":
		return Dialect{name: NameSQLite}
	case "postgres", "postgresql", "pgx":
		return Dialect{name: NamePostgres}
	default:
		return Dialect{name: NameUnknown}
	}
}

// FromDatabase 从 IDatabase 推断方言，未实现 IDialectNameProvider 时返回 Unknown
func FromDatabase(db core.IDatabase) Dialect {
	if p, ok := db.(core.IDialectNameProvider); ok {
		return New(p.GetDialectName())
	}
	return Dialect{name: NameUnknown}
}

func (d Dialect) Name() Name {
	return d.name
}

// Rebind 把 ? 占位符换成 postgres 的 $n。
// 不识别字符串字面量中的 ?，值一律以参数传入
func (d Dialect) Rebind(query string) string {
	if d.name != NamePostgres || !strings.Contains(query, "?") {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	for _, part := range strings.SplitAfter(query, "?") {
		if !strings.HasSuffix(part, "?") {
			sb.WriteString(part)
			continue
		}
		n++
		sb.WriteString(part[:len(part)-1])
		sb.WriteByte('$')
		sb.WriteString(strconv.Itoa(n))
	}
	return sb.String()
}

// BoundedDelete 删除 table 中满足 where 的至多 LIMIT ? 行，按 orderBy 先删。
// 两种方言都不支持 DELETE ... LIMIT，统一用主键子查询；最后一个参数是 limit
func (d Dialect) BoundedDelete(table, where, orderBy string) string {
	return "DELETE FROM " + table + " WHERE id IN (SELECT id FROM " + table +
		" WHERE " + where + " ORDER BY " + orderBy + " LIMIT ?)"
}

// IsUniqueViolation 主键或唯一键冲突。postgres 按 SQLSTATE 判断，sqlite 只能看错误文本
func (d Dialect) IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	msg := strings.ToLower(err.Error())
	switch d.name {
	case NameSQLite:
		return strings.Contains(msg, "unique constraint failed") ||
			strings.Contains(msg, "primary key must be unique")
	case NamePostgres:
		return strings.Contains(msg, "sqlstate 23505")
	default:
		return strings.Contains(msg, "duplicate key") ||
			strings.Contains(msg, "unique constraint")
	}
}

// BlobType 二进制列类型
func (d Dialect) BlobType() string {
	if d.name == NamePostgres {
		return "BYTEA"
	}
	return "BLOB"
}

// TimestampType 时间列类型
func (d Dialect) TimestampType() string {
	if d.name == NamePostgres {
		return "TIMESTAMPTZ"
	}
	return "TIMESTAMP"
}
