// Package schema 负责创建版本日志与审计实体所需的表。
//
// 只做幂等建表（CREATE ... IF NOT EXISTS），不处理已有表的结构迁移。
package schema

import (
	"context"
	"fmt"
	"strings"

	"edutrail/data/db"
	"edutrail/logging"
)

// Statement 一条带名称的 DDL
type Statement struct {
	Name string
	SQL  string
}

// Ensure 依次执行 DDL，任一失败即返回
func Ensure(ctx context.Context, database db.IDatabase, statements []Statement) error {
	logger := logging.ComponentLogger("schema")
	for _, st := range statements {
		if strings.TrimSpace(st.SQL) == "" {
			continue
		}
		if _, err := database.Exec(ctx, st.SQL); err != nil {
			return fmt.Errorf("ensure %s: %w", st.Name, err)
		}
		logger.Debug(ctx, "ddl applied", logging.String("name", st.Name))
	}
	return nil
}

// Named 为一组 DDL 生成带序号的名称
func Named(prefix string, sqls []string) []Statement {
	out := make([]Statement, 0, len(sqls))
	for i, s := range sqls {
		out = append(out, Statement{Name: fmt.Sprintf("%s#%d", prefix, i+1), SQL: s})
	}
	return out
}
