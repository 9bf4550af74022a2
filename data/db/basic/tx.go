package basic

import (
	"context"
	"database/sql"

	core "edutrail/data/db"
	"edutrail/data/db/dialect"
	"edutrail/errors"
)

// querier *sql.DB 与 *sql.Tx 共有的执行方法
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// executor 重绑定占位符后把语句交给 querier，DB 与 Tx 都嵌入它
type executor struct {
	q       querier
	dialect dialect.Dialect
}

func (e executor) Query(ctx context.Context, query string, args ...any) (core.IRows, error) {
	rows, err := e.q.QueryContext(ctx, e.dialect.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (e executor) QueryRow(ctx context.Context, query string, args ...any) core.IRow {
	return e.q.QueryRowContext(ctx, e.dialect.Rebind(query), args...)
}

func (e executor) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return e.q.ExecContext(ctx, e.dialect.Rebind(query), args...)
}

// GetDialectName 实现 core.IDialectNameProvider
func (e executor) GetDialectName() string {
	return string(e.dialect.Name())
}

// Tx 一次写入事务。实体写入与版本追加都在同一个 Tx 上执行
type Tx struct {
	executor
	db *sql.DB
	tx *sql.Tx
}

// Begin 不支持嵌套事务，写入方应复用外层传入的 Tx
func (t *Tx) Begin(ctx context.Context) (core.ITransaction, error) {
	return t.BeginTx(ctx, nil)
}

func (t *Tx) BeginTx(context.Context, *sql.TxOptions) (core.ITransaction, error) {
	return nil, errors.NewError(errors.ErrCodeDatabase, "事务内不能再开启事务")
}

func (t *Tx) Ping(ctx context.Context) error { return t.db.PingContext(ctx) }
func (t *Tx) Close() error                   { return nil }
func (t *Tx) Raw() any                       { return t.tx }

func (t *Tx) Commit() error   { return t.tx.Commit() }
func (t *Tx) Rollback() error { return t.tx.Rollback() }
