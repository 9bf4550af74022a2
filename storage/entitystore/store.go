// Package entitystore 是审计实体的 SQL 存储。
//
// 表结构由类型描述生成：id、lock_version、created_at、updated_at 加上被跟踪字段。
// 乐观锁通过条件 UPDATE/DELETE 实现，影响 0 行时再区分冲突与不存在。
package entitystore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"edutrail/data/db"
	"edutrail/data/db/basic"
	"edutrail/data/db/dialect"
	"edutrail/domain/audited"
	"edutrail/errors"
	"edutrail/idgen/snowflake"
	"edutrail/snapshot"
)

var bookkeeping = []string{"id", "lock_version", "created_at", "updated_at"}

// Store audited.IRepository 的 SQL 实现
type Store struct {
	ids snowflake.IDGenerator
}

var _ audited.IRepository = (*Store)(nil)

// New 创建实体存储，ids 为 nil 时使用节点 0 的 snowflake
func New(ids snowflake.IDGenerator) (*Store, error) {
	if ids == nil {
		gen, err := snowflake.NewGenerator(0)
		if err != nil {
			return nil, err
		}
		ids = gen
	}
	return &Store{ids: ids}, nil
}

// DDL 为每个类型生成建表语句
func DDL(d dialect.Dialect, handles ...*audited.TypeHandle) []string {
	out := make([]string, 0, len(handles))
	ts := d.TimestampType()
	for _, h := range handles {
		cols := []string{
			"id BIGINT PRIMARY KEY",
			"lock_version BIGINT NOT NULL DEFAULT 1",
			"created_at " + ts + " NOT NULL",
			"updated_at " + ts + " NOT NULL",
		}
		for _, f := range h.Fields {
			cols = append(cols, fmt.Sprintf("%s %s NULL", f.Name, f.Kind.SQLType()))
		}
		out = append(out, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n    %s\n)",
			h.Table, strings.Join(cols, ",\n    ")))
	}
	return out
}

func columns(h *audited.TypeHandle) []string {
	return append(append([]string{}, bookkeeping...), h.FieldNames()...)
}

// Load 读取当前状态
func (s *Store) Load(ctx context.Context, exec db.IDatabase, h *audited.TypeHandle, id int64) (*audited.Record, error) {
	q, args := basic.NewSelect(columns(h)...).From(h.Table).Where("id = ?", id).Build()
	rec, err := scanRecord(h, exec.QueryRow(ctx, q, args...))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.EntityNotFound(h.Name, id)
		}
		return nil, errors.WrapDatabaseError(ctx, err, "读取实体")
	}
	return rec, nil
}

// Insert 插入新行，令牌为 1
func (s *Store) Insert(ctx context.Context, exec db.IDatabase, h *audited.TypeHandle, rec *audited.Record) error {
	if rec.ID == 0 {
		id, err := s.ids.NextID()
		if err != nil {
			return errors.WrapError(err, errors.ErrCodeInternal, "生成实体ID失败")
		}
		rec.ID = id
	}
	rec.Type = h.Name
	rec.LockVersion = 1

	q, args := insertBuilder(h, rec).Build()
	if _, err := exec.Exec(ctx, q, args...); err != nil {
		if dialect.FromDatabase(exec).IsUniqueViolation(err) {
			return errors.NewErrorWithCause(errors.ErrCodeConflict,
				fmt.Sprintf("%s #%d 已存在", h.Name, rec.ID), err)
		}
		return errors.WrapDatabaseError(ctx, err, "插入实体")
	}
	return nil
}

// Save 写回字段，语义见 audited.IRepository
func (s *Store) Save(ctx context.Context, exec db.IDatabase, h *audited.TypeHandle, rec *audited.Record, expected int64, mode audited.WriteMode) error {
	ub := basic.NewUpdate(h.Table)
	for _, name := range h.FieldNames() {
		ub.Set(name, rec.Fields[name])
	}
	ub.Set("updated_at", rec.UpdatedAt).
		SetExpr("lock_version = lock_version + 1").
		Where("id = ?", rec.ID)
	if mode == audited.ModeEnforce {
		ub.Where("lock_version = ?", expected)
	}

	q, args := ub.Build()
	res, err := exec.Exec(ctx, q, args...)
	if err != nil {
		return errors.WrapDatabaseError(ctx, err, "更新实体")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.WrapDatabaseError(ctx, err, "更新实体")
	}

	if affected == 0 {
		if mode == audited.ModeForce {
			// 行已不存在：以原 ID 重建，令牌从 1 开始
			if rec.CreatedAt.IsZero() {
				rec.CreatedAt = rec.UpdatedAt
			}
			return s.Insert(ctx, exec, h, rec)
		}
		return s.missOrConflict(ctx, exec, h, rec.ID, expected)
	}

	if mode == audited.ModeEnforce {
		rec.LockVersion = expected + 1
		return nil
	}
	return s.reloadToken(ctx, exec, h, rec)
}

// Delete 删除行
func (s *Store) Delete(ctx context.Context, exec db.IDatabase, h *audited.TypeHandle, id, expected int64, mode audited.WriteMode) error {
	q := fmt.Sprintf("DELETE FROM %s WHERE id = ?", h.Table)
	args := []any{id}
	if mode == audited.ModeEnforce {
		q += " AND lock_version = ?"
		args = append(args, expected)
	}
	res, err := exec.Exec(ctx, q, args...)
	if err != nil {
		return errors.WrapDatabaseError(ctx, err, "删除实体")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.WrapDatabaseError(ctx, err, "删除实体")
	}
	if affected == 0 {
		if mode == audited.ModeForce {
			return notFound(h, id)
		}
		return s.missOrConflict(ctx, exec, h, id, expected)
	}
	return nil
}

// Titles 批量读取展示字段，不存在的 ID 不出现在结果中
func (s *Store) Titles(ctx context.Context, exec db.IDatabase, h *audited.TypeHandle, ids []int64) (map[int64]string, error) {
	out := make(map[int64]string, len(ids))
	if len(ids) == 0 || h.TitleField == "" {
		return out, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	q, qargs := basic.NewSelect("id", h.TitleField).From(h.Table).
		Where("id IN ("+basic.Placeholders(len(ids))+")", args...).Build()
	rows, err := exec.Query(ctx, q, qargs...)
	if err != nil {
		return nil, errors.WrapDatabaseError(ctx, err, "读取实体标题")
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var title sql.NullString
		if err := rows.Scan(&id, &title); err != nil {
			return nil, errors.WrapDatabaseError(ctx, err, "读取实体标题")
		}
		out[id] = title.String
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapDatabaseError(ctx, err, "读取实体标题")
	}
	return out, nil
}

func (s *Store) missOrConflict(ctx context.Context, exec db.IDatabase, h *audited.TypeHandle, id, expected int64) error {
	var token int64
	q := fmt.Sprintf("SELECT lock_version FROM %s WHERE id = ?", h.Table)
	if err := exec.QueryRow(ctx, q, id).Scan(&token); err != nil {
		if err == sql.ErrNoRows {
			return notFound(h, id)
		}
		return errors.WrapDatabaseError(ctx, err, "读取锁版本")
	}
	return audited.NewConflictError(h.Name, id, expected)
}

func (s *Store) reloadToken(ctx context.Context, exec db.IDatabase, h *audited.TypeHandle, rec *audited.Record) error {
	q := fmt.Sprintf("SELECT lock_version FROM %s WHERE id = ?", h.Table)
	if err := exec.QueryRow(ctx, q, rec.ID).Scan(&rec.LockVersion); err != nil {
		return errors.WrapDatabaseError(ctx, err, "读取锁版本")
	}
	return nil
}

func notFound(h *audited.TypeHandle, id int64) error {
	return errors.EntityNotFound(h.Name, id)
}

func insertBuilder(h *audited.TypeHandle, rec *audited.Record) *basic.InsertBuilder {
	ib := basic.NewInsert(h.Table).
		Set("id", rec.ID).
		Set("lock_version", rec.LockVersion).
		Set("created_at", rec.CreatedAt).
		Set("updated_at", rec.UpdatedAt)
	for _, name := range h.FieldNames() {
		ib.Set(name, rec.Fields[name])
	}
	return ib
}

func scanRecord(h *audited.TypeHandle, row db.IRow) (*audited.Record, error) {
	rec := &audited.Record{Type: h.Name}
	dest := []any{&rec.ID, &rec.LockVersion, &rec.CreatedAt, &rec.UpdatedAt}

	holders := make([]any, len(h.Fields))
	for i, f := range h.Fields {
		switch f.Kind {
		case audited.KindInt:
			holders[i] = new(sql.NullInt64)
		case audited.KindBool:
			holders[i] = new(sql.NullBool)
		default:
			holders[i] = new(sql.NullString)
		}
	}
	if err := row.Scan(append(dest, holders...)...); err != nil {
		return nil, err
	}

	rec.Fields = make(snapshot.Fields, len(h.Fields))
	for i, f := range h.Fields {
		rec.Fields[f.Name] = nullValue(holders[i])
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}

func nullValue(holder any) any {
	switch v := holder.(type) {
	case *sql.NullInt64:
		if v.Valid {
			return v.Int64
		}
	case *sql.NullBool:
		if v.Valid {
			return v.Bool
		}
	case *sql.NullString:
		if v.Valid {
			return v.String
		}
	}
	return nil
}
