package versionlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"edutrail/data/db"
	"edutrail/data/db/basic"
	"edutrail/errors"
)

var versionColumns = []string{"id", "item_type", "item_id", "sequence", "event", "whodunnit", "object", "object_changes", "created_at"}

// List 按 created_at、id 倒序返回版本，多取一条判断 HasMore
func (s *SQLStore) List(ctx context.Context, filter Filter, page Page) (*ListResult, error) {
	page = page.Normalize()

	qb := basic.NewSelect(versionColumns...).From(s.table)
	if filter.ItemType != "" {
		qb.Where("item_type = ?", filter.ItemType)
	}
	if filter.ItemID != nil {
		qb.Where("item_id = ?", *filter.ItemID)
	}
	if filter.Event != "" {
		qb.Where("event = ?", string(filter.Event))
	}
	if !filter.Since.IsZero() {
		qb.Where("created_at >= ?", filter.Since.UTC())
	}
	if !filter.Until.IsZero() {
		qb.Where("created_at < ?", filter.Until.UTC())
	}
	qb.OrderBy("created_at", true).OrderBy("id", true).Limit(page.Size + 1)

	query, args := qb.Build()
	offset := (page.Number - 1) * page.Size
	if offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", offset)
	}

	versions, err := s.query(ctx, s.db, query, args...)
	if err != nil {
		return nil, errors.WrapDatabaseError(ctx, err, "查询版本列表")
	}

	res := &ListResult{Page: page}
	if len(versions) > page.Size {
		res.HasMore = true
		versions = versions[:page.Size]
	}
	res.Versions = versions
	return res, nil
}

// ListAscending 按 created_at、id 正序返回窗口内的版本（摘要使用）
func (s *SQLStore) ListAscending(ctx context.Context, filter Filter, itemTypes []string, limit int) ([]*Version, error) {
	qb := basic.NewSelect(versionColumns...).From(s.table)
	if filter.Event != "" {
		qb.Where("event = ?", string(filter.Event))
	}
	if !filter.Since.IsZero() {
		qb.Where("created_at >= ?", filter.Since.UTC())
	}
	if !filter.Until.IsZero() {
		qb.Where("created_at < ?", filter.Until.UTC())
	}
	if len(itemTypes) > 0 {
		args := make([]any, len(itemTypes))
		for i, t := range itemTypes {
			args[i] = t
		}
		qb.Where("item_type IN ("+basic.Placeholders(len(itemTypes))+")", args...)
	}
	query, args := qb.OrderBy("created_at", false).OrderBy("id", false).Limit(limit).Build()

	versions, err := s.query(ctx, s.db, query, args...)
	if err != nil {
		return nil, errors.WrapDatabaseError(ctx, err, "查询窗口内版本")
	}
	return versions, nil
}

// Find 按 ID 查找版本，不存在时返回 NOT_FOUND
func (s *SQLStore) Find(ctx context.Context, id int64) (*Version, error) {
	query, args := basic.NewSelect(versionColumns...).From(s.table).Where("id = ?", id).Build()
	v, err := s.queryOne(ctx, query, args...)
	if err != nil {
		return nil, errors.WrapDatabaseError(ctx, err, "查询版本")
	}
	if v == nil {
		return nil, errors.VersionNotFound(id)
	}
	return v, nil
}

// Neighbors 返回同一实体内的前一个与后一个版本
func (s *SQLStore) Neighbors(ctx context.Context, v *Version) (*Neighbors, error) {
	prevQuery, prevArgs := basic.NewSelect(versionColumns...).From(s.table).
		Where("item_type = ?", v.ItemType).Where("item_id = ?", v.ItemID).
		Where("sequence < ?", v.Sequence).
		OrderBy("sequence", true).Limit(1).Build()
	prev, err := s.queryOne(ctx, prevQuery, prevArgs...)
	if err != nil {
		return nil, errors.WrapDatabaseError(ctx, err, "查询前一版本")
	}

	nextQuery, nextArgs := basic.NewSelect(versionColumns...).From(s.table).
		Where("item_type = ?", v.ItemType).Where("item_id = ?", v.ItemID).
		Where("sequence > ?", v.Sequence).
		OrderBy("sequence", false).Limit(1).Build()
	next, err := s.queryOne(ctx, nextQuery, nextArgs...)
	if err != nil {
		return nil, errors.WrapDatabaseError(ctx, err, "查询后一版本")
	}

	return &Neighbors{Previous: prev, Next: next}, nil
}

// Following 返回 v 之后的版本，limit <= 0 表示不限制
func (s *SQLStore) Following(ctx context.Context, v *Version, limit int) ([]*Version, error) {
	if limit < 0 {
		limit = 0
	}
	query, args := basic.NewSelect(versionColumns...).From(s.table).
		Where("item_type = ?", v.ItemType).Where("item_id = ?", v.ItemID).
		Where("sequence > ?", v.Sequence).
		OrderBy("sequence", false).Limit(limit).Build()
	versions, err := s.query(ctx, s.db, query, args...)
	if err != nil {
		return nil, errors.WrapDatabaseError(ctx, err, "查询后续版本")
	}
	return versions, nil
}

// Latest 返回实体最新的版本，没有时返回 nil
func (s *SQLStore) Latest(ctx context.Context, key ItemKey) (*Version, error) {
	query, args := basic.NewSelect(versionColumns...).From(s.table).
		Where("item_type = ?", key.Type).Where("item_id = ?", key.ID).
		OrderBy("sequence", true).Limit(1).Build()
	v, err := s.queryOne(ctx, query, args...)
	if err != nil {
		return nil, errors.WrapDatabaseError(ctx, err, "查询最新版本")
	}
	return v, nil
}

// CountForItem 实体当前保留的版本数
func (s *SQLStore) CountForItem(ctx context.Context, key ItemKey) (int64, error) {
	var n int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE item_type = ? AND item_id = ?", s.table)
	if err := s.db.QueryRow(ctx, query, key.Type, key.ID).Scan(&n); err != nil {
		return 0, errors.WrapDatabaseError(ctx, err, "统计实体版本数")
	}
	return n, nil
}

func (s *SQLStore) queryOne(ctx context.Context, query string, args ...any) (*Version, error) {
	versions, err := s.query(ctx, s.db, query, args...)
	if err != nil || len(versions) == 0 {
		return nil, err
	}
	return versions[0], nil
}

func (s *SQLStore) query(ctx context.Context, exec db.IDatabase, query string, args ...any) ([]*Version, error) {
	rows, err := exec.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanVersions(rows)
}

func scanVersions(rows db.IRows) ([]*Version, error) {
	var out []*Version
	for rows.Next() {
		var (
			v         Version
			event     string
			actor     sql.NullString
			object    []byte
			changes   sql.NullString
			createdAt time.Time
		)
		if err := rows.Scan(&v.ID, &v.ItemType, &v.ItemID, &v.Sequence, &event, &actor, &object, &changes, &createdAt); err != nil {
			return nil, err
		}
		v.Event = Event(event)
		if actor.Valid {
			a := actor.String
			v.Actor = &a
		}
		if len(object) > 0 {
			v.Snapshot = append([]byte(nil), object...)
		}
		if changes.Valid && changes.String != "" {
			var cs Changeset
			if err := json.Unmarshal([]byte(changes.String), &cs); err != nil {
				// 变更集损坏不影响版本本身可读，差异重建会回退到快照路径
				cs = nil
			}
			v.Changeset = cs
		}
		v.CreatedAt = createdAt.UTC()
		out = append(out, &v)
	}
	return out, rows.Err()
}
