package versionlog

import (
	"context"
	"fmt"
	"time"

	"edutrail/data/db/basic"
	"edutrail/errors"
)

// Delete 永久删除单个版本，不重排其余版本的 sequence
func (s *SQLStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", s.table), id)
	if err != nil {
		return errors.WrapDatabaseError(ctx, err, "删除版本")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.VersionNotFound(id)
	}
	return nil
}

// DeleteMany 按块删除多个版本，返回实际删除数；不存在的 ID 被忽略
func (s *SQLStore) DeleteMany(ctx context.Context, ids []int64) (int64, error) {
	ids = uniqueIDs(ids)
	var total int64
	for start := 0; start < len(ids); start += s.chunk {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		end := start + s.chunk
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		query := fmt.Sprintf("DELETE FROM %s WHERE id IN (%s)", s.table, basic.Placeholders(len(chunk)))
		res, err := s.db.Exec(ctx, query, args...)
		if err != nil {
			return total, errors.WrapDatabaseError(ctx, err, "批量删除版本")
		}
		if n, err := res.RowsAffected(); err == nil {
			total += n
		}
	}
	return total, nil
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// CountOlderThan 统计 created_at 早于 cutoff 的版本数
func (s *SQLStore) CountOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE created_at < ?", s.table)
	if err := s.db.QueryRow(ctx, query, cutoff.UTC()).Scan(&n); err != nil {
		return 0, errors.WrapDatabaseError(ctx, err, "统计过期版本")
	}
	return n, nil
}

// DeleteOlderThan 删除至多 limit 条过期版本
func (s *SQLStore) DeleteOlderThan(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	query := s.dialect().BoundedDelete(s.table, "created_at < ?", "id")
	return s.execDelete(ctx, "删除过期版本", query, cutoff.UTC(), limit)
}

// DistinctItems 按 (item_type, item_id) 升序返回 after 之后的实体
func (s *SQLStore) DistinctItems(ctx context.Context, after *ItemKey, limit int) ([]ItemKey, error) {
	if limit <= 0 {
		limit = 500
	}
	query := fmt.Sprintf("SELECT DISTINCT item_type, item_id FROM %s", s.table)
	var args []any
	if after != nil {
		query += " WHERE item_type > ? OR (item_type = ? AND item_id > ?)"
		args = append(args, after.Type, after.Type, after.ID)
	}
	query += " ORDER BY item_type, item_id LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.WrapDatabaseError(ctx, err, "遍历版本实体")
	}
	defer rows.Close()

	var keys []ItemKey
	for rows.Next() {
		var k ItemKey
		if err := rows.Scan(&k.Type, &k.ID); err != nil {
			return nil, errors.WrapDatabaseError(ctx, err, "读取版本实体")
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapDatabaseError(ctx, err, "遍历版本实体")
	}
	return keys, nil
}

// KeepFloor 第 keep 新版本的 sequence；低于它的版本都超出保留上限
func (s *SQLStore) KeepFloor(ctx context.Context, key ItemKey, keep int) (int64, bool, error) {
	if keep <= 0 {
		return 0, false, nil
	}
	query := fmt.Sprintf("SELECT sequence FROM %s WHERE item_type = ? AND item_id = ? ORDER BY sequence DESC LIMIT 1 OFFSET ?", s.table)
	rows, err := s.db.Query(ctx, query, key.Type, key.ID, keep-1)
	if err != nil {
		return 0, false, errors.WrapDatabaseError(ctx, err, "查询保留下限")
	}
	defer rows.Close()

	if !rows.Next() {
		return 0, false, rows.Err()
	}
	var floor int64
	if err := rows.Scan(&floor); err != nil {
		return 0, false, errors.WrapDatabaseError(ctx, err, "读取保留下限")
	}
	return floor, true, nil
}

// CountBelowSequence 统计实体中 sequence 小于给定值的版本数
func (s *SQLStore) CountBelowSequence(ctx context.Context, key ItemKey, sequence int64) (int64, error) {
	var n int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE item_type = ? AND item_id = ? AND sequence < ?", s.table)
	if err := s.db.QueryRow(ctx, query, key.Type, key.ID, sequence).Scan(&n); err != nil {
		return 0, errors.WrapDatabaseError(ctx, err, "统计超额版本")
	}
	return n, nil
}

// DeleteBelowSequence 删除实体中 sequence 小于给定值的至多 limit 条版本
func (s *SQLStore) DeleteBelowSequence(ctx context.Context, key ItemKey, sequence int64, limit int) (int64, error) {
	query := s.dialect().BoundedDelete(s.table, "item_type = ? AND item_id = ? AND sequence < ?", "sequence")
	return s.execDelete(ctx, "删除超额版本", query, key.Type, key.ID, sequence, limit)
}

func (s *SQLStore) execDelete(ctx context.Context, op, query string, args ...any) (int64, error) {
	res, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, errors.WrapDatabaseError(ctx, err, op)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.WrapDatabaseError(ctx, err, op)
	}
	return n, nil
}
