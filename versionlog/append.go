package versionlog

import (
	"context"
	"encoding/json"
	"fmt"

	"edutrail/data/db"
	"edutrail/errors"
)

// Append 追加一条版本。
//
// 必须在写实体的同一事务内调用：sequence 通过计数表
// 「初始化 -> 自增 -> 读取」分配，计数行的行锁使同一实体的追加串行化。
// 计数表不随版本删除回退，因此 sequence 永不复用。
func (s *SQLStore) Append(ctx context.Context, exec db.IDatabase, in AppendInput) (*Version, error) {
	if exec == nil {
		exec = s.db
	}
	if err := validateAppend(in); err != nil {
		return nil, err
	}

	seq, err := s.nextSequence(ctx, exec, ItemKey{Type: in.ItemType, ID: in.ItemID})
	if err != nil {
		return nil, err
	}

	id, err := s.ids.NextID()
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeInternal, "生成版本ID失败")
	}

	var changes any
	if len(in.Changeset) > 0 {
		raw, err := json.Marshal(in.Changeset)
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrCodeInvalidInput, "变更集序列化失败")
		}
		changes = string(raw)
	}
	var object any
	if len(in.Snapshot) > 0 {
		object = in.Snapshot
	}
	var actor any
	if in.Actor != nil {
		actor = *in.Actor
	}

	v := &Version{
		ID:        id,
		ItemType:  in.ItemType,
		ItemID:    in.ItemID,
		Sequence:  seq,
		Event:     in.Event,
		Actor:     in.Actor,
		CreatedAt: s.timestamp(),
		Changeset: in.Changeset,
		Snapshot:  in.Snapshot,
	}

	insertSQL := fmt.Sprintf(`INSERT INTO %s (id, item_type, item_id, sequence, event, whodunnit, object, object_changes, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table)
	if _, err := exec.Exec(ctx, insertSQL, v.ID, v.ItemType, v.ItemID, v.Sequence, string(v.Event), actor, object, changes, v.CreatedAt); err != nil {
		return nil, errors.WrapDatabaseError(ctx, err, "追加版本")
	}
	return v, nil
}

func validateAppend(in AppendInput) error {
	switch {
	case in.ItemType == "":
		return errors.NewError(errors.ErrCodeInvalidInput, "版本缺少实体类型")
	case in.ItemID <= 0:
		return errors.NewError(errors.ErrCodeInvalidInput, "版本缺少实体ID")
	case !in.Event.Valid():
		return errors.NewError(errors.ErrCodeInvalidInput, fmt.Sprintf("未知的版本事件 %q", in.Event))
	case in.Event == EventDeleted && len(in.Snapshot) == 0:
		// 删除后实体不再存在，删除前的完整状态只能来自快照
		return errors.NewError(errors.ErrCodeInvalidInput, "deleted 版本必须携带删除前快照")
	}
	return nil
}

func (s *SQLStore) nextSequence(ctx context.Context, exec db.IDatabase, key ItemKey) (int64, error) {
	initSQL := fmt.Sprintf(`INSERT INTO %s (item_type, item_id, next_sequence) VALUES (?, ?, 1) ON CONFLICT (item_type, item_id) DO NOTHING`, s.seqTable)
	if _, err := exec.Exec(ctx, initSQL, key.Type, key.ID); err != nil {
		return 0, errors.WrapDatabaseError(ctx, err, "初始化版本序列")
	}

	incSQL := fmt.Sprintf(`UPDATE %s SET next_sequence = next_sequence + 1 WHERE item_type = ? AND item_id = ?`, s.seqTable)
	if _, err := exec.Exec(ctx, incSQL, key.Type, key.ID); err != nil {
		return 0, errors.WrapDatabaseError(ctx, err, "递增版本序列")
	}

	var next int64
	getSQL := fmt.Sprintf(`SELECT next_sequence FROM %s WHERE item_type = ? AND item_id = ?`, s.seqTable)
	if err := exec.QueryRow(ctx, getSQL, key.Type, key.ID).Scan(&next); err != nil {
		return 0, errors.WrapDatabaseError(ctx, err, "读取版本序列")
	}
	return next - 1, nil
}
