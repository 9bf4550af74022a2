package audited

import (
	"context"
	"time"

	"edutrail/data/db"
	"edutrail/errors"
	"edutrail/snapshot"
	"edutrail/versionlog"
)

// Writer 绑定到一个事务的写入器。
//
// 每次成功写入都在同一事务内追加一条版本：
// 创建与重建记 created，更新记 updated，删除记 deleted。
type Writer struct {
	s        *Service
	exec     db.IDatabase
	recorded []*versionlog.Version
}

// Exec 当前事务
func (w *Writer) Exec() db.IDatabase { return w.exec }

// Recorded 本事务内已追加的版本
func (w *Writer) Recorded() []*versionlog.Version { return w.recorded }

// Load 在事务内读取当前状态
func (w *Writer) Load(ctx context.Context, h *TypeHandle, id int64) (*Record, error) {
	return w.s.repo.Load(ctx, w.exec, h, id)
}

// Create 插入新实体。ModeForce 跳过清洗与校验
func (w *Writer) Create(ctx context.Context, h *TypeHandle, fields snapshot.Fields, mode WriteMode) (*Record, error) {
	next, err := w.prepare(h, nil, fields, mode)
	if err != nil {
		return nil, err
	}
	now := w.timestamp()
	rec := &Record{Type: h.Name, Fields: next, CreatedAt: now, UpdatedAt: now}
	if err := w.s.repo.Insert(ctx, w.exec, h, rec); err != nil {
		return nil, err
	}
	if err := w.appendState(ctx, rec, versionlog.EventCreated, nil, rec.Fields); err != nil {
		return nil, err
	}
	return rec, nil
}

// Update 写回字段。
//
// ModeEnforce：令牌不一致返回 CONFLICT；合并后没有任何字段变化时不写入也不记版本。
// ModeForce：无条件写入并令牌 +1，即使没有字段变化也记一条 updated；
// 实体已不存在时以原 ID 重建，记 created。
func (w *Writer) Update(ctx context.Context, h *TypeHandle, id, expected int64, changes snapshot.Fields, mode WriteMode) (*Record, error) {
	cur, err := w.Load(ctx, h, id)
	if err != nil {
		if mode == ModeForce && errors.IsNotFound(err) {
			return w.recreate(ctx, h, id, changes)
		}
		return nil, err
	}
	if err := w.s.guard.Check(mode, cur, expected); err != nil {
		w.s.metrics.WriteConflict(h.Name)
		return nil, err
	}

	next, err := w.prepare(h, cur.Fields, changes, mode)
	if err != nil {
		return nil, err
	}
	changeset := h.Diff(cur.Fields, next)
	if mode == ModeEnforce && len(changeset) == 0 {
		return cur, nil
	}

	rec := cur.Clone()
	rec.Fields = next
	rec.UpdatedAt = w.timestamp()
	if err := w.s.repo.Save(ctx, w.exec, h, rec, expected, mode); err != nil {
		if errors.IsConflict(err) {
			w.s.metrics.WriteConflict(h.Name)
		}
		return nil, err
	}

	var before snapshot.Fields
	if w.s.snapshots {
		before = cur.Fields
	}
	if len(changeset) == 0 {
		changeset = nil
	}
	if err := w.appendState(ctx, rec, versionlog.EventUpdated, changeset, before); err != nil {
		return nil, err
	}
	return rec, nil
}

// Delete 删除实体并记录删除前状态，返回被删除的记录
func (w *Writer) Delete(ctx context.Context, h *TypeHandle, id, expected int64, mode WriteMode) (*Record, error) {
	cur, err := w.Load(ctx, h, id)
	if err != nil {
		return nil, err
	}
	if err := w.s.guard.Check(mode, cur, expected); err != nil {
		w.s.metrics.WriteConflict(h.Name)
		return nil, err
	}
	if err := w.s.repo.Delete(ctx, w.exec, h, id, expected, mode); err != nil {
		if errors.IsConflict(err) {
			w.s.metrics.WriteConflict(h.Name)
		}
		return nil, err
	}
	if err := w.appendState(ctx, cur, versionlog.EventDeleted, nil, cur.Fields); err != nil {
		return nil, err
	}
	return cur, nil
}

func (w *Writer) recreate(ctx context.Context, h *TypeHandle, id int64, fields snapshot.Fields) (*Record, error) {
	next, err := w.prepare(h, nil, fields, ModeForce)
	if err != nil {
		return nil, err
	}
	now := w.timestamp()
	rec := &Record{Type: h.Name, ID: id, Fields: next, CreatedAt: now, UpdatedAt: now}
	if err := w.s.repo.Save(ctx, w.exec, h, rec, 0, ModeForce); err != nil {
		return nil, err
	}
	if err := w.appendState(ctx, rec, versionlog.EventCreated, nil, rec.Fields); err != nil {
		return nil, err
	}
	return rec, nil
}

// prepare 合并字段；ModeEnforce 时清洗富文本并校验
func (w *Writer) prepare(h *TypeHandle, base, changes snapshot.Fields, mode WriteMode) (snapshot.Fields, error) {
	next, err := h.Merge(base, changes)
	if err != nil {
		return nil, err
	}
	if mode == ModeEnforce {
		for name, v := range changes {
			spec, _ := h.Field(name)
			if s, ok := next[name].(string); ok && spec.Rich && v != nil {
				next[name] = w.s.sanitizer.Sanitize(name, s)
			}
		}
	}
	if base == nil {
		// 必填字段留空交给校验报告，强制写入时补零值
		for _, spec := range h.Fields {
			if next[spec.Name] == nil && !spec.Nullable && (mode == ModeForce || !spec.Required) {
				next[spec.Name] = spec.Zero()
			}
		}
	}
	if mode == ModeEnforce {
		if err := h.Validate(next); err != nil {
			return nil, err
		}
	}
	return next, nil
}

func (w *Writer) appendState(ctx context.Context, rec *Record, event versionlog.Event, changeset versionlog.Changeset, state snapshot.Fields) error {
	in := versionlog.AppendInput{
		ItemType:  rec.Type,
		ItemID:    rec.ID,
		Event:     event,
		Actor:     ActorFromContext(ctx),
		Changeset: changeset,
	}
	if state != nil {
		raw, err := w.s.codec.Encode(state)
		if err != nil {
			return err
		}
		in.Snapshot = raw
	}
	v, err := w.s.versions.Append(ctx, w.exec, in)
	if err != nil {
		return err
	}
	w.recorded = append(w.recorded, v)
	return nil
}

func (w *Writer) timestamp() time.Time {
	return w.s.now().UTC().Truncate(time.Microsecond)
}
