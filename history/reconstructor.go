// Package history 从版本日志重建某个版本前后的字段值。
//
// 展示路径（FieldBeforeAfter、Show）永不报错，无法确定时标记 Unknown；
// 回滚路径（StateBefore）必须得到完整状态，否则返回 RECONSTRUCTION_FAILED。
package history

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"time"

	"edutrail/cache"
	"edutrail/data/db"
	"edutrail/domain/audited"
	"edutrail/errors"
	"edutrail/logging"
	"edutrail/snapshot"
	"edutrail/versionlog"
)

// VersionSource 重建所需的版本查询能力
type VersionSource interface {
	Following(ctx context.Context, v *versionlog.Version, limit int) ([]*versionlog.Version, error)
}

// LiveLoader 读取实体当前状态（audited.IRepository 实现）
type LiveLoader interface {
	Load(ctx context.Context, exec db.IDatabase, h *audited.TypeHandle, id int64) (*audited.Record, error)
}

// FieldDiff 某字段在一个版本前后的值
type FieldDiff struct {
	Field   string
	Before  any
	After   any
	Unknown bool
}

// Changed 前后是否不同（Unknown 视为未知，返回 false）
func (d FieldDiff) Changed() bool {
	return !d.Unknown && !equalValues(d.Before, d.After)
}

// Options 重建器配置
type Options struct {
	Codec *snapshot.Codec

	// WalkLimit 向后遍历的最大版本数
	WalkLimit int

	CacheSize int
	CacheTTL  time.Duration
}

// Reconstructor 差异重建器
type Reconstructor struct {
	db        db.IDatabase
	registry  *audited.Registry
	versions  VersionSource
	live      LiveLoader
	codec     *snapshot.Codec
	walkLimit int
	snapshots *cache.Cache[int64, snapshot.Fields]
	logger    logging.Logger
}

// New 创建重建器
func New(database db.IDatabase, registry *audited.Registry, versions VersionSource, live LiveLoader, opts Options) *Reconstructor {
	r := &Reconstructor{
		db:        database,
		registry:  registry,
		versions:  versions,
		live:      live,
		codec:     opts.Codec,
		walkLimit: opts.WalkLimit,
		logger:    logging.ComponentLogger("history"),
	}
	if r.codec == nil {
		r.codec = snapshot.Default()
	}
	if r.walkLimit <= 0 {
		r.walkLimit = 1000
	}
	size := opts.CacheSize
	if size <= 0 {
		size = 1024
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	r.snapshots = cache.New[int64, snapshot.Fields](cache.Config{Name: "snapshots", MaxSize: size, TTL: ttl})
	return r
}

// FieldBeforeAfter 单字段前后值，任何失败都降级为 Unknown
func (r *Reconstructor) FieldBeforeAfter(ctx context.Context, v *versionlog.Version, field string) FieldDiff {
	unknown := FieldDiff{Field: field, Unknown: true}

	h, err := r.registry.Lookup(v.ItemType)
	if err != nil {
		return unknown
	}
	spec, ok := h.Field(field)
	if !ok {
		return unknown
	}

	switch v.Event {
	case versionlog.EventDeleted:
		before, ok := r.ownValue(ctx, v, spec)
		if !ok {
			return unknown
		}
		return FieldDiff{Field: field, Before: before}

	case versionlog.EventCreated:
		if after, ok := r.ownValue(ctx, v, spec); ok {
			return FieldDiff{Field: field, After: after}
		}
		after, missing := r.stateAfter(ctx, h, v, []audited.FieldSpec{spec})
		if len(missing) > 0 {
			return unknown
		}
		return FieldDiff{Field: field, After: after[field]}

	case versionlog.EventUpdated:
		if c, hit := v.Changeset[field]; hit {
			before, okBefore := spec.Coerce(c.Old)
			after, okAfter := spec.Coerce(c.New)
			if !okBefore || !okAfter {
				return unknown
			}
			return FieldDiff{Field: field, Before: before, After: after}
		}
		before, haveBefore := r.ownValue(ctx, v, spec)
		if len(v.Changeset) > 0 && haveBefore {
			// 变更集未提及该字段：本次更新没有改动它
			return FieldDiff{Field: field, Before: before, After: before}
		}
		state, missing := r.stateAfter(ctx, h, v, []audited.FieldSpec{spec})
		if len(missing) > 0 {
			return unknown
		}
		after := state[field]
		if !haveBefore {
			before = after
		}
		return FieldDiff{Field: field, Before: before, After: after}
	}
	return unknown
}

// Show 所有被跟踪字段的前后值，按声明顺序
func (r *Reconstructor) Show(ctx context.Context, v *versionlog.Version) []FieldDiff {
	h, err := r.registry.Lookup(v.ItemType)
	if err != nil {
		return nil
	}
	out := make([]FieldDiff, 0, len(h.Fields))
	for _, spec := range h.Fields {
		out = append(out, r.FieldBeforeAfter(ctx, v, spec.Name))
	}
	return out
}

// StateBefore 版本发生前的完整被跟踪状态。
//
// 快照中的字段直接采用；快照缺失的字段依次取变更集旧值、
// 变更集未提及时取之后的状态（本次更新未改动，空变更集即整条未改动）。
// 任一字段无法确定即失败。
func (r *Reconstructor) StateBefore(ctx context.Context, v *versionlog.Version) (snapshot.Fields, error) {
	h, err := r.registry.Lookup(v.ItemType)
	if err != nil {
		return nil, err
	}

	var raw snapshot.Fields
	if v.HasSnapshot() {
		raw, err = r.decode(v)
		if err != nil {
			return nil, reconstructionFailed(v, err)
		}
	}

	state := make(snapshot.Fields, len(h.Fields))
	var pending []audited.FieldSpec
	for _, spec := range h.Fields {
		if val, ok := raw[spec.Name]; ok {
			if coerced, ok := spec.Coerce(val); ok {
				state[spec.Name] = coerced
				continue
			}
		}
		if c, hit := v.Changeset[spec.Name]; hit {
			if coerced, ok := spec.Coerce(c.Old); ok {
				state[spec.Name] = coerced
				continue
			}
		}
		pending = append(pending, spec)
	}
	if len(pending) == 0 {
		return state, nil
	}

	if v.Event != versionlog.EventUpdated {
		return nil, reconstructionFailed(v, fmt.Errorf("字段 %s 无法确定", pending[0].Name))
	}
	after, missing := r.stateAfter(ctx, h, v, pending)
	if len(missing) > 0 {
		return nil, reconstructionFailed(v, fmt.Errorf("字段 %v 无法确定", missing))
	}
	for name, val := range after {
		state[name] = val
	}
	return state, nil
}

// stateAfter 向后遍历推断 v 之后 fields 的取值；返回无法确定的字段名
func (r *Reconstructor) stateAfter(ctx context.Context, h *audited.TypeHandle, v *versionlog.Version, fields []audited.FieldSpec) (snapshot.Fields, []string) {
	out := make(snapshot.Fields, len(fields))
	pending := make(map[string]audited.FieldSpec, len(fields))
	for _, f := range fields {
		pending[f.Name] = f
	}

	following, err := r.versions.Following(ctx, v, r.walkLimit)
	if err != nil {
		r.logger.Warn(ctx, "load following versions failed",
			logging.Int64("version_id", v.ID), logging.Error(err))
		return out, names(pending)
	}

	for _, next := range following {
		if next.Event == versionlog.EventCreated {
			// 中间的 deleted 已被清理，链条断开
			return out, names(pending)
		}
		for name, spec := range pending {
			if c, hit := next.Changeset[name]; hit {
				if val, ok := spec.Coerce(c.Old); ok {
					out[name] = val
					delete(pending, name)
				}
			}
		}
		if len(pending) > 0 && next.HasSnapshot() {
			raw, err := r.decode(next)
			if err != nil {
				return out, names(pending)
			}
			for name, spec := range pending {
				if val, present := raw[name]; present {
					if coerced, ok := spec.Coerce(val); ok {
						out[name] = coerced
						delete(pending, name)
					}
				}
			}
		}
		if len(pending) == 0 {
			return out, nil
		}
	}

	if len(following) >= r.walkLimit {
		return out, names(pending)
	}

	rec, err := r.live.Load(ctx, r.db, h, v.ItemID)
	if err != nil {
		return out, names(pending)
	}
	for name := range pending {
		out[name] = rec.Fields[name]
		delete(pending, name)
	}
	return out, nil
}

// ownValue 版本自身快照中的字段值
func (r *Reconstructor) ownValue(ctx context.Context, v *versionlog.Version, spec audited.FieldSpec) (any, bool) {
	if !v.HasSnapshot() {
		return nil, false
	}
	raw, err := r.decode(v)
	if err != nil {
		r.logger.Debug(ctx, "snapshot undecodable", logging.Int64("version_id", v.ID), logging.Error(err))
		return nil, false
	}
	val, present := raw[spec.Name]
	if !present {
		return nil, false
	}
	return spec.Coerce(val)
}

func (r *Reconstructor) decode(v *versionlog.Version) (snapshot.Fields, error) {
	if f, ok := r.snapshots.Get(v.ID); ok {
		return f, nil
	}
	f, err := r.codec.Decode(v.Snapshot)
	if err != nil {
		return nil, err
	}
	r.snapshots.Set(v.ID, f)
	return f, nil
}

func reconstructionFailed(v *versionlog.Version, cause error) error {
	return errors.NewErrorWithCause(errors.ErrCodeReconstructionFailed,
		fmt.Sprintf("无法重建版本 %d 之前的状态", v.ID), cause).
		WithContext("version_id", v.ID)
}

func names(m map[string]audited.FieldSpec) []string {
	out := make([]string, 0, len(m))
	for name := range m {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func equalValues(a, b any) bool {
	return reflect.DeepEqual(a, b)
}
