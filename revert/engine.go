// Package revert 将实体恢复到某个版本发生之前的状态。
//
// created 版本的回滚是删除实体，deleted 版本的回滚是以原 ID 重建，
// 其余版本回滚到重建出的前态。回滚写入跳过乐观锁与字段校验，
// 并像普通写入一样在同一事务内追加版本。
package revert

import (
	"context"
	"fmt"

	"edutrail/domain/audited"
	"edutrail/errors"
	"edutrail/logging"
	"edutrail/snapshot"
	"edutrail/versionlog"
)

// Action 回滚实际执行的动作
type Action string

const (
	ActionUndoCreate Action = "undo_create"
	ActionNoop       Action = "noop"
	ActionRecreate   Action = "recreate"
	ActionRollback   Action = "rollback"
)

// Result 回滚结果
type Result struct {
	Action Action
	Target *versionlog.Version

	// Record 回滚后的实体，undo_create 与 noop 时为 nil
	Record *audited.Record

	// Recorded 回滚写入产生的版本，noop 时为 nil
	Recorded *versionlog.Version
}

// VersionFinder 按 ID 查找版本
type VersionFinder interface {
	Find(ctx context.Context, id int64) (*versionlog.Version, error)
}

// StateReconstructor 严格重建版本前态（history.Reconstructor 实现）
type StateReconstructor interface {
	StateBefore(ctx context.Context, v *versionlog.Version) (snapshot.Fields, error)
}

// Metrics 回滚指标钩子
type Metrics interface {
	Reverted(itemType string, action string)
	RevertFailed(itemType string, code string)
}

type noopMetrics struct{}

func (noopMetrics) Reverted(string, string)     {}
func (noopMetrics) RevertFailed(string, string) {}

// Options 引擎配置
type Options struct {
	Locker  Locker
	Metrics Metrics
	Codec   *snapshot.Codec
}

// Engine 回滚引擎
type Engine struct {
	service  *audited.Service
	versions VersionFinder
	history  StateReconstructor
	locker   Locker
	metrics  Metrics
	codec    *snapshot.Codec
	logger   logging.Logger
}

func NewEngine(service *audited.Service, versions VersionFinder, history StateReconstructor, opts Options) *Engine {
	e := &Engine{
		service:  service,
		versions: versions,
		history:  history,
		locker:   opts.Locker,
		metrics:  opts.Metrics,
		codec:    opts.Codec,
		logger:   logging.ComponentLogger("revert"),
	}
	if e.locker == nil {
		e.locker = NoopLocker{}
	}
	if e.metrics == nil {
		e.metrics = noopMetrics{}
	}
	if e.codec == nil {
		e.codec = snapshot.Default()
	}
	return e
}

// Revert 回滚到版本 versionID 发生之前的状态
func (e *Engine) Revert(ctx context.Context, versionID int64) (*Result, error) {
	v, err := e.versions.Find(ctx, versionID)
	if err != nil {
		return nil, err
	}
	h, err := e.service.Registry().Lookup(v.ItemType)
	if err != nil {
		return nil, err
	}

	unlock, err := e.locker.Lock(ctx, v.Key())
	if err != nil {
		return nil, err
	}
	defer unlock()

	var res *Result
	switch v.Event {
	case versionlog.EventCreated:
		res, err = e.undoCreate(ctx, h, v)
	case versionlog.EventDeleted:
		res, err = e.recreate(ctx, h, v)
	default:
		res, err = e.rollback(ctx, h, v)
	}
	if err != nil {
		e.metrics.RevertFailed(v.ItemType, string(errors.GetErrorCode(err)))
		e.logger.Warn(ctx, "revert failed",
			logging.Int64("version_id", v.ID),
			logging.String("item", v.Key().String()),
			logging.Error(err))
		return nil, err
	}

	e.metrics.Reverted(v.ItemType, string(res.Action))
	e.logger.Info(ctx, "version reverted",
		logging.Int64("version_id", v.ID),
		logging.String("item", v.Key().String()),
		logging.String("action", string(res.Action)))
	return res, nil
}

func (e *Engine) undoCreate(ctx context.Context, h *audited.TypeHandle, v *versionlog.Version) (*Result, error) {
	res := &Result{Target: v, Action: ActionNoop}
	err := e.service.Transact(ctx, func(w *audited.Writer) error {
		if _, err := w.Load(ctx, h, v.ItemID); err != nil {
			if errors.IsNotFound(err) {
				return nil
			}
			return err
		}
		return e.service.Guard().Bypass(ctx, "undo create", func(mode audited.WriteMode) error {
			if _, err := w.Delete(ctx, h, v.ItemID, 0, mode); err != nil {
				return err
			}
			res.Action = ActionUndoCreate
			res.Recorded = last(w.Recorded())
			return nil
		})
	})
	if err != nil {
		return nil, withTarget(err, v)
	}
	return res, nil
}

func (e *Engine) recreate(ctx context.Context, h *audited.TypeHandle, v *versionlog.Version) (*Result, error) {
	raw, err := e.codec.Decode(v.Snapshot)
	if err != nil {
		return nil, errors.NewErrorWithCause(errors.ErrCodeReconstructionFailed,
			fmt.Sprintf("版本 %d 的删除前快照无法解析", v.ID), err).
			WithContext("version_id", v.ID)
	}
	return e.forceWrite(ctx, h, v, h.Project(raw), ActionRecreate)
}

func (e *Engine) rollback(ctx context.Context, h *audited.TypeHandle, v *versionlog.Version) (*Result, error) {
	state, err := e.history.StateBefore(ctx, v)
	if err != nil {
		return nil, withTarget(err, v)
	}
	return e.forceWrite(ctx, h, v, state, ActionRollback)
}

func (e *Engine) forceWrite(ctx context.Context, h *audited.TypeHandle, v *versionlog.Version, state snapshot.Fields, action Action) (*Result, error) {
	res := &Result{Target: v, Action: action}
	err := e.service.Transact(ctx, func(w *audited.Writer) error {
		return e.service.Guard().Bypass(ctx, string(action), func(mode audited.WriteMode) error {
			rec, err := w.Update(ctx, h, v.ItemID, 0, state, mode)
			if err != nil {
				return err
			}
			res.Record = rec
			res.Recorded = last(w.Recorded())
			return nil
		})
	})
	if err != nil {
		return nil, withTarget(err, v)
	}
	return res, nil
}

// withTarget 已带 version_id 的错误原样返回
func withTarget(err error, v *versionlog.Version) error {
	if appErr, ok := err.(errors.IError); ok {
		if id, tagged := appErr.Details()["version_id"]; tagged && id == v.ID {
			return err
		}
		return appErr.Wrap(fmt.Sprintf("回滚版本 %d", v.ID)).WithContext("version_id", v.ID)
	}
	return errors.WrapError(err, errors.ErrCodeInternal, fmt.Sprintf("回滚版本 %d 失败", v.ID)).
		WithContext("version_id", v.ID)
}

func last(vs []*versionlog.Version) *versionlog.Version {
	if len(vs) == 0 {
		return nil
	}
	return vs[len(vs)-1]
}
