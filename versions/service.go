// Package versions 是版本历史对外的查询与操作入口，只接受白名单内的类型
package versions

import (
	"context"
	"fmt"

	"edutrail/domain/audited"
	"edutrail/errors"
	"edutrail/history"
	"edutrail/logging"
	"edutrail/revert"
	"edutrail/versionlog"
)

// Reverter 回滚能力（revert.Engine 实现）
type Reverter interface {
	Revert(ctx context.Context, versionID int64) (*revert.Result, error)
}

// View 版本详情页所需的数据
type View struct {
	Version   *versionlog.Version
	Neighbors *versionlog.Neighbors
	Diffs     []history.FieldDiff

	// Lines 长文本字段的逐行差异，只包含前后不同的字段
	Lines map[string][]history.Line
}

// Service 版本历史服务
type Service struct {
	registry *audited.Registry
	store    versionlog.IStore
	history  *history.Reconstructor
	reverter Reverter
	log      logging.Logger
}

func NewService(registry *audited.Registry, store versionlog.IStore, h *history.Reconstructor, reverter Reverter) *Service {
	return &Service{
		registry: registry,
		store:    store,
		history:  h,
		reverter: reverter,
		log:      logging.ComponentLogger("versions"),
	}
}

// ListVersions 按条件分页列出版本，最新的在前
func (s *Service) ListVersions(ctx context.Context, filter versionlog.Filter, page versionlog.Page) (*versionlog.ListResult, error) {
	if filter.ItemType != "" {
		if _, err := s.registry.Lookup(filter.ItemType); err != nil {
			return nil, err
		}
	}
	if filter.Event != "" && !filter.Event.Valid() {
		return nil, errors.NewError(errors.ErrCodeInvalidInput, fmt.Sprintf("未知的事件类型 %q", filter.Event))
	}
	return s.store.List(ctx, filter, page)
}

// GetVersion 读取单个版本，非白名单类型返回 INVALID_TARGET
func (s *Service) GetVersion(ctx context.Context, id int64) (*versionlog.Version, error) {
	v, err := s.store.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.registry.Lookup(v.ItemType); err != nil {
		return nil, err
	}
	return v, nil
}

// DiffField 单字段前后值，重建失败时 Unknown 为 true 而不是报错
func (s *Service) DiffField(ctx context.Context, id int64, field string) (history.FieldDiff, error) {
	v, err := s.GetVersion(ctx, id)
	if err != nil {
		return history.FieldDiff{}, err
	}
	return s.history.FieldBeforeAfter(ctx, v, field), nil
}

// ShowVersion 版本详情：全部字段差异、相邻版本与长文本逐行差异
func (s *Service) ShowVersion(ctx context.Context, id int64) (*View, error) {
	v, err := s.GetVersion(ctx, id)
	if err != nil {
		return nil, err
	}
	neighbors, err := s.store.Neighbors(ctx, v)
	if err != nil {
		return nil, err
	}

	h, _ := s.registry.Lookup(v.ItemType)
	view := &View{
		Version:   v,
		Neighbors: neighbors,
		Diffs:     s.history.Show(ctx, v),
		Lines:     make(map[string][]history.Line),
	}
	for _, d := range view.Diffs {
		spec, _ := h.Field(d.Field)
		if spec.Kind == audited.KindText && d.Changed() {
			view.Lines[d.Field] = history.LineDiff(d.Before, d.After)
		}
	}
	return view, nil
}

// Revert 回滚到版本发生之前的状态
func (s *Service) Revert(ctx context.Context, id int64) (*revert.Result, error) {
	if _, err := s.GetVersion(ctx, id); err != nil {
		return nil, err
	}
	return s.reverter.Revert(ctx, id)
}

// DeleteVersion 删除单个版本，不重排 sequence
func (s *Service) DeleteVersion(ctx context.Context, id int64) error {
	v, err := s.GetVersion(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info(ctx, "version deleted",
		logging.Int64("version_id", id),
		logging.String("item", v.Key().String()),
		logging.String("actor", actorOf(ctx)))
	return nil
}

// BulkDelete 批量删除，不存在的 ID 被忽略，返回实际删除数
func (s *Service) BulkDelete(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, errors.NewError(errors.ErrCodeInvalidInput, "未选择要删除的版本")
	}
	n, err := s.store.DeleteMany(ctx, ids)
	if err != nil {
		return n, err
	}
	s.log.Info(ctx, "versions bulk deleted",
		logging.Int("requested", len(ids)),
		logging.Int64("deleted", n),
		logging.String("actor", actorOf(ctx)))
	return n, nil
}

func actorOf(ctx context.Context) string {
	if a := audited.ActorFromContext(ctx); a != nil {
		return *a
	}
	return ""
}
