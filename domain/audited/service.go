// Package audited 承载审计实体的写入路径。
//
// 普通编辑经过校验、富文本清洗与乐观锁检查后写入实体，
// 并在同一事务内向版本日志追加一条版本；回滚写入以 ModeForce
// 走同一条追加路径，因此回滚本身也会留下版本。
package audited

import (
	"context"
	"time"

	"edutrail/data/db"
	"edutrail/logging"
	"edutrail/snapshot"
	"edutrail/versionlog"
)

// VersionAppender 版本追加能力（versionlog.SQLStore 实现）
type VersionAppender interface {
	Append(ctx context.Context, exec db.IDatabase, in versionlog.AppendInput) (*versionlog.Version, error)
}

// Metrics 写入路径的指标钩子
type Metrics interface {
	VersionAppended(itemType string, event versionlog.Event)
	WriteConflict(itemType string)
}

type noopMetrics struct{}

func (noopMetrics) VersionAppended(string, versionlog.Event) {}
func (noopMetrics) WriteConflict(string)                     {}

// Options 服务配置
type Options struct {
	Sanitizer Sanitizer
	Listeners []Listener
	Metrics   Metrics
	Codec     *snapshot.Codec

	// SkipUpdateSnapshots updated 版本不保存更新前快照，只保留变更集
	SkipUpdateSnapshots bool

	Now func() time.Time
}

// Service 审计实体服务
type Service struct {
	db        db.IDatabase
	registry  *Registry
	repo      IRepository
	versions  VersionAppender
	guard     *Guard
	sanitizer Sanitizer
	listeners []Listener
	metrics   Metrics
	codec     *snapshot.Codec
	snapshots bool
	now       func() time.Time
	logger    logging.Logger
}

// NewService 创建审计实体服务
func NewService(database db.IDatabase, registry *Registry, repo IRepository, versions VersionAppender, opts Options) *Service {
	s := &Service{
		db:        database,
		registry:  registry,
		repo:      repo,
		versions:  versions,
		guard:     NewGuard(),
		sanitizer: opts.Sanitizer,
		listeners: opts.Listeners,
		metrics:   opts.Metrics,
		codec:     opts.Codec,
		snapshots: !opts.SkipUpdateSnapshots,
		now:       opts.Now,
		logger:    logging.ComponentLogger("audited"),
	}
	if s.sanitizer == nil {
		s.sanitizer = identitySanitizer{}
	}
	if s.metrics == nil {
		s.metrics = noopMetrics{}
	}
	if s.codec == nil {
		s.codec = snapshot.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *Service) Registry() *Registry { return s.registry }
func (s *Service) Guard() *Guard       { return s.guard }

// AddListener 追加提交后通知的监听者，需在开始写入前调用
func (s *Service) AddListener(l Listener) {
	s.listeners = append(s.listeners, l)
}

// Get 读取当前状态
func (s *Service) Get(ctx context.Context, itemType string, id int64) (*Record, error) {
	h, err := s.registry.Lookup(itemType)
	if err != nil {
		return nil, err
	}
	return s.repo.Load(ctx, s.db, h, id)
}

// Create 普通创建：校验后插入，令牌为 1，记录 created 版本
func (s *Service) Create(ctx context.Context, itemType string, fields snapshot.Fields) (*Record, error) {
	h, err := s.registry.Lookup(itemType)
	if err != nil {
		return nil, err
	}
	var rec *Record
	err = s.Transact(ctx, func(w *Writer) error {
		rec, err = w.Create(ctx, h, fields, ModeEnforce)
		return err
	})
	return rec, err
}

// Update 普通编辑：expected 为编辑开始时看到的令牌
func (s *Service) Update(ctx context.Context, itemType string, id, expected int64, changes snapshot.Fields) (*Record, error) {
	h, err := s.registry.Lookup(itemType)
	if err != nil {
		return nil, err
	}
	var rec *Record
	err = s.Transact(ctx, func(w *Writer) error {
		rec, err = w.Update(ctx, h, id, expected, changes, ModeEnforce)
		return err
	})
	return rec, err
}

// Delete 普通删除，记录带删除前快照的 deleted 版本
func (s *Service) Delete(ctx context.Context, itemType string, id, expected int64) error {
	h, err := s.registry.Lookup(itemType)
	if err != nil {
		return err
	}
	return s.Transact(ctx, func(w *Writer) error {
		_, err := w.Delete(ctx, h, id, expected, ModeEnforce)
		return err
	})
}

// Transact 在一个事务内执行 fn，提交后把记录的版本通知给监听者
func (s *Service) Transact(ctx context.Context, fn func(w *Writer) error) error {
	var recorded []*versionlog.Version
	err := db.InTx(ctx, s.db, func(tx db.IDatabase) error {
		w := &Writer{s: s, exec: tx}
		if err := fn(w); err != nil {
			return err
		}
		recorded = w.recorded
		return nil
	})
	if err != nil {
		return err
	}
	for _, v := range recorded {
		s.metrics.VersionAppended(v.ItemType, v.Event)
	}
	s.notify(ctx, recorded)
	return nil
}

func (s *Service) notify(ctx context.Context, recorded []*versionlog.Version) {
	if len(recorded) == 0 {
		return
	}
	for _, l := range s.listeners {
		if err := l.VersionsRecorded(ctx, recorded); err != nil {
			s.logger.Warn(ctx, "version listener failed",
				logging.Int64("first_version_id", recorded[0].ID),
				logging.Int("versions", len(recorded)),
				logging.Error(err))
		}
	}
}
