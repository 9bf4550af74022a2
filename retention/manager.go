// Package retention 按保留策略批量清理版本日志。
//
// 第一遍删除超过保留期的版本，第二遍把每个实体的版本数压到上限以内。
// 每批删除独立提交并带重试，批次之间检查 ctx，重复执行是幂等的。
package retention

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"edutrail/errors"
	"edutrail/logging"
	"edutrail/patterns/retry"
	"edutrail/versionlog"
)

// Policy 保留策略
type Policy struct {
	// MaxAge 版本保留时长，0 表示不按时间清理
	MaxAge time.Duration `mapstructure:"max_age"`

	// MaxPerEntity 每个实体最多保留的版本数，0 表示不限
	MaxPerEntity int `mapstructure:"max_per_entity"`

	// BatchSize 单条 DELETE 的最大行数
	BatchSize int `mapstructure:"batch_size"`

	// PairBatchSize 第二遍每页遍历的实体数
	PairBatchSize int `mapstructure:"pair_batch_size"`

	// Interval 定时运行间隔
	Interval time.Duration `mapstructure:"interval"`

	// DryRun 只统计不删除
	DryRun bool `mapstructure:"dry_run"`
}

// DefaultPolicy 180 天、每实体 50 个版本
func DefaultPolicy() Policy {
	return Policy{
		MaxAge:        180 * 24 * time.Hour,
		MaxPerEntity:  50,
		BatchSize:     1000,
		PairBatchSize: 500,
		Interval:      time.Hour,
	}
}

// Result 一次运行的统计
type Result struct {
	AgeDeleted   int64
	CapDeleted   int64
	ItemsScanned int
	DryRun       bool
	Duration     time.Duration
}

// Total 两遍合计
func (r *Result) Total() int64 { return r.AgeDeleted + r.CapDeleted }

// Metrics 清理指标钩子
type Metrics interface {
	RetentionDeleted(pass string, n int64)
	RetentionRun(d time.Duration, err error)
}

type noopMetrics struct{}

func (noopMetrics) RetentionDeleted(string, int64)     {}
func (noopMetrics) RetentionRun(time.Duration, error) {}

// Options 管理器配置
type Options struct {
	Retry   retry.Config
	Metrics Metrics
	Now     func() time.Time
}

// Manager 保留清理管理器
type Manager struct {
	store   versionlog.IRetentionStore
	policy  Policy
	retry   retry.Config
	metrics Metrics
	now     func() time.Time
	log     logging.Logger

	running  sync.Mutex
	started  atomic.Bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewManager 创建管理器，未设置的批次参数取默认值
func NewManager(store versionlog.IRetentionStore, policy Policy, opts Options) *Manager {
	def := DefaultPolicy()
	if policy.BatchSize <= 0 {
		policy.BatchSize = def.BatchSize
	}
	if policy.PairBatchSize <= 0 {
		policy.PairBatchSize = def.PairBatchSize
	}
	if policy.Interval <= 0 {
		policy.Interval = def.Interval
	}
	m := &Manager{
		store:   store,
		policy:  policy,
		retry:   opts.Retry,
		metrics: opts.Metrics,
		now:     opts.Now,
		log:     logging.ComponentLogger("retention"),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	if m.retry.MaxAttempts <= 0 {
		m.retry = retry.DefaultConfig()
	}
	if m.retry.Retryable == nil {
		m.retry.Retryable = retryable
	}
	if m.metrics == nil {
		m.metrics = noopMetrics{}
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

func (m *Manager) Policy() Policy { return m.policy }

// Run 执行一次两遍清理；同一管理器上的并发调用串行执行
func (m *Manager) Run(ctx context.Context) (*Result, error) {
	m.running.Lock()
	defer m.running.Unlock()

	start := time.Now()
	res := &Result{DryRun: m.policy.DryRun}
	m.log.Info(ctx, "retention started",
		logging.Duration("max_age", m.policy.MaxAge),
		logging.Int("max_per_entity", m.policy.MaxPerEntity),
		logging.Bool("dry_run", m.policy.DryRun))

	err := m.agePass(ctx, res)
	if err == nil {
		err = m.capPass(ctx, res)
	}
	res.Duration = time.Since(start)
	m.metrics.RetentionRun(res.Duration, err)

	if err != nil {
		m.log.Error(ctx, "retention failed",
			logging.Int64("age_deleted", res.AgeDeleted),
			logging.Int64("cap_deleted", res.CapDeleted),
			logging.Error(err))
		return res, err
	}
	m.log.Info(ctx, "retention completed",
		logging.Int64("age_deleted", res.AgeDeleted),
		logging.Int64("cap_deleted", res.CapDeleted),
		logging.Int("items_scanned", res.ItemsScanned),
		logging.Duration("duration", res.Duration))
	return res, nil
}

func (m *Manager) agePass(ctx context.Context, res *Result) error {
	if m.policy.MaxAge <= 0 {
		return nil
	}
	cutoff := m.now().Add(-m.policy.MaxAge)

	if m.policy.DryRun {
		n, err := m.store.CountOlderThan(ctx, cutoff)
		res.AgeDeleted = n
		return err
	}

	n, err := m.drain(ctx, func(ctx context.Context) (int64, error) {
		return m.store.DeleteOlderThan(ctx, cutoff, m.policy.BatchSize)
	})
	res.AgeDeleted = n
	m.metrics.RetentionDeleted("age", n)
	return err
}

func (m *Manager) capPass(ctx context.Context, res *Result) error {
	if m.policy.MaxPerEntity <= 0 {
		return nil
	}
	var after *versionlog.ItemKey
	for {
		if err := ctx.Err(); err != nil {
			return errors.Normalize(err)
		}
		keys, err := m.store.DistinctItems(ctx, after, m.policy.PairBatchSize)
		if err != nil {
			return err
		}
		for _, key := range keys {
			n, err := m.capItem(ctx, key)
			res.CapDeleted += n
			if err != nil {
				m.metrics.RetentionDeleted("cap", res.CapDeleted)
				return err
			}
		}
		res.ItemsScanned += len(keys)
		if len(keys) < m.policy.PairBatchSize {
			break
		}
		last := keys[len(keys)-1]
		after = &last
	}
	m.metrics.RetentionDeleted("cap", res.CapDeleted)
	return nil
}

func (m *Manager) capItem(ctx context.Context, key versionlog.ItemKey) (int64, error) {
	floor, ok, err := m.store.KeepFloor(ctx, key, m.policy.MaxPerEntity)
	if err != nil || !ok {
		return 0, err
	}
	if m.policy.DryRun {
		return m.store.CountBelowSequence(ctx, key, floor)
	}
	return m.drain(ctx, func(ctx context.Context) (int64, error) {
		return m.store.DeleteBelowSequence(ctx, key, floor, m.policy.BatchSize)
	})
}

// drain 重复执行批量删除直到某批不满
func (m *Manager) drain(ctx context.Context, batch func(ctx context.Context) (int64, error)) (int64, error) {
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, errors.Normalize(err)
		}
		var n int64
		err := retry.Do(ctx, func(ctx context.Context, attempt int) error {
			var err error
			n, err = batch(ctx)
			if err != nil && attempt > 1 {
				m.log.Warn(ctx, "retention batch retry failed", logging.Int("attempt", attempt), logging.Error(err))
			}
			return err
		}, m.retry)
		if err != nil {
			return total, err
		}
		total += n
		if n < int64(m.policy.BatchSize) {
			return total, nil
		}
	}
}

// Start 按 Interval 定时运行，直到 Stop 或 ctx 结束
func (m *Manager) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return errors.NewError(errors.ErrCodeInvalidInput, "保留清理已在运行")
	}
	go m.loop(ctx)
	return nil
}

// Stop 停止定时运行并等待当前一次结束
func (m *Manager) Stop() error {
	if !m.started.Load() {
		return nil
	}
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	<-m.doneCh
	return nil
}

func (m *Manager) loop(ctx context.Context) {
	ticker := time.NewTicker(m.policy.Interval)
	defer func() { ticker.Stop(); close(m.doneCh) }()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			if _, err := m.Run(ctx); err != nil {
				m.log.Error(ctx, "retention run failed in loop", logging.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// retryable 数据库错误重试，取消与超时不重试
func retryable(err error) bool {
	switch errors.GetErrorCode(err) {
	case errors.ErrCodeCanceled, errors.ErrCodeTimeout:
		return false
	}
	return true
}
