// Package app 按配置组装版本日志、回滚、保留清理、摘要与通知
package app

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"edutrail/config"
	core "edutrail/data/db"
	"edutrail/data/db/basic"
	"edutrail/data/db/dialect"
	"edutrail/data/schema"
	"edutrail/digest"
	"edutrail/domain/audited"
	"edutrail/errors"
	"edutrail/history"
	"edutrail/idgen/snowflake"
	"edutrail/logging"
	"edutrail/messaging"
	"edutrail/messaging/transport/natsjetstream"
	"edutrail/messaging/transport/redisstreams"
	msgsync "edutrail/messaging/transport/sync"
	"edutrail/monitoring"
	"edutrail/retention"
	"edutrail/revert"
	"edutrail/storage/entitystore"
	"edutrail/versionlog"
	"edutrail/versions"
)

// App 一组已连通的组件
type App struct {
	Config   *config.Config
	DB       *basic.DB
	Registry *audited.Registry

	VersionLog *versionlog.SQLStore
	Entities   *entitystore.Store
	Service    *audited.Service
	History    *history.Reconstructor
	Reverter   *revert.Engine
	Versions   *versions.Service
	Retention  *retention.Manager
	Digest     *digest.Collector
	Metrics    *monitoring.Metrics

	// Bus 未配置通知传输时为 nil
	Bus *messaging.MessageBus

	redis    *redis.Client
	gatherer prometheus.Gatherer
	logger   logging.Logger
	cancel   context.CancelFunc
	done     chan error
}

// Option 调整组装过程
type Option func(*options)

type options struct {
	registry   *audited.Registry
	sanitizer  audited.Sanitizer
	sink       digest.Sink
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
	now        func() time.Time
}

// WithRegistry 替换默认的审计类型白名单
func WithRegistry(r *audited.Registry) Option { return func(o *options) { o.registry = r } }

// WithSanitizer 富文本清洗
func WithSanitizer(s audited.Sanitizer) Option { return func(o *options) { o.sanitizer = s } }

// WithDigestSink 摘要投递目标，默认写日志
func WithDigestSink(s digest.Sink) Option { return func(o *options) { o.sink = s } }

// WithPrometheus 指定指标注册表，测试中避免重复注册
func WithPrometheus(reg *prometheus.Registry) Option {
	return func(o *options) { o.registerer, o.gatherer = reg, reg }
}

// WithClock 替换时间源
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// ConfigureLogging 按配置设置全局日志级别
func ConfigureLogging(cfg *config.Config) {
	logging.SetLogger(logging.NewLeveledLogger("", logging.ParseLevel(cfg.Logging.Level)))
}

// New 打开数据库并组装全部组件，不建表也不启动后台任务
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		o.registry = audited.DefaultRegistry()
	}

	database, err := basic.New(core.DBConfig{
		Driver:          cfg.Database.Driver,
		Database:        cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		return nil, errors.WrapDatabaseError(ctx, err, "打开数据库")
	}

	a := &App{
		Config:   cfg,
		DB:       database,
		Registry: o.registry,
		gatherer: o.gatherer,
		logger:   logging.ComponentLogger("app"),
	}
	if err := a.build(ctx, o); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, o options) error {
	cfg := a.Config
	ids, err := snowflake.NewGenerator(cfg.NodeID)
	if err != nil {
		return errors.WrapError(err, errors.ErrCodeInvalidInput, "snowflake 节点号无效")
	}

	a.Metrics = monitoring.NewMetrics(o.registerer)

	a.VersionLog, err = versionlog.NewSQLStore(a.DB, versionlog.Options{
		Table:         cfg.Versions.Table,
		SequenceTable: cfg.Versions.SequenceTable,
		DeleteChunk:   cfg.Versions.DeleteChunk,
		IDs:           ids,
		Now:           o.now,
	})
	if err != nil {
		return err
	}
	if a.Entities, err = entitystore.New(ids); err != nil {
		return err
	}

	if cfg.NeedsRedis() {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	}

	var listeners []audited.Listener
	if a.Bus = a.buildBus(); a.Bus != nil {
		listeners = append(listeners, messaging.NewVersionNotifier(a.Bus))
	}

	a.Service = audited.NewService(a.DB, a.Registry, a.Entities, a.VersionLog, audited.Options{
		Sanitizer:           o.sanitizer,
		Listeners:           listeners,
		Metrics:             a.Metrics,
		SkipUpdateSnapshots: cfg.Versions.SkipUpdateSnapshots,
		Now:                 o.now,
	})

	a.History = history.New(a.DB, a.Registry, a.VersionLog, a.Entities, history.Options{
		WalkLimit: cfg.History.WalkLimit,
		CacheSize: cfg.History.CacheSize,
		CacheTTL:  cfg.History.CacheTTL,
	})

	a.Reverter = revert.NewEngine(a.Service, a.VersionLog, a.History, revert.Options{
		Locker:  a.buildLocker(),
		Metrics: a.Metrics,
	})
	a.Versions = versions.NewService(a.Registry, a.VersionLog, a.History, a.Reverter)

	a.Retention = retention.NewManager(a.VersionLog, cfg.Retention, retention.Options{
		Metrics: a.Metrics,
		Now:     o.now,
	})
	a.Digest = digest.NewCollector(a.DB, a.Registry, a.VersionLog, a.Entities, o.sink, cfg.Digest.Limit)

	a.logger.Info(ctx, "application assembled",
		logging.String("driver", cfg.Database.Driver),
		logging.String("locker", cfg.Revert.Locker),
		logging.String("notifications", cfg.Notifications.Transport))
	return nil
}

func (a *App) buildLocker() revert.Locker {
	switch a.Config.Revert.Locker {
	case "local":
		return revert.NewLocalLocker()
	case "redis":
		return revert.NewRedisLocker(a.redis, revert.RedisLockerConfig{
			TTL:  a.Config.Revert.LockTTL,
			Wait: a.Config.Revert.LockWait,
		})
	default:
		return revert.NoopLocker{}
	}
}

func (a *App) buildBus() *messaging.MessageBus {
	n := a.Config.Notifications
	var transport messaging.Transport
	switch n.Transport {
	case "sync":
		transport = msgsync.NewTransport()
	case "nats":
		transport = natsjetstream.NewTransport(natsjetstream.Config{
			URL:           n.NATS.URL,
			Stream:        n.NATS.Stream,
			SubjectPrefix: n.NATS.SubjectPrefix,
			MaxAge:        n.NATS.MaxAge,
		})
	case "redis":
		transport = redisstreams.NewTransport(redisstreams.Config{
			Client:       a.redis,
			StreamPrefix: n.RedisStreams.StreamPrefix,
			MaxLen:       n.RedisStreams.MaxLen,
		})
	default:
		return nil
	}
	bus := messaging.NewMessageBus(transport)
	if n.Source != "" {
		bus.Use(messaging.NewMetadataMiddleware(map[string]any{"source": n.Source}))
	}
	return bus
}

// Migrate 创建版本表、序号表与各审计类型的实体表
func (a *App) Migrate(ctx context.Context) error {
	d := dialect.FromDatabase(a.DB)
	statements := schema.Named("versions", versionlog.DDL(d, a.Config.Versions.Table, a.Config.Versions.SequenceTable))
	statements = append(statements, schema.Named("entities", entitystore.DDL(d, a.Registry.Handles()...))...)
	if err := schema.Ensure(ctx, a.DB, statements); err != nil {
		return errors.WrapDatabaseError(ctx, err, "建表")
	}
	a.logger.Info(ctx, "schema ensured", logging.Int("statements", len(statements)))
	return nil
}

// StartTransport 启动通知传输，未配置时为空操作
func (a *App) StartTransport(ctx context.Context) error {
	if a.Bus == nil {
		return nil
	}
	return a.Bus.Start(ctx)
}

// Start 启动通知传输、定时保留清理与 /metrics（配置了地址时）
func (a *App) Start(ctx context.Context) error {
	if err := a.StartTransport(ctx); err != nil {
		return err
	}
	if err := a.Retention.Start(ctx); err != nil {
		return err
	}
	if a.Config.Metrics.Addr != "" {
		srvCtx, cancel := context.WithCancel(ctx)
		a.cancel = cancel
		a.done = make(chan error, 1)
		go func() { a.done <- monitoring.Serve(srvCtx, a.Config.Metrics.Addr, a.gatherer) }()
	}
	return nil
}

// Close 停止后台任务并释放连接，可重复调用
func (a *App) Close() error {
	var errs []error
	if a.Retention != nil {
		errs = append(errs, a.Retention.Stop())
	}
	if a.cancel != nil {
		a.cancel()
		errs = append(errs, <-a.done)
		a.cancel = nil
	}
	if a.Bus != nil {
		errs = append(errs, a.Bus.Close())
		a.Bus = nil
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
		a.redis = nil
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
		a.DB = nil
	}
	return stderrors.Join(errs...)
}
