// Package testenv 为各包测试搭建 sqlite 临时库上的完整写入路径
package testenv

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"edutrail/data/db"
	"edutrail/data/db/basic"
	"edutrail/data/db/dialect"
	"edutrail/data/schema"
	"edutrail/domain/audited"
	"edutrail/snapshot"
	"edutrail/storage/entitystore"
	"edutrail/versionlog"
)

// Clock 可手动推进的时钟
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

func NewClock(t time.Time) *Clock { return &Clock{t: t} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Advance 推进时钟
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// Env 一套互相连通的组件
type Env struct {
	DB       *basic.DB
	Clock    *Clock
	Registry *audited.Registry
	Versions *versionlog.SQLStore
	Entities *entitystore.Store
	Service  *audited.Service
}

type settings struct {
	service  audited.Options
	maxConns int
}

// Option 调整服务或连接配置
type Option func(*settings)

// WithoutUpdateSnapshots updated 版本只记录变更集
func WithoutUpdateSnapshots() Option {
	return func(s *settings) { s.service.SkipUpdateSnapshots = true }
}

// WithSanitizer 指定富文本清洗
func WithSanitizer(sanitizer audited.Sanitizer) Option {
	return func(s *settings) { s.service.Sanitizer = sanitizer }
}

// WithListener 追加监听者
func WithListener(l audited.Listener) Option {
	return func(s *settings) { s.service.Listeners = append(s.service.Listeners, l) }
}

// WithMaxOpenConns 连接池大小，默认 1；并发写入的测试需要多个连接
func WithMaxOpenConns(n int) Option {
	return func(s *settings) { s.maxConns = n }
}

// New 创建临时库并建表
func New(t *testing.T, opts ...Option) *Env {
	t.Helper()
	clock := NewClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	st := settings{service: audited.Options{Now: clock.Now}, maxConns: 1}
	for _, opt := range opts {
		opt(&st)
	}

	database, err := basic.New(db.DBConfig{
		Driver:       "sqlite",
		Database:     filepath.Join(t.TempDir(), "edutrail.db"),
		MaxOpenConns: st.maxConns,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	registry := audited.DefaultRegistry()
	d := dialect.New("sqlite")
	ctx := context.Background()
	require.NoError(t, schema.Ensure(ctx, database, schema.Named("versions", versionlog.DDL(d, "", ""))))
	require.NoError(t, schema.Ensure(ctx, database, schema.Named("entities", entitystore.DDL(d, registry.Handles()...))))

	versions, err := versionlog.NewSQLStore(database, versionlog.Options{Now: clock.Now})
	require.NoError(t, err)
	entities, err := entitystore.New(nil)
	require.NoError(t, err)

	svc := audited.NewService(database, registry, entities, versions, st.service)

	return &Env{
		DB:       database,
		Clock:    clock,
		Registry: registry,
		Versions: versions,
		Entities: entities,
		Service:  svc,
	}
}

// Handle 按类型名取类型描述
func (e *Env) Handle(t *testing.T, itemType string) *audited.TypeHandle {
	t.Helper()
	h, err := e.Registry.Lookup(itemType)
	require.NoError(t, err)
	return h
}

// BookSection 一组合法的课程页面字段
func BookSection(heading string) snapshot.Fields {
	return snapshot.Fields{
		"heading":  heading,
		"content":  "<p>" + heading + " body</p>",
		"position": int64(1),
		"is_free":  false,
		"book_id":  int64(10),
	}
}

// QuizQuestion 一组合法的测验题字段
func QuizQuestion(question string) snapshot.Fields {
	return snapshot.Fields{
		"question":        question,
		"choice1":         "A",
		"choice2":         "B",
		"choice3":         "C",
		"choice4":         "D",
		"correct_choice":  int64(2),
		"explanation":     "because B",
		"position":        int64(1),
		"quiz_id":         int64(3),
		"quiz_section_id": int64(4),
	}
}

// History 某实体的全部版本，按 sequence 升序
func (e *Env) History(t *testing.T, itemType string, id int64) []*versionlog.Version {
	t.Helper()
	res, err := e.Versions.List(context.Background(), versionlog.Filter{ItemType: itemType, ItemID: &id},
		versionlog.Page{Number: 1, Size: versionlog.MaxPageSize})
	require.NoError(t, err)
	out := res.Versions
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}
