// Package digest 汇总一个时间窗口内的编辑记录，交给 Sink 投递
package digest

import (
	"context"
	"sort"
	"time"

	"edutrail/data/db"
	"edutrail/domain/audited"
	"edutrail/logging"
	"edutrail/versionlog"
)

// Entry 一次编辑
type Entry struct {
	VersionID int64
	At        time.Time
	Actor     *string
	ItemType  string
	ItemID    int64
	Title     string
	Fields    []string // 变更的字段，按名称排序
}

// Digest 窗口 [Since, Until) 内的编辑
type Digest struct {
	Since   time.Time
	Until   time.Time
	Entries []Entry
}

func (d *Digest) Empty() bool { return len(d.Entries) == 0 }

// Sink 摘要投递目标
type Sink interface {
	Deliver(ctx context.Context, d *Digest) error
}

// SinkFunc 函数适配
type SinkFunc func(ctx context.Context, d *Digest) error

func (f SinkFunc) Deliver(ctx context.Context, d *Digest) error { return f(ctx, d) }

// VersionWindow 按时间窗口正序列出版本
type VersionWindow interface {
	ListAscending(ctx context.Context, filter versionlog.Filter, itemTypes []string, limit int) ([]*versionlog.Version, error)
}

// TitleLookup 批量读取实体标题（entitystore.Store 实现）
type TitleLookup interface {
	Titles(ctx context.Context, exec db.IDatabase, h *audited.TypeHandle, ids []int64) (map[int64]string, error)
}

// Collector 摘要收集器
type Collector struct {
	db       db.IDatabase
	registry *audited.Registry
	versions VersionWindow
	titles   TitleLookup
	sink     Sink
	limit    int
	log      logging.Logger
}

// NewCollector limit 为单个窗口最多收集的编辑数，<=0 时为 1000
func NewCollector(database db.IDatabase, registry *audited.Registry, versions VersionWindow, titles TitleLookup, sink Sink, limit int) *Collector {
	if limit <= 0 {
		limit = 1000
	}
	if sink == nil {
		sink = NewLogSink(nil)
	}
	return &Collector{
		db:       database,
		registry: registry,
		versions: versions,
		titles:   titles,
		sink:     sink,
		limit:    limit,
		log:      logging.ComponentLogger("digest"),
	}
}

// PreviousHour now 所在小时的前一个整点小时
func PreviousHour(now time.Time) (since, until time.Time) {
	until = now.UTC().Truncate(time.Hour)
	return until.Add(-time.Hour), until
}

// Collect 收集窗口内白名单类型的 updated 版本
func (c *Collector) Collect(ctx context.Context, since, until time.Time) (*Digest, error) {
	versions, err := c.versions.ListAscending(ctx, versionlog.Filter{
		Event: versionlog.EventUpdated,
		Since: since,
		Until: until,
	}, c.registry.Types(), c.limit)
	if err != nil {
		return nil, err
	}

	d := &Digest{Since: since.UTC(), Until: until.UTC(), Entries: make([]Entry, 0, len(versions))}
	titles := c.lookupTitles(ctx, versions)
	for _, v := range versions {
		fields := make([]string, 0, len(v.Changeset))
		for name := range v.Changeset {
			fields = append(fields, name)
		}
		sort.Strings(fields)
		d.Entries = append(d.Entries, Entry{
			VersionID: v.ID,
			At:        v.CreatedAt,
			Actor:     v.Actor,
			ItemType:  v.ItemType,
			ItemID:    v.ItemID,
			Title:     titles[v.Key()],
			Fields:    fields,
		})
	}
	return d, nil
}

// Send 收集并投递，窗口内没有编辑时不投递
func (c *Collector) Send(ctx context.Context, since, until time.Time) (*Digest, error) {
	d, err := c.Collect(ctx, since, until)
	if err != nil {
		return nil, err
	}
	if d.Empty() {
		c.log.Debug(ctx, "no edits in window", logging.Any("since", d.Since), logging.Any("until", d.Until))
		return d, nil
	}
	if err := c.sink.Deliver(ctx, d); err != nil {
		return d, err
	}
	c.log.Info(ctx, "edits digest delivered", logging.Int("entries", len(d.Entries)))
	return d, nil
}

// lookupTitles 标题读取失败只记日志，对应条目标题留空
func (c *Collector) lookupTitles(ctx context.Context, versions []*versionlog.Version) map[versionlog.ItemKey]string {
	out := make(map[versionlog.ItemKey]string)
	if c.titles == nil {
		return out
	}
	ids := make(map[string][]int64)
	seen := make(map[versionlog.ItemKey]bool)
	for _, v := range versions {
		if !seen[v.Key()] {
			seen[v.Key()] = true
			ids[v.ItemType] = append(ids[v.ItemType], v.ItemID)
		}
	}
	for itemType, list := range ids {
		h, err := c.registry.Lookup(itemType)
		if err != nil {
			continue
		}
		titles, err := c.titles.Titles(ctx, c.db, h, list)
		if err != nil {
			c.log.Warn(ctx, "load titles failed", logging.String("item_type", itemType), logging.Error(err))
			continue
		}
		for id, title := range titles {
			out[versionlog.ItemKey{Type: itemType, ID: id}] = title
		}
	}
	return out
}

// LogSink 把摘要写入日志
type LogSink struct {
	log logging.Logger
}

func NewLogSink(logger logging.Logger) *LogSink {
	if logger == nil {
		logger = logging.ComponentLogger("digest")
	}
	return &LogSink{log: logger}
}

func (s *LogSink) Deliver(ctx context.Context, d *Digest) error {
	for _, e := range d.Entries {
		actor := ""
		if e.Actor != nil {
			actor = *e.Actor
		}
		s.log.Info(ctx, "edit",
			logging.String("item_type", e.ItemType),
			logging.Int64("item_id", e.ItemID),
			logging.String("title", e.Title),
			logging.String("actor", actor),
			logging.Any("fields", e.Fields),
			logging.Any("at", e.At))
	}
	return nil
}
