package versionlog

import (
	"context"
	"time"

	"edutrail/data/db"
	"edutrail/data/db/dialect"
	"edutrail/idgen/snowflake"
)

// IStore 版本日志存储接口
type IStore interface {
	// Append 在 exec（通常是调用方的事务）上追加版本
	Append(ctx context.Context, exec db.IDatabase, in AppendInput) (*Version, error)

	List(ctx context.Context, filter Filter, page Page) (*ListResult, error)
	Find(ctx context.Context, id int64) (*Version, error)
	Neighbors(ctx context.Context, v *Version) (*Neighbors, error)

	// Following 返回同一实体中 sequence 大于 v 的版本，按 sequence 升序
	Following(ctx context.Context, v *Version, limit int) ([]*Version, error)

	Delete(ctx context.Context, id int64) error
	DeleteMany(ctx context.Context, ids []int64) (int64, error)
}

// IRetentionStore 保留清理使用的批量原语
type IRetentionStore interface {
	CountOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time, limit int) (int64, error)

	// DistinctItems 以键集分页方式遍历日志中出现过的实体
	DistinctItems(ctx context.Context, after *ItemKey, limit int) ([]ItemKey, error)

	// KeepFloor 返回需保留的最小 sequence（第 keep 新的版本），版本数不足 keep 时 ok=false
	KeepFloor(ctx context.Context, key ItemKey, keep int) (floor int64, ok bool, err error)
	CountBelowSequence(ctx context.Context, key ItemKey, sequence int64) (int64, error)
	DeleteBelowSequence(ctx context.Context, key ItemKey, sequence int64, limit int) (int64, error)
}

// Options SQLStore 配置
type Options struct {
	Table         string // 默认 versions
	SequenceTable string // 默认 version_sequences

	// DeleteChunk DeleteMany 单条语句的最大 ID 数
	DeleteChunk int

	IDs snowflake.IDGenerator
	Now func() time.Time
}

// SQLStore 基于通用 SQL 接口的版本日志
type SQLStore struct {
	db       db.IDatabase
	table    string
	seqTable string
	chunk    int
	ids      snowflake.IDGenerator
	now      func() time.Time
}

var (
	_ IStore          = (*SQLStore)(nil)
	_ IRetentionStore = (*SQLStore)(nil)
)

// NewSQLStore 创建版本日志存储
func NewSQLStore(database db.IDatabase, opts Options) (*SQLStore, error) {
	s := &SQLStore{
		db:       database,
		table:    opts.Table,
		seqTable: opts.SequenceTable,
		chunk:    opts.DeleteChunk,
		ids:      opts.IDs,
		now:      opts.Now,
	}
	if s.table == "" {
		s.table = "versions"
	}
	if s.seqTable == "" {
		s.seqTable = "version_sequences"
	}
	if s.chunk <= 0 {
		s.chunk = 500
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.ids == nil {
		gen, err := snowflake.NewGenerator(0)
		if err != nil {
			return nil, err
		}
		s.ids = gen
	}
	return s, nil
}

func (s *SQLStore) DB() db.IDatabase { return s.db }
func (s *SQLStore) Table() string    { return s.table }

func (s *SQLStore) dialect() dialect.Dialect {
	return dialect.FromDatabase(s.db)
}

// timestamp 统一为 UTC 微秒精度，与 Postgres TIMESTAMPTZ 对齐
func (s *SQLStore) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}
