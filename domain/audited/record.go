package audited

import (
	"time"

	"edutrail/snapshot"
	"edutrail/versionlog"
)

// Record 一条审计实体的当前状态
type Record struct {
	Type string
	ID   int64

	// LockVersion 乐观锁令牌，每次成功写入 +1，创建后为 1
	LockVersion int64

	// Fields 被跟踪字段（已投影）
	Fields snapshot.Fields

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Key 版本日志中的实体标识
func (r *Record) Key() versionlog.ItemKey {
	return versionlog.ItemKey{Type: r.Type, ID: r.ID}
}

// Clone 深拷贝字段
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Fields = r.Fields.Clone()
	return &cp
}
