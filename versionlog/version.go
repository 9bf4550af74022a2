// Package versionlog 是审计实体的只追加版本日志。
//
// 每个 (item_type, item_id) 的版本按 sequence 全序排列，
// sequence 由计数表在写实体的同一事务内分配，稠密且永不复用。
// 版本写入后不可修改，唯一允许的写操作是删除（保留清理或显式清除）。
package versionlog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"edutrail/snapshot"
)

// Event 版本事件类型
type Event string

const (
	EventCreated Event = "created"
	EventUpdated Event = "updated"
	EventDeleted Event = "deleted"
)

// Valid 是否为已知事件类型
func (e Event) Valid() bool {
	switch e {
	case EventCreated, EventUpdated, EventDeleted:
		return true
	}
	return false
}

// ItemKey 标识一个审计实体
type ItemKey struct {
	Type string
	ID   int64
}

func (k ItemKey) String() string {
	return fmt.Sprintf("%s#%d", k.Type, k.ID)
}

// Change 单个字段的 [旧值, 新值]
type Change struct {
	Old any
	New any
}

// MarshalJSON 序列化为二元数组
func (c Change) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{c.Old, c.New})
}

// UnmarshalJSON 解析二元数组，数字按快照规则规范化
func (c *Change) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var pair []any
	if err := dec.Decode(&pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("changeset entry must have 2 elements, got %d", len(pair))
	}
	c.Old = snapshot.NormalizeValue(pair[0])
	c.New = snapshot.NormalizeValue(pair[1])
	return nil
}

// Changeset 字段名 -> 变更
type Changeset map[string]Change

// Version 一条不可变的版本记录
type Version struct {
	ID        int64     `json:"id"`
	ItemType  string    `json:"item_type"`
	ItemID    int64     `json:"item_id"`
	Sequence  int64     `json:"sequence"`
	Event     Event     `json:"event"`
	Actor     *string   `json:"actor"` // 操作者，未知时为 nil
	CreatedAt time.Time `json:"created_at"`

	// Changeset updated 事件的字段变更
	Changeset Changeset `json:"changeset,omitempty"`

	// Snapshot 编码后的被跟踪字段：
	// created 为创建后的状态，deleted 为删除前的状态（必有），updated 为更新前的状态（可选）
	Snapshot []byte `json:"-"`
}

// Key 版本所属实体
func (v *Version) Key() ItemKey {
	return ItemKey{Type: v.ItemType, ID: v.ItemID}
}

// HasSnapshot 是否携带快照
func (v *Version) HasSnapshot() bool {
	return len(v.Snapshot) > 0
}

// ActorOrEmpty 便于日志输出
func (v *Version) ActorOrEmpty() string {
	if v.Actor == nil {
		return ""
	}
	return *v.Actor
}

// AppendInput 追加版本所需的数据
type AppendInput struct {
	ItemType  string
	ItemID    int64
	Event     Event
	Actor     *string
	Changeset Changeset
	Snapshot  []byte
}

// Filter 列表过滤条件，零值字段不参与过滤
type Filter struct {
	ItemType string
	ItemID   *int64
	Event    Event
	Since    time.Time // created_at >= Since
	Until    time.Time // created_at < Until
}

// Page 分页参数，Number 从 1 开始
type Page struct {
	Number int
	Size   int
}

const (
	DefaultPageSize = 25
	MaxPageSize     = 200
)

// Normalize 补齐默认值并限制上限
func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size <= 0 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

// ListResult 列表结果
type ListResult struct {
	Versions []*Version
	Page     Page
	HasMore  bool
}

// Neighbors 同一实体内按 sequence 相邻的版本
type Neighbors struct {
	Previous *Version
	Next     *Version
}
