package audited

import (
	"context"

	"edutrail/data/db"
)

// IRepository 审计实体的存储契约。
//
// 每个方法都接收执行者 exec，可以是调用方开启的事务，
// 这样实体写入与版本追加在同一事务内提交。
type IRepository interface {
	// Load 读取当前状态，不存在返回 NOT_FOUND
	Load(ctx context.Context, exec db.IDatabase, h *TypeHandle, id int64) (*Record, error)

	// Insert 插入新行，令牌置为 1；rec.ID 为 0 时由仓储分配
	Insert(ctx context.Context, exec db.IDatabase, h *TypeHandle, rec *Record) error

	// Save 写回字段。
	// ModeEnforce 时按 expected 做条件更新，影响 0 行返回 CONFLICT；
	// ModeForce 时无条件令牌 +1，行不存在则以令牌 1 插入。
	// 成功后 rec.LockVersion 为写入后的令牌。
	Save(ctx context.Context, exec db.IDatabase, h *TypeHandle, rec *Record, expected int64, mode WriteMode) error

	// Delete 删除行。ModeEnforce 时令牌不一致返回 CONFLICT，不存在返回 NOT_FOUND
	Delete(ctx context.Context, exec db.IDatabase, h *TypeHandle, id, expected int64, mode WriteMode) error
}

// ForceSave 以 ModeForce 保存
func ForceSave(ctx context.Context, repo IRepository, exec db.IDatabase, h *TypeHandle, rec *Record) error {
	return repo.Save(ctx, exec, h, rec, 0, ModeForce)
}
