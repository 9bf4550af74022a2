package audited

import (
	"context"

	"edutrail/errors"
	"edutrail/logging"
)

// WriteMode 单次写入的并发控制模式
type WriteMode int

const (
	// ModeEnforce 校验乐观锁令牌，不一致即冲突
	ModeEnforce WriteMode = iota
	// ModeForce 跳过令牌校验，只用于回滚写入
	ModeForce
)

func (m WriteMode) String() string {
	if m == ModeForce {
		return "force"
	}
	return "enforce"
}

// ConflictMessage 并发冲突时展示给编辑者的提示
const ConflictMessage = "修改未生效：该记录已被他人先行修改，请刷新后重试"

// NewConflictError 构造冲突错误
func NewConflictError(itemType string, id, expected int64) error {
	return errors.NewError(errors.ErrCodeConflict, ConflictMessage).
		WithContext("item_type", itemType).
		WithContext("item_id", id).
		WithContext("expected_lock_version", expected)
}

// Guard 乐观并发守卫。
//
// 模式总是作为参数传给单次写入，Bypass 只是把 ModeForce 限定在 fn 的作用域内，
// fn 返回后后续写入自然恢复为 ModeEnforce。
type Guard struct {
	logger logging.Logger
}

func NewGuard() *Guard {
	return &Guard{logger: logging.ComponentLogger("guard")}
}

// Check 普通写入前比较令牌
func (g *Guard) Check(mode WriteMode, rec *Record, expected int64) error {
	if mode == ModeForce || rec == nil {
		return nil
	}
	if rec.LockVersion != expected {
		return NewConflictError(rec.Type, rec.ID, expected)
	}
	return nil
}

// Bypass 在 fn 内以 ModeForce 执行一次写入
func (g *Guard) Bypass(ctx context.Context, reason string, fn func(mode WriteMode) error) error {
	g.logger.Debug(ctx, "bypassing optimistic lock", logging.String("reason", reason))
	return fn(ModeForce)
}
