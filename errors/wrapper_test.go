package errors

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
)

// TestWrap_NilError 测试包装nil错误
func TestWrap_NilError(t *testing.T) {
	if WrapWithLog(context.Background(), nil, ErrCodeInternal, "消息") != nil {
		t.Error("包装nil错误应该返回nil")
	}
	if WrapDatabaseError(context.Background(), nil, "操作") != nil {
		t.Error("包装nil数据库错误应该返回nil")
	}
}

// TestWrapWithLog 保留原始错误
func TestWrapWithLog(t *testing.T) {
	cause := errors.New("原始错误")
	wrapped := WrapWithLog(context.Background(), cause, ErrCodeQueue, "发布失败")
	if !errors.Is(wrapped, cause) {
		t.Error("包装后应能通过 errors.Is 找到原始错误")
	}
	if GetErrorCode(wrapped) != ErrCodeQueue {
		t.Errorf("错误码应为 %s, 实际 %s", ErrCodeQueue, GetErrorCode(wrapped))
	}
}

// TestNotFoundHelpers 版本与实体不存在时携带定位信息
func TestNotFoundHelpers(t *testing.T) {
	v := VersionNotFound(7)
	if !IsNotFound(v) || v.Details()["version_id"] != int64(7) {
		t.Errorf("VersionNotFound 详情不正确: %v", v.Details())
	}
	e := EntityNotFound("BookSection", 3)
	if e.Error() != "[NOT_FOUND] BookSection #3 不存在" {
		t.Errorf("消息不正确: %s", e.Error())
	}
	if e.Details()["item_type"] != "BookSection" || e.Details()["item_id"] != int64(3) {
		t.Errorf("EntityNotFound 详情不正确: %v", e.Details())
	}
}

// TestWrapDatabaseError_NoRows 测试 sql.ErrNoRows 映射为 NOT_FOUND
func TestWrapDatabaseError_NoRows(t *testing.T) {
	wrapped := WrapDatabaseError(context.Background(), sql.ErrNoRows, "查询版本")
	if !IsNotFound(wrapped) {
		t.Errorf("sql.ErrNoRows 应映射为 NOT_FOUND, 实际 %v", wrapped)
	}
}

// TestWrapDatabaseError_KeepsCode 已有错误码的错误不被改写为 DATABASE_ERROR
func TestWrapDatabaseError_KeepsCode(t *testing.T) {
	conflict := NewError(ErrCodeConflict, "令牌过期")
	wrapped := WrapDatabaseError(context.Background(), conflict, "保存实体")
	if !IsConflict(wrapped) {
		t.Errorf("应保持 CONFLICT, 实际 %v", wrapped)
	}
}

// TestWrapDatabaseError_Generic 普通错误包装为 DATABASE_ERROR
func TestWrapDatabaseError_Generic(t *testing.T) {
	wrapped := WrapDatabaseError(context.Background(), errors.New("连接断开"), "插入版本")
	if GetErrorCode(wrapped) != ErrCodeDatabase {
		t.Errorf("应为 DATABASE_ERROR, 实际 %s", GetErrorCode(wrapped))
	}
}

// TestNormalize_Context 测试上下文错误映射
func TestNormalize_Context(t *testing.T) {
	if GetErrorCode(Normalize(context.DeadlineExceeded)) != ErrCodeTimeout {
		t.Error("DeadlineExceeded 应映射为 TIMEOUT")
	}
	if GetErrorCode(Normalize(fmt.Errorf("批次: %w", context.Canceled))) != ErrCodeCanceled {
		t.Error("Canceled 应映射为 CANCELED")
	}
	plain := errors.New("未知")
	if Normalize(plain) != plain {
		t.Error("未识别的错误应原样返回")
	}
}

// TestAppError_WithContext 测试上下文详情不修改原错误
func TestAppError_WithContext(t *testing.T) {
	base := NewError(ErrCodeReconstructionFailed, "重建失败")
	withCtx := base.WithContext("version_id", int64(42))

	if _, ok := base.Details()["version_id"]; ok {
		t.Error("原错误不应被修改")
	}
	if withCtx.Details()["version_id"] != int64(42) {
		t.Error("新错误应包含上下文")
	}
	if !IsReconstructionFailed(withCtx) {
		t.Error("错误码应保持不变")
	}
	if !errors.Is(withCtx, ErrReconstructionFailed) {
		t.Error("同错误码应满足 errors.Is")
	}
}
