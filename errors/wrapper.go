package errors

import (
	"context"
	"fmt"
	"runtime"

	"edutrail/logging"
)

// WrapWithLog 包装错误并记录一条带调用位置的警告
func WrapWithLog(ctx context.Context, err error, code ErrorCode, msg string, fields ...logging.Field) error {
	if err == nil {
		return nil
	}

	_, file, line, _ := runtime.Caller(1)
	all := append([]logging.Field{
		logging.Error(err),
		logging.String("error_code", string(code)),
		logging.String("location", fmt.Sprintf("%s:%d", file, line)),
	}, fields...)
	logging.GetLogger().Warn(ctx, msg, all...)

	return WrapError(err, code, msg)
}

// WrapDatabaseError 包装存储层错误。
// 已规范化为 AppError 的错误（NOT_FOUND、CONFLICT 等）只追加操作说明，错误码不变
func WrapDatabaseError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	normalized := Normalize(err)
	if appErr, ok := normalized.(IError); ok && appErr.Code() != ErrCodeDatabase {
		return appErr.Wrap(operation)
	}

	return WrapWithLog(ctx, err, ErrCodeDatabase,
		fmt.Sprintf("数据库操作失败: %s", operation),
		logging.String("operation", operation),
	)
}

// VersionNotFound 版本不存在
func VersionNotFound(id int64) IError {
	return NewError(ErrCodeNotFound, fmt.Sprintf("版本 %d 不存在", id)).
		WithContext("version_id", id)
}

// EntityNotFound 审计实体不存在
func EntityNotFound(itemType string, id int64) IError {
	return NewError(ErrCodeNotFound, fmt.Sprintf("%s #%d 不存在", itemType, id)).
		WithContext("item_type", itemType).
		WithContext("item_id", id)
}
