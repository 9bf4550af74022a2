// Package errors 带错误码的应用错误。
//
// 调用方按错误码区分处理：CONFLICT 让编辑者刷新重试，
// INVALID_TARGET、NOT_FOUND 直接拒绝请求，RECONSTRUCTION_FAILED 表示历史不足以回滚。
package errors

import (
	stdErrors "errors"
	"fmt"
)

// ErrorCode 错误代码类型
type ErrorCode string

const (
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeConflict     ErrorCode = "CONFLICT"
	ErrCodeValidation   ErrorCode = "VALIDATION_ERROR"
	ErrCodeTimeout      ErrorCode = "TIMEOUT"
	ErrCodeCanceled     ErrorCode = "CANCELED"

	// 版本历史
	ErrCodeInvalidTarget        ErrorCode = "INVALID_TARGET"
	ErrCodeCorruptSnapshot      ErrorCode = "CORRUPT_SNAPSHOT"
	ErrCodeReconstructionFailed ErrorCode = "RECONSTRUCTION_FAILED"

	// 基础设施
	ErrCodeDatabase ErrorCode = "DATABASE_ERROR"
	ErrCodeQueue    ErrorCode = "QUEUE_ERROR"
	ErrCodeLock     ErrorCode = "LOCK_ERROR"
)

// IError 错误接口
type IError interface {
	error

	Code() ErrorCode
	Message() string
	Details() map[string]any

	// Wrap 在消息前追加上下文，保持错误码不变
	Wrap(msg string) IError

	// WithContext 返回附加了一项详情的副本，原错误不变
	WithContext(key string, value any) IError
}

// AppError 应用错误实现
type AppError struct {
	code    ErrorCode
	message string
	cause   error
	details map[string]any
}

func NewError(code ErrorCode, message string) IError {
	return &AppError{code: code, message: message}
}

func NewErrorWithCause(code ErrorCode, message string, cause error) IError {
	return &AppError{code: code, message: message, cause: cause}
}

// WrapError err 为 nil 时返回 nil
func WrapError(err error, code ErrorCode, message string) IError {
	if err == nil {
		return nil
	}
	return NewErrorWithCause(code, message, err)
}

func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

func (e *AppError) Code() ErrorCode { return e.code }
func (e *AppError) Message() string { return e.message }
func (e *AppError) Unwrap() error   { return e.cause }

// Details 只读视图，修改请用 WithContext
func (e *AppError) Details() map[string]any {
	if e.details == nil {
		return map[string]any{}
	}
	return e.details
}

// Is 同错误码的 AppError 视为同类错误，否则沿 cause 链比较
func (e *AppError) Is(target error) bool {
	if appErr, ok := target.(*AppError); ok {
		return e.code == appErr.code
	}
	return e.cause != nil && stdErrors.Is(e.cause, target)
}

func (e *AppError) Wrap(msg string) IError {
	return &AppError{
		code:    e.code,
		message: msg + ": " + e.message,
		cause:   e,
		details: e.details,
	}
}

func (e *AppError) WithContext(key string, value any) IError {
	details := make(map[string]any, len(e.details)+1)
	for k, v := range e.details {
		details[k] = v
	}
	details[key] = value
	return &AppError{code: e.code, message: e.message, cause: e.cause, details: details}
}

// ErrReconstructionFailed 用于 errors.Is 判断
var ErrReconstructionFailed = NewError(ErrCodeReconstructionFailed, "历史状态重建失败")

func IsNotFound(err error) bool             { return IsErrorCode(err, ErrCodeNotFound) }
func IsValidation(err error) bool           { return IsErrorCode(err, ErrCodeValidation) }
func IsConflict(err error) bool             { return IsErrorCode(err, ErrCodeConflict) }
func IsInvalidInput(err error) bool         { return IsErrorCode(err, ErrCodeInvalidInput) }
func IsInvalidTarget(err error) bool        { return IsErrorCode(err, ErrCodeInvalidTarget) }
func IsCorruptSnapshot(err error) bool      { return IsErrorCode(err, ErrCodeCorruptSnapshot) }
func IsReconstructionFailed(err error) bool { return IsErrorCode(err, ErrCodeReconstructionFailed) }

// IsErrorCode 检查错误链上最外层 AppError 的错误代码
func IsErrorCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return stdErrors.As(err, &appErr) && appErr.code == code
}

// GetErrorCode 非 AppError 统一视为内部错误
func GetErrorCode(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if stdErrors.As(err, &appErr) {
		return appErr.code
	}
	return ErrCodeInternal
}
