package audited

import (
	"context"

	"edutrail/versionlog"
)

// Sanitizer 富文本清洗，普通写入时作用于 Rich 字段
type Sanitizer interface {
	Sanitize(field, value string) string
}

// SanitizerFunc 函数适配
type SanitizerFunc func(field, value string) string

func (f SanitizerFunc) Sanitize(field, value string) string { return f(field, value) }

type identitySanitizer struct{}

func (identitySanitizer) Sanitize(_, value string) string { return value }

// Listener 事务提交后一次性收到该事务记录的全部版本，按记录顺序
//
// 通知是尽力而为的，返回的错误只记录日志，不影响已提交的写入。
type Listener interface {
	VersionsRecorded(ctx context.Context, recorded []*versionlog.Version) error
}

// ListenerFunc 函数适配
type ListenerFunc func(ctx context.Context, recorded []*versionlog.Version) error

func (f ListenerFunc) VersionsRecorded(ctx context.Context, recorded []*versionlog.Version) error {
	return f(ctx, recorded)
}
