package messaging

import (
	"context"
)

// MetadataMiddleware 为缺少的元数据键补上固定值，例如来源服务名
type MetadataMiddleware struct {
	values map[string]any
}

func NewMetadataMiddleware(values map[string]any) *MetadataMiddleware {
	return &MetadataMiddleware{values: values}
}

func (m *MetadataMiddleware) Name() string { return "Metadata" }

func (m *MetadataMiddleware) Handle(ctx context.Context, message IMessage, next HandlerFunc) error {
	md := message.GetMetadata()
	if md != nil {
		for k, v := range m.values {
			if _, ok := md[k]; !ok {
				md[k] = v
			}
		}
	}
	return next(ctx, message)
}
