package audited

import (
	"context"

	"edutrail/logging"
)

type actorKey struct{}

// WithActor 在上下文中携带操作者，写入版本的 whodunnit，同时作为日志字段
func WithActor(ctx context.Context, actor string) context.Context {
	ctx = logging.ContextWithFields(ctx, logging.String("actor", actor))
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext 取出操作者，未设置或为空时返回 nil
func ActorFromContext(ctx context.Context) *string {
	actor, ok := ctx.Value(actorKey{}).(string)
	if !ok || actor == "" {
		return nil
	}
	return &actor
}
