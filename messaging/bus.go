package messaging

import (
	"context"
	"fmt"
	"sync"

	"edutrail/errors"
)

// HandlerFunc 中间件链中的基本执行单元
type HandlerFunc func(ctx context.Context, message IMessage) error

// IMiddleware 发布前执行的中间件
type IMiddleware interface {
	Handle(ctx context.Context, message IMessage, next HandlerFunc) error
	Name() string
}

// IMessageBus 消息总线接口
type IMessageBus interface {
	Subscribe(ctx context.Context, messageType string, handler IMessageHandler) error
	Unsubscribe(ctx context.Context, messageType string, handler IMessageHandler) error
	Publish(ctx context.Context, message IMessage) error
	PublishAll(ctx context.Context, messages []IMessage) error
	Use(middleware IMiddleware)
}

// MessageBus 依赖 Transport 完成实际传输，发布前依次执行中间件。
// 中间件按注册顺序执行，可以改写消息或中止发布
type MessageBus struct {
	transport   Transport
	middlewares []IMiddleware
	mutex       sync.RWMutex
}

// NewMessageBus 创建消息总线
func NewMessageBus(transport Transport) *MessageBus {
	return &MessageBus{transport: transport}
}

// Transport 底层传输
func (bus *MessageBus) Transport() Transport { return bus.transport }

// Start 启动底层传输的订阅与连接
func (bus *MessageBus) Start(ctx context.Context) error {
	if err := bus.transport.Start(ctx); err != nil {
		return errors.WrapError(err, errors.ErrCodeQueue, "启动通知传输失败")
	}
	return nil
}

// Close 关闭底层传输，之后的发布会失败
func (bus *MessageBus) Close() error {
	return bus.transport.Close()
}

// Use 注册中间件
func (bus *MessageBus) Use(middleware IMiddleware) {
	bus.mutex.Lock()
	defer bus.mutex.Unlock()
	bus.middlewares = append(bus.middlewares, middleware)
}

func (bus *MessageBus) Subscribe(ctx context.Context, messageType string, handler IMessageHandler) error {
	return bus.transport.Subscribe(messageType, handler)
}

func (bus *MessageBus) Unsubscribe(ctx context.Context, messageType string, handler IMessageHandler) error {
	return bus.transport.Unsubscribe(messageType, handler)
}

// Publish 发布消息
func (bus *MessageBus) Publish(ctx context.Context, message IMessage) error {
	return bus.executeMiddlewares(ctx, message, bus.transport.Publish)
}

// PublishAll 每条消息先经过中间件，再整批交给 Transport。
// 任一条被中间件拒绝则整批都不发布
func (bus *MessageBus) PublishAll(ctx context.Context, messages []IMessage) error {
	if len(messages) == 0 {
		return nil
	}

	batched := make([]IMessage, 0, len(messages))
	for _, message := range messages {
		err := bus.executeMiddlewares(ctx, message, func(ctx context.Context, msg IMessage) error {
			batched = append(batched, msg)
			return nil
		})
		if err != nil {
			return errors.WrapError(err, errors.ErrCodeQueue, fmt.Sprintf("发布消息 %s 失败", message.GetID()))
		}
	}

	if len(batched) == 0 {
		return nil
	}
	if err := bus.transport.PublishAll(ctx, batched); err != nil {
		return errors.WrapError(err, errors.ErrCodeQueue, fmt.Sprintf("批量发布 %d 条消息失败", len(batched)))
	}
	return nil
}

func (bus *MessageBus) executeMiddlewares(ctx context.Context, message IMessage, final HandlerFunc) error {
	bus.mutex.RLock()
	middlewares := bus.middlewares
	bus.mutex.RUnlock()

	next := final
	for i := len(middlewares) - 1; i >= 0; i-- {
		mw := middlewares[i]
		currentNext := next
		next = func(ctx context.Context, msg IMessage) error {
			return mw.Handle(ctx, msg, currentNext)
		}
	}
	return next(ctx, message)
}
