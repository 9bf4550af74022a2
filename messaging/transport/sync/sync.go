// Package sync 同步传输：Publish 在调用方 goroutine 中直接执行处理器
package sync

import (
	"context"
	"fmt"
	"sync/atomic"

	"edutrail/errors"
	"edutrail/messaging"
)

// Transport 同步内存传输，适合单进程部署与测试。
// 处理器在写入方的 goroutine 里运行，耗时的处理器会拖慢提交后的返回
type Transport struct {
	subs    *messaging.Subscriptions
	running atomic.Bool
}

func NewTransport() *Transport {
	return &Transport{subs: messaging.NewSubscriptions()}
}

func (t *Transport) Publish(ctx context.Context, message messaging.IMessage) error {
	if !t.running.Load() {
		return errors.NewError(errors.ErrCodeQueue, "sync transport 未启动")
	}
	if err := t.subs.Dispatch(ctx, message); err != nil {
		return errors.WrapError(err, errors.ErrCodeQueue, fmt.Sprintf("消息 %s 处理失败", message.GetID()))
	}
	return nil
}

// PublishAll 按顺序发布，遇到第一个失败即停止
func (t *Transport) PublishAll(ctx context.Context, messages []messaging.IMessage) error {
	for _, message := range messages {
		if err := t.Publish(ctx, message); err != nil {
			return err
		}
	}
	return nil
}

func (t *Transport) Subscribe(messageType string, handler messaging.IMessageHandler) error {
	t.subs.Add(messageType, handler)
	return nil
}

func (t *Transport) Unsubscribe(messageType string, handler messaging.IMessageHandler) error {
	if found, _ := t.subs.Remove(messageType, handler); !found {
		return errors.NewError(errors.ErrCodeNotFound, fmt.Sprintf("%s 没有该处理器", messageType))
	}
	return nil
}

func (t *Transport) Start(context.Context) error {
	t.running.Store(true)
	return nil
}

func (t *Transport) Close() error {
	t.running.Store(false)
	return nil
}

func (t *Transport) Stats() messaging.TransportStats {
	return t.subs.Stats(t.running.Load())
}
