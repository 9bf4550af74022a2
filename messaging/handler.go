package messaging

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
)

// IMessageHandler 消息处理器接口
type IMessageHandler interface {
	Handle(ctx context.Context, message IMessage) error

	// Type 处理器名称，出现在错误与日志中
	Type() string
}

// FuncHandler 用函数实现 IMessageHandler
type FuncHandler struct {
	Name string
	Fn   func(ctx context.Context, message IMessage) error
}

func NewFuncHandler(name string, fn func(ctx context.Context, message IMessage) error) *FuncHandler {
	return &FuncHandler{Name: name, Fn: fn}
}

func (h *FuncHandler) Handle(ctx context.Context, message IMessage) error { return h.Fn(ctx, message) }
func (h *FuncHandler) Type() string                                       { return h.Name }

// Wildcard 订阅全部消息类型
const Wildcard = "*"

// Subscriptions 各传输共用的订阅表，并发安全
type Subscriptions struct {
	mu       sync.RWMutex
	handlers map[string][]IMessageHandler
}

func NewSubscriptions() *Subscriptions {
	return &Subscriptions{handlers: make(map[string][]IMessageHandler)}
}

// Add 追加处理器，返回它是否是该类型的第一个处理器
func (s *Subscriptions) Add(messageType string, handler IMessageHandler) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[messageType] = append(s.handlers[messageType], handler)
	return len(s.handlers[messageType]) == 1
}

// Remove 移除处理器。found 表示是否找到，empty 表示该类型已没有处理器
func (s *Subscriptions) Remove(messageType string, handler IMessageHandler) (found, empty bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hs := s.handlers[messageType]
	for i, h := range hs {
		if h == handler {
			hs = append(hs[:i:i], hs[i+1:]...)
			found = true
			break
		}
	}
	if len(hs) == 0 {
		delete(s.handlers, messageType)
	} else {
		s.handlers[messageType] = hs
	}
	return found, len(hs) == 0
}

// Types 已订阅的消息类型，按字母序，包含通配
func (s *Subscriptions) Types() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	types := make([]string, 0, len(s.handlers))
	for mt := range s.handlers {
		types = append(types, mt)
	}
	sort.Strings(types)
	return types
}

// For 某类型的处理器：精确订阅在前，通配订阅在后
func (s *Subscriptions) For(messageType string) []IMessageHandler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exact := s.handlers[messageType]
	wildcard := s.handlers[Wildcard]
	out := make([]IMessageHandler, 0, len(exact)+len(wildcard))
	out = append(out, exact...)
	return append(out, wildcard...)
}

// Stats 汇总订阅情况
func (s *Subscriptions) Stats(running bool) TransportStats {
	types := s.Types()
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, hs := range s.handlers {
		count += len(hs)
	}
	return TransportStats{Running: running, HandlerCount: count, MessageTypes: types}
}

// Dispatch 依次交给匹配的处理器，一个失败不影响其余处理器，错误合并返回
func (s *Subscriptions) Dispatch(ctx context.Context, message IMessage) error {
	var errs []error
	for _, h := range s.For(message.GetType()) {
		if err := h.Handle(ctx, message); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", h.Type(), err))
		}
	}
	return stderrors.Join(errs...)
}
