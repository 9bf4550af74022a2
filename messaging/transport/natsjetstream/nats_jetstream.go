// Package natsjetstream 基于 NATS JetStream 的通知传输
package natsjetstream

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"edutrail/errors"
	"edutrail/logging"
	"edutrail/messaging"
)

// Config JetStream 传输配置
type Config struct {
	URL           string
	Stream        string
	SubjectPrefix string
	DurablePrefix string
	AckWait       time.Duration
	MaxAckPending int

	// MaxAge 流中消息的保留时长，0 表示不限
	MaxAge time.Duration

	// DuplicateWindow 按消息 ID 去重的窗口
	DuplicateWindow time.Duration

	Logger logging.Logger
	Conn   *nats.Conn
}

// Transport 在 JetStream 上实现 messaging.Transport。
// 消息 ID 作为 Nats-Msg-Id 发送，重试发布不会产生重复通知。
type Transport struct {
	cfg      Config
	logger   logging.Logger
	conn     *nats.Conn
	js       nats.JetStreamContext
	ownsConn bool

	subs      *messaging.Subscriptions
	consumers map[string]*nats.Subscription

	mu      sync.RWMutex
	running bool
}

func NewTransport(cfg Config) *Transport {
	if cfg.Stream == "" {
		cfg.Stream = "EDUTRAIL"
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "edutrail."
	}
	if cfg.DurablePrefix == "" {
		cfg.DurablePrefix = "edutrail-"
	}
	if cfg.AckWait <= 0 {
		cfg.AckWait = 30 * time.Second
	}
	if cfg.MaxAckPending <= 0 {
		cfg.MaxAckPending = 256
	}
	if cfg.DuplicateWindow <= 0 {
		cfg.DuplicateWindow = 2 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.ComponentLogger("transport.nats")
	}
	return &Transport{
		cfg:      cfg,
		logger:   cfg.Logger,
		subs:      messaging.NewSubscriptions(),
		consumers: make(map[string]*nats.Subscription),
	}
}

func (t *Transport) Publish(ctx context.Context, message messaging.IMessage) error {
	t.mu.RLock()
	js, running := t.js, t.running
	t.mu.RUnlock()
	if !running || js == nil {
		return errors.NewError(errors.ErrCodeQueue, "nats transport 未启动")
	}
	data, err := messaging.Encode(message)
	if err != nil {
		return err
	}
	if _, err := js.Publish(t.subjectName(message.GetType()), data, nats.Context(ctx), nats.MsgId(message.GetID())); err != nil {
		return errors.WrapError(err, errors.ErrCodeQueue, "发布到 JetStream 失败")
	}
	return nil
}

func (t *Transport) PublishAll(ctx context.Context, messages []messaging.IMessage) error {
	for _, msg := range messages {
		if err := t.Publish(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe 每个消息类型对应一个 durable 队列消费者，同类型的多个处理器共用它
func (t *Transport) Subscribe(messageType string, handler messaging.IMessageHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.subs.Add(messageType, handler) && t.running {
		return t.consumeLocked(messageType)
	}
	return nil
}

// Unsubscribe 最后一个处理器移除后排空并关闭该类型的消费者
func (t *Transport) Unsubscribe(messageType string, handler messaging.IMessageHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, empty := t.subs.Remove(messageType, handler); empty {
		if sub, ok := t.consumers[messageType]; ok {
			_ = sub.Drain()
			delete(t.consumers, messageType)
		}
	}
	return nil
}

func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return nil
	}
	if err := t.ensureConnection(); err != nil {
		return errors.WrapError(err, errors.ErrCodeQueue, "连接 NATS 失败")
	}
	if err := t.ensureStream(); err != nil {
		return errors.WrapError(err, errors.ErrCodeQueue, "创建 JetStream 流失败")
	}
	for _, mt := range t.subs.Types() {
		if err := t.consumeLocked(mt); err != nil {
			return err
		}
	}
	t.running = true
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
	for mt, sub := range t.consumers {
		_ = sub.Drain()
		delete(t.consumers, mt)
	}
	if t.ownsConn && t.conn != nil {
		t.conn.Close()
	}
	t.conn = nil
	t.js = nil
	return nil
}

func (t *Transport) Stats() messaging.TransportStats {
	t.mu.RLock()
	running := t.running
	t.mu.RUnlock()
	return t.subs.Stats(running)
}

func (t *Transport) ensureConnection() error {
	if t.conn != nil && t.js != nil {
		return nil
	}
	if t.cfg.Conn != nil {
		t.conn = t.cfg.Conn
	} else {
		url := t.cfg.URL
		if url == "" {
			url = nats.DefaultURL
		}
		conn, err := nats.Connect(url, nats.Name("edutrail"))
		if err != nil {
			return err
		}
		t.conn = conn
		t.ownsConn = true
	}
	js, err := t.conn.JetStream()
	if err != nil {
		return err
	}
	t.js = js
	return nil
}

func (t *Transport) ensureStream() error {
	_, err := t.js.StreamInfo(t.cfg.Stream)
	if err == nil {
		return nil
	}
	if !stderrors.Is(err, nats.ErrStreamNotFound) && !strings.Contains(err.Error(), "stream not found") {
		return err
	}
	_, err = t.js.AddStream(t.streamConfig())
	return err
}

// streamConfig 通知可被多个消费组各自读取，采用 limits 保留策略
func (t *Transport) streamConfig() *nats.StreamConfig {
	return &nats.StreamConfig{
		Name:       t.cfg.Stream,
		Subjects:   []string{t.cfg.SubjectPrefix + ">"},
		Retention:  nats.LimitsPolicy,
		MaxAge:     t.cfg.MaxAge,
		Duplicates: t.cfg.DuplicateWindow,
	}
}

// consumeLocked 通配处理器不单独建消费者，随各具体类型的消费者一起收到消息
func (t *Transport) consumeLocked(messageType string) error {
	if messageType == messaging.Wildcard {
		return nil
	}
	if _, exists := t.consumers[messageType]; exists {
		return nil
	}
	subject := t.subjectName(messageType)
	durable := t.durableName(messageType)
	sub, err := t.js.QueueSubscribe(subject, durable, t.handleMessage(messageType),
		nats.ManualAck(),
		nats.Durable(durable),
		nats.AckWait(t.cfg.AckWait),
		nats.MaxAckPending(t.cfg.MaxAckPending))
	if err != nil {
		return errors.WrapError(err, errors.ErrCodeQueue, "订阅 JetStream 失败")
	}
	t.consumers[messageType] = sub
	return nil
}

// handleMessage 处理失败时不确认，由 JetStream 在 AckWait 后重投
func (t *Transport) handleMessage(defaultType string) nats.MsgHandler {
	return func(msg *nats.Msg) {
		ctx := context.Background()
		decoded, err := messaging.Decode(msg.Data)
		if err != nil {
			t.logger.Warn(ctx, "decode nats message failed", logging.Error(err))
			_ = msg.Term()
			return
		}
		if decoded.Type == "" {
			decoded.Type = defaultType
		}
		if err := t.subs.Dispatch(ctx, decoded); err != nil {
			t.logger.Warn(ctx, "nats message handling failed",
				logging.String("message_id", decoded.ID), logging.Error(err))
			_ = msg.Nak()
			return
		}
		if err := msg.Ack(); err != nil {
			t.logger.Warn(ctx, "nats ack failed", logging.Error(err))
		}
	}
}

func (t *Transport) subjectName(messageType string) string {
	return t.cfg.SubjectPrefix + messageType
}

// durableName JetStream 的 durable 名不能包含点号
func (t *Transport) durableName(messageType string) string {
	return t.cfg.DurablePrefix + strings.NewReplacer(".", "-", "*", "all", ">", "all").Replace(messageType)
}
