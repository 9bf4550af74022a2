// Package redisstreams 基于 Redis Streams 消费组的通知传输
package redisstreams

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"edutrail/errors"
	"edutrail/logging"
	"edutrail/messaging"
)

// Client 传输用到的 go-redis 命令子集，*redis.Client 与 *redis.ClusterClient 均满足
type Client interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	Close() error
}

// Config Redis Streams 传输配置
type Config struct {
	Client       Client
	Addr         string
	Password     string
	DB           int
	StreamPrefix string
	GroupName    string
	ConsumerName string
	BlockTimeout time.Duration
	ReadCount    int64

	// MaxLen 每个流保留的近似最大长度，0 表示不裁剪
	MaxLen int64

	MinReadBackoff time.Duration
	MaxReadBackoff time.Duration
	Logger         logging.Logger
}

// Transport 用 Redis Streams 实现 messaging.Transport
type Transport struct {
	cfg       Config
	client    Client
	ownClient bool
	logger    logging.Logger

	subs    *messaging.Subscriptions
	readers map[string]bool

	mu      sync.RWMutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewTransport(cfg Config) *Transport {
	if cfg.StreamPrefix == "" {
		cfg.StreamPrefix = "edutrail:"
	}
	if cfg.GroupName == "" {
		cfg.GroupName = "edutrail"
	}
	if cfg.ConsumerName == "" {
		cfg.ConsumerName = "consumer-" + uuid.NewString()
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 5 * time.Second
	}
	if cfg.ReadCount <= 0 {
		cfg.ReadCount = 10
	}
	if cfg.MinReadBackoff <= 0 {
		cfg.MinReadBackoff = 100 * time.Millisecond
	}
	if cfg.MaxReadBackoff <= 0 {
		cfg.MaxReadBackoff = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.ComponentLogger("transport.redisstreams")
	}

	t := &Transport{
		cfg:      cfg,
		client:   cfg.Client,
		logger:   cfg.Logger,
		subs:     messaging.NewSubscriptions(),
		readers:  make(map[string]bool),
	}
	if t.client == nil {
		t.client = redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
		t.ownClient = true
	}
	return t
}

func (t *Transport) Publish(ctx context.Context, message messaging.IMessage) error {
	values, err := encodeMessage(message)
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{Stream: t.streamName(message.GetType()), Values: values}
	if t.cfg.MaxLen > 0 {
		args.MaxLen = t.cfg.MaxLen
		args.Approx = true
	}
	if err := t.client.XAdd(ctx, args).Err(); err != nil {
		return errors.WrapError(err, errors.ErrCodeQueue, "写入 Redis Stream 失败")
	}
	return nil
}

// PublishAll 逐条写入，Redis Streams 没有多条追加
func (t *Transport) PublishAll(ctx context.Context, messages []messaging.IMessage) error {
	for _, msg := range messages {
		if err := t.Publish(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (t *Transport) Subscribe(messageType string, handler messaging.IMessageHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.subs.Add(messageType, handler) && t.running {
		t.startReaderLocked(messageType)
	}
	return nil
}

// Unsubscribe 读取协程保持运行，之后读到的消息没有处理器时直接确认
func (t *Transport) Unsubscribe(messageType string, handler messaging.IMessageHandler) error {
	t.subs.Remove(messageType, handler)
	return nil
}

// Start 为每个已订阅类型启动一个读取协程
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return nil
	}
	t.ctx, t.cancel = context.WithCancel(ctx)
	for _, mt := range t.subs.Types() {
		t.startReaderLocked(mt)
	}
	t.running = true
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	running, cancel := t.running, t.cancel
	t.running = false
	t.readers = make(map[string]bool)
	t.mu.Unlock()

	if running && cancel != nil {
		cancel()
		t.wg.Wait()
	}
	if t.ownClient {
		return t.client.Close()
	}
	return nil
}

func (t *Transport) Stats() messaging.TransportStats {
	t.mu.RLock()
	running := t.running
	t.mu.RUnlock()
	return t.subs.Stats(running)
}

func (t *Transport) startReaderLocked(messageType string) {
	if messageType == messaging.Wildcard || t.readers[messageType] {
		return
	}
	t.readers[messageType] = true
	t.wg.Add(1)
	go t.readLoop(t.ctx, messageType)
}

func (t *Transport) readLoop(ctx context.Context, messageType string) {
	defer t.wg.Done()
	stream := t.streamName(messageType)
	if err := t.ensureGroup(ctx, stream); err != nil {
		t.logger.Warn(ctx, "ensure group failed", logging.String("stream", stream), logging.Error(err))
	}
	args := &redis.XReadGroupArgs{
		Group:    t.cfg.GroupName,
		Consumer: t.cfg.ConsumerName,
		Streams:  []string{stream, ">"},
		Count:    t.cfg.ReadCount,
		Block:    t.cfg.BlockTimeout,
	}
	backoff := t.cfg.MinReadBackoff
	for ctx.Err() == nil {
		res, err := t.client.XReadGroup(ctx, args).Result()
		if err != nil {
			if stderrors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			t.logger.Warn(ctx, "xreadgroup failed", logging.Duration("backoff", backoff), logging.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, t.cfg.MaxReadBackoff)
			continue
		}
		backoff = t.cfg.MinReadBackoff
		for _, sr := range res {
			for _, entry := range sr.Messages {
				t.consume(ctx, sr.Stream, entry)
			}
		}
	}
}

// consume 处理成功或消息无法解码时确认，处理失败的留在 pending 列表
func (t *Transport) consume(ctx context.Context, stream string, entry redis.XMessage) {
	msg, err := decodeMessage(entry)
	if err != nil {
		t.logger.Warn(ctx, "decode redis stream entry failed", logging.String("entry", entry.ID), logging.Error(err))
		t.ack(ctx, stream, entry.ID)
		return
	}
	if err := t.subs.Dispatch(ctx, msg); err != nil {
		t.logger.Warn(ctx, "redis stream handling failed", logging.String("message_id", msg.ID), logging.Error(err))
		return
	}
	t.ack(ctx, stream, entry.ID)
}

func (t *Transport) ack(ctx context.Context, stream, id string) {
	if err := t.client.XAck(ctx, stream, t.cfg.GroupName, id).Err(); err != nil {
		t.logger.Warn(ctx, "xack failed", logging.Error(err))
	}
}

func (t *Transport) ensureGroup(ctx context.Context, stream string) error {
	err := t.client.XGroupCreateMkStream(ctx, stream, t.cfg.GroupName, "0").Err()
	if err == nil || strings.Contains(strings.ToUpper(err.Error()), "BUSYGROUP") {
		return nil
	}
	return err
}

func (t *Transport) streamName(messageType string) string {
	return t.cfg.StreamPrefix + messageType
}

// encodeMessage 流条目的字段：id、type、timestamp（纳秒）、message（完整 JSON）
func encodeMessage(msg messaging.IMessage) (map[string]any, error) {
	data, err := messaging.Encode(msg)
	if err != nil {
		return nil, err
	}
	ts := msg.GetTimestamp()
	if ts.IsZero() {
		ts = time.Now()
	}
	return map[string]any{
		"id":        msg.GetID(),
		"type":      msg.GetType(),
		"timestamp": strconv.FormatInt(ts.UnixNano(), 10),
		"message":   string(data),
	}, nil
}

func decodeMessage(entry redis.XMessage) (*messaging.Message, error) {
	raw, ok := entry.Values["message"].(string)
	if !ok || raw == "" {
		return nil, errors.NewError(errors.ErrCodeQueue, fmt.Sprintf("流条目 %s 缺少 message 字段", entry.ID))
	}
	msg, err := messaging.Decode([]byte(raw))
	if err != nil {
		return nil, err
	}
	if msg.ID == "" {
		msg.ID = entry.ID
	}
	if msg.Type == "" {
		msg.Type, _ = entry.Values["type"].(string)
	}
	return msg, nil
}
