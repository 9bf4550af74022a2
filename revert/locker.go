package revert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"edutrail/errors"
	"edutrail/versionlog"
)

// Locker 串行化同一实体上的回滚。不配置时多个回滚以最后写入为准
type Locker interface {
	Lock(ctx context.Context, key versionlog.ItemKey) (unlock func(), err error)
}

// NoopLocker 不加锁
type NoopLocker struct{}

func (NoopLocker) Lock(context.Context, versionlog.ItemKey) (func(), error) {
	return func() {}, nil
}

// LocalLocker 进程内按实体加锁，适用于单实例部署
type LocalLocker struct {
	mu    sync.Mutex
	locks map[versionlog.ItemKey]*localLock
}

type localLock struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[versionlog.ItemKey]*localLock)}
}

func (l *LocalLocker) Lock(ctx context.Context, key versionlog.ItemKey) (func(), error) {
	l.mu.Lock()
	lk, ok := l.locks[key]
	if !ok {
		lk = &localLock{ch: make(chan struct{}, 1)}
		l.locks[key] = lk
	}
	lk.refs++
	l.mu.Unlock()

	select {
	case lk.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, lk, false)
		return nil, errors.Normalize(ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, lk, true) })
	}, nil
}

func (l *LocalLocker) release(key versionlog.ItemKey, lk *localLock, held bool) {
	if held {
		<-lk.ch
	}
	l.mu.Lock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}

// RedisClient RedisLocker 需要的最小客户端能力
type RedisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// releaseScript 只删除自己持有的锁
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) else return 0 end`

// RedisLockerConfig Redis 锁配置
type RedisLockerConfig struct {
	Prefix string        // 默认 edutrail:revert:
	TTL    time.Duration // 锁自动过期时间，默认 30s
	Retry  time.Duration // 抢锁轮询间隔，默认 50ms
	Wait   time.Duration // 最长等待，默认 5s
}

// RedisLocker 跨实例的实体锁，SET NX PX 加锁、令牌比对后释放
type RedisLocker struct {
	client RedisClient
	cfg    RedisLockerConfig
}

func NewRedisLocker(client RedisClient, cfg RedisLockerConfig) *RedisLocker {
	if cfg.Prefix == "" {
		cfg.Prefix = "edutrail:revert:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.Retry <= 0 {
		cfg.Retry = 50 * time.Millisecond
	}
	if cfg.Wait <= 0 {
		cfg.Wait = 5 * time.Second
	}
	return &RedisLocker{client: client, cfg: cfg}
}

func (l *RedisLocker) Lock(ctx context.Context, key versionlog.ItemKey) (func(), error) {
	lockKey := l.cfg.Prefix + key.String()
	token := uuid.NewString()

	waitCtx, cancel := context.WithTimeout(ctx, l.cfg.Wait)
	defer cancel()
	ticker := time.NewTicker(l.cfg.Retry)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(waitCtx, lockKey, token, l.cfg.TTL).Result()
		if err != nil {
			return nil, errors.NewErrorWithCause(errors.ErrCodeLock, "获取回滚锁失败", err).
				WithContext("key", lockKey)
		}
		if ok {
			break
		}
		select {
		case <-ticker.C:
		case <-waitCtx.Done():
			return nil, errors.NewError(errors.ErrCodeLock,
				fmt.Sprintf("%s 正在被其他回滚处理", key)).WithContext("key", lockKey)
		}
	}

	return func() {
		// 释放不受调用方 ctx 取消影响
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = l.client.Eval(releaseCtx, releaseScript, []string{lockKey}, token).Err()
	}, nil
}
