package revert

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edutrail/errors"
	"edutrail/versionlog"
)

var testKey = versionlog.ItemKey{Type: "BookSection", ID: 9}

func TestLocalLocker_SerializesSameItem(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	unlock, err := l.Lock(ctx, testKey)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		u, err := l.Lock(ctx, testKey)
		if err == nil {
			close(acquired)
			u()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while first is held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second lock not acquired after release")
	}
}

func TestLocalLocker_DifferentItemsIndependent(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	u1, err := l.Lock(ctx, testKey)
	require.NoError(t, err)
	u2, err := l.Lock(ctx, versionlog.ItemKey{Type: "BookSection", ID: 10})
	require.NoError(t, err)
	u1()
	u2()
	u1() // 重复释放无副作用

	assert.Empty(t, l.locks)
}

func TestLocalLocker_ContextCanceled(t *testing.T) {
	l := NewLocalLocker()
	unlock, err := l.Lock(context.Background(), testKey)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, testKey)
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeTimeout))
}

// fakeRedis 只模拟 SET NX 与释放脚本
type fakeRedis struct {
	mu    sync.Mutex
	store map[string]string
	evals int
}

func newFakeRedis() *fakeRedis { return &fakeRedis{store: make(map[string]string)} }

func (f *fakeRedis) SetNX(_ context.Context, key string, value interface{}, _ time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.store[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	f.store[key] = value.(string)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Eval(_ context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evals++
	if f.store[keys[0]] == args[0].(string) {
		delete(f.store, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

func TestRedisLocker_AcquireAndRelease(t *testing.T) {
	client := newFakeRedis()
	l := NewRedisLocker(client, RedisLockerConfig{Retry: 5 * time.Millisecond, Wait: 30 * time.Millisecond})
	ctx := context.Background()

	unlock, err := l.Lock(ctx, testKey)
	require.NoError(t, err)
	assert.Contains(t, client.store, "edutrail:revert:BookSection#9")

	_, err = l.Lock(ctx, testKey)
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeLock))

	unlock()
	assert.Empty(t, client.store)
	assert.Equal(t, 1, client.evals)

	unlock2, err := l.Lock(ctx, testKey)
	require.NoError(t, err)
	unlock2()
}

func TestRedisLocker_ReleaseKeepsForeignLock(t *testing.T) {
	client := newFakeRedis()
	l := NewRedisLocker(client, RedisLockerConfig{})

	unlock, err := l.Lock(context.Background(), testKey)
	require.NoError(t, err)
	// 锁过期后被其他实例取得
	client.store["edutrail:revert:BookSection#9"] = "someone-else"
	unlock()
	assert.Equal(t, "someone-else", client.store["edutrail:revert:BookSection#9"])
}
