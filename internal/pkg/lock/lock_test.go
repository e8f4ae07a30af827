package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"qi_api/internal/pkg/apperr"
	"qi_api/internal/pkg/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisLocker(t *testing.T, wait time.Duration) (*miniredis.Miniredis, *RedisLocker) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, NewRedisLocker(rdb, config.LockConfig{
		TTL:           time.Second * 30,
		WaitTimeout:   wait,
		RetryInterval: 5 * time.Millisecond,
	}, nil)
}

func TestRedisLocker_AcquireRelease(t *testing.T) {
	mr, l := newRedisLocker(t, 50*time.Millisecond)
	ctx := context.Background()

	release, err := l.Acquire(ctx, SettleKey("order_1"))
	require.NoError(t, err)
	assert.True(t, mr.Exists("payment:settle:order_1"))

	_, err = l.Acquire(ctx, SettleKey("order_1"))
	assert.ErrorIs(t, err, apperr.ErrLockTimeout)

	// 不同订单号互不影响
	other, err := l.Acquire(ctx, SettleKey("order_2"))
	require.NoError(t, err)
	other()

	release()
	assert.False(t, mr.Exists("payment:settle:order_1"))

	release2, err := l.Acquire(ctx, SettleKey("order_1"))
	require.NoError(t, err)
	release2()
}

func TestRedisLocker_ReleaseKeepsForeignToken(t *testing.T) {
	mr, l := newRedisLocker(t, 50*time.Millisecond)

	release, err := l.Acquire(context.Background(), "payment:settle:x")
	require.NoError(t, err)

	// 锁过期后被其他持有者占用
	require.NoError(t, mr.Set("payment:settle:x", "someone-else"))
	release()

	v, err := mr.Get("payment:settle:x")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", v)
}

func TestLocalLocker_MutualExclusion(t *testing.T) {
	l := NewLocalLocker(time.Second, nil)

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background(), "k")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Empty(t, l.slots)
}

func TestLocalLocker_Timeout(t *testing.T) {
	l := NewLocalLocker(20*time.Millisecond, nil)

	release, err := l.Acquire(context.Background(), "k")
	require.NoError(t, err)
	defer release()

	_, err = l.Acquire(context.Background(), "k")
	assert.ErrorIs(t, err, apperr.ErrLockTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Acquire(ctx, "k")
	assert.ErrorIs(t, err, apperr.ErrLockTimeout)
}

func TestNew(t *testing.T) {
	_, err := New(config.LockConfig{Backend: "redis"}, nil, nil)
	assert.Error(t, err)

	l, err := New(config.LockConfig{Backend: "local"}, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &LocalLocker{}, l)

	assert.Equal(t, "payment:create:u:p:WX", CreateKey("u", "p", "WX"))
	assert.Equal(t, "payment:settle", scopeOf(SettleKey("order_1")))
}
