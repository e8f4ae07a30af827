package lock

import (
	"context"
	"errors"
	"time"

	"qi_api/internal/pkg/config"
	"qi_api/pkg/logger"
	"qi_api/pkg/metrics"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// 只删除自己持有的锁
var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

// RedisLocker 基于 SET NX PX 的分布式锁
type RedisLocker struct {
	rdb           *redis.Client
	ttl           time.Duration
	waitTimeout   time.Duration
	retryInterval time.Duration
	metrics       *metrics.MetricsCollector
}

func NewRedisLocker(rdb *redis.Client, cfg config.LockConfig, collector *metrics.MetricsCollector) *RedisLocker {
	l := &RedisLocker{
		rdb:           rdb,
		ttl:           cfg.TTL,
		waitTimeout:   cfg.WaitTimeout,
		retryInterval: cfg.RetryInterval,
		metrics:       collector,
	}
	if l.ttl <= 0 {
		l.ttl = 30 * time.Second
	}
	if l.waitTimeout <= 0 {
		l.waitTimeout = 5 * time.Second
	}
	if l.retryInterval <= 0 {
		l.retryInterval = 50 * time.Millisecond
	}
	return l
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	start := time.Now()

	waitCtx, cancel := context.WithTimeout(ctx, l.waitTimeout)
	defer cancel()

	ticker := time.NewTicker(l.retryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.rdb.SetNX(waitCtx, key, token, l.ttl).Result()
		if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			return nil, err
		}
		if ok {
			l.metrics.RecordLockWait(scopeOf(key), true, time.Since(start))
			return func() { l.release(key, token) }, nil
		}

		select {
		case <-waitCtx.Done():
			l.metrics.RecordLockWait(scopeOf(key), false, time.Since(start))
			return nil, timeoutErr(key, time.Since(start))
		case <-ticker.C:
		}
	}
}

func (l *RedisLocker) release(key, token string) {
	// 调用方的 ctx 可能已取消，释放锁使用独立的短超时
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := releaseScript.Run(ctx, l.rdb, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		logger.Log.Warn("Failed to release lock", zap.String("key", key), zap.Error(err))
	}
}

// scopeOf 取键的前两段作为指标标签，避免订单号进入标签
func scopeOf(key string) string {
	n := 0
	for i, c := range key {
		if c == ':' {
			n++
			if n == 2 {
				return key[:i]
			}
		}
	}
	return key
}
