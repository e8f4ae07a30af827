package lock

import (
	"context"
	"fmt"
	"time"

	"qi_api/internal/pkg/apperr"
	"qi_api/internal/pkg/config"
	"qi_api/pkg/metrics"

	"github.com/redis/go-redis/v9"
)

// Locker 按键互斥。Acquire 在 ctx 取消或等待超时后返回 apperr.ErrLockTimeout
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// New 按 lock.backend 创建锁实现
func New(cfg config.LockConfig, rdb *redis.Client, collector *metrics.MetricsCollector) (Locker, error) {
	switch cfg.Backend {
	case "", "redis":
		if rdb == nil {
			return nil, fmt.Errorf("redis lock backend requires a redis client")
		}
		return NewRedisLocker(rdb, cfg, collector), nil
	case "local":
		return NewLocalLocker(cfg.WaitTimeout, collector), nil
	default:
		return nil, fmt.Errorf("unknown lock backend %q", cfg.Backend)
	}
}

// SettleKey 结算/关单时按订单号加锁
func SettleKey(orderNo string) string {
	return "payment:settle:" + orderNo
}

// CreateKey 下单时按 (用户, 商品, 支付方式) 加锁
func CreateKey(userID, productID, payType string) string {
	return fmt.Sprintf("payment:create:%s:%s:%s", userID, productID, payType)
}

func timeoutErr(key string, waited time.Duration) error {
	return fmt.Errorf("%w: %s after %s", apperr.ErrLockTimeout, key, waited)
}
