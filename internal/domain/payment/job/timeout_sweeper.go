package job

import (
	"context"
	"sync"
	"time"

	"qi_api/internal/domain/payment/model"
	"qi_api/internal/domain/payment/repository"
	"qi_api/internal/domain/payment/service"
	"qi_api/internal/pkg/config"
	"qi_api/pkg/logger"
	"qi_api/pkg/metrics"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// TimeoutSweeper 定期处理已过期但仍为 NOTPAY 的订单
type TimeoutSweeper struct {
	cfg     config.SweeperConfig
	orders  repository.OrderRepository
	engine  service.ReconcileService
	metrics *metrics.MetricsCollector
	now     func() time.Time
}

func NewTimeoutSweeper(cfg config.SweeperConfig, orders repository.OrderRepository, engine service.ReconcileService, collector *metrics.MetricsCollector) *TimeoutSweeper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &TimeoutSweeper{
		cfg:     cfg,
		orders:  orders,
		engine:  engine,
		metrics: collector,
		now:     time.Now,
	}
}

// Run 阻塞直到 ctx 取消
func (s *TimeoutSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	logger.Log.Info("Timeout sweeper started", zap.Duration("interval", s.cfg.Interval))
	for {
		select {
		case <-ctx.Done():
			logger.Log.Info("Timeout sweeper stopped")
			return
		case <-ticker.C:
			if n, err := s.SweepOnce(ctx); err != nil {
				logger.Log.Warn("Timeout sweep finished with failures", zap.Int("orders", n), zap.Error(err))
			} else if n > 0 {
				logger.Log.Info("Timeout sweep finished", zap.Int("orders", n))
			}
		}
	}
}

// SweepOnce 处理一批过期订单，返回本轮检查的订单数和汇总后的错误。
// 单个订单失败不影响其他订单，下一轮会重新扫到
func (s *TimeoutSweeper) SweepOnce(ctx context.Context) (int, error) {
	start := time.Now()
	expired, err := s.orders.FindExpired(ctx, s.now(), s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}

	var (
		mu     sync.Mutex
		errs   error
		failed int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i := range expired {
		order := &expired[i]
		g.Go(func() error {
			if err := s.resolve(gctx, order); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, err)
				failed++
				mu.Unlock()
			}
			// 返回 nil，避免一个订单的失败取消其他订单
			return nil
		})
	}
	_ = g.Wait()

	s.metrics.RecordSweep(len(expired)-failed, failed, time.Since(start))
	return len(expired), errs
}

func (s *TimeoutSweeper) resolve(ctx context.Context, order *model.Order) error {
	if err := s.engine.ResolveExpiredOrder(ctx, order); err != nil {
		logger.Log.Warn("Resolve expired order failed",
			zap.String("order_no", order.OrderNo), zap.Error(err))
		return err
	}
	return nil
}
