package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"qi_api/internal/domain/payment/gateway"
	"qi_api/internal/domain/payment/model"
	"qi_api/internal/domain/payment/repository"
	"qi_api/internal/pkg/apperr"
	"qi_api/internal/pkg/config"
	"qi_api/internal/pkg/lock"
	"qi_api/pkg/cache"
	"qi_api/pkg/logger"
	"qi_api/pkg/metrics"

	"go.uber.org/zap"
)

const (
	sourcePush  = "push"
	sourcePoll  = "poll"
	sourceRetry = "retry"
)

// RetryQueue 提交结果未知的订单进入补偿队列
type RetryQueue interface {
	Enqueue(orderNo string) bool
}

// ReconcileService 订单状态机：NOTPAY -> SUCCESS / NOTPAY -> CLOSED
type ReconcileService interface {
	// HandleNotification 返回 nil 时应答成功，否则应答失败让网关重推
	HandleNotification(ctx context.Context, payType string, payload []byte, headers http.Header) error
	// ResolveExpiredOrder 超时扫描调用，order 必须已过期
	ResolveExpiredOrder(ctx context.Context, order *model.Order) error
	// ReconcileOrder 补偿队列和运维命令调用，不要求订单过期
	ReconcileOrder(ctx context.Context, orderNo string) error
}

// ReconcileDeps 对账服务依赖
type ReconcileDeps struct {
	Config     config.PaymentConfig
	Orders     repository.OrderRepository
	Transactor repository.Transactor
	Gateways   *gateway.Registry
	Locker     lock.Locker
	Cache      cache.CacheService
	Notifier   Notifier
	Retry      RetryQueue
	Metrics    *metrics.MetricsCollector
}

type reconcileService struct {
	ReconcileDeps
	now func() time.Time
}

func NewReconcileService(deps ReconcileDeps) ReconcileService {
	return &reconcileService{ReconcileDeps: deps, now: time.Now}
}

func (s *reconcileService) HandleNotification(ctx context.Context, payType string, payload []byte, headers http.Header) error {
	gw, err := s.Gateways.Get(payType)
	if err != nil {
		return err
	}

	res, err := gw.ParseNotification(ctx, payload, headers)
	if err != nil {
		logger.Log.Warn("Invalid payment notification", zap.String("pay_type", payType), zap.Error(err))
		return err
	}

	log := logger.Log.With(zap.String("order_no", res.OrderNo), zap.String("trade_state", string(res.TradeState)))
	switch res.TradeState {
	case gateway.TradeSuccess:
		return s.settle(ctx, sourcePush, payType, res)
	case gateway.TradePayError:
		log.Info("Payment failed notification")
		return fmt.Errorf("%w: order %s", apperr.ErrPaymentFailed, res.OrderNo)
	case gateway.TradeUserPaying:
		log.Info("Payment pending notification")
		return fmt.Errorf("%w: order %s", apperr.ErrPaymentPending, res.OrderNo)
	default:
		log.Warn("Unexpected trade state in notification")
		return fmt.Errorf("%w: unexpected trade state %s", apperr.ErrInvalidNotification, res.TradeState)
	}
}

func (s *reconcileService) ResolveExpiredOrder(ctx context.Context, order *model.Order) error {
	if order.Status != model.StatusNotPay {
		return nil
	}
	if !order.Expired(s.now()) {
		return fmt.Errorf("%w: order %s has not expired", apperr.ErrValidation, order.OrderNo)
	}
	return s.resolve(ctx, sourcePoll, order)
}

func (s *reconcileService) ReconcileOrder(ctx context.Context, orderNo string) error {
	order, err := s.Orders.GetByOrderNo(ctx, orderNo)
	if err != nil {
		return err
	}
	if order.IsTerminal() {
		return nil
	}
	return s.resolve(ctx, sourceRetry, order)
}

// resolve 查询网关并推进订单。网关调用不持有订单锁
func (s *reconcileService) resolve(ctx context.Context, source string, order *model.Order) error {
	gw, err := s.Gateways.Get(order.PayType)
	if err != nil {
		return err
	}

	res, err := gw.QueryOrder(ctx, order.OrderNo)
	if err != nil {
		return err
	}

	log := logger.Log.With(
		zap.String("order_no", order.OrderNo),
		zap.String("source", source),
		zap.String("trade_state", string(res.TradeState)))

	switch res.TradeState {
	case gateway.TradeSuccess:
		return s.settle(ctx, source, order.PayType, res)

	case gateway.TradeClosed:
		return s.closeOrder(ctx, source, gw, order, true)

	case gateway.TradeNotPay, gateway.TradeNotExist, gateway.TradePayError:
		// 未过期的订单用户仍可能支付
		if !order.Expired(s.now()) {
			log.Debug("Order not expired, leaving NOTPAY")
			return nil
		}
		return s.closeOrder(ctx, source, gw, order, false)

	default:
		log.Info("Order left NOTPAY for next reconciliation")
		return nil
	}
}

// settle 对单个订单号至多入账一次
func (s *reconcileService) settle(ctx context.Context, source, payType string, res *gateway.Result) error {
	log := logger.Log.With(zap.String("order_no", res.OrderNo), zap.String("source", source))

	order, outcome, err := s.settleLocked(ctx, source, payType, res, log)
	s.Metrics.RecordSettlement(source, outcome)
	if err != nil {
		return err
	}
	if outcome != "settled" {
		return nil
	}

	// 锁已释放，缓存失效与通知都在锁外进行
	s.invalidate(ctx, order.OrderNo)
	log.Info("Order settled", zap.String("user_id", order.UserID), zap.Int64("add_points", order.AddPoints))

	if s.Notifier != nil {
		go func() {
			nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.Config.NotifyTimeout)
			defer cancel()
			s.Notifier.PaySuccess(nctx, order)
		}()
	}
	return nil
}

func (s *reconcileService) settleLocked(ctx context.Context, source, payType string, res *gateway.Result, log *zap.Logger) (*model.Order, string, error) {
	release, err := s.Locker.Acquire(ctx, lock.SettleKey(res.OrderNo))
	if err != nil {
		return nil, "lock_timeout", err
	}
	defer release()

	order, err := s.Orders.GetByOrderNo(ctx, res.OrderNo)
	if err != nil {
		return nil, "failed", err
	}

	switch order.Status {
	case model.StatusSuccess:
		log.Info("Duplicate payment signal for settled order")
		return order, "duplicate", nil
	case model.StatusClosed:
		log.Warn("Payment signal for closed order ignored, manual refund may be required",
			zap.String("transaction_id", res.TransactionID))
		return order, "paid_after_close", nil
	}

	if order.PayType != payType {
		return nil, "failed", fmt.Errorf("%w: order %s pay type %s, signal from %s",
			apperr.ErrValidation, order.OrderNo, order.PayType, payType)
	}
	if res.Total != order.Total {
		log.Error("Payment amount mismatch",
			zap.Int64("order_total", order.Total), zap.Int64("paid_total", res.Total), zap.Bool("alert", true))
		return nil, "amount_mismatch", fmt.Errorf("%w: order %s amount %d, paid %d",
			apperr.ErrValidation, order.OrderNo, order.Total, res.Total)
	}

	var lostRace, applied bool
	err = s.Transactor.InTx(ctx, func(st repository.Stores) error {
		if err := st.Orders.TransitionStatus(ctx, order.OrderNo, model.StatusNotPay, model.StatusSuccess); err != nil {
			lostRace = errors.Is(err, apperr.ErrConcurrencyLost)
			return err
		}
		if err := st.Users.CreditBalance(ctx, order.UserID, order.AddPoints); err != nil {
			return fmt.Errorf("credit balance: %w", err)
		}
		if err := st.Records.Create(ctx, res.ToPaymentRecord(order.PayType)); err != nil {
			return fmt.Errorf("create payment record: %w", err)
		}
		applied = true
		return nil
	})

	switch {
	case err == nil:
		order.Status = model.StatusSuccess
		return order, "settled", nil
	case lostRace:
		log.Info("Settlement lost race, order already advanced")
		return order, "lost_race", nil
	case applied:
		// 事务内步骤全部成功但提交失败，结果未知
		s.Metrics.RecordPartialSettlement()
		// 来自补偿队列的任务由队列自身重试
		enqueued := source == sourceRetry
		if !enqueued && s.Retry != nil {
			enqueued = s.Retry.Enqueue(order.OrderNo)
		}
		log.Error("Settlement commit outcome unknown",
			zap.Bool("alert", true), zap.Bool("retry_enqueued", enqueued), zap.Error(err))
		return nil, "partial", fmt.Errorf("%w: order %s: %v", apperr.ErrPartialSettlement, order.OrderNo, err)
	default:
		log.Error("Settlement rolled back", zap.Error(err))
		return nil, "failed", err
	}
}

// closeOrder 先关闭网关订单，再在订单锁内关闭本地订单
func (s *reconcileService) closeOrder(ctx context.Context, source string, gw gateway.Gateway, order *model.Order, remoteClosed bool) error {
	log := logger.Log.With(zap.String("order_no", order.OrderNo), zap.String("source", source))

	if !remoteClosed {
		if err := gw.CloseOrder(ctx, order.OrderNo); err != nil {
			// 例如关单时用户刚好完成支付，留给下一轮查询
			log.Warn("Gateway close failed, order left NOTPAY", zap.Error(err))
			return err
		}
	}

	closed, err := s.closeLocked(ctx, order.OrderNo)
	if err != nil {
		return err
	}
	if closed {
		s.invalidate(ctx, order.OrderNo)
		s.Metrics.RecordSettlement(source, "closed")
		log.Info("Order closed")
	}
	return nil
}

func (s *reconcileService) closeLocked(ctx context.Context, orderNo string) (bool, error) {
	release, err := s.Locker.Acquire(ctx, lock.SettleKey(orderNo))
	if err != nil {
		return false, err
	}
	defer release()

	current, err := s.Orders.GetByOrderNo(ctx, orderNo)
	if err != nil {
		return false, err
	}
	if current.Status != model.StatusNotPay {
		return false, nil
	}

	if err := s.Orders.TransitionStatus(ctx, orderNo, model.StatusNotPay, model.StatusClosed); err != nil {
		if errors.Is(err, apperr.ErrConcurrencyLost) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *reconcileService) invalidate(ctx context.Context, orderNo string) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.Delete(context.WithoutCancel(ctx), statusCacheKey(orderNo)); err != nil {
		logger.Log.Warn("Order status cache invalidation failed", zap.String("order_no", orderNo), zap.Error(err))
	}
}
