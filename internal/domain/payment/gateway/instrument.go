package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"qi_api/internal/domain/payment/model"
	"qi_api/internal/pkg/apperr"
	"qi_api/pkg/metrics"
)

// instrumented 给每次网关调用加超时并记录指标
type instrumented struct {
	next    Gateway
	timeout time.Duration
	metrics *metrics.MetricsCollector
}

// Instrument 包装网关，timeout <= 0 时不加超时
func Instrument(g Gateway, timeout time.Duration, collector *metrics.MetricsCollector) Gateway {
	return &instrumented{next: g, timeout: timeout, metrics: collector}
}

func (g *instrumented) PayType() string {
	return g.next.PayType()
}

func (g *instrumented) CreateOrder(ctx context.Context, order *model.Order) (string, error) {
	var code string
	err := g.call(ctx, "create", func(ctx context.Context) error {
		var err error
		code, err = g.next.CreateOrder(ctx, order)
		return err
	})
	return code, err
}

func (g *instrumented) QueryOrder(ctx context.Context, orderNo string) (*Result, error) {
	var res *Result
	err := g.call(ctx, "query", func(ctx context.Context) error {
		var err error
		res, err = g.next.QueryOrder(ctx, orderNo)
		return err
	})
	return res, err
}

func (g *instrumented) CloseOrder(ctx context.Context, orderNo string) error {
	return g.call(ctx, "close", func(ctx context.Context) error {
		return g.next.CloseOrder(ctx, orderNo)
	})
}

func (g *instrumented) ParseNotification(ctx context.Context, payload []byte, headers http.Header) (*Result, error) {
	var res *Result
	err := g.call(ctx, "notify", func(ctx context.Context) error {
		var err error
		res, err = g.next.ParseNotification(ctx, payload, headers)
		return err
	})
	return res, err
}

func (g *instrumented) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	err := classifyTimeout(fn(ctx))
	g.metrics.RecordGatewayCall(g.PayType(), op, resultLabel(err), time.Since(start))
	return err
}

// classifyTimeout 未分类的超时/取消统一视为网关不可用
func classifyTimeout(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, apperr.ErrGatewayUnavailable) || errors.Is(err, apperr.ErrGatewayRejected) ||
		errors.Is(err, apperr.ErrInvalidNotification) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", apperr.ErrGatewayUnavailable, err)
	}
	return err
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, apperr.ErrGatewayUnavailable):
		return "unavailable"
	case errors.Is(err, apperr.ErrGatewayRejected):
		return "rejected"
	case errors.Is(err, apperr.ErrInvalidNotification):
		return "invalid"
	default:
		return "error"
	}
}
