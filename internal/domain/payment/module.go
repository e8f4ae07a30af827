package payment

import (
	"context"
	"time"

	"qi_api/internal/domain/payment/handler"
	"qi_api/internal/pkg/middleware"
	"qi_api/internal/pkg/registry"
	"qi_api/pkg/logger"

	"golang.org/x/time/rate"
)

// PaymentModule 支付模块
type PaymentModule struct{}

func init() {
	registry.Register(&PaymentModule{})
}

func (m *PaymentModule) Name() string {
	return "payment"
}

func (m *PaymentModule) Priority() int {
	// 支付模块依赖用户和商品，所以优先级较低
	return 20
}

func (m *PaymentModule) Init(ctx *registry.ModuleContext) error {
	c, err := Build(ctx)
	if err != nil {
		return err
	}

	// 后台任务随进程 ctx 退出
	c.Retry.Start(ctx.Ctx)
	if ctx.Config.Sweeper.Enabled {
		go c.Sweeper.Run(ctx.Ctx)
	} else {
		logger.Log.Warn("Timeout sweeper disabled")
	}

	h := handler.NewPaymentHandler(c.Orders, c.Engine)
	setupRoutes(ctx, h)
	return nil
}

func setupRoutes(ctx *registry.ModuleContext, h *handler.PaymentHandler) {
	g := ctx.Router.Group("/payment")

	// 支付回调 (无需鉴权，但需验签)
	g.POST("/notify/alipay", h.AlipayNotify)
	g.POST("/notify/wechat", h.WechatNotify)

	// 需要鉴权的接口
	auth := g.Group("")
	auth.Use(middleware.AuthMiddleware(ctx.Config.JWT.Secret))
	{
		// 下单接口按 IP 限流，每秒 2 个，突发 5 个
		limiter := middleware.NewIPRateLimiter(rate.Limit(2), 5)
		go cleanupLimiter(ctx.Ctx, limiter)
		auth.POST("/order", middleware.RateLimitMiddleware(limiter), h.CreateOrder)
		auth.GET("/order/:orderNo", h.GetOrder)
	}
}

func cleanupLimiter(ctx context.Context, limiter *middleware.IPRateLimiter) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limiter.Cleanup(10 * time.Minute)
		}
	}
}
