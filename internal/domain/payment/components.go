package payment

import (
	"qi_api/internal/domain/payment/gateway"
	"qi_api/internal/domain/payment/job"
	"qi_api/internal/domain/payment/repository"
	"qi_api/internal/domain/payment/service"
	productRepo "qi_api/internal/domain/product/repository"
	userRepo "qi_api/internal/domain/user/repository"
	"qi_api/internal/pkg/lock"
	"qi_api/internal/pkg/mailer"
	"qi_api/internal/pkg/push"
	"qi_api/internal/pkg/registry"
	"qi_api/internal/pkg/worker"
	"qi_api/pkg/cache"
	"qi_api/pkg/logger"

	"go.uber.org/zap"
)

// Components 支付模块的全部依赖，HTTP 服务和运维命令共用
type Components struct {
	Orders   service.OrderService
	Store    repository.OrderRepository
	Engine   service.ReconcileService
	Sweeper  *job.TimeoutSweeper
	Retry    *worker.WorkerPool
	Gateways *gateway.Registry
}

// Build 依赖注入。未配置的支付网关直接跳过
func Build(mc *registry.ModuleContext) (*Components, error) {
	cfg := mc.Config

	orders := repository.NewOrderRepository(mc.DB)
	users := userRepo.NewUserRepository(mc.DB)
	stores := repository.Stores{
		Orders:  orders,
		Records: repository.NewPaymentRecordRepository(mc.DB),
		Users:   users,
	}

	gateways, err := buildGateways(mc)
	if err != nil {
		return nil, err
	}

	locker, err := lock.New(cfg.Lock, mc.Redis, mc.Metrics)
	if err != nil {
		return nil, err
	}

	var statusCache cache.CacheService
	if mc.Redis != nil {
		statusCache = cache.NewRedisCache(mc.Redis, cfg.App.Env)
	} else {
		statusCache = cache.NewMemoryCache()
	}

	pool := worker.NewWorkerPool(cfg.Worker.Workers, cfg.Worker.QueueSize, cfg.Worker.MaxRetry, cfg.Worker.RetryDelay, mc.Metrics)

	engine := service.NewReconcileService(service.ReconcileDeps{
		Config:     cfg.Payment,
		Orders:     orders,
		Transactor: repository.NewTransactor(mc.DB, stores),
		Gateways:   gateways,
		Locker:     locker,
		Cache:      statusCache,
		Notifier:   buildNotifier(mc, users),
		Retry:      pool,
		Metrics:    mc.Metrics,
	})
	pool.SetHandler(engine)

	return &Components{
		Orders:   service.NewOrderService(cfg.Payment, orders, productRepo.NewProductRepository(mc.DB), gateways, locker, statusCache),
		Store:    orders,
		Engine:   engine,
		Sweeper:  job.NewTimeoutSweeper(cfg.Sweeper, orders, engine, mc.Metrics),
		Retry:    pool,
		Gateways: gateways,
	}, nil
}

func buildGateways(mc *registry.ModuleContext) (*gateway.Registry, error) {
	cfg := mc.Config
	var enabled []gateway.Gateway

	if cfg.Wechat.MchID != "" {
		wx, err := gateway.NewWechatGateway(mc.Ctx, cfg.Wechat)
		if err != nil {
			return nil, err
		}
		enabled = append(enabled, gateway.Instrument(wx, cfg.Payment.GatewayTimeout, mc.Metrics))
	} else {
		logger.Log.Warn("Wechat pay not configured, WX orders disabled")
	}

	if cfg.Alipay.AppID != "" {
		ali, err := gateway.NewAlipayGateway(cfg.Alipay, cfg.Payment.GatewayTimeout)
		if err != nil {
			return nil, err
		}
		enabled = append(enabled, gateway.Instrument(ali, cfg.Payment.GatewayTimeout, mc.Metrics))
	} else {
		logger.Log.Warn("Alipay not configured, ALIPAY orders disabled")
	}

	r := gateway.NewRegistry(enabled...)
	logger.Log.Info("Payment gateways ready", zap.Strings("pay_types", r.PayTypes()))
	return r, nil
}

// buildNotifier 邮件和推送都是可选的
func buildNotifier(mc *registry.ModuleContext, users userRepo.UserRepository) service.Notifier {
	var sender mailer.Sender
	if s := mailer.NewSMTPSender(mc.Config.Mail); s != nil {
		sender = s
	}

	var pusher push.PushService
	p, err := push.NewAliyunPushService(mc.Config.Push)
	switch {
	case err == nil:
		pusher = p
	case err != push.ErrNotConfigured:
		logger.Log.Warn("Aliyun push disabled", zap.Error(err))
	}

	return service.NewNotifier(users, sender, pusher)
}
