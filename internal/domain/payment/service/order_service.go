package service

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"qi_api/internal/domain/payment/gateway"
	"qi_api/internal/domain/payment/model"
	"qi_api/internal/domain/payment/repository"
	productModel "qi_api/internal/domain/product/model"
	productRepo "qi_api/internal/domain/product/repository"
	"qi_api/internal/pkg/apperr"
	"qi_api/internal/pkg/config"
	"qi_api/internal/pkg/lock"
	"qi_api/pkg/cache"
	"qi_api/pkg/logger"

	"go.uber.org/zap"
)

const orderNoDigits = 20

// OrderView 返回给客户端的订单信息
type OrderView struct {
	OrderNo        string    `json:"orderNo"`
	OrderName      string    `json:"orderName"`
	Total          int64     `json:"total"`
	AddPoints      int64     `json:"addPoints"`
	PayType        string    `json:"payType"`
	Status         string    `json:"status"`
	CodeURL        string    `json:"codeUrl"`
	ExpirationTime time.Time `json:"expirationTime"`
	UserID         string    `json:"-"`
}

func newOrderView(o *model.Order) *OrderView {
	return &OrderView{
		OrderNo:        o.OrderNo,
		OrderName:      o.OrderName,
		Total:          o.Total,
		AddPoints:      o.AddPoints,
		PayType:        o.PayType,
		Status:         o.Status,
		CodeURL:        o.CodeURL,
		ExpirationTime: o.ExpirationTime,
		UserID:         o.UserID,
	}
}

// cachedStatus 缓存中的订单状态，带上 owner 用于鉴权
type cachedStatus struct {
	View   *OrderView `json:"view"`
	UserID string     `json:"userId"`
}

type OrderService interface {
	// CreateOrder 同一 (用户, 商品, 支付方式) 存在未过期订单时直接复用
	CreateOrder(ctx context.Context, userID, productID, payType string) (*OrderView, error)
	GetOrderStatus(ctx context.Context, userID, orderNo string) (*OrderView, error)
}

type orderService struct {
	cfg      config.PaymentConfig
	orders   repository.OrderRepository
	products productRepo.ProductRepository
	gateways *gateway.Registry
	locker   lock.Locker
	cache    cache.CacheService
	now      func() time.Time
}

func NewOrderService(
	cfg config.PaymentConfig,
	orders repository.OrderRepository,
	products productRepo.ProductRepository,
	gateways *gateway.Registry,
	locker lock.Locker,
	statusCache cache.CacheService,
) OrderService {
	return &orderService{
		cfg:      cfg,
		orders:   orders,
		products: products,
		gateways: gateways,
		locker:   locker,
		cache:    statusCache,
		now:      time.Now,
	}
}

func (s *orderService) CreateOrder(ctx context.Context, userID, productID, payType string) (*OrderView, error) {
	if userID == "" || productID == "" {
		return nil, fmt.Errorf("%w: user and product are required", apperr.ErrValidation)
	}
	gw, err := s.gateways.Get(payType)
	if err != nil {
		return nil, err
	}

	// 加锁只是减少重复下单，锁服务异常时继续走查询复用逻辑
	release, err := s.locker.Acquire(ctx, lock.CreateKey(userID, productID, payType))
	if err != nil {
		logger.Log.Warn("Create order lock unavailable, continuing without it",
			zap.String("user_id", userID), zap.String("product_id", productID), zap.Error(err))
		release = func() {}
	}
	defer release()

	product, err := s.products.GetByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if product.Status != productModel.StatusOnSale {
		return nil, fmt.Errorf("%w: product %s is not on sale", apperr.ErrValidation, productID)
	}

	order, err := s.orders.FindActive(ctx, productID, userID, payType, s.now())
	if err != nil {
		return nil, err
	}
	if order != nil && order.CodeURL != "" {
		return newOrderView(order), nil
	}

	if order == nil {
		order, err = s.newOrder(userID, payType, product)
		if err != nil {
			return nil, err
		}
		if err := s.orders.Create(ctx, order); err != nil {
			return nil, err
		}
		logger.Log.Info("Order created",
			zap.String("order_no", order.OrderNo), zap.String("user_id", userID), zap.String("pay_type", payType))
	}

	// 网关超时时本地订单保持 NOTPAY 且无付款码，重试会复用该订单再次请求网关
	code, err := gw.CreateOrder(ctx, order)
	if err != nil {
		logger.Log.Warn("Gateway create order failed",
			zap.String("order_no", order.OrderNo), zap.Error(err))
		return nil, err
	}

	if err := s.orders.SetPayableCode(ctx, order.OrderNo, code); err != nil {
		if !errors.Is(err, apperr.ErrConcurrencyLost) {
			return nil, err
		}
		// 其他请求已写入付款码，以库中为准
		return s.reload(ctx, order.OrderNo)
	}
	order.CodeURL = code
	return newOrderView(order), nil
}

func (s *orderService) reload(ctx context.Context, orderNo string) (*OrderView, error) {
	order, err := s.orders.GetByOrderNo(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	return newOrderView(order), nil
}

func (s *orderService) newOrder(userID, payType string, product *productModel.Product) (*model.Order, error) {
	orderNo, err := newOrderNo(s.cfg.OrderPrefix)
	if err != nil {
		return nil, err
	}
	snapshot, err := json.Marshal(model.ProductSnapshot{
		ID:        product.ID,
		Name:      product.Name,
		Total:     product.Total,
		AddPoints: product.AddPoints,
	})
	if err != nil {
		return nil, err
	}

	return &model.Order{
		OrderNo:     orderNo,
		UserID:      userID,
		ProductID:   product.ID,
		PayType:     payType,
		ProductInfo: snapshot,
		OrderName:   product.Name,
		Total:       product.Total,
		AddPoints:   product.AddPoints,
		Status:      model.StatusNotPay,
		// 网关只接受秒级时间，截断后本地与网关的过期时间完全一致
		ExpirationTime: s.now().Add(s.cfg.OrderTTL).Truncate(time.Second),
	}, nil
}

func (s *orderService) GetOrderStatus(ctx context.Context, userID, orderNo string) (*OrderView, error) {
	key := statusCacheKey(orderNo)

	var cached cachedStatus
	if err := s.cache.Get(ctx, key, &cached); err == nil && cached.View != nil {
		if cached.UserID != userID {
			return nil, fmt.Errorf("%w: order %s", apperr.ErrNotFound, orderNo)
		}
		return cached.View, nil
	} else if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
		logger.Log.Warn("Order status cache read failed", zap.String("order_no", orderNo), zap.Error(err))
	}

	order, err := s.orders.GetByOrderNo(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	// 他人的订单按不存在处理
	if order.UserID != userID {
		return nil, fmt.Errorf("%w: order %s", apperr.ErrNotFound, orderNo)
	}

	view := newOrderView(order)
	if err := s.cache.Set(ctx, key, cachedStatus{View: view, UserID: order.UserID}, s.cfg.StatusCacheTTL); err != nil {
		logger.Log.Warn("Order status cache write failed", zap.String("order_no", orderNo), zap.Error(err))
	}
	return view, nil
}

func statusCacheKey(orderNo string) string {
	return "payment:order:status:" + orderNo
}

var orderNoRange = new(big.Int).Exp(big.NewInt(10), big.NewInt(orderNoDigits), nil)

// newOrderNo 前缀 + 20 位随机数字
func newOrderNo(prefix string) (string, error) {
	n, err := rand.Int(rand.Reader, orderNoRange)
	if err != nil {
		return "", fmt.Errorf("generate order no: %w", err)
	}
	digits := n.String()
	return prefix + strings.Repeat("0", orderNoDigits-len(digits)) + digits, nil
}
