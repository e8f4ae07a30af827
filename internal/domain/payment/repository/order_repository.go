package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"qi_api/internal/domain/payment/model"
	"qi_api/internal/pkg/apperr"

	"gorm.io/gorm"
)

// OrderRepository 订单存储，状态只能通过 TransitionStatus 条件更新
type OrderRepository interface {
	Create(ctx context.Context, order *model.Order) error
	GetByOrderNo(ctx context.Context, orderNo string) (*model.Order, error)
	// FindActive 未过期的 NOTPAY 订单，不存在时返回 nil, nil
	FindActive(ctx context.Context, productID, userID, payType string, now time.Time) (*model.Order, error)
	SetPayableCode(ctx context.Context, orderNo, code string) error
	TransitionStatus(ctx context.Context, orderNo, from, to string) error
	FindExpired(ctx context.Context, now time.Time, limit int) ([]model.Order, error)
	WithTx(tx *gorm.DB) OrderRepository
}

type orderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) WithTx(tx *gorm.DB) OrderRepository {
	return &orderRepository{db: tx}
}

func (r *orderRepository) Create(ctx context.Context, order *model.Order) error {
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: duplicate order %s", apperr.ErrConcurrencyLost, order.OrderNo)
		}
		return err
	}
	return nil
}

func (r *orderRepository) GetByOrderNo(ctx context.Context, orderNo string) (*model.Order, error) {
	var order model.Order
	if err := r.db.WithContext(ctx).Where("order_no = ?", orderNo).Take(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: order %s", apperr.ErrNotFound, orderNo)
		}
		return nil, err
	}
	return &order, nil
}

func (r *orderRepository) FindActive(ctx context.Context, productID, userID, payType string, now time.Time) (*model.Order, error) {
	var orders []model.Order
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND product_id = ? AND pay_type = ? AND status = ? AND expiration_time > ?",
			userID, productID, payType, model.StatusNotPay, now).
		Order("created_at DESC").
		Limit(1).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, nil
	}
	return &orders[0], nil
}

// SetPayableCode 只在 code_url 为空或已是同一个值时写入
func (r *orderRepository) SetPayableCode(ctx context.Context, orderNo, code string) error {
	result := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("order_no = ? AND (code_url = '' OR code_url = ?)", orderNo, code).
		UpdateColumn("code_url", code)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: code_url of %s already set", apperr.ErrConcurrencyLost, orderNo)
	}
	return nil
}

// TransitionStatus 条件更新，未命中说明状态已被其他路径推进
func (r *orderRepository) TransitionStatus(ctx context.Context, orderNo, from, to string) error {
	if !model.CanTransition(from, to) {
		return fmt.Errorf("%w: transition %s -> %s", apperr.ErrValidation, from, to)
	}

	result := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("order_no = ? AND status = ?", orderNo, from).
		Updates(map[string]interface{}{
			"status":     to,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: order %s is no longer %s", apperr.ErrConcurrencyLost, orderNo, from)
	}
	return nil
}

func (r *orderRepository) FindExpired(ctx context.Context, now time.Time, limit int) ([]model.Order, error) {
	var orders []model.Order
	err := r.db.WithContext(ctx).
		Where("status = ? AND expiration_time <= ?", model.StatusNotPay, now).
		Order("expiration_time ASC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}
