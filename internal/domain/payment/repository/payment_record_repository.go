package repository

import (
	"context"
	"errors"
	"fmt"

	"qi_api/internal/domain/payment/model"
	"qi_api/internal/pkg/apperr"

	"gorm.io/gorm"
)

type PaymentRecordRepository interface {
	// Create 同一订单重复写入返回 apperr.ErrConcurrencyLost
	Create(ctx context.Context, record *model.PaymentRecord) error
	GetByOrderNo(ctx context.Context, orderNo string) (*model.PaymentRecord, error)
	WithTx(tx *gorm.DB) PaymentRecordRepository
}

type paymentRecordRepository struct {
	db *gorm.DB
}

func NewPaymentRecordRepository(db *gorm.DB) PaymentRecordRepository {
	return &paymentRecordRepository{db: db}
}

func (r *paymentRecordRepository) WithTx(tx *gorm.DB) PaymentRecordRepository {
	return &paymentRecordRepository{db: tx}
}

func (r *paymentRecordRepository) Create(ctx context.Context, record *model.PaymentRecord) error {
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: payment record of %s exists", apperr.ErrConcurrencyLost, record.OrderNo)
		}
		return err
	}
	return nil
}

func (r *paymentRecordRepository) GetByOrderNo(ctx context.Context, orderNo string) (*model.PaymentRecord, error) {
	var record model.PaymentRecord
	if err := r.db.WithContext(ctx).Where("order_no = ?", orderNo).Take(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: payment record of %s", apperr.ErrNotFound, orderNo)
		}
		return nil, err
	}
	return &record, nil
}
