package repository

import (
	"context"

	userRepo "qi_api/internal/domain/user/repository"

	"gorm.io/gorm"
)

// Stores 绑定到同一事务的仓库集合
type Stores struct {
	Orders  OrderRepository
	Records PaymentRecordRepository
	Users   userRepo.UserRepository
}

// Transactor 在一个显式事务中执行 fn，fn 返回错误或 panic 时整体回滚
type Transactor interface {
	InTx(ctx context.Context, fn func(s Stores) error) error
}

type gormTransactor struct {
	db     *gorm.DB
	stores Stores
}

func NewTransactor(db *gorm.DB, stores Stores) Transactor {
	return &gormTransactor{db: db, stores: stores}
}

func (t *gormTransactor) InTx(ctx context.Context, fn func(s Stores) error) error {
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(Stores{
			Orders:  t.stores.Orders.WithTx(tx),
			Records: t.stores.Records.WithTx(tx),
			Users:   t.stores.Users.WithTx(tx),
		})
	})
}
