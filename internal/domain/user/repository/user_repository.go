package repository

import (
	"context"
	"errors"
	"fmt"

	"qi_api/internal/domain/user/model"
	"qi_api/internal/pkg/apperr"

	"gorm.io/gorm"
)

// UserRepository 接口定义
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
	// CreditBalance 原子增加积分，用户不存在返回 apperr.ErrNotFound
	CreditBalance(ctx context.Context, userID string, points int64) error
	WithTx(tx *gorm.DB) UserRepository
}

// userRepository 实现
type userRepository struct {
	db *gorm.DB
}

// NewUserRepository 创建新的仓库实例
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) WithTx(tx *gorm.DB) UserRepository {
	return &userRepository{db: tx}
}

// GetByID 根据ID获取用户
func (r *userRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: user %s", apperr.ErrNotFound, id)
		}
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) CreditBalance(ctx context.Context, userID string, points int64) error {
	result := r.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", userID).
		UpdateColumn("balance", gorm.Expr("balance + ?", points))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: user %s", apperr.ErrNotFound, userID)
	}
	return nil
}
