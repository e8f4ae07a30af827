package repository

import (
	"context"
	"errors"
	"fmt"

	"qi_api/internal/domain/product/model"
	"qi_api/internal/pkg/apperr"

	"gorm.io/gorm"
)

type ProductRepository interface {
	GetByID(ctx context.Context, id string) (*model.Product, error)
}

type productRepository struct {
	db *gorm.DB
}

func NewProductRepository(db *gorm.DB) ProductRepository {
	return &productRepository{db: db}
}

func (r *productRepository) GetByID(ctx context.Context, id string) (*model.Product, error) {
	var product model.Product
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&product).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: product %s", apperr.ErrNotFound, id)
		}
		return nil, err
	}
	return &product, nil
}
