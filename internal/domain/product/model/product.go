package model

import baseModel "qi_api/pkg/model"

const (
	StatusOffShelf = 0
	StatusOnSale   = 1
)

// Product 可购买的积分商品，Total 单位为分
type Product struct {
	baseModel.BaseModel
	Name        string `gorm:"type:varchar(100);not null" json:"name"`
	Description string `gorm:"type:text" json:"description"`
	Total       int64  `gorm:"not null" json:"total"`
	AddPoints   int64  `gorm:"not null" json:"addPoints"`
	Status      int    `gorm:"not null" json:"status"`
}
