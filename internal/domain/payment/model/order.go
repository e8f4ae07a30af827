package model

import (
	"encoding/json"
	"time"

	baseModel "qi_api/pkg/model"
)

// Order 支付订单，只允许 NOTPAY -> SUCCESS 或 NOTPAY -> CLOSED
type Order struct {
	baseModel.BaseModel
	OrderNo        string          `gorm:"uniqueIndex;size:64;not null" json:"orderNo"`
	UserID         string          `gorm:"type:uuid;not null;index:idx_orders_active,priority:1" json:"userId"`
	ProductID      string          `gorm:"type:uuid;not null;index:idx_orders_active,priority:2" json:"productId"`
	PayType        string          `gorm:"size:16;not null;index:idx_orders_active,priority:3" json:"payType"`
	ProductInfo    json.RawMessage `gorm:"type:jsonb" json:"productInfo"`
	OrderName      string          `gorm:"size:128;not null" json:"orderName"`
	Total          int64           `gorm:"not null" json:"total"` // 分
	AddPoints      int64           `gorm:"not null" json:"addPoints"`
	Status         string          `gorm:"size:16;not null;index" json:"status"`
	CodeURL        string          `gorm:"column:code_url;size:512;not null" json:"codeUrl"`
	ExpirationTime time.Time       `gorm:"not null;index" json:"expirationTime"`
}

const (
	StatusNotPay  = "NOTPAY"
	StatusSuccess = "SUCCESS"
	StatusClosed  = "CLOSED"

	PayTypeWechat = "WX"
	PayTypeAlipay = "ALIPAY"
)

// ProductSnapshot 下单时的商品快照
type ProductSnapshot struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Total     int64  `json:"total"`
	AddPoints int64  `json:"addPoints"`
}

// IsTerminal SUCCESS 和 CLOSED 都是终态
func (o *Order) IsTerminal() bool {
	return o.Status == StatusSuccess || o.Status == StatusClosed
}

func (o *Order) Expired(now time.Time) bool {
	return !now.Before(o.ExpirationTime)
}

// CanTransition 状态机允许的迁移
func CanTransition(from, to string) bool {
	return from == StatusNotPay && (to == StatusSuccess || to == StatusClosed)
}

// ValidPayType 支持的支付方式
func ValidPayType(payType string) bool {
	return payType == PayTypeWechat || payType == PayTypeAlipay
}
