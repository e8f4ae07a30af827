package model

import (
	"encoding/json"
	"time"

	baseModel "qi_api/pkg/model"
)

// PaymentRecord 网关回调/查询结果的流水，每个订单至多一条
type PaymentRecord struct {
	baseModel.BaseModel
	OrderNo        string          `gorm:"uniqueIndex;size:64;not null" json:"orderNo"`
	PayType        string          `gorm:"size:16;not null" json:"payType"`
	TransactionID  string          `gorm:"size:64" json:"transactionId"`
	TradeType      string          `gorm:"size:32" json:"tradeType"`
	TradeState     string          `gorm:"size:32" json:"tradeState"`
	TradeStateDesc string          `gorm:"size:255" json:"tradeStateDesc"`
	BankType       string          `gorm:"size:32" json:"bankType"`
	SuccessTime    *time.Time      `json:"successTime,omitempty"`
	PayerID        string          `gorm:"size:128" json:"payerId"`
	Total          int64           `json:"total"`
	PayerTotal     int64           `json:"payerTotal"`
	Currency       string          `gorm:"size:16" json:"currency"`
	Content        json.RawMessage `gorm:"type:jsonb" json:"content"`
}
