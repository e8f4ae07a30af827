package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"qi_api/internal/domain/payment/model"
	"qi_api/internal/pkg/apperr"
)

// TradeState 网关侧交易状态
type TradeState string

const (
	TradeSuccess    TradeState = "SUCCESS"
	TradeNotPay     TradeState = "NOTPAY"
	TradeUserPaying TradeState = "USERPAYING"
	TradePayError   TradeState = "PAYERROR"
	TradeClosed     TradeState = "CLOSED"
	TradeRefund     TradeState = "REFUND"
	TradeRevoked    TradeState = "REVOKED"
	// TradeNotExist 网关没有这笔订单，通常是下单请求超时未到达网关
	TradeNotExist TradeState = "NOT_EXIST"
)

// Result 查询或回调解析出的交易信息
type Result struct {
	OrderNo        string
	TransactionID  string
	TradeType      string
	TradeState     TradeState
	TradeStateDesc string
	BankType       string
	SuccessTime    *time.Time
	PayerID        string
	Total          int64
	PayerTotal     int64
	Currency       string
	Raw            json.RawMessage
}

// Gateway 第三方支付网关。实现必须无状态、并发安全
type Gateway interface {
	PayType() string
	// CreateOrder 返回付款码（二维码链接），网关过期时间与 order.ExpirationTime 一致
	CreateOrder(ctx context.Context, order *model.Order) (string, error)
	QueryOrder(ctx context.Context, orderNo string) (*Result, error)
	// CloseOrder 已关闭或不存在的订单视为成功
	CloseOrder(ctx context.Context, orderNo string) error
	// ParseNotification 验签并解密回调，失败返回 apperr.ErrInvalidNotification
	ParseNotification(ctx context.Context, payload []byte, headers http.Header) (*Result, error)
}

// Registry 按支付方式查找网关
type Registry struct {
	gateways map[string]Gateway
}

func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[string]Gateway, len(gateways))}
	for _, g := range gateways {
		r.gateways[g.PayType()] = g
	}
	return r
}

func (r *Registry) Get(payType string) (Gateway, error) {
	g, ok := r.gateways[payType]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported pay type %q", apperr.ErrValidation, payType)
	}
	return g, nil
}

// PayTypes 已启用的支付方式
func (r *Registry) PayTypes() []string {
	types := make([]string, 0, len(r.gateways))
	for t := range r.gateways {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// ToPaymentRecord 把网关结果转换为支付流水
func (r *Result) ToPaymentRecord(payType string) *model.PaymentRecord {
	return &model.PaymentRecord{
		OrderNo:        r.OrderNo,
		PayType:        payType,
		TransactionID:  r.TransactionID,
		TradeType:      r.TradeType,
		TradeState:     string(r.TradeState),
		TradeStateDesc: r.TradeStateDesc,
		BankType:       r.BankType,
		SuccessTime:    r.SuccessTime,
		PayerID:        r.PayerID,
		Total:          r.Total,
		PayerTotal:     r.PayerTotal,
		Currency:       r.Currency,
		Content:        r.Raw,
	}
}
