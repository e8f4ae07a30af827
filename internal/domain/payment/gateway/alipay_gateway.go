package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"qi_api/internal/domain/payment/model"
	"qi_api/internal/pkg/apperr"
	"qi_api/internal/pkg/config"

	"github.com/smartwalle/alipay/v3"
)

const (
	alipaySubCodeTradeNotExist = "ACQ.TRADE_NOT_EXIST"
	alipaySubCodeSystemError   = "ACQ.SYSTEM_ERROR"
	alipayCodeUnavailable      = "20000"
	alipayTimeLayout           = "2006-01-02 15:04:05"
)

// alipayLocation 支付宝接口中的时间一律是北京时间
var alipayLocation = loadAlipayLocation()

func loadAlipayLocation() *time.Location {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		return time.FixedZone("CST", 8*3600)
	}
	return loc
}

// AlipayGateway 支付宝当面付（预下单二维码）
type AlipayGateway struct {
	client *alipay.Client
	config config.AlipayConfig
}

// NewAlipayGateway SDK 的调用不接收 context，timeout 通过 http.Client 约束单次请求
func NewAlipayGateway(cfg config.AlipayConfig, timeout time.Duration, opts ...alipay.OptionFunc) (*AlipayGateway, error) {
	if cfg.AppID == "" {
		return nil, errors.New("alipay config missing")
	}

	options := []alipay.OptionFunc{
		alipay.WithHTTPClient(&http.Client{Timeout: timeout}),
		alipay.WithTimeLocation(alipayLocation),
	}
	client, err := alipay.New(cfg.AppID, cfg.PrivateKey, cfg.IsProduction, append(options, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("create alipay client: %w", err)
	}

	// 加载支付宝公钥 (用于验证签名)
	if err = client.LoadAliPayPublicKey(cfg.PublicKey); err != nil {
		return nil, fmt.Errorf("load alipay public key: %w", err)
	}

	return &AlipayGateway{client: client, config: cfg}, nil
}

func (g *AlipayGateway) PayType() string {
	return model.PayTypeAlipay
}

func (g *AlipayGateway) CreateOrder(ctx context.Context, order *model.Order) (string, error) {
	p := alipay.TradePreCreate{}
	p.NotifyURL = g.config.NotifyURL
	p.Subject = order.OrderName
	p.OutTradeNo = order.OrderNo
	p.TotalAmount = formatYuan(order.Total)
	p.TimeExpire = order.ExpirationTime.In(alipayLocation).Format(alipayTimeLayout)

	if err := ctx.Err(); err != nil {
		return "", err
	}
	rsp, err := g.client.TradePreCreate(p)
	if err != nil {
		return "", alipayCallError("precreate", err)
	}
	if err := classifyAlipay("precreate", rsp.Error); err != nil {
		return "", err
	}
	if rsp.QRCode == "" {
		return "", fmt.Errorf("%w: alipay precreate returned empty qr_code for %s", apperr.ErrGatewayRejected, order.OrderNo)
	}
	return rsp.QRCode, nil
}

func (g *AlipayGateway) QueryOrder(ctx context.Context, orderNo string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rsp, err := g.client.TradeQuery(alipay.TradeQuery{OutTradeNo: orderNo})
	if isAlipayTradeNotExist(err) {
		return &Result{OrderNo: orderNo, TradeState: TradeNotExist}, nil
	}
	if err != nil {
		return nil, alipayCallError("query", err)
	}
	// 用户未扫码时支付宝侧没有交易
	if rsp.SubCode == alipaySubCodeTradeNotExist {
		return &Result{OrderNo: orderNo, TradeState: TradeNotExist}, nil
	}
	if err := classifyAlipay("query", rsp.Error); err != nil {
		return nil, err
	}

	raw, err := json.Marshal(rsp)
	if err != nil {
		return nil, err
	}
	total, err := parseYuan(rsp.TotalAmount)
	if err != nil {
		return nil, fmt.Errorf("%w: alipay query total_amount: %v", apperr.ErrGatewayRejected, err)
	}
	payerTotal, _ := parseYuan(rsp.BuyerPayAmount)

	res := &Result{
		OrderNo:        orderNo,
		TransactionID:  rsp.TradeNo,
		TradeType:      "PRECREATE",
		TradeState:     alipayTradeState(rsp.TradeStatus),
		TradeStateDesc: string(rsp.TradeStatus),
		PayerID:        rsp.BuyerUserId,
		Total:          total,
		PayerTotal:     payerTotal,
		Currency:       "CNY",
		Raw:            raw,
	}
	res.SuccessTime = parseAlipayTime(rsp.SendPayDate)
	return res, nil
}

func (g *AlipayGateway) CloseOrder(ctx context.Context, orderNo string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rsp, err := g.client.TradeClose(alipay.TradeClose{OutTradeNo: orderNo})
	if isAlipayTradeNotExist(err) {
		return nil
	}
	if err != nil {
		return alipayCallError("close", err)
	}
	if rsp.SubCode == alipaySubCodeTradeNotExist {
		return nil
	}
	return classifyAlipay("close", rsp.Error)
}

// ParseNotification payload 为 application/x-www-form-urlencoded 原文
func (g *AlipayGateway) ParseNotification(ctx context.Context, payload []byte, headers http.Header) (*Result, error) {
	values, err := url.ParseQuery(string(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidNotification, err)
	}

	noti, err := g.client.DecodeNotification(values)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidNotification, err)
	}

	total, err := parseYuan(noti.TotalAmount)
	if err != nil {
		return nil, fmt.Errorf("%w: total_amount: %v", apperr.ErrInvalidNotification, err)
	}
	payerTotal, _ := parseYuan(noti.BuyerPayAmount)
	raw, err := json.Marshal(noti)
	if err != nil {
		return nil, err
	}

	return &Result{
		OrderNo:        noti.OutTradeNo,
		TransactionID:  noti.TradeNo,
		TradeType:      "PRECREATE",
		TradeState:     alipayTradeState(noti.TradeStatus),
		TradeStateDesc: string(noti.TradeStatus),
		PayerID:        noti.BuyerId,
		Total:          total,
		PayerTotal:     payerTotal,
		Currency:       "CNY",
		SuccessTime:    parseAlipayTime(noti.GmtPayment),
		Raw:            raw,
	}, nil
}

// alipayTradeState 等待付款的交易在过期后应当关闭，因此映射为 NOTPAY
func alipayTradeState(s alipay.TradeStatus) TradeState {
	switch s {
	case alipay.TradeStatusSuccess, alipay.TradeStatusFinished:
		return TradeSuccess
	case alipay.TradeStatusWaitBuyerPay:
		return TradeNotPay
	case alipay.TradeStatusClosed:
		return TradeClosed
	default:
		return TradeState(s)
	}
}

func classifyAlipay(op string, e alipay.Error) error {
	if e.Code == alipay.CodeSuccess {
		return nil
	}
	if string(e.Code) == alipayCodeUnavailable || e.SubCode == alipaySubCodeSystemError {
		return fmt.Errorf("%w: alipay %s: %s %s", apperr.ErrGatewayUnavailable, op, e.SubCode, e.SubMsg)
	}
	return fmt.Errorf("%w: alipay %s: %s %s", apperr.ErrGatewayRejected, op, e.SubCode, e.SubMsg)
}

// alipayCallError 支付宝以 error_response 返回的业务错误按错误码分类，其余视为网络层失败
func alipayCallError(op string, err error) error {
	var aliErr *alipay.Error
	if errors.As(err, &aliErr) {
		return classifyAlipay(op, *aliErr)
	}
	return fmt.Errorf("%w: alipay %s: %v", apperr.ErrGatewayUnavailable, op, err)
}

func isAlipayTradeNotExist(err error) bool {
	var aliErr *alipay.Error
	return errors.As(err, &aliErr) && aliErr.SubCode == alipaySubCodeTradeNotExist
}

// formatYuan 分转元字符串
func formatYuan(fen int64) string {
	return fmt.Sprintf("%d.%02d", fen/100, fen%100)
}

// parseYuan 元字符串转分，不经过浮点
func parseYuan(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty amount")
	}
	// 金额不允许带符号，ParseInt 会接受 "+"/"-"
	if strings.ContainsAny(s, "+-") {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	intPart, fracPart, _ := strings.Cut(s, ".")
	if len(fracPart) > 2 {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	for len(fracPart) < 2 {
		fracPart += "0"
	}
	yuan, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	fen, err := strconv.ParseInt(fracPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	return yuan*100 + fen, nil
}

func parseAlipayTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.ParseInLocation(alipayTimeLayout, s, alipayLocation)
	if err != nil {
		return nil
	}
	return &t
}
