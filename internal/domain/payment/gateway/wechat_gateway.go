package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"qi_api/internal/domain/payment/model"
	"qi_api/internal/pkg/apperr"
	"qi_api/internal/pkg/config"

	"github.com/wechatpay-apiv3/wechatpay-go/core"
	"github.com/wechatpay-apiv3/wechatpay-go/core/auth/verifiers"
	"github.com/wechatpay-apiv3/wechatpay-go/core/downloader"
	"github.com/wechatpay-apiv3/wechatpay-go/core/notify"
	"github.com/wechatpay-apiv3/wechatpay-go/core/option"
	"github.com/wechatpay-apiv3/wechatpay-go/services/payments"
	"github.com/wechatpay-apiv3/wechatpay-go/services/payments/native"
	"github.com/wechatpay-apiv3/wechatpay-go/utils"
)

const (
	wechatCodeOrderNotExist = "ORDER_NOT_EXIST"
	wechatCodeOrderClosed   = "ORDER_CLOSED"
)

// WechatGateway 微信 Native 支付
type WechatGateway struct {
	native  native.NativeApiService
	handler *notify.Handler
	config  config.WechatPayConfig
}

func NewWechatGateway(ctx context.Context, cfg config.WechatPayConfig) (*WechatGateway, error) {
	if cfg.MchID == "" {
		return nil, errors.New("wechat pay config missing")
	}

	// 1. 加载商户私钥
	mchPrivateKey, err := utils.LoadPrivateKeyWithPath(cfg.MchPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("load wechat merchant private key: %w", err)
	}

	// 2. 初始化 Client，同时注册平台证书自动下载
	client, err := core.NewClient(ctx,
		option.WithWechatPayAutoAuthCipher(cfg.MchID, cfg.MchCertificateSerial, mchPrivateKey, cfg.APIv3Key),
	)
	if err != nil {
		return nil, fmt.Errorf("create wechat pay client: %w", err)
	}

	// 3. 回调验签使用已下载的平台证书
	certVisitor := downloader.MgrInstance().GetCertificateVisitor(cfg.MchID)
	handler := notify.NewNotifyHandler(cfg.APIv3Key, verifiers.NewSHA256WithRSAVerifier(certVisitor))

	return &WechatGateway{
		native:  native.NativeApiService{Client: client},
		handler: handler,
		config:  cfg,
	}, nil
}

func (g *WechatGateway) PayType() string {
	return model.PayTypeWechat
}

func (g *WechatGateway) CreateOrder(ctx context.Context, order *model.Order) (string, error) {
	resp, _, err := g.native.Prepay(ctx, native.PrepayRequest{
		Appid:       core.String(g.config.AppID),
		Mchid:       core.String(g.config.MchID),
		Description: core.String(order.OrderName),
		OutTradeNo:  core.String(order.OrderNo),
		TimeExpire:  core.Time(order.ExpirationTime),
		NotifyUrl:   core.String(g.config.NotifyURL),
		Amount: &native.Amount{
			Total:    core.Int64(order.Total),
			Currency: core.String("CNY"),
		},
	})
	if err != nil {
		return "", classifyWechatError("prepay", err)
	}
	if resp == nil || resp.CodeUrl == nil || *resp.CodeUrl == "" {
		return "", fmt.Errorf("%w: wechat prepay returned empty code_url for %s", apperr.ErrGatewayRejected, order.OrderNo)
	}
	return *resp.CodeUrl, nil
}

func (g *WechatGateway) QueryOrder(ctx context.Context, orderNo string) (*Result, error) {
	tx, _, err := g.native.QueryOrderByOutTradeNo(ctx, native.QueryOrderByOutTradeNoRequest{
		OutTradeNo: core.String(orderNo),
		Mchid:      core.String(g.config.MchID),
	})
	if err != nil {
		if wechatErrorCode(err) == wechatCodeOrderNotExist {
			return &Result{OrderNo: orderNo, TradeState: TradeNotExist}, nil
		}
		return nil, classifyWechatError("query", err)
	}
	return resultFromTransaction(tx)
}

func (g *WechatGateway) CloseOrder(ctx context.Context, orderNo string) error {
	_, err := g.native.CloseOrder(ctx, native.CloseOrderRequest{
		OutTradeNo: core.String(orderNo),
		Mchid:      core.String(g.config.MchID),
	})
	if err != nil {
		switch wechatErrorCode(err) {
		case wechatCodeOrderClosed, wechatCodeOrderNotExist:
			return nil
		}
		return classifyWechatError("close", err)
	}
	return nil
}

func (g *WechatGateway) ParseNotification(ctx context.Context, payload []byte, headers http.Header) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidNotification, err)
	}
	req.Header = headers.Clone()

	tx := new(payments.Transaction)
	if _, err := g.handler.ParseNotifyRequest(ctx, req, tx); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidNotification, err)
	}
	res, err := resultFromTransaction(tx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidNotification, err)
	}
	return res, nil
}

// resultFromTransaction 微信交易状态与 TradeState 同名
func resultFromTransaction(tx *payments.Transaction) (*Result, error) {
	if tx == nil || tx.OutTradeNo == nil || tx.TradeState == nil {
		return nil, fmt.Errorf("%w: incomplete wechat transaction", apperr.ErrGatewayRejected)
	}

	raw, err := json.Marshal(tx)
	if err != nil {
		return nil, err
	}

	res := &Result{
		OrderNo:        *tx.OutTradeNo,
		TransactionID:  deref(tx.TransactionId),
		TradeType:      deref(tx.TradeType),
		TradeState:     TradeState(*tx.TradeState),
		TradeStateDesc: deref(tx.TradeStateDesc),
		BankType:       deref(tx.BankType),
		Raw:            raw,
	}
	if tx.Payer != nil {
		res.PayerID = deref(tx.Payer.Openid)
	}
	if tx.Amount != nil {
		res.Total = derefInt(tx.Amount.Total)
		res.PayerTotal = derefInt(tx.Amount.PayerTotal)
		res.Currency = deref(tx.Amount.Currency)
	}
	if s := deref(tx.SuccessTime); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			res.SuccessTime = &t
		}
	}
	return res, nil
}

func wechatErrorCode(err error) string {
	var apiErr *core.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// classifyWechatError 5xx/429 与网络错误可重试，其余为业务拒绝
func classifyWechatError(op string, err error) error {
	var apiErr *core.APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode >= http.StatusInternalServerError || apiErr.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%w: wechat %s: %s %s", apperr.ErrGatewayUnavailable, op, apiErr.Code, apiErr.Message)
		}
		return fmt.Errorf("%w: wechat %s: %s %s", apperr.ErrGatewayRejected, op, apiErr.Code, apiErr.Message)
	}
	return fmt.Errorf("%w: wechat %s: %v", apperr.ErrGatewayUnavailable, op, err)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
