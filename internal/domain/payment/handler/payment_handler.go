package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"qi_api/internal/domain/payment/model"
	"qi_api/internal/domain/payment/service"
	"qi_api/internal/pkg/apperr"
	"qi_api/internal/pkg/middleware"
	"qi_api/pkg/logger"
	"qi_api/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// 回调报文上限，正常通知远小于该值
const maxNotifyBody = 64 << 10

type PaymentHandler struct {
	orders service.OrderService
	engine service.ReconcileService
}

func NewPaymentHandler(orders service.OrderService, engine service.ReconcileService) *PaymentHandler {
	return &PaymentHandler{orders: orders, engine: engine}
}

type CreateOrderInput struct {
	ProductID string `json:"productId" binding:"required,uuid"`
	PayType   string `json:"payType" binding:"required,oneof=WX ALIPAY"`
}

// CreateOrder 创建订单，同一商品和支付方式存在未过期订单时返回原付款码
func (h *PaymentHandler) CreateOrder(c *gin.Context) {
	var input CreateOrderInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, bindingMessage(err))
		return
	}

	view, err := h.orders.CreateOrder(c.Request.Context(), middleware.UserID(c), input.ProductID, input.PayType)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, view)
}

// GetOrder 查询订单状态，只能查询自己的订单
func (h *PaymentHandler) GetOrder(c *gin.Context) {
	view, err := h.orders.GetOrderStatus(c.Request.Context(), middleware.UserID(c), c.Param("orderNo"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, view)
}

// WechatNotify 微信支付回调，需要原始报文和签名头
func (h *PaymentHandler) WechatNotify(c *gin.Context) {
	body, err := readBody(c)
	if err == nil {
		err = h.engine.HandleNotification(c.Request.Context(), model.PayTypeWechat, body, c.Request.Header)
	}
	if err != nil {
		logger.Log.Warn("Wechat notification not acknowledged", zap.Error(err))
		// 非 2xx 应答，微信会按策略重推
		c.JSON(http.StatusInternalServerError, gin.H{"code": "FAIL", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": "SUCCESS", "message": "成功"})
}

// AlipayNotify 支付宝回调是 POST Form 格式
func (h *PaymentHandler) AlipayNotify(c *gin.Context) {
	body, err := readBody(c)
	if err == nil {
		err = h.engine.HandleNotification(c.Request.Context(), model.PayTypeAlipay, body, c.Request.Header)
	}
	if err != nil {
		logger.Log.Warn("Alipay notification not acknowledged", zap.Error(err))
		// 告诉支付宝处理失败，它会重试
		c.String(http.StatusOK, "fail")
		return
	}
	c.String(http.StatusOK, "success")
}

func readBody(c *gin.Context) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxNotifyBody+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", apperr.ErrInvalidNotification, err)
	}
	if len(body) > maxNotifyBody {
		return nil, fmt.Errorf("%w: body too large", apperr.ErrInvalidNotification)
	}
	return body, nil
}

// writeError 业务错误映射为统一响应
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
	case errors.Is(err, apperr.ErrNotFound):
		response.Error(c, http.StatusNotFound, response.ErrOrderNotFound, "not found")
	case errors.Is(err, apperr.ErrGatewayUnavailable):
		response.Error(c, http.StatusServiceUnavailable, response.ErrGatewayUnavailable, "payment gateway unavailable, please retry")
	case errors.Is(err, apperr.ErrGatewayRejected):
		response.Error(c, http.StatusBadGateway, response.ErrGatewayRejected, "payment gateway rejected the request")
	case errors.Is(err, apperr.ErrLockTimeout):
		response.Error(c, http.StatusConflict, response.ErrOrderBusy, "order is being processed, please retry")
	default:
		_ = c.Error(err)
		response.Error(c, http.StatusInternalServerError, response.ErrServerInternal, "internal error")
	}
}

// bindingMessage 把 validator 错误转成可读的字段提示
func bindingMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request body"
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid (%s)", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
