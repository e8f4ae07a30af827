package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"qi_api/internal/domain/payment/model"
	"qi_api/internal/domain/payment/service"
	"qi_api/internal/pkg/apperr"
	"qi_api/internal/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

const productID = "22222222-2222-2222-2222-222222222222"

type MockOrderService struct {
	mock.Mock
}

func (m *MockOrderService) CreateOrder(ctx context.Context, userID, productID, payType string) (*service.OrderView, error) {
	args := m.Called(userID, productID, payType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.OrderView), args.Error(1)
}

func (m *MockOrderService) GetOrderStatus(ctx context.Context, userID, orderNo string) (*service.OrderView, error) {
	args := m.Called(userID, orderNo)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.OrderView), args.Error(1)
}

type MockReconcileService struct {
	mock.Mock
}

func (m *MockReconcileService) HandleNotification(ctx context.Context, payType string, payload []byte, headers http.Header) error {
	return m.Called(payType, string(payload)).Error(0)
}

func (m *MockReconcileService) ResolveExpiredOrder(ctx context.Context, order *model.Order) error {
	return m.Called(order.OrderNo).Error(0)
}

func (m *MockReconcileService) ReconcileOrder(ctx context.Context, orderNo string) error {
	return m.Called(orderNo).Error(0)
}

func setupRouter(h *PaymentHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	auth := func(c *gin.Context) { c.Set(middleware.ContextUserID, "u-1") }
	r.POST("/payment/order", auth, h.CreateOrder)
	r.GET("/payment/order/:orderNo", auth, h.GetOrder)
	r.POST("/payment/notify/wechat", h.WechatNotify)
	r.POST("/payment/notify/alipay", h.AlipayNotify)
	return r
}

func perform(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateOrder(t *testing.T) {
	orders := new(MockOrderService)
	r := setupRouter(NewPaymentHandler(orders, new(MockReconcileService)))

	orders.On("CreateOrder", "u-1", productID, "WX").
		Return(&service.OrderView{OrderNo: "order_1", CodeURL: "weixin://pay/1", Status: model.StatusNotPay}, nil).Once()
	w := perform(r, http.MethodPost, "/payment/order", `{"productId":"`+productID+`","payType":"WX"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"codeUrl":"weixin://pay/1"`)
	assert.NotContains(t, w.Body.String(), "u-1")

	orders.On("CreateOrder", "u-1", productID, "ALIPAY").
		Return(nil, fmt.Errorf("%w: timeout", apperr.ErrGatewayUnavailable)).Once()
	w = perform(r, http.MethodPost, "/payment/order", `{"productId":"`+productID+`","payType":"ALIPAY"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	orders.AssertExpectations(t)
}

func TestCreateOrder_InvalidBody(t *testing.T) {
	orders := new(MockOrderService)
	r := setupRouter(NewPaymentHandler(orders, new(MockReconcileService)))

	w := perform(r, http.MethodPost, "/payment/order", `{"payType":"CASH"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "ProductID is required")
	assert.Contains(t, w.Body.String(), "PayType must be one of [WX ALIPAY]")

	w = perform(r, http.MethodPost, "/payment/order", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	orders.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything, mock.Anything)
}

func TestGetOrder(t *testing.T) {
	orders := new(MockOrderService)
	r := setupRouter(NewPaymentHandler(orders, new(MockReconcileService)))

	orders.On("GetOrderStatus", "u-1", "order_1").Return(&service.OrderView{OrderNo: "order_1", Status: model.StatusSuccess}, nil)
	orders.On("GetOrderStatus", "u-1", "order_2").Return(nil, fmt.Errorf("%w: order order_2", apperr.ErrNotFound))

	w := perform(r, http.MethodGet, "/payment/order/order_1", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"SUCCESS"`)

	w = perform(r, http.MethodGet, "/payment/order/order_2", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWechatNotify(t *testing.T) {
	engine := new(MockReconcileService)
	r := setupRouter(NewPaymentHandler(new(MockOrderService), engine))

	engine.On("HandleNotification", model.PayTypeWechat, `{"id":"ok"}`).Return(nil)
	engine.On("HandleNotification", model.PayTypeWechat, `{"id":"bad"}`).Return(apperr.ErrInvalidNotification)

	w := perform(r, http.MethodPost, "/payment/notify/wechat", `{"id":"ok"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"code":"SUCCESS","message":"成功"}`, w.Body.String())

	w = perform(r, http.MethodPost, "/payment/notify/wechat", `{"id":"bad"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"FAIL"`)
}

func TestAlipayNotify(t *testing.T) {
	engine := new(MockReconcileService)
	r := setupRouter(NewPaymentHandler(new(MockOrderService), engine))

	engine.On("HandleNotification", model.PayTypeAlipay, "out_trade_no=order_1").Return(nil)
	engine.On("HandleNotification", model.PayTypeAlipay, "out_trade_no=order_2").Return(apperr.ErrPartialSettlement)

	w := perform(r, http.MethodPost, "/payment/notify/alipay", "out_trade_no=order_1")
	assert.Equal(t, "success", w.Body.String())

	w = perform(r, http.MethodPost, "/payment/notify/alipay", "out_trade_no=order_2")
	assert.Equal(t, "fail", w.Body.String())
}

func TestNotify_BodyTooLarge(t *testing.T) {
	engine := new(MockReconcileService)
	r := setupRouter(NewPaymentHandler(new(MockOrderService), engine))

	w := perform(r, http.MethodPost, "/payment/notify/alipay", strings.Repeat("a", maxNotifyBody+10))
	assert.Equal(t, "fail", w.Body.String())
	engine.AssertNotCalled(t, "HandleNotification", mock.Anything, mock.Anything)
}
