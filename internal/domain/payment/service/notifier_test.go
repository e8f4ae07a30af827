package service

import (
	"context"
	"errors"
	"testing"

	"qi_api/internal/domain/payment/model"
	userModel "qi_api/internal/domain/user/model"
	baseModel "qi_api/pkg/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockSender struct{ mock.Mock }

func (m *mockSender) Send(ctx context.Context, to, subject, htmlBody string) error {
	return m.Called(ctx, to, subject, htmlBody).Error(0)
}

type mockPusher struct{ mock.Mock }

func (m *mockPusher) PushToAccount(accountID string, title, body string, ext map[string]string) error {
	return m.Called(accountID, title, body, ext).Error(0)
}

func TestNotifier_PaySuccess(t *testing.T) {
	st := newMemStore()
	st.users[testUser] = &userModel.User{BaseModel: baseModel.BaseModel{ID: testUser}, Email: "alice@example.com"}
	order := &model.Order{OrderNo: "order_1", UserID: testUser, OrderName: "积分包", Total: 9900}

	sender := &mockSender{}
	sender.On("Send", mock.Anything, "alice@example.com", mock.Anything, mock.MatchedBy(func(body string) bool {
		return assert.ObjectsAreEqual(true, len(body) > 0)
	})).Return(nil).Once()
	pusher := &mockPusher{}
	pusher.On("PushToAccount", testUser, mock.Anything, mock.Anything, map[string]string{"orderNo": "order_1"}).
		Return(errors.New("push down")).Once()

	NewNotifier(&memUsers{st: st}, sender, pusher).PaySuccess(context.Background(), order)

	sender.AssertExpectations(t)
	pusher.AssertExpectations(t)
}

func TestNotifier_UnknownUserSkipsDelivery(t *testing.T) {
	sender := &mockSender{}
	n := NewNotifier(&memUsers{st: newMemStore()}, sender, nil)

	n.PaySuccess(context.Background(), &model.Order{OrderNo: "order_2", UserID: "missing"})

	sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
