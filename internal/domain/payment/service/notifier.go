package service

import (
	"context"
	"fmt"

	"qi_api/internal/domain/payment/model"
	userRepo "qi_api/internal/domain/user/repository"
	"qi_api/internal/pkg/mailer"
	"qi_api/internal/pkg/push"
	"qi_api/pkg/logger"

	"go.uber.org/zap"
)

// Notifier 支付成功后的通知，失败只记录日志
type Notifier interface {
	PaySuccess(ctx context.Context, order *model.Order)
}

type paySuccessNotifier struct {
	users  userRepo.UserRepository
	mail   mailer.Sender
	pusher push.PushService
}

// NewNotifier mail 和 pusher 都可以为 nil
func NewNotifier(users userRepo.UserRepository, mail mailer.Sender, pusher push.PushService) Notifier {
	return &paySuccessNotifier{users: users, mail: mail, pusher: pusher}
}

func (n *paySuccessNotifier) PaySuccess(ctx context.Context, order *model.Order) {
	if n.mail == nil && n.pusher == nil {
		return
	}

	user, err := n.users.GetByID(ctx, order.UserID)
	if err != nil {
		logger.Log.Warn("Pay success notification skipped, user lookup failed",
			zap.String("order_no", order.OrderNo), zap.Error(err))
		return
	}

	if n.mail != nil && user.Email != "" {
		body, err := mailer.RenderPaySuccess(order.OrderNo, order.OrderName, order.Total)
		if err == nil {
			err = n.mail.Send(ctx, user.Email, mailer.PaySuccessSubject, body)
		}
		if err != nil {
			logger.Log.Warn("Pay success email failed", zap.String("order_no", order.OrderNo), zap.Error(err))
		}
	}

	if n.pusher != nil {
		body := fmt.Sprintf("您购买的 %s 已支付成功，支付金额 %s 元", order.OrderName, mailer.FormatAmount(order.Total))
		if err := n.pusher.PushToAccount(user.ID, mailer.PaySuccessSubject, body, map[string]string{"orderNo": order.OrderNo}); err != nil {
			logger.Log.Warn("Pay success push failed", zap.String("order_no", order.OrderNo), zap.Error(err))
		}
	}
}
