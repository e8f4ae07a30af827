// Package apperr 定义业务错误分类，调用方用 errors.Is 判断类别，
// 具体上下文通过 fmt.Errorf("%w: ...") 包装。
package apperr

import "errors"

var (
	// ErrValidation 参数错误，无副作用
	ErrValidation = errors.New("validation error")
	// ErrNotFound 引用的实体不存在
	ErrNotFound = errors.New("not found")

	// ErrGatewayUnavailable 网关网络错误或超时，可重试
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrGatewayRejected 网关业务失败，调用方不应重试
	ErrGatewayRejected = errors.New("payment gateway rejected")
	// ErrInvalidNotification 回调验签或解密失败，由网关按自身策略重推
	ErrInvalidNotification = errors.New("invalid payment notification")

	// ErrConcurrencyLost 条件更新未命中任何行，说明其他路径已经处理完成
	ErrConcurrencyLost = errors.New("concurrency lost")
	// ErrPartialSettlement 结算提交结果未知，需要重试或人工对账
	ErrPartialSettlement = errors.New("partial settlement failure")

	ErrPaymentFailed  = errors.New("payment failed")
	ErrPaymentPending = errors.New("payment pending")
	ErrLockTimeout    = errors.New("lock acquire timeout")
)

// IsRetryable 判断错误是否为瞬时错误，业务拒绝类错误重试没有意义
func IsRetryable(err error) bool {
	return errors.Is(err, ErrGatewayUnavailable) ||
		errors.Is(err, ErrLockTimeout) ||
		errors.Is(err, ErrPartialSettlement)
}
