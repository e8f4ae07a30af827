package response

// 业务状态码
const (
	CodeSuccess = 0
	CodeError   = 1

	// 用户模块错误 100xx
	ErrUserNotFound = 10002
	ErrTokenInvalid = 10004

	// 支付模块错误 300xx
	ErrOrderNotFound      = 30001
	ErrProductNotFound    = 30002
	ErrGatewayUnavailable = 30003
	ErrGatewayRejected    = 30004
	ErrOrderBusy          = 30005

	// 系统错误 500xx
	ErrServerInternal  = 50001
	ErrInvalidParam    = 50002
	ErrTooManyRequests = 50003
)
