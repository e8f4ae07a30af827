package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// TraceIDKey gin.Context 中请求追踪 ID 的键，由 trace 中间件写入
const TraceIDKey = "traceID"

// Body 对外 JSON 信封；traceId 便于调用方按请求对账排查
type Body struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
	TraceID string `json:"traceId,omitempty"`
}

func envelope(c *gin.Context, code int, msg string, data any) Body {
	return Body{Code: code, Message: msg, Data: data, TraceID: c.GetString(TraceIDKey)}
}

// Success HTTP 200，业务码 0
func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, envelope(c, CodeSuccess, "success", data))
}

// Error 写出错误并终止后续 handler，中间件无需再调用 c.Abort
func Error(c *gin.Context, httpCode int, errCode int, msg string) {
	c.AbortWithStatusJSON(httpCode, envelope(c, errCode, msg, nil))
}
