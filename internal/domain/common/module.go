package common

import (
	commonHandler "qi_api/internal/pkg/common"
	"qi_api/internal/pkg/registry"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CommonModule 通用功能模块
type CommonModule struct{}

func init() {
	registry.Register(&CommonModule{})
}

func (m *CommonModule) Name() string {
	return "common"
}

func (m *CommonModule) Priority() int {
	return 100 // 最后初始化
}

func (m *CommonModule) Init(ctx *registry.ModuleContext) error {
	health := commonHandler.NewHealthHandler(ctx.DB, ctx.Redis)
	ctx.Router.GET("/health", health.Health)
	ctx.Router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return nil
}
