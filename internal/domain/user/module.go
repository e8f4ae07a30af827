package user

import (
	"qi_api/internal/domain/user/handler"
	"qi_api/internal/domain/user/repository"
	"qi_api/internal/pkg/middleware"
	"qi_api/internal/pkg/registry"
)

// UserModule 用户模块
type UserModule struct{}

func init() {
	// 自动注册模块
	registry.Register(&UserModule{})
}

func (m *UserModule) Name() string {
	return "user"
}

func (m *UserModule) Priority() int {
	return 1
}

func (m *UserModule) Init(ctx *registry.ModuleContext) error {
	userHandler := handler.NewUserHandler(repository.NewUserRepository(ctx.DB))

	userGroup := ctx.Router.Group("/users")
	userGroup.Use(middleware.AuthMiddleware(ctx.Config.JWT.Secret))
	{
		userGroup.GET("/me", userHandler.Me)
	}

	return nil
}
