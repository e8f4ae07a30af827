package handler

import (
	"errors"
	"net/http"

	"qi_api/internal/domain/user/repository"
	"qi_api/internal/pkg/apperr"
	"qi_api/internal/pkg/middleware"
	"qi_api/pkg/response"

	"github.com/gin-gonic/gin"
)

// UserHandler 用户处理器，只提供当前用户的积分查询
type UserHandler struct {
	repo repository.UserRepository
}

// NewUserHandler 创建处理器
func NewUserHandler(repo repository.UserRepository) *UserHandler {
	return &UserHandler{repo: repo}
}

// Me 返回当前登录用户及积分余额
func (h *UserHandler) Me(c *gin.Context) {
	user, err := h.repo.GetByID(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			response.Error(c, http.StatusNotFound, response.ErrUserNotFound, "user not found")
			return
		}
		_ = c.Error(err)
		response.Error(c, http.StatusInternalServerError, response.ErrServerInternal, "internal error")
		return
	}
	response.Success(c, user)
}
