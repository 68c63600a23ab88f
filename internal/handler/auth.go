package handler

import (
	"errors"
	"net/http"

	"integration-console/internal/middleware"
	"integration-console/internal/pkg/response"
	"integration-console/internal/service"

	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	users *service.UserService
}

func NewAuthHandler(users *service.UserService) *AuthHandler {
	return &AuthHandler{users: users}
}

// LoginRequest 登录请求
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// Login 控制台登录
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.users.Login(c.Request.Context(), req.Email, req.Password, c.ClientIP())
	if err != nil {
		var locked *service.LockedError
		switch {
		case errors.As(err, &locked):
			c.JSON(http.StatusTooManyRequests, response.Response{Code: 429, Message: locked.Error()})
		case errors.Is(err, service.ErrInvalidCredentials):
			response.Unauthorized(c, err.Error())
		default:
			response.FromError(c, err)
		}
		return
	}

	response.Success(c, result)
}

// GetProfile 当前用户信息
func (h *AuthHandler) GetProfile(c *gin.Context) {
	user := middleware.GetUser(c)
	if user == nil {
		response.Unauthorized(c, "未登录")
		return
	}
	response.Success(c, gin.H{
		"user":        user,
		"permissions": permissionsOf(user),
	})
}

// ChangePasswordRequest 修改密码请求
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

// ChangePassword 修改密码
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	if err := h.users.ChangePassword(c.Request.Context(), middleware.GetUserID(c), req.OldPassword, req.NewPassword); err != nil {
		response.FromError(c, err)
		return
	}

	response.SuccessWithMessage(c, "密码修改成功", nil)
}
