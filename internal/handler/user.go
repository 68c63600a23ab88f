package handler

import (
	"sort"

	"integration-console/internal/middleware"
	"integration-console/internal/model"
	"integration-console/internal/pkg/response"
	"integration-console/internal/service"

	"github.com/gin-gonic/gin"
)

type UserHandler struct {
	users *service.UserService
}

func NewUserHandler(users *service.UserService) *UserHandler {
	return &UserHandler{users: users}
}

// List 用户列表
func (h *UserHandler) List(c *gin.Context) {
	page, pageSize := pageParams(c)
	users, total, err := h.users.List(c.Request.Context(), service.UserFilter{
		Keyword:  c.Query("keyword"),
		Role:     c.Query("role"),
		Status:   c.Query("status"),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.SuccessPage(c, users, total, page, pageSize)
}

// Get 用户详情
func (h *UserHandler) Get(c *gin.Context) {
	user, err := h.users.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{
		"user":        user,
		"permissions": permissionsOf(user),
	})
}

// UpdateRoleRequest 修改角色
type UpdateRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

// UpdateRole 修改用户角色
func (h *UserHandler) UpdateRole(c *gin.Context) {
	var req UpdateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	user, err := h.users.UpdateRole(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), req.Role)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, user)
}

// Disable 停用账号
func (h *UserHandler) Disable(c *gin.Context) {
	h.setDisabled(c, true)
}

// Enable 启用账号
func (h *UserHandler) Enable(c *gin.Context) {
	h.setDisabled(c, false)
}

func (h *UserHandler) setDisabled(c *gin.Context, disabled bool) {
	user, err := h.users.SetDisabled(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), disabled)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, user)
}

// permissionsOf 角色拥有的权限，前端据此显示菜单
func permissionsOf(user *model.User) []string {
	perms := make([]string, 0, len(model.RolePermissions[user.Role]))
	for p, ok := range model.RolePermissions[user.Role] {
		if ok {
			perms = append(perms, p)
		}
	}
	sort.Strings(perms)
	return perms
}
