package handler

import (
	"integration-console/internal/middleware"
	"integration-console/internal/pkg/response"
	"integration-console/internal/service"

	"github.com/gin-gonic/gin"
)

type InviteHandler struct {
	invites *service.InviteService
}

func NewInviteHandler(invites *service.InviteService) *InviteHandler {
	return &InviteHandler{invites: invites}
}

// List 邀请列表
func (h *InviteHandler) List(c *gin.Context) {
	invites, err := h.invites.List(c.Request.Context(), c.Query("status"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, invites)
}

// CreateInviteRequest 邀请用户
type CreateInviteRequest struct {
	Email string `json:"email" binding:"required"`
	Role  string `json:"role"`
}

// Create 发送邀请；邮件未发出时返回邀请链接令牌供手动转发
func (h *InviteHandler) Create(c *gin.Context) {
	var req CreateInviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	created, err := h.invites.Create(c.Request.Context(), middleware.GetUser(c), req.Email, req.Role)
	if err != nil {
		response.FromError(c, err)
		return
	}
	auditResource(c, created.Invite.ID)
	response.Success(c, inviteResponse(created))
}

// Revoke 撤销邀请
func (h *InviteHandler) Revoke(c *gin.Context) {
	if err := h.invites.Revoke(c.Request.Context(), c.Param("id")); err != nil {
		response.FromError(c, err)
		return
	}
	response.SuccessWithMessage(c, "邀请已撤销", nil)
}

// Resend 重新发送，旧链接失效
func (h *InviteHandler) Resend(c *gin.Context) {
	created, err := h.invites.Resend(c.Request.Context(), middleware.GetUser(c), c.Param("id"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, inviteResponse(created))
}

func inviteResponse(created *service.CreatedInvite) gin.H {
	out := gin.H{
		"invite":     created.Invite,
		"email_sent": created.Sent,
	}
	if !created.Sent {
		out["token"] = created.Token
	}
	return out
}

// AcceptInviteRequest 接受邀请
type AcceptInviteRequest struct {
	Token    string `json:"token" binding:"required"`
	Name     string `json:"name"`
	Password string `json:"password" binding:"required"`
}

// Accept 接受邀请并设置密码（公开接口）
func (h *InviteHandler) Accept(c *gin.Context) {
	var req AcceptInviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	user, err := h.invites.Accept(c.Request.Context(), req.Token, req.Name, req.Password)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.SuccessWithMessage(c, "账号已激活，请登录", user)
}
