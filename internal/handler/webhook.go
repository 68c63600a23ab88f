package handler

import (
	"integration-console/internal/middleware"
	"integration-console/internal/model"
	"integration-console/internal/pkg/response"
	"integration-console/internal/service"
	"integration-console/pkg/lifecycle"

	"github.com/gin-gonic/gin"
)

type WebhookHandler struct {
	hooks *service.WebhookService
	keys  *service.ApiKeyService
}

func NewWebhookHandler(hooks *service.WebhookService, keys *service.ApiKeyService) *WebhookHandler {
	return &WebhookHandler{hooks: hooks, keys: keys}
}

// List 当前用户的订阅
func (h *WebhookHandler) List(c *gin.Context) {
	h.list(c, middleware.GetUserID(c))
}

// AdminList 全部订阅，可按用户过滤
func (h *WebhookHandler) AdminList(c *gin.Context) {
	h.list(c, c.Query("user_id"))
}

func (h *WebhookHandler) list(c *gin.Context, userID string) {
	hooks, err := h.hooks.List(c.Request.Context(), service.WebhookFilter{
		UserID:      userID,
		ApiKeyID:    c.Query("api_key_id"),
		TriggerType: c.Query("trigger_type"),
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, hooks)
}

// Subscribe 用自己的 Key 创建订阅
func (h *WebhookHandler) Subscribe(c *gin.Context) {
	var req service.SubscribeInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}
	if lifecycle.ValidateUUID("api_key_id", req.ApiKeyID) == nil {
		if key, err := h.keys.Get(c.Request.Context(), req.ApiKeyID); err == nil && !canActOn(c, key.UserID, model.PermUserManage) {
			response.FromError(c, lifecycle.NoValidApiKey("只能使用自己的 API Key 订阅"))
			return
		}
	}

	result, err := h.hooks.Subscribe(c.Request.Context(), req)
	if err != nil {
		response.FromError(c, err)
		return
	}
	auditResource(c, result.Webhook.ID)
	response.Success(c, result)
}

// loadOwned 读取订阅并检查归属，失败时已写响应
func (h *WebhookHandler) loadOwned(c *gin.Context, permission string) (*model.Webhook, bool) {
	hook, err := h.hooks.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.FromError(c, err)
		return nil, false
	}
	if denyForeign(c, hook.UserID, permission) {
		return nil, false
	}
	return hook, true
}

// Get 订阅详情
func (h *WebhookHandler) Get(c *gin.Context) {
	hook, ok := h.loadOwned(c, model.PermUserRead)
	if !ok {
		return
	}
	view, err := h.hooks.GetView(c.Request.Context(), hook.ID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, view)
}

// SetActiveRequest 暂停/恢复
type SetActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// SetActive 暂停或恢复投递
func (h *WebhookHandler) SetActive(c *gin.Context) {
	var req SetActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}
	hook, ok := h.loadOwned(c, model.PermUserManage)
	if !ok {
		return
	}

	view, err := h.hooks.SetActive(c.Request.Context(), hook.ID, *req.Active)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, view)
}

// Test 发送测试事件
func (h *WebhookHandler) Test(c *gin.Context) {
	hook, ok := h.loadOwned(c, model.PermUserManage)
	if !ok {
		return
	}

	result, err := h.hooks.Test(c.Request.Context(), hook.ID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, result)
}

// Replacement 失效订阅的替换草稿
func (h *WebhookHandler) Replacement(c *gin.Context) {
	hook, ok := h.loadOwned(c, model.PermUserRead)
	if !ok {
		return
	}

	draft, err := h.hooks.Replace(c.Request.Context(), hook.ID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, draft)
}

// Deliveries 最近投递记录
func (h *WebhookHandler) Deliveries(c *gin.Context) {
	hook, ok := h.loadOwned(c, model.PermUserRead)
	if !ok {
		return
	}

	items, err := h.hooks.Deliveries(c.Request.Context(), hook.ID, limitParam(c, 20))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, items)
}

// Delete 删除订阅，需要确认
func (h *WebhookHandler) Delete(c *gin.Context) {
	hook, ok := h.loadOwned(c, model.PermUserManage)
	if !ok {
		return
	}

	if err := h.hooks.Unsubscribe(c.Request.Context(), hook.ID, confirmFlag(c, false)); err != nil {
		response.FromError(c, err)
		return
	}
	response.SuccessWithMessage(c, "Webhook 已删除", nil)
}
