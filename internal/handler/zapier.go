package handler

import (
	"net/http"

	"integration-console/internal/middleware"
	"integration-console/internal/model"
	"integration-console/internal/pkg/response"
	"integration-console/internal/service"
	"integration-console/pkg/lifecycle"

	"github.com/gin-gonic/gin"
)

// ZapierHandler 桥接接口，Zapier 平台直接消费，成功时返回裸 JSON
type ZapierHandler struct {
	hooks    *service.WebhookService
	analyses *service.AnalysisService
}

func NewZapierHandler(hooks *service.WebhookService, analyses *service.AnalysisService) *ZapierHandler {
	return &ZapierHandler{hooks: hooks, analyses: analyses}
}

// Me 认证测试
func (h *ZapierHandler) Me(c *gin.Context) {
	key := middleware.GetApiKey(c)
	c.JSON(http.StatusOK, gin.H{
		"id":         key.ID,
		"name":       key.Name,
		"user_id":    key.UserID,
		"key_prefix": key.KeyPrefix,
		"scopes":     key.Scopes,
	})
}

// ZapierSubscribeRequest REST Hook 订阅
type ZapierSubscribeRequest struct {
	TargetURL   string `json:"target_url"`
	TriggerType string `json:"trigger_type"`
	// Zapier 默认字段名
	Event string `json:"event"`
}

// Subscribe 用当前 Key 创建订阅
func (h *ZapierHandler) Subscribe(c *gin.Context) {
	var req ZapierSubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}
	trigger := req.TriggerType
	if trigger == "" {
		trigger = req.Event
	}

	result, err := h.hooks.Subscribe(c.Request.Context(), service.SubscribeInput{
		ApiKeyID:    middleware.GetApiKey(c).ID,
		TargetURL:   req.TargetURL,
		TriggerType: trigger,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	auditResource(c, result.Webhook.ID)
	c.JSON(http.StatusCreated, gin.H{
		"id":           result.Webhook.ID,
		"target_url":   result.Webhook.TargetURL,
		"trigger_type": result.Webhook.TriggerType,
		"secret":       result.Secret,
	})
}

func (h *ZapierHandler) ownHook(c *gin.Context) (*model.Webhook, bool) {
	hook, err := h.hooks.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.FromError(c, err)
		return nil, false
	}
	if hook.UserID != middleware.GetApiKey(c).UserID {
		response.NotFound(c, "Webhook 不存在")
		return nil, false
	}
	return hook, true
}

// Unsubscribe Zapier 关闭 Zap 时调用，平台侧操作即为确认
func (h *ZapierHandler) Unsubscribe(c *gin.Context) {
	hook, ok := h.ownHook(c)
	if !ok {
		return
	}
	if err := h.hooks.Unsubscribe(c.Request.Context(), hook.ID, true); err != nil {
		response.FromError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": hook.ID, "deleted": true})
}

// Test 发送测试事件
func (h *ZapierHandler) Test(c *gin.Context) {
	hook, ok := h.ownHook(c)
	if !ok {
		return
	}
	result, err := h.hooks.Test(c.Request.Context(), hook.ID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Analyses 轮询触发器；没有真实数据时返回样例，便于在 Zapier 中配置字段
func (h *ZapierHandler) Analyses(c *gin.Context) {
	key := middleware.GetApiKey(c)
	status := c.DefaultQuery("status", string(model.AnalysisCompleted))

	items, err := h.analyses.ListRecent(c.Request.Context(), key.UserID, status, limitParam(c, 20))
	if err != nil {
		response.FromError(c, err)
		return
	}

	out := make([]map[string]interface{}, 0, len(items))
	for i := range items {
		data := service.AnalysisEventData(&items[i])
		data["id"] = items[i].ID
		out = append(out, data)
	}
	if len(out) == 0 {
		sample := service.SampleEventData(lifecycle.TriggerAnalysisCompleted)
		sample["id"] = sample["analysis_id"]
		out = append(out, sample)
	}
	c.JSON(http.StatusOK, out)
}
