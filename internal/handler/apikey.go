package handler

import (
	"net/http"

	"integration-console/internal/middleware"
	"integration-console/internal/model"
	"integration-console/internal/pkg/response"
	"integration-console/internal/service"

	"github.com/gin-gonic/gin"
)

type ApiKeyHandler struct {
	keys        *service.ApiKeyService
	diagnostics *service.DiagnosticsService
}

func NewApiKeyHandler(keys *service.ApiKeyService, diagnostics *service.DiagnosticsService) *ApiKeyHandler {
	return &ApiKeyHandler{keys: keys, diagnostics: diagnostics}
}

// List 当前用户的 Key，只返回掩码
func (h *ApiKeyHandler) List(c *gin.Context) {
	keys, err := h.keys.List(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, keys)
}

// AdminList 全部 Key，可按用户过滤
func (h *ApiKeyHandler) AdminList(c *gin.Context) {
	keys, err := h.keys.List(c.Request.Context(), c.Query("user_id"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, keys)
}

// Generate 生成 Key，明文只在这次响应中出现
func (h *ApiKeyHandler) Generate(c *gin.Context) {
	var req service.GenerateApiKeyInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.keys.Generate(c.Request.Context(), middleware.GetUserID(c), req)
	if err != nil {
		response.FromError(c, err)
		return
	}
	auditResource(c, result.Key.ID)
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusCreated, response.Response{Code: 0, Message: "请立即复制保存，密钥不会再次显示", Data: result})
}

// RevokeRequest 撤销 Key
type RevokeRequest struct {
	Confirm bool `json:"confirm"`
}

// Revoke 撤销 Key，需要确认
func (h *ApiKeyHandler) Revoke(c *gin.Context) {
	var req RevokeRequest
	// body 可以为空
	_ = c.ShouldBindJSON(&req)

	id := c.Param("id")
	key, err := h.keys.Get(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	if denyForeign(c, key.UserID, model.PermUserManage) {
		return
	}

	key, err = h.keys.Revoke(c.Request.Context(), id, confirmFlag(c, req.Confirm))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.SuccessWithMessage(c, "API Key 已撤销", service.ApiKeyView{ApiKey: *key, Preview: key.Preview()})
}

// ConnectionTestRequest 连接测试
type ConnectionTestRequest struct {
	ApiKeyID string `json:"api_key_id"`
}

// RunConnectionTest 数据库、认证、数据访问三项检查
func (h *ApiKeyHandler) RunConnectionTest(c *gin.Context) {
	var req ConnectionTestRequest
	_ = c.ShouldBindJSON(&req)

	if req.ApiKeyID != "" {
		key, err := h.keys.Get(c.Request.Context(), req.ApiKeyID)
		if err == nil && denyForeign(c, key.UserID, model.PermUserManage) {
			return
		}
		// Key 不存在时交给诊断报告体现
	}

	report, err := h.diagnostics.Run(c.Request.Context(), req.ApiKeyID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, report)
}
