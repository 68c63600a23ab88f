package handler

import (
	"integration-console/internal/middleware"
	"integration-console/internal/pkg/response"
	"integration-console/internal/service"

	"github.com/gin-gonic/gin"
)

type DeletionHandler struct {
	gdpr *service.GDPRService
}

func NewDeletionHandler(gdpr *service.GDPRService) *DeletionHandler {
	return &DeletionHandler{gdpr: gdpr}
}

// BulkDeletionRequest 批量申请删除
type BulkDeletionRequest struct {
	UserIDs []string `json:"user_ids" binding:"required,min=1"`
	Reason  string   `json:"reason"`
}

// BulkRequest 批量申请删除，跳过自己和已在处理中的用户
func (h *DeletionHandler) BulkRequest(c *gin.Context) {
	var req BulkDeletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.gdpr.BulkRequest(c.Request.Context(), middleware.GetUser(c), req.UserIDs, req.Reason)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.SuccessWithMessage(c, result.Message, result)
}

// List 删除请求列表
func (h *DeletionHandler) List(c *gin.Context) {
	items, err := h.gdpr.List(c.Request.Context(), c.Query("status"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, items)
}

// Cancel 宽限期内取消
func (h *DeletionHandler) Cancel(c *gin.Context) {
	req, err := h.gdpr.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.SuccessWithMessage(c, "删除请求已取消", req)
}
