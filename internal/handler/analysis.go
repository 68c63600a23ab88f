package handler

import (
	"integration-console/internal/pkg/response"
	"integration-console/internal/service"

	"github.com/gin-gonic/gin"
)

type AnalysisHandler struct {
	analyses *service.AnalysisService
}

func NewAnalysisHandler(analyses *service.AnalysisService) *AnalysisHandler {
	return &AnalysisHandler{analyses: analyses}
}

// List 最近的分析
func (h *AnalysisHandler) List(c *gin.Context) {
	items, err := h.analyses.ListRecent(c.Request.Context(), c.Query("user_id"), c.Query("status"), limitParam(c, 20))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, items)
}

// Stats 队列看板
func (h *AnalysisHandler) Stats(c *gin.Context) {
	stats, err := h.analyses.QueueStats(c.Request.Context())
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, stats)
}

// Get 分析详情
func (h *AnalysisHandler) Get(c *gin.Context) {
	a, err := h.analyses.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, a)
}

// Create 新建分析任务，会触发 transcript.created
func (h *AnalysisHandler) Create(c *gin.Context) {
	var req service.CreateAnalysisInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	a, err := h.analyses.Create(c.Request.Context(), req)
	if err != nil {
		response.FromError(c, err)
		return
	}
	auditResource(c, a.ID)
	response.Success(c, a)
}

// UpdateStatus 推进状态，完成或失败时投递 Webhook
func (h *AnalysisHandler) UpdateStatus(c *gin.Context) {
	var req service.UpdateStatusInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	a, err := h.analyses.UpdateStatus(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, a)
}
