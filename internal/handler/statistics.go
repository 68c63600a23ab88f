package handler

import (
	"strconv"
	"time"

	"integration-console/internal/model"
	"integration-console/internal/pkg/response"
	"integration-console/internal/service"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type StatisticsHandler struct {
	db       *gorm.DB
	health   *service.HealthService
	analyses *service.AnalysisService
}

func NewStatisticsHandler(db *gorm.DB, health *service.HealthService, analyses *service.AnalysisService) *StatisticsHandler {
	return &StatisticsHandler{db: db, health: health, analyses: analyses}
}

// Health 集成健康汇总；?refresh=1 立即重算
func (h *StatisticsHandler) Health(c *gin.Context) {
	refresh, _ := strconv.ParseBool(c.Query("refresh"))
	snap, err := h.health.Snapshot(c.Request.Context(), refresh)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, snap)
}

// Dashboard 仪表盘数据
func (h *StatisticsHandler) Dashboard(c *gin.Context) {
	ctx := c.Request.Context()

	snap, err := h.health.Snapshot(ctx, false)
	if err != nil {
		response.FromError(c, err)
		return
	}
	queue, err := h.analyses.QueueStats(ctx)
	if err != nil {
		response.FromError(c, err)
		return
	}

	db := h.db.WithContext(ctx)

	// 用户统计
	var totalUsers, activeUsers, pendingDeletion int64
	db.Model(&model.User{}).Where("status <> ?", model.UserStatusDeleted).Count(&totalUsers)
	db.Model(&model.User{}).Where("status = ?", model.UserStatusActive).Count(&activeUsers)
	db.Model(&model.User{}).Where("status = ?", model.UserStatusPendingDeletion).Count(&pendingDeletion)

	var pendingInvites int64
	db.Model(&model.Invite{}).Where("status = ?", model.InviteStatusPending).Count(&pendingInvites)

	// API Key 统计
	var activeKeys int64
	db.Model(&model.ApiKey{}).Where("is_active = ?", true).Count(&activeKeys)

	// 今日投递
	today := time.Now().Truncate(24 * time.Hour)
	var todayDeliveries, todayFailures int64
	db.Model(&model.WebhookDelivery{}).Where("created_at >= ?", today).Count(&todayDeliveries)
	db.Model(&model.WebhookDelivery{}).Where("created_at >= ? AND success = ?", today, false).Count(&todayFailures)

	response.Success(c, gin.H{
		"users": gin.H{
			"total":            totalUsers,
			"active":           activeUsers,
			"pending_deletion": pendingDeletion,
			"pending_invites":  pendingInvites,
		},
		"connections": snap.Connections,
		"webhooks":    snap.Webhooks,
		"api_keys": gin.H{
			"active": activeKeys,
		},
		"deliveries_today": gin.H{
			"total":  todayDeliveries,
			"failed": todayFailures,
		},
		"analysis_queue": queue,
		"generated_at":   snap.GeneratedAt,
	})
}
