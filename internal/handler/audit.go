package handler

import (
	"strconv"
	"time"

	"integration-console/internal/model"
	"integration-console/internal/pkg/response"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type AuditHandler struct {
	db *gorm.DB
}

func NewAuditHandler(db *gorm.DB) *AuditHandler {
	return &AuditHandler{db: db}
}

// List 获取审计日志列表
func (h *AuditHandler) List(c *gin.Context) {
	page, pageSize := pageParams(c)

	query := h.db.WithContext(c.Request.Context()).Model(&model.AuditLog{})
	if userID := c.Query("user_id"); userID != "" {
		query = query.Where("user_id = ?", userID)
	}
	if action := c.Query("action"); action != "" {
		query = query.Where("action = ?", action)
	}
	if resource := c.Query("resource"); resource != "" {
		query = query.Where("resource = ?", resource)
	}
	if resourceID := c.Query("resource_id"); resourceID != "" {
		query = query.Where("resource_id = ?", resourceID)
	}
	if startDate := c.Query("start_date"); startDate != "" {
		query = query.Where("created_at >= ?", startDate+" 00:00:00")
	}
	if endDate := c.Query("end_date"); endDate != "" {
		query = query.Where("created_at <= ?", endDate+" 23:59:59")
	}

	var total int64
	query.Count(&total)

	var logs []model.AuditLog
	if err := query.Offset((page - 1) * pageSize).Limit(pageSize).Order("created_at DESC").Find(&logs).Error; err != nil {
		response.FromError(c, err)
		return
	}

	response.SuccessPage(c, logs, total, page, pageSize)
}

// Get 获取审计日志详情
func (h *AuditHandler) Get(c *gin.Context) {
	var log model.AuditLog
	if err := h.db.WithContext(c.Request.Context()).First(&log, "id = ?", c.Param("id")).Error; err != nil {
		response.NotFound(c, "日志不存在")
		return
	}
	response.Success(c, log)
}

// GetStats 获取审计统计
func (h *AuditHandler) GetStats(c *gin.Context) {
	days, err := strconv.Atoi(c.DefaultQuery("days", "7"))
	if err != nil || days <= 0 {
		days = 7
	}
	since := time.Now().AddDate(0, 0, -days)
	db := h.db.WithContext(c.Request.Context())

	// 按操作类型统计
	var actionStats []struct {
		Action string `json:"action"`
		Count  int64  `json:"count"`
	}
	db.Model(&model.AuditLog{}).
		Select("action, count(*) as count").
		Where("created_at >= ?", since).
		Group("action").
		Find(&actionStats)

	// 按资源类型统计
	var resourceStats []struct {
		Resource string `json:"resource"`
		Count    int64  `json:"count"`
	}
	db.Model(&model.AuditLog{}).
		Select("resource, count(*) as count").
		Where("created_at >= ?", since).
		Group("resource").
		Find(&resourceStats)

	// 按用户统计
	var userStats []struct {
		UserEmail string `json:"user_email"`
		Count     int64  `json:"count"`
	}
	db.Model(&model.AuditLog{}).
		Select("user_email, count(*) as count").
		Where("created_at >= ?", since).
		Where("user_email != ''").
		Group("user_email").
		Order("count DESC").
		Limit(10).
		Find(&userStats)

	response.Success(c, gin.H{
		"days":           days,
		"action_stats":   actionStats,
		"resource_stats": resourceStats,
		"user_stats":     userStats,
	})
}
