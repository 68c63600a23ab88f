package handler

import (
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"integration-console/internal/model"
	"integration-console/internal/pkg/response"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const timeLayout = "2006-01-02 15:04:05"

type ExportHandler struct {
	db *gorm.DB
}

func NewExportHandler(db *gorm.DB) *ExportHandler {
	return &ExportHandler{db: db}
}

// csvWriter 设置下载响应头并写入 BOM（Excel 中文显示）
func csvWriter(c *gin.Context, name string) *csv.Writer {
	filename := fmt.Sprintf("%s_%s.csv", name, time.Now().Format("20060102_150405"))
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	c.Header("Content-Transfer-Encoding", "binary")
	c.Writer.Write([]byte{0xEF, 0xBB, 0xBF})
	return csv.NewWriter(c.Writer)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(timeLayout)
}

// ExportConnections 导出集成连接（不含凭证）
func (h *ExportHandler) ExportConnections(c *gin.Context) {
	query := h.db.WithContext(c.Request.Context()).Model(&model.IntegrationConnection{})
	if integrationID := c.Query("integration_id"); integrationID != "" {
		query = query.Where("integration_id = ?", integrationID)
	}
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var conns []model.IntegrationConnection
	if err := query.Order("created_at DESC").Find(&conns).Error; err != nil {
		response.FromError(c, err)
		return
	}

	writer := csvWriter(c, "connections")
	defer writer.Flush()

	writer.Write([]string{"连接ID", "集成", "用户ID", "名称", "状态", "启用", "最后同步", "错误次数", "最后错误", "创建时间"})
	for _, conn := range conns {
		writer.Write([]string{
			conn.ID,
			conn.IntegrationID,
			conn.UserID,
			conn.Label,
			string(conn.Status),
			strconv.FormatBool(conn.Enabled),
			formatTime(conn.LastSyncAt),
			strconv.Itoa(conn.ErrorCount),
			conn.LastError,
			conn.CreatedAt.Format(timeLayout),
		})
	}
}

// ExportWebhooks 导出 Webhook 订阅
func (h *ExportHandler) ExportWebhooks(c *gin.Context) {
	query := h.db.WithContext(c.Request.Context()).Model(&model.Webhook{})
	if trigger := c.Query("trigger_type"); trigger != "" {
		query = query.Where("trigger_type = ?", trigger)
	}

	var hooks []model.Webhook
	if err := query.Order("created_at DESC").Find(&hooks).Error; err != nil {
		response.FromError(c, err)
		return
	}

	writer := csvWriter(c, "webhooks")
	defer writer.Flush()

	writer.Write([]string{"WebhookID", "用户ID", "触发类型", "目标地址", "状态", "成功", "失败", "成功率(%)", "最后触发", "最后错误"})
	for _, hook := range hooks {
		writer.Write([]string{
			hook.ID,
			hook.UserID,
			hook.TriggerType,
			hook.TargetURL,
			hook.DisplayStatus(),
			strconv.FormatInt(hook.SuccessCount, 10),
			strconv.FormatInt(hook.FailureCount, 10),
			strconv.FormatFloat(hook.SuccessRate(), 'f', 1, 64),
			formatTime(hook.LastTriggeredAt),
			hook.LastError,
		})
	}
}

// ExportAuditLogs 导出审计日志
func (h *ExportHandler) ExportAuditLogs(c *gin.Context) {
	query := h.db.WithContext(c.Request.Context()).Model(&model.AuditLog{})
	if startDate := c.Query("start_date"); startDate != "" {
		query = query.Where("created_at >= ?", startDate+" 00:00:00")
	}
	if endDate := c.Query("end_date"); endDate != "" {
		query = query.Where("created_at <= ?", endDate+" 23:59:59")
	}

	var logs []model.AuditLog
	if err := query.Order("created_at DESC").Limit(10000).Find(&logs).Error; err != nil {
		response.FromError(c, err)
		return
	}

	writer := csvWriter(c, "audit_logs")
	defer writer.Flush()

	writer.Write([]string{"时间", "用户邮箱", "操作", "资源", "资源ID", "描述", "IP地址", "状态码", "耗时(ms)"})
	for _, log := range logs {
		writer.Write([]string{
			log.CreatedAt.Format(timeLayout),
			log.UserEmail,
			log.Action,
			log.Resource,
			log.ResourceID,
			log.Description,
			log.IPAddress,
			strconv.Itoa(log.ResponseCode),
			strconv.FormatInt(log.Duration, 10),
		})
	}
}

// GetExportFormats 获取支持的导出格式
func (h *ExportHandler) GetExportFormats(c *gin.Context) {
	response.Success(c, gin.H{
		"formats": []gin.H{
			{"key": "csv", "name": "CSV", "description": "逗号分隔值文件，可用Excel打开"},
		},
		"resources": []gin.H{
			{"key": "connections", "name": "集成连接"},
			{"key": "webhooks", "name": "Webhook 订阅"},
			{"key": "audit_logs", "name": "审计日志"},
		},
	})
}
