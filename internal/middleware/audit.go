package middleware

import (
	"bytes"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"integration-console/internal/model"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AuditMiddleware 审计日志中间件，只记录写操作
func AuditMiddleware(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		method := c.Request.Method
		if method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions ||
			strings.HasPrefix(path, "/health") || strings.HasPrefix(path, "/metrics") {
			c.Next()
			return
		}

		startTime := time.Now()

		// 读取请求体
		var requestBody string
		if c.Request.Body != nil {
			bodyBytes, _ := io.ReadAll(c.Request.Body)
			requestBody = maskSensitiveData(string(bodyBytes))
			// 重新设置请求体供后续使用
			c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
		}

		c.Next()

		action, resource, resourceID := parseActionFromPath(method, path)
		if resourceID == "" {
			// 创建类接口从上下文拿新建资源的 ID
			resourceID = c.GetString(CtxAuditResourceID)
		}

		entry := model.AuditLog{
			UserID:       GetUserID(c),
			UserEmail:    GetUserEmail(c),
			Action:       action,
			Resource:     resource,
			ResourceID:   resourceID,
			Description:  generateDescription(action, resource),
			IPAddress:    c.ClientIP(),
			UserAgent:    truncateString(c.Request.UserAgent(), 500),
			RequestBody:  truncateString(requestBody, 2000),
			ResponseCode: c.Writer.Status(),
			Duration:     time.Since(startTime).Milliseconds(),
		}

		// 异步写入日志
		go func() {
			if err := db.Create(&entry).Error; err != nil {
				zap.L().Warn("写入审计日志失败", zap.String("path", path), zap.Error(err))
			}
		}()
	}
}

// CtxAuditResourceID handler 可以写入该键补充资源 ID
const CtxAuditResourceID = "audit_resource_id"

var resourceSegments = map[string]string{
	"auth":                   model.ResourceUser,
	"users":                  model.ResourceUser,
	"invites":                model.ResourceInvite,
	"deletions":              model.ResourceDeletion,
	"apps":                   model.ResourceIntegration,
	"connections":            model.ResourceConnection,
	"integration-connect":    model.ResourceConnection,
	"integration-disconnect": model.ResourceConnection,
	"integration-sync":       model.ResourceConnection,
	"api-keys":               model.ResourceApiKey,
	"webhooks":               model.ResourceWebhook,
	"hooks":                  model.ResourceWebhook,
	"analyses":               model.ResourceAnalysis,
	"diagnostics":            model.ResourceApiKey,
}

// parseActionFromPath 从路径解析操作类型
func parseActionFromPath(method, path string) (action, resource, resourceID string) {
	parts := strings.Split(strings.Trim(path, "/"), "/")

	// 取最后一个能识别的资源段
	for _, part := range parts {
		if r, ok := resourceSegments[part]; ok {
			resource = r
		}
	}
	if resource == "" {
		resource = "unknown"
	}

	last := parts[len(parts)-1]
	switch method {
	case http.MethodPost:
		switch {
		case last == "login":
			action = model.ActionLogin
		case last == "revoke":
			action = model.ActionRevoke
		case last == "test" || last == "diagnostics":
			action = model.ActionTest
		case last == "integration-connect":
			action = model.ActionConnect
		case last == "integration-disconnect" || last == "disconnect":
			action = model.ActionDisconnect
		case last == "integration-sync" || last == "sync":
			action = model.ActionSync
		case last == "cancel":
			action = model.ActionRevoke
		default:
			action = model.ActionCreate
		}
	case http.MethodPut, http.MethodPatch:
		action = model.ActionUpdate
	case http.MethodDelete:
		action = model.ActionDelete
	default:
		action = strings.ToLower(method)
	}

	// 尝试提取资源ID
	for i, part := range parts {
		if len(part) == 36 && strings.Count(part, "-") == 4 {
			resourceID = part
			break
		}
		// 检查是否是资源类型后面的ID
		if i > 0 && isResourceType(parts[i-1]) && part != "" {
			resourceID = part
		}
	}

	return
}

func isResourceType(s string) bool {
	switch s {
	case "apps", "connections", "api-keys", "webhooks", "hooks", "invites", "deletions", "analyses", "users":
		return true
	}
	return false
}

func generateDescription(action, resource string) string {
	actionMap := map[string]string{
		model.ActionCreate:     "创建",
		model.ActionUpdate:     "更新",
		model.ActionDelete:     "删除",
		model.ActionLogin:      "登录",
		model.ActionRevoke:     "撤销",
		model.ActionConnect:    "发起连接",
		model.ActionDisconnect: "断开",
		model.ActionSync:       "同步",
		model.ActionTest:       "测试",
	}
	resourceMap := map[string]string{
		model.ResourceUser:        "用户",
		model.ResourceInvite:      "邀请",
		model.ResourceDeletion:    "删除请求",
		model.ResourceIntegration: "集成应用",
		model.ResourceConnection:  "集成连接",
		model.ResourceApiKey:      "API Key",
		model.ResourceWebhook:     "Webhook",
		model.ResourceAnalysis:    "分析任务",
	}

	a := actionMap[action]
	if a == "" {
		a = action
	}
	r := resourceMap[resource]
	if r == "" {
		r = resource
	}

	return a + r
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// 键名包含这些词的 JSON 字符串值会被替换
var sensitiveField = regexp.MustCompile(`"([A-Za-z_]*(?:password|secret|token|api_key|code))"\s*:\s*"(?:[^"\\]|\\.)*"`)

func maskSensitiveData(data string) string {
	return sensitiveField.ReplaceAllString(data, `"$1":"***"`)
}
