package handler

import (
	"net/http"

	"integration-console/internal/config"
	"integration-console/internal/middleware"
	"integration-console/internal/model"
	"integration-console/internal/service"
	"integration-console/pkg/lifecycle"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Services 路由依赖的全部服务
type Services struct {
	DB          *gorm.DB
	Metrics     *service.Metrics
	Users       *service.UserService
	OAuth       *service.OAuthService
	Connections *service.ConnectionService
	ApiKeys     *service.ApiKeyService
	Webhooks    *service.WebhookService
	Diagnostics *service.DiagnosticsService
	Health      *service.HealthService
	Invites     *service.InviteService
	GDPR        *service.GDPRService
	Analyses    *service.AnalysisService
}

// SetupRouter 设置路由
func SetupRouter(r *gin.Engine, cfg *config.Config, s *Services) {
	perm := middleware.PermissionMiddleware

	// 全局中间件
	r.Use(middleware.CORSMiddleware(cfg.Security.AllowedOrigins))
	r.Use(middleware.LoggerMiddleware(zap.L()))
	r.Use(gin.Recovery())

	// 安全响应头
	if cfg.Security.EnableSecurityHeaders {
		r.Use(middleware.SecurityHeadersMiddleware())
	}

	// 速率限制器
	limiter := middleware.NewRateLimiter(cfg.Security.RateLimitRPS, cfg.Security.RateLimitBurst)
	authLimiter := middleware.NewRateLimiter(0.2, 5) // 登录、接受邀请：约每 5 秒一次

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.Metrics != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api")
	api.Use(middleware.RateLimitMiddleware(limiter))

	// 初始化 Handler
	authHandler := NewAuthHandler(s.Users)
	integrationHandler := NewIntegrationHandler(s.OAuth, s.Connections, cfg.Server.ConsoleURL)
	apiKeyHandler := NewApiKeyHandler(s.ApiKeys, s.Diagnostics)
	webhookHandler := NewWebhookHandler(s.Webhooks, s.ApiKeys)
	zapierHandler := NewZapierHandler(s.Webhooks, s.Analyses)
	statsHandler := NewStatisticsHandler(s.DB, s.Health, s.Analyses)
	userHandler := NewUserHandler(s.Users)
	inviteHandler := NewInviteHandler(s.Invites)
	deletionHandler := NewDeletionHandler(s.GDPR)
	analysisHandler := NewAnalysisHandler(s.Analyses)
	auditHandler := NewAuditHandler(s.DB)
	exportHandler := NewExportHandler(s.DB)

	// ==================== 公开接口 ====================
	public := api.Group("")
	public.Use(middleware.AuditMiddleware(s.DB))
	{
		auth := public.Group("")
		auth.Use(middleware.RateLimitMiddleware(authLimiter))
		auth.POST("/auth/login", authHandler.Login)
		auth.POST("/invites/accept", inviteHandler.Accept)
	}
	// 第三方授权回调
	api.GET("/oauth/callback", integrationHandler.Callback)

	// ==================== Zapier 桥接 ====================
	zapier := api.Group("/zapier/v1")
	zapier.Use(middleware.ApiKeyMiddleware(s.ApiKeys))
	zapier.Use(middleware.AuditMiddleware(s.DB))
	{
		zapier.GET("/me", zapierHandler.Me)
		zapier.POST("/hooks", middleware.RequireScope(lifecycle.ScopeWebhookSubscribe), zapierHandler.Subscribe)
		zapier.DELETE("/hooks/:id", zapierHandler.Unsubscribe)
		zapier.POST("/hooks/:id/test", zapierHandler.Test)
		zapier.GET("/analyses", middleware.RequireScope(lifecycle.ScopeAnalysesRead), zapierHandler.Analyses)
	}

	// ==================== 需要登录的接口 ====================
	authenticated := api.Group("")
	authenticated.Use(middleware.AuthMiddleware(cfg.JWT.Secret))
	authenticated.Use(middleware.ActiveUserMiddleware(s.DB))
	authenticated.Use(middleware.AuditMiddleware(s.DB))
	{
		authenticated.GET("/auth/profile", authHandler.GetProfile)
		authenticated.PUT("/auth/password", authHandler.ChangePassword)

		// 集成生命周期函数
		functions := authenticated.Group("/functions")
		{
			functions.POST("/integration-connect", perm(model.PermIntegrationManage), integrationHandler.Connect)
			functions.POST("/integration-disconnect", perm(model.PermIntegrationManage), integrationHandler.Disconnect)
			functions.POST("/integration-sync", perm(model.PermIntegrationManage), integrationHandler.Sync)
			functions.POST("/connection-test", perm(model.PermDiagnosticsRun), apiKeyHandler.RunConnectionTest)
		}

		authenticated.GET("/integrations", perm(model.PermIntegrationRead), integrationHandler.Catalog)

		// 我的连接
		connections := authenticated.Group("/connections")
		{
			connections.GET("", perm(model.PermIntegrationRead), integrationHandler.ListConnections)
			connections.GET("/:id", perm(model.PermIntegrationRead), integrationHandler.GetConnection)
			connections.PUT("/:id", perm(model.PermIntegrationManage), integrationHandler.UpdateConnection)
		}

		// 我的 API Key
		keys := authenticated.Group("/api-keys")
		{
			keys.GET("", perm(model.PermApiKeyRead), apiKeyHandler.List)
			keys.POST("", perm(model.PermApiKeyManage), apiKeyHandler.Generate)
			keys.POST("/:id/revoke", perm(model.PermApiKeyManage), apiKeyHandler.Revoke)
		}

		// 我的 Webhook
		webhooks := authenticated.Group("/webhooks")
		{
			webhooks.GET("", perm(model.PermWebhookRead), webhookHandler.List)
			webhooks.POST("", perm(model.PermWebhookManage), webhookHandler.Subscribe)
			webhooks.GET("/:id", perm(model.PermWebhookRead), webhookHandler.Get)
			webhooks.PUT("/:id/status", perm(model.PermWebhookManage), webhookHandler.SetActive)
			webhooks.POST("/:id/test", perm(model.PermWebhookManage), webhookHandler.Test)
			webhooks.GET("/:id/replacement", perm(model.PermWebhookRead), webhookHandler.Replacement)
			webhooks.GET("/:id/deliveries", perm(model.PermWebhookRead), webhookHandler.Deliveries)
			webhooks.DELETE("/:id", perm(model.PermWebhookManage), webhookHandler.Delete)
		}
	}

	// ==================== 管理后台接口 ====================
	admin := authenticated.Group("/admin")
	{
		// 统计与健康
		admin.GET("/dashboard", perm(model.PermIntegrationRead), statsHandler.Dashboard)
		admin.GET("/health", perm(model.PermIntegrationRead), statsHandler.Health)

		// 系统级 OAuth 应用
		apps := admin.Group("/apps")
		apps.Use(perm(model.PermIntegrationConfig))
		{
			apps.GET("", integrationHandler.ListApps)
			apps.PUT("/:id", integrationHandler.ConfigureApp)
		}

		admin.GET("/connections", perm(model.PermUserRead), perm(model.PermIntegrationRead), integrationHandler.AdminListConnections)
		admin.DELETE("/connections/:id", middleware.AdminMiddleware(), integrationHandler.AdminDeleteConnection)
		admin.GET("/api-keys", perm(model.PermUserRead), perm(model.PermApiKeyRead), apiKeyHandler.AdminList)
		admin.GET("/webhooks", perm(model.PermUserRead), perm(model.PermWebhookRead), webhookHandler.AdminList)

		// 用户管理
		users := admin.Group("/users")
		{
			users.GET("", perm(model.PermUserRead), userHandler.List)
			users.GET("/:id", perm(model.PermUserRead), userHandler.Get)
			users.PUT("/:id/role", perm(model.PermUserManage), userHandler.UpdateRole)
			users.POST("/:id/disable", perm(model.PermUserManage), userHandler.Disable)
			users.POST("/:id/enable", perm(model.PermUserManage), userHandler.Enable)
		}

		// 邀请
		invites := admin.Group("/invites")
		invites.Use(perm(model.PermUserManage))
		{
			invites.GET("", inviteHandler.List)
			invites.POST("", inviteHandler.Create)
			invites.DELETE("/:id", inviteHandler.Revoke)
			invites.POST("/:id/resend", inviteHandler.Resend)
		}

		// GDPR 删除请求
		deletions := admin.Group("/deletions")
		deletions.Use(perm(model.PermDeletionManage))
		{
			deletions.GET("", deletionHandler.List)
			deletions.POST("", deletionHandler.BulkRequest)
			deletions.POST("/:id/cancel", deletionHandler.Cancel)
		}

		// 分析队列
		analyses := admin.Group("/analyses")
		{
			analyses.GET("", perm(model.PermAnalysisRead), analysisHandler.List)
			analyses.GET("/stats", perm(model.PermAnalysisRead), analysisHandler.Stats)
			analyses.GET("/:id", perm(model.PermAnalysisRead), analysisHandler.Get)
			analyses.POST("", perm(model.PermAnalysisManage), analysisHandler.Create)
			analyses.PUT("/:id/status", perm(model.PermAnalysisManage), analysisHandler.UpdateStatus)
		}

		// 审计日志
		audit := admin.Group("/audit")
		audit.Use(perm(model.PermAuditRead))
		{
			audit.GET("", auditHandler.List)
			audit.GET("/stats", auditHandler.GetStats)
			audit.GET("/:id", auditHandler.Get)
		}

		// 数据导出
		export := admin.Group("/export")
		export.Use(perm(model.PermExportRead))
		{
			export.GET("/formats", exportHandler.GetExportFormats)
			export.GET("/connections", exportHandler.ExportConnections)
			export.GET("/webhooks", exportHandler.ExportWebhooks)
			export.GET("/audit-logs", exportHandler.ExportAuditLogs)
		}
	}
}
