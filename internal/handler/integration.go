package handler

import (
	"net/http"
	"net/url"

	"integration-console/internal/middleware"
	"integration-console/internal/model"
	"integration-console/internal/pkg/response"
	"integration-console/internal/service"
	"integration-console/pkg/lifecycle"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type IntegrationHandler struct {
	oauth      *service.OAuthService
	conns      *service.ConnectionService
	consoleURL string
}

func NewIntegrationHandler(oauth *service.OAuthService, conns *service.ConnectionService, consoleURL string) *IntegrationHandler {
	return &IntegrationHandler{oauth: oauth, conns: conns, consoleURL: consoleURL}
}

// catalogEntry 目录项附带系统应用的启用状态
type catalogEntry struct {
	model.IntegrationDefinition
	Enabled    bool `json:"enabled"`
	Configured bool `json:"configured"`
}

// Catalog 集成目录
func (h *IntegrationHandler) Catalog(c *gin.Context) {
	apps, err := h.oauth.ListApps(c.Request.Context())
	if err != nil {
		response.FromError(c, err)
		return
	}
	byID := make(map[string]model.IntegrationApp, len(apps))
	for _, a := range apps {
		byID[a.IntegrationID] = a
	}

	entries := make([]catalogEntry, 0, len(model.Catalog))
	for _, def := range model.Catalog {
		e := catalogEntry{IntegrationDefinition: def}
		if def.AuthType == model.AuthOAuth2 {
			if app, ok := byID[def.ID]; ok {
				e.Enabled = app.Enabled
				e.Configured = app.Configured()
			}
		} else {
			// 非 OAuth 集成不依赖系统应用
			e.Enabled, e.Configured = true, true
		}
		entries = append(entries, e)
	}
	response.Success(c, entries)
}

// ConnectRequest integration-connect
type ConnectRequest struct {
	IntegrationID string `json:"integration_id" binding:"required"`
	RedirectURL   string `json:"redirect_url"`
	Label         string `json:"label"`
	ConnectionID  string `json:"connection_id"`
}

// Connect 发起 OAuth 授权，返回授权地址
func (h *IntegrationHandler) Connect(c *gin.Context) {
	var req ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.oauth.Connect(c.Request.Context(), middleware.GetUserID(c), service.ConnectRequest{
		IntegrationID: req.IntegrationID,
		RedirectURL:   req.RedirectURL,
		Label:         req.Label,
		ConnectionID:  req.ConnectionID,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, result)
}

// Callback 第三方授权回调，处理后跳回控制台
func (h *IntegrationHandler) Callback(c *gin.Context) {
	result, err := h.oauth.Callback(c.Request.Context(), c.Query("state"), c.Query("code"), c.Query("error"))
	if err != nil {
		zap.L().Warn("OAuth 回调处理失败", zap.Error(err))
		if target := h.errorRedirect(err); target != "" {
			c.Redirect(http.StatusFound, target)
			return
		}
		response.FromError(c, err)
		return
	}
	c.Redirect(http.StatusFound, result.RedirectURL)
}

func (h *IntegrationHandler) errorRedirect(err error) string {
	if h.consoleURL == "" {
		return ""
	}
	u, perr := url.Parse(h.consoleURL + "/integrations")
	if perr != nil {
		return ""
	}
	code := lifecycle.CodeBackend
	if e, ok := lifecycle.AsError(err); ok {
		code = e.Code
	}
	q := u.Query()
	q.Set("status", string(lifecycle.StatusError))
	q.Set("error", code)
	u.RawQuery = q.Encode()
	return u.String()
}

// ConnectionActionRequest integration-disconnect / integration-sync
type ConnectionActionRequest struct {
	ConnectionID string `json:"connection_id" binding:"required"`
	Confirm      bool   `json:"confirm"`
}

// Disconnect 断开连接，需要确认
func (h *IntegrationHandler) Disconnect(c *gin.Context) {
	var req ConnectionActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}
	if !h.ownConnection(c, req.ConnectionID) {
		return
	}

	result, err := h.conns.Disconnect(c.Request.Context(), req.ConnectionID, confirmFlag(c, req.Confirm))
	if err != nil {
		response.FromError(c, err)
		return
	}
	auditResource(c, req.ConnectionID)
	response.Success(c, result)
}

// Sync 刷新令牌并记录结果
func (h *IntegrationHandler) Sync(c *gin.Context) {
	var req ConnectionActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}
	if !h.ownConnection(c, req.ConnectionID) {
		return
	}

	result, err := h.conns.Sync(c.Request.Context(), req.ConnectionID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	auditResource(c, req.ConnectionID)
	response.Success(c, result)
}

// ownConnection 连接存在且当前用户可操作
func (h *IntegrationHandler) ownConnection(c *gin.Context, id string) bool {
	conn, err := h.conns.Get(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, err)
		return false
	}
	return !denyForeign(c, conn.UserID, model.PermUserManage)
}

// ListConnections 当前用户的连接
func (h *IntegrationHandler) ListConnections(c *gin.Context) {
	conns, err := h.conns.List(c.Request.Context(), service.ConnectionFilter{
		UserID:        middleware.GetUserID(c),
		IntegrationID: c.Query("integration_id"),
		Status:        c.Query("status"),
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, conns)
}

// GetConnection 连接详情
func (h *IntegrationHandler) GetConnection(c *gin.Context) {
	conn, err := h.conns.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	if denyForeign(c, conn.UserID, model.PermUserRead) {
		return
	}
	response.Success(c, conn)
}

// UpdateConnection 修改连接配置或启停
func (h *IntegrationHandler) UpdateConnection(c *gin.Context) {
	var req service.UpdateConfigInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}
	id := c.Param("id")
	if !h.ownConnection(c, id) {
		return
	}

	conn, err := h.conns.UpdateConfiguration(c.Request.Context(), id, req)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, conn)
}

// AdminListConnections 全部用户的连接
func (h *IntegrationHandler) AdminListConnections(c *gin.Context) {
	conns, err := h.conns.List(c.Request.Context(), service.ConnectionFilter{
		UserID:        c.Query("user_id"),
		IntegrationID: c.Query("integration_id"),
		Status:        c.Query("status"),
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, conns)
}

// AdminDeleteConnection 直接删除连接，不撤销上游令牌
func (h *IntegrationHandler) AdminDeleteConnection(c *gin.Context) {
	if err := h.conns.Delete(c.Request.Context(), c.Param("id"), confirmFlag(c, false)); err != nil {
		response.FromError(c, err)
		return
	}
	response.SuccessWithMessage(c, "连接已删除", nil)
}

// appView 客户端密钥只返回是否已设置
type appView struct {
	model.IntegrationApp
	Name            string `json:"name"`
	HasClientSecret bool   `json:"has_client_secret"`
	Configured      bool   `json:"configured"`
}

func newAppView(a model.IntegrationApp) appView {
	def, _ := model.FindIntegration(a.IntegrationID)
	return appView{
		IntegrationApp:  a,
		Name:            def.Name,
		HasClientSecret: a.ClientSecretEncrypted != "",
		Configured:      a.Configured(),
	}
}

// ListApps 系统级 OAuth 应用
func (h *IntegrationHandler) ListApps(c *gin.Context) {
	apps, err := h.oauth.ListApps(c.Request.Context())
	if err != nil {
		response.FromError(c, err)
		return
	}
	views := make([]appView, 0, len(apps))
	for _, a := range apps {
		views = append(views, newAppView(a))
	}
	response.Success(c, views)
}

// ConfigureApp 配置系统级 OAuth 应用
func (h *IntegrationHandler) ConfigureApp(c *gin.Context) {
	var req service.ConfigureAppInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	app, err := h.oauth.ConfigureApp(c.Request.Context(), c.Param("id"), req, middleware.GetUserID(c))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, newAppView(*app))
}
