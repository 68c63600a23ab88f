package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"integration-console/internal/config"
	"integration-console/internal/model"
	"integration-console/internal/pkg/crypto"
	"integration-console/internal/service"
	"integration-console/pkg/lifecycle"

	"github.com/gin-gonic/gin"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type envelope struct {
	Code      int             `json:"code"`
	Message   string          `json:"message"`
	ErrorCode string          `json:"error_code"`
	Field     string          `json:"field"`
	Data      json.RawMessage `json:"data"`
}

type testApp struct {
	t        *testing.T
	db       *gorm.DB
	cfg      *config.Config
	router   *gin.Engine
	svc      *Services
	provider *httptest.Server
	target   *httptest.Server
	hits     atomic.Int32
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	db, err := model.OpenMemory(uuid.NewString())
	require.NoError(t, err)

	app := &testApp{t: t, db: db}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-1","refresh_token":"rt-1","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/revoke", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	app.provider = httptest.NewServer(mux)
	t.Cleanup(app.provider.Close)

	app.target = httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		app.hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(app.target.Close)

	cfg := &config.Config{}
	cfg.JWT.Secret = strings.Repeat("s", 32)
	cfg.Vault.MasterKey = strings.Repeat("ab", 32)
	cfg.Database.Driver = "sqlite"
	cfg.Server.ConsoleURL = "https://console.example.com"
	cfg.OAuth.CallbackBaseURL = "https://api.example.com"
	cfg.Security.RateLimitRPS = 1000
	cfg.Security.RateLimitBurst = 1000
	config.Set(cfg)
	app.cfg = cfg

	vault, err := crypto.NewVault(cfg.Vault.MasterKey)
	require.NoError(t, err)
	metrics := service.NewMetrics()
	accounts, ips := service.NewLoginLimiters(&cfg.Security)
	keys := service.NewApiKeyService(db, metrics)
	oauth := service.NewOAuthService(db, vault, service.NewMemoryStateStore(), metrics, cfg).
		WithHTTPClient(app.provider.Client())
	hooks := service.NewWebhookService(db, keys, metrics, resty.NewWithClient(app.target.Client()), cfg)
	email := service.NewEmailService(nil, cfg.Server.ConsoleURL)

	app.svc = &Services{
		DB:          db,
		Metrics:     metrics,
		Users:       service.NewUserService(db, accounts, ips, cfg),
		OAuth:       oauth,
		Connections: service.NewConnectionService(db, oauth, resty.New()),
		ApiKeys:     keys,
		Webhooks:    hooks,
		Diagnostics: service.NewDiagnosticsService(db, keys, metrics),
		Health:      service.NewHealthService(db, metrics, 24),
		Invites:     service.NewInviteService(db, email, cfg.Security.PasswordMinLength),
		GDPR:        service.NewGDPRService(db, email, hooks, 30),
		Analyses:    service.NewAnalysisService(db, hooks),
	}

	app.router = gin.New()
	SetupRouter(app.router, cfg, app.svc)
	return app
}

func (a *testApp) user(email string, role model.UserRole) (*model.User, string) {
	a.t.Helper()
	u := &model.User{Email: email, Name: strings.Split(email, "@")[0], Role: role, Status: model.UserStatusActive}
	require.NoError(a.t, u.SetPassword("passw0rd123"))
	require.NoError(a.t, a.db.Create(u).Error)
	token, err := crypto.GenerateToken(u.ID, u.Email, string(u.Role), a.cfg.JWT.Secret, 1)
	require.NoError(a.t, err)
	return u, token
}

func (a *testApp) do(method, path, token string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	a.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(a.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, data interface{}) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	if data != nil && len(env.Data) > 0 {
		require.NoError(t, json.Unmarshal(env.Data, data))
	}
	return env
}

func (a *testApp) configureZoom(adminToken string) {
	a.t.Helper()
	w := a.do(http.MethodPut, "/api/admin/apps/zoom", adminToken, gin.H{
		"enabled":       true,
		"client_id":     "client-1",
		"client_secret": "secret-1",
		"auth_url":      a.provider.URL + "/authorize",
		"token_url":     a.provider.URL + "/token",
		"revoke_url":    a.provider.URL + "/revoke",
	})
	require.Equal(a.t, http.StatusOK, w.Code, w.Body.String())
	assert.NotContains(a.t, w.Body.String(), "secret-1")
	assert.Contains(a.t, w.Body.String(), `"has_client_secret":true`)
}

// connect 走完整授权流程，返回连接 ID
func (a *testApp) connect(token string) string {
	a.t.Helper()
	w := a.do(http.MethodPost, "/api/functions/integration-connect", token, gin.H{"integration_id": "zoom"})
	require.Equal(a.t, http.StatusOK, w.Code, w.Body.String())
	var res service.ConnectResult
	decode(a.t, w, &res)
	require.NotEmpty(a.t, res.AuthURL)

	w = a.do(http.MethodGet, "/api/oauth/callback?state="+res.State+"&code=good", "", nil)
	require.Equal(a.t, http.StatusFound, w.Code)
	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(a.t, err)
	assert.Equal(a.t, "console.example.com", loc.Host)
	assert.Equal(a.t, "active", loc.Query().Get("status"))
	return loc.Query().Get("connection_id")
}

func TestHealthAndMetrics(t *testing.T) {
	app := newTestApp(t)

	w := app.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	_, admin := app.user("admin@example.com", model.RoleAdmin)
	app.do(http.MethodPost, "/api/functions/integration-connect", admin, gin.H{"integration_id": "zoom"})

	w = app.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "iconsole_oauth_initiations_total")
}

func TestLoginAndProfile(t *testing.T) {
	app := newTestApp(t)
	app.user("op@example.com", model.RoleOperator)

	w := app.do(http.MethodPost, "/api/auth/login", "", gin.H{"email": "op@example.com", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = app.do(http.MethodPost, "/api/auth/login", "", gin.H{"email": "op@example.com", "password": "passw0rd123"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var login struct {
		Token string `json:"token"`
	}
	decode(t, w, &login)
	require.NotEmpty(t, login.Token)

	w = app.do(http.MethodGet, "/api/auth/profile", login.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var profile struct {
		User        model.User `json:"user"`
		Permissions []string   `json:"permissions"`
	}
	decode(t, w, &profile)
	assert.Equal(t, "op@example.com", profile.User.Email)
	assert.Contains(t, profile.Permissions, model.PermIntegrationManage)
	assert.NotContains(t, profile.Permissions, model.PermUserManage)

	assert.Equal(t, http.StatusUnauthorized, app.do(http.MethodGet, "/api/auth/profile", "", nil).Code)
}

func TestConnectionLifecycle(t *testing.T) {
	app := newTestApp(t)
	_, admin := app.user("admin@example.com", model.RoleAdmin)
	_, op := app.user("op@example.com", model.RoleOperator)

	// 应用未配置
	w := app.do(http.MethodPost, "/api/functions/integration-connect", op, gin.H{"integration_id": "zoom"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, lifecycle.CodeIntegrationDisabled, decode(t, w, nil).ErrorCode)

	app.configureZoom(admin)
	connID := app.connect(op)
	require.NotEmpty(t, connID)

	w = app.do(http.MethodGet, "/api/connections", op, nil)
	var conns []model.IntegrationConnection
	decode(t, w, &conns)
	require.Len(t, conns, 1)
	assert.Equal(t, lifecycle.StatusActive, conns[0].Status)
	assert.NotContains(t, w.Body.String(), "at-1")

	w = app.do(http.MethodPost, "/api/functions/integration-sync", op, gin.H{"connection_id": connID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var sync service.SyncResult
	decode(t, w, &sync)
	assert.Equal(t, lifecycle.StatusActive, sync.Status)

	// 未确认
	w = app.do(http.MethodPost, "/api/functions/integration-disconnect", op, gin.H{"connection_id": connID})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, lifecycle.CodeConfirmationRequired, decode(t, w, nil).ErrorCode)

	w = app.do(http.MethodPost, "/api/functions/integration-disconnect", op, gin.H{"connection_id": connID, "confirm": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var disc service.DisconnectResult
	decode(t, w, &disc)
	assert.True(t, disc.Success)
	assert.True(t, disc.UpstreamRevoked)

	w = app.do(http.MethodGet, "/api/connections/"+connID, op, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestConnectionOwnership(t *testing.T) {
	app := newTestApp(t)
	_, admin := app.user("admin@example.com", model.RoleAdmin)
	_, alice := app.user("alice@example.com", model.RoleOperator)
	_, bob := app.user("bob@example.com", model.RoleOperator)

	app.configureZoom(admin)
	connID := app.connect(alice)

	// 运维角色可以查看他人的连接，但只能操作自己的
	assert.Equal(t, http.StatusOK, app.do(http.MethodGet, "/api/connections/"+connID, bob, nil).Code)
	w := app.do(http.MethodPost, "/api/functions/integration-disconnect", bob, gin.H{"connection_id": connID, "confirm": true})
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = app.do(http.MethodPut, "/api/connections/"+connID, bob, gin.H{"label": "mine"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = app.do(http.MethodPut, "/api/connections/"+connID, alice, gin.H{"label": "Team Zoom", "enabled": false})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var conn model.IntegrationConnection
	decode(t, w, &conn)
	assert.Equal(t, "Team Zoom", conn.Label)
	assert.Equal(t, lifecycle.StatusInactive, conn.Status)

	// 管理员可以看到全部连接
	w = app.do(http.MethodGet, "/api/admin/connections", admin, nil)
	var all []model.IntegrationConnection
	decode(t, w, &all)
	assert.Len(t, all, 1)

	assert.Equal(t, http.StatusForbidden, app.do(http.MethodDelete, "/api/admin/connections/"+connID+"?confirm=true", alice, nil).Code)
	assert.Equal(t, http.StatusBadRequest, app.do(http.MethodDelete, "/api/admin/connections/"+connID, admin, nil).Code)
	assert.Equal(t, http.StatusOK, app.do(http.MethodDelete, "/api/admin/connections/"+connID+"?confirm=true", admin, nil).Code)
}

func TestOAuthCallbackWithBadState(t *testing.T) {
	app := newTestApp(t)
	w := app.do(http.MethodGet, "/api/oauth/callback?state=nope&code=x", "", nil)
	require.Equal(t, http.StatusFound, w.Code)
	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/integrations", loc.Path)
	assert.Equal(t, "error", loc.Query().Get("status"))
	assert.Equal(t, lifecycle.CodeValidation, loc.Query().Get("error"))
}

func generateKey(t *testing.T, app *testApp, token string, scopes ...string) service.GeneratedApiKey {
	t.Helper()
	w := app.do(http.MethodPost, "/api/api-keys", token, gin.H{"name": "zapier", "scopes": scopes})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	var gen service.GeneratedApiKey
	decode(t, w, &gen)
	require.True(t, strings.HasPrefix(gen.Secret, "zk_"))
	assert.True(t, gen.AcknowledgementRequired)
	return gen
}

func TestApiKeysAndZapierBridge(t *testing.T) {
	app := newTestApp(t)
	_, op := app.user("op@example.com", model.RoleOperator)
	// 未选择权限不签发
	w := app.do(http.MethodPost, "/api/api-keys", op, gin.H{"name": "zapier"})
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	env := decode(t, w, nil)
	assert.Equal(t, lifecycle.CodeValidation, env.ErrorCode)
	assert.Equal(t, "scopes", env.Field)

	gen := generateKey(t, app, op, lifecycle.ScopeWebhookSubscribe)

	// 列表只有掩码
	w = app.do(http.MethodGet, "/api/api-keys", op, nil)
	assert.NotContains(t, w.Body.String(), gen.Secret)

	// 桥接认证
	w = app.do(http.MethodGet, "/api/zapier/v1/me", "", nil, "X-API-Key", gen.Secret)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), gen.Key.ID)

	w = app.do(http.MethodPost, "/api/zapier/v1/hooks", "", gin.H{"target_url": "http://hooks.zapier.com/x", "event": "analysis.completed"}, "X-API-Key", gen.Secret)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "target_url", decode(t, w, nil).Field)

	w = app.do(http.MethodPost, "/api/zapier/v1/hooks", "", gin.H{"target_url": app.target.URL + "/catch", "event": "analysis.completed"}, "X-API-Key", gen.Secret)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var sub struct {
		ID     string `json:"id"`
		Secret string `json:"secret"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sub))
	require.NotEmpty(t, sub.ID)

	w = app.do(http.MethodPost, "/api/zapier/v1/hooks/"+sub.ID+"/test", "", nil, "X-API-Key", gen.Secret)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, int32(1), app.hits.Load())

	// 缺少 analyses:read
	w = app.do(http.MethodGet, "/api/zapier/v1/analyses", "", nil, "X-API-Key", gen.Secret)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// 控制台侧能看到订阅与投递记录
	w = app.do(http.MethodGet, "/api/webhooks/"+sub.ID+"/deliveries", op, nil)
	var deliveries []model.WebhookDelivery
	decode(t, w, &deliveries)
	require.Len(t, deliveries, 1)
	assert.True(t, deliveries[0].IsTest)

	// 撤销 Key 后桥接认证失败
	w = app.do(http.MethodPost, "/api/api-keys/"+gen.Key.ID+"/revoke", op, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = app.do(http.MethodPost, "/api/api-keys/"+gen.Key.ID+"/revoke", op, gin.H{"confirm": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = app.do(http.MethodGet, "/api/zapier/v1/me", "", nil, "X-API-Key", gen.Secret)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// 订阅仍然存在
	w = app.do(http.MethodGet, "/api/webhooks", op, nil)
	var hooks []service.WebhookView
	decode(t, w, &hooks)
	assert.Len(t, hooks, 1)
}

func TestZapierPollingAndUnsubscribe(t *testing.T) {
	app := newTestApp(t)
	op, opToken := app.user("op@example.com", model.RoleOperator)
	_, otherToken := app.user("other@example.com", model.RoleOperator)
	gen := generateKey(t, app, opToken, lifecycle.ScopeWebhookSubscribe, lifecycle.ScopeAnalysesRead)
	other := generateKey(t, app, otherToken, lifecycle.ScopeWebhookSubscribe)

	// 没有数据时返回样例
	w := app.do(http.MethodGet, "/api/zapier/v1/analyses", "", nil, "X-API-Key", gen.Secret)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var items []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &items))
	require.Len(t, items, 1)
	assert.Equal(t, "Sample call analysis", items[0]["title"])

	ctx := context.Background()
	a, err := app.svc.Analyses.Create(ctx, service.CreateAnalysisInput{UserID: op.ID, Title: "Weekly sync"})
	require.NoError(t, err)
	_, err = app.svc.Analyses.UpdateStatus(ctx, a.ID, service.UpdateStatusInput{Status: model.AnalysisCompleted, Summary: "done"})
	require.NoError(t, err)

	w = app.do(http.MethodGet, "/api/zapier/v1/analyses", "", nil, "X-API-Key", gen.Secret)
	items = nil
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &items))
	require.Len(t, items, 1)
	assert.Equal(t, a.ID, items[0]["id"])
	assert.Equal(t, "done", items[0]["summary"])

	w = app.do(http.MethodPost, "/api/zapier/v1/hooks", "", gin.H{"target_url": app.target.URL + "/x", "trigger_type": "analysis.failed"}, "X-API-Key", gen.Secret)
	require.Equal(t, http.StatusCreated, w.Code)
	var sub struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sub))

	// 其他用户的 Key 不能删除
	w = app.do(http.MethodDelete, "/api/zapier/v1/hooks/"+sub.ID, "", nil, "X-API-Key", other.Secret)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = app.do(http.MethodDelete, "/api/zapier/v1/hooks/"+sub.ID, "", nil, "X-API-Key", gen.Secret)
	assert.Equal(t, http.StatusOK, w.Code)

	var count int64
	app.db.Model(&model.Webhook{}).Count(&count)
	assert.Zero(t, count)
}

func TestWebhookConsoleRoutes(t *testing.T) {
	app := newTestApp(t)
	_, op := app.user("op@example.com", model.RoleOperator)
	_, viewer := app.user("viewer@example.com", model.RoleViewer)
	_, other := app.user("other@example.com", model.RoleOperator)
	gen := generateKey(t, app, op, lifecycle.ScopeWebhookSubscribe)
	foreign := generateKey(t, app, other, lifecycle.ScopeWebhookSubscribe)

	// 不能用别人的 Key
	w := app.do(http.MethodPost, "/api/webhooks", op, gin.H{"api_key_id": foreign.Key.ID, "target_url": app.target.URL, "trigger_type": "analysis.completed"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, lifecycle.CodeNoValidApiKey, decode(t, w, nil).ErrorCode)

	w = app.do(http.MethodPost, "/api/webhooks", op, gin.H{"api_key_id": gen.Key.ID, "target_url": app.target.URL, "trigger_type": "analysis.completed"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var sub service.SubscribeResult
	decode(t, w, &sub)
	id := sub.Webhook.ID

	// 只读角色不能修改
	assert.Equal(t, http.StatusForbidden, app.do(http.MethodPost, "/api/webhooks", viewer, gin.H{}).Code)
	assert.Equal(t, http.StatusForbidden, app.do(http.MethodPost, "/api/api-keys", viewer, gin.H{"name": "x", "scopes": []string{"webhook:subscribe"}}).Code)

	w = app.do(http.MethodPut, "/api/webhooks/"+id+"/status", op, gin.H{"active": false})
	require.Equal(t, http.StatusOK, w.Code)
	var view service.WebhookView
	decode(t, w, &view)
	assert.Equal(t, "inactive", view.Status)

	w = app.do(http.MethodGet, "/api/webhooks/"+id+"/replacement", op, nil)
	var draft service.ReplacementDraft
	decode(t, w, &draft)
	assert.Equal(t, id, draft.ReplacesWebhookID)
	assert.Equal(t, gen.Key.ID, draft.ApiKeyID)

	// 他人可以查看，但不能删除
	assert.Equal(t, http.StatusOK, app.do(http.MethodGet, "/api/webhooks/"+id, other, nil).Code)
	assert.Equal(t, http.StatusNotFound, app.do(http.MethodDelete, "/api/webhooks/"+id+"?confirm=true", other, nil).Code)
	assert.Equal(t, http.StatusBadRequest, app.do(http.MethodDelete, "/api/webhooks/"+id, op, nil).Code)
	assert.Equal(t, http.StatusOK, app.do(http.MethodDelete, "/api/webhooks/"+id+"?confirm=true", op, nil).Code)
}

func TestConnectionTestFunction(t *testing.T) {
	app := newTestApp(t)
	_, op := app.user("op@example.com", model.RoleOperator)

	w := app.do(http.MethodPost, "/api/functions/connection-test", op, gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "api_key_id", decode(t, w, nil).Field)

	gen := generateKey(t, app, op, lifecycle.ScopeWebhookSubscribe, lifecycle.ScopeAnalysesRead)
	w = app.do(http.MethodPost, "/api/functions/connection-test", op, gin.H{"api_key_id": gen.Key.ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var report lifecycle.DiagnosticReport
	decode(t, w, &report)
	assert.Equal(t, lifecycle.DiagnosticVersion, report.Version)
	require.Len(t, report.Checks, 3)
	assert.Equal(t, lifecycle.CheckDatabase, report.Checks[0].Name)
	assert.Equal(t, lifecycle.CheckPassed, report.Checks[1].Status)
}

func TestAdminUsersInvitesAndDeletions(t *testing.T) {
	app := newTestApp(t)
	admin, adminToken := app.user("admin@example.com", model.RoleAdmin)
	target, _ := app.user("leaver@example.com", model.RoleViewer)
	_, op := app.user("op@example.com", model.RoleOperator)

	assert.Equal(t, http.StatusForbidden, app.do(http.MethodGet, "/api/admin/invites", op, nil).Code)

	w := app.do(http.MethodGet, "/api/admin/users?keyword=leaver", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "leaver@example.com")

	w = app.do(http.MethodPut, "/api/admin/users/"+target.ID+"/role", adminToken, gin.H{"role": "operator"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// 邮件未配置时返回令牌
	w = app.do(http.MethodPost, "/api/admin/invites", adminToken, gin.H{"email": "New.Person@example.com", "role": "viewer"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var inv struct {
		Invite    model.Invite `json:"invite"`
		EmailSent bool         `json:"email_sent"`
		Token     string       `json:"token"`
	}
	decode(t, w, &inv)
	assert.False(t, inv.EmailSent)
	require.NotEmpty(t, inv.Token)
	assert.Equal(t, "new.person@example.com", inv.Invite.Email)

	w = app.do(http.MethodPost, "/api/invites/accept", "", gin.H{"token": inv.Token, "name": "New", "password": "s3cretpass"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = app.do(http.MethodPost, "/api/admin/deletions", adminToken, gin.H{"user_ids": []string{admin.ID, target.ID}, "reason": "left company"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var bulk service.BulkDeletionResult
	env := decode(t, w, &bulk)
	assert.Equal(t, 1, bulk.Created)
	assert.True(t, bulk.SkippedSelf)
	assert.Equal(t, "1 created, 1 skipped (self)", env.Message)

	w = app.do(http.MethodPost, "/api/admin/deletions/"+bulk.Requests[0].ID+"/cancel", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestDashboardAuditAndExport(t *testing.T) {
	app := newTestApp(t)
	_, admin := app.user("admin@example.com", model.RoleAdmin)
	_, viewer := app.user("viewer@example.com", model.RoleViewer)

	w := app.do(http.MethodGet, "/api/admin/health?refresh=1", viewer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var snap service.HealthSnapshot
	decode(t, w, &snap)
	assert.Equal(t, 24, snap.WindowHours)

	w = app.do(http.MethodGet, "/api/admin/dashboard", admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "analysis_queue")

	generateKey(t, app, admin, lifecycle.ScopeWebhookSubscribe)
	require.Eventually(t, func() bool {
		var n int64
		app.db.Model(&model.AuditLog{}).Where("resource = ?", model.ResourceApiKey).Count(&n)
		return n == 1
	}, 2*time.Second, 20*time.Millisecond)

	w = app.do(http.MethodGet, "/api/admin/audit?resource=api_key", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":1`)
	assert.Equal(t, http.StatusForbidden, app.do(http.MethodGet, "/api/admin/audit", viewer, nil).Code)

	w = app.do(http.MethodGet, "/api/admin/export/audit-logs", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), model.ResourceApiKey)
}
