package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"integration-console/internal/config"
	"integration-console/internal/model"
	"integration-console/internal/pkg/crypto"
	"integration-console/internal/pkg/utils"
	"integration-console/pkg/lifecycle"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	purposeClientSecret = "client_secret"
	purposeOAuthToken   = "oauth_token"

	callbackPath = "/api/oauth/callback"
)

// OAuthService 负责授权地址生成与服务端回调处理
type OAuthService struct {
	db         *gorm.DB
	vault      *crypto.Vault
	states     StateStore
	metrics    *Metrics
	httpClient *http.Client

	callbackBaseURL string
	consoleURL      string
	stateTTL        time.Duration
}

// NewOAuthService 创建 OAuth 服务
func NewOAuthService(db *gorm.DB, vault *crypto.Vault, states StateStore, metrics *Metrics, cfg *config.Config) *OAuthService {
	return &OAuthService{
		db:              db,
		vault:           vault,
		states:          states,
		metrics:         metrics,
		httpClient:      &http.Client{Timeout: 15 * time.Second},
		callbackBaseURL: strings.TrimRight(cfg.OAuth.CallbackBaseURL, "/"),
		consoleURL:      strings.TrimRight(cfg.Server.ConsoleURL, "/"),
		stateTTL:        time.Duration(cfg.OAuth.StateTTLMinutes) * time.Minute,
	}
}

// WithHTTPClient 替换访问令牌端点使用的 HTTP 客户端
func (s *OAuthService) WithHTTPClient(c *http.Client) *OAuthService {
	s.httpClient = c
	return s
}

// ConfigureAppInput 管理员配置系统级 OAuth 应用
type ConfigureAppInput struct {
	Enabled      *bool    `json:"enabled"`
	ClientID     *string  `json:"client_id"`
	ClientSecret *string  `json:"client_secret"`
	AuthURL      *string  `json:"auth_url"`
	TokenURL     *string  `json:"token_url"`
	RevokeURL    *string  `json:"revoke_url"`
	Scopes       []string `json:"scopes"`
}

// ConfigureApp 新建或更新系统级应用，客户端密钥只写不读
func (s *OAuthService) ConfigureApp(ctx context.Context, integrationID string, in ConfigureAppInput, updatedBy string) (*model.IntegrationApp, error) {
	def, ok := model.FindIntegration(integrationID)
	if !ok {
		return nil, lifecycle.Validation("integration_id", "未知的集成: "+integrationID)
	}
	if def.AuthType != model.AuthOAuth2 {
		return nil, lifecycle.Validation("integration_id", def.Name+" 不使用 OAuth 授权")
	}

	for field, v := range map[string]*string{"auth_url": in.AuthURL, "token_url": in.TokenURL, "revoke_url": in.RevokeURL} {
		if v != nil && *v != "" {
			if u, err := url.Parse(*v); err != nil || u.Scheme == "" || u.Host == "" {
				return nil, lifecycle.Validation(field, field+" 格式错误")
			}
		}
	}

	var app model.IntegrationApp
	err := s.db.WithContext(ctx).Where("integration_id = ?", integrationID).First(&app).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	isNew := app.ID == ""
	if isNew {
		app.ID = uuid.NewString()
		app.IntegrationID = integrationID
	}

	if in.Enabled != nil {
		app.Enabled = *in.Enabled
	}
	if in.ClientID != nil {
		app.ClientID = strings.TrimSpace(*in.ClientID)
	}
	if in.ClientSecret != nil {
		sealed, err := s.vault.Seal(app.ID, purposeClientSecret, []byte(*in.ClientSecret))
		if err != nil {
			return nil, err
		}
		app.ClientSecretEncrypted = sealed
	}
	if in.AuthURL != nil {
		app.AuthURL = *in.AuthURL
	}
	if in.TokenURL != nil {
		app.TokenURL = *in.TokenURL
	}
	if in.RevokeURL != nil {
		app.RevokeURL = *in.RevokeURL
	}
	if in.Scopes != nil {
		app.Scopes = datatypes.JSONSlice[string](in.Scopes)
	}
	app.UpdatedBy = updatedBy

	db := s.db.WithContext(ctx)
	if isNew {
		err = db.Create(&app).Error
	} else {
		err = db.Save(&app).Error
	}
	if err != nil {
		return nil, err
	}
	return &app, nil
}

// SeedApps 启动时根据配置文件写入系统级应用（已存在则跳过）
func (s *OAuthService) SeedApps(ctx context.Context, items []config.IntegrationConfig) error {
	for _, item := range items {
		var count int64
		s.db.WithContext(ctx).Model(&model.IntegrationApp{}).Where("integration_id = ?", item.ID).Count(&count)
		if count > 0 {
			continue
		}
		enabled := item.Enabled
		_, err := s.ConfigureApp(ctx, item.ID, ConfigureAppInput{
			Enabled:      &enabled,
			ClientID:     &item.ClientID,
			ClientSecret: &item.ClientSecret,
			AuthURL:      &item.AuthURL,
			TokenURL:     &item.TokenURL,
			RevokeURL:    &item.RevokeURL,
			Scopes:       item.Scopes,
		}, "system")
		if err != nil {
			return err
		}
		zap.L().Info("已写入集成应用配置", zap.String("integration", item.ID))
	}
	return nil
}

// ListApps 列出系统级应用
func (s *OAuthService) ListApps(ctx context.Context) ([]model.IntegrationApp, error) {
	var apps []model.IntegrationApp
	err := s.db.WithContext(ctx).Order("integration_id").Find(&apps).Error
	return apps, err
}

// loadApp 查找已启用且配置完整的应用
func (s *OAuthService) loadApp(ctx context.Context, integrationID string) (*model.IntegrationApp, error) {
	var app model.IntegrationApp
	if err := s.db.WithContext(ctx).Where("integration_id = ?", integrationID).First(&app).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, lifecycle.ErrIntegrationDisabled
		}
		return nil, err
	}
	if !app.Configured() {
		return nil, lifecycle.ErrIntegrationDisabled
	}
	return &app, nil
}

// oauthConfig 组装 oauth2 配置
func (s *OAuthService) oauthConfig(app *model.IntegrationApp) (*oauth2.Config, error) {
	var secret string
	if app.ClientSecretEncrypted != "" {
		plain, err := s.vault.Open(app.ID, purposeClientSecret, app.ClientSecretEncrypted)
		if err != nil {
			return nil, lifecycle.Backend("无法解密客户端密钥", err)
		}
		secret = string(plain)
	}
	return &oauth2.Config{
		ClientID:     app.ClientID,
		ClientSecret: secret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  app.AuthURL,
			TokenURL: app.TokenURL,
		},
		RedirectURL: s.callbackBaseURL + callbackPath,
		Scopes:      app.Scopes,
	}, nil
}

func (s *OAuthService) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
}

// ConnectRequest integration-connect 请求
type ConnectRequest struct {
	IntegrationID string `json:"integration_id"`
	RedirectURL   string `json:"redirect_url"`
	Label         string `json:"label"`
	// 重新授权已有连接时传入
	ConnectionID string `json:"connection_id"`
}

// ConnectResult integration-connect 响应
type ConnectResult struct {
	AuthURL string `json:"auth_url"`
	State   string `json:"state"`
}

// Connect 生成授权地址；不自动重试
func (s *OAuthService) Connect(ctx context.Context, userID string, req ConnectRequest) (res *ConnectResult, err error) {
	defer func() {
		label := req.IntegrationID
		if _, ok := model.FindIntegration(label); !ok {
			label = "unknown"
		}
		s.metrics.OAuthInitiations.WithLabelValues(label, outcomeLabel(err)).Inc()
	}()

	if req.IntegrationID == "" {
		return nil, lifecycle.Validation("integration_id", "integration_id 不能为空")
	}
	if _, ok := model.FindIntegration(req.IntegrationID); !ok {
		return nil, lifecycle.Validation("integration_id", "未知的集成: "+req.IntegrationID)
	}
	if err := s.checkRedirect(req.RedirectURL); err != nil {
		return nil, err
	}
	if req.ConnectionID != "" {
		var conn model.IntegrationConnection
		if err := s.db.WithContext(ctx).First(&conn, "id = ? AND user_id = ?", req.ConnectionID, userID).Error; err != nil {
			return nil, lifecycle.NotFound("连接不存在")
		}
	}

	app, err := s.loadApp(ctx, req.IntegrationID)
	if err != nil {
		return nil, err
	}
	oc, err := s.oauthConfig(app)
	if err != nil {
		return nil, err
	}

	state := utils.GenerateOAuthState()
	authURL := oc.AuthCodeURL(state, oauth2.AccessTypeOffline)
	if authURL == "" || app.AuthURL == "" {
		return nil, lifecycle.ErrNoAuthURL
	}

	if err := s.states.Save(ctx, state, OAuthState{
		UserID:        userID,
		IntegrationID: req.IntegrationID,
		RedirectURL:   req.RedirectURL,
		ConnectionID:  req.ConnectionID,
		Label:         req.Label,
		CreatedAt:     time.Now(),
	}, s.stateTTL); err != nil {
		return nil, err
	}

	return &ConnectResult{AuthURL: authURL, State: state}, nil
}

// checkRedirect 回跳地址只允许指向控制台，防止开放重定向
func (s *OAuthService) checkRedirect(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return lifecycle.Validation("redirect_url", "redirect_url 格式错误")
	}
	if s.consoleURL != "" {
		console, err := url.Parse(s.consoleURL)
		if err == nil && console.Host != u.Host {
			return lifecycle.Validation("redirect_url", "redirect_url 必须指向控制台")
		}
	}
	return nil
}

// CallbackResult 回调处理结果
type CallbackResult struct {
	RedirectURL string
	Connection  *model.IntegrationConnection
}

// Callback 处理第三方回调：校验 state、交换 code、加密保存令牌
func (s *OAuthService) Callback(ctx context.Context, stateKey, code, providerError string) (*CallbackResult, error) {
	if stateKey == "" {
		return nil, lifecycle.Validation("state", "缺少 state 参数")
	}
	st, err := s.states.Take(ctx, stateKey)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, lifecycle.Validation("state", "授权状态无效或已过期，请重新发起连接")
	}

	outcome := lifecycle.OutcomeSucceeded
	var lastError string
	var token *oauth2.Token

	switch {
	case providerError != "":
		outcome, lastError = lifecycle.OutcomeFailed, "授权被拒绝: "+providerError
	case code == "":
		outcome, lastError = lifecycle.OutcomeFailed, "回调缺少授权码"
	default:
		app, err := s.loadApp(ctx, st.IntegrationID)
		if err != nil {
			return nil, err
		}
		oc, err := s.oauthConfig(app)
		if err != nil {
			return nil, err
		}
		token, err = oc.Exchange(s.clientContext(ctx), code)
		if err != nil {
			outcome, lastError = lifecycle.OutcomeFailed, err.Error()
			zap.L().Warn("授权码交换失败", zap.String("integration", st.IntegrationID), zap.Error(err))
		}
	}

	conn, err := s.storeConnection(ctx, st, token, outcome, lastError)
	if err != nil {
		return nil, err
	}
	s.metrics.OAuthCallbacks.WithLabelValues(st.IntegrationID, string(outcome)).Inc()

	return &CallbackResult{
		RedirectURL: s.redirectTarget(st, conn),
		Connection:  conn,
	}, nil
}

// storeConnection 新建或更新连接，状态由结果推导
func (s *OAuthService) storeConnection(ctx context.Context, st *OAuthState, token *oauth2.Token, outcome lifecycle.Outcome, lastError string) (*model.IntegrationConnection, error) {
	var conn model.IntegrationConnection
	isNew := st.ConnectionID == ""
	if !isNew {
		if err := s.db.WithContext(ctx).First(&conn, "id = ?", st.ConnectionID).Error; err != nil {
			return nil, err
		}
	} else {
		conn = model.IntegrationConnection{
			Record:        model.Record{ID: uuid.NewString()},
			IntegrationID: st.IntegrationID,
			UserID:        st.UserID,
			Label:         st.Label,
			Configuration: datatypes.JSONMap{},
			Enabled:       true,
		}
		if conn.Label == "" {
			def, _ := model.FindIntegration(st.IntegrationID)
			conn.Label = def.Name
		}
	}

	now := time.Now()
	conn.Status = lifecycle.DeriveStatus(outcome)
	conn.LastOutcome = outcome
	if outcome == lifecycle.OutcomeSucceeded {
		raw, err := json.Marshal(token)
		if err != nil {
			return nil, err
		}
		sealed, err := s.vault.Seal(conn.ID, purposeOAuthToken, raw)
		if err != nil {
			return nil, err
		}
		conn.CredentialsEncrypted = sealed
		conn.LastError = ""
		conn.ErrorCount = 0
		conn.LastSyncAt = &now
	} else {
		conn.LastError = lastError
		conn.ErrorCount++
	}

	db := s.db.WithContext(ctx)
	var err error
	if isNew {
		err = db.Create(&conn).Error
	} else {
		err = db.Save(&conn).Error
	}
	if err != nil {
		return nil, err
	}
	return &conn, nil
}

func (s *OAuthService) redirectTarget(st *OAuthState, conn *model.IntegrationConnection) string {
	target := st.RedirectURL
	if target == "" {
		target = s.consoleURL + "/integrations"
	}
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	q := u.Query()
	q.Set("integration", st.IntegrationID)
	q.Set("status", string(conn.Status))
	q.Set("connection_id", conn.ID)
	u.RawQuery = q.Encode()
	return u.String()
}

// Token 解密连接上保存的令牌
func (s *OAuthService) Token(conn *model.IntegrationConnection) (*oauth2.Token, error) {
	plain, err := s.vault.Open(conn.ID, purposeOAuthToken, conn.CredentialsEncrypted)
	if err != nil {
		return nil, lifecycle.Backend("无法解密连接凭证", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(plain, &tok); err != nil {
		return nil, lifecycle.Backend("连接凭证已损坏", err)
	}
	return &tok, nil
}

// RefreshToken 通过 TokenSource 获取有效令牌（必要时刷新），刷新后重新加密保存
func (s *OAuthService) RefreshToken(ctx context.Context, conn *model.IntegrationConnection) (*oauth2.Token, error) {
	app, err := s.loadApp(ctx, conn.IntegrationID)
	if err != nil {
		return nil, err
	}
	oc, err := s.oauthConfig(app)
	if err != nil {
		return nil, err
	}
	tok, err := s.Token(conn)
	if err != nil {
		return nil, err
	}

	fresh, err := oc.TokenSource(s.clientContext(ctx), tok).Token()
	if err != nil {
		return nil, err
	}
	if fresh.AccessToken != tok.AccessToken {
		raw, err := json.Marshal(fresh)
		if err != nil {
			return nil, err
		}
		sealed, err := s.vault.Seal(conn.ID, purposeOAuthToken, raw)
		if err != nil {
			return nil, err
		}
		if err := s.db.WithContext(ctx).Model(conn).Update("credentials_encrypted", sealed).Error; err != nil {
			return nil, err
		}
		conn.CredentialsEncrypted = sealed
	}
	return fresh, nil
}

// RevocationCredentials 撤销上游令牌需要的应用信息
func (s *OAuthService) RevocationCredentials(ctx context.Context, integrationID string) (revokeURL, clientID, clientSecret string, err error) {
	var app model.IntegrationApp
	if err := s.db.WithContext(ctx).Where("integration_id = ?", integrationID).First(&app).Error; err != nil {
		return "", "", "", err
	}
	oc, err := s.oauthConfig(&app)
	if err != nil {
		return "", "", "", err
	}
	return app.RevokeURL, oc.ClientID, oc.ClientSecret, nil
}
