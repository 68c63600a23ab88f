package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"integration-console/internal/config"
	"integration-console/internal/model"
	"integration-console/internal/pkg/crypto"
	"integration-console/pkg/lifecycle"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fakeProvider 模拟第三方授权服务器的 token 与 revoke 端点
type fakeProvider struct {
	server *httptest.Server

	mu      sync.Mutex
	revokes []url.Values
	user    string
}

func newFakeProvider(t *testing.T) *fakeProvider {
	p := &fakeProvider{}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.Form.Get("code") == "bad-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-1","refresh_token":"rt-1","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/revoke", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		user, _, _ := r.BasicAuth()
		p.mu.Lock()
		p.revokes = append(p.revokes, r.PostForm)
		p.user = user
		p.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

type oauthFixture struct {
	db       *gorm.DB
	cfg      *config.Config
	metrics  *Metrics
	oauth    *OAuthService
	conns    *ConnectionService
	keys     *ApiKeyService
	provider *fakeProvider
}

func newOAuthFixture(t *testing.T) *oauthFixture {
	db := newTestDB(t)
	cfg := newTestConfig()
	cfg.OAuth.CallbackBaseURL = "https://console.example.com"
	cfg.Server.ConsoleURL = "https://console.example.com"
	metrics := NewMetrics()
	vault, err := crypto.NewVault(cfg.Vault.MasterKey)
	require.NoError(t, err)

	provider := newFakeProvider(t)
	oauth := NewOAuthService(db, vault, NewMemoryStateStore(), metrics, cfg).
		WithHTTPClient(provider.server.Client())

	return &oauthFixture{
		db:       db,
		cfg:      cfg,
		metrics:  metrics,
		oauth:    oauth,
		conns:    NewConnectionService(db, oauth, resty.New()),
		keys:     NewApiKeyService(db, metrics),
		provider: provider,
	}
}

func (f *oauthFixture) configureZoom(t *testing.T) {
	enabled := true
	clientID, secret := "client-1", "secret-1"
	authURL := f.provider.server.URL + "/authorize"
	tokenURL := f.provider.server.URL + "/token"
	revokeURL := f.provider.server.URL + "/revoke"
	app, err := f.oauth.ConfigureApp(context.Background(), "zoom", ConfigureAppInput{
		Enabled:      &enabled,
		ClientID:     &clientID,
		ClientSecret: &secret,
		AuthURL:      &authURL,
		TokenURL:     &tokenURL,
		RevokeURL:    &revokeURL,
		Scopes:       []string{"recording:read"},
	}, "admin")
	require.NoError(t, err)
	assert.NotEqual(t, secret, app.ClientSecretEncrypted)
}

// connect 走完整的授权流程，返回新建的连接
func (f *oauthFixture) connect(t *testing.T, userID string) *model.IntegrationConnection {
	ctx := context.Background()
	res, err := f.oauth.Connect(ctx, userID, ConnectRequest{IntegrationID: "zoom"})
	require.NoError(t, err)
	cb, err := f.oauth.Callback(ctx, res.State, "good-code", "")
	require.NoError(t, err)
	return cb.Connection
}

func TestConnectRequiresConfiguredApp(t *testing.T) {
	f := newOAuthFixture(t)
	ctx := context.Background()

	_, err := f.oauth.Connect(ctx, "u1", ConnectRequest{IntegrationID: "zoom"})
	assert.True(t, errors.Is(err, lifecycle.ErrIntegrationDisabled))

	_, err = f.oauth.Connect(ctx, "u1", ConnectRequest{IntegrationID: "myspace"})
	assert.Equal(t, lifecycle.KindValidation, lifecycle.KindOf(err))

	_, err = f.oauth.Connect(ctx, "u1", ConnectRequest{})
	assert.Equal(t, lifecycle.KindValidation, lifecycle.KindOf(err))

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.OAuthInitiations.WithLabelValues("zoom", "error")))
	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.OAuthInitiations.WithLabelValues("unknown", "error")))
}

func TestConfigureAppRejectsNonOAuthIntegration(t *testing.T) {
	f := newOAuthFixture(t)
	_, err := f.oauth.ConfigureApp(context.Background(), "zapier", ConfigureAppInput{}, "admin")
	assert.Equal(t, lifecycle.KindValidation, lifecycle.KindOf(err))

	bad := "not a url"
	_, err = f.oauth.ConfigureApp(context.Background(), "zoom", ConfigureAppInput{AuthURL: &bad}, "admin")
	e, ok := lifecycle.AsError(err)
	require.True(t, ok)
	assert.Equal(t, "auth_url", e.Field)
}

func TestConnectAndCallback(t *testing.T) {
	f := newOAuthFixture(t)
	f.configureZoom(t)
	ctx := context.Background()

	res, err := f.oauth.Connect(ctx, "u1", ConnectRequest{IntegrationID: "zoom", Label: "Sales Zoom"})
	require.NoError(t, err)
	require.NotEmpty(t, res.State)

	authURL, err := url.Parse(res.AuthURL)
	require.NoError(t, err)
	q := authURL.Query()
	assert.Equal(t, res.State, q.Get("state"))
	assert.Equal(t, "client-1", q.Get("client_id"))
	assert.Equal(t, "https://console.example.com/api/oauth/callback", q.Get("redirect_uri"))

	cb, err := f.oauth.Callback(ctx, res.State, "good-code", "")
	require.NoError(t, err)
	conn := cb.Connection
	assert.Equal(t, lifecycle.StatusActive, conn.Status)
	assert.Equal(t, "Sales Zoom", conn.Label)
	assert.True(t, conn.Enabled)
	assert.NotNil(t, conn.LastSyncAt)
	assert.NotContains(t, conn.CredentialsEncrypted, "at-1")

	redirect, err := url.Parse(cb.RedirectURL)
	require.NoError(t, err)
	assert.Equal(t, "console.example.com", redirect.Host)
	assert.Equal(t, "/integrations", redirect.Path)
	assert.Equal(t, "active", redirect.Query().Get("status"))
	assert.Equal(t, conn.ID, redirect.Query().Get("connection_id"))

	tok, err := f.oauth.Token(conn)
	require.NoError(t, err)
	assert.Equal(t, "at-1", tok.AccessToken)
	assert.Equal(t, "rt-1", tok.RefreshToken)

	// state 只能使用一次
	_, err = f.oauth.Callback(ctx, res.State, "good-code", "")
	assert.Equal(t, lifecycle.KindValidation, lifecycle.KindOf(err))

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.OAuthCallbacks.WithLabelValues("zoom", "succeeded")))
}

func TestCallbackProviderError(t *testing.T) {
	f := newOAuthFixture(t)
	f.configureZoom(t)
	ctx := context.Background()

	res, err := f.oauth.Connect(ctx, "u1", ConnectRequest{IntegrationID: "zoom"})
	require.NoError(t, err)
	cb, err := f.oauth.Callback(ctx, res.State, "", "access_denied")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusError, cb.Connection.Status)
	assert.Contains(t, cb.Connection.LastError, "access_denied")
	assert.Equal(t, 1, cb.Connection.ErrorCount)
	assert.False(t, cb.Connection.HasCredentials())
	assert.Equal(t, "Zoom", cb.Connection.Label)

	res, err = f.oauth.Connect(ctx, "u1", ConnectRequest{IntegrationID: "zoom"})
	require.NoError(t, err)
	cb, err = f.oauth.Callback(ctx, res.State, "bad-code", "")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusError, cb.Connection.Status)
}

func TestReauthorizeExistingConnection(t *testing.T) {
	f := newOAuthFixture(t)
	f.configureZoom(t)
	ctx := context.Background()

	res, err := f.oauth.Connect(ctx, "u1", ConnectRequest{IntegrationID: "zoom"})
	require.NoError(t, err)
	failed, err := f.oauth.Callback(ctx, res.State, "", "access_denied")
	require.NoError(t, err)

	res, err = f.oauth.Connect(ctx, "u1", ConnectRequest{IntegrationID: "zoom", ConnectionID: failed.Connection.ID})
	require.NoError(t, err)
	cb, err := f.oauth.Callback(ctx, res.State, "good-code", "")
	require.NoError(t, err)
	assert.Equal(t, failed.Connection.ID, cb.Connection.ID)
	assert.Equal(t, lifecycle.StatusActive, cb.Connection.Status)
	assert.Equal(t, 0, cb.Connection.ErrorCount)

	conns, err := f.conns.List(ctx, ConnectionFilter{UserID: "u1"})
	require.NoError(t, err)
	assert.Len(t, conns, 1)

	// 其他用户的连接不能被重新授权
	_, err = f.oauth.Connect(ctx, "u2", ConnectRequest{IntegrationID: "zoom", ConnectionID: failed.Connection.ID})
	assert.Equal(t, lifecycle.KindNotFound, lifecycle.KindOf(err))
}

func TestConnectRejectsForeignRedirect(t *testing.T) {
	f := newOAuthFixture(t)
	f.configureZoom(t)
	ctx := context.Background()

	_, err := f.oauth.Connect(ctx, "u1", ConnectRequest{IntegrationID: "zoom", RedirectURL: "https://evil.example.org/steal"})
	e, ok := lifecycle.AsError(err)
	require.True(t, ok)
	assert.Equal(t, "redirect_url", e.Field)

	res, err := f.oauth.Connect(ctx, "u1", ConnectRequest{IntegrationID: "zoom", RedirectURL: "https://console.example.com/settings?tab=integrations"})
	require.NoError(t, err)
	cb, err := f.oauth.Callback(ctx, res.State, "good-code", "")
	require.NoError(t, err)
	redirect, err := url.Parse(cb.RedirectURL)
	require.NoError(t, err)
	assert.Equal(t, "/settings", redirect.Path)
	assert.Equal(t, "integrations", redirect.Query().Get("tab"))
	assert.Equal(t, "zoom", redirect.Query().Get("integration"))
}

func TestSyncAndDisconnectOAuthConnection(t *testing.T) {
	f := newOAuthFixture(t)
	f.configureZoom(t)
	ctx := context.Background()
	conn := f.connect(t, "u1")

	res, err := f.conns.Sync(ctx, conn.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusActive, res.Status)
	assert.Equal(t, 0, res.ErrorCount)
	assert.NotNil(t, res.LastSyncAt)

	_, err = f.conns.Disconnect(ctx, conn.ID, false)
	assert.True(t, errors.Is(err, lifecycle.ErrConfirmationRequired))
	_, err = f.conns.Get(ctx, conn.ID)
	require.NoError(t, err)

	out, err := f.conns.Disconnect(ctx, conn.ID, true)
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.True(t, out.UpstreamRevoked)
	assert.Empty(t, out.RevokeError)

	f.provider.mu.Lock()
	require.Len(t, f.provider.revokes, 1)
	assert.Equal(t, "rt-1", f.provider.revokes[0].Get("token"))
	assert.Equal(t, "refresh_token", f.provider.revokes[0].Get("token_type_hint"))
	assert.Equal(t, "client-1", f.provider.user)
	f.provider.mu.Unlock()

	_, err = f.conns.Get(ctx, conn.ID)
	assert.Equal(t, lifecycle.KindNotFound, lifecycle.KindOf(err))
}

func TestDisconnectSurvivesRevokeFailure(t *testing.T) {
	f := newOAuthFixture(t)
	f.configureZoom(t)
	ctx := context.Background()
	conn := f.connect(t, "u1")

	broken := f.provider.server.URL + "/missing"
	_, err := f.oauth.ConfigureApp(ctx, "zoom", ConfigureAppInput{RevokeURL: &broken}, "admin")
	require.NoError(t, err)

	out, err := f.conns.Disconnect(ctx, conn.ID, true)
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.False(t, out.UpstreamRevoked)
	assert.Contains(t, out.RevokeError, "404")

	_, err = f.conns.Get(ctx, conn.ID)
	assert.Equal(t, lifecycle.KindNotFound, lifecycle.KindOf(err))
}

func TestSyncApiKeyConnection(t *testing.T) {
	f := newOAuthFixture(t)
	ctx := context.Background()

	conn := &model.IntegrationConnection{
		Record:        model.Record{ID: uuid.NewString()},
		IntegrationID: "zapier",
		UserID:        "u1",
		Label:         "Zapier",
		Enabled:       true,
		Status:        lifecycle.StatusPending,
	}
	require.NoError(t, f.db.Create(conn).Error)

	res, err := f.conns.Sync(ctx, conn.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusError, res.Status)
	assert.Equal(t, 1, res.ErrorCount)
	assert.NotEmpty(t, res.LastError)

	_, err = f.keys.Generate(ctx, "u1", GenerateApiKeyInput{Name: "zapier", Scopes: bridgeScopes})
	require.NoError(t, err)

	res, err = f.conns.Sync(ctx, conn.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusActive, res.Status)
	assert.Equal(t, 0, res.ErrorCount)
	assert.Empty(t, res.LastError)
}

func TestToggleConnection(t *testing.T) {
	f := newOAuthFixture(t)
	f.configureZoom(t)
	ctx := context.Background()
	conn := f.connect(t, "u1")

	disabled := false
	updated, err := f.conns.UpdateConfiguration(ctx, conn.ID, UpdateConfigInput{Enabled: &disabled})
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusInactive, updated.Status)
	assert.False(t, updated.Enabled)

	_, err = f.conns.Sync(ctx, conn.ID)
	assert.Equal(t, lifecycle.KindConflict, lifecycle.KindOf(err))

	enabled := true
	updated, err = f.conns.UpdateConfiguration(ctx, conn.ID, UpdateConfigInput{Enabled: &enabled})
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusActive, updated.Status)
}

func TestUpdateConfigurationMerges(t *testing.T) {
	f := newOAuthFixture(t)
	f.configureZoom(t)
	ctx := context.Background()
	conn := f.connect(t, "u1")

	label := "Renamed"
	_, err := f.conns.UpdateConfiguration(ctx, conn.ID, UpdateConfigInput{
		Label:         &label,
		Configuration: map[string]interface{}{"sync_recordings": true, "folder": "calls"},
	})
	require.NoError(t, err)

	updated, err := f.conns.UpdateConfiguration(ctx, conn.ID, UpdateConfigInput{
		Configuration: map[string]interface{}{"folder": nil, "min_duration": 5},
	})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Label)
	assert.Equal(t, true, updated.Configuration["sync_recordings"])
	assert.NotContains(t, updated.Configuration, "folder")
	assert.Contains(t, updated.Configuration, "min_duration")
	assert.Equal(t, lifecycle.StatusActive, updated.Status)
}

func TestRecordOutcome(t *testing.T) {
	f := newOAuthFixture(t)
	f.configureZoom(t)
	ctx := context.Background()
	conn := f.connect(t, "u1")

	updated, err := f.conns.RecordOutcome(ctx, conn.ID, lifecycle.OutcomeFailed, "rate limited")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusError, updated.Status)
	updated, err = f.conns.RecordOutcome(ctx, conn.ID, lifecycle.OutcomeFailed, "rate limited")
	require.NoError(t, err)
	assert.Equal(t, 2, updated.ErrorCount)

	updated, err = f.conns.RecordOutcome(ctx, conn.ID, lifecycle.OutcomeSucceeded, "")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusActive, updated.Status)
	assert.Equal(t, 0, updated.ErrorCount)
	assert.Empty(t, updated.LastError)

	_, err = f.conns.RecordOutcome(ctx, uuid.NewString(), lifecycle.OutcomeSucceeded, "")
	assert.Equal(t, lifecycle.KindNotFound, lifecycle.KindOf(err))
}

func TestAdminDeleteConnection(t *testing.T) {
	f := newOAuthFixture(t)
	f.configureZoom(t)
	ctx := context.Background()
	conn := f.connect(t, "u1")

	assert.True(t, errors.Is(f.conns.Delete(ctx, conn.ID, false), lifecycle.ErrConfirmationRequired))
	require.NoError(t, f.conns.Delete(ctx, conn.ID, true))
	assert.Equal(t, lifecycle.KindNotFound, lifecycle.KindOf(f.conns.Delete(ctx, conn.ID, true)))

	f.provider.mu.Lock()
	assert.Empty(t, f.provider.revokes)
	f.provider.mu.Unlock()
}
