package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"integration-console/internal/model"
	"integration-console/pkg/lifecycle"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateApiKey(t *testing.T) {
	db := newTestDB(t)
	metrics := NewMetrics()
	svc := NewApiKeyService(db, metrics)
	ctx := context.Background()
	user := seedUser(t, db, "ops@example.com", model.RoleOperator)

	res, err := svc.Generate(ctx, user.ID, GenerateApiKeyInput{Name: "  Zapier  ", Scopes: bridgeScopes})
	require.NoError(t, err)
	assert.True(t, res.AcknowledgementRequired)
	assert.True(t, strings.HasPrefix(res.Secret, "zk_"))
	assert.Len(t, res.Secret, 67)
	assert.Equal(t, "Zapier", res.Key.Name)
	assert.ElementsMatch(t, []string{lifecycle.ScopeWebhookSubscribe, lifecycle.ScopeAnalysesRead}, []string(res.Key.Scopes))

	var stored model.ApiKey
	require.NoError(t, db.First(&stored, "id = ?", res.Key.ID).Error)
	assert.NotEqual(t, res.Secret, stored.KeyHash)
	assert.NotContains(t, stored.KeyHash, res.Secret)

	views, err := svc.List(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, res.Secret[:11]+"********"+res.Secret[len(res.Secret)-4:], views[0].Preview)
	assert.False(t, views[0].Expired)
}

func TestGenerateApiKeyValidation(t *testing.T) {
	db := newTestDB(t)
	svc := NewApiKeyService(db, NewMetrics())
	ctx := context.Background()

	_, err := svc.Generate(ctx, "u1", GenerateApiKeyInput{Name: "   "})
	assert.Equal(t, lifecycle.KindValidation, lifecycle.KindOf(err))

	_, err = svc.Generate(ctx, "u1", GenerateApiKeyInput{Name: "k", Scopes: []string{"admin:all"}})
	assert.Equal(t, lifecycle.KindValidation, lifecycle.KindOf(err))

	for _, scopes := range [][]string{nil, {}} {
		_, err = svc.Generate(ctx, "u1", GenerateApiKeyInput{Name: "k", Scopes: scopes})
		require.Error(t, err)
		e, ok := lifecycle.AsError(err)
		require.True(t, ok)
		assert.Equal(t, "scopes", e.Field)
	}
	var count int64
	require.NoError(t, db.Model(&model.ApiKey{}).Count(&count).Error)
	assert.Zero(t, count)

	_, err = svc.Generate(ctx, "u1", GenerateApiKeyInput{Name: "k", Scopes: bridgeScopes, ExpiresIn: -1})
	assert.Equal(t, lifecycle.KindValidation, lifecycle.KindOf(err))
}

func TestAuthenticateApiKey(t *testing.T) {
	db := newTestDB(t)
	metrics := NewMetrics()
	svc := NewApiKeyService(db, metrics)
	ctx := context.Background()

	res, err := svc.Generate(ctx, "u1", GenerateApiKeyInput{Name: "bridge", Scopes: bridgeScopes})
	require.NoError(t, err)

	key, err := svc.Authenticate(ctx, res.Secret)
	require.NoError(t, err)
	assert.Equal(t, res.Key.ID, key.ID)

	_, err = svc.Authenticate(ctx, res.Secret)
	require.NoError(t, err)

	var stored model.ApiKey
	require.NoError(t, db.First(&stored, "id = ?", res.Key.ID).Error)
	assert.Equal(t, int64(2), stored.UsageCount)
	assert.NotNil(t, stored.LastUsedAt)

	_, err = svc.Authenticate(ctx, "zk_"+strings.Repeat("0", 64))
	assert.True(t, errors.Is(err, lifecycle.ErrNoValidApiKey))

	_, err = svc.Authenticate(ctx, "not-a-key")
	assert.True(t, errors.Is(err, lifecycle.ErrNoValidApiKey))

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.ApiKeyAuth.WithLabelValues("ok")))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.ApiKeyAuth.WithLabelValues("error")))
}

func TestRevokeApiKey(t *testing.T) {
	db := newTestDB(t)
	svc := NewApiKeyService(db, NewMetrics())
	ctx := context.Background()

	res, err := svc.Generate(ctx, "u1", GenerateApiKeyInput{Name: "bridge", Scopes: bridgeScopes})
	require.NoError(t, err)

	_, err = svc.Revoke(ctx, res.Key.ID, false)
	assert.True(t, errors.Is(err, lifecycle.ErrConfirmationRequired))

	revoked, err := svc.Revoke(ctx, res.Key.ID, true)
	require.NoError(t, err)
	assert.False(t, revoked.IsActive)
	assert.NotNil(t, revoked.RevokedAt)

	_, err = svc.Authenticate(ctx, res.Secret)
	assert.True(t, errors.Is(err, lifecycle.ErrNoValidApiKey))

	_, err = svc.RequireScope(ctx, res.Key.ID, lifecycle.ScopeWebhookSubscribe)
	assert.True(t, errors.Is(err, lifecycle.ErrNoValidApiKey))

	ok, err := svc.HasUsableKey(ctx, "u1", "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRequireScope(t *testing.T) {
	db := newTestDB(t)
	svc := NewApiKeyService(db, NewMetrics())
	ctx := context.Background()

	res, err := svc.Generate(ctx, "u1", GenerateApiKeyInput{Name: "read only", Scopes: []string{lifecycle.ScopeAnalysesRead}})
	require.NoError(t, err)

	_, err = svc.RequireScope(ctx, res.Key.ID, lifecycle.ScopeWebhookSubscribe)
	assert.True(t, errors.Is(err, lifecycle.ErrNoValidApiKey))

	key, err := svc.RequireScope(ctx, res.Key.ID, lifecycle.ScopeAnalysesRead)
	require.NoError(t, err)
	assert.Equal(t, res.Key.ID, key.ID)

	_, err = svc.RequireScope(ctx, "00000000-0000-0000-0000-000000000000", lifecycle.ScopeAnalysesRead)
	assert.True(t, errors.Is(err, lifecycle.ErrNoValidApiKey))
}
