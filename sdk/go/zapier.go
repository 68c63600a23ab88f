package console

import (
	"context"
	"net/http"
	"strings"
	"time"

	"integration-console/pkg/lifecycle"
)

// ApiKey Zapier 桥接使用的 API Key（不含明文）
type ApiKey struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	KeyPrefix  string     `json:"key_prefix"`
	Preview    string     `json:"preview"`
	Scopes     []string   `json:"scopes"`
	IsActive   bool       `json:"is_active"`
	UsageCount int64      `json:"usage_count"`
	LastUsedAt *time.Time `json:"last_used_at"`
	ExpiresAt  *time.Time `json:"expires_at"`
	RevokedAt  *time.Time `json:"revoked_at"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Usable 启用且未过期
func (k *ApiKey) Usable(now time.Time) bool {
	if !k.IsActive {
		return false
	}
	return k.ExpiresAt == nil || now.Before(*k.ExpiresAt)
}

// GeneratedApiKey 生成结果，Secret 只出现这一次
type GeneratedApiKey struct {
	Key                     ApiKey `json:"api_key"`
	Secret                  string `json:"secret"`
	AcknowledgementRequired bool   `json:"acknowledgement_required"`
}

// GenerateApiKey 生成新 Key；expiresInDays 为 0 表示不过期
func (c *Client) GenerateApiKey(ctx context.Context, name string, scopes []string, expiresInDays int) (*GeneratedApiKey, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, lifecycle.Validation("name", "名称不能为空")
	}
	if err := lifecycle.ValidateScopes(scopes); err != nil {
		return nil, err
	}
	if expiresInDays < 0 {
		return nil, lifecycle.Validation("expires_in_days", "有效期不能为负数")
	}

	var result GeneratedApiKey
	if err := c.call(ctx, http.MethodPost, "/api/api-keys", map[string]interface{}{
		"name":            name,
		"scopes":          scopes,
		"expires_in_days": expiresInDays,
	}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListApiKeys 当前用户的 Key
func (c *Client) ListApiKeys(ctx context.Context) ([]ApiKey, error) {
	var keys []ApiKey
	if err := c.call(ctx, http.MethodGet, "/api/api-keys", nil, &keys); err != nil {
		return nil, err
	}
	return keys, nil
}

// RevokeApiKey 撤销 Key，成功后同步更新 key 本地副本
func (c *Client) RevokeApiKey(ctx context.Context, key *ApiKey, confirm bool) error {
	if !confirm {
		return lifecycle.ErrConfirmationRequired
	}
	if err := lifecycle.ValidateUUID("api_key_id", key.ID); err != nil {
		return err
	}

	var revoked ApiKey
	if err := c.call(ctx, http.MethodPost, "/api/api-keys/"+key.ID+"/revoke", map[string]bool{"confirm": true}, &revoked); err != nil {
		return err
	}
	key.IsActive = false
	key.RevokedAt = revoked.RevokedAt
	if key.RevokedAt == nil {
		now := time.Now()
		key.RevokedAt = &now
	}
	return nil
}

// Webhook REST Hook 订阅
type Webhook struct {
	ID              string     `json:"id"`
	ApiKeyID        string     `json:"api_key_id"`
	TargetURL       string     `json:"target_url"`
	TriggerType     string     `json:"trigger_type"`
	IsActive        bool       `json:"is_active"`
	SuccessCount    int64      `json:"success_count"`
	FailureCount    int64      `json:"failure_count"`
	LastTriggeredAt *time.Time `json:"last_triggered_at"`
	LastError       string     `json:"last_error"`
	Status          string     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
}

// SuccessRate 成功率百分比，无投递时为 0
func (w *Webhook) SuccessRate() float64 {
	return lifecycle.SuccessRate(w.SuccessCount, w.FailureCount)
}

// Expired 目标地址已失效（最近错误为 404/410）
func (w *Webhook) Expired() bool {
	return lifecycle.IsExpired(w.LastError)
}

// Subscription 订阅结果，签名密钥只返回这一次
type Subscription struct {
	Webhook Webhook `json:"webhook"`
	Secret  string  `json:"secret"`
}

// Subscribe 订阅事件。地址必须是 https，Key 必须启用且持有 webhook:subscribe，
// 校验全部在本地完成，失败时不发请求
func (c *Client) Subscribe(ctx context.Context, key ApiKey, targetURL, triggerType string) (*Subscription, error) {
	if err := lifecycle.ValidateSubscription(key.ID, targetURL, triggerType); err != nil {
		return nil, err
	}
	if !key.Usable(time.Now()) {
		return nil, lifecycle.NoValidApiKey("API Key 已停用或已过期")
	}
	if err := lifecycle.ValidateScopeHolder(key.IsActive, key.Scopes); err != nil {
		return nil, err
	}

	var sub Subscription
	if err := c.call(ctx, http.MethodPost, "/api/webhooks", map[string]string{
		"api_key_id":   key.ID,
		"target_url":   strings.TrimSpace(targetURL),
		"trigger_type": triggerType,
	}, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// ListWebhooks 当前用户的订阅
func (c *Client) ListWebhooks(ctx context.Context) ([]Webhook, error) {
	var hooks []Webhook
	if err := c.call(ctx, http.MethodGet, "/api/webhooks", nil, &hooks); err != nil {
		return nil, err
	}
	return hooks, nil
}

// Unsubscribe 删除订阅，需要确认
func (c *Client) Unsubscribe(ctx context.Context, webhookID string, confirm bool) error {
	if !confirm {
		return lifecycle.ErrConfirmationRequired
	}
	if err := lifecycle.ValidateUUID("webhook_id", webhookID); err != nil {
		return err
	}
	return c.call(ctx, http.MethodDelete, "/api/webhooks/"+webhookID+"?confirm=true", nil, nil)
}

// DeliveryResult 一次投递的结果
type DeliveryResult struct {
	WebhookID  string `json:"webhook_id"`
	Success    bool   `json:"success"`
	StatusCode int    `json:"status_code"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// TestWebhook 发送测试事件，结果计入订阅统计
func (c *Client) TestWebhook(ctx context.Context, webhookID string) (*DeliveryResult, error) {
	if err := lifecycle.ValidateUUID("webhook_id", webhookID); err != nil {
		return nil, err
	}
	var result DeliveryResult
	if err := c.call(ctx, http.MethodPost, "/api/webhooks/"+webhookID+"/test", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
