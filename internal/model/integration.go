package model

import (
	"time"

	"integration-console/pkg/lifecycle"

	"gorm.io/datatypes"
)

// IntegrationApp 系统级 OAuth 应用，由管理员启用和配置
type IntegrationApp struct {
	Record
	IntegrationID         string                      `gorm:"type:varchar(50);uniqueIndex;not null" json:"integration_id"`
	Enabled               bool                        `json:"enabled"`
	ClientID              string                      `gorm:"type:varchar(255)" json:"client_id"`
	ClientSecretEncrypted string                      `gorm:"type:text" json:"-"`
	AuthURL               string                      `gorm:"type:varchar(500)" json:"auth_url"`
	TokenURL              string                      `gorm:"type:varchar(500)" json:"token_url"`
	RevokeURL             string                      `gorm:"type:varchar(500)" json:"revoke_url"`
	Scopes                datatypes.JSONSlice[string] `json:"scopes"`
	UpdatedBy             string                      `gorm:"type:varchar(36)" json:"updated_by"`
}

func (IntegrationApp) TableName() string {
	return "integration_apps"
}

// Configured 是否具备发起授权所需的全部配置
func (a *IntegrationApp) Configured() bool {
	return a.Enabled && a.ClientID != "" && a.AuthURL != "" && a.TokenURL != ""
}

// IntegrationConnection 用户与某个集成之间的连接
type IntegrationConnection struct {
	Record
	IntegrationID string                     `gorm:"type:varchar(50);index;not null" json:"integration_id"`
	UserID        string                     `gorm:"type:varchar(36);index;not null" json:"user_id"`
	Label         string                     `gorm:"type:varchar(100)" json:"label"`
	Status        lifecycle.ConnectionStatus `gorm:"type:varchar(20);index;default:pending" json:"status"`
	// 保险箱密文，永不序列化
	CredentialsEncrypted string            `gorm:"type:text" json:"-"`
	Configuration        datatypes.JSONMap `json:"configuration"`
	Enabled              bool              `json:"enabled"`
	LastOutcome          lifecycle.Outcome `gorm:"type:varchar(20)" json:"-"`
	LastSyncAt           *time.Time        `json:"last_sync_at"`
	LastError            string            `gorm:"type:text" json:"last_error"`
	ErrorCount           int               `gorm:"default:0" json:"error_count"`
}

func (IntegrationConnection) TableName() string {
	return "integration_connections"
}

// HasCredentials 是否已保存凭证
func (c *IntegrationConnection) HasCredentials() bool {
	return c.CredentialsEncrypted != ""
}

// ApiKey Zapier 桥接使用的 API Key，只保存哈希
type ApiKey struct {
	Record
	UserID     string                      `gorm:"type:varchar(36);index;not null" json:"user_id"`
	Name       string                      `gorm:"type:varchar(100);not null" json:"name"`
	KeyPrefix  string                      `gorm:"type:varchar(20);not null" json:"key_prefix"`
	KeySuffix  string                      `gorm:"type:varchar(8)" json:"-"`
	KeyHash    string                      `gorm:"type:varchar(64);uniqueIndex;not null" json:"-"`
	Scopes     datatypes.JSONSlice[string] `json:"scopes"`
	IsActive   bool                        `json:"is_active"`
	UsageCount int64                       `gorm:"default:0" json:"usage_count"`
	LastUsedAt *time.Time                  `json:"last_used_at"`
	ExpiresAt  *time.Time                  `json:"expires_at"`
	RevokedAt  *time.Time                  `json:"revoked_at"`
}

func (ApiKey) TableName() string {
	return "api_keys"
}

// Preview 长期展示用的掩码形式
func (k *ApiKey) Preview() string {
	return k.KeyPrefix + "********" + k.KeySuffix
}

// IsExpired 是否已过期
func (k *ApiKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// Usable 启用且未过期
func (k *ApiKey) Usable(now time.Time) bool {
	return k.IsActive && !k.IsExpired(now)
}

// Webhook Zapier 订阅
type Webhook struct {
	Record
	ApiKeyID        string     `gorm:"type:varchar(36);index;not null" json:"api_key_id"`
	UserID          string     `gorm:"type:varchar(36);index" json:"user_id"`
	IntegrationID   string     `gorm:"type:varchar(50);index;default:zapier" json:"integration_id"`
	TargetURL       string     `gorm:"type:varchar(500);not null" json:"target_url"`
	TriggerType     string     `gorm:"type:varchar(50);index;not null" json:"trigger_type"`
	IsActive        bool       `json:"is_active"`
	SuccessCount    int64      `gorm:"default:0" json:"success_count"`
	FailureCount    int64      `gorm:"default:0" json:"failure_count"`
	LastTriggeredAt *time.Time `json:"last_triggered_at"`
	LastError       string     `gorm:"type:text" json:"last_error"`
	Secret          string     `gorm:"type:varchar(100);not null" json:"-"`
}

func (Webhook) TableName() string {
	return "webhooks"
}

// DisplayStatus active / inactive / expired
func (w *Webhook) DisplayStatus() string {
	return lifecycle.WebhookDisplayStatus(w.IsActive, w.LastError)
}

// SuccessRate 生命周期成功率
func (w *Webhook) SuccessRate() float64 {
	return lifecycle.SuccessRate(w.SuccessCount, w.FailureCount)
}

// WebhookDelivery 单次投递记录，用于滚动窗口成功率
type WebhookDelivery struct {
	Record
	WebhookID     string         `gorm:"type:varchar(36);index;not null" json:"webhook_id"`
	IntegrationID string         `gorm:"type:varchar(50);index" json:"integration_id"`
	TriggerType   string         `gorm:"type:varchar(50)" json:"trigger_type"`
	EventID       string         `gorm:"type:varchar(36)" json:"event_id"`
	IsTest        bool           `json:"is_test"`
	Success       bool           `gorm:"index" json:"success"`
	StatusCode    int            `json:"status_code"`
	Error         string         `gorm:"type:text" json:"error"`
	DurationMs    int64          `json:"duration_ms"`
	Payload       datatypes.JSON `json:"payload,omitempty"`
}

func (WebhookDelivery) TableName() string {
	return "webhook_deliveries"
}

// Analysis 转录分析队列项
type Analysis struct {
	Record
	UserID       string         `gorm:"type:varchar(36);index" json:"user_id"`
	TranscriptID string         `gorm:"type:varchar(36);index" json:"transcript_id"`
	Title        string         `gorm:"type:varchar(200)" json:"title"`
	Status       AnalysisStatus `gorm:"type:varchar(20);index;default:queued" json:"status"`
	Error        string         `gorm:"type:text" json:"error"`
	Summary      string         `gorm:"type:text" json:"summary"`
	CompletedAt  *time.Time     `json:"completed_at"`
}

// AnalysisStatus 分析状态
type AnalysisStatus string

const (
	AnalysisQueued     AnalysisStatus = "queued"
	AnalysisProcessing AnalysisStatus = "processing"
	AnalysisCompleted  AnalysisStatus = "completed"
	AnalysisFailed     AnalysisStatus = "failed"
)

func (Analysis) TableName() string {
	return "analyses"
}
