package model

// AuthType 集成的认证方式
type AuthType string

const (
	AuthOAuth2  AuthType = "oauth2"
	AuthApiKey  AuthType = "api_key"
	AuthWebhook AuthType = "webhook"
)

// IntegrationDefinition 集成目录中的静态定义
type IntegrationDefinition struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Category         string   `json:"category"`
	AuthType         AuthType `json:"auth_type"`
	Capabilities     []string `json:"capabilities"`
	SupportsWebhooks bool     `json:"supports_webhooks"`
	// 默认同步间隔（分钟），0 表示不同步
	DefaultSyncInterval int `json:"default_sync_interval"`
}

// Catalog 支持的集成
var Catalog = []IntegrationDefinition{
	{ID: "zoom", Name: "Zoom", Category: "meetings", AuthType: AuthOAuth2, Capabilities: []string{"recordings", "transcripts"}, DefaultSyncInterval: 60},
	{ID: "zapier", Name: "Zapier", Category: "automation", AuthType: AuthApiKey, Capabilities: []string{"triggers", "polling"}, SupportsWebhooks: true},
	{ID: "slack", Name: "Slack", Category: "messaging", AuthType: AuthOAuth2, Capabilities: []string{"notifications"}, DefaultSyncInterval: 0},
	{ID: "salesforce", Name: "Salesforce", Category: "crm", AuthType: AuthOAuth2, Capabilities: []string{"contacts", "activities"}, DefaultSyncInterval: 120},
	{ID: "hubspot", Name: "HubSpot", Category: "crm", AuthType: AuthOAuth2, Capabilities: []string{"contacts", "activities"}, DefaultSyncInterval: 120},
	{ID: "google_drive", Name: "Google Drive", Category: "storage", AuthType: AuthOAuth2, Capabilities: []string{"files"}, DefaultSyncInterval: 240},
}

// FindIntegration 按 ID 查找集成定义
func FindIntegration(id string) (IntegrationDefinition, bool) {
	for _, d := range Catalog {
		if d.ID == id {
			return d, true
		}
	}
	return IntegrationDefinition{}, false
}
