package lifecycle

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// TriggerType Webhook 触发事件
type TriggerType string

const (
	TriggerAnalysisCompleted TriggerType = "analysis.completed"
	TriggerAnalysisFailed    TriggerType = "analysis.failed"
	TriggerTranscriptCreated TriggerType = "transcript.created"
	TriggerDeletionRequested TriggerType = "deletion.requested"
)

// TriggerTypes 支持的触发事件（封闭集合）
var TriggerTypes = []TriggerType{
	TriggerAnalysisCompleted,
	TriggerAnalysisFailed,
	TriggerTranscriptCreated,
	TriggerDeletionRequested,
}

// Valid 是否属于支持的触发事件
func (t TriggerType) Valid() bool {
	for _, v := range TriggerTypes {
		if v == t {
			return true
		}
	}
	return false
}

// API Key 权限范围
const (
	ScopeWebhookSubscribe = "webhook:subscribe"
	ScopeAnalysesRead     = "analyses:read"
	ScopeTranscriptsRead  = "transcripts:read"
)

// KnownScopes 可授予的权限范围
var KnownScopes = []string{ScopeWebhookSubscribe, ScopeAnalysesRead, ScopeTranscriptsRead}

// HasScope 检查权限列表是否包含指定权限
func HasScope(scopes []string, scope string) bool {
	for _, s := range scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// ValidateScopes 权限列表不能为空，且只能包含已知权限
func ValidateScopes(scopes []string) error {
	if len(scopes) == 0 {
		return Validation("scopes", "至少需要选择一个权限")
	}
	for _, s := range scopes {
		if !HasScope(KnownScopes, s) {
			return Validation("scopes", "未知的权限: "+s)
		}
	}
	return nil
}

// ValidateWebhookURL 目标地址必须是合法的 https 地址
func ValidateWebhookURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Validation("target_url", "目标地址不能为空")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Validation("target_url", "目标地址格式错误")
	}
	if u.Scheme != "https" {
		return Validation("target_url", "目标地址必须使用 https")
	}
	if u.Host == "" {
		return Validation("target_url", "目标地址缺少主机名")
	}
	return nil
}

// ValidateUUID 只接受标准 36 位格式
func ValidateUUID(field, value string) error {
	if len(value) != 36 {
		return Validation(field, field+" 格式错误")
	}
	if _, err := uuid.Parse(value); err != nil {
		return Validation(field, field+" 格式错误")
	}
	return nil
}

// ValidateTriggerType 触发事件必须在支持列表内
func ValidateTriggerType(t string) error {
	if !TriggerType(t).Valid() {
		return Validation("trigger_type", "不支持的触发事件: "+t)
	}
	return nil
}

// ValidateSubscription 订阅前的本地校验，任何网络调用之前执行
func ValidateSubscription(apiKeyID, targetURL, triggerType string) error {
	if err := ValidateUUID("api_key_id", apiKeyID); err != nil {
		return err
	}
	if err := ValidateWebhookURL(targetURL); err != nil {
		return err
	}
	return ValidateTriggerType(triggerType)
}

// ValidateScopeHolder 订阅所用 Key 必须启用且持有 webhook:subscribe
func ValidateScopeHolder(isActive bool, scopes []string) error {
	if !isActive {
		return NoValidApiKey("API Key 已停用")
	}
	if !HasScope(scopes, ScopeWebhookSubscribe) {
		return NoValidApiKey("API Key 缺少 " + ScopeWebhookSubscribe + " 权限")
	}
	return nil
}

var (
	expiredStatusPattern = regexp.MustCompile(`\b(404|410)\b`)
	// 传输错误里带着目标地址，地址本身不参与判定
	targetURLPattern = regexp.MustCompile(`"https?://[^"]*"|https?://[^\s"]+`)
)

// IsExpired 根据最后一次错误判断目标地址是否已失效
//
// 只看接收端的响应（404/410、not found、unsubscribe me），超时、连接失败等
// 传输错误即使地址里含有这些字样也不算失效。
func IsExpired(lastError string) bool {
	text := strings.TrimSpace(targetURLPattern.ReplaceAllString(lastError, ""))
	if text == "" {
		return false
	}
	if expiredStatusPattern.MatchString(text) {
		return true
	}
	lower := strings.ToLower(text)
	return strings.Contains(lower, "not found") || strings.Contains(lower, "unsubscribe me")
}

// WebhookDisplayStatus Webhook 展示状态（过期为推导状态，不落库）
func WebhookDisplayStatus(isActive bool, lastError string) string {
	if IsExpired(lastError) {
		return "expired"
	}
	if !isActive {
		return "inactive"
	}
	return "active"
}

// MaskSecret 仅保留前后缀，中间以星号代替
func MaskSecret(secret string, prefixLen, suffixLen int) string {
	if len(secret) <= prefixLen+suffixLen {
		return strings.Repeat("*", len(secret))
	}
	return secret[:prefixLen] + strings.Repeat("*", 8) + secret[len(secret)-suffixLen:]
}
