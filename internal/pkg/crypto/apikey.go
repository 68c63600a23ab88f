package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	// ApiKeyPrefix Zapier 桥接 Key 的固定前缀
	ApiKeyPrefix = "zk_"
	// apiKeyPreviewLen 可长期展示的前缀长度（含 zk_）
	apiKeyPreviewLen = 11
)

// ApiKeyMaterial 新生成的 Key，Secret 只在创建时返回一次
type ApiKeyMaterial struct {
	Secret string
	Prefix string
	Suffix string
	Hash   string
}

// GenerateApiKey 生成 zk_ + 64 位十六进制的 Key
func GenerateApiKey() (*ApiKeyMaterial, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	secret := ApiKeyPrefix + hex.EncodeToString(buf)
	return &ApiKeyMaterial{
		Secret: secret,
		Prefix: secret[:apiKeyPreviewLen],
		Suffix: secret[len(secret)-4:],
		Hash:   HashApiKey(secret),
	}, nil
}

// HashApiKey 只存储哈希
func HashApiKey(secret string) string {
	return SHA256HashString(strings.TrimSpace(secret))
}

// LooksLikeApiKey 粗略格式检查，避免无意义的数据库查询
func LooksLikeApiKey(s string) bool {
	return strings.HasPrefix(s, ApiKeyPrefix) && len(s) == len(ApiKeyPrefix)+64
}

// SignPayload Webhook 负载签名（HMAC-SHA256，hex）
func SignPayload(secret string, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifySignature 常量时间比较签名
func VerifySignature(secret string, payload []byte, signature string) bool {
	expected := SignPayload(secret, payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}
