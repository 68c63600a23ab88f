package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"integration-console/internal/model"
	"integration-console/internal/pkg/crypto"
	"integration-console/pkg/lifecycle"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ApiKeyService Zapier 桥接 Key 的生成、撤销与认证
type ApiKeyService struct {
	db      *gorm.DB
	metrics *Metrics
	now     func() time.Time
}

// NewApiKeyService 创建 API Key 服务
func NewApiKeyService(db *gorm.DB, metrics *Metrics) *ApiKeyService {
	return &ApiKeyService{db: db, metrics: metrics, now: time.Now}
}

// GenerateApiKeyInput 生成请求
type GenerateApiKeyInput struct {
	Name      string   `json:"name"`
	Scopes    []string `json:"scopes"`
	ExpiresIn int      `json:"expires_in_days"`
}

// GeneratedApiKey 生成结果，Secret 只在这里出现一次
type GeneratedApiKey struct {
	Key                     *model.ApiKey `json:"api_key"`
	Secret                  string        `json:"secret"`
	AcknowledgementRequired bool          `json:"acknowledgement_required"`
}

// ApiKeyView 列表展示，只含掩码
type ApiKeyView struct {
	model.ApiKey
	Preview string `json:"preview"`
	Expired bool   `json:"expired"`
}

// Generate 生成新 Key
func (s *ApiKeyService) Generate(ctx context.Context, userID string, in GenerateApiKeyInput) (*GeneratedApiKey, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, lifecycle.Validation("name", "名称不能为空")
	}
	if len(name) > 100 {
		return nil, lifecycle.Validation("name", "名称过长")
	}
	scopes := in.Scopes
	if err := lifecycle.ValidateScopes(scopes); err != nil {
		return nil, err
	}
	if in.ExpiresIn < 0 {
		return nil, lifecycle.Validation("expires_in_days", "有效期不能为负数")
	}

	material, err := crypto.GenerateApiKey()
	if err != nil {
		return nil, err
	}

	key := &model.ApiKey{
		Record:    model.Record{ID: uuid.NewString()},
		UserID:    userID,
		Name:      name,
		KeyPrefix: material.Prefix,
		KeySuffix: material.Suffix,
		KeyHash:   material.Hash,
		Scopes:    datatypes.JSONSlice[string](scopes),
		IsActive:  true,
	}
	if in.ExpiresIn > 0 {
		exp := s.now().AddDate(0, 0, in.ExpiresIn)
		key.ExpiresAt = &exp
	}
	if err := s.db.WithContext(ctx).Create(key).Error; err != nil {
		return nil, err
	}

	return &GeneratedApiKey{Key: key, Secret: material.Secret, AcknowledgementRequired: true}, nil
}

// List 列出用户的 Key（userID 为空时列出全部）
func (s *ApiKeyService) List(ctx context.Context, userID string) ([]ApiKeyView, error) {
	query := s.db.WithContext(ctx).Model(&model.ApiKey{})
	if userID != "" {
		query = query.Where("user_id = ?", userID)
	}
	var keys []model.ApiKey
	if err := query.Order("created_at DESC").Find(&keys).Error; err != nil {
		return nil, err
	}
	now := s.now()
	views := make([]ApiKeyView, 0, len(keys))
	for i := range keys {
		views = append(views, ApiKeyView{ApiKey: keys[i], Preview: keys[i].Preview(), Expired: keys[i].IsExpired(now)})
	}
	return views, nil
}

// Get 获取单个 Key
func (s *ApiKeyService) Get(ctx context.Context, id string) (*model.ApiKey, error) {
	if err := lifecycle.ValidateUUID("api_key_id", id); err != nil {
		return nil, err
	}
	var key model.ApiKey
	if err := s.db.WithContext(ctx).First(&key, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, lifecycle.NotFound("API Key 不存在")
		}
		return nil, err
	}
	return &key, nil
}

// Revoke 撤销 Key；已订阅的 Webhook 保留，但后续投递会失败
func (s *ApiKeyService) Revoke(ctx context.Context, id string, confirm bool) (*model.ApiKey, error) {
	if !confirm {
		return nil, lifecycle.ErrConfirmationRequired
	}
	key, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !key.IsActive {
		return key, nil
	}
	now := s.now()
	if err := s.db.WithContext(ctx).Model(key).Updates(map[string]interface{}{
		"is_active":  false,
		"revoked_at": now,
	}).Error; err != nil {
		return nil, err
	}
	key.IsActive = false
	key.RevokedAt = &now
	return key, nil
}

// Authenticate 校验桥接请求携带的 Key，成功时累计使用次数
func (s *ApiKeyService) Authenticate(ctx context.Context, raw string) (key *model.ApiKey, err error) {
	defer func() {
		s.metrics.ApiKeyAuth.WithLabelValues(outcomeLabel(err)).Inc()
	}()

	raw = strings.TrimSpace(raw)
	if !crypto.LooksLikeApiKey(raw) {
		return nil, lifecycle.NoValidApiKey("API Key 格式错误")
	}

	var k model.ApiKey
	if err := s.db.WithContext(ctx).Where("key_hash = ?", crypto.HashApiKey(raw)).First(&k).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, lifecycle.NoValidApiKey("API Key 不存在")
		}
		return nil, err
	}
	now := s.now()
	if !k.IsActive {
		return nil, lifecycle.NoValidApiKey("API Key 已撤销")
	}
	if k.IsExpired(now) {
		return nil, lifecycle.NoValidApiKey("API Key 已过期")
	}

	if err := s.db.WithContext(ctx).Model(&model.ApiKey{}).Where("id = ?", k.ID).Updates(map[string]interface{}{
		"usage_count":  gorm.Expr("usage_count + ?", 1),
		"last_used_at": now,
	}).Error; err != nil {
		zap.L().Warn("更新 API Key 使用记录失败", zap.String("api_key_id", k.ID), zap.Error(err))
	}
	k.UsageCount++
	k.LastUsedAt = &now
	return &k, nil
}

// RequireScope 校验 Key 可用且持有权限
func (s *ApiKeyService) RequireScope(ctx context.Context, id, scope string) (*model.ApiKey, error) {
	key, err := s.Get(ctx, id)
	if err != nil {
		if lifecycle.KindOf(err) == lifecycle.KindNotFound {
			return nil, lifecycle.NoValidApiKey("API Key 不存在")
		}
		return nil, err
	}
	if !key.Usable(s.now()) {
		return nil, lifecycle.NoValidApiKey("API Key 已撤销或已过期")
	}
	if !lifecycle.HasScope(key.Scopes, scope) {
		return nil, lifecycle.NoValidApiKey("API Key 缺少 " + scope + " 权限")
	}
	return key, nil
}

// HasUsableKey 用户是否持有带指定权限的可用 Key
func (s *ApiKeyService) HasUsableKey(ctx context.Context, userID, scope string) (bool, error) {
	var keys []model.ApiKey
	if err := s.db.WithContext(ctx).Where("user_id = ? AND is_active = ?", userID, true).Find(&keys).Error; err != nil {
		return false, err
	}
	now := s.now()
	for _, k := range keys {
		if k.Usable(now) && (scope == "" || lifecycle.HasScope(k.Scopes, scope)) {
			return true, nil
		}
	}
	return false, nil
}
