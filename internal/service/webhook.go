package service

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"integration-console/internal/config"
	"integration-console/internal/model"
	"integration-console/internal/pkg/crypto"
	"integration-console/internal/pkg/utils"
	"integration-console/pkg/lifecycle"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 投递请求头
const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderTimestamp = "X-Webhook-Timestamp"
	HeaderEvent     = "X-Webhook-Event"
	HeaderDelivery  = "X-Webhook-Delivery"
)

// errKeyRevoked Key 被撤销后投递直接记为失败
const errKeyRevoked = "api key revoked"

// WebhookService Webhook 订阅与投递
type WebhookService struct {
	db        *gorm.DB
	keys      *ApiKeyService
	metrics   *Metrics
	client    *resty.Client
	userAgent string
	now       func() time.Time

	// 后台投递中的 Publish
	inflight sync.WaitGroup
}

// NewWebhookService 创建 Webhook 服务
func NewWebhookService(db *gorm.DB, keys *ApiKeyService, metrics *Metrics, client *resty.Client, cfg *config.Config) *WebhookService {
	if client == nil {
		client = resty.New()
	}
	client.SetTimeout(time.Duration(cfg.Webhook.TimeoutSeconds) * time.Second)
	return &WebhookService{
		db:        db,
		keys:      keys,
		metrics:   metrics,
		client:    client,
		userAgent: cfg.Webhook.UserAgent,
		now:       time.Now,
	}
}

// Event 业务事件
type Event struct {
	ID         string
	Type       lifecycle.TriggerType
	UserID     string
	OccurredAt time.Time
	Data       map[string]interface{}
}

// WebhookPayload 投递负载
type WebhookPayload struct {
	ID        string                 `json:"id"`
	Event     lifecycle.TriggerType  `json:"event"`
	Timestamp int64                  `json:"timestamp"`
	Test      bool                   `json:"test,omitempty"`
	Data      map[string]interface{} `json:"data"`
}

// DeliveryResult 单次投递结果
type DeliveryResult struct {
	WebhookID  string `json:"webhook_id"`
	Success    bool   `json:"success"`
	StatusCode int    `json:"status_code,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// WebhookView 列表展示，附带推导字段
type WebhookView struct {
	model.Webhook
	Status      string              `json:"status"`
	SuccessRate float64             `json:"success_rate"`
	RateLevel   lifecycle.RateLevel `json:"rate_level"`
	Expired     bool                `json:"expired"`
}

func newWebhookView(w model.Webhook) WebhookView {
	return WebhookView{
		Webhook:     w,
		Status:      w.DisplayStatus(),
		SuccessRate: w.SuccessRate(),
		RateLevel:   lifecycle.ClassifyRate(w.SuccessCount, w.FailureCount),
		Expired:     lifecycle.IsExpired(w.LastError),
	}
}

// SubscribeInput 订阅请求
type SubscribeInput struct {
	ApiKeyID    string `json:"api_key_id"`
	TargetURL   string `json:"target_url"`
	TriggerType string `json:"trigger_type"`
}

// SubscribeResult 订阅结果，签名密钥只返回这一次
type SubscribeResult struct {
	Webhook WebhookView `json:"webhook"`
	Secret  string      `json:"secret"`
}

// Subscribe 创建订阅：先本地校验，再校验 Key
func (s *WebhookService) Subscribe(ctx context.Context, in SubscribeInput) (*SubscribeResult, error) {
	if err := lifecycle.ValidateSubscription(in.ApiKeyID, in.TargetURL, in.TriggerType); err != nil {
		return nil, err
	}
	key, err := s.keys.RequireScope(ctx, in.ApiKeyID, lifecycle.ScopeWebhookSubscribe)
	if err != nil {
		return nil, err
	}

	hook := model.Webhook{
		Record:        model.Record{ID: uuid.NewString()},
		ApiKeyID:      key.ID,
		UserID:        key.UserID,
		IntegrationID: "zapier",
		TargetURL:     in.TargetURL,
		TriggerType:   in.TriggerType,
		IsActive:      true,
		Secret:        utils.GenerateWebhookSecret(),
	}
	if err := s.db.WithContext(ctx).Create(&hook).Error; err != nil {
		return nil, err
	}
	zap.L().Info("已创建 Webhook 订阅",
		zap.String("webhook_id", hook.ID),
		zap.String("trigger_type", hook.TriggerType),
		zap.String("api_key_prefix", key.KeyPrefix))

	return &SubscribeResult{Webhook: newWebhookView(hook), Secret: hook.Secret}, nil
}

// WebhookFilter 列表过滤
type WebhookFilter struct {
	UserID      string
	ApiKeyID    string
	TriggerType string
}

// List 查询订阅
func (s *WebhookService) List(ctx context.Context, f WebhookFilter) ([]WebhookView, error) {
	query := s.db.WithContext(ctx).Model(&model.Webhook{})
	if f.UserID != "" {
		query = query.Where("user_id = ?", f.UserID)
	}
	if f.ApiKeyID != "" {
		query = query.Where("api_key_id = ?", f.ApiKeyID)
	}
	if f.TriggerType != "" {
		query = query.Where("trigger_type = ?", f.TriggerType)
	}
	var hooks []model.Webhook
	if err := query.Order("created_at DESC").Find(&hooks).Error; err != nil {
		return nil, err
	}
	views := make([]WebhookView, 0, len(hooks))
	for _, h := range hooks {
		views = append(views, newWebhookView(h))
	}
	return views, nil
}

// Get 获取订阅
func (s *WebhookService) Get(ctx context.Context, id string) (*model.Webhook, error) {
	var hook model.Webhook
	if err := s.db.WithContext(ctx).First(&hook, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, lifecycle.NotFound("Webhook 不存在")
		}
		return nil, err
	}
	return &hook, nil
}

// GetView 获取订阅及推导字段
func (s *WebhookService) GetView(ctx context.Context, id string) (*WebhookView, error) {
	hook, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	v := newWebhookView(*hook)
	return &v, nil
}

// SetActive 暂停或恢复投递
func (s *WebhookService) SetActive(ctx context.Context, id string, active bool) (*WebhookView, error) {
	res := s.db.WithContext(ctx).Model(&model.Webhook{}).Where("id = ?", id).Update("is_active", active)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, lifecycle.NotFound("Webhook 不存在")
	}
	return s.GetView(ctx, id)
}

// Unsubscribe 删除订阅，立即停止投递；必须显式确认
func (s *WebhookService) Unsubscribe(ctx context.Context, id string, confirm bool) error {
	if !confirm {
		return lifecycle.ErrConfirmationRequired
	}
	res := s.db.WithContext(ctx).Delete(&model.Webhook{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return lifecycle.NotFound("Webhook 不存在")
	}
	return nil
}

// ReplacementDraft 替换失效订阅的预填草稿，原订阅保持不变
type ReplacementDraft struct {
	ApiKeyID          string `json:"api_key_id"`
	TriggerType       string `json:"trigger_type"`
	ReplacesWebhookID string `json:"replaces_webhook_id"`
	PreviousURL       string `json:"previous_url"`
	Expired           bool   `json:"expired"`
}

// Replace 生成替换草稿；新地址由用户填写后走 Subscribe，旧订阅需单独删除
func (s *WebhookService) Replace(ctx context.Context, id string) (*ReplacementDraft, error) {
	hook, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ReplacementDraft{
		ApiKeyID:          hook.ApiKeyID,
		TriggerType:       hook.TriggerType,
		ReplacesWebhookID: hook.ID,
		PreviousURL:       hook.TargetURL,
		Expired:           lifecycle.IsExpired(hook.LastError),
	}, nil
}

// Test 发送测试事件，与真实投递走同一路径并计入统计
func (s *WebhookService) Test(ctx context.Context, id string) (*DeliveryResult, error) {
	hook, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	event := Event{
		ID:         uuid.NewString(),
		Type:       lifecycle.TriggerType(hook.TriggerType),
		UserID:     hook.UserID,
		OccurredAt: s.now(),
		Data:       SampleEventData(lifecycle.TriggerType(hook.TriggerType)),
	}
	result := s.deliver(ctx, hook, event, true)
	return &result, nil
}

// Dispatch 向该事件类型的所有启用订阅投递，等待全部完成
func (s *WebhookService) Dispatch(ctx context.Context, event Event) ([]DeliveryResult, error) {
	if !event.Type.Valid() {
		return nil, lifecycle.Validation("trigger_type", "不支持的触发事件: "+string(event.Type))
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now()
	}

	query := s.db.WithContext(ctx).Where("trigger_type = ? AND is_active = ?", string(event.Type), true)
	if event.UserID != "" {
		query = query.Where("user_id = ?", event.UserID)
	}
	var hooks []model.Webhook
	if err := query.Find(&hooks).Error; err != nil {
		return nil, err
	}
	if len(hooks) == 0 {
		return nil, nil
	}

	results := make([]DeliveryResult, len(hooks))
	var wg sync.WaitGroup
	for i := range hooks {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = s.deliver(ctx, &hooks[i], event, false)
		}(i)
	}
	wg.Wait()
	return results, nil
}

// EventPublisher 业务事件发布
type EventPublisher interface {
	Publish(event Event)
}

var _ EventPublisher = (*WebhookService)(nil)

// Publish 后台投递，调用方不等待结果
func (s *WebhookService) Publish(event Event) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if _, err := s.Dispatch(ctx, event); err != nil {
			zap.L().Error("事件投递失败", zap.String("event", string(event.Type)), zap.Error(err))
		}
	}()
}

// Wait 等待后台投递结束，ctx 到期先返回
func (s *WebhookService) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// deliver 投递单个订阅，结果立即落库
func (s *WebhookService) deliver(ctx context.Context, hook *model.Webhook, event Event, test bool) DeliveryResult {
	payload, err := json.Marshal(WebhookPayload{
		ID:        event.ID,
		Event:     event.Type,
		Timestamp: event.OccurredAt.Unix(),
		Test:      test,
		Data:      event.Data,
	})
	if err != nil {
		result := DeliveryResult{WebhookID: hook.ID, Error: err.Error()}
		s.RecordResult(ctx, hook, event, test, result, nil)
		return result
	}

	// Key 被撤销或过期时不再发出请求
	key, err := s.keys.Get(ctx, hook.ApiKeyID)
	if err != nil || !key.Usable(s.now()) {
		result := DeliveryResult{WebhookID: hook.ID, Error: errKeyRevoked}
		s.RecordResult(ctx, hook, event, test, result, payload)
		return result
	}

	start := time.Now()
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", s.userAgent).
		SetHeader(HeaderSignature, crypto.SignPayload(hook.Secret, payload)).
		SetHeader(HeaderTimestamp, strconv.FormatInt(start.Unix(), 10)).
		SetHeader(HeaderEvent, string(event.Type)).
		SetHeader(HeaderDelivery, event.ID).
		SetBody(payload).
		Post(hook.TargetURL)

	result := DeliveryResult{WebhookID: hook.ID, DurationMs: time.Since(start).Milliseconds()}
	switch {
	case err != nil:
		result.Error = err.Error()
	case resp.IsSuccess():
		result.Success = true
		result.StatusCode = resp.StatusCode()
	default:
		result.StatusCode = resp.StatusCode()
		result.Error = resp.Status()
		if body := resp.String(); body != "" && len(body) <= 200 {
			result.Error += ": " + body
		}
	}
	s.RecordResult(ctx, hook, event, test, result, payload)
	return result
}

// RecordResult 更新计数并写入投递记录
func (s *WebhookService) RecordResult(ctx context.Context, hook *model.Webhook, event Event, test bool, result DeliveryResult, payload []byte) {
	now := s.now()
	updates := map[string]interface{}{"last_triggered_at": now}
	if result.Success {
		updates["success_count"] = gorm.Expr("success_count + ?", 1)
		updates["last_error"] = ""
	} else {
		updates["failure_count"] = gorm.Expr("failure_count + ?", 1)
		updates["last_error"] = result.Error
	}
	if err := s.db.WithContext(ctx).Model(&model.Webhook{}).Where("id = ?", hook.ID).Updates(updates).Error; err != nil {
		zap.L().Error("更新 Webhook 统计失败", zap.String("webhook_id", hook.ID), zap.Error(err))
	}

	delivery := model.WebhookDelivery{
		Record:        model.Record{ID: uuid.NewString()},
		WebhookID:     hook.ID,
		IntegrationID: hook.IntegrationID,
		TriggerType:   string(event.Type),
		EventID:       event.ID,
		IsTest:        test,
		Success:       result.Success,
		StatusCode:    result.StatusCode,
		Error:         result.Error,
		DurationMs:    result.DurationMs,
		Payload:       datatypes.JSON(payload),
	}
	if err := s.db.WithContext(ctx).Create(&delivery).Error; err != nil {
		zap.L().Error("写入投递记录失败", zap.String("webhook_id", hook.ID), zap.Error(err))
	}

	s.metrics.observeDelivery(string(event.Type), result.Success, test)
	if !result.Success {
		zap.L().Warn("Webhook 投递失败",
			zap.String("webhook_id", hook.ID),
			zap.String("event", string(event.Type)),
			zap.Bool("test", test),
			zap.String("error", result.Error))
	}
}

// Deliveries 最近的投递记录
func (s *WebhookService) Deliveries(ctx context.Context, webhookID string, limit int) ([]model.WebhookDelivery, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var items []model.WebhookDelivery
	err := s.db.WithContext(ctx).
		Where("webhook_id = ?", webhookID).
		Order("created_at DESC").
		Limit(limit).
		Find(&items).Error
	return items, err
}

// CleanupDeliveries 删除超过保留期的投递记录
func (s *WebhookService) CleanupDeliveries(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := s.now().AddDate(0, 0, -retentionDays)
	res := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&model.WebhookDelivery{})
	return res.RowsAffected, res.Error
}

// SampleEventData 测试事件及 Zapier 轮询样例使用的数据
func SampleEventData(t lifecycle.TriggerType) map[string]interface{} {
	switch t {
	case lifecycle.TriggerAnalysisCompleted:
		return map[string]interface{}{
			"analysis_id":   "00000000-0000-0000-0000-000000000001",
			"transcript_id": "00000000-0000-0000-0000-000000000002",
			"title":         "Sample call analysis",
			"status":        string(model.AnalysisCompleted),
			"summary":       "Sample summary",
		}
	case lifecycle.TriggerAnalysisFailed:
		return map[string]interface{}{
			"analysis_id":   "00000000-0000-0000-0000-000000000001",
			"transcript_id": "00000000-0000-0000-0000-000000000002",
			"title":         "Sample call analysis",
			"status":        string(model.AnalysisFailed),
			"error":         "Sample failure",
		}
	case lifecycle.TriggerTranscriptCreated:
		return map[string]interface{}{
			"transcript_id": "00000000-0000-0000-0000-000000000002",
			"title":         "Sample transcript",
		}
	case lifecycle.TriggerDeletionRequested:
		return map[string]interface{}{
			"user_id":       "00000000-0000-0000-0000-000000000003",
			"scheduled_for": time.Now().AddDate(0, 0, 30).Format(time.RFC3339),
		}
	default:
		return map[string]interface{}{}
	}
}
