package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"integration-console/internal/model"
	"integration-console/pkg/lifecycle"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// HealthService 定时汇总连接与 Webhook 状态，只读
type HealthService struct {
	db      *gorm.DB
	metrics *Metrics
	window  time.Duration
	now     func() time.Time

	mu       sync.RWMutex
	snapshot *HealthSnapshot
}

// NewHealthService 创建健康汇总服务
func NewHealthService(db *gorm.DB, metrics *Metrics, windowHours int) *HealthService {
	if windowHours <= 0 {
		windowHours = 24
	}
	return &HealthService{
		db:      db,
		metrics: metrics,
		window:  time.Duration(windowHours) * time.Hour,
		now:     time.Now,
	}
}

// ConnectionCounts 连接数量
type ConnectionCounts struct {
	Total    int64 `json:"total"`
	Active   int64 `json:"active"`
	Error    int64 `json:"error"`
	Inactive int64 `json:"inactive"`
	Pending  int64 `json:"pending"`
}

func (c *ConnectionCounts) add(status lifecycle.ConnectionStatus, n int64) {
	c.Total += n
	switch status {
	case lifecycle.StatusActive:
		c.Active += n
	case lifecycle.StatusError:
		c.Error += n
	case lifecycle.StatusInactive:
		c.Inactive += n
	default:
		c.Pending += n
	}
}

// IntegrationHealth 单个集成的汇总
type IntegrationHealth struct {
	IntegrationID string              `json:"integration_id"`
	Name          string              `json:"name"`
	Connections   ConnectionCounts    `json:"connections"`
	Deliveries    int64               `json:"deliveries"`
	Successes     int64               `json:"successes"`
	SuccessRate   float64             `json:"success_rate"`
	RateLevel     lifecycle.RateLevel `json:"rate_level"`
}

// WebhookSummary Webhook 汇总（生命周期计数）
type WebhookSummary struct {
	Total        int64   `json:"total"`
	Active       int64   `json:"active"`
	Inactive     int64   `json:"inactive"`
	Expired      int64   `json:"expired"`
	SuccessCount int64   `json:"success_count"`
	FailureCount int64   `json:"failure_count"`
	SuccessRate  float64 `json:"success_rate"`
}

// HealthSnapshot 某一时刻的汇总结果
type HealthSnapshot struct {
	GeneratedAt  time.Time           `json:"generated_at"`
	WindowHours  int                 `json:"window_hours"`
	Connections  ConnectionCounts    `json:"connections"`
	Integrations []IntegrationHealth `json:"integrations"`
	Webhooks     WebhookSummary      `json:"webhooks"`
}

// Snapshot 返回缓存的汇总；refresh 为 true 或尚无缓存时立即重算
func (s *HealthService) Snapshot(ctx context.Context, refresh bool) (*HealthSnapshot, error) {
	if !refresh {
		s.mu.RLock()
		snap := s.snapshot
		s.mu.RUnlock()
		if snap != nil {
			return snap, nil
		}
	}
	return s.Refresh(ctx)
}

// Refresh 重新计算并更新指标
func (s *HealthService) Refresh(ctx context.Context) (*HealthSnapshot, error) {
	now := s.now()
	snap := &HealthSnapshot{
		GeneratedAt: now,
		WindowHours: int(s.window / time.Hour),
	}
	byIntegration := map[string]*IntegrationHealth{}
	entry := func(id string) *IntegrationHealth {
		if h, ok := byIntegration[id]; ok {
			return h
		}
		h := &IntegrationHealth{IntegrationID: id, Name: id}
		if def, ok := model.FindIntegration(id); ok {
			h.Name = def.Name
		}
		byIntegration[id] = h
		return h
	}

	var connRows []struct {
		IntegrationID string
		Status        string
		Count         int64
	}
	if err := s.db.WithContext(ctx).Model(&model.IntegrationConnection{}).
		Select("integration_id, status, COUNT(*) AS count").
		Group("integration_id, status").
		Scan(&connRows).Error; err != nil {
		return nil, err
	}
	for _, r := range connRows {
		status := lifecycle.ConnectionStatus(r.Status)
		snap.Connections.add(status, r.Count)
		entry(r.IntegrationID).Connections.add(status, r.Count)
	}

	var deliveryRows []struct {
		IntegrationID string
		Total         int64
		Successes     int64
	}
	if err := s.db.WithContext(ctx).Model(&model.WebhookDelivery{}).
		Select("integration_id, COUNT(*) AS total, SUM(CASE WHEN success THEN 1 ELSE 0 END) AS successes").
		Where("created_at >= ?", now.Add(-s.window)).
		Group("integration_id").
		Scan(&deliveryRows).Error; err != nil {
		return nil, err
	}
	for _, r := range deliveryRows {
		h := entry(r.IntegrationID)
		h.Deliveries = r.Total
		h.Successes = r.Successes
		h.SuccessRate = lifecycle.SuccessRate(r.Successes, r.Total-r.Successes)
		h.RateLevel = lifecycle.ClassifyRate(r.Successes, r.Total-r.Successes)
	}

	var hooks []model.Webhook
	if err := s.db.WithContext(ctx).
		Select("id, is_active, success_count, failure_count, last_error").
		Find(&hooks).Error; err != nil {
		return nil, err
	}
	for i := range hooks {
		h := &hooks[i]
		snap.Webhooks.Total++
		switch h.DisplayStatus() {
		case "expired":
			snap.Webhooks.Expired++
		case "inactive":
			snap.Webhooks.Inactive++
		default:
			snap.Webhooks.Active++
		}
		snap.Webhooks.SuccessCount += h.SuccessCount
		snap.Webhooks.FailureCount += h.FailureCount
	}
	snap.Webhooks.SuccessRate = lifecycle.SuccessRate(snap.Webhooks.SuccessCount, snap.Webhooks.FailureCount)

	snap.Integrations = make([]IntegrationHealth, 0, len(byIntegration))
	for _, h := range byIntegration {
		if h.RateLevel == "" {
			h.RateLevel = lifecycle.RateNone
		}
		snap.Integrations = append(snap.Integrations, *h)
	}
	sort.Slice(snap.Integrations, func(i, j int) bool {
		return snap.Integrations[i].IntegrationID < snap.Integrations[j].IntegrationID
	})

	s.metrics.Connections.WithLabelValues(string(lifecycle.StatusActive)).Set(float64(snap.Connections.Active))
	s.metrics.Connections.WithLabelValues(string(lifecycle.StatusError)).Set(float64(snap.Connections.Error))
	s.metrics.Connections.WithLabelValues(string(lifecycle.StatusInactive)).Set(float64(snap.Connections.Inactive))
	s.metrics.Connections.WithLabelValues(string(lifecycle.StatusPending)).Set(float64(snap.Connections.Pending))

	s.mu.Lock()
	s.snapshot = snap
	s.mu.Unlock()
	return snap, nil
}

// Poll 定时任务入口
func (s *HealthService) Poll() {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if _, err := s.Refresh(ctx); err != nil {
		zap.L().Error("健康状态汇总失败", zap.Error(err))
	}
}
