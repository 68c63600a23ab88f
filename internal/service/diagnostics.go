package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"integration-console/internal/model"
	"integration-console/pkg/lifecycle"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DiagnosticsService Zapier 连接测试，一次调用给出三项检查结果
type DiagnosticsService struct {
	db      *gorm.DB
	keys    *ApiKeyService
	metrics *Metrics
}

// NewDiagnosticsService 创建诊断服务
func NewDiagnosticsService(db *gorm.DB, keys *ApiKeyService, metrics *Metrics) *DiagnosticsService {
	return &DiagnosticsService{db: db, keys: keys, metrics: metrics}
}

// Run 依次检查数据库、Key 认证、数据访问；未选择 Key 时不执行任何检查
func (s *DiagnosticsService) Run(ctx context.Context, apiKeyID string) (*lifecycle.DiagnosticReport, error) {
	apiKeyID = strings.TrimSpace(apiKeyID)
	if apiKeyID == "" {
		return nil, lifecycle.Validation("api_key_id", "请先选择要测试的 API Key")
	}
	if err := lifecycle.ValidateUUID("api_key_id", apiKeyID); err != nil {
		return nil, err
	}

	checks := lifecycle.PendingChecks()

	dbStatus, dbMsg := s.checkDatabase(ctx)
	lifecycle.SetCheck(checks, lifecycle.CheckDatabase, dbStatus, dbMsg)

	var key *model.ApiKey
	authStatus, authMsg := lifecycle.CheckFailed, "数据库不可用，跳过认证检查"
	if dbStatus == lifecycle.CheckPassed {
		key, authStatus, authMsg = s.checkAuthentication(ctx, apiKeyID)
	}
	lifecycle.SetCheck(checks, lifecycle.CheckAuthentication, authStatus, authMsg)

	dataStatus, dataMsg := lifecycle.CheckFailed, "认证未通过，跳过数据访问检查"
	if key != nil && authStatus != lifecycle.CheckFailed {
		dataStatus, dataMsg = s.checkDataAccess(ctx, key)
	}
	lifecycle.SetCheck(checks, lifecycle.CheckDataAccess, dataStatus, dataMsg)

	verdict := lifecycle.Evaluate(checks)
	s.metrics.DiagnosticRuns.WithLabelValues(string(verdict)).Inc()
	zap.L().Info("连接测试完成", zap.String("api_key_id", apiKeyID), zap.String("overall", string(verdict)))

	return &lifecycle.DiagnosticReport{
		Version: lifecycle.DiagnosticVersion,
		Checks:  checks,
		Overall: verdict,
		Message: lifecycle.VerdictMessage(verdict),
	}, nil
}

func (s *DiagnosticsService) checkDatabase(ctx context.Context) (lifecycle.CheckStatus, string) {
	sqlDB, err := s.db.DB()
	if err != nil {
		return lifecycle.CheckFailed, "无法获取数据库连接: " + err.Error()
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	start := time.Now()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		return lifecycle.CheckFailed, "数据库不可达: " + err.Error()
	}
	return lifecycle.CheckPassed, fmt.Sprintf("数据库连接正常 (%dms)", time.Since(start).Milliseconds())
}

func (s *DiagnosticsService) checkAuthentication(ctx context.Context, apiKeyID string) (*model.ApiKey, lifecycle.CheckStatus, string) {
	key, err := s.keys.Get(ctx, apiKeyID)
	if err != nil {
		if lifecycle.KindOf(err) == lifecycle.KindNotFound {
			return nil, lifecycle.CheckFailed, "API Key 不存在"
		}
		return nil, lifecycle.CheckFailed, err.Error()
	}
	if !key.IsActive {
		return nil, lifecycle.CheckFailed, "API Key 已撤销"
	}
	if key.IsExpired(time.Now()) {
		return nil, lifecycle.CheckFailed, "API Key 已过期"
	}
	if !lifecycle.HasScope(key.Scopes, lifecycle.ScopeWebhookSubscribe) {
		return key, lifecycle.CheckWarning, "API Key 有效，但缺少 " + lifecycle.ScopeWebhookSubscribe + " 权限，无法订阅 Webhook"
	}
	return key, lifecycle.CheckPassed, "API Key 有效 (" + key.Preview() + ")"
}

func (s *DiagnosticsService) checkDataAccess(ctx context.Context, key *model.ApiKey) (lifecycle.CheckStatus, string) {
	if !lifecycle.HasScope(key.Scopes, lifecycle.ScopeAnalysesRead) {
		return lifecycle.CheckWarning, "API Key 缺少 " + lifecycle.ScopeAnalysesRead + " 权限，轮询触发器无法读取数据"
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&model.Analysis{}).Where("user_id = ?", key.UserID).Count(&count).Error; err != nil {
		return lifecycle.CheckFailed, "读取分析数据失败: " + err.Error()
	}
	if count == 0 {
		return lifecycle.CheckWarning, "可以访问数据，但当前没有任何分析记录"
	}
	return lifecycle.CheckPassed, fmt.Sprintf("可以访问 %d 条分析记录", count)
}
