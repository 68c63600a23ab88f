package service

import (
	"context"
	"errors"
	"time"

	"integration-console/internal/model"
	"integration-console/pkg/lifecycle"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ConnectionService 集成连接存储
type ConnectionService struct {
	db    *gorm.DB
	oauth *OAuthService
	http  *resty.Client
}

// NewConnectionService 创建连接服务
func NewConnectionService(db *gorm.DB, oauth *OAuthService, httpClient *resty.Client) *ConnectionService {
	return &ConnectionService{db: db, oauth: oauth, http: httpClient}
}

// ConnectionFilter 列表过滤条件
type ConnectionFilter struct {
	UserID        string
	IntegrationID string
	Status        string
}

// List 查询连接
func (s *ConnectionService) List(ctx context.Context, f ConnectionFilter) ([]model.IntegrationConnection, error) {
	query := s.db.WithContext(ctx).Model(&model.IntegrationConnection{})
	if f.UserID != "" {
		query = query.Where("user_id = ?", f.UserID)
	}
	if f.IntegrationID != "" {
		query = query.Where("integration_id = ?", f.IntegrationID)
	}
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}
	var conns []model.IntegrationConnection
	err := query.Order("created_at DESC").Find(&conns).Error
	return conns, err
}

// Get 获取单个连接
func (s *ConnectionService) Get(ctx context.Context, id string) (*model.IntegrationConnection, error) {
	var conn model.IntegrationConnection
	if err := s.db.WithContext(ctx).First(&conn, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, lifecycle.NotFound("连接不存在")
		}
		return nil, err
	}
	return &conn, nil
}

// UpdateConfigInput 设置面板的修改
type UpdateConfigInput struct {
	Label         *string                `json:"label"`
	Configuration map[string]interface{} `json:"configuration"`
	Enabled       *bool                  `json:"enabled"`
}

// UpdateConfiguration 合并配置；启停通过结果推导状态
func (s *ConnectionService) UpdateConfiguration(ctx context.Context, id string, in UpdateConfigInput) (*model.IntegrationConnection, error) {
	conn, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if in.Label != nil {
		updates["label"] = *in.Label
	}
	if in.Configuration != nil {
		merged := datatypes.JSONMap{}
		for k, v := range conn.Configuration {
			merged[k] = v
		}
		for k, v := range in.Configuration {
			if v == nil {
				delete(merged, k)
				continue
			}
			merged[k] = v
		}
		updates["configuration"] = merged
	}
	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(conn).Updates(updates).Error; err != nil {
			return nil, err
		}
	}

	if in.Enabled != nil && *in.Enabled != conn.Enabled {
		if err := s.db.WithContext(ctx).Model(conn).Update("enabled", *in.Enabled).Error; err != nil {
			return nil, err
		}
		if *in.Enabled {
			// 重新启用后回到最近一次真实结果对应的状态
			outcome := conn.LastOutcome
			if outcome == "" || outcome == lifecycle.OutcomeDisabled {
				outcome = lifecycle.OutcomeAwaitingAuth
				if conn.HasCredentials() {
					outcome = lifecycle.OutcomeSucceeded
				}
			}
			if err := s.setStatus(ctx, conn.ID, outcome); err != nil {
				return nil, err
			}
		} else if err := s.setStatus(ctx, conn.ID, lifecycle.OutcomeDisabled); err != nil {
			return nil, err
		}
	}

	return s.Get(ctx, id)
}

// setStatus 仅更新状态，不计入同步结果
func (s *ConnectionService) setStatus(ctx context.Context, id string, outcome lifecycle.Outcome) error {
	updates := map[string]interface{}{"status": lifecycle.DeriveStatus(outcome)}
	if outcome != lifecycle.OutcomeDisabled {
		updates["last_outcome"] = outcome
	}
	return s.db.WithContext(ctx).Model(&model.IntegrationConnection{}).Where("id = ?", id).Updates(updates).Error
}

// RecordOutcome 记录同步/测试结果，这是唯一写入状态的入口
func (s *ConnectionService) RecordOutcome(ctx context.Context, id string, outcome lifecycle.Outcome, message string) (*model.IntegrationConnection, error) {
	updates := map[string]interface{}{
		"status":       lifecycle.DeriveStatus(outcome),
		"last_outcome": outcome,
	}
	switch outcome {
	case lifecycle.OutcomeSucceeded:
		updates["error_count"] = 0
		updates["last_error"] = ""
		updates["last_sync_at"] = time.Now()
	case lifecycle.OutcomeFailed:
		updates["error_count"] = gorm.Expr("error_count + ?", 1)
		updates["last_error"] = message
	}

	res := s.db.WithContext(ctx).Model(&model.IntegrationConnection{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, lifecycle.NotFound("连接不存在")
	}
	return s.Get(ctx, id)
}

// SyncResult integration-sync 响应
type SyncResult struct {
	Status     lifecycle.ConnectionStatus `json:"status"`
	LastSyncAt *time.Time                 `json:"last_sync_at,omitempty"`
	LastError  string                     `json:"last_error,omitempty"`
	ErrorCount int                        `json:"error_count"`
}

// Sync 校验连接凭证是否仍可用（OAuth 连接会按需刷新令牌）
func (s *ConnectionService) Sync(ctx context.Context, id string) (*SyncResult, error) {
	conn, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !conn.Enabled {
		return nil, lifecycle.Conflict("连接已停用，请先启用")
	}

	outcome, message := s.probe(ctx, conn)
	if outcome == lifecycle.OutcomeFailed {
		zap.L().Warn("连接同步失败",
			zap.String("connection_id", conn.ID),
			zap.String("integration", conn.IntegrationID),
			zap.String("error", message))
	}

	updated, err := s.RecordOutcome(ctx, conn.ID, outcome, message)
	if err != nil {
		return nil, err
	}
	return &SyncResult{
		Status:     updated.Status,
		LastSyncAt: updated.LastSyncAt,
		LastError:  updated.LastError,
		ErrorCount: updated.ErrorCount,
	}, nil
}

// probe 按认证方式检查连接
func (s *ConnectionService) probe(ctx context.Context, conn *model.IntegrationConnection) (lifecycle.Outcome, string) {
	def, ok := model.FindIntegration(conn.IntegrationID)
	if !ok {
		return lifecycle.OutcomeFailed, "未知的集成: " + conn.IntegrationID
	}

	switch def.AuthType {
	case model.AuthOAuth2:
		if !conn.HasCredentials() {
			return lifecycle.OutcomeFailed, "连接缺少凭证，请重新授权"
		}
		if _, err := s.oauth.RefreshToken(ctx, conn); err != nil {
			return lifecycle.OutcomeFailed, err.Error()
		}
		return lifecycle.OutcomeSucceeded, ""
	default:
		// API Key 类集成：用户至少持有一个可用的 Key
		var keys []model.ApiKey
		if err := s.db.WithContext(ctx).Where("user_id = ? AND is_active = ?", conn.UserID, true).Find(&keys).Error; err != nil {
			return lifecycle.OutcomeFailed, err.Error()
		}
		now := time.Now()
		for _, k := range keys {
			if k.Usable(now) {
				return lifecycle.OutcomeSucceeded, ""
			}
		}
		return lifecycle.OutcomeFailed, "没有可用的 API Key"
	}
}

// DisconnectResult integration-disconnect 响应
type DisconnectResult struct {
	Success         bool   `json:"success"`
	UpstreamRevoked bool   `json:"upstream_revoked"`
	RevokeError     string `json:"revoke_error,omitempty"`
}

// Disconnect 撤销上游令牌并删除连接；必须显式确认
func (s *ConnectionService) Disconnect(ctx context.Context, id string, confirm bool) (*DisconnectResult, error) {
	if !confirm {
		return nil, lifecycle.ErrConfirmationRequired
	}
	conn, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	result := &DisconnectResult{Success: true}
	if conn.HasCredentials() {
		if err := s.revokeUpstream(ctx, conn); err != nil {
			// 上游撤销失败不阻止本地删除
			result.RevokeError = err.Error()
			zap.L().Warn("撤销上游令牌失败",
				zap.String("connection_id", conn.ID),
				zap.String("integration", conn.IntegrationID),
				zap.Error(err))
		} else {
			result.UpstreamRevoked = true
		}
	}

	if err := s.db.WithContext(ctx).Delete(&model.IntegrationConnection{}, "id = ?", conn.ID).Error; err != nil {
		return nil, err
	}
	return result, nil
}

// revokeUpstream 按 RFC 7009 调用撤销端点
func (s *ConnectionService) revokeUpstream(ctx context.Context, conn *model.IntegrationConnection) error {
	revokeURL, clientID, clientSecret, err := s.oauth.RevocationCredentials(ctx, conn.IntegrationID)
	if err != nil {
		return err
	}
	if revokeURL == "" {
		return errors.New("该集成未配置撤销地址")
	}
	tok, err := s.oauth.Token(conn)
	if err != nil {
		return err
	}

	token, hint := tok.AccessToken, "access_token"
	if tok.RefreshToken != "" {
		token, hint = tok.RefreshToken, "refresh_token"
	}
	resp, err := s.http.R().
		SetContext(ctx).
		SetBasicAuth(clientID, clientSecret).
		SetFormData(map[string]string{
			"token":           token,
			"token_type_hint": hint,
		}).
		Post(revokeURL)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return errors.New(resp.Status())
	}
	return nil
}

// Delete 管理员删除连接，不调用上游撤销
func (s *ConnectionService) Delete(ctx context.Context, id string, confirm bool) error {
	if !confirm {
		return lifecycle.ErrConfirmationRequired
	}
	res := s.db.WithContext(ctx).Delete(&model.IntegrationConnection{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return lifecycle.NotFound("连接不存在")
	}
	return nil
}

// DeleteForUser 直接删除（不撤销上游），供 GDPR 清理使用
func (s *ConnectionService) DeleteForUser(ctx context.Context, tx *gorm.DB, userID string) error {
	return tx.WithContext(ctx).Where("user_id = ?", userID).Delete(&model.IntegrationConnection{}).Error
}
