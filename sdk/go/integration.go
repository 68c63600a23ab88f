package console

import (
	"context"
	"net/http"
	"strings"
	"time"

	"integration-console/pkg/lifecycle"
)

// Connection 用户与第三方集成之间的连接
type Connection struct {
	ID            string                     `json:"id"`
	IntegrationID string                     `json:"integration_id"`
	UserID        string                     `json:"user_id"`
	Label         string                     `json:"label"`
	Status        lifecycle.ConnectionStatus `json:"status"`
	Configuration map[string]interface{}     `json:"configuration"`
	Enabled       bool                       `json:"enabled"`
	LastSyncAt    *time.Time                 `json:"last_sync_at"`
	LastError     string                     `json:"last_error"`
	ErrorCount    int                        `json:"error_count"`
	CreatedAt     time.Time                  `json:"created_at"`
	UpdatedAt     time.Time                  `json:"updated_at"`

	// Removed 本地标记：连接已断开，等待列表刷新
	Removed bool `json:"-"`
}

// ConnectResult integration-connect 响应
type ConnectResult struct {
	AuthURL string `json:"auth_url"`
	State   string `json:"state"`
}

// Connect 获取授权地址并整页跳转；不会自动重试
func (c *Client) Connect(ctx context.Context, integrationID, redirectURL string) (*ConnectResult, error) {
	integrationID = strings.TrimSpace(integrationID)
	if integrationID == "" {
		return nil, lifecycle.Validation("integration_id", "integration_id 不能为空")
	}

	var result ConnectResult
	if err := c.call(ctx, http.MethodPost, "/api/functions/integration-connect", map[string]string{
		"integration_id": integrationID,
		"redirect_url":   redirectURL,
	}, &result); err != nil {
		return nil, err
	}
	if result.AuthURL == "" {
		return nil, lifecycle.ErrNoAuthURL
	}
	if err := c.opener(result.AuthURL); err != nil {
		return &result, lifecycle.Backend("无法打开授权页面，请手动访问: "+result.AuthURL, err)
	}
	return &result, nil
}

// ListConnections 当前用户的连接
func (c *Client) ListConnections(ctx context.Context) ([]Connection, error) {
	var conns []Connection
	if err := c.call(ctx, http.MethodGet, "/api/connections", nil, &conns); err != nil {
		return nil, err
	}
	return conns, nil
}

// GetConnection 重新读取连接（授权完成回到页面后使用）
func (c *Client) GetConnection(ctx context.Context, id string) (*Connection, error) {
	if err := lifecycle.ValidateUUID("connection_id", id); err != nil {
		return nil, err
	}
	var conn Connection
	if err := c.call(ctx, http.MethodGet, "/api/connections/"+id, nil, &conn); err != nil {
		return nil, err
	}
	return &conn, nil
}

// DisconnectResult integration-disconnect 响应
type DisconnectResult struct {
	Success         bool   `json:"success"`
	UpstreamRevoked bool   `json:"upstream_revoked"`
	RevokeError     string `json:"revoke_error,omitempty"`
}

// Disconnect 断开连接。未确认时直接返回 ErrConfirmationRequired，不发出请求；
// 请求期间 m.Value() 显示为已断开，失败时回滚
func (c *Client) Disconnect(ctx context.Context, m *Mutation[Connection], confirm bool) (*DisconnectResult, error) {
	if !confirm {
		return nil, lifecycle.ErrConfirmationRequired
	}
	current := m.Committed()
	if err := lifecycle.ValidateUUID("connection_id", current.ID); err != nil {
		return nil, err
	}

	optimistic := current
	optimistic.Status = lifecycle.StatusInactive
	optimistic.Removed = true

	var result DisconnectResult
	_, err := m.run(optimistic, func() (Connection, error) {
		err := c.call(ctx, http.MethodPost, "/api/functions/integration-disconnect", map[string]interface{}{
			"connection_id": current.ID,
			"confirm":       true,
		}, &result)
		return optimistic, err
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// SyncResult integration-sync 响应
type SyncResult struct {
	Status     lifecycle.ConnectionStatus `json:"status"`
	LastSyncAt *time.Time                 `json:"last_sync_at,omitempty"`
	LastError  string                     `json:"last_error,omitempty"`
	ErrorCount int                        `json:"error_count"`
}

// Sync 触发一次同步
func (c *Client) Sync(ctx context.Context, connectionID string) (*SyncResult, error) {
	if err := lifecycle.ValidateUUID("connection_id", connectionID); err != nil {
		return nil, err
	}
	var result SyncResult
	if err := c.call(ctx, http.MethodPost, "/api/functions/integration-sync", map[string]string{
		"connection_id": connectionID,
	}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ConfigUpdate 连接配置修改，nil 字段保持不变；Configuration 中值为 nil 的键会被删除
type ConfigUpdate struct {
	Label         *string                `json:"label,omitempty"`
	Configuration map[string]interface{} `json:"configuration,omitempty"`
	Enabled       *bool                  `json:"enabled,omitempty"`
}

// apply 计算乐观值
func (u ConfigUpdate) apply(conn Connection) Connection {
	if u.Label != nil {
		conn.Label = *u.Label
	}
	if u.Configuration != nil {
		merged := make(map[string]interface{}, len(conn.Configuration)+len(u.Configuration))
		for k, v := range conn.Configuration {
			merged[k] = v
		}
		for k, v := range u.Configuration {
			if v == nil {
				delete(merged, k)
				continue
			}
			merged[k] = v
		}
		conn.Configuration = merged
	}
	if u.Enabled != nil {
		conn.Enabled = *u.Enabled
		if !*u.Enabled {
			conn.Status = lifecycle.StatusInactive
		}
	}
	return conn
}

// UpdateConnectionConfig 乐观地修改配置，成功后以服务端返回为准
func (c *Client) UpdateConnectionConfig(ctx context.Context, m *Mutation[Connection], update ConfigUpdate) (*Connection, error) {
	current := m.Committed()
	if err := lifecycle.ValidateUUID("connection_id", current.ID); err != nil {
		return nil, err
	}

	conn, err := m.run(update.apply(current), func() (Connection, error) {
		var updated Connection
		err := c.call(ctx, http.MethodPut, "/api/connections/"+current.ID, update, &updated)
		return updated, err
	})
	if err != nil {
		return nil, err
	}
	return &conn, nil
}
