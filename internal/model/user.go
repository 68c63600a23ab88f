package model

import (
	"time"

	"integration-console/internal/pkg/crypto"
)

// User 控制台用户
type User struct {
	BaseModel
	Email       string     `gorm:"type:varchar(100);uniqueIndex;not null" json:"email"`
	Password    string     `gorm:"type:varchar(255)" json:"-"`
	Name        string     `gorm:"type:varchar(50)" json:"name"`
	Role        UserRole   `gorm:"type:varchar(20);not null;default:viewer" json:"role"`
	Status      UserStatus `gorm:"type:varchar(20);default:active" json:"status"`
	LastLoginAt *time.Time `json:"last_login_at"`
	LastLoginIP string     `gorm:"type:varchar(45)" json:"last_login_ip"`
	InvitedBy   *string    `gorm:"type:varchar(36)" json:"invited_by"`
}

// UserRole 用户角色
type UserRole string

const (
	RoleAdmin    UserRole = "admin"    // 管理员：全部权限
	RoleOperator UserRole = "operator" // 运维：管理集成、Key、Webhook
	RoleViewer   UserRole = "viewer"   // 查看者：只读
)

// ValidRole 是否是合法角色
func ValidRole(r string) bool {
	switch UserRole(r) {
	case RoleAdmin, RoleOperator, RoleViewer:
		return true
	}
	return false
}

// UserStatus 用户状态
type UserStatus string

const (
	UserStatusActive          UserStatus = "active"
	UserStatusDisabled        UserStatus = "disabled"
	UserStatusPendingDeletion UserStatus = "pending_deletion"
	UserStatusDeleted         UserStatus = "deleted"
)

func (User) TableName() string {
	return "users"
}

// SetPassword 设置密码（加密）
func (u *User) SetPassword(password string) error {
	hashed, err := crypto.HashPassword(password)
	if err != nil {
		return err
	}
	u.Password = hashed
	return nil
}

// CheckPassword 验证密码
func (u *User) CheckPassword(password string) bool {
	if u.Password == "" {
		return false
	}
	return crypto.CheckPassword(password, u.Password)
}

// HasPermission 检查是否有指定权限
func (u *User) HasPermission(permission string) bool {
	return RoleHasPermission(u.Role, permission)
}

// IsAdmin 是否是管理员
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// 权限
const (
	PermIntegrationRead   = "integration:read"
	PermIntegrationManage = "integration:manage"
	PermIntegrationConfig = "integration:configure"
	PermApiKeyRead        = "apikey:read"
	PermApiKeyManage      = "apikey:manage"
	PermWebhookRead       = "webhook:read"
	PermWebhookManage     = "webhook:manage"
	PermDiagnosticsRun    = "diagnostics:run"
	PermUserRead          = "user:read"
	PermUserManage        = "user:manage"
	PermDeletionManage    = "deletion:manage"
	PermAnalysisRead      = "analysis:read"
	PermAnalysisManage    = "analysis:manage"
	PermAuditRead         = "audit:read"
	PermExportRead        = "export:read"
)

// RolePermissions 角色权限映射
var RolePermissions = map[UserRole]map[string]bool{
	RoleAdmin: {
		PermIntegrationRead:   true,
		PermIntegrationManage: true,
		PermIntegrationConfig: true,
		PermApiKeyRead:        true,
		PermApiKeyManage:      true,
		PermWebhookRead:       true,
		PermWebhookManage:     true,
		PermDiagnosticsRun:    true,
		PermUserRead:          true,
		PermUserManage:        true,
		PermDeletionManage:    true,
		PermAnalysisRead:      true,
		PermAnalysisManage:    true,
		PermAuditRead:         true,
		PermExportRead:        true,
	},
	RoleOperator: {
		PermIntegrationRead:   true,
		PermIntegrationManage: true,
		PermApiKeyRead:        true,
		PermApiKeyManage:      true,
		PermWebhookRead:       true,
		PermWebhookManage:     true,
		PermDiagnosticsRun:    true,
		PermUserRead:          true,
		PermAnalysisRead:      true,
		PermAnalysisManage:    true,
		PermExportRead:        true,
	},
	RoleViewer: {
		PermIntegrationRead: true,
		PermApiKeyRead:      true,
		PermWebhookRead:     true,
		PermUserRead:        true,
		PermAnalysisRead:    true,
	},
}

// RoleHasPermission 按角色检查权限
func RoleHasPermission(role UserRole, permission string) bool {
	return RolePermissions[role][permission]
}

// Invite 邀请
type Invite struct {
	BaseModel
	Email      string       `gorm:"type:varchar(100);index;not null" json:"email"`
	Role       UserRole     `gorm:"type:varchar(20);default:viewer" json:"role"`
	TokenHash  string       `gorm:"type:varchar(64);uniqueIndex;not null" json:"-"`
	InvitedBy  string       `gorm:"type:varchar(36);not null" json:"invited_by"`
	Status     InviteStatus `gorm:"type:varchar(20);default:pending" json:"status"`
	ExpireAt   time.Time    `gorm:"not null" json:"expire_at"`
	AcceptedAt *time.Time   `json:"accepted_at"`
}

// InviteStatus 邀请状态
type InviteStatus string

const (
	InviteStatusPending  InviteStatus = "pending"  // 待接受
	InviteStatusAccepted InviteStatus = "accepted" // 已接受
	InviteStatusExpired  InviteStatus = "expired"  // 已过期
	InviteStatusRevoked  InviteStatus = "revoked"  // 已撤销
)

func (Invite) TableName() string {
	return "invites"
}

// IsExpired 是否已过期
func (i *Invite) IsExpired() bool {
	return time.Now().After(i.ExpireAt)
}

// DeletionRequest GDPR 删除请求
type DeletionRequest struct {
	Record
	UserID       string         `gorm:"type:varchar(36);index;not null" json:"user_id"`
	UserEmail    string         `gorm:"type:varchar(100)" json:"user_email"`
	RequestedBy  string         `gorm:"type:varchar(36);not null" json:"requested_by"`
	Reason       string         `gorm:"type:varchar(500)" json:"reason"`
	Status       DeletionStatus `gorm:"type:varchar(20);index;default:pending" json:"status"`
	ScheduledFor time.Time      `gorm:"index" json:"scheduled_for"`
	CompletedAt  *time.Time     `json:"completed_at"`
	CancelledAt  *time.Time     `json:"cancelled_at"`
}

// DeletionStatus 删除请求状态
type DeletionStatus string

const (
	DeletionPending   DeletionStatus = "pending"
	DeletionCancelled DeletionStatus = "cancelled"
	DeletionCompleted DeletionStatus = "completed"
)

func (DeletionRequest) TableName() string {
	return "deletion_requests"
}
