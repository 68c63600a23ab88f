package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"integration-console/internal/config"
	"integration-console/internal/model"
	"integration-console/internal/pkg/crypto"
	"integration-console/internal/pkg/utils"
	"integration-console/pkg/lifecycle"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrInvalidCredentials 账号或密码错误
var ErrInvalidCredentials = errors.New("邮箱或密码错误")

// LockedError 登录被临时锁定
type LockedError struct {
	Remaining time.Duration
	ByIP      bool
}

func (e *LockedError) Error() string {
	minutes := int(e.Remaining.Minutes()) + 1
	if e.ByIP {
		return fmt.Sprintf("登录尝试过于频繁，请 %d 分钟后再试", minutes)
	}
	return fmt.Sprintf("账号已被锁定，请 %d 分钟后再试", minutes)
}

// UserService 控制台用户
type UserService struct {
	db          *gorm.DB
	accounts    *LoginLimiter
	ips         *LoginLimiter
	jwt         config.JWTConfig
	passwordMin int
}

// NewUserService 创建用户服务
func NewUserService(db *gorm.DB, accounts, ips *LoginLimiter, cfg *config.Config) *UserService {
	return &UserService{
		db:          db,
		accounts:    accounts,
		ips:         ips,
		jwt:         cfg.JWT,
		passwordMin: cfg.Security.PasswordMinLength,
	}
}

// LoginResult 登录结果
type LoginResult struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      *model.User `json:"user"`
}

// Login 邮箱密码登录，账号与 IP 两个维度限制失败次数
func (s *UserService) Login(ctx context.Context, email, password, ip string) (*LoginResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if locked, remaining := s.ips.IsLocked(ip); locked {
		return nil, &LockedError{Remaining: remaining, ByIP: true}
	}
	if locked, remaining := s.accounts.IsLocked(email); locked {
		return nil, &LockedError{Remaining: remaining}
	}

	var user model.User
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if err != nil || !user.CheckPassword(password) {
		s.ips.RecordFailure(ip)
		if locked, remaining := s.accounts.RecordFailure(email); locked {
			zap.L().Warn("账号登录失败次数过多已锁定", zap.String("email", utils.MaskEmail(email)), zap.String("ip", ip))
			return nil, &LockedError{Remaining: remaining}
		}
		return nil, ErrInvalidCredentials
	}
	if user.Status != model.UserStatusActive {
		return nil, lifecycle.Conflict("账号不可用: " + string(user.Status))
	}

	s.accounts.RecordSuccess(email)
	s.ips.RecordSuccess(ip)

	token, err := crypto.GenerateToken(user.ID, user.Email, string(user.Role), s.jwt.Secret, s.jwt.ExpireHours)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	s.db.WithContext(ctx).Model(&user).Updates(map[string]interface{}{
		"last_login_at": now,
		"last_login_ip": ip,
	})
	user.LastLoginAt = &now
	user.LastLoginIP = ip

	return &LoginResult{
		Token:     token,
		ExpiresAt: now.Add(time.Duration(s.jwt.ExpireHours) * time.Hour),
		User:      &user,
	}, nil
}

// UserFilter 用户列表过滤
type UserFilter struct {
	Keyword  string
	Role     string
	Status   string
	Page     int
	PageSize int
}

// List 分页查询用户
func (s *UserService) List(ctx context.Context, f UserFilter) ([]model.User, int64, error) {
	query := s.db.WithContext(ctx).Model(&model.User{})
	if f.Keyword != "" {
		like := "%" + f.Keyword + "%"
		query = query.Where("email LIKE ? OR name LIKE ?", like, like)
	}
	if f.Role != "" {
		query = query.Where("role = ?", f.Role)
	}
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	page, size := utils.Paginate(f.Page, f.PageSize)
	var users []model.User
	err := query.Order("created_at DESC").Offset((page - 1) * size).Limit(size).Find(&users).Error
	return users, total, err
}

// Get 获取用户
func (s *UserService) Get(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, lifecycle.NotFound("用户不存在")
		}
		return nil, err
	}
	return &user, nil
}

// UpdateRole 修改角色，不能修改自己
func (s *UserService) UpdateRole(ctx context.Context, actorID, id, role string) (*model.User, error) {
	if !model.ValidRole(role) {
		return nil, lifecycle.Validation("role", "无效的角色: "+role)
	}
	if actorID == id {
		return nil, lifecycle.Validation("user_id", "不能修改自己的角色")
	}
	user, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(user).Update("role", role).Error; err != nil {
		return nil, err
	}
	user.Role = model.UserRole(role)
	return user, nil
}

// SetDisabled 停用或启用账号
func (s *UserService) SetDisabled(ctx context.Context, actorID, id string, disabled bool) (*model.User, error) {
	if actorID == id {
		return nil, lifecycle.Validation("user_id", "不能停用自己的账号")
	}
	user, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if user.Status == model.UserStatusPendingDeletion || user.Status == model.UserStatusDeleted {
		return nil, lifecycle.Conflict("该账号正在删除流程中")
	}
	status := model.UserStatusActive
	if disabled {
		status = model.UserStatusDisabled
	}
	if err := s.db.WithContext(ctx).Model(user).Update("status", status).Error; err != nil {
		return nil, err
	}
	user.Status = status
	return user, nil
}

// ChangePassword 修改自己的密码
func (s *UserService) ChangePassword(ctx context.Context, id, oldPassword, newPassword string) error {
	user, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !user.CheckPassword(oldPassword) {
		return lifecycle.Validation("old_password", "原密码错误")
	}
	if !crypto.PasswordStrongEnough(newPassword, s.passwordMin) {
		return lifecycle.Validation("new_password", fmt.Sprintf("密码至少 %d 位，且需包含字母和数字", s.passwordMin))
	}
	if err := user.SetPassword(newPassword); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(user).Update("password", user.Password).Error
}

// CreateAdmin 初始化管理员账号（命令行使用）
func (s *UserService) CreateAdmin(ctx context.Context, email, password, name string) (*model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, lifecycle.Validation("email", "邮箱不能为空")
	}
	if !crypto.PasswordStrongEnough(password, s.passwordMin) {
		return nil, lifecycle.Validation("password", fmt.Sprintf("密码至少 %d 位，且需包含字母和数字", s.passwordMin))
	}
	var count int64
	s.db.WithContext(ctx).Model(&model.User{}).Where("email = ?", email).Count(&count)
	if count > 0 {
		return nil, lifecycle.Conflict("邮箱已存在")
	}
	user := &model.User{
		Email:  email,
		Name:   name,
		Role:   model.RoleAdmin,
		Status: model.UserStatusActive,
	}
	if err := user.SetPassword(password); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, err
	}
	return user, nil
}
