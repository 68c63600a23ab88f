package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"integration-console/internal/model"
	"integration-console/internal/pkg/crypto"
	"integration-console/internal/pkg/utils"
	"integration-console/pkg/lifecycle"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// inviteTTL 邀请有效期
const inviteTTL = 7 * 24 * time.Hour

// InviteService 用户邀请
type InviteService struct {
	db          *gorm.DB
	email       *EmailService
	passwordMin int
	now         func() time.Time
}

// NewInviteService 创建邀请服务
func NewInviteService(db *gorm.DB, email *EmailService, passwordMin int) *InviteService {
	return &InviteService{db: db, email: email, passwordMin: passwordMin, now: time.Now}
}

// CreatedInvite 新邀请；Token 只返回这一次
type CreatedInvite struct {
	Invite *model.Invite `json:"invite"`
	Token  string        `json:"token"`
	Sent   bool          `json:"email_sent"`
}

// Create 创建邀请并发送邮件，邮件失败不影响邀请本身
func (s *InviteService) Create(ctx context.Context, inviter *model.User, email, role string) (*CreatedInvite, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil {
		return nil, lifecycle.Validation("email", "邮箱格式错误")
	}
	email = strings.ToLower(addr.Address)
	if role == "" {
		role = string(model.RoleViewer)
	}
	if !model.ValidRole(role) {
		return nil, lifecycle.Validation("role", "无效的角色: "+role)
	}

	var count int64
	s.db.WithContext(ctx).Model(&model.User{}).Where("email = ?", email).Count(&count)
	if count > 0 {
		return nil, lifecycle.Conflict("该邮箱已是控制台用户")
	}
	s.db.WithContext(ctx).Model(&model.Invite{}).
		Where("email = ? AND status = ? AND expire_at > ?", email, model.InviteStatusPending, s.now()).
		Count(&count)
	if count > 0 {
		return nil, lifecycle.Conflict("该邮箱已有待接受的邀请")
	}

	token := utils.GenerateInviteToken()
	invite := &model.Invite{
		Email:     email,
		Role:      model.UserRole(role),
		TokenHash: crypto.SHA256HashString(token),
		InvitedBy: inviter.ID,
		Status:    model.InviteStatusPending,
		ExpireAt:  s.now().Add(inviteTTL),
	}
	if err := s.db.WithContext(ctx).Create(invite).Error; err != nil {
		return nil, err
	}

	sent := s.send(ctx, inviter, invite, token)
	return &CreatedInvite{Invite: invite, Token: token, Sent: sent}, nil
}

func (s *InviteService) send(ctx context.Context, inviter *model.User, invite *model.Invite, token string) bool {
	if !s.email.Enabled() {
		return false
	}
	name := inviter.Name
	if name == "" {
		name = inviter.Email
	}
	err := s.email.SendInvite(ctx, invite.Email, token, InviteEmailData{
		InviterName: name,
		Role:        string(invite.Role),
		ExpireAt:    invite.ExpireAt.Format("2006-01-02 15:04"),
	})
	if err != nil {
		zap.L().Error("发送邀请邮件失败", zap.String("email", utils.MaskEmail(invite.Email)), zap.Error(err))
		return false
	}
	return true
}

// List 查询邀请
func (s *InviteService) List(ctx context.Context, status string) ([]model.Invite, error) {
	query := s.db.WithContext(ctx).Model(&model.Invite{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var invites []model.Invite
	err := query.Order("created_at DESC").Find(&invites).Error
	return invites, err
}

func (s *InviteService) get(ctx context.Context, id string) (*model.Invite, error) {
	var invite model.Invite
	if err := s.db.WithContext(ctx).First(&invite, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, lifecycle.NotFound("邀请不存在")
		}
		return nil, err
	}
	return &invite, nil
}

// Revoke 撤销待接受的邀请
func (s *InviteService) Revoke(ctx context.Context, id string) error {
	invite, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	if invite.Status != model.InviteStatusPending {
		return lifecycle.Conflict("只能撤销待接受的邀请")
	}
	return s.db.WithContext(ctx).Model(invite).Update("status", model.InviteStatusRevoked).Error
}

// Resend 重新生成 Token 并延长有效期
func (s *InviteService) Resend(ctx context.Context, inviter *model.User, id string) (*CreatedInvite, error) {
	invite, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if invite.Status != model.InviteStatusPending && invite.Status != model.InviteStatusExpired {
		return nil, lifecycle.Conflict("该邀请已处理，无法重新发送")
	}

	token := utils.GenerateInviteToken()
	invite.TokenHash = crypto.SHA256HashString(token)
	invite.Status = model.InviteStatusPending
	invite.ExpireAt = s.now().Add(inviteTTL)
	if err := s.db.WithContext(ctx).Model(invite).Updates(map[string]interface{}{
		"token_hash": invite.TokenHash,
		"status":     invite.Status,
		"expire_at":  invite.ExpireAt,
	}).Error; err != nil {
		return nil, err
	}
	sent := s.send(ctx, inviter, invite, token)
	return &CreatedInvite{Invite: invite, Token: token, Sent: sent}, nil
}

// Accept 接受邀请并创建账号
func (s *InviteService) Accept(ctx context.Context, token, name, password string) (*model.User, error) {
	if token == "" {
		return nil, lifecycle.Validation("token", "缺少邀请 Token")
	}
	if !crypto.PasswordStrongEnough(password, s.passwordMin) {
		return nil, lifecycle.Validation("password", fmt.Sprintf("密码至少 %d 位，且需包含字母和数字", s.passwordMin))
	}

	var user *model.User
	var expiredID string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var invite model.Invite
		if err := tx.Where("token_hash = ?", crypto.SHA256HashString(token)).First(&invite).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return lifecycle.NotFound("邀请不存在")
			}
			return err
		}
		if invite.Status != model.InviteStatusPending {
			return lifecycle.Conflict("邀请已失效")
		}
		if s.now().After(invite.ExpireAt) {
			expiredID = invite.ID
			return lifecycle.Conflict("邀请已过期")
		}

		inviter := invite.InvitedBy
		user = &model.User{
			Email:     invite.Email,
			Name:      strings.TrimSpace(name),
			Role:      invite.Role,
			Status:    model.UserStatusActive,
			InvitedBy: &inviter,
		}
		if err := user.SetPassword(password); err != nil {
			return err
		}
		if err := tx.Create(user).Error; err != nil {
			return err
		}
		now := s.now()
		return tx.Model(&invite).Updates(map[string]interface{}{
			"status":      model.InviteStatusAccepted,
			"accepted_at": now,
		}).Error
	})
	if expiredID != "" {
		// 事务已回滚，单独落库过期状态
		s.db.WithContext(ctx).Model(&model.Invite{}).Where("id = ?", expiredID).Update("status", model.InviteStatusExpired)
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// ExpireStale 将过期的待接受邀请标记为已过期
func (s *InviteService) ExpireStale(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Model(&model.Invite{}).
		Where("status = ? AND expire_at < ?", model.InviteStatusPending, s.now()).
		Update("status", model.InviteStatusExpired)
	return res.RowsAffected, res.Error
}
