package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"integration-console/internal/model"
	"integration-console/internal/pkg/utils"
	"integration-console/pkg/lifecycle"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 批量删除时跳过的原因
const (
	SkipSelf           = "self"
	SkipAlreadyPending = "already pending"
	SkipNotFound       = "not found"
)

// GDPRService 用户数据删除申请
type GDPRService struct {
	db        *gorm.DB
	email     *EmailService
	publisher EventPublisher
	grace     time.Duration
	now       func() time.Time
}

// NewGDPRService 创建删除申请服务
func NewGDPRService(db *gorm.DB, email *EmailService, publisher EventPublisher, graceDays int) *GDPRService {
	return &GDPRService{
		db:        db,
		email:     email,
		publisher: publisher,
		grace:     time.Duration(graceDays) * 24 * time.Hour,
		now:       time.Now,
	}
}

// SkippedUser 被跳过的用户
type SkippedUser struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason"`
}

// BulkDeletionResult 批量申请结果
type BulkDeletionResult struct {
	Created     int                     `json:"created"`
	Skipped     int                     `json:"skipped"`
	SkippedSelf bool                    `json:"skipped_self"`
	Requests    []model.DeletionRequest `json:"requests"`
	SkippedList []SkippedUser           `json:"skipped_users"`
	Message     string                  `json:"message"`
}

// BulkRequest 为多个用户提交删除申请；申请人自己和已有待处理申请的用户会被跳过
func (s *GDPRService) BulkRequest(ctx context.Context, requester *model.User, userIDs []string, reason string) (*BulkDeletionResult, error) {
	if len(userIDs) == 0 {
		return nil, lifecycle.Validation("user_ids", "请选择要删除的用户")
	}
	reason = strings.TrimSpace(reason)
	if len(reason) > 500 {
		return nil, lifecycle.Validation("reason", "原因过长")
	}

	result := &BulkDeletionResult{}
	skip := func(id, why string) {
		result.SkippedList = append(result.SkippedList, SkippedUser{UserID: id, Reason: why})
		if why == SkipSelf {
			result.SkippedSelf = true
		}
	}

	seen := make(map[string]bool, len(userIDs))
	now := s.now()
	var notify []model.User

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, id := range userIDs {
			id = strings.TrimSpace(id)
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true

			if id == requester.ID {
				skip(id, SkipSelf)
				continue
			}
			var user model.User
			if err := tx.First(&user, "id = ?", id).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					skip(id, SkipNotFound)
					continue
				}
				return err
			}
			var pending int64
			if err := tx.Model(&model.DeletionRequest{}).
				Where("user_id = ? AND status = ?", id, model.DeletionPending).
				Count(&pending).Error; err != nil {
				return err
			}
			if pending > 0 || user.Status == model.UserStatusDeleted {
				skip(id, SkipAlreadyPending)
				continue
			}

			req := model.DeletionRequest{
				Record:       model.Record{ID: uuid.NewString()},
				UserID:       user.ID,
				UserEmail:    user.Email,
				RequestedBy:  requester.ID,
				Reason:       reason,
				Status:       model.DeletionPending,
				ScheduledFor: now.Add(s.grace),
			}
			if err := tx.Create(&req).Error; err != nil {
				return err
			}
			if err := tx.Model(&user).Update("status", model.UserStatusPendingDeletion).Error; err != nil {
				return err
			}
			result.Requests = append(result.Requests, req)
			notify = append(notify, user)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.Created = len(result.Requests)
	result.Skipped = len(result.SkippedList)
	result.Message = bulkMessage(result.Created, result.SkippedList)

	for i, req := range result.Requests {
		s.afterRequest(ctx, &notify[i], &req)
	}
	return result, nil
}

// bulkMessage 例如 "2 created, 1 skipped (self)"
func bulkMessage(created int, skipped []SkippedUser) string {
	msg := fmt.Sprintf("%d created", created)
	if len(skipped) == 0 {
		return msg
	}
	counts := map[string]int{}
	for _, s := range skipped {
		counts[s.Reason]++
	}
	var parts []string
	for _, why := range []string{SkipSelf, SkipAlreadyPending, SkipNotFound} {
		n := counts[why]
		if n == 0 {
			continue
		}
		if why == SkipSelf && len(counts) == 1 {
			parts = append(parts, why)
			continue
		}
		parts = append(parts, fmt.Sprintf("%d %s", n, why))
	}
	return fmt.Sprintf("%s, %d skipped (%s)", msg, len(skipped), strings.Join(parts, ", "))
}

// afterRequest 通知用户并发布事件，失败只记录日志
func (s *GDPRService) afterRequest(ctx context.Context, user *model.User, req *model.DeletionRequest) {
	if s.email != nil && s.email.Enabled() {
		err := s.email.SendDeletionNotice(ctx, user.Email, DeletionEmailData{
			UserName:     user.Name,
			ScheduledFor: req.ScheduledFor.Format("2006-01-02 15:04"),
			Reason:       req.Reason,
		})
		if err != nil {
			zap.L().Error("发送删除通知失败", zap.String("email", utils.MaskEmail(user.Email)), zap.Error(err))
		}
	}
	if s.publisher != nil {
		s.publisher.Publish(Event{
			Type: lifecycle.TriggerDeletionRequested,
			Data: map[string]interface{}{
				"deletion_request_id": req.ID,
				"user_id":             req.UserID,
				"scheduled_for":       req.ScheduledFor.Format(time.RFC3339),
			},
		})
	}
}

// List 查询删除申请
func (s *GDPRService) List(ctx context.Context, status string) ([]model.DeletionRequest, error) {
	query := s.db.WithContext(ctx).Model(&model.DeletionRequest{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var items []model.DeletionRequest
	err := query.Order("created_at DESC").Find(&items).Error
	return items, err
}

// Cancel 在宽限期内撤销申请，用户恢复为正常状态
func (s *GDPRService) Cancel(ctx context.Context, id string) (*model.DeletionRequest, error) {
	var req model.DeletionRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&req, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return lifecycle.NotFound("删除申请不存在")
			}
			return err
		}
		if req.Status != model.DeletionPending {
			return lifecycle.Conflict("只能撤销待处理的申请")
		}
		now := s.now()
		if err := tx.Model(&req).Updates(map[string]interface{}{
			"status":       model.DeletionCancelled,
			"cancelled_at": now,
		}).Error; err != nil {
			return err
		}
		req.Status = model.DeletionCancelled
		req.CancelledAt = &now
		return tx.Model(&model.User{}).
			Where("id = ? AND status = ?", req.UserID, model.UserStatusPendingDeletion).
			Update("status", model.UserStatusActive).Error
	})
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// PurgeDue 执行到期的删除申请：匿名化用户并移除其 Key、Webhook、连接和分析记录
func (s *GDPRService) PurgeDue(ctx context.Context) (int, error) {
	var due []model.DeletionRequest
	if err := s.db.WithContext(ctx).
		Where("status = ? AND scheduled_for <= ?", model.DeletionPending, s.now()).
		Find(&due).Error; err != nil {
		return 0, err
	}

	purged := 0
	for i := range due {
		if err := s.purge(ctx, &due[i]); err != nil {
			zap.L().Error("执行删除申请失败", zap.String("request_id", due[i].ID), zap.Error(err))
			continue
		}
		purged++
	}
	return purged, nil
}

func (s *GDPRService) purge(ctx context.Context, req *model.DeletionRequest) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", req.UserID).Delete(&model.Webhook{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", req.UserID).Delete(&model.ApiKey{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", req.UserID).Delete(&model.IntegrationConnection{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", req.UserID).Delete(&model.Analysis{}).Error; err != nil {
			return err
		}
		if err := tx.Model(&model.User{}).Where("id = ?", req.UserID).Updates(map[string]interface{}{
			"email":         "deleted-" + req.UserID + "@deleted.invalid",
			"name":          "",
			"password":      "",
			"last_login_ip": "",
			"status":        model.UserStatusDeleted,
		}).Error; err != nil {
			return err
		}
		if err := tx.Where("id = ?", req.UserID).Delete(&model.User{}).Error; err != nil {
			return err
		}
		now := s.now()
		return tx.Model(req).Updates(map[string]interface{}{
			"status":       model.DeletionCompleted,
			"completed_at": now,
			"user_email":   "",
		}).Error
	})
}
