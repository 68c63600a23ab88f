package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"integration-console/internal/model"
	"integration-console/pkg/lifecycle"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AnalysisService 转录分析队列
type AnalysisService struct {
	db        *gorm.DB
	publisher EventPublisher
	now       func() time.Time
}

// NewAnalysisService 创建分析队列服务
func NewAnalysisService(db *gorm.DB, publisher EventPublisher) *AnalysisService {
	return &AnalysisService{db: db, publisher: publisher, now: time.Now}
}

// CreateAnalysisInput 新建分析
type CreateAnalysisInput struct {
	UserID       string `json:"user_id"`
	TranscriptID string `json:"transcript_id"`
	Title        string `json:"title"`
}

// Create 新转录入队，发布 transcript.created
func (s *AnalysisService) Create(ctx context.Context, in CreateAnalysisInput) (*model.Analysis, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, lifecycle.Validation("title", "标题不能为空")
	}
	if in.UserID == "" {
		return nil, lifecycle.Validation("user_id", "user_id 不能为空")
	}
	transcriptID := in.TranscriptID
	if transcriptID == "" {
		transcriptID = uuid.NewString()
	} else if err := lifecycle.ValidateUUID("transcript_id", transcriptID); err != nil {
		return nil, err
	}

	a := &model.Analysis{
		Record:       model.Record{ID: uuid.NewString()},
		UserID:       in.UserID,
		TranscriptID: transcriptID,
		Title:        title,
		Status:       model.AnalysisQueued,
	}
	if err := s.db.WithContext(ctx).Create(a).Error; err != nil {
		return nil, err
	}

	s.publish(lifecycle.TriggerTranscriptCreated, a)
	return a, nil
}

// UpdateStatusInput 状态流转
type UpdateStatusInput struct {
	Status  model.AnalysisStatus `json:"status"`
	Summary string               `json:"summary"`
	Error   string               `json:"error"`
}

// UpdateStatus 推进分析状态；完成或失败时发布对应事件
func (s *AnalysisService) UpdateStatus(ctx context.Context, id string, in UpdateStatusInput) (*model.Analysis, error) {
	a, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status == model.AnalysisCompleted || a.Status == model.AnalysisFailed {
		return nil, lifecycle.Conflict("分析已结束，不能再修改状态")
	}

	updates := map[string]interface{}{"status": in.Status}
	switch in.Status {
	case model.AnalysisProcessing:
	case model.AnalysisCompleted:
		now := s.now()
		updates["summary"] = in.Summary
		updates["completed_at"] = now
		a.Summary, a.CompletedAt = in.Summary, &now
	case model.AnalysisFailed:
		if strings.TrimSpace(in.Error) == "" {
			return nil, lifecycle.Validation("error", "失败时必须提供错误信息")
		}
		now := s.now()
		updates["error"] = in.Error
		updates["completed_at"] = now
		a.Error, a.CompletedAt = in.Error, &now
	default:
		return nil, lifecycle.Validation("status", "无效的状态: "+string(in.Status))
	}

	if err := s.db.WithContext(ctx).Model(a).Updates(updates).Error; err != nil {
		return nil, err
	}
	a.Status = in.Status

	switch a.Status {
	case model.AnalysisCompleted:
		s.publish(lifecycle.TriggerAnalysisCompleted, a)
	case model.AnalysisFailed:
		s.publish(lifecycle.TriggerAnalysisFailed, a)
	}
	return a, nil
}

func (s *AnalysisService) publish(t lifecycle.TriggerType, a *model.Analysis) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(Event{
		Type:   t,
		UserID: a.UserID,
		Data:   AnalysisEventData(a),
	})
}

// AnalysisEventData 事件负载及 Zapier 轮询返回的字段
func AnalysisEventData(a *model.Analysis) map[string]interface{} {
	data := map[string]interface{}{
		"analysis_id":   a.ID,
		"transcript_id": a.TranscriptID,
		"title":         a.Title,
		"status":        string(a.Status),
		"created_at":    a.CreatedAt.Format(time.RFC3339),
	}
	if a.Summary != "" {
		data["summary"] = a.Summary
	}
	if a.Error != "" {
		data["error"] = a.Error
	}
	if a.CompletedAt != nil {
		data["completed_at"] = a.CompletedAt.Format(time.RFC3339)
	}
	return data
}

// Get 获取分析
func (s *AnalysisService) Get(ctx context.Context, id string) (*model.Analysis, error) {
	var a model.Analysis
	if err := s.db.WithContext(ctx).First(&a, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, lifecycle.NotFound("分析记录不存在")
		}
		return nil, err
	}
	return &a, nil
}

// QueueStats 队列看板
type QueueStats struct {
	Queued         int64            `json:"queued"`
	Processing     int64            `json:"processing"`
	Completed      int64            `json:"completed"`
	Failed         int64            `json:"failed"`
	RecentFailures []model.Analysis `json:"recent_failures"`
}

// QueueStats 按状态计数并附带最近失败
func (s *AnalysisService) QueueStats(ctx context.Context) (*QueueStats, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	if err := s.db.WithContext(ctx).Model(&model.Analysis{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	stats := &QueueStats{}
	for _, r := range rows {
		switch model.AnalysisStatus(r.Status) {
		case model.AnalysisQueued:
			stats.Queued = r.Count
		case model.AnalysisProcessing:
			stats.Processing = r.Count
		case model.AnalysisCompleted:
			stats.Completed = r.Count
		case model.AnalysisFailed:
			stats.Failed = r.Count
		}
	}
	if err := s.db.WithContext(ctx).
		Where("status = ?", model.AnalysisFailed).
		Order("completed_at DESC").
		Limit(10).
		Find(&stats.RecentFailures).Error; err != nil {
		return nil, err
	}
	return stats, nil
}

// ListRecent 最近的分析；userID 为空时不过滤
func (s *AnalysisService) ListRecent(ctx context.Context, userID, status string, limit int) ([]model.Analysis, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query := s.db.WithContext(ctx).Model(&model.Analysis{})
	if userID != "" {
		query = query.Where("user_id = ?", userID)
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var items []model.Analysis
	err := query.Order("created_at DESC").Limit(limit).Find(&items).Error
	return items, err
}
