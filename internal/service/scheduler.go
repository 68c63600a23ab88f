package service

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// SchedulerDeps 定时任务依赖
type SchedulerDeps struct {
	Health        *HealthService
	GDPR          *GDPRService
	Invites       *InviteService
	Webhooks      *WebhookService
	Limiters      []*LoginLimiter
	PollInterval  time.Duration
	RetentionDays int
}

// SchedulerService 定时任务服务
type SchedulerService struct {
	cron  *cron.Cron
	deps  SchedulerDeps
	tasks map[string]cron.EntryID
}

// NewSchedulerService 创建定时任务服务
func NewSchedulerService(deps SchedulerDeps) *SchedulerService {
	return &SchedulerService{
		cron:  cron.New(cron.WithSeconds()),
		deps:  deps,
		tasks: make(map[string]cron.EntryID),
	}
}

// Register 注册全部任务，返回第一个错误
func (s *SchedulerService) Register() error {
	if s.deps.Health != nil {
		if err := s.add("health_poll", "@every "+s.deps.PollInterval.String(), s.deps.Health.Poll); err != nil {
			return err
		}
	}
	// 每小时执行到期的删除申请
	if err := s.add("gdpr_purge", "0 0 * * * *", s.PurgeDeletions); err != nil {
		return err
	}
	if err := s.add("invite_expiry", "0 30 * * * *", s.ExpireInvites); err != nil {
		return err
	}
	// 每天凌晨 3 点清理过期数据
	if err := s.add("cleanup", "0 0 3 * * *", s.CleanupExpiredData); err != nil {
		return err
	}
	return s.add("limiter_sweep", "@every 5m", s.SweepLimiters)
}

func (s *SchedulerService) add(name, spec string, task func()) error {
	id, err := s.cron.AddFunc(spec, func() {
		defer func() {
			if r := recover(); r != nil {
				zap.L().Error("定时任务异常", zap.String("task", name), zap.Any("panic", r))
			}
		}()
		task()
	})
	if err != nil {
		return err
	}
	s.tasks[name] = id
	return nil
}

// Tasks 已注册的任务名
func (s *SchedulerService) Tasks() []string {
	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	return names
}

// Start 启动定时任务，并立即做一次健康汇总
func (s *SchedulerService) Start() {
	s.cron.Start()
	if s.deps.Health != nil {
		go s.deps.Health.Poll()
	}
	zap.L().Info("定时任务服务已启动", zap.Int("tasks", len(s.tasks)))
}

// Stop 停止并等待正在执行的任务
func (s *SchedulerService) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
		zap.L().Info("定时任务服务已停止")
	case <-ctx.Done():
		zap.L().Warn("定时任务停止超时")
	}
}

func taskContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Minute)
}

// PurgeDeletions 执行到期的删除申请
func (s *SchedulerService) PurgeDeletions() {
	if s.deps.GDPR == nil {
		return
	}
	ctx, cancel := taskContext()
	defer cancel()
	n, err := s.deps.GDPR.PurgeDue(ctx)
	if err != nil {
		zap.L().Error("执行删除申请失败", zap.Error(err))
		return
	}
	if n > 0 {
		zap.L().Info("已完成删除申请", zap.Int("count", n))
	}
}

// ExpireInvites 标记过期邀请
func (s *SchedulerService) ExpireInvites() {
	if s.deps.Invites == nil {
		return
	}
	ctx, cancel := taskContext()
	defer cancel()
	n, err := s.deps.Invites.ExpireStale(ctx)
	if err != nil {
		zap.L().Error("标记过期邀请失败", zap.Error(err))
		return
	}
	if n > 0 {
		zap.L().Info("已标记过期邀请", zap.Int64("count", n))
	}
}

// CleanupExpiredData 清理超过保留期的投递记录
func (s *SchedulerService) CleanupExpiredData() {
	if s.deps.Webhooks == nil {
		return
	}
	ctx, cancel := taskContext()
	defer cancel()
	n, err := s.deps.Webhooks.CleanupDeliveries(ctx, s.deps.RetentionDays)
	if err != nil {
		zap.L().Error("清理投递记录失败", zap.Error(err))
		return
	}
	zap.L().Info("清理投递记录", zap.Int64("count", n))
}

// SweepLimiters 清理登录限制器中的过期记录
func (s *SchedulerService) SweepLimiters() {
	for _, l := range s.deps.Limiters {
		l.Sweep()
	}
}
