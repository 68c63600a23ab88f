package service

import (
	"context"
	"testing"
	"time"

	"integration-console/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerRegistersTasks(t *testing.T) {
	db := newTestDB(t)
	metrics := NewMetrics()
	s := NewSchedulerService(SchedulerDeps{
		Health:       NewHealthService(db, metrics, 24),
		GDPR:         NewGDPRService(db, nil, nil, 30),
		Invites:      NewInviteService(db, NewEmailService(nil, ""), 8),
		PollInterval: 30 * time.Second,
	})
	require.NoError(t, s.Register())
	assert.ElementsMatch(t, []string{"health_poll", "gdpr_purge", "invite_expiry", "cleanup", "limiter_sweep"}, s.Tasks())

	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Stop(ctx)
}

func TestSchedulerWithoutHealth(t *testing.T) {
	s := NewSchedulerService(SchedulerDeps{})
	require.NoError(t, s.Register())
	assert.NotContains(t, s.Tasks(), "health_poll")

	// 依赖缺失时任务直接返回
	s.PurgeDeletions()
	s.ExpireInvites()
	s.CleanupExpiredData()
	s.SweepLimiters()
}

func TestSchedulerTasksRun(t *testing.T) {
	db := newTestDB(t)
	invites := NewInviteService(db, NewEmailService(nil, ""), 8)
	admin := seedUser(t, db, "admin@example.com", model.RoleAdmin)
	created, err := invites.Create(context.Background(), admin, "x@example.com", "")
	require.NoError(t, err)
	require.NoError(t, db.Model(created.Invite).Update("expire_at", time.Now().Add(-time.Hour)).Error)

	limiter := NewLoginLimiter(3, time.Minute, time.Millisecond, false)
	limiter.RecordFailure("a")
	time.Sleep(5 * time.Millisecond)

	s := NewSchedulerService(SchedulerDeps{
		Invites:  invites,
		Limiters: []*LoginLimiter{limiter},
	})
	s.ExpireInvites()
	s.SweepLimiters()

	var stored model.Invite
	require.NoError(t, db.First(&stored, "id = ?", created.Invite.ID).Error)
	assert.Equal(t, model.InviteStatusExpired, stored.Status)
	assert.Equal(t, 0, limiter.Sweep())
	assert.Equal(t, 3, limiter.RemainingAttempts("a"))
}
