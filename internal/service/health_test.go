package service

import (
	"context"
	"testing"
	"time"

	"integration-console/internal/model"
	"integration-console/pkg/lifecycle"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func seedConnection(t *testing.T, db *gorm.DB, integrationID string, status lifecycle.ConnectionStatus) {
	t.Helper()
	require.NoError(t, db.Create(&model.IntegrationConnection{
		Record:        model.Record{ID: uuid.NewString()},
		IntegrationID: integrationID,
		UserID:        "u1",
		Status:        status,
		Enabled:       status != lifecycle.StatusInactive,
	}).Error)
}

func seedDelivery(t *testing.T, db *gorm.DB, integrationID string, success bool, createdAt time.Time) {
	t.Helper()
	require.NoError(t, db.Create(&model.WebhookDelivery{
		Record:        model.Record{ID: uuid.NewString(), CreatedAt: createdAt},
		WebhookID:     uuid.NewString(),
		IntegrationID: integrationID,
		TriggerType:   string(lifecycle.TriggerAnalysisCompleted),
		Success:       success,
	}).Error)
}

func TestHealthSnapshot(t *testing.T) {
	db := newTestDB(t)
	metrics := NewMetrics()
	health := NewHealthService(db, metrics, 24)
	ctx := context.Background()
	now := time.Now()

	seedConnection(t, db, "zoom", lifecycle.StatusActive)
	seedConnection(t, db, "zoom", lifecycle.StatusError)
	seedConnection(t, db, "zapier", lifecycle.StatusActive)
	seedConnection(t, db, "slack", lifecycle.StatusInactive)
	seedConnection(t, db, "hubspot", lifecycle.StatusPending)

	for i := 0; i < 9; i++ {
		seedDelivery(t, db, "zapier", true, now.Add(-time.Hour))
	}
	seedDelivery(t, db, "zapier", false, now.Add(-time.Hour))
	// 窗口外的失败不计入
	seedDelivery(t, db, "zapier", false, now.Add(-48*time.Hour))

	require.NoError(t, db.Create(&model.Webhook{
		Record: model.Record{ID: uuid.NewString()}, ApiKeyID: uuid.NewString(), TargetURL: "https://hooks.zapier.com/a",
		TriggerType: "analysis.completed", IsActive: true, SuccessCount: 9, FailureCount: 1, Secret: "whsec_a",
	}).Error)
	require.NoError(t, db.Create(&model.Webhook{
		Record: model.Record{ID: uuid.NewString()}, ApiKeyID: uuid.NewString(), TargetURL: "https://hooks.zapier.com/b",
		TriggerType: "analysis.failed", IsActive: true, FailureCount: 1, LastError: "410 Gone", Secret: "whsec_b",
	}).Error)
	require.NoError(t, db.Create(&model.Webhook{
		Record: model.Record{ID: uuid.NewString()}, ApiKeyID: uuid.NewString(), TargetURL: "https://hooks.zapier.com/c",
		TriggerType: "transcript.created", IsActive: false, Secret: "whsec_c",
	}).Error)

	snap, err := health.Snapshot(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 24, snap.WindowHours)
	assert.Equal(t, ConnectionCounts{Total: 5, Active: 2, Error: 1, Inactive: 1, Pending: 1}, snap.Connections)

	byID := map[string]IntegrationHealth{}
	for _, h := range snap.Integrations {
		byID[h.IntegrationID] = h
	}
	zapier := byID["zapier"]
	assert.Equal(t, "Zapier", zapier.Name)
	assert.Equal(t, int64(10), zapier.Deliveries)
	assert.Equal(t, int64(9), zapier.Successes)
	assert.InDelta(t, 90.0, zapier.SuccessRate, 0.001)
	assert.Equal(t, lifecycle.RateHealthy, zapier.RateLevel)

	zoom := byID["zoom"]
	assert.Equal(t, int64(2), zoom.Connections.Total)
	assert.Equal(t, lifecycle.RateNone, zoom.RateLevel)

	for i := 1; i < len(snap.Integrations); i++ {
		assert.Less(t, snap.Integrations[i-1].IntegrationID, snap.Integrations[i].IntegrationID)
	}

	assert.Equal(t, WebhookSummary{
		Total: 3, Active: 1, Inactive: 1, Expired: 1,
		SuccessCount: 9, FailureCount: 2, SuccessRate: lifecycle.SuccessRate(9, 2),
	}, snap.Webhooks)

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.Connections.WithLabelValues("active")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Connections.WithLabelValues("error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Connections.WithLabelValues("inactive")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Connections.WithLabelValues("pending")))
}

func TestHealthSnapshotCached(t *testing.T) {
	db := newTestDB(t)
	health := NewHealthService(db, NewMetrics(), 24)
	ctx := context.Background()

	first, err := health.Snapshot(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, int64(0), first.Connections.Total)

	seedConnection(t, db, "zoom", lifecycle.StatusActive)

	cached, err := health.Snapshot(ctx, false)
	require.NoError(t, err)
	assert.Same(t, first, cached)

	fresh, err := health.Snapshot(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), fresh.Connections.Total)

	health.Poll()
	polled, err := health.Snapshot(ctx, false)
	require.NoError(t, err)
	assert.NotSame(t, fresh, polled)
	assert.Equal(t, int64(1), polled.Connections.Total)
}

func TestHealthWarningThreshold(t *testing.T) {
	db := newTestDB(t)
	health := NewHealthService(db, NewMetrics(), 1)
	now := time.Now()

	for i := 0; i < 8; i++ {
		seedDelivery(t, db, "zapier", true, now.Add(-time.Minute))
	}
	for i := 0; i < 2; i++ {
		seedDelivery(t, db, "zapier", false, now.Add(-time.Minute))
	}

	snap, err := health.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Integrations, 1)
	assert.Equal(t, lifecycle.RateWarning, snap.Integrations[0].RateLevel)
}
