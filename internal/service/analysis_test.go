package service

import (
	"context"
	"testing"

	"integration-console/internal/model"
	"integration-console/pkg/lifecycle"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalysisLifecycleEvents(t *testing.T) {
	db := newTestDB(t)
	publisher := &recordingPublisher{}
	svc := NewAnalysisService(db, publisher)
	ctx := context.Background()

	a, err := svc.Create(ctx, CreateAnalysisInput{UserID: "u1", Title: " Discovery call "})
	require.NoError(t, err)
	assert.Equal(t, model.AnalysisQueued, a.Status)
	assert.Equal(t, "Discovery call", a.Title)
	assert.NoError(t, lifecycle.ValidateUUID("transcript_id", a.TranscriptID))

	_, err = svc.UpdateStatus(ctx, a.ID, UpdateStatusInput{Status: model.AnalysisProcessing})
	require.NoError(t, err)
	done, err := svc.UpdateStatus(ctx, a.ID, UpdateStatusInput{Status: model.AnalysisCompleted, Summary: "Next steps agreed"})
	require.NoError(t, err)
	assert.NotNil(t, done.CompletedAt)

	events := publisher.Events()
	require.Len(t, events, 2)
	assert.Equal(t, lifecycle.TriggerTranscriptCreated, events[0].Type)
	assert.Equal(t, lifecycle.TriggerAnalysisCompleted, events[1].Type)
	assert.Equal(t, "u1", events[1].UserID)
	assert.Equal(t, a.ID, events[1].Data["analysis_id"])
	assert.Equal(t, "Next steps agreed", events[1].Data["summary"])

	_, err = svc.UpdateStatus(ctx, a.ID, UpdateStatusInput{Status: model.AnalysisFailed, Error: "late"})
	assert.Equal(t, lifecycle.KindConflict, lifecycle.KindOf(err))
}

func TestAnalysisFailure(t *testing.T) {
	db := newTestDB(t)
	publisher := &recordingPublisher{}
	svc := NewAnalysisService(db, publisher)
	ctx := context.Background()

	a, err := svc.Create(ctx, CreateAnalysisInput{UserID: "u1", TranscriptID: uuid.NewString(), Title: "Demo"})
	require.NoError(t, err)

	_, err = svc.UpdateStatus(ctx, a.ID, UpdateStatusInput{Status: model.AnalysisFailed})
	assert.Equal(t, lifecycle.KindValidation, lifecycle.KindOf(err))
	_, err = svc.UpdateStatus(ctx, a.ID, UpdateStatusInput{Status: "archived"})
	assert.Equal(t, lifecycle.KindValidation, lifecycle.KindOf(err))

	_, err = svc.UpdateStatus(ctx, a.ID, UpdateStatusInput{Status: model.AnalysisFailed, Error: "transcription timeout"})
	require.NoError(t, err)

	events := publisher.Events()
	require.Len(t, events, 2)
	assert.Equal(t, lifecycle.TriggerAnalysisFailed, events[1].Type)
	assert.Equal(t, "transcription timeout", events[1].Data["error"])

	stats, err := svc.QueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Failed)
	require.Len(t, stats.RecentFailures, 1)
	assert.Equal(t, a.ID, stats.RecentFailures[0].ID)
}

func TestAnalysisValidationAndListing(t *testing.T) {
	db := newTestDB(t)
	svc := NewAnalysisService(db, nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateAnalysisInput{UserID: "u1"})
	assert.Equal(t, lifecycle.KindValidation, lifecycle.KindOf(err))
	_, err = svc.Create(ctx, CreateAnalysisInput{Title: "x"})
	assert.Equal(t, lifecycle.KindValidation, lifecycle.KindOf(err))
	_, err = svc.Create(ctx, CreateAnalysisInput{UserID: "u1", Title: "x", TranscriptID: "123"})
	assert.Equal(t, lifecycle.KindValidation, lifecycle.KindOf(err))

	for i := 0; i < 3; i++ {
		_, err := svc.Create(ctx, CreateAnalysisInput{UserID: "u1", Title: "call"})
		require.NoError(t, err)
	}
	_, err = svc.Create(ctx, CreateAnalysisInput{UserID: "u2", Title: "call"})
	require.NoError(t, err)

	items, err := svc.ListRecent(ctx, "u1", "", 0)
	require.NoError(t, err)
	assert.Len(t, items, 3)
	items, err = svc.ListRecent(ctx, "", string(model.AnalysisQueued), 2)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	stats, err := svc.QueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.Queued)
	assert.Empty(t, stats.RecentFailures)

	_, err = svc.Get(ctx, uuid.NewString())
	assert.Equal(t, lifecycle.KindNotFound, lifecycle.KindOf(err))
}
