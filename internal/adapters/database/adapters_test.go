package database

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/procedurecopilot/backend/internal/domain/entities"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/repositories"
	"github.com/zatekoja/procedurecopilot/backend/internal/infrastructure/clients/postgres"
	apperrors "github.com/zatekoja/procedurecopilot/backend/pkg/errors"
)

func setupMockDB(t *testing.T) (*postgres.Client, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return postgres.NewFromDB(db), mock
}

var sessionRowColumns = []string{
	"id", "kind", "title", "procedure_type", "status", "progress", "error_message",
	"source_key", "source_filename", "export_key", "duration_seconds", "total_frames",
	"started_at", "completed_at", "created_at", "updated_at",
}

func TestSessionAdapter_Create(t *testing.T) {
	client, mock := setupMockDB(t)
	adapter := NewSessionAdapter(client)

	mock.ExpectExec(`INSERT INTO "procedure_sessions"`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	session := &entities.ProcedureSession{
		ID:            "7f0c1c1e-0000-4000-8000-000000000001",
		Kind:          entities.SessionKindRecorded,
		ProcedureType: "colonoscopy",
		Status:        entities.SessionStatusPending,
	}
	require.NoError(t, adapter.Create(context.Background(), session))
	assert.False(t, session.CreatedAt.IsZero())
}

func TestSessionAdapter_GetByID(t *testing.T) {
	client, mock := setupMockDB(t)
	adapter := NewSessionAdapter(client)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT .* FROM "procedure_sessions" WHERE \("id" = 's-1'\)`).
		WillReturnRows(sqlmock.NewRows(sessionRowColumns).AddRow(
			"s-1", "recorded", "Morning list", "colonoscopy", "processing", 35, nil,
			"uploads/s-1.mp4", "case.mp4", nil, 312.5, 40,
			now, nil, now, now,
		))

	session, err := adapter.GetByID(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Equal(t, entities.SessionKindRecorded, session.Kind)
	assert.Equal(t, entities.SessionStatusProcessing, session.Status)
	assert.Equal(t, 35, session.Progress)
	assert.Equal(t, "uploads/s-1.mp4", session.SourceKey)
	assert.Empty(t, session.ExportKey)
	require.NotNil(t, session.StartedAt)
	assert.Nil(t, session.CompletedAt)
}

func TestSessionAdapter_GetByIDNotFound(t *testing.T) {
	client, mock := setupMockDB(t)
	adapter := NewSessionAdapter(client)

	mock.ExpectQuery(`SELECT .* FROM "procedure_sessions"`).
		WillReturnError(sql.ErrNoRows)

	_, err := adapter.GetByID(context.Background(), "missing")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestSessionAdapter_List(t *testing.T) {
	client, mock := setupMockDB(t)
	adapter := NewSessionAdapter(client)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT .* FROM "procedure_sessions" WHERE \(\("procedure_type" = 'endoscopy'\) AND \("status" = 'completed'\)\) ORDER BY "created_at" DESC, "id" ASC LIMIT 20 OFFSET 40`).
		WillReturnRows(sqlmock.NewRows(sessionRowColumns).
			AddRow("s-2", "live", "", "endoscopy", "completed", 100, nil, nil, nil, nil, 0.0, 0, now, now, now, now))

	sessions, err := adapter.List(context.Background(), repositories.SessionFilter{
		ProcedureType: "endoscopy",
		Status:        entities.SessionStatusCompleted,
		Limit:         20,
		Offset:        40,
	})
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, entities.SessionKindLive, sessions[0].Kind)
}

func TestSessionAdapter_TransitionStatus(t *testing.T) {
	t.Run("matching status", func(t *testing.T) {
		client, mock := setupMockDB(t)
		adapter := NewSessionAdapter(client)

		mock.ExpectExec(`UPDATE "procedure_sessions" SET .*"status"='failed'.* WHERE \(\("id" = 's-1'\) AND \("status" IN \('pending', 'processing'\)\)\)`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		ok, err := adapter.TransitionStatus(context.Background(), "s-1",
			[]entities.SessionStatus{entities.SessionStatusPending, entities.SessionStatusProcessing},
			entities.SessionStatusFailed, "decode failed")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("status moved on", func(t *testing.T) {
		client, mock := setupMockDB(t)
		adapter := NewSessionAdapter(client)

		mock.ExpectExec(`UPDATE "procedure_sessions"`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		ok, err := adapter.TransitionStatus(context.Background(), "s-1",
			[]entities.SessionStatus{entities.SessionStatusProcessing},
			entities.SessionStatusCompleted, "")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("no predecessors", func(t *testing.T) {
		client, _ := setupMockDB(t)
		adapter := NewSessionAdapter(client)

		ok, err := adapter.TransitionStatus(context.Background(), "s-1", nil, entities.SessionStatusPending, "")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestSessionAdapter_AdvanceProgress(t *testing.T) {
	t.Run("raises with GREATEST", func(t *testing.T) {
		client, mock := setupMockDB(t)
		adapter := NewSessionAdapter(client)

		mock.ExpectQuery(`UPDATE "procedure_sessions" SET "progress"=GREATEST\(progress, 55\).* RETURNING "progress"`).
			WillReturnRows(sqlmock.NewRows([]string{"progress"}).AddRow(60))

		progress, err := adapter.AdvanceProgress(context.Background(), "s-1", entities.SessionStatusProcessing, 55)
		require.NoError(t, err)
		assert.Equal(t, 60, progress, "stored value wins when higher")
	})

	t.Run("session no longer processing", func(t *testing.T) {
		client, mock := setupMockDB(t)
		adapter := NewSessionAdapter(client)

		mock.ExpectQuery(`UPDATE "procedure_sessions"`).
			WillReturnRows(sqlmock.NewRows([]string{"progress"}))

		_, err := adapter.AdvanceProgress(context.Background(), "s-1", entities.SessionStatusProcessing, 55)
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConflict))
	})
}

func TestFrameAdapter_CreateBatchIgnoresExistingIndexes(t *testing.T) {
	client, mock := setupMockDB(t)
	adapter := NewFrameAdapter(client)

	mock.ExpectExec(`INSERT INTO "frames" .* ON CONFLICT DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 2))

	err := adapter.CreateBatch(context.Background(), []*entities.Frame{
		{ID: "f-0", SessionID: "s-1", Index: 0, ImageKey: entities.FrameImageKey("s-1", 0)},
		{ID: "f-1", SessionID: "s-1", Index: 1, TimestampMS: 1000, ImageKey: entities.FrameImageKey("s-1", 1)},
	})
	require.NoError(t, err)
}

func TestFrameAdapter_CreateBatchEmpty(t *testing.T) {
	client, _ := setupMockDB(t)
	adapter := NewFrameAdapter(client)

	assert.NoError(t, adapter.CreateBatch(context.Background(), nil))
}

func TestFrameAdapter_ListBySessionPaged(t *testing.T) {
	client, mock := setupMockDB(t)
	adapter := NewFrameAdapter(client)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT .* FROM "frames" WHERE \("session_id" = 's-1'\) ORDER BY "frame_index" ASC LIMIT 2 OFFSET 2`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "session_id", "frame_index", "timestamp_ms", "is_keyframe", "analyzed", "image_key", "motion_score", "created_at",
		}).
			AddRow("f-2", "s-1", 2, int64(2000), false, true, "k2", 0.1, now).
			AddRow("f-3", "s-1", 3, int64(3000), true, false, "k3", 0.4, now))

	frames, err := adapter.ListBySession(context.Background(), "s-1", 2, 2)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, 2, frames[0].Index)
	assert.True(t, frames[1].IsKeyframe)
	assert.Equal(t, "00:00:03.000", frames[1].Timestamp())
}

func TestAnalysisAdapter_UpsertOnFrame(t *testing.T) {
	client, mock := setupMockDB(t)
	adapter := NewAnalysisAdapter(client)

	mock.ExpectExec(`INSERT INTO "analysis_results" .* ON CONFLICT \(frame_id\) DO UPDATE SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := adapter.Upsert(context.Background(), &entities.AnalysisResult{
		ID:         "a-1",
		SessionID:  "s-1",
		FrameID:    "f-1",
		Finding:    "Mild erythema",
		RiskLevel:  entities.RiskLow,
		Confidence: 0.75,
	})
	require.NoError(t, err)
}

func TestAnalysisAdapter_ListBySession(t *testing.T) {
	client, mock := setupMockDB(t)
	adapter := NewAnalysisAdapter(client)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT .* FROM "analysis_results" WHERE \("session_id" = 's-1'\) ORDER BY "frame_index" ASC`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "session_id", "frame_id", "frame_index", "model_id", "inference_ms",
			"finding", "location", "risk_level", "confidence", "features", "raw_output", "created_at",
		}).AddRow("a-1", "s-1", "f-1", 1, "medgemma-4b-it", int64(820),
			"Erythema with small polyp", "Sigmoid", "medium", 0.8, "{erythema,polyp}", "raw", now))

	results, err := adapter.ListBySession(context.Background(), "s-1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, entities.RiskMedium, results[0].RiskLevel)
	assert.Equal(t, []string{"erythema", "polyp"}, results[0].Features)
}

func TestAnalysisAdapter_GetByFrameIDsEmpty(t *testing.T) {
	client, _ := setupMockDB(t)
	adapter := NewAnalysisAdapter(client)

	results, err := adapter.GetByFrameIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestConversationAdapter_LastNReturnsCreationOrder(t *testing.T) {
	client, mock := setupMockDB(t)
	adapter := NewConversationAdapter(client)
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT .* FROM "conversation_messages" WHERE \("session_id" = 's-1'\) ORDER BY "created_at" DESC LIMIT 2`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "session_id", "role", "content", "frame_id", "video_timestamp_ms", "created_at"}).
			AddRow("m-3", "s-1", "assistant", "third", nil, nil, t0.Add(2*time.Second)).
			AddRow("m-2", "s-1", "user", "second", "f-1", int64(1500), t0.Add(time.Second)))

	messages, err := adapter.LastN(context.Background(), "s-1", 2)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "m-2", messages[0].ID)
	assert.Equal(t, "m-3", messages[1].ID)
	require.NotNil(t, messages[0].VideoTimestampMS)
	assert.Equal(t, int64(1500), *messages[0].VideoTimestampMS)
	assert.Nil(t, messages[1].FrameID)
}

func TestSummaryAdapter_GetBySession(t *testing.T) {
	client, mock := setupMockDB(t)
	adapter := NewSummaryAdapter(client)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT .* FROM "session_summaries" WHERE \("session_id" = 's-1'\)`).
		WillReturnRows(sqlmock.NewRows([]string{
			"session_id", "overview", "key_findings", "total_analyzed", "high_risk", "medium_risk", "regions", "generated_at",
		}).AddRow("s-1", "Analyzed 3 frames.",
			[]byte(`[{"frame_index":2,"timestamp_ms":2000,"location":"Antrum","finding":"Ulcer","risk_level":"high","confidence":0.85,"text":"Antrum: Ulcer"}]`),
			3, 1, 0, "{Antrum}", now))

	summary, err := adapter.GetBySession(context.Background(), "s-1")
	require.NoError(t, err)
	require.Len(t, summary.KeyFindings, 1)
	assert.Equal(t, entities.RiskHigh, summary.KeyFindings[0].RiskLevel)
	assert.Equal(t, []string{"Antrum"}, summary.Regions)
}
