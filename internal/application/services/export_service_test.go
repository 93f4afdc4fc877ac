package services_test

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/procedurecopilot/backend/internal/application/services"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/entities"
	apperrors "github.com/zatekoja/procedurecopilot/backend/pkg/errors"
)

func bundleFixture(withSource bool) *services.BundleData {
	created := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	offset := int64(1500)
	data := &services.BundleData{
		Session: &entities.ProcedureSession{
			ID:              "s-1",
			Kind:            entities.SessionKindRecorded,
			Title:           "Screening colonoscopy",
			ProcedureType:   "colonoscopy",
			SourceFilename:  "scope.MOV",
			DurationSeconds: 3,
			TotalFrames:     2,
			CreatedAt:       created,
		},
		Frames: []*entities.Frame{
			{ID: "f-0", Index: 0, TimestampMS: 0},
			{ID: "f-1", Index: 1, TimestampMS: 1500},
		},
		Analyses: []*entities.AnalysisResult{
			{FrameIndex: 1, Finding: "Small polyp, 4mm", Location: "Sigmoid colon", RiskLevel: entities.RiskMedium, Confidence: 0.8, Features: []string{"polyp"}},
		},
		Messages: []*entities.ConversationMessage{
			{Role: entities.RoleUser, Content: "What is that?", VideoTimestampMS: &offset, CreatedAt: created.Add(time.Second)},
		},
		GeneratedAt: created.Add(time.Hour),
	}
	data.Summary = services.BuildSummary("s-1", data.Analyses, map[int]int64{1: 1500}, created)
	if withSource {
		data.Source = strings.NewReader("video-bytes")
	}
	return data
}

func readZip(t *testing.T, raw []byte) (*zip.Reader, map[string]string) {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	require.NoError(t, err)
	contents := map[string]string{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		_ = rc.Close()
		contents[f.Name] = string(b)
	}
	return zr, contents
}

func TestWriteBundle_EntryOrderAndContents(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, services.WriteBundle(&buf, bundleFixture(true)))

	zr, contents := readZip(t, buf.Bytes())
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{
		"original_video.mov",
		"frame_analysis.json",
		"summary.txt",
		"findings.csv",
		"transcript.json",
		"metadata.json",
	}, names)
	assert.Equal(t, "video-bytes", contents["original_video.mov"])

	var frames []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(contents["frame_analysis.json"]), &frames))
	require.Len(t, frames, 2)
	assert.Equal(t, "00:00:00.000", frames[0]["timestamp"])
	assert.NotContains(t, frames[0], "analysis")
	assert.Equal(t, "Small polyp, 4mm", frames[1]["analysis"])
	assert.Equal(t, "medium", frames[1]["risk_level"])

	rows, err := csv.NewReader(strings.NewReader(contents["findings.csv"])).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"frame_index", "timestamp", "location", "risk_level", "confidence", "finding"}, rows[0])
	assert.Equal(t, []string{"1", "00:00:01.500", "Sigmoid colon", "medium", "0.80", "Small polyp, 4mm"}, rows[1])

	var transcript []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(contents["transcript.json"]), &transcript))
	require.Len(t, transcript, 1)
	assert.EqualValues(t, 1500, transcript[0]["video_timestamp_ms"])

	var meta map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(contents["metadata.json"]), &meta))
	assert.Equal(t, "s-1", meta["session_id"])
	assert.EqualValues(t, 1, meta["frames_analyzed"])
	assert.Equal(t, "2025-03-14T10:30:00Z", meta["export_generated_at"])

	assert.Contains(t, contents["summary.txt"], "Key Findings:")
}

func TestWriteBundle_IsByteStable(t *testing.T) {
	var first, second bytes.Buffer
	require.NoError(t, services.WriteBundle(&first, bundleFixture(true)))
	require.NoError(t, services.WriteBundle(&second, bundleFixture(true)))
	assert.Equal(t, first.Bytes(), second.Bytes())
}

func TestWriteBundle_OmitsMissingSourceAndSummary(t *testing.T) {
	data := bundleFixture(false)
	data.Summary = nil

	var buf bytes.Buffer
	require.NoError(t, services.WriteBundle(&buf, data))

	zr, _ := readZip(t, buf.Bytes())
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"frame_analysis.json", "findings.csv", "transcript.json", "metadata.json"}, names)
}

func TestBundleName(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, "procedure_export_abc_20250102_030405.zip", services.BundleName("abc", at))
}

func newExportFixture(t *testing.T, status entities.SessionStatus) (*services.ExportService, *memSessions, *memStore) {
	t.Helper()
	ctx := context.Background()
	sessions := newMemSessions()
	store := newMemStore()
	require.NoError(t, sessions.Create(ctx, &entities.ProcedureSession{
		ID:        "s-1",
		Kind:      entities.SessionKindLive,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}))
	svc := services.NewExportService(sessions, &memFrames{}, newMemAnalyses(), newMemSummaries(), &memConversations{}, store, 10*time.Minute)
	return svc, sessions, store
}

func TestExportService_DownloadLinkBuildsBundleForCompletedSession(t *testing.T) {
	svc, sessions, store := newExportFixture(t, entities.SessionStatusCompleted)

	link, err := svc.DownloadLink(context.Background(), "s-1")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(link.Key, "sessions/s-1/exports/procedure_export_s-1_"))
	assert.Equal(t, "http://downloads.test/"+link.Key, link.URL)
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), link.ExpiresAt, time.Minute)
	assert.NotEmpty(t, store.object(link.Key))

	s, _ := sessions.GetByID(context.Background(), "s-1")
	assert.Equal(t, link.Key, s.ExportKey)

	again, err := svc.DownloadLink(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Equal(t, link.Key, again.Key)
}

func TestExportService_DownloadLinkRejectsUnfinishedSession(t *testing.T) {
	svc, _, _ := newExportFixture(t, entities.SessionStatusActive)

	_, err := svc.DownloadLink(context.Background(), "s-1")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConflict))
}

func TestExportService_BuildBundleReportsProgress(t *testing.T) {
	svc, _, _ := newExportFixture(t, entities.SessionStatusCompleted)

	var reported []int
	_, err := svc.BuildBundle(context.Background(), "s-1", func(p int) { reported = append(reported, p) })
	require.NoError(t, err)
	assert.Equal(t, []int{25, 75, 100}, reported)
}
