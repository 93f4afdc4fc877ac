package handlers_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/procedurecopilot/backend/internal/api/handlers"
	"github.com/zatekoja/procedurecopilot/backend/internal/application/services"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/entities"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/providers"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/repositories"
	apperrors "github.com/zatekoja/procedurecopilot/backend/pkg/errors"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body["error"]
}

func TestSessionHandler_StartSessionFromSourceKey(t *testing.T) {
	svc := new(MockSessionService)
	handler := handlers.NewSessionHandler(svc)

	want := services.StartRecordedRequest{Title: "Case 7", ProcedureType: "colonoscopy", SourceKey: "inbox/case7.mp4"}
	svc.On("StartRecorded", mock.Anything, want, "").Return(&services.StartedSession{
		Session: &entities.ProcedureSession{ID: "s-1", Status: entities.SessionStatusPending},
		TaskID:  "t-1",
	}, nil)

	body := `{"title":"Case 7","procedure_type":"colonoscopy","source_key":"inbox/case7.mp4"}`
	req := httptest.NewRequest(http.MethodPost, "/api/sessions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	handler.StartSession(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	var started services.StartedSession
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &started))
	assert.Equal(t, "s-1", started.Session.ID)
	assert.Equal(t, "t-1", started.TaskID)
	svc.AssertExpectations(t)
}

func TestSessionHandler_StartSessionRequiresSource(t *testing.T) {
	handler := handlers.NewSessionHandler(new(MockSessionService))

	req := httptest.NewRequest(http.MethodPost, "/api/sessions", strings.NewReader(`{"title":"x"}`))
	w := httptest.NewRecorder()
	handler.StartSession(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "source_key is required", decodeError(t, w))
}

func TestSessionHandler_StartSessionFromUpload(t *testing.T) {
	svc := new(MockSessionService)
	handler := handlers.NewSessionHandler(svc)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("procedure_type", "gastroscopy"))
	part, err := mw.CreateFormFile("file", "scope.mp4")
	require.NoError(t, err)
	_, _ = part.Write([]byte("video-bytes"))
	require.NoError(t, mw.Close())

	svc.On("StartRecorded", mock.Anything, services.StartRecordedRequest{
		ProcedureType: "gastroscopy",
		Filename:      "scope.mp4",
	}, "video-bytes").Return(&services.StartedSession{
		Session: &entities.ProcedureSession{ID: "s-2"},
		TaskID:  "t-2",
	}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/sessions", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	handler.StartSession(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	svc.AssertExpectations(t)
}

func TestSessionHandler_ListSessionsPassesFilters(t *testing.T) {
	svc := new(MockSessionService)
	handler := handlers.NewSessionHandler(svc)

	svc.On("List", mock.Anything, repositories.SessionFilter{
		ProcedureType: "colonoscopy",
		Kind:          entities.SessionKindRecorded,
		Status:        entities.SessionStatusCompleted,
		Limit:         5,
		Offset:        10,
	}).Return([]*entities.ProcedureSession{{ID: "s-1"}}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions?skip=10&limit=5&procedure_type=colonoscopy&kind=recorded&status=completed", nil)
	w := httptest.NewRecorder()
	handler.ListSessions(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Sessions []entities.ProcedureSession `json:"sessions"`
		Count    int                         `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	svc.AssertExpectations(t)
}

func TestSessionHandler_ListSessionsRejectsBadPaging(t *testing.T) {
	handler := handlers.NewSessionHandler(new(MockSessionService))

	for _, q := range []string{"skip=-1", "limit=abc"} {
		req := httptest.NewRequest(http.MethodGet, "/api/sessions?"+q, nil)
		w := httptest.NewRecorder()
		handler.ListSessions(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestSessionHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{"not found", apperrors.NewNotFoundError("session s-1 not found"), http.StatusNotFound, "session s-1 not found"},
		{"validation", apperrors.NewValidationError("bad id"), http.StatusBadRequest, "bad id"},
		{"conflict", apperrors.NewConflictError("session s-1 is already completed"), http.StatusConflict, "session s-1 is already completed"},
		{"decode", apperrors.NewDecodeError("cannot decode video", nil), http.StatusUnprocessableEntity, "cannot decode video"},
		{"transient backend", apperrors.NewTransientBackendError("backend busy", nil), http.StatusServiceUnavailable, "backend busy"},
		{"internal hides detail", apperrors.NewInternalError("db exploded", errors.New("x")), http.StatusInternalServerError, "internal server error"},
		{"plain error hides detail", errors.New("boom"), http.StatusInternalServerError, "internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockSessionService)
			handler := handlers.NewSessionHandler(svc)
			svc.On("Abort", mock.Anything, "s-1").Return(nil, tt.err)

			req := httptest.NewRequest(http.MethodPost, "/api/sessions/s-1/abort", nil)
			req.SetPathValue("id", "s-1")
			w := httptest.NewRecorder()
			handler.AbortSession(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantMsg, decodeError(t, w))
		})
	}
}

func TestSessionHandler_ListFramesDefaults(t *testing.T) {
	svc := new(MockSessionService)
	handler := handlers.NewSessionHandler(svc)

	svc.On("Frames", mock.Anything, "s-1", 0, services.DefaultFramePageSize).Return(&services.FramePage{
		Frames: []services.FrameView{{Frame: &entities.Frame{Index: 0}, TimestampText: "00:00:00.000"}},
		Total:  1,
		Limit:  services.DefaultFramePageSize,
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/s-1/frames", nil)
	req.SetPathValue("id", "s-1")
	w := httptest.NewRecorder()
	handler.ListFrames(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"timestamp":"00:00:00.000"`)
	svc.AssertExpectations(t)
}

func TestSessionHandler_RequestExport(t *testing.T) {
	svc := new(MockSessionService)
	handler := handlers.NewSessionHandler(svc)
	svc.On("RequestExport", mock.Anything, "s-1").Return(&services.ExportLink{SessionID: "s-1", URL: "http://x/api/downloads?key=k"}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/s-1/export", nil)
	req.SetPathValue("id", "s-1")
	w := httptest.NewRecorder()
	handler.RequestExport(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var link services.ExportLink
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &link))
	assert.Equal(t, "http://x/api/downloads?key=k", link.URL)
}

func TestSessionHandler_SearchFindings(t *testing.T) {
	svc := new(MockSessionService)
	handler := handlers.NewSessionHandler(svc)
	svc.On("SearchFindings", mock.Anything, providers.FindingSearchParams{Query: "polyp", RiskLevel: "high", Limit: 20}).
		Return([]providers.IndexedFinding{{ID: "s-1_3", Finding: "Large polyp"}}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/findings/search?q=polyp&risk_level=high", nil)
	w := httptest.NewRecorder()
	handler.SearchFindings(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Large polyp")
	svc.AssertExpectations(t)
}

func TestSessionHandler_GetTaskNotFound(t *testing.T) {
	svc := new(MockSessionService)
	handler := handlers.NewSessionHandler(svc)
	svc.On("TaskState", mock.Anything, "t-9").Return(nil, apperrors.NewNotFoundError("task t-9 not found"))

	req := httptest.NewRequest(http.MethodGet, "/api/tasks/t-9", nil)
	req.SetPathValue("id", "t-9")
	w := httptest.NewRecorder()
	handler.GetTask(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "task not found", decodeError(t, w))
}
