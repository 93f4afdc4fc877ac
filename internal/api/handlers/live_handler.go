package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/zatekoja/procedurecopilot/backend/internal/application/services"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/entities"
	apperrors "github.com/zatekoja/procedurecopilot/backend/pkg/errors"
)

const (
	maxFrameBytes       = 10 << 20
	defaultMessageCount = 20
)

// LiveService is the live-session surface used by LiveHandler
type LiveService interface {
	Start(ctx context.Context, req services.StartLiveRequest) (*entities.ProcedureSession, error)
	Active() []string
	Status(id string) (*services.LiveStatus, error)
	PushFrame(ctx context.Context, id string, image io.Reader, timestampMS int64) (*entities.Frame, error)
	AnalyzeNow(ctx context.Context, id string, image io.Reader, timestampMS int64) (*entities.AnalysisResult, error)
	StartCapture(ctx context.Context, id string) error
	StopCapture(ctx context.Context, id string) error
	Findings(id string) ([]entities.TimelineEntry, error)
	ClearFindings(id string) error
	Finalize(ctx context.Context, id, title string) (*entities.ProcedureSession, error)
}

// MessageHistory returns the recent conversation of a session
type MessageHistory interface {
	Recent(ctx context.Context, sessionID string, n int) ([]*entities.ConversationMessage, error)
}

// LiveHandler handles live session HTTP requests
type LiveHandler struct {
	live     LiveService
	messages MessageHistory
}

// NewLiveHandler creates a new live session handler
func NewLiveHandler(live LiveService, messages MessageHistory) *LiveHandler {
	return &LiveHandler{live: live, messages: messages}
}

// StartLive handles POST /api/live/sessions
func (h *LiveHandler) StartLive(w http.ResponseWriter, r *http.Request) {
	var req services.StartLiveRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			respondWithError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	session, err := h.live.Start(r.Context(), req)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, session)
}

// ListLive handles GET /api/live/sessions
func (h *LiveHandler) ListLive(w http.ResponseWriter, r *http.Request) {
	ids := h.live.Active()
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": ids,
		"count":    len(ids),
	})
}

// GetLive handles GET /api/live/sessions/{id}
func (h *LiveHandler) GetLive(w http.ResponseWriter, r *http.Request) {
	status, err := h.live.Status(r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, status)
}

// PushFrame handles POST /api/live/sessions/{id}/frames.
// The body is the encoded image. timestamp_ms is the offset into the
// procedure; immediate=true analyzes the frame now instead of on the next tick.
func (h *LiveHandler) PushFrame(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	query := r.URL.Query()

	timestampMS := int64(-1)
	if raw := query.Get("timestamp_ms"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			respondWithError(w, http.StatusBadRequest, "invalid timestamp_ms parameter")
			return
		}
		timestampMS = v
	}

	body := http.MaxBytesReader(w, r.Body, maxFrameBytes)
	if query.Get("immediate") == "true" {
		result, err := h.live.AnalyzeNow(r.Context(), id, body, timestampMS)
		if err != nil {
			respondWithAppError(w, r, err)
			return
		}
		respondWithJSON(w, http.StatusOK, result)
		return
	}

	frame, err := h.live.PushFrame(r.Context(), id, body, timestampMS)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusAccepted, frame)
}

// StartCapture handles POST /api/live/sessions/{id}/capture/start
func (h *LiveHandler) StartCapture(w http.ResponseWriter, r *http.Request) {
	if err := h.live.StartCapture(r.Context(), r.PathValue("id")); err != nil {
		respondWithAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StopCapture handles POST /api/live/sessions/{id}/capture/stop
func (h *LiveHandler) StopCapture(w http.ResponseWriter, r *http.Request) {
	if err := h.live.StopCapture(r.Context(), r.PathValue("id")); err != nil {
		respondWithAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetFindings handles GET /api/live/sessions/{id}/findings
func (h *LiveHandler) GetFindings(w http.ResponseWriter, r *http.Request) {
	entries, err := h.live.Findings(r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}

	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = e.Line()
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"findings": entries,
		"lines":    lines,
		"count":    len(entries),
	})
}

// ClearFindings handles DELETE /api/live/sessions/{id}/findings
func (h *LiveHandler) ClearFindings(w http.ResponseWriter, r *http.Request) {
	if err := h.live.ClearFindings(r.PathValue("id")); err != nil {
		respondWithAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Finalize handles POST /api/live/sessions/{id}/finalize
func (h *LiveHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title string `json:"title"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && err != io.EOF {
			respondWithError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	session, err := h.live.Finalize(r.Context(), r.PathValue("id"), body.Title)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, session)
}

// GetMessages handles GET /api/live/sessions/{id}/messages
func (h *LiveHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	n, err := queryInt(r, "n", defaultMessageCount)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	if n == 0 {
		respondWithAppError(w, r, apperrors.NewValidationError("n must be positive"))
		return
	}

	messages, err := h.messages.Recent(r.Context(), r.PathValue("id"), n)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"messages": messages,
		"count":    len(messages),
	})
}
