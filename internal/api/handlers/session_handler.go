package handlers

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"

	"github.com/zatekoja/procedurecopilot/backend/internal/application/services"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/entities"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/providers"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/repositories"
	apperrors "github.com/zatekoja/procedurecopilot/backend/pkg/errors"
)

const maxUploadMemory = 32 << 20

// SessionService is the recorded-session surface used by SessionHandler
type SessionService interface {
	StartRecorded(ctx context.Context, req services.StartRecordedRequest, media io.Reader) (*services.StartedSession, error)
	Get(ctx context.Context, id string) (*entities.ProcedureSession, error)
	List(ctx context.Context, filter repositories.SessionFilter) ([]*entities.ProcedureSession, error)
	Status(ctx context.Context, id string) (*services.SessionStatusView, error)
	Abort(ctx context.Context, id string) (*entities.ProcedureSession, error)
	Frames(ctx context.Context, id string, skip, limit int) (*services.FramePage, error)
	Summary(ctx context.Context, id string) (*entities.SessionSummary, error)
	RequestExport(ctx context.Context, id string) (*services.ExportLink, error)
	SearchFindings(ctx context.Context, params providers.FindingSearchParams) ([]providers.IndexedFinding, error)
	TaskState(ctx context.Context, taskID string) (*entities.QueueTaskState, error)
}

// SessionHandler handles recorded session HTTP requests
type SessionHandler struct {
	service SessionService
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(service SessionService) *SessionHandler {
	return &SessionHandler{service: service}
}

// StartSession handles POST /api/sessions.
// A multipart body carries the media in its "file" part; a JSON body
// references media already in the object store by source_key.
func (h *SessionHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var (
		req   services.StartRecordedRequest
		media io.Reader
	)
	switch mediaType {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
			respondWithError(w, http.StatusBadRequest, "invalid multipart body")
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "file is required")
			return
		}
		defer file.Close()
		req = services.StartRecordedRequest{
			Title:         r.FormValue("title"),
			ProcedureType: r.FormValue("procedure_type"),
			Filename:      header.Filename,
		}
		media = file
	default:
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondWithError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.SourceKey == "" {
			respondWithError(w, http.StatusBadRequest, "source_key is required")
			return
		}
	}

	started, err := h.service.StartRecorded(r.Context(), req, media)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusAccepted, started)
}

// ListSessions handles GET /api/sessions
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	skip, err := queryInt(r, "skip", 0)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", services.DefaultSessionPageSize)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}

	query := r.URL.Query()
	sessions, err := h.service.List(r.Context(), repositories.SessionFilter{
		ProcedureType: query.Get("procedure_type"),
		Kind:          entities.SessionKind(query.Get("kind")),
		Status:        entities.SessionStatus(query.Get("status")),
		Limit:         limit,
		Offset:        skip,
	})
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
		"skip":     skip,
		"limit":    limit,
	})
}

// GetSession handles GET /api/sessions/{id}
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, session)
}

// GetStatus handles GET /api/sessions/{id}/status
func (h *SessionHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, status)
}

// AbortSession handles POST /api/sessions/{id}/abort
func (h *SessionHandler) AbortSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.Abort(r.Context(), r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, session)
}

// ListFrames handles GET /api/sessions/{id}/frames
func (h *SessionHandler) ListFrames(w http.ResponseWriter, r *http.Request) {
	skip, err := queryInt(r, "skip", 0)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", services.DefaultFramePageSize)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}

	page, err := h.service.Frames(r.Context(), r.PathValue("id"), skip, limit)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, page)
}

// GetSummary handles GET /api/sessions/{id}/summary
func (h *SessionHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Summary(r.Context(), r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, summary)
}

// RequestExport handles POST /api/sessions/{id}/export
func (h *SessionHandler) RequestExport(w http.ResponseWriter, r *http.Request) {
	link, err := h.service.RequestExport(r.Context(), r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, link)
}

// SearchFindings handles GET /api/findings/search
func (h *SessionHandler) SearchFindings(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}

	query := r.URL.Query()
	results, err := h.service.SearchFindings(r.Context(), providers.FindingSearchParams{
		Query:         query.Get("q"),
		SessionID:     query.Get("session_id"),
		RiskLevel:     query.Get("risk_level"),
		ProcedureType: query.Get("procedure_type"),
		Limit:         limit,
	})
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"findings": results,
		"count":    len(results),
	})
}

// GetTask handles GET /api/tasks/{id}
func (h *SessionHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	state, err := h.service.TaskState(r.Context(), r.PathValue("id"))
	if err != nil {
		if apperrors.IsNotFound(err) {
			respondWithError(w, http.StatusNotFound, "task not found")
			return
		}
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, state)
}
