package handlers

import (
	"io"
	"net/http"
	"path"

	"github.com/zatekoja/procedurecopilot/backend/internal/domain/providers"
)

// DownloadVerifier checks a signed download reference
type DownloadVerifier interface {
	Verify(key, expires, sig string) error
}

// DownloadHandler streams objects behind signed, expiring links
type DownloadHandler struct {
	store    providers.ObjectStore
	verifier DownloadVerifier
}

// NewDownloadHandler creates a new download handler
func NewDownloadHandler(store providers.ObjectStore, verifier DownloadVerifier) *DownloadHandler {
	return &DownloadHandler{store: store, verifier: verifier}
}

// Download handles GET /api/downloads?key&expires&sig
func (h *DownloadHandler) Download(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	key := query.Get("key")
	if key == "" {
		respondWithError(w, http.StatusBadRequest, "key is required")
		return
	}

	if err := h.verifier.Verify(key, query.Get("expires"), query.Get("sig")); err != nil {
		respondWithError(w, http.StatusForbidden, "invalid or expired download link")
		return
	}

	obj, err := h.store.Get(r.Context(), key)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	defer obj.Close()

	w.Header().Set("Content-Type", contentTypeFor(key))
	w.Header().Set("Content-Disposition", `attachment; filename="`+path.Base(key)+`"`)
	w.WriteHeader(http.StatusOK)
	io.Copy(w, obj)
}

func contentTypeFor(key string) string {
	switch path.Ext(key) {
	case ".zip":
		return "application/zip"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".json":
		return "application/json"
	}
	return "application/octet-stream"
}
