package api

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	fsstorage "github.com/bookvault/bookvault/pkg/bookvault/storage/fs"
)

// DownloadHandler serves blobs for the filesystem backend. S3 deployments do
// not need it: presigned URLs point at the bucket directly.
type DownloadHandler struct {
	store  *fsstorage.Backend
	logger *slog.Logger
}

// NewDownloadHandler creates a handler serving signed filesystem URLs.
func NewDownloadHandler(store *fsstorage.Backend, logger *slog.Logger) *DownloadHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DownloadHandler{store: store, logger: logger}
}

// Routes returns the routes for signed downloads
func (h *DownloadHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/*", h.ServeBlob)
	return r
}

// ServeBlob verifies the URL's expiry stamp and HMAC, then streams the blob.
func (h *DownloadHandler) ServeBlob(w http.ResponseWriter, r *http.Request) {
	objectKey := chi.URLParam(r, "*")
	if objectKey == "" {
		http.Error(w, "missing object key", http.StatusBadRequest)
		return
	}

	expires, err := strconv.ParseInt(r.URL.Query().Get("expires"), 10, 64)
	if err != nil {
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}
	if !h.store.VerifySignature(objectKey, expires, r.URL.Query().Get("sig")) {
		http.Error(w, "invalid or expired signature", http.StatusForbidden)
		return
	}

	meta, err := h.store.GetObjectMeta(r.Context(), objectKey)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	rc, err := h.store.Download(r.Context(), objectKey)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", meta.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("blob stream interrupted", "object_key", objectKey, "error", err)
	}
}
