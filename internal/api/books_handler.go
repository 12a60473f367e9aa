// Package api exposes the book library over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/bookvault/bookvault/pkg/bookvault"
)

// BooksHandler handles HTTP requests for books
type BooksHandler struct {
	svc            bookvault.Service
	logger         *slog.Logger
	maxUploadBytes int64
}

// NewBooksHandler creates a new books handler
func NewBooksHandler(svc bookvault.Service, maxUploadBytes int64, logger *slog.Logger) *BooksHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BooksHandler{
		svc:            svc,
		logger:         logger,
		maxUploadBytes: maxUploadBytes,
	}
}

// Routes returns the routes for books
func (h *BooksHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.UploadBook)
	r.Get("/", h.ListBooks)
	r.Get("/{id}", h.GetBook)
	r.Patch("/{id}", h.UpdateBook)
	r.Delete("/{id}", h.DeleteBook)

	r.Get("/{id}/download-url", h.GetDownloadURL)
	r.Get("/{id}/cover-url", h.GetCoverURL)
	r.Post("/{id}/cover", h.RegenerateCover)

	r.Get("/usage", h.GetStorageUsage)

	return r
}

// BookResponse is the response body for a book
type BookResponse struct {
	ID              string     `json:"id"`
	FileName        string     `json:"file_name"`
	Format          string     `json:"format"`
	SizeBytes       int64      `json:"size_bytes"`
	Title           string     `json:"title"`
	Author          string     `json:"author,omitempty"`
	PageCount       int        `json:"page_count,omitempty"`
	Language        string     `json:"language,omitempty"`
	Status          string     `json:"status"`
	HasCover        bool       `json:"has_cover"`
	CoverGenerating bool       `json:"cover_generating,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// UpdateBookRequest is the request body for updating book metadata
type UpdateBookRequest struct {
	Title  *string `json:"title,omitempty"`
	Author *string `json:"author,omitempty"`
}

// URLResponse carries a time-limited URL for a stored blob
type URLResponse struct {
	URL string `json:"url"`
}

// UsageResponse reports the owner's storage consumption
type UsageResponse struct {
	UsedBytes int64 `json:"used_bytes"`
}

// ErrorResponse is the error body for all book endpoints
type ErrorResponse struct {
	Error string `json:"error"`
}

func toBookResponse(book *bookvault.Book, generating bool) BookResponse {
	return BookResponse{
		ID:              book.ID.String(),
		FileName:        book.FileName,
		Format:          string(book.Format),
		SizeBytes:       book.SizeBytes,
		Title:           book.Title,
		Author:          book.Author,
		PageCount:       book.PageCount,
		Language:        book.Language,
		Status:          string(book.Status),
		HasCover:        book.ThumbnailKey != nil,
		CoverGenerating: generating,
		CreatedAt:       book.CreatedAt,
		UpdatedAt:       book.UpdatedAt,
	}
}

// UploadBook accepts a multipart upload ("file" field) and creates a book
func (h *BooksHandler) UploadBook(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.ownerID(w, r)
	if !ok {
		return
	}

	// Slack for multipart framing; the service enforces the exact ceiling.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+(1<<20))
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "failed to read upload")
		return
	}

	result, err := h.svc.UploadBook(r.Context(), bookvault.UploadBookRequest{
		OwnerID:  ownerID,
		FileName: header.Filename,
		Size:     header.Size,
		Data:     data,
	})
	if err != nil {
		h.renderServiceError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, toBookResponse(result.Book, result.CoverGenerating))
}

// ListBooks lists the caller's books
func (h *BooksHandler) ListBooks(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.ownerID(w, r)
	if !ok {
		return
	}

	books, err := h.svc.ListBooks(r.Context(), bookvault.ListBooksRequest{OwnerID: ownerID})
	if err != nil {
		h.renderServiceError(w, r, err)
		return
	}

	resp := make([]BookResponse, 0, len(books))
	for _, book := range books {
		resp = append(resp, toBookResponse(book, false))
	}
	render.JSON(w, r, resp)
}

// GetBook retrieves a book by ID
func (h *BooksHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	book, ok := h.fetchOwnedBook(w, r)
	if !ok {
		return
	}
	render.JSON(w, r, toBookResponse(book, false))
}

// UpdateBook updates a book's title and author
func (h *BooksHandler) UpdateBook(w http.ResponseWriter, r *http.Request) {
	book, ok := h.fetchOwnedBook(w, r)
	if !ok {
		return
	}

	var req UpdateBookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	updated, err := h.svc.UpdateBook(r.Context(), bookvault.UpdateBookRequest{
		BookID: book.ID,
		Title:  req.Title,
		Author: req.Author,
	})
	if err != nil {
		h.renderServiceError(w, r, err)
		return
	}

	render.JSON(w, r, toBookResponse(updated, false))
}

// DeleteBook deletes a book and its stored blobs
func (h *BooksHandler) DeleteBook(w http.ResponseWriter, r *http.Request) {
	book, ok := h.fetchOwnedBook(w, r)
	if !ok {
		return
	}

	if err := h.svc.DeleteBook(r.Context(), book.ID); err != nil {
		h.renderServiceError(w, r, err)
		return
	}

	render.NoContent(w, r)
}

// GetDownloadURL returns a time-limited URL for the book's source file
func (h *BooksHandler) GetDownloadURL(w http.ResponseWriter, r *http.Request) {
	book, ok := h.fetchOwnedBook(w, r)
	if !ok {
		return
	}

	url, err := h.svc.GetDownloadURL(r.Context(), book.ID)
	if err != nil {
		h.renderServiceError(w, r, err)
		return
	}
	render.JSON(w, r, URLResponse{URL: url})
}

// GetCoverURL returns a time-limited URL for the book's cover thumbnail
func (h *BooksHandler) GetCoverURL(w http.ResponseWriter, r *http.Request) {
	book, ok := h.fetchOwnedBook(w, r)
	if !ok {
		return
	}

	url, err := h.svc.GetCoverURL(r.Context(), book.ID)
	if err != nil {
		h.renderServiceError(w, r, err)
		return
	}
	render.JSON(w, r, URLResponse{URL: url})
}

// RegenerateCover queues a fresh cover generation job for the book
func (h *BooksHandler) RegenerateCover(w http.ResponseWriter, r *http.Request) {
	book, ok := h.fetchOwnedBook(w, r)
	if !ok {
		return
	}

	if err := h.svc.RegenerateCover(r.Context(), book.ID); err != nil {
		h.renderServiceError(w, r, err)
		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, map[string]string{"status": "queued"})
}

// GetStorageUsage reports the caller's stored bytes
func (h *BooksHandler) GetStorageUsage(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.ownerID(w, r)
	if !ok {
		return
	}

	used, err := h.svc.GetStorageUsage(r.Context(), ownerID)
	if err != nil {
		h.renderServiceError(w, r, err)
		return
	}
	render.JSON(w, r, UsageResponse{UsedBytes: used})
}

// fetchOwnedBook loads the book from the path id and enforces that the caller
// owns it. Books owned by others are reported as not found.
func (h *BooksHandler) fetchOwnedBook(w http.ResponseWriter, r *http.Request) (*bookvault.Book, bool) {
	ownerID, ok := h.ownerID(w, r)
	if !ok {
		return nil, false
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid book ID")
		return nil, false
	}

	book, err := h.svc.GetBook(r.Context(), id)
	if err != nil {
		h.renderServiceError(w, r, err)
		return nil, false
	}
	if book.OwnerID != ownerID {
		h.writeError(w, r, http.StatusNotFound, "book not found")
		return nil, false
	}

	return book, true
}

// ownerID resolves the caller's identity from the JWT "sub" claim, falling
// back to the owner_id query parameter when no token is present (development
// mode, no JWT_SECRET configured).
func (h *BooksHandler) ownerID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	if _, claims, err := jwtauth.FromContext(r.Context()); err == nil {
		if sub, ok := claims["sub"].(string); ok && sub != "" {
			id, err := uuid.Parse(sub)
			if err != nil {
				h.writeError(w, r, http.StatusUnauthorized, "invalid subject claim")
				return uuid.Nil, false
			}
			return id, true
		}
	}

	raw := r.URL.Query().Get("owner_id")
	if raw == "" {
		raw = r.FormValue("owner_id")
	}
	if raw == "" {
		h.writeError(w, r, http.StatusUnauthorized, "missing owner identity")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid owner ID")
		return uuid.Nil, false
	}
	return id, true
}

// renderServiceError maps domain errors onto HTTP status codes.
func (h *BooksHandler) renderServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, bookvault.ErrBookNotFound):
		h.writeError(w, r, http.StatusNotFound, "book not found")
	case errors.Is(err, bookvault.ErrCoverNotReady):
		h.writeError(w, r, http.StatusNotFound, "cover not ready")
	case errors.Is(err, bookvault.ErrUnsupportedFormat):
		h.writeError(w, r, http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, bookvault.ErrInvalidFile):
		h.writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, bookvault.ErrQuotaExceeded):
		h.writeError(w, r, http.StatusRequestEntityTooLarge, "storage quota exceeded")
	case errors.Is(err, bookvault.ErrStorageUnavailable):
		h.writeError(w, r, http.StatusServiceUnavailable, "storage unavailable")
	default:
		h.logger.Error("request failed", "path", r.URL.Path, "error", err)
		h.writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func (h *BooksHandler) writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: msg})
}
