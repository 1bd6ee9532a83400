package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/garlicbreadcleric/increadable/internal/domain"
	"github.com/garlicbreadcleric/increadable/internal/middleware"
	"github.com/garlicbreadcleric/increadable/internal/reader"
	"github.com/garlicbreadcleric/increadable/internal/usecases"
)

// ReaderHandler serves the library index and the reading view
type ReaderHandler struct {
	library *usecases.LibraryUsecase
	reading *usecases.ReadingUsecase
	logger  *zap.Logger
}

// NewReaderHandler creates a new reader handler
func NewReaderHandler(library *usecases.LibraryUsecase, reading *usecases.ReadingUsecase, logger *zap.Logger) *ReaderHandler {
	return &ReaderHandler{
		library: library,
		reading: reading,
		logger:  logger,
	}
}

// Routes registers the per-document reading API under r
func (h *ReaderHandler) Routes(r chi.Router) {
	r.Get("/{id}/toc", h.TOC)
	r.Post("/{id}/scroll", h.Scroll)
	r.Get("/{id}/bookmarks", h.ListBookmarks)
	r.Post("/{id}/bookmarks", h.AddBookmark)
	r.Delete("/{id}/bookmarks/{bookmarkId}", h.RemoveBookmark)
}

// Index handles GET /?order=id|title
func (h *ReaderHandler) Index(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	summaries, err := h.library.Summaries(ctx, usecases.ParseListOrder(r.URL.Query().Get("order")))
	if err != nil {
		respondFailure(w, h.logger, r, "index", err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, map[string]interface{}{
		"documents": summaries,
		"total":     len(summaries),
	}, requestID)
}

// Book handles GET /book/{id}?order=location|newest|oldest
func (h *ReaderHandler) Book(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	view, err := h.reading.View(ctx, chi.URLParam(r, "id"), reader.ParseSortOrder(r.URL.Query().Get("order")))
	if err != nil {
		respondFailure(w, h.logger, r, "book", err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, view, requestID)
}

// TOC handles GET /api/documents/{id}/toc
func (h *ReaderHandler) TOC(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	toc, err := h.reading.TOC(ctx, chi.URLParam(r, "id"))
	if err != nil {
		respondFailure(w, h.logger, r, "toc", err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, map[string]interface{}{"toc": toc}, requestID)
}

// Scroll handles POST /api/documents/{id}/scroll with a Geometry body
func (h *ReaderHandler) Scroll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	var g domain.Geometry
	if err := json.NewDecoder(r.Body).Decode(&g); err != nil {
		respondFailure(w, h.logger, r, "scroll", &domain.ValidationError{Field: "body", Message: "invalid geometry"})
		return
	}

	pos, ok, err := h.reading.Scroll(ctx, chi.URLParam(r, "id"), g)
	if err != nil {
		respondFailure(w, h.logger, r, "scroll", err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, map[string]interface{}{
		"position":  pos,
		"throttled": !ok,
	}, requestID)
}

// ListBookmarks handles GET /api/documents/{id}/bookmarks?order=
func (h *ReaderHandler) ListBookmarks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	marks, err := h.reading.Bookmarks(ctx, chi.URLParam(r, "id"), reader.ParseSortOrder(r.URL.Query().Get("order")))
	if err != nil {
		respondFailure(w, h.logger, r, "bookmarks", err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, map[string]interface{}{"bookmarks": marks}, requestID)
}

// AddBookmark handles POST /api/documents/{id}/bookmarks
func (h *ReaderHandler) AddBookmark(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	bookmark, err := h.reading.AddBookmark(ctx, chi.URLParam(r, "id"))
	if err != nil {
		respondFailure(w, h.logger, r, "add_bookmark", err)
		return
	}

	respondJSON(w, h.logger, http.StatusCreated, bookmark, requestID)
}

// RemoveBookmark handles DELETE /api/documents/{id}/bookmarks/{bookmarkId}
func (h *ReaderHandler) RemoveBookmark(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	if err := h.reading.RemoveBookmark(ctx, chi.URLParam(r, "id"), chi.URLParam(r, "bookmarkId")); err != nil {
		respondFailure(w, h.logger, r, "remove_bookmark", err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, map[string]string{"message": "bookmark removed"}, requestID)
}
