package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/garlicbreadcleric/increadable/internal/bookfile"
	"github.com/garlicbreadcleric/increadable/internal/domain"
	"github.com/garlicbreadcleric/increadable/internal/middleware"
	"github.com/garlicbreadcleric/increadable/internal/usecases"
)

// maxUploadMemory is the part of a multipart upload kept in memory
const maxUploadMemory = 32 << 20

// DocumentHandler handles HTTP requests for documents
type DocumentHandler struct {
	usecase         *usecases.DocumentUsecase
	annotationProxy string
	logger          *zap.Logger
}

// NewDocumentHandler creates a new document handler. annotationProxy prefixes
// the read URL of uploaded PDFs.
func NewDocumentHandler(usecase *usecases.DocumentUsecase, annotationProxy string, logger *zap.Logger) *DocumentHandler {
	return &DocumentHandler{
		usecase:         usecase,
		annotationProxy: annotationProxy,
		logger:          logger,
	}
}

// uploadResponse is the uploaded document plus where to open it
type uploadResponse struct {
	*domain.Document
	ReadURL string `json:"readUrl"`
}

// Routes registers the document API under r
func (h *DocumentHandler) Routes(r chi.Router) {
	r.Get("/", h.ListDocuments)
	r.Post("/", h.UploadDocument)
	r.Get("/{id}", h.GetDocument)
	r.Put("/{id}", h.UpdateDocument)
	r.Delete("/{id}", h.DeleteDocument)
}

// ListDocuments handles GET /api/documents?order=id|title&type=ebook|pdf
func (h *DocumentHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	query := r.URL.Query()

	var (
		docs []*domain.Document
		err  error
	)
	if t := query.Get("type"); t != "" {
		docType := domain.DocumentType(t)
		if !docType.Valid() {
			respondFailure(w, h.logger, r, "list", &domain.ValidationError{Field: "type", Message: "must be ebook or pdf"})
			return
		}
		docs, err = h.usecase.FindByType(ctx, docType)
	} else {
		docs, err = h.usecase.FindAll(ctx, usecases.ParseListOrder(query.Get("order")))
	}
	if err != nil {
		respondFailure(w, h.logger, r, "list", err)
		return
	}

	// Listings stay small: the preview markup is served by the reading view.
	for _, doc := range docs {
		doc.PreviewMarkup = ""
	}

	respondJSON(w, h.logger, http.StatusOK, map[string]interface{}{
		"data":  docs,
		"total": len(docs),
	}, requestID)
}

// UploadDocument handles POST /api/documents with a multipart "file" field
func (h *DocumentHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		respondFailure(w, h.logger, r, "upload", &domain.ValidationError{Field: "file", Message: "multipart form expected"})
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		respondFailure(w, h.logger, r, "upload", &domain.ValidationError{Field: "file", Message: "is required"})
		return
	}
	defer file.Close()

	if bookfile.IsEPUB(header.Filename) {
		if _, err := bookfile.InspectReader(file, header.Size); err != nil {
			respondFailure(w, h.logger, r, "upload", err)
			return
		}
	}

	doc, err := h.usecase.Upload(ctx, header.Filename, file)
	if err != nil {
		respondFailure(w, h.logger, r, "upload", err)
		return
	}

	readURL := usecases.ReadURL(doc, h.annotationProxy)
	h.logger.Info("document uploaded",
		zap.String("request_id", requestID),
		zap.String("id", doc.ID),
		zap.String("filename", header.Filename),
	)
	w.Header().Set("Location", readURL)
	respondJSON(w, h.logger, http.StatusCreated, uploadResponse{Document: doc, ReadURL: readURL}, requestID)
}

// GetDocument handles GET /api/documents/{id}
func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	doc, err := h.usecase.FindByID(ctx, chi.URLParam(r, "id"))
	if err != nil {
		respondFailure(w, h.logger, r, "get", err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, doc, requestID)
}

// UpdateDocument handles PUT /api/documents/{id}
func (h *DocumentHandler) UpdateDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	id := chi.URLParam(r, "id")

	var doc domain.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		respondFailure(w, h.logger, r, "update", &domain.ValidationError{Field: "body", Message: "invalid JSON"})
		return
	}

	if err := h.usecase.Update(ctx, id, &doc); err != nil {
		respondFailure(w, h.logger, r, "update", err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, doc, requestID)
}

// DeleteDocument handles DELETE /api/documents/{id}
func (h *DocumentHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	if err := h.usecase.Remove(ctx, chi.URLParam(r, "id")); err != nil {
		respondFailure(w, h.logger, r, "delete", err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, map[string]string{"message": "document deleted"}, requestID)
}
