package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-import/internal/api/middleware"
	"github.com/dvloznov/statement-import/internal/domain"
	"github.com/dvloznov/statement-import/internal/gcsuploader"
	"github.com/dvloznov/statement-import/internal/jobs"
)

// DefaultMaxUploadBytes caps statement files.
const DefaultMaxUploadBytes = 20 << 20

// Importer is the coordinator surface the handlers drive.
type Importer interface {
	StartUpload(ctx context.Context, userID, fileName, documentURI string) (*domain.StatementUpload, error)
	BeginParsing(ctx context.Context, userID, uploadID string) error
	Fail(ctx context.Context, userID, uploadID, reason string) error
	GetUpload(ctx context.Context, userID, uploadID string) (domain.UploadDetail, error)
	ListUploads(ctx context.Context, userID string) ([]domain.UploadSummary, error)
	SetConfirmedCategory(ctx context.Context, userID, uploadID, transactionID string, categoryID domain.CategoryID) error
	Confirm(ctx context.Context, userID, uploadID string) (*domain.StatementImportConfirmedEvent, error)
	Cancel(ctx context.Context, userID, uploadID string) error
}

// FileTypes reports which file names a parser exists for.
type FileTypes interface {
	Supports(fileName string) bool
}

// UploadsHandler serves /api/uploads.
type UploadsHandler struct {
	importer  Importer
	documents gcsuploader.DocumentStore
	publisher jobs.Publisher
	fileTypes FileTypes
	maxBytes  int64
	log       zerolog.Logger
}

// NewUploadsHandler creates an uploads handler. fileTypes may be nil.
func NewUploadsHandler(importer Importer, documents gcsuploader.DocumentStore, publisher jobs.Publisher, fileTypes FileTypes, log zerolog.Logger) *UploadsHandler {
	return &UploadsHandler{
		importer:  importer,
		documents: documents,
		publisher: publisher,
		fileTypes: fileTypes,
		maxBytes:  DefaultMaxUploadBytes,
		log:       log,
	}
}

// Register adds the upload routes to mux.
func (h *UploadsHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/uploads", h.CreateUpload)
	mux.HandleFunc("GET /api/uploads", h.ListUploads)
	mux.HandleFunc("GET /api/uploads/{id}", h.GetUpload)
	mux.HandleFunc("PUT /api/uploads/{id}/transactions/{txId}/category", h.SetCategory)
	mux.HandleFunc("POST /api/uploads/{id}/confirm", h.Confirm)
	mux.HandleFunc("POST /api/uploads/{id}/cancel", h.Cancel)
}

// CreateUpload handles POST /api/uploads (multipart field "file").
// The file is stored first, then the upload is created, moved to Parsing
// and a parse job is queued.
func (h *UploadsHandler) CreateUpload(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	fileName := filepath.Base(header.Filename)
	if h.fileTypes != nil && !h.fileTypes.Supports(fileName) {
		middleware.WriteError(w, http.StatusBadRequest, fmt.Sprintf("unsupported file type %q", filepath.Ext(fileName)))
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Failed to read file")
		return
	}
	if len(data) == 0 {
		middleware.WriteError(w, http.StatusBadRequest, "File is empty")
		return
	}

	uri, err := h.documents.Put(ctx, userID, fileName, data)
	if err != nil {
		h.log.Error().Err(err).Str("file_name", fileName).Msg("Failed to store document")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to store document")
		return
	}

	upload, err := h.importer.StartUpload(ctx, userID, fileName, uri)
	if err != nil {
		writeErr(w, h.log, err, "Failed to create upload")
		return
	}
	if err := h.importer.BeginParsing(ctx, userID, upload.ID); err != nil {
		writeErr(w, h.log, err, "Failed to start parsing")
		return
	}

	job := &jobs.ParseStatementJob{
		UploadID:    upload.ID,
		UserID:      userID,
		DocumentURI: uri,
		FileName:    fileName,
	}
	if err := h.publisher.PublishParseStatement(ctx, job); err != nil {
		h.log.Error().Err(err).Str("upload_id", upload.ID).Msg("Failed to enqueue parsing job")
		if failErr := h.importer.Fail(ctx, userID, upload.ID, "could not queue parsing: "+err.Error()); failErr != nil {
			h.log.Error().Err(failErr).Str("upload_id", upload.ID).Msg("Failed to mark upload as failed")
		}
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue parsing job")
		return
	}

	h.log.Info().
		Str("upload_id", upload.ID).
		Str("job_id", job.JobID).
		Int("bytes", len(data)).
		Msg("Statement accepted")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"upload_id": upload.ID,
		"job_id":    job.JobID,
		"status":    string(domain.StatusParsing),
	})
}

// ListUploads handles GET /api/uploads.
func (h *UploadsHandler) ListUploads(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	uploads, err := h.importer.ListUploads(r.Context(), userID)
	if err != nil {
		writeErr(w, h.log, err, "Failed to list uploads")
		return
	}
	if uploads == nil {
		uploads = []domain.UploadSummary{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"uploads": uploads,
		"count":   len(uploads),
	})
}

// GetUpload handles GET /api/uploads/{id}.
func (h *UploadsHandler) GetUpload(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	detail, err := h.importer.GetUpload(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeErr(w, h.log, err, "Failed to load upload")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, detail)
}

// SetCategory handles PUT /api/uploads/{id}/transactions/{txId}/category.
func (h *UploadsHandler) SetCategory(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req struct {
		CategoryID string `json:"category_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	uploadID := r.PathValue("id")
	err := h.importer.SetConfirmedCategory(r.Context(), userID, uploadID, r.PathValue("txId"), domain.CategoryID(req.CategoryID))
	if err != nil {
		writeErr(w, h.log, err, "Failed to set category")
		return
	}
	h.writeDetail(w, r, userID, uploadID, http.StatusOK)
}

// Confirm handles POST /api/uploads/{id}/confirm. A confirmation whose event
// could not be delivered is still committed and answered with 202.
func (h *UploadsHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	uploadID := r.PathValue("id")
	event, err := h.importer.Confirm(r.Context(), userID, uploadID)

	var delivery *domain.EventDeliveryError
	switch {
	case errors.As(err, &delivery):
		middleware.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
			"upload_id": uploadID,
			"status":    domain.StatusConfirmed,
			"event":     event,
			"warning":   delivery.Error(),
		})
	case err != nil:
		writeErr(w, h.log, err, "Failed to confirm upload")
	default:
		middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"upload_id": uploadID,
			"status":    domain.StatusConfirmed,
			"event":     event,
		})
	}
}

// Cancel handles POST /api/uploads/{id}/cancel.
func (h *UploadsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	uploadID := r.PathValue("id")
	if err := h.importer.Cancel(r.Context(), userID, uploadID); err != nil {
		writeErr(w, h.log, err, "Failed to cancel upload")
		return
	}
	h.writeDetail(w, r, userID, uploadID, http.StatusOK)
}

func (h *UploadsHandler) writeDetail(w http.ResponseWriter, r *http.Request, userID, uploadID string, status int) {
	detail, err := h.importer.GetUpload(r.Context(), userID, uploadID)
	if err != nil {
		writeErr(w, h.log, err, "Failed to load upload")
		return
	}
	middleware.WriteJSON(w, status, detail)
}
