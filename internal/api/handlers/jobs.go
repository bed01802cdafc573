package handlers

import (
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-import/internal/api/middleware"
	"github.com/dvloznov/statement-import/internal/domain"
	"github.com/dvloznov/statement-import/internal/jobs"
)

// JobsHandler serves parse job status.
type JobsHandler struct {
	store jobs.JobStore
	log   zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		store: store,
		log:   log,
	}
}

// Register adds the job routes to mux.
func (h *JobsHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/jobs", h.ListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", h.GetJob)
}

// GetJob handles GET /api/jobs/{id}. Jobs of other users are reported as
// missing.
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	jobID := r.PathValue("id")

	job, err := h.store.GetJob(r.Context(), jobID)
	if err == nil && job.UserID != userID {
		err = &domain.NotFoundError{Kind: "job", ID: jobID}
	}
	if err != nil {
		writeErr(w, h.log, err, "Failed to get job")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs?upload_id=&status=&limit=&offset=.
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	filter := jobs.JobFilter{
		UserID:   userID,
		UploadID: query.Get("upload_id"),
		Status:   jobs.JobStatus(query.Get("status")),
	}
	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}
	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		writeErr(w, h.log, err, "Failed to list jobs")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}
