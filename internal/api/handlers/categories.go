package handlers

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-import/internal/api/middleware"
	"github.com/dvloznov/statement-import/internal/parsing"
)

// CategoriesHandler lists the categories a user can pick during review.
type CategoriesHandler struct {
	source parsing.CategorySource
	log    zerolog.Logger
}

// NewCategoriesHandler creates a new categories handler.
func NewCategoriesHandler(source parsing.CategorySource, log zerolog.Logger) *CategoriesHandler {
	return &CategoriesHandler{source: source, log: log}
}

// Register adds the category routes to mux.
func (h *CategoriesHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/categories", h.ListCategories)
}

type categoryView struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ListCategories handles GET /api/categories.
func (h *CategoriesHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.source.ListCategories(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list categories")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list categories")
		return
	}

	views := make([]categoryView, 0, len(cats))
	for _, c := range cats {
		views = append(views, categoryView{ID: string(c.ID), Name: c.Name})
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"categories": views,
		"count":      len(views),
	})
}
