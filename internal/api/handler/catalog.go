package handler

import (
	"net/http"

	"github.com/proxtag/proxtag/internal/catalog"
)

// CatalogHandler serves the property catalog used to build conditions.
type CatalogHandler struct{}

// NewCatalogHandler creates a new CatalogHandler.
func NewCatalogHandler() *CatalogHandler {
	return &CatalogHandler{}
}

// Properties lists every queryable property with its type, description and
// the operators valid for it.
func (h *CatalogHandler) Properties(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"properties": catalog.Properties(),
		"operators":  catalog.Operators(),
	})
}
