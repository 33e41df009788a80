package handler

import (
	"io"
	"net/http"

	"github.com/proxtag/proxtag/internal/service"
)

// maxImportBytes bounds the size of an uploaded rule document.
const maxImportBytes = 4 << 20

// TransferHandler handles rule export and import.
type TransferHandler struct {
	rules *service.RuleService
}

// NewTransferHandler creates a new TransferHandler.
func NewTransferHandler(rules *service.RuleService) *TransferHandler {
	return &TransferHandler{rules: rules}
}

// Export returns all rules as a portable JSON document.
func (h *TransferHandler) Export(w http.ResponseWriter, r *http.Request) {
	doc, err := h.rules.Export(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}

	w.Header().Set("Content-Disposition", `attachment; filename="proxtag-rules.json"`)
	respondJSON(w, http.StatusOK, doc)
}

// Import loads rules from an exported document. Duplicate names are
// skipped and per-rule failures do not abort the batch.
func (h *TransferHandler) Import(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxImportBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "reading request body")
		return
	}

	result, err := h.rules.Import(r.Context(), body)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}
