package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/proxtag/proxtag/internal/domain"
	"github.com/proxtag/proxtag/internal/service"
)

const defaultHistoryLimit = 50

// RuleHandler handles rule endpoints.
type RuleHandler struct {
	rules *service.RuleService
}

// NewRuleHandler creates a new RuleHandler.
func NewRuleHandler(rules *service.RuleService) *RuleHandler {
	return &RuleHandler{rules: rules}
}

// Create creates a new rule.
func (h *RuleHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateRuleRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rule, err := h.rules.Create(r.Context(), &req)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, rule)
}

// List lists all rules.
func (h *RuleHandler) List(w http.ResponseWriter, r *http.Request) {
	rules, err := h.rules.List(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, rules)
}

// Get gets a rule by ID.
func (h *RuleHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "id is required")
		return
	}

	rule, err := h.rules.Get(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, rule)
}

// Update updates a rule.
func (h *RuleHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "id is required")
		return
	}

	var req domain.UpdateRuleRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rule, err := h.rules.Update(r.Context(), id, &req)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, rule)
}

// Delete deletes a rule. Execution history for the rule is kept.
func (h *RuleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "id is required")
		return
	}

	if err := h.rules.Delete(r.Context(), id); err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// Run executes a rule immediately against live inventory.
func (h *RuleHandler) Run(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, false)
}

// DryRun evaluates a rule without writing any tags.
func (h *RuleHandler) DryRun(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, true)
}

func (h *RuleHandler) run(w http.ResponseWriter, r *http.Request, dryRun bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "id is required")
		return
	}

	result, err := h.rules.Run(r.Context(), id, dryRun)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// History lists execution records for one rule, most recent first.
func (h *RuleHandler) History(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "id is required")
		return
	}

	// The rule itself may already be deleted; history survives deletion,
	// so no existence check here.
	records, err := h.rules.History(r.Context(), id, historyLimit(r))
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, records)
}

// GlobalHistory lists execution records across all rules, optionally
// filtered by ?rule=<id>.
func (h *RuleHandler) GlobalHistory(w http.ResponseWriter, r *http.Request) {
	records, err := h.rules.History(r.Context(), r.URL.Query().Get("rule"), historyLimit(r))
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, records)
}

func historyLimit(r *http.Request) int {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	return limit
}
