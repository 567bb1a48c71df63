package handler

import (
	"encoding/json"
	"net/http"

	"github.com/grantline-io/be-grants/internal/errors"
	"github.com/grantline-io/be-grants/internal/logger"
	"github.com/grantline-io/be-grants/internal/repository"
	"github.com/grantline-io/be-grants/internal/service"
	"github.com/grantline-io/be-grants/internal/workflow"
)

// BudgetHandler handles budget HTTP requests.
type BudgetHandler struct {
	service *service.BudgetService
	log     *logger.Logger
}

// NewBudgetHandler creates a new budget handler.
func NewBudgetHandler(service *service.BudgetService, log *logger.Logger) *BudgetHandler {
	return &BudgetHandler{service: service, log: log}
}

// Create handles POST /api/v1/budgets.
func (h *BudgetHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.CreateBudgetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.InvalidInput("body", "invalid request body"))
		return
	}
	req.CreatedBy = r.Header.Get("X-User-ID")

	budget, err := h.service.CreateDraft(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, budget)
}

// Get handles GET /api/v1/budgets/{id}.
func (h *BudgetHandler) Get(w http.ResponseWriter, r *http.Request) {
	budget, err := h.service.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, budget)
}

// List handles GET /api/v1/budgets.
func (h *BudgetHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		writeError(w, errors.InvalidInput("tenant_id", "tenant is required"))
		return
	}

	limit, offset := pagination(r)
	budgets, err := h.service.List(r.Context(), tenantID,
		optionalQuery(r, "project_id"), optionalQuery(r, "status"), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"budgets": budgets,
		"limit":   limit,
		"offset":  offset,
	})
}

// Update handles PUT /api/v1/budgets/{id}. Only DRAFT budgets are mutable.
func (h *BudgetHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title       string         `json:"title"`
		Rules       map[string]any `json:"rules"`
		TotalAmount int64          `json:"total_amount"`
		Currency    string         `json:"currency"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.InvalidInput("body", "invalid request body"))
		return
	}

	actorID := r.Header.Get("X-User-ID")
	budget := &repository.Budget{
		ID:          r.PathValue("id"),
		Title:       req.Title,
		Rules:       req.Rules,
		TotalAmount: req.TotalAmount,
		Currency:    req.Currency,
		UpdatedBy:   &actorID,
	}
	if err := h.service.UpdateDraft(r.Context(), budget); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, budget)
}

// Submit handles POST /api/v1/budgets/{id}/submit.
func (h *BudgetHandler) Submit(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "budget.submit", func(meta service.ActionMeta) (*workflow.Result, error) {
		return h.service.Submit(r.Context(), r.PathValue("id"), meta)
	})
}

// RequestRevision handles POST /api/v1/budgets/{id}/request-revision.
func (h *BudgetHandler) RequestRevision(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		Comment string `json:"comment"`
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, errors.InvalidInput("body", "invalid request body"))
			return
		}
	}

	meta, err := actionMeta(r, "budget.request_revision", body)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.service.RequestRevision(r.Context(), r.PathValue("id"), meta, req.Comment)
	if err != nil {
		writeError(w, err)
		return
	}
	writeRaw(w, http.StatusOK, result.Response)
}

// Reopen handles POST /api/v1/budgets/{id}/reopen.
func (h *BudgetHandler) Reopen(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "budget.reopen", func(meta service.ActionMeta) (*workflow.Result, error) {
		return h.service.Reopen(r.Context(), r.PathValue("id"), meta)
	})
}

// Close handles POST /api/v1/budgets/{id}/close.
func (h *BudgetHandler) Close(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "budget.close", func(meta service.ActionMeta) (*workflow.Result, error) {
		return h.service.Close(r.Context(), r.PathValue("id"), meta)
	})
}

// transition runs a body-less workflow action and writes its raw response.
func (h *BudgetHandler) transition(w http.ResponseWriter, r *http.Request, actionKey string, fn func(service.ActionMeta) (*workflow.Result, error)) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	meta, err := actionMeta(r, actionKey, body)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := fn(meta)
	if err != nil {
		writeError(w, err)
		return
	}
	writeRaw(w, http.StatusOK, result.Response)
}
