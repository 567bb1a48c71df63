package handler

import (
	"encoding/json"
	"net/http"

	"github.com/grantline-io/be-grants/internal/errors"
	"github.com/grantline-io/be-grants/internal/logger"
	"github.com/grantline-io/be-grants/internal/service"
)

// ApprovalHandler handles approval HTTP requests.
type ApprovalHandler struct {
	service *service.ApprovalService
	log     *logger.Logger
}

// NewApprovalHandler creates a new approval handler.
func NewApprovalHandler(service *service.ApprovalService, log *logger.Logger) *ApprovalHandler {
	return &ApprovalHandler{service: service, log: log}
}

// Get handles GET /api/v1/approvals/{id}.
func (h *ApprovalHandler) Get(w http.ResponseWriter, r *http.Request) {
	a, err := h.service.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// ListPending handles GET /api/v1/approvals. Returns the pending queue for a
// reviewer role in a tenant.
func (h *ApprovalHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	role := r.URL.Query().Get("role")
	if tenantID == "" || role == "" {
		writeError(w, errors.InvalidInput("tenant_id", "tenant_id and role are required"))
		return
	}

	approvals, err := h.service.ListPendingForRole(r.Context(), tenantID, role)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"approvals": approvals})
}

// Decide handles POST /api/v1/approvals/{id}/decide.
func (h *ApprovalHandler) Decide(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		Decision string  `json:"decision"` // "approve" or "reject"
		Comment  *string `json:"comment,omitempty"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, errors.InvalidInput("body", "invalid request body"))
		return
	}

	var approve bool
	switch req.Decision {
	case "approve":
		approve = true
	case "reject":
		approve = false
	default:
		writeError(w, errors.InvalidInput("decision", "must be approve or reject"))
		return
	}

	actionKey := "approval.approve"
	if !approve {
		actionKey = "approval.reject"
	}
	meta, err := actionMeta(r, actionKey, body)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.service.Decide(r.Context(), r.PathValue("id"), approve, req.Comment, meta)
	if err != nil {
		writeError(w, err)
		return
	}
	writeRaw(w, http.StatusOK, result.Response)
}
