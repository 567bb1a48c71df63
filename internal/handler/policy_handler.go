package handler

import (
	"encoding/json"
	"net/http"

	"github.com/grantline-io/be-grants/internal/errors"
	"github.com/grantline-io/be-grants/internal/logger"
	"github.com/grantline-io/be-grants/internal/repository"
	"github.com/grantline-io/be-grants/internal/service"
)

// PolicyHandler handles approval policy administration.
type PolicyHandler struct {
	service *service.PolicyService
	log     *logger.Logger
}

// NewPolicyHandler creates a new policy handler.
func NewPolicyHandler(service *service.PolicyService, log *logger.Logger) *PolicyHandler {
	return &PolicyHandler{service: service, log: log}
}

type policyRequest struct {
	TenantID   string                  `json:"tenant_id"`
	EntityType string                  `json:"entity_type"`
	Scope      string                  `json:"scope"`
	Provider   string                  `json:"provider"`
	Config     repository.PolicyConfig `json:"config"`
	IsActive   bool                    `json:"is_active"`
	Priority   int                     `json:"priority"`
}

// Create handles POST /api/v1/policies.
func (h *PolicyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req policyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.InvalidInput("body", "invalid request body"))
		return
	}

	p := &repository.ApprovalPolicy{
		TenantID:   req.TenantID,
		EntityType: req.EntityType,
		Scope:      req.Scope,
		Provider:   req.Provider,
		Config:     req.Config,
		IsActive:   req.IsActive,
		Priority:   req.Priority,
	}
	if err := h.service.Create(r.Context(), p); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// Get handles GET /api/v1/policies/{id}.
func (h *PolicyHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// List handles GET /api/v1/policies.
func (h *PolicyHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	entityType := r.URL.Query().Get("entity_type")
	if tenantID == "" || entityType == "" {
		writeError(w, errors.InvalidInput("tenant_id", "tenant_id and entity_type are required"))
		return
	}

	activeOnly := r.URL.Query().Get("active") == "true"
	policies, err := h.service.List(r.Context(), tenantID, entityType, activeOnly)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"policies": policies})
}

// Update handles PUT /api/v1/policies/{id}.
func (h *PolicyHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req policyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.InvalidInput("body", "invalid request body"))
		return
	}

	p := &repository.ApprovalPolicy{
		ID:         r.PathValue("id"),
		TenantID:   req.TenantID,
		EntityType: req.EntityType,
		Scope:      req.Scope,
		Provider:   req.Provider,
		Config:     req.Config,
		IsActive:   req.IsActive,
		Priority:   req.Priority,
	}
	if err := h.service.Update(r.Context(), p); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Deactivate handles DELETE /api/v1/policies/{id}.
func (h *PolicyHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Deactivate(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
