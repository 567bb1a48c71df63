package handler

import (
	"encoding/json"
	"net/http"

	"github.com/grantline-io/be-grants/internal/errors"
	"github.com/grantline-io/be-grants/internal/logger"
	"github.com/grantline-io/be-grants/internal/service"
	"github.com/grantline-io/be-grants/internal/workflow"
)

// ContractHandler handles contract HTTP requests.
type ContractHandler struct {
	service *service.ContractService
	log     *logger.Logger
}

// NewContractHandler creates a new contract handler.
func NewContractHandler(service *service.ContractService, log *logger.Logger) *ContractHandler {
	return &ContractHandler{service: service, log: log}
}

// Create handles POST /api/v1/contracts.
func (h *ContractHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.CreateContractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.InvalidInput("body", "invalid request body"))
		return
	}
	req.CreatedBy = r.Header.Get("X-User-ID")

	contract, err := h.service.Create(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, contract)
}

// Get handles GET /api/v1/contracts/{id}.
func (h *ContractHandler) Get(w http.ResponseWriter, r *http.Request) {
	contract, err := h.service.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, contract)
}

// List handles GET /api/v1/contracts.
func (h *ContractHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		writeError(w, errors.InvalidInput("tenant_id", "tenant is required"))
		return
	}

	limit, offset := pagination(r)
	contracts, err := h.service.List(r.Context(), tenantID,
		optionalQuery(r, "budget_id"), optionalQuery(r, "status"), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"contracts": contracts,
		"limit":     limit,
		"offset":    offset,
	})
}

// Generate handles POST /api/v1/contracts/{id}/generate.
func (h *ContractHandler) Generate(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		DocumentKey string `json:"document_key"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, errors.InvalidInput("body", "invalid request body"))
		return
	}

	meta, err := actionMeta(r, "contract.generate", body)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.service.Generate(r.Context(), r.PathValue("id"), req.DocumentKey, meta)
	if err != nil {
		writeError(w, err)
		return
	}
	writeRaw(w, http.StatusOK, result.Response)
}

// SubmitApproval handles POST /api/v1/contracts/{id}/submit-approval.
func (h *ContractHandler) SubmitApproval(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "contract.submit_approval", func(meta service.ActionMeta) (*workflow.Result, error) {
		return h.service.SubmitApproval(r.Context(), r.PathValue("id"), meta)
	})
}

// SendForSign handles POST /api/v1/contracts/{id}/send-for-sign.
func (h *ContractHandler) SendForSign(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "contract.send_for_sign", func(meta service.ActionMeta) (*workflow.Result, error) {
		return h.service.SendForSign(r.Context(), r.PathValue("id"), meta)
	})
}

// Sign handles POST /api/v1/contracts/{id}/sign.
func (h *ContractHandler) Sign(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "contract.sign", func(meta service.ActionMeta) (*workflow.Result, error) {
		return h.service.Sign(r.Context(), r.PathValue("id"), meta)
	})
}

// Activate handles POST /api/v1/contracts/{id}/activate.
func (h *ContractHandler) Activate(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "contract.activate", func(meta service.ActionMeta) (*workflow.Result, error) {
		return h.service.Activate(r.Context(), r.PathValue("id"), meta)
	})
}

// Cancel handles POST /api/v1/contracts/{id}/cancel.
func (h *ContractHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, errors.InvalidInput("body", "invalid request body"))
			return
		}
	}

	meta, err := actionMeta(r, "contract.cancel", body)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.service.Cancel(r.Context(), r.PathValue("id"), meta, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeRaw(w, http.StatusOK, result.Response)
}

func (h *ContractHandler) transition(w http.ResponseWriter, r *http.Request, actionKey string, fn func(service.ActionMeta) (*workflow.Result, error)) {
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
