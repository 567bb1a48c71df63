package handler

import (
	"net/http"
	"strconv"

	"github.com/grantline-io/be-grants/internal/errors"
	"github.com/grantline-io/be-grants/internal/logger"
	"github.com/grantline-io/be-grants/internal/repository"
)

// AuditHandler exposes the read side of the audit log.
type AuditHandler struct {
	audit *repository.AuditRepository
	log   *logger.Logger
}

// NewAuditHandler creates a new audit handler.
func NewAuditHandler(audit *repository.AuditRepository, log *logger.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, log: log}
}

// GetByEntity handles GET /api/v1/audit. Filters by (entity_type, entity_id)
// or by actor_id.
func (h *AuditHandler) GetByEntity(w http.ResponseWriter, r *http.Request) {
	entityType := r.URL.Query().Get("entity_type")
	entityID := r.URL.Query().Get("entity_id")
	actorID := r.URL.Query().Get("actor_id")

	switch {
	case entityType != "" && entityID != "":
		entries, err := h.audit.GetByEntity(r.Context(), entityType, entityID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
	case actorID != "":
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit < 1 || limit > 500 {
			limit = 100
		}
		entries, err := h.audit.GetByActor(r.Context(), actorID, limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
	default:
		writeError(w, errors.InvalidInput("query", "entity_type+entity_id or actor_id is required"))
	}
}
