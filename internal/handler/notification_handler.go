package handler

import (
	"net/http"
	"strconv"

	"github.com/grantline-io/be-grants/internal/errors"
	"github.com/grantline-io/be-grants/internal/logger"
	"github.com/grantline-io/be-grants/internal/repository"
)

// NotificationHandler exposes the in-app inbox.
type NotificationHandler struct {
	notif *repository.NotificationRepository
	log   *logger.Logger
}

// NewNotificationHandler creates a new notification handler.
func NewNotificationHandler(notif *repository.NotificationRepository, log *logger.Logger) *NotificationHandler {
	return &NotificationHandler{notif: notif, log: log}
}

// ListInbox handles GET /api/v1/notifications/inbox.
func (h *NotificationHandler) ListInbox(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	userID := r.URL.Query().Get("user_id")
	if tenantID == "" || userID == "" {
		writeError(w, errors.InvalidInput("query", "tenant_id and user_id are required"))
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 200 {
		limit = 50
	}

	messages, err := h.notif.ListInbox(r.Context(), tenantID, userID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}
