package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ukydev/fleet-maintenance/internal/db"
)

// NotificationHandler registers device tokens for push notifications.
type NotificationHandler struct {
	users db.UserCollection
}

// NewNotificationHandler creates a notification handler.
func NewNotificationHandler(users db.UserCollection) *NotificationHandler {
	return &NotificationHandler{users: users}
}

// Subscribe stores an FCM token for the caller.
func (h *NotificationHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	claims, ok := caller(w, r)
	if !ok {
		return
	}
	var in struct {
		Token string `json:"token" validate:"notblank"`
	}
	if !decodeValid(w, r, &in) {
		return
	}
	err := h.users.AddPushToken(r.Context(), claims.UserID, strings.TrimSpace(in.Token))
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "User not found")
		return
	}
	if err != nil {
		writeStoreError(w, err, "Failed to store device token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Subscribed"})
}
