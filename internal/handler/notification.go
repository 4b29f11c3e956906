package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/waste-rewards/internal/model"
)

type Notifications interface {
	ListForUser(ctx context.Context, userID string, unreadOnly bool) ([]model.Notification, error)
	MarkRead(ctx context.Context, userID, notificationID string) (*model.Notification, error)
}

type NotificationHandler struct {
	notifications Notifications
	logger        *slog.Logger
}

func NewNotificationHandler(notifications Notifications, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{notifications: notifications, logger: logger}
}

// HandleList returns the user's notifications, newest first.
//
// HTTP: GET /api/users/{userID}/notifications?unread=true
func (h *NotificationHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	unreadOnly, err := queryBool(r, "unread")
	if err != nil {
		writeError(w, err)
		return
	}

	list, err := h.notifications.ListForUser(r.Context(), chi.URLParam(r, "userID"), unreadOnly)
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []model.Notification{}
	}
	writeJSON(w, http.StatusOK, list)
}

// HandleMarkRead flips one notification to read. Marking it twice is fine.
//
// HTTP: PATCH /api/users/{userID}/notifications/{notificationID}/read
func (h *NotificationHandler) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.notifications.MarkRead(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "notificationID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}
