package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/waste-rewards/internal/apperror"
	"github.com/sakif/waste-rewards/internal/model"
	"github.com/sakif/waste-rewards/internal/repository"
)

const (
	MaxNotificationLength = 500
	notifyTimeout         = 2 * time.Second
)

// Notifier records user-facing notifications. Delivery happens elsewhere.
type Notifier struct {
	repo   repository.NotificationRepository
	logger *slog.Logger
}

func NewNotifier(repo repository.NotificationRepository, logger *slog.Logger) *Notifier {
	return &Notifier{repo: repo, logger: logger}
}

// Notify stores a new unread notification for userID.
func (n *Notifier) Notify(ctx context.Context, userID, message, typ string) (*model.Notification, error) {
	userID = strings.TrimSpace(userID)
	message = strings.TrimSpace(message)
	if userID == "" {
		return nil, apperror.ValidationFailed("userId", "user ID is required")
	}
	if message == "" {
		return nil, apperror.ValidationFailed("message", "notification message is required")
	}
	if len(message) > MaxNotificationLength {
		return nil, apperror.ValidationFailed("message",
			fmt.Sprintf("notification message must be %d characters or less", MaxNotificationLength))
	}
	if typ == "" {
		typ = model.NotificationReward
	}

	notification := &model.Notification{UserID: userID, Message: message, Type: typ}
	if err := n.repo.CreateNotification(ctx, notification); err != nil {
		return nil, fmt.Errorf("creating notification for user %s: %w", userID, err)
	}
	return notification, nil
}

// notifyAfterCommit is how the engine reports a committed ledger event.
//
// FAIL OPEN:
// The balance change is already durable when this runs, so a failure here
// is logged and swallowed. The write is detached from the caller's context:
// a client that hangs up right after the commit still gets its notification.
func (n *Notifier) notifyAfterCommit(ctx context.Context, userID, message string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	if _, err := n.Notify(ctx, userID, message, model.NotificationReward); err != nil {
		n.logger.Error("notification failed",
			slog.String("userID", userID),
			slog.String("message", message),
			slog.String("error", err.Error()),
		)
	}
}

// ListForUser returns a user's notifications, newest first.
func (n *Notifier) ListForUser(ctx context.Context, userID string, unreadOnly bool) ([]model.Notification, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperror.ValidationFailed("userId", "user ID is required")
	}

	list, err := n.repo.ListNotifications(ctx, userID, unreadOnly)
	if err != nil {
		return nil, fmt.Errorf("listing notifications for user %s: %w", userID, err)
	}
	return list, nil
}

// MarkRead flips the read flag on one of userID's notifications. Someone
// else's notification id is reported as not found.
func (n *Notifier) MarkRead(ctx context.Context, userID, notificationID string) (*model.Notification, error) {
	userID = strings.TrimSpace(userID)
	notificationID = strings.TrimSpace(notificationID)
	if userID == "" {
		return nil, apperror.ValidationFailed("userId", "user ID is required")
	}
	if notificationID == "" {
		return nil, apperror.ValidationFailed("id", "notification ID is required")
	}

	return n.repo.MarkNotificationRead(ctx, userID, notificationID)
}
