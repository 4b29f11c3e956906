package model

import "time"

// NotificationReward is the type used for every ledger-triggered notification.
const NotificationReward = "reward"

// Notification is a user-facing record created as a side effect of a ledger
// event. Flipping Read is the only mutation. Delivery is someone else's job.
type Notification struct {
	ID        string    `json:"id"        db:"id"`
	UserID    string    `json:"userId"    db:"user_id"`
	Message   string    `json:"message"   db:"message"`
	Type      string    `json:"type"      db:"type"`
	Read      bool      `json:"read"      db:"read"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}
