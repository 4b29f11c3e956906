// Package model defines the data structures shared by the ledger layers.
// In Go, we use structs to represent our data — plain values with JSON tags,
// no behaviour beyond small derived helpers.
package model

import "time"

// User is an account resolved by the upstream identity provider.
//
// WHY Email AS THE NATURAL KEY?
// The login layer hands us a verified email, not our internal ID. The UNIQUE
// constraint on email lets registration be a single atomic get-or-create, so
// two browser tabs logging in at once can never produce two accounts.
// Users are never hard-deleted by the ledger.
type User struct {
	ID        string    `json:"id"        db:"id"`
	Email     string    `json:"email"     db:"email"`
	Name      string    `json:"name"      db:"name"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}
