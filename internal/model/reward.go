package model

import "time"

// RewardItem is a redeemable catalog entry. Redeeming an item never
// mutates it; IsAvailable only gates eligibility.
type RewardItem struct {
	ID          string    `json:"id"          db:"id"           yaml:"id"`
	Name        string    `json:"name"        db:"name"         yaml:"name"`
	Description string    `json:"description" db:"description"  yaml:"description"`
	PointsCost  int64     `json:"pointsCost"  db:"points_cost"  yaml:"pointsCost"`
	IsAvailable bool      `json:"isAvailable" db:"is_available" yaml:"isAvailable"`
	CreatedAt   time.Time `json:"createdAt"   db:"created_at"   yaml:"-"`
	UpdatedAt   time.Time `json:"updatedAt"   db:"updated_at"   yaml:"-"`
}
